package auth

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"

	"golang.org/x/crypto/bcrypt"

	"github.com/agilemobiledev/errai/errors"
)

// userRecord is one parsed entry of the login properties file.
type userRecord struct {
	passwordHash string
	roles        []string
}

// FileValidator validates credentials against a properties-style user file.
// Each line reads
//
//	name=bcrypt-hash[,role1,role2,...]
//
// with '#' comments and blank lines ignored. The file is read once at
// construction; a missing or unparsable file fails construction so the
// enclosing service aborts startup instead of running without auth.
type FileValidator struct {
	path  string
	users map[string]userRecord
}

// NewFileValidator loads the user file at path.
func NewFileValidator(path string) (*FileValidator, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.WrapFatal(errors.ErrMissingLoginConfig, "FileValidator", "NewFileValidator", "open "+path)
		}
		return nil, errors.WrapFatal(err, "FileValidator", "NewFileValidator", "open "+path)
	}
	defer f.Close()

	users := make(map[string]userRecord)
	scanner := bufio.NewScanner(f)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		name, rest, ok := strings.Cut(line, "=")
		name = strings.TrimSpace(name)
		if !ok || name == "" {
			return nil, errors.WrapFatal(errors.ErrMalformedCredential, "FileValidator", "NewFileValidator",
				fmt.Sprintf("line %d of %s", lineNo, path))
		}

		fields := strings.Split(rest, ",")
		hash := strings.TrimSpace(fields[0])
		if !strings.HasPrefix(hash, "$2") {
			// Only bcrypt hashes are accepted; a plaintext password in the
			// user file is a configuration mistake, not a login failure.
			return nil, errors.WrapFatal(errors.ErrMalformedCredential, "FileValidator", "NewFileValidator",
				fmt.Sprintf("line %d of %s: password is not a bcrypt hash", lineNo, path))
		}

		var roles []string
		for _, role := range fields[1:] {
			if role = strings.TrimSpace(role); role != "" {
				roles = append(roles, role)
			}
		}
		users[name] = userRecord{passwordHash: hash, roles: roles}
	}
	if err := scanner.Err(); err != nil {
		return nil, errors.WrapFatal(err, "FileValidator", "NewFileValidator", "read "+path)
	}

	return &FileValidator{path: path, users: users}, nil
}

// Path returns the user file this validator was loaded from.
func (v *FileValidator) Path() string {
	return v.path
}

// Len returns the number of loaded user records.
func (v *FileValidator) Len() int {
	return len(v.users)
}

// Validate checks the credential pair against the loaded records. Unknown
// names and wrong passwords both come back as a rejection; only I/O-level
// trouble is an error, and bcrypt comparison has none.
func (v *FileValidator) Validate(_ context.Context, req CredentialRequest) (CredentialResult, error) {
	record, ok := v.users[req.Name]
	if !ok {
		// Burn a comparison anyway so unknown names cost the same as
		// wrong passwords.
		_ = bcrypt.CompareHashAndPassword(antiTimingHash, []byte(req.Password))
		return CredentialResult{}, nil
	}

	if err := bcrypt.CompareHashAndPassword([]byte(record.passwordHash), []byte(req.Password)); err != nil {
		return CredentialResult{}, nil
	}

	return CredentialResult{
		Accepted:  true,
		Principal: req.Name,
		Roles:     append([]string(nil), record.roles...),
	}, nil
}

// antiTimingHash is a fixed bcrypt hash compared against for unknown names,
// keeping rejection latency independent of name existence.
var antiTimingHash = func() []byte {
	h, err := bcrypt.GenerateFromPassword([]byte("errai-anti-timing"), bcrypt.MinCost)
	if err != nil {
		panic(err)
	}
	return h
}()

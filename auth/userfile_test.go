package auth

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/agilemobiledev/errai/errors"
)

func writeUserFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "users.properties")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func hashFor(t *testing.T, password string) string {
	t.Helper()
	h, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.MinCost)
	require.NoError(t, err)
	return string(h)
}

func TestNewFileValidator_MissingFile(t *testing.T) {
	_, err := NewFileValidator(filepath.Join(t.TempDir(), "absent.properties"))
	require.Error(t, err)
	assert.ErrorIs(t, err, errors.ErrMissingLoginConfig)
	assert.True(t, errors.IsFatal(err))
}

func TestNewFileValidator_Parsing(t *testing.T) {
	path := writeUserFile(t, `
# bus users
alice=`+hashFor(t, "correct")+`,Admin,Operator

bob=`+hashFor(t, "hunter2")+`
`)

	v, err := NewFileValidator(path)
	require.NoError(t, err)
	assert.Equal(t, 2, v.Len())
	assert.Equal(t, path, v.Path())
}

func TestNewFileValidator_RejectsPlaintext(t *testing.T) {
	path := writeUserFile(t, "alice=plaintext-password\n")

	_, err := NewFileValidator(path)
	require.Error(t, err)
	assert.ErrorIs(t, err, errors.ErrMalformedCredential)
}

func TestNewFileValidator_RejectsMissingSeparator(t *testing.T) {
	path := writeUserFile(t, "alice-no-separator\n")

	_, err := NewFileValidator(path)
	require.Error(t, err)
	assert.ErrorIs(t, err, errors.ErrMalformedCredential)
}

func TestFileValidator_Validate(t *testing.T) {
	path := writeUserFile(t, "alice="+hashFor(t, "correct")+",Admin\n")
	v, err := NewFileValidator(path)
	require.NoError(t, err)

	t.Run("accepted", func(t *testing.T) {
		result, err := v.Validate(context.Background(), CredentialRequest{Name: "alice", Password: "correct"})
		require.NoError(t, err)
		assert.True(t, result.Accepted)
		assert.Equal(t, "alice", result.Principal)
		assert.Equal(t, []string{"Admin"}, result.Roles)
	})

	t.Run("wrong password", func(t *testing.T) {
		result, err := v.Validate(context.Background(), CredentialRequest{Name: "alice", Password: "wrong"})
		require.NoError(t, err)
		assert.False(t, result.Accepted)
	})

	t.Run("unknown name", func(t *testing.T) {
		result, err := v.Validate(context.Background(), CredentialRequest{Name: "mallory", Password: "correct"})
		require.NoError(t, err)
		assert.False(t, result.Accepted)
	})
}

package relay

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agilemobiledev/errai/bus"
	"github.com/agilemobiledev/errai/errors"
	"github.com/agilemobiledev/errai/message"
)

// fakeService records stored messages without running a real dispatcher.
type fakeService struct {
	bus    *bus.Bus
	stored []*message.CommandMessage
	err    error
}

func (f *fakeService) Store(msg *message.CommandMessage) error {
	if f.err != nil {
		return f.err
	}
	f.stored = append(f.stored, msg)
	return nil
}

func (f *fakeService) GetBus() bus.MessageBus {
	return f.bus
}

func newTestRelay(t *testing.T) (*Relay, *fakeService) {
	t.Helper()
	b := bus.New()
	t.Cleanup(b.Close)
	svc := &fakeService{bus: b}
	r, err := New(Config{URL: "nats://localhost:4222", Name: "node-a"}, svc)
	require.NoError(t, err)
	return r, svc
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		config  Config
		wantErr bool
	}{
		{"missing URL", Config{Name: "node-a"}, true},
		{"missing name", Config{URL: "nats://localhost:4222"}, true},
		{"minimal valid", Config{URL: "nats://localhost:4222", Name: "node-a"}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.config.Validate()
			if tt.wantErr {
				assert.ErrorIs(t, err, errors.ErrMissingConfig)
				return
			}
			require.NoError(t, err)
		})
	}
}

func TestConfigValidate_Defaults(t *testing.T) {
	cfg := Config{URL: "nats://localhost:4222", Name: "node-a"}
	require.NoError(t, cfg.Validate())

	assert.Equal(t, "errai.bus.", cfg.SubjectPrefix)
	assert.Equal(t, -1, cfg.MaxReconnects)
	assert.Equal(t, 2*time.Second, cfg.ReconnectWait)
	assert.Equal(t, 5, cfg.ConnectAttempts)
}

func TestNew_RequiresService(t *testing.T) {
	_, err := New(Config{URL: "nats://localhost:4222", Name: "node-a"}, nil)
	require.Error(t, err)
	assert.True(t, errors.IsFatal(err))
}

func TestReceive_InjectsThroughService(t *testing.T) {
	r, svc := newTestRelay(t)

	msg := message.New("Orders", "remote-client").Set(message.MessageText, "restock")
	data, err := json.Marshal(msg)
	require.NoError(t, err)

	r.receive("Orders", data)

	require.Len(t, svc.stored, 1)
	assert.Equal(t, "Orders", svc.stored[0].Subject())
	assert.Equal(t, "restock", svc.stored[0].String(message.MessageText))
	// Federated messages arrive anonymous.
	assert.Nil(t, svc.stored[0].Session())
}

func TestReceive_RejectsSubjectMismatch(t *testing.T) {
	r, svc := newTestRelay(t)

	data, err := json.Marshal(message.New("Orders", "remote"))
	require.NoError(t, err)

	// A remote publishing Orders frames on the Inventory federation subject
	// must not smuggle them past subject-level rules.
	r.receive("Inventory", data)
	assert.Empty(t, svc.stored)
}

func TestReceive_DropsMalformedFrames(t *testing.T) {
	r, svc := newTestRelay(t)

	r.receive("Orders", []byte("not json"))
	r.receive("Orders", []byte(`{"parts":{}}`))
	assert.Empty(t, svc.stored)
}

func TestExport_StampsOrigin(t *testing.T) {
	r, _ := newTestRelay(t)

	msg := message.New("Orders", "local-client")
	r.export("Orders", msg)

	origin, ok := msg.Get(relaySource)
	require.True(t, ok)
	assert.Equal(t, "node-a", origin)
}

func TestExport_SkipsAlreadyRelayed(t *testing.T) {
	r, _ := newTestRelay(t)

	msg := message.New("Orders", "remote-client").Set(relaySource, "node-b")
	r.export("Orders", msg)

	// The origin stamp survives; the frame is not re-claimed by this node.
	origin, _ := msg.Get(relaySource)
	assert.Equal(t, "node-b", origin)
}

func TestStop_NotStarted(t *testing.T) {
	r, _ := newTestRelay(t)
	assert.NoError(t, r.Stop(time.Second))
}

func TestHealth_Stopped(t *testing.T) {
	r, _ := newTestRelay(t)
	status := r.Health()
	assert.True(t, status.IsUnhealthy())
	assert.False(t, r.Connected())
}

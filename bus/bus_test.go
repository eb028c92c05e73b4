package bus

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agilemobiledev/errai/errors"
	"github.com/agilemobiledev/errai/message"
)

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for !cond() {
		select {
		case <-deadline:
			t.Fatal("condition never satisfied")
		case <-time.After(2 * time.Millisecond):
		}
	}
}

func TestBus_SendDelivers(t *testing.T) {
	b := New()
	defer b.Close()

	var mu sync.Mutex
	var received []*message.CommandMessage
	_, err := b.Subscribe("AdminPanel", func(msg *message.CommandMessage) {
		mu.Lock()
		received = append(received, msg)
		mu.Unlock()
	})
	require.NoError(t, err)

	msg := message.New("AdminPanel", "test")
	require.NoError(t, b.Send("AdminPanel", msg))

	waitFor(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(received) == 1
	})
	assert.Equal(t, msg.ID(), received[0].ID())
}

func TestBus_SendMessage_UsesOwnSubject(t *testing.T) {
	b := New()
	defer b.Close()

	got := make(chan string, 1)
	_, err := b.Subscribe("LoginClient", func(msg *message.CommandMessage) {
		got <- msg.String(message.Name)
	})
	require.NoError(t, err)

	reply := message.New("LoginClient", "auth").Set(message.Name, "alice")
	require.NoError(t, b.SendMessage(reply))

	select {
	case name := <-got:
		assert.Equal(t, "alice", name)
	case <-time.After(2 * time.Second):
		t.Fatal("message never delivered")
	}
}

func TestBus_NoSubscribers(t *testing.T) {
	b := New()
	defer b.Close()

	err := b.Send("Nowhere", message.New("Nowhere", "test"))
	require.Error(t, err)
	assert.ErrorIs(t, err, errors.ErrNoSubscribers)
}

func TestBus_FIFOPerSubject(t *testing.T) {
	b := New()
	defer b.Close()

	const count = 200
	var mu sync.Mutex
	var order []int
	_, err := b.Subscribe("Ordered", func(msg *message.CommandMessage) {
		v, _ := msg.Get(message.Part("seq"))
		mu.Lock()
		order = append(order, v.(int))
		mu.Unlock()
	})
	require.NoError(t, err)

	for i := 0; i < count; i++ {
		require.NoError(t, b.Send("Ordered", message.New("Ordered", "sender-A").Set(message.Part("seq"), i)))
	}

	waitFor(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(order) == count
	})
	for i := 0; i < count; i++ {
		assert.Equal(t, i, order[i])
	}
}

func TestBus_MultipleSubscribersInOrder(t *testing.T) {
	b := New()
	defer b.Close()

	var mu sync.Mutex
	var calls []string
	for _, name := range []string{"first", "second"} {
		name := name
		_, err := b.Subscribe("Fanout", func(msg *message.CommandMessage) {
			mu.Lock()
			calls = append(calls, name)
			mu.Unlock()
		})
		require.NoError(t, err)
	}

	require.NoError(t, b.Send("Fanout", message.New("Fanout", "test")))

	waitFor(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(calls) == 2
	})
	assert.Equal(t, []string{"first", "second"}, calls)
}

func TestBus_Unsubscribe(t *testing.T) {
	b := New()
	defer b.Close()

	called := make(chan struct{}, 4)
	sub, err := b.Subscribe("Gone", func(msg *message.CommandMessage) {
		called <- struct{}{}
	})
	require.NoError(t, err)

	b.Unsubscribe(sub)

	err = b.Send("Gone", message.New("Gone", "test"))
	require.Error(t, err)
	assert.ErrorIs(t, err, errors.ErrNoSubscribers)
	assert.Empty(t, called)

	// Unsubscribing twice or passing nil is harmless.
	b.Unsubscribe(sub)
	b.Unsubscribe(nil)
}

func TestBus_QueueFull(t *testing.T) {
	b := New(WithQueueSize(1))
	defer b.Close()

	block := make(chan struct{})
	_, err := b.Subscribe("Slow", func(msg *message.CommandMessage) {
		<-block
	})
	require.NoError(t, err)

	// First message occupies the handler, second fills the queue.
	require.NoError(t, b.Send("Slow", message.New("Slow", "t")))
	time.Sleep(20 * time.Millisecond)
	require.NoError(t, b.Send("Slow", message.New("Slow", "t")))

	err = b.Send("Slow", message.New("Slow", "t"))
	require.Error(t, err)
	assert.ErrorIs(t, err, errors.ErrQueueFull)
	close(block)
}

func TestBus_SubscriberPanicContained(t *testing.T) {
	b := New()
	defer b.Close()

	delivered := make(chan struct{}, 1)
	_, err := b.Subscribe("Risky", func(msg *message.CommandMessage) {
		panic("handler bug")
	})
	require.NoError(t, err)
	_, err = b.Subscribe("Risky", func(msg *message.CommandMessage) {
		delivered <- struct{}{}
	})
	require.NoError(t, err)

	require.NoError(t, b.Send("Risky", message.New("Risky", "t")))

	select {
	case <-delivered:
	case <-time.After(2 * time.Second):
		t.Fatal("panic in one subscriber stopped delivery to the next")
	}
}

func TestBus_ClosedRejects(t *testing.T) {
	b := New()
	_, err := b.Subscribe("s", func(msg *message.CommandMessage) {})
	require.NoError(t, err)

	b.Close()

	err = b.Send("s", message.New("s", "t"))
	assert.ErrorIs(t, err, errors.ErrBusClosed)

	_, err = b.Subscribe("s2", func(msg *message.CommandMessage) {})
	assert.ErrorIs(t, err, errors.ErrBusClosed)

	// Close is idempotent.
	b.Close()
}

func TestBus_InvalidArguments(t *testing.T) {
	b := New()
	defer b.Close()

	_, err := b.Subscribe("", func(msg *message.CommandMessage) {})
	assert.ErrorIs(t, err, errors.ErrNoSubject)

	_, err = b.Subscribe("s", nil)
	assert.ErrorIs(t, err, errors.ErrInvalidData)

	assert.ErrorIs(t, b.Send("", message.New("s", "t")), errors.ErrNoSubject)
	assert.ErrorIs(t, b.Send("s", nil), errors.ErrInvalidData)
	assert.ErrorIs(t, b.SendMessage(nil), errors.ErrInvalidData)
}

func TestBus_SubjectsIndependent(t *testing.T) {
	b := New()
	defer b.Close()

	block := make(chan struct{})
	fast := make(chan struct{}, 1)

	_, err := b.Subscribe("Blocked", func(msg *message.CommandMessage) { <-block })
	require.NoError(t, err)
	_, err = b.Subscribe("Fast", func(msg *message.CommandMessage) { fast <- struct{}{} })
	require.NoError(t, err)

	require.NoError(t, b.Send("Blocked", message.New("Blocked", "t")))
	require.NoError(t, b.Send("Fast", message.New("Fast", "t")))

	select {
	case <-fast:
		// A stalled subject does not delay others.
	case <-time.After(2 * time.Second):
		t.Fatal("fast subject blocked behind slow subject")
	}
	close(block)
}

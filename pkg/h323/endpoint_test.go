package h323

import (
	"context"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/arzzra/h323/pkg/h225"
	"github.com/arzzra/h323/pkg/transport"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseDestination(t *testing.T) {
	tests := []struct {
		name        string
		dest        string
		wantAliases []h225.AliasAddress
		wantAddr    string
		wantErr     error
	}{
		{"пустая строка", "  ", nil, "", ErrBadDestination},
		{"только префикс", "h323:", nil, "", ErrBadDestination},
		{"адрес с портом", "192.168.1.10:1721", nil, "192.168.1.10:1721", nil},
		{"адрес без порта", "192.168.1.10", nil, "192.168.1.10:1720", nil},
		{"номер", "12345", []h225.AliasAddress{h225.NewDialedDigits("12345")}, "", nil},
		{"номер с адресом", "h323:2000@10.0.0.1", []h225.AliasAddress{h225.NewDialedDigits("2000")}, "10.0.0.1:1720", nil},
		{"имя с адресом и портом", "alice@10.0.0.1:1730", []h225.AliasAddress{h225.NewH323ID("alice")}, "10.0.0.1:1730", nil},
		{"имя", "bob", []h225.AliasAddress{h225.NewH323ID("bob")}, "", nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			aliases, addr, err := parseDestination(tt.dest)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantAliases, aliases)
			if tt.wantAddr == "" {
				assert.Nil(t, addr)
				return
			}
			require.NotNil(t, addr)
			assert.Equal(t, tt.wantAddr, addr.String())
		})
	}
}

func TestMakeCallRequiresAddressWithoutGatekeeper(t *testing.T) {
	ep := newTestEndpoint(t, nil)

	_, err := ep.MakeCall(context.Background(), "12345")
	assert.ErrorIs(t, err, ErrBadDestination)

	_, err = ep.MakeCall(context.Background(), "")
	assert.ErrorIs(t, err, ErrBadDestination)
}

// eventRecorder собирает события конечной точки
type eventRecorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *eventRecorder) handle(ev Event) {
	r.mu.Lock()
	r.events = append(r.events, ev)
	r.mu.Unlock()
}

func (r *eventRecorder) find(typ EventType) (Event, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, ev := range r.events {
		if ev.Type == typ {
			return ev, true
		}
	}
	return Event{}, false
}

func (r *eventRecorder) has(typ EventType) bool {
	_, ok := r.find(typ)
	return ok
}

func TestLoopbackCall(t *testing.T) {
	var evA, evB eventRecorder
	a := newTestEndpoint(t, func(cfg *Config) {
		cfg.Aliases = []string{"1000"}
		cfg.EventHandler = evA.handle
		cfg.RoundTripDelayRate = 0
	})
	b := newTestEndpoint(t, func(cfg *Config) {
		cfg.Aliases = []string{"2000"}
		cfg.MediaPortMin = 31000
		cfg.MediaPortMax = 31999
		cfg.EventHandler = evB.handle
		cfg.RoundTripDelayRate = 0
	})

	addr, err := b.Listen(transport.NetworkTCP, "127.0.0.1:0")
	require.NoError(t, err)
	tcp, ok := addr.(*net.TCPAddr)
	require.True(t, ok)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	call, err := a.MakeCall(ctx, "2000@"+tcp.String())
	require.NoError(t, err)
	assert.True(t, call.IsOriginating())

	require.Eventually(t, func() bool {
		return evA.has(EventEstablished) && evB.has(EventEstablished)
	}, 5*time.Second, 10*time.Millisecond)

	assert.True(t, evB.has(EventIncomingCall))
	assert.True(t, evA.has(EventConnected))

	incoming, ok := b.Connection(call.CallID())
	require.True(t, ok)
	assert.False(t, incoming.IsOriginating())
	assert.NotEmpty(t, call.Channels())
	assert.NotEmpty(t, incoming.Channels())

	call.ClearCall(EndedByLocalUser)

	select {
	case <-call.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("исходящий вызов не освобожден")
	}
	select {
	case <-incoming.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("входящий вызов не освобожден")
	}

	assert.Equal(t, EndedByLocalUser, call.EndReason())
	assert.Equal(t, EndedByRemoteUser, incoming.EndReason())
	require.Eventually(t, func() bool {
		return evB.has(EventCleared)
	}, 5*time.Second, 10*time.Millisecond)
	cleared, _ := evB.find(EventCleared)
	assert.Equal(t, EndedByRemoteUser, cleared.Reason)
	require.Eventually(t, func() bool { return len(a.Connections()) == 0 }, time.Second, 10*time.Millisecond)
}

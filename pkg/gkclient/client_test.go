package gkclient

import (
	"context"
	"net"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/arzzra/h323/pkg/h225"
	"github.com/arzzra/h323/pkg/ras"
	"github.com/arzzra/h323/pkg/transport"
	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeGatekeeper отвечает на RAS запросы функцией respond
type fakeGatekeeper struct {
	t       *testing.T
	sock    *transport.UDPSocket
	respond func(msg ras.Message, from *net.UDPAddr) []ras.Message

	mu       sync.Mutex
	received []ras.Message
}

func newFakeGatekeeper(t *testing.T, respond func(msg ras.Message, from *net.UDPAddr) []ras.Message) *fakeGatekeeper {
	gk := &fakeGatekeeper{t: t, respond: respond}
	sock, err := transport.ListenUDP("127.0.0.1:0", transport.DefaultConfig(), func(data []byte, from *net.UDPAddr) {
		msg, err := ras.Decode(data)
		if err != nil {
			return
		}
		gk.mu.Lock()
		gk.received = append(gk.received, msg)
		gk.mu.Unlock()
		for _, reply := range gk.respond(msg, from) {
			gk.send(reply, from)
		}
	})
	require.NoError(t, err)
	gk.sock = sock
	t.Cleanup(func() { _ = sock.Close() })
	return gk
}

func (gk *fakeGatekeeper) send(msg ras.Message, to *net.UDPAddr) {
	data, err := ras.Encode(msg)
	require.NoError(gk.t, err)
	_ = gk.sock.WriteTo(data, to)
}

func (gk *fakeGatekeeper) count(t ras.MessageType, pred func(ras.Message) bool) int {
	gk.mu.Lock()
	defer gk.mu.Unlock()
	n := 0
	for _, m := range gk.received {
		if m.Type() == t && (pred == nil || pred(m)) {
			n++
		}
	}
	return n
}

func hdr(m ras.Message) ras.Header {
	return ras.Header{RequestSeqNum: m.Seq()}
}

// standardReplies подтверждает все запросы
func standardReplies(msg ras.Message, _ *net.UDPAddr) []ras.Message {
	switch m := msg.(type) {
	case *ras.GRQ:
		return []ras.Message{&ras.GCF{Header: hdr(m), GatekeeperID: "GK"}}
	case *ras.RRQ:
		return []ras.Message{&ras.RCF{Header: hdr(m), GatekeeperID: "GK", EndpointIdentifier: "EP1", TimeToLive: 60, TerminalAliases: m.TerminalAliases}}
	case *ras.URQ:
		return []ras.Message{&ras.UCF{Header: hdr(m)}}
	case *ras.ARQ:
		return []ras.Message{&ras.ACF{Header: hdr(m), BandWidth: m.BandWidth, DestCallSignalAddress: h225.TransportAddress{IP: net.IPv4(10, 0, 0, 2).To4(), Port: 1720}}}
	case *ras.DRQ:
		return []ras.Message{&ras.DCF{Header: hdr(m)}}
	case *ras.BRQ:
		return []ras.Message{&ras.BCF{Header: hdr(m), BandWidth: m.BandWidth / 2}}
	case *ras.LRQ:
		return []ras.Message{&ras.LCF{Header: hdr(m), CallSignalAddress: h225.TransportAddress{IP: net.IPv4(10, 0, 0, 3).To4(), Port: 1720}}}
	}
	return nil
}

func newTestClient(t *testing.T, gk *fakeGatekeeper, mod func(*Config)) *Client {
	cfg := DefaultConfig()
	cfg.GatekeeperAddress = gk.sock.LocalAddr().String()
	cfg.LocalAddress = "127.0.0.1:0"
	cfg.Aliases = []string{"1001"}
	cfg.RequestTimeout = 100 * time.Millisecond
	if mod != nil {
		mod(&cfg)
	}
	c, err := New(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func TestRegisterAdmitDisengage(t *testing.T) {
	gk := newFakeGatekeeper(t, standardReplies)
	c := newTestClient(t, gk, nil)
	ctx := context.Background()

	require.NoError(t, c.Discover(ctx))
	assert.Equal(t, "GK", c.GatekeeperID())

	require.NoError(t, c.Register(ctx))
	assert.True(t, c.Registered())
	assert.Equal(t, "EP1", c.EndpointID())

	adm, err := c.Admit(ctx, AdmissionRequest{
		CallID:             h225.NewGUID(),
		ConferenceID:       h225.NewGUID(),
		CallReference:      7,
		DestinationAliases: []h225.AliasAddress{h225.NewDialedDigits("2002")},
		Bandwidth:          1280,
	})
	require.NoError(t, err)
	assert.Equal(t, uint32(1280), adm.Bandwidth)
	assert.Equal(t, uint16(1720), adm.DestCallSignalAddress.Port)

	bw, err := c.ChangeBandwidth(ctx, h225.NewGUID(), h225.NewGUID(), 7, false, 640)
	require.NoError(t, err)
	assert.Equal(t, uint32(320), bw)

	addr, err := c.Locate(ctx, []h225.AliasAddress{h225.NewDialedDigits("3003")})
	require.NoError(t, err)
	assert.Equal(t, "10.0.0.3:1720", addr.String())

	require.NoError(t, c.Disengage(ctx, DisengageRequest{CallID: h225.NewGUID(), Reason: ras.DisengageNormalDrop}))
	require.NoError(t, c.Unregister(ctx))
	assert.False(t, c.Registered())
}

func TestAdmitRejected(t *testing.T) {
	gk := newFakeGatekeeper(t, func(msg ras.Message, from *net.UDPAddr) []ras.Message {
		if arq, ok := msg.(*ras.ARQ); ok {
			return []ras.Message{&ras.ARJ{Header: hdr(arq), Reason: ras.ARJCalledPartyNotRegistered}}
		}
		return standardReplies(msg, from)
	})
	c := newTestClient(t, gk, nil)
	require.NoError(t, c.Register(context.Background()))

	_, err := c.Admit(context.Background(), AdmissionRequest{CallID: h225.NewGUID()})
	require.Error(t, err)
	assert.True(t, IsRejected(err, ras.TypeARQ))

	var rej *RejectError
	require.ErrorAs(t, err, &rej)
	reason, ok := rej.AdmissionReason()
	require.True(t, ok)
	assert.Equal(t, ras.ARJCalledPartyNotRegistered, reason)
}

func TestAdmitRequiresRegistration(t *testing.T) {
	gk := newFakeGatekeeper(t, standardReplies)
	c := newTestClient(t, gk, nil)

	_, err := c.Admit(context.Background(), AdmissionRequest{CallID: h225.NewGUID()})
	assert.ErrorIs(t, err, ErrNotRegistered)
}

func TestRequestRetries(t *testing.T) {
	var dropped atomic.Int32
	gk := newFakeGatekeeper(t, func(msg ras.Message, from *net.UDPAddr) []ras.Message {
		if msg.Type() == ras.TypeRRQ && dropped.Add(1) == 1 {
			return nil
		}
		return standardReplies(msg, from)
	})
	c := newTestClient(t, gk, nil)

	require.NoError(t, c.Register(context.Background()))
	assert.Equal(t, 2, gk.count(ras.TypeRRQ, nil))
}

func TestRequestTimeout(t *testing.T) {
	gk := newFakeGatekeeper(t, func(ras.Message, *net.UDPAddr) []ras.Message { return nil })
	c := newTestClient(t, gk, func(cfg *Config) { cfg.MaxRetries = 1 })

	err := c.Register(context.Background())
	assert.ErrorIs(t, err, ErrTimeout)
	assert.Equal(t, 2, gk.count(ras.TypeRRQ, nil))
}

func TestCloseDuringPendingRequest(t *testing.T) {
	gk := newFakeGatekeeper(t, func(ras.Message, *net.UDPAddr) []ras.Message { return nil })

	for i := 0; i < 20; i++ {
		c := newTestClient(t, gk, func(cfg *Config) { cfg.RequestTimeout = 5 * time.Second })
		c.mu.Lock()
		for seq := uint16(1000); seq < 1010; seq++ {
			c.pending[seq] = &transaction{request: ras.TypeRRQ, replies: make(chan ras.Message, 1)}
		}
		c.mu.Unlock()

		done := make(chan error, 1)
		go func() { done <- c.Register(context.Background()) }()

		var wg sync.WaitGroup
		wg.Add(1)
		go func() {
			defer wg.Done()
			// поздние ответы на фоне закрытия
			for seq := uint16(1000); seq < 1010; seq++ {
				c.deliver(&ras.RCF{Header: ras.Header{RequestSeqNum: seq}})
			}
		}()
		require.Eventually(t, func() bool {
			c.mu.Lock()
			defer c.mu.Unlock()
			return len(c.pending) == 11
		}, 2*time.Second, time.Millisecond)
		require.NoError(t, c.Close())
		wg.Wait()

		assert.ErrorIs(t, <-done, ErrClosed)
		assert.False(t, c.deliver(&ras.RCF{Header: ras.Header{RequestSeqNum: 1000}}))
	}
}

func TestRequestInProgressExtendsWait(t *testing.T) {
	gk := newFakeGatekeeper(t, func(msg ras.Message, from *net.UDPAddr) []ras.Message {
		if rrq, ok := msg.(*ras.RRQ); ok {
			// RIP сразу, подтверждение позже таймаута запроса
			go func() {
				time.Sleep(150 * time.Millisecond)
				data, _ := ras.Encode(&ras.RCF{Header: hdr(rrq), EndpointIdentifier: "EP1"})
				_ = gkSock(from, data)
			}()
			return []ras.Message{&ras.RIP{Header: hdr(rrq), Delay: 500}}
		}
		return nil
	})
	c := newTestClient(t, gk, func(cfg *Config) { cfg.MaxRetries = 0 })

	require.NoError(t, c.Register(context.Background()))
	assert.Equal(t, 1, gk.count(ras.TypeRRQ, nil))
}

// gkSock отправляет датаграмму с отдельного сокета: клиент сопоставляет
// ответы только по номеру последовательности
func gkSock(to *net.UDPAddr, data []byte) error {
	conn, err := net.DialUDP("udp", nil, to)
	if err != nil {
		return err
	}
	defer conn.Close()
	_, err = conn.Write(data)
	return err
}

func TestDiscoveryRequiredTriggersDiscover(t *testing.T) {
	var rejected atomic.Bool
	gk := newFakeGatekeeper(t, func(msg ras.Message, from *net.UDPAddr) []ras.Message {
		if rrq, ok := msg.(*ras.RRQ); ok && !rejected.Swap(true) {
			return []ras.Message{&ras.RRJ{Header: hdr(rrq), Reason: ras.RRJDiscoveryRequired}}
		}
		return standardReplies(msg, from)
	})
	c := newTestClient(t, gk, nil)

	require.NoError(t, c.Register(context.Background()))
	assert.Equal(t, 1, gk.count(ras.TypeGRQ, nil))
	assert.Equal(t, 2, gk.count(ras.TypeRRQ, nil))
}

func TestKeepAliveOnTimer(t *testing.T) {
	mock := clock.NewMock()
	gk := newFakeGatekeeper(t, standardReplies)
	c := newTestClient(t, gk, func(cfg *Config) { cfg.Clock = mock })

	done := make(chan error, 1)
	go func() { done <- c.Register(context.Background()) }()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("регистрация не завершилась")
	}

	keepAlive := func(m ras.Message) bool { return m.(*ras.RRQ).KeepAlive }
	mock.Add(44 * time.Second)
	assert.Equal(t, 0, gk.count(ras.TypeRRQ, keepAlive))

	mock.Add(2 * time.Second)
	assert.Eventually(t, func() bool { return gk.count(ras.TypeRRQ, keepAlive) == 1 }, time.Second, 10*time.Millisecond)

	gk.mu.Lock()
	var ka *ras.RRQ
	for _, m := range gk.received {
		if rrq, ok := m.(*ras.RRQ); ok && rrq.KeepAlive {
			ka = rrq
		}
	}
	gk.mu.Unlock()
	require.NotNil(t, ka)
	assert.Empty(t, ka.TerminalAliases, "keep-alive не передает алиасы")
	assert.Equal(t, "EP1", ka.EndpointIdentifier)
}

func TestAnswerGatekeeperRequests(t *testing.T) {
	gk := newFakeGatekeeper(t, standardReplies)
	callID := h225.NewGUID()
	disengaged := make(chan h225.GUID, 1)
	c := newTestClient(t, gk, func(cfg *Config) {
		cfg.CallInfo = func() []ras.PerCallInfo {
			return []ras.PerCallInfo{{CallIdentifier: callID, CallReferenceValue: 5, BandWidth: 640}}
		}
		cfg.OnDisengage = func(id h225.GUID) { disengaged <- id }
	})
	require.NoError(t, c.Register(context.Background()))

	clientAddr := c.sock.LocalAddr()

	t.Run("IRQ получает IRR со сведениями о вызове", func(t *testing.T) {
		gk.send(&ras.IRQ{Header: ras.Header{RequestSeqNum: 900}, CallIdentifier: callID}, clientAddr)
		require.Eventually(t, func() bool { return gk.count(ras.TypeIRR, nil) == 1 }, time.Second, 10*time.Millisecond)

		gk.mu.Lock()
		irr := gk.received[len(gk.received)-1].(*ras.IRR)
		gk.mu.Unlock()
		assert.Equal(t, uint16(900), irr.RequestSeqNum)
		require.Len(t, irr.PerCallInfo, 1)
		assert.Equal(t, callID, irr.PerCallInfo[0].CallIdentifier)
	})

	t.Run("DRQ вызывает OnDisengage", func(t *testing.T) {
		gk.send(&ras.DRQ{Header: ras.Header{RequestSeqNum: 901}, CallIdentifier: callID, Reason: ras.DisengageForcedDrop}, clientAddr)
		select {
		case id := <-disengaged:
			assert.Equal(t, callID, id)
		case <-time.After(time.Second):
			t.Fatal("DRQ не обработан")
		}
		assert.Eventually(t, func() bool { return gk.count(ras.TypeDCF, nil) == 1 }, time.Second, 10*time.Millisecond)
	})

	t.Run("URQ снимает регистрацию", func(t *testing.T) {
		gk.send(&ras.URQ{Header: ras.Header{RequestSeqNum: 902}, Reason: ras.URQMaintenance, HasReason: true}, clientAddr)
		assert.Eventually(t, func() bool { return !c.Registered() }, time.Second, 10*time.Millisecond)
		assert.Eventually(t, func() bool { return gk.count(ras.TypeUCF, nil) == 1 }, time.Second, 10*time.Millisecond)
	})
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		mod     func(*Config)
		wantErr bool
	}{
		{"корректная конфигурация", func(c *Config) {}, false},
		{"без адреса гейткипера", func(c *Config) { c.GatekeeperAddress = "" }, true},
		{"нулевой таймаут", func(c *Config) { c.RequestTimeout = 0 }, true},
		{"отрицательные повторы", func(c *Config) { c.MaxRetries = -1 }, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			cfg.GatekeeperAddress = "127.0.0.1:1719"
			tt.mod(&cfg)
			err := cfg.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

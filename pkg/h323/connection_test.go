package h323

import (
	"net"
	"sync"
	"testing"
	"time"

	"github.com/arzzra/h323/pkg/h225"
	"github.com/arzzra/h323/pkg/h245"
	"github.com/arzzra/h323/pkg/q931"
	"github.com/arzzra/h323/pkg/transport"
	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// signalPeer удаленный конец сигнального канала, собирает принятые сообщения
type signalPeer struct {
	ch *transport.Channel

	mu   sync.Mutex
	msgs []*q931.Message
}

func (p *signalPeer) read() {
	for {
		frame, err := p.ch.ReadFrame()
		if err != nil {
			return
		}
		msg, err := q931.Unmarshal(frame)
		if err != nil {
			continue
		}
		p.mu.Lock()
		p.msgs = append(p.msgs, msg)
		p.mu.Unlock()
	}
}

func (p *signalPeer) wait(t *testing.T, typ q931.MessageType) *q931.Message {
	t.Helper()
	var found *q931.Message
	require.Eventually(t, func() bool {
		p.mu.Lock()
		defer p.mu.Unlock()
		for _, m := range p.msgs {
			if m.Type == typ {
				found = m
				return true
			}
		}
		return false
	}, 2*time.Second, 10*time.Millisecond, "не получено %s", typ)
	return found
}

// testCall соединение с туннелем H.245 поверх net.Pipe. Исходящие
// сообщения H.245 накапливаются в pendingH245 и забираются sent.
type testCall struct {
	t    *testing.T
	c    *Connection
	mock *clock.Mock
	ev   *eventRecorder
	peer *signalPeer
}

func newTestCall(t *testing.T, originating bool, mod func(*Config)) *testCall {
	t.Helper()
	mock := clock.NewMock()
	ev := &eventRecorder{}
	ep := newTestEndpoint(t, func(cfg *Config) {
		cfg.Clock = mock
		cfg.EventHandler = ev.handle
		cfg.RoundTripDelayRate = 0
		cfg.NoMediaTimeout = 0
		cfg.MaxCallDuration = 0
		cfg.Bandwidth = 0
		cfg.Capabilities = []h245.Capability{h245.Audio(h245.FormatPCMU), h245.Audio(h245.FormatPCMA)}
		if mod != nil {
			mod(cfg)
		}
	})

	local, remote := net.Pipe()
	peerCfg := transport.DefaultConfig()
	peerCfg.ReadTimeout = 0
	peer := &signalPeer{ch: transport.NewChannel(remote, transport.NetworkTCP, peerCfg)}
	go peer.read()

	c := newConnection(ep, originating, h225.NewGUID(), 1)
	c.signal = transport.NewChannel(local, transport.NetworkTCP, ep.cfg.Transport)
	c.tunnelling = true
	c.state = HasExecutedSignalConnect
	c.h245Started = true
	c.batching = 1
	c.firePhaseLocked(evConnect)
	t.Cleanup(func() {
		c.markPeerGone()
		_ = c.signal.Close()
		_ = peer.ch.Close()
	})
	return &testCall{t: t, c: c, mock: mock, ev: ev, peer: peer}
}

func (tc *testCall) locked(fn func(c *Connection)) {
	tc.c.mu.Lock()
	defer tc.c.mu.Unlock()
	fn(tc.c)
}

// deliver передает сообщения так, как они пришли бы по каналу H.245
func (tc *testCall) deliver(msgs ...h245.Message) {
	tc.t.Helper()
	for _, m := range msgs {
		raw, err := h245.Encode(m)
		require.NoError(tc.t, err)
		tc.locked(func(c *Connection) {
			c.withBatchLocked(func() { c.handleH245Locked(raw) })
		})
	}
}

// sent забирает отправленные соединением сообщения H.245
func (tc *testCall) sent() []h245.Message {
	tc.t.Helper()
	var raw [][]byte
	tc.locked(func(c *Connection) {
		raw, c.pendingH245 = c.pendingH245, nil
	})
	out := make([]h245.Message, 0, len(raw))
	for _, data := range raw {
		m, err := h245.Decode(data)
		require.NoError(tc.t, err)
		out = append(out, m)
	}
	return out
}

func (tc *testCall) determine(status MSDStatus) {
	tc.locked(func(c *Connection) {
		c.msd.state = msdDetermined
		c.msd.status = status
	})
}

func (tc *testCall) channel(number uint16, fromRemote bool) *LogicalChannel {
	var lc *LogicalChannel
	tc.locked(func(c *Connection) { lc = c.findChannelLocked(number, fromRemote) })
	return lc
}

func (tc *testCall) addChannel(dir h245.Direction, state ChannelState) *LogicalChannel {
	tc.t.Helper()
	var lc *LogicalChannel
	tc.locked(func(c *Connection) {
		sess, err := c.sessionLocked(1)
		require.NoError(tc.t, err)
		capability := h245.Audio(h245.FormatPCMU)
		capability.Direction = dir
		lc = &LogicalChannel{Number: c.allocChannelNumberLocked(), SessionID: 1, Capability: capability, Direction: dir}
		c.addChannelLocked(lc, state, sess)
	})
	return lc
}

func (tc *testCall) state() ConnectionState {
	var s ConnectionState
	tc.locked(func(c *Connection) { s = c.state })
	return s
}

func find[T h245.Message](msgs []h245.Message) (T, bool) {
	for _, m := range msgs {
		if v, ok := m.(T); ok {
			return v, true
		}
	}
	var zero T
	return zero, false
}

func isClosed(ch <-chan struct{}) bool {
	select {
	case <-ch:
		return true
	default:
		return false
	}
}

func audioTCS(seq uint8, formats ...h245.MediaFormat) *h245.TerminalCapabilitySet {
	caps := make([]h245.Capability, len(formats))
	for i, f := range formats {
		caps[i] = h245.Audio(f)
	}
	return h245.NewTerminalCapabilitySet(seq, h245.BuildTable(caps))
}

func remoteOLC(number uint16, f h245.MediaFormat) *h245.OpenLogicalChannel {
	dt := h245.Audio(f)
	dt.Direction = h245.DirTransmit
	return &h245.OpenLogicalChannel{
		ForwardLogicalChannelNumber: number,
		ForwardDataType:             &dt,
		SessionID:                   1,
		MediaControlChannel:         &h225.TransportAddress{IP: net.IPv4(10, 0, 0, 1).To4(), Port: 7001},
	}
}

func olcAck(number uint16) *h245.OpenLogicalChannelAck {
	return &h245.OpenLogicalChannelAck{
		ForwardLogicalChannelNumber: number,
		SessionID:                   1,
		MediaChannel:                &h225.TransportAddress{IP: net.IPv4(10, 0, 0, 1).To4(), Port: 7000},
		MediaControlChannel:         &h225.TransportAddress{IP: net.IPv4(10, 0, 0, 1).To4(), Port: 7001},
	}
}

func TestChannelConflict(t *testing.T) {
	tests := []struct {
		name         string
		policy       ChannelConflictPolicy
		status       MSDStatus
		wantAccepted bool
		wantReopen   bool
	}{
		{"ведущий отклоняет встречный канал", ConflictStrict, MSDMaster, false, false},
		{"ведомый переоткрывает канал в формате ведущего", ConflictStrict, MSDSlave, true, true},
		{"встречный канал принимается", ConflictAcceptIncoming, MSDMaster, true, false},
		{"ведомый без строгой политики", ConflictAcceptIncoming, MSDSlave, true, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tc := newTestCall(t, true, func(cfg *Config) { cfg.ChannelConflictPolicy = tt.policy })
			tc.determine(tt.status)

			tc.deliver(audioTCS(1, h245.FormatPCMU, h245.FormatPCMA))
			olc, ok := find[*h245.OpenLogicalChannel](tc.sent())
			require.True(t, ok, "канал передачи не открывается")
			require.NotNil(t, olc.ForwardDataType)
			assert.Equal(t, "PCMU", olc.ForwardDataType.Format.Name)
			tx := tc.channel(olc.ForwardLogicalChannelNumber, false)
			require.NotNil(t, tx)

			// удаленная сторона одновременно открывает канал в другом формате
			tc.deliver(remoteOLC(1, h245.FormatPCMA))
			out := tc.sent()

			if !tt.wantAccepted {
				reject, ok := find[*h245.OpenLogicalChannelReject](out)
				require.True(t, ok)
				assert.Equal(t, uint16(1), reject.ForwardLogicalChannelNumber)
				assert.Equal(t, h245.OLCMasterSlaveConflict, reject.Cause)
				assert.Nil(t, tc.channel(1, true))
				assert.Equal(t, ChannelOpening, tx.State())
				return
			}

			ack, ok := find[*h245.OpenLogicalChannelAck](out)
			require.True(t, ok)
			assert.Equal(t, uint16(1), ack.ForwardLogicalChannelNumber)
			rx := tc.channel(1, true)
			require.NotNil(t, rx)
			assert.Equal(t, ChannelOpen, rx.State())
			assert.Equal(t, "PCMA", rx.Capability.Format.Name)

			_, closed := find[*h245.CloseLogicalChannel](out)
			if !tt.wantReopen {
				assert.False(t, closed)
				assert.Equal(t, ChannelOpening, tx.State())
				return
			}

			clc, ok := find[*h245.CloseLogicalChannel](out)
			require.True(t, ok)
			assert.Equal(t, olc.ForwardLogicalChannelNumber, clc.ForwardLogicalChannelNumber)
			assert.Equal(t, ChannelClosing, tx.State())

			reopen, ok := find[*h245.OpenLogicalChannel](out)
			require.True(t, ok, "канал не открыт заново")
			assert.NotEqual(t, olc.ForwardLogicalChannelNumber, reopen.ForwardLogicalChannelNumber)
			require.NotNil(t, reopen.ForwardDataType)
			assert.Equal(t, "PCMA", reopen.ForwardDataType.Format.Name)
		})
	}
}

func tunnelledFacility(t *testing.T, tunnelling bool, control ...h245.Message) *q931.Message {
	t.Helper()
	var raw [][]byte
	for _, m := range control {
		data, err := h245.Encode(m)
		require.NoError(t, err)
		raw = append(raw, data)
	}
	pdu, err := h225.EncodeUserUser(&h225.UserUserPDU{Body: &h225.Empty{}, H245Tunnelling: tunnelling, H245Control: raw})
	require.NoError(t, err)
	msg := q931.NewMessage(q931.MsgFacility, 1, true)
	msg.SetUserUser(pdu)
	return msg
}

func TestTunnellingDisabledByRemote(t *testing.T) {
	tests := []struct {
		name           string
		flags          []bool
		wantTunnelling bool
		wantRemoteTCS  bool
	}{
		{"удаленная сторона поддерживает туннель", []bool{true}, true, true},
		{"отказ от туннеля", []bool{false}, false, false},
		{"туннель не включается повторно", []bool{false, true}, false, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tc := newTestCall(t, true, nil)
			for i, flag := range tt.flags {
				released := tc.c.handleSignal(tunnelledFacility(t, flag, audioTCS(uint8(i+1), h245.FormatPCMU)))
				require.False(t, released)
			}
			tc.locked(func(c *Connection) {
				assert.Equal(t, tt.wantTunnelling, c.tunnelling)
				assert.Equal(t, tt.wantRemoteTCS, c.remoteTCS)
			})
		})
	}
}

func TestRemoteHoldByEmptyCapabilitySet(t *testing.T) {
	tc := newTestCall(t, true, nil)
	tc.determine(MSDMaster)

	tc.deliver(audioTCS(1, h245.FormatPCMU))
	olc, ok := find[*h245.OpenLogicalChannel](tc.sent())
	require.True(t, ok)
	tc.deliver(olcAck(olc.ForwardLogicalChannelNumber))
	tx := tc.channel(olc.ForwardLogicalChannelNumber, false)
	require.NotNil(t, tx)
	require.Equal(t, ChannelOpen, tx.State())
	require.False(t, tx.Stream().IsPaused())

	tc.deliver(h245.NewTerminalCapabilitySet(2, nil))
	ack, ok := find[*h245.TerminalCapabilitySetAck](tc.sent())
	require.True(t, ok)
	assert.Equal(t, uint8(2), ack.SequenceNumber)
	assert.True(t, tx.Stream().IsPaused())
	assert.Equal(t, ChannelOpen, tx.State(), "канал на удержании не закрывается")
	local, remote := tc.c.IsHeld()
	assert.False(t, local)
	assert.True(t, remote)
	require.Eventually(t, func() bool { return tc.ev.has(EventHold) }, time.Second, 10*time.Millisecond)

	// полный набор снимает удержание
	tc.deliver(audioTCS(3, h245.FormatPCMU))
	out := tc.sent()
	assert.False(t, tx.Stream().IsPaused())
	_, remote = tc.c.IsHeld()
	assert.False(t, remote)
	_, reopened := find[*h245.OpenLogicalChannel](out)
	assert.False(t, reopened)
	require.Eventually(t, func() bool { return tc.ev.has(EventRetrieve) }, time.Second, 10*time.Millisecond)
}

func TestEstablishmentCheck(t *testing.T) {
	h245Done := func(tc *testCall) {
		tc.determine(MSDMaster)
		tc.locked(func(c *Connection) {
			c.remoteTCS = true
			c.tcsSent = true
			c.tcsAcked = true
		})
	}
	tests := []struct {
		name  string
		setup func(tc *testCall)
		want  ConnectionState
	}{
		{"каналы открыты и обмен завершен", func(tc *testCall) {
			tc.addChannel(h245.DirTransmit, ChannelOpen)
			tc.addChannel(h245.DirReceive, ChannelOpen)
			h245Done(tc)
		}, EstablishedConnection},
		{"канал в процессе открытия", func(tc *testCall) {
			tc.addChannel(h245.DirTransmit, ChannelOpen)
			tc.addChannel(h245.DirReceive, ChannelOpen)
			tc.addChannel(h245.DirTransmit, ChannelOpening)
			h245Done(tc)
		}, HasExecutedSignalConnect},
		{"нет канала приема", func(tc *testCall) {
			tc.addChannel(h245.DirTransmit, ChannelOpen)
			h245Done(tc)
		}, HasExecutedSignalConnect},
		{"ведущий не определен", func(tc *testCall) {
			tc.addChannel(h245.DirTransmit, ChannelOpen)
			tc.addChannel(h245.DirReceive, ChannelOpen)
			tc.locked(func(c *Connection) {
				c.remoteTCS = true
				c.tcsAcked = true
			})
		}, HasExecutedSignalConnect},
		{"набор возможностей не подтвержден", func(tc *testCall) {
			tc.addChannel(h245.DirTransmit, ChannelOpen)
			tc.addChannel(h245.DirReceive, ChannelOpen)
			h245Done(tc)
			tc.locked(func(c *Connection) { c.tcsAcked = false })
		}, HasExecutedSignalConnect},
		{"fast start без канала H.245", func(tc *testCall) {
			tc.addChannel(h245.DirTransmit, ChannelOpen)
			tc.addChannel(h245.DirReceive, ChannelOpen)
			tc.locked(func(c *Connection) {
				c.fastStart = FastStartAcknowledged
				c.tunnelling = false
			})
		}, EstablishedConnection},
		{"fast start с туннелем ждет обмена H.245", func(tc *testCall) {
			tc.addChannel(h245.DirTransmit, ChannelOpen)
			tc.addChannel(h245.DirReceive, ChannelOpen)
			tc.locked(func(c *Connection) { c.fastStart = FastStartAcknowledged })
		}, HasExecutedSignalConnect},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tc := newTestCall(t, true, nil)
			tt.setup(tc)
			tc.locked(func(c *Connection) { c.checkEstablishedLocked() })
			assert.Equal(t, tt.want, tc.state())
		})
	}

	t.Run("установление после подтверждения последнего канала", func(t *testing.T) {
		tc := newTestCall(t, true, nil)
		tc.addChannel(h245.DirReceive, ChannelOpen)
		tx := tc.addChannel(h245.DirTransmit, ChannelOpening)
		h245Done(tc)
		tc.locked(func(c *Connection) { c.checkEstablishedLocked() })
		require.Equal(t, HasExecutedSignalConnect, tc.state())

		tc.deliver(olcAck(tx.Number))
		assert.Equal(t, EstablishedConnection, tc.state())
		require.Eventually(t, func() bool { return tc.ev.has(EventEstablished) }, time.Second, 10*time.Millisecond)
	})
}

func TestSignalReadTimeout(t *testing.T) {
	tests := []struct {
		name  string
		state ConnectionState
		want  CallEndReason
	}{
		{"нет ответа до CONNECT", AwaitingSignalConnect, EndedByNoAnswer},
		{"обрыв после CONNECT", HasExecutedSignalConnect, EndedByTransportFail},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tc := newTestCall(t, true, nil)
			tc.locked(func(c *Connection) { c.state = tt.state })
			tc.c.signal.SetReadTimeout(50 * time.Millisecond)
			go tc.c.readLoop()

			select {
			case <-tc.c.clearing:
			case <-time.After(2 * time.Second):
				t.Fatal("вызов не завершен по таймауту чтения")
			}
			assert.Equal(t, tt.want, tc.c.EndReason())
			select {
			case <-tc.c.Done():
			case <-time.After(2 * time.Second):
				t.Fatal("вызов не освобожден")
			}
			tc.peer.wait(t, q931.MsgReleaseComplete)
		})
	}
}

func TestNoMediaTimeout(t *testing.T) {
	tests := []struct {
		name        string
		established bool
		wantCleared bool
	}{
		{"каналы не открыты", false, true},
		{"вызов установлен", true, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tc := newTestCall(t, true, func(cfg *Config) { cfg.NoMediaTimeout = 5 * time.Second })
			tc.locked(func(c *Connection) {
				c.startConnectedTimersLocked()
				if tt.established {
					c.state = EstablishedConnection
				}
			})
			tc.mock.Add(5 * time.Second)

			if !tt.wantCleared {
				assert.Never(t, func() bool { return isClosed(tc.c.clearing) }, 100*time.Millisecond, 10*time.Millisecond)
				return
			}
			require.Eventually(t, func() bool { return isClosed(tc.c.clearing) }, 2*time.Second, 10*time.Millisecond)
			assert.Equal(t, EndedByCapabilityExchange, tc.c.EndReason())
			tc.c.markPeerGone()
			select {
			case <-tc.c.Done():
			case <-time.After(2 * time.Second):
				t.Fatal("вызов не освобожден")
			}
		})
	}
}

func TestRoundTripDelayHoldBeforeEstablishment(t *testing.T) {
	tc := newTestCall(t, true, func(cfg *Config) { cfg.RoundTripDelayRate = 2 * time.Second })
	tx := tc.addChannel(h245.DirTransmit, ChannelOpen)
	tc.locked(func(c *Connection) { c.startRoundTripProbeLocked() })

	pending := func() bool {
		var p bool
		tc.locked(func(c *Connection) { p = c.rtdPending })
		return p
	}
	tc.mock.Add(2 * time.Second)
	require.Eventually(t, pending, time.Second, 5*time.Millisecond)
	assert.False(t, tx.Stream().IsPaused())

	// второй запрос без ответа на первый
	tc.mock.Add(2 * time.Second)
	require.Eventually(t, func() bool { return tx.Stream().IsPaused() }, time.Second, 5*time.Millisecond)
	require.Eventually(t, func() bool { return tc.ev.has(EventHold) }, time.Second, 10*time.Millisecond)
	assert.False(t, isClosed(tc.c.clearing))

	var seq uint8
	tc.locked(func(c *Connection) { seq = c.rtdSeq })
	require.Equal(t, uint8(2), seq)
	tc.deliver(&h245.RoundTripDelayResponse{SequenceNumber: seq})

	assert.False(t, tx.Stream().IsPaused())
	assert.False(t, pending())
	require.Eventually(t, func() bool { return tc.ev.has(EventRetrieve) }, time.Second, 10*time.Millisecond)
}

func TestConnectCarriesSingleFastStartChannel(t *testing.T) {
	tc := newTestCall(t, false, func(cfg *Config) {
		cfg.Capabilities = []h245.Capability{h245.Audio(h245.FormatPCMU)}
	})
	offers := [][]byte{
		encodeOffer(t, 1, h245.FormatG729, false),
		encodeOffer(t, 2, h245.FormatPCMU, false),
	}
	tc.locked(func(c *Connection) {
		c.state = AwaitingLocalAnswer
		c.answerFastStartLocked(offers)
	})

	require.NoError(t, tc.c.SetConnected())

	msg := tc.peer.wait(t, q931.MsgConnect)
	uu, err := decodeUU(msg)
	require.NoError(t, err)
	connect, ok := uu.Body.(*h225.Connect)
	require.True(t, ok)
	assert.Len(t, connect.FastStart, 1)
	assert.Len(t, tc.c.Channels(), 1)
	assert.Equal(t, FastStartAcknowledged, tc.c.FastStartState())
}

func TestMaxCallDuration(t *testing.T) {
	tc := newTestCall(t, true, func(cfg *Config) { cfg.MaxCallDuration = time.Minute })
	tc.locked(func(c *Connection) {
		c.state = EstablishedConnection
		c.startConnectedTimersLocked()
	})

	tc.mock.Add(59 * time.Second)
	assert.Never(t, func() bool { return isClosed(tc.c.clearing) }, 50*time.Millisecond, 10*time.Millisecond)

	tc.mock.Add(time.Second)
	require.Eventually(t, func() bool { return isClosed(tc.c.clearing) }, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, EndedByDurationLimit, tc.c.EndReason())
}

package transport

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChannelFrames(t *testing.T) {
	a, b := net.Pipe()
	left := NewChannel(a, NetworkTCP, Config{})
	right := NewChannel(b, NetworkTCP, Config{})
	defer left.Close()
	defer right.Close()

	go func() {
		_ = left.WriteFrame([]byte{0x08, 0x02, 0x00, 0x01, 0x05})
		_ = left.WriteFrame([]byte{0x01})
	}()

	f, err := right.ReadFrame()
	require.NoError(t, err)
	assert.Equal(t, []byte{0x08, 0x02, 0x00, 0x01, 0x05}, f)

	f, err = right.ReadFrame()
	require.NoError(t, err)
	assert.Equal(t, []byte{0x01}, f)

	assert.Equal(t, uint64(2), right.Stats().MessagesReceived)
	assert.Equal(t, uint64(2), left.Stats().MessagesSent)
}

func TestChannelReadTimeout(t *testing.T) {
	a, b := net.Pipe()
	defer a.Close()
	ch := NewChannel(b, NetworkTCP, Config{ReadTimeout: 20 * time.Millisecond})
	defer ch.Close()

	_, err := ch.ReadFrame()
	require.Error(t, err)
	assert.True(t, IsTimeout(err))

	var te *TransportError
	require.ErrorAs(t, err, &te)
	assert.True(t, te.IsTemporary())
	assert.Equal(t, "read", te.Operation)
}

func TestChannelClosed(t *testing.T) {
	a, b := net.Pipe()
	defer b.Close()
	ch := NewChannel(a, NetworkTCP, Config{})
	require.NoError(t, ch.Close())
	require.NoError(t, ch.Close())

	err := ch.WriteFrame([]byte{1})
	assert.ErrorIs(t, err, ErrTransportClosed)
	assert.True(t, IsClosed(err))
}

func TestListenerAndDial(t *testing.T) {
	got := make(chan []byte, 1)
	l, err := Listen(NetworkTCP, "127.0.0.1:0", Config{}, func(ch *Channel) {
		f, err := ch.ReadFrame()
		if err != nil {
			return
		}
		got <- f
		_ = ch.WriteFrame(append([]byte{0xff}, f...))
	})
	require.NoError(t, err)
	defer l.Close()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	ch, err := Dial(ctx, NetworkTCP, l.Addr().String(), DefaultConfig())
	require.NoError(t, err)
	defer ch.Close()

	require.NoError(t, ch.WriteFrame([]byte("setup")))
	select {
	case f := <-got:
		assert.Equal(t, []byte("setup"), f)
	case <-time.After(time.Second):
		t.Fatal("кадр не получен")
	}

	ch.SetReadTimeout(time.Second)
	reply, err := ch.ReadFrame()
	require.NoError(t, err)
	assert.Equal(t, append([]byte{0xff}, []byte("setup")...), reply)
}

func TestUDPSocket(t *testing.T) {
	received := make(chan []byte, 1)
	server, err := ListenUDP("127.0.0.1:0", Config{}, func(data []byte, from *net.UDPAddr) {
		received <- data
	})
	require.NoError(t, err)
	defer server.Close()

	client, err := ListenUDP("127.0.0.1:0", Config{}, func([]byte, *net.UDPAddr) {})
	require.NoError(t, err)
	defer client.Close()

	require.NoError(t, client.WriteTo([]byte{0x0e, 0x00}, server.LocalAddr()))

	select {
	case d := <-received:
		assert.Equal(t, []byte{0x0e, 0x00}, d)
	case <-time.After(time.Second):
		t.Fatal("датаграмма не получена")
	}
	assert.Equal(t, uint64(1), client.Stats().MessagesSent)

	require.NoError(t, client.Close())
	assert.ErrorIs(t, client.WriteTo([]byte{1}, server.LocalAddr()), ErrTransportClosed)
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		wantErr bool
	}{
		{"По умолчанию", DefaultConfig(), false},
		{"DSCP вне диапазона", Config{DSCP: 64}, true},
		{"Отрицательный таймаут", Config{ReadTimeout: -time.Second}, true},
		{"Отрицательный лимит", Config{MaxConnections: -1}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestListenUnsupportedNetwork(t *testing.T) {
	_, err := Listen("sctp", "127.0.0.1:0", Config{}, func(*Channel) {})
	assert.ErrorIs(t, err, ErrInvalidAddress)
}

package h323

import (
	"net"
	"testing"

	"github.com/arzzra/h323/pkg/h225"
	"github.com/arzzra/h323/pkg/h245"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestEndpoint(t *testing.T, mod func(*Config)) *Endpoint {
	t.Helper()
	cfg := DefaultConfig()
	cfg.MediaIP = net.IPv4(127, 0, 0, 1).To4()
	cfg.MediaPortMin = 30000
	cfg.MediaPortMax = 30999
	if mod != nil {
		mod(&cfg)
	}
	ep, err := NewEndpoint(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = ep.Close() })
	return ep
}

func encodeOffer(t *testing.T, number uint16, f h245.MediaFormat, reverse bool) []byte {
	t.Helper()
	dt := h245.Audio(f)
	olc := &h245.OpenLogicalChannel{
		ForwardLogicalChannelNumber: number,
		SessionID:                   1,
		MediaControlChannel:         &h225.TransportAddress{IP: net.IPv4(10, 0, 0, 1).To4(), Port: 7001},
	}
	if reverse {
		dt.Direction = h245.DirReceive
		olc.ReverseDataType = &dt
		olc.MediaChannel = &h225.TransportAddress{IP: net.IPv4(10, 0, 0, 1).To4(), Port: 7000}
	} else {
		dt.Direction = h245.DirTransmit
		olc.ForwardDataType = &dt
	}
	data, err := h245.Encode(olc)
	require.NoError(t, err)
	return data
}

func TestAnswerFastStart(t *testing.T) {
	ep := newTestEndpoint(t, func(cfg *Config) {
		cfg.Capabilities = []h245.Capability{h245.Audio(h245.FormatPCMU)}
	})

	t.Run("выбирается поддерживаемый формат", func(t *testing.T) {
		c := newConnection(ep, false, h225.NewGUID(), 1)
		c.answerFastStartLocked([][]byte{
			encodeOffer(t, 1, h245.FormatG729, false),
			encodeOffer(t, 2, h245.FormatPCMU, false),
		})

		require.Equal(t, FastStartResponse, c.fastStart)
		require.Len(t, c.fastStartResponse, 1)

		m, err := h245.Decode(c.fastStartResponse[0])
		require.NoError(t, err)
		reply, ok := m.(*h245.OpenLogicalChannel)
		require.True(t, ok)
		assert.Equal(t, uint16(2), reply.ForwardLogicalChannelNumber)
		require.NotNil(t, reply.ForwardDataType)
		assert.Equal(t, "PCMU", reply.ForwardDataType.Format.Name)
		require.NotNil(t, reply.MediaChannel)
		assert.Equal(t, "127.0.0.1", reply.MediaChannel.IP.String())

		channels := c.channels
		require.Len(t, channels, 1)
		assert.Equal(t, ChannelOpening, channels[0].State())
		assert.Equal(t, h245.DirReceive, channels[0].Direction)
		assert.True(t, c.synthesizedCaps)
	})

	t.Run("один канал в каждом направлении", func(t *testing.T) {
		c := newConnection(ep, false, h225.NewGUID(), 2)
		c.answerFastStartLocked([][]byte{
			encodeOffer(t, 1, h245.FormatPCMU, false),
			encodeOffer(t, 2, h245.FormatPCMU, true),
			encodeOffer(t, 3, h245.FormatPCMU, false),
		})

		require.Len(t, c.fastStartResponse, 2)
		require.Len(t, c.channels, 2)
		assert.Equal(t, h245.DirReceive, c.channels[0].Direction)
		assert.Equal(t, h245.DirTransmit, c.channels[1].Direction)

		rtpAddr, _ := c.channels[1].stream.RemoteAddress()
		require.NotNil(t, rtpAddr)
		assert.Equal(t, uint16(7000), rtpAddr.Port)

		// первая отправка ответа подтверждает каналы
		elements := c.fastStartElementsLocked()
		assert.Len(t, elements, 2)
		assert.Equal(t, FastStartAcknowledged, c.fastStart)
		assert.Equal(t, ChannelOpen, c.channels[0].State())
	})

	t.Run("нет подходящих предложений", func(t *testing.T) {
		c := newConnection(ep, false, h225.NewGUID(), 3)
		c.answerFastStartLocked([][]byte{encodeOffer(t, 1, h245.FormatG729, false)})

		assert.Equal(t, FastStartDisabled, c.fastStart)
		assert.Empty(t, c.fastStartResponse)
		assert.Empty(t, c.channels)
	})

	t.Run("нераспознанный элемент пропускается", func(t *testing.T) {
		c := newConnection(ep, false, h225.NewGUID(), 4)
		c.answerFastStartLocked([][]byte{{0xff}, encodeOffer(t, 1, h245.FormatPCMU, false)})

		assert.Len(t, c.fastStartResponse, 1)
	})
}

func TestBuildFastStartOffers(t *testing.T) {
	ep := newTestEndpoint(t, func(cfg *Config) {
		cfg.Capabilities = []h245.Capability{
			h245.Audio(h245.FormatPCMU),
			h245.Audio(h245.FormatPCMA),
			h245.UserInput(),
		}
	})
	c := newConnection(ep, true, h225.NewGUID(), 1)

	offers := c.buildFastStartOffersLocked()

	// пара прием/передача на каждый аудио формат, без пользовательского ввода
	require.Len(t, offers, 4)
	assert.Equal(t, FastStartInitiate, c.fastStart)
	assert.Len(t, c.fastStartOffers, 4)

	var forward, reverse int
	for _, raw := range offers {
		m, err := h245.Decode(raw)
		require.NoError(t, err)
		olc := m.(*h245.OpenLogicalChannel)
		assert.Equal(t, uint8(1), olc.SessionID)
		if olc.IsReverse() {
			reverse++
			assert.NotNil(t, olc.MediaChannel)
		} else {
			forward++
		}
	}
	assert.Equal(t, 2, forward)
	assert.Equal(t, 2, reverse)
	assert.Len(t, c.sessions, 1, "одна RTP сессия на все аудио предложения")
}

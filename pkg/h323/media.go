package h323

import (
	"fmt"
	"math/rand/v2"
	"net"
	"sync"

	"github.com/arzzra/h323/pkg/h225"
	"github.com/arzzra/h323/pkg/h245"
	"github.com/pion/rtp"
	"github.com/pion/rtp/codecs"
	"github.com/pkg/errors"
)

// rtpMTU ограничение размера RTP пакета
const rtpMTU = 1200

var (
	// ErrStreamPaused поток приостановлен удержанием вызова
	ErrStreamPaused = errors.New("h323: media stream paused")
	// ErrStreamClosed поток закрыт
	ErrStreamClosed = errors.New("h323: media stream closed")
	// ErrNoMediaPorts диапазон портов RTP исчерпан
	ErrNoMediaPorts = errors.New("h323: no free media ports")
)

// MediaStream описание медиа потока открытого логического канала.
// Сам RTP транспорт находится вне стека: поток сообщает адреса и
// пакетизирует данные в согласованном формате.
type MediaStream struct {
	mu sync.Mutex

	capability h245.Capability
	direction  h245.Direction
	session    *mediaSession
	remoteRTP  *h225.TransportAddress
	remoteRTCP *h225.TransportAddress

	packetizer rtp.Packetizer
	paused     bool
	closed     bool
	// maxBitRate ограничение FlowControlCommand в бит/с, 0 без ограничения
	maxBitRate uint32
}

func newMediaStream(c h245.Capability, dir h245.Direction, s *mediaSession) *MediaStream {
	ms := &MediaStream{capability: c, direction: dir, session: s}
	if dir == h245.DirTransmit {
		clockRate := c.Format.ClockRate
		if clockRate == 0 {
			clockRate = 8000
		}
		ms.packetizer = rtp.NewPacketizer(rtpMTU, c.Format.PayloadType, rand.Uint32(),
			payloaderFor(c.Format), rtp.NewRandomSequencer(), clockRate)
	}
	return ms
}

func payloaderFor(f h245.MediaFormat) rtp.Payloader {
	switch f.Name {
	case "PCMU", "PCMA":
		return &codecs.G711Payloader{}
	case "G722":
		return &codecs.G722Payloader{}
	case "H264":
		return &codecs.H264Payloader{}
	}
	return rawPayloader{}
}

// rawPayloader делит кадр на части по MTU без заголовка полезной нагрузки
type rawPayloader struct{}

func (rawPayloader) Payload(mtu uint16, payload []byte) [][]byte {
	var out [][]byte
	for len(payload) > 0 {
		n := min(int(mtu), len(payload))
		out = append(out, payload[:n])
		payload = payload[n:]
	}
	return out
}

// Capability согласованный формат потока
func (s *MediaStream) Capability() h245.Capability { return s.capability }

// Direction DirTransmit для передачи, DirReceive для приема
func (s *MediaStream) Direction() h245.Direction { return s.direction }

// LocalAddress локальные адреса RTP и RTCP сессии
func (s *MediaStream) LocalAddress() (rtpAddr, rtcpAddr h225.TransportAddress) {
	return s.session.rtp, s.session.rtcp
}

// RemoteAddress адреса удаленной стороны, если они известны
func (s *MediaStream) RemoteAddress() (rtpAddr, rtcpAddr *h225.TransportAddress) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.remoteRTP, s.remoteRTCP
}

func (s *MediaStream) setRemote(rtpAddr, rtcpAddr *h225.TransportAddress) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if rtpAddr != nil {
		s.remoteRTP = rtpAddr
	}
	if rtcpAddr != nil {
		s.remoteRTCP = rtcpAddr
	}
}

// Packetize разбивает кадр на RTP пакеты. samples длительность кадра в отсчетах.
func (s *MediaStream) Packetize(payload []byte, samples uint32) ([]*rtp.Packet, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch {
	case s.closed:
		return nil, ErrStreamClosed
	case s.paused:
		return nil, ErrStreamPaused
	case s.packetizer == nil:
		return nil, fmt.Errorf("h323: stream %s is receive only", s.capability)
	}
	return s.packetizer.Packetize(payload, samples), nil
}

// IsPaused возвращает true пока удаленная сторона держит вызов
func (s *MediaStream) IsPaused() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.paused
}

// MaxBitRate ограничение скорости от удаленной стороны в бит/с
func (s *MediaStream) MaxBitRate() uint32 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.maxBitRate
}

func (s *MediaStream) setPaused(p bool) {
	s.mu.Lock()
	s.paused = p
	s.mu.Unlock()
}

func (s *MediaStream) setMaxBitRate(bps uint32) {
	s.mu.Lock()
	s.maxBitRate = bps
	s.mu.Unlock()
}

func (s *MediaStream) close() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
}

// mediaSession пара портов RTP/RTCP одной RTP сессии вызова
type mediaSession struct {
	id   uint8
	rtp  h225.TransportAddress
	rtcp h225.TransportAddress
}

// portAllocator выдает пары портов RTP/RTCP из диапазона конечной точки
type portAllocator struct {
	mu   sync.Mutex
	lo   uint16
	hi   uint16
	next uint16
	used map[uint16]bool
}

func newPortAllocator(lo, hi uint16) *portAllocator {
	if lo%2 != 0 {
		lo++
	}
	return &portAllocator{lo: lo, hi: hi, next: lo, used: make(map[uint16]bool)}
}

// allocate возвращает четный порт RTP; RTCP использует следующий
func (a *portAllocator) allocate() (uint16, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	span := int(a.hi-a.lo)/2 + 1
	for i := 0; i < span; i++ {
		p := a.next
		a.next += 2
		if a.next+1 > a.hi || a.next < a.lo {
			a.next = a.lo
		}
		if p+1 <= a.hi && !a.used[p] {
			a.used[p] = true
			return p, nil
		}
	}
	return 0, ErrNoMediaPorts
}

func (a *portAllocator) release(p uint16) {
	a.mu.Lock()
	delete(a.used, p)
	a.mu.Unlock()
}

func newMediaSession(id uint8, ip net.IP, port uint16) *mediaSession {
	return &mediaSession{
		id:   id,
		rtp:  h225.TransportAddress{IP: ip, Port: port},
		rtcp: h225.TransportAddress{IP: ip, Port: port + 1},
	}
}

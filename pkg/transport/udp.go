package transport

import (
	"log/slog"
	"net"
	"sync"
	"sync/atomic"

	"github.com/pkg/errors"
)

// maxDatagram максимальный размер PDU RAS
const maxDatagram = 65535

// PacketHandler вызывается для каждой принятой датаграммы.
// data принадлежит обработчику.
type PacketHandler func(data []byte, from *net.UDPAddr)

// UDPSocket сокет RAS
type UDPSocket struct {
	conn    *net.UDPConn
	handler PacketHandler
	logger  *slog.Logger

	closed  atomic.Bool
	wg      sync.WaitGroup
	stats   Stats
	statsMu sync.RWMutex
}

// ListenUDP открывает UDP сокет и запускает цикл чтения
func ListenUDP(addr string, cfg Config, handler PacketHandler) (*UDPSocket, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if handler == nil {
		return nil, errors.New("handler is nil")
	}

	udpAddr, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return nil, &TransportError{
			Transport: NetworkUDP,
			Operation: "resolve address",
			Err:       err,
		}
	}

	conn, err := net.ListenUDP("udp", udpAddr)
	if err != nil {
		return nil, &TransportError{
			Transport: NetworkUDP,
			Operation: "listen",
			Err:       err,
		}
	}

	s := &UDPSocket{
		conn:    conn,
		handler: handler,
		logger:  cfg.logger().With(slog.String("component", "transport"), slog.String("network", NetworkUDP)),
	}
	if cfg.DSCP > 0 {
		if err := setDSCP(conn, cfg.DSCP); err != nil {
			s.logger.Debug("UDPSocket.setDSCP", slog.String("error", err.Error()))
		}
	}

	s.wg.Add(1)
	go s.readLoop()

	return s, nil
}

// LocalAddr возвращает локальный адрес сокета
func (s *UDPSocket) LocalAddr() *net.UDPAddr {
	return s.conn.LocalAddr().(*net.UDPAddr)
}

// WriteTo отправляет датаграмму
func (s *UDPSocket) WriteTo(data []byte, to *net.UDPAddr) error {
	if s.closed.Load() {
		return &TransportError{Transport: NetworkUDP, Operation: "send", Err: ErrTransportClosed}
	}
	if to == nil {
		return &TransportError{Transport: NetworkUDP, Operation: "send", Err: ErrInvalidAddress}
	}
	n, err := s.conn.WriteToUDP(data, to)
	if err != nil {
		s.incrementErrors()
		return newError(NetworkUDP, "send", err)
	}

	s.statsMu.Lock()
	s.stats.MessagesSent++
	s.stats.BytesSent += uint64(n)
	s.statsMu.Unlock()
	return nil
}

// Close закрывает сокет и ждет завершения цикла чтения
func (s *UDPSocket) Close() error {
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}
	err := s.conn.Close()
	s.wg.Wait()
	return err
}

// Stats возвращает статистику сокета
func (s *UDPSocket) Stats() Stats {
	s.statsMu.RLock()
	defer s.statsMu.RUnlock()
	return s.stats
}

func (s *UDPSocket) readLoop() {
	defer s.wg.Done()

	buf := make([]byte, maxDatagram)
	for !s.closed.Load() {
		n, addr, err := s.conn.ReadFromUDP(buf)
		if err != nil {
			if s.closed.Load() {
				return
			}
			s.incrementErrors()
			s.logger.Warn("UDPSocket.read", slog.String("error", err.Error()))
			continue
		}

		data := make([]byte, n)
		copy(data, buf[:n])

		s.statsMu.Lock()
		s.stats.MessagesReceived++
		s.stats.BytesReceived += uint64(n)
		s.statsMu.Unlock()

		s.handler(data, addr)
	}
}

func (s *UDPSocket) incrementErrors() {
	s.statsMu.Lock()
	s.stats.Errors++
	s.statsMu.Unlock()
}

package transport

import (
	"crypto/tls"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"

	"github.com/pkg/errors"
	"go.uber.org/multierr"
)

// ChannelHandler вызывается в отдельной горутине для каждого принятого канала.
// Канал закрывается листенером после возврата из обработчика.
type ChannelHandler func(ch *Channel)

// Listener принимает входящие каналы сигнализации tcp или tls
type Listener struct {
	network string
	cfg     Config
	handler ChannelHandler
	logger  *slog.Logger

	listener net.Listener
	closed   atomic.Bool
	wg       sync.WaitGroup

	mu    sync.Mutex
	conns map[string]*Channel
}

// Listen начинает прием соединений на addr
func Listen(network, addr string, cfg Config, handler ChannelHandler) (*Listener, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if handler == nil {
		return nil, errors.New("handler is nil")
	}

	var (
		ln  net.Listener
		err error
	)
	switch network {
	case NetworkTCP:
		ln, err = net.Listen("tcp", addr)
	case NetworkTLS:
		if cfg.TLS == nil {
			return nil, errors.New("tls listener requires TLS config")
		}
		tcfg := cfg.TLS.Clone()
		if tcfg.MinVersion == 0 {
			tcfg.MinVersion = tls.VersionTLS12
		}
		ln, err = tls.Listen("tcp", addr, tcfg)
	default:
		return nil, errors.Wrapf(ErrInvalidAddress, "unsupported network %q", network)
	}
	if err != nil {
		return nil, newError(network, "listen", err)
	}

	l := &Listener{
		network:  network,
		cfg:      cfg,
		handler:  handler,
		logger:   cfg.logger().With(slog.String("component", "transport"), slog.String("network", network)),
		listener: ln,
		conns:    make(map[string]*Channel),
	}

	l.wg.Add(1)
	go l.acceptLoop()

	return l, nil
}

// Addr возвращает локальный адрес листенера
func (l *Listener) Addr() net.Addr {
	return l.listener.Addr()
}

// Close останавливает прием, закрывает все каналы и ждет завершения обработчиков
func (l *Listener) Close() error {
	if !l.closed.CompareAndSwap(false, true) {
		return nil
	}
	err := l.listener.Close()

	l.mu.Lock()
	for _, ch := range l.conns {
		err = multierr.Append(err, ch.Close())
	}
	l.mu.Unlock()

	l.wg.Wait()
	return err
}

// Stats возвращает число активных каналов
func (l *Listener) Stats() Stats {
	l.mu.Lock()
	defer l.mu.Unlock()
	return Stats{ActiveConnections: len(l.conns)}
}

func (l *Listener) acceptLoop() {
	defer l.wg.Done()

	for !l.closed.Load() {
		conn, err := l.listener.Accept()
		if err != nil {
			if l.closed.Load() {
				return
			}
			l.logger.Warn("Listener.accept", slog.String("error", err.Error()))
			continue
		}

		if l.cfg.MaxConnections > 0 && l.Stats().ActiveConnections >= l.cfg.MaxConnections {
			l.logger.Warn("Listener.accept: too many connections",
				slog.String("remote", conn.RemoteAddr().String()))
			_ = conn.Close()
			continue
		}

		ch := NewChannel(conn, l.network, l.cfg)
		l.mu.Lock()
		l.conns[ch.ID()] = ch
		l.mu.Unlock()

		l.wg.Add(1)
		go l.serve(ch)
	}
}

func (l *Listener) serve(ch *Channel) {
	defer l.wg.Done()
	defer func() {
		_ = ch.Close()
		l.mu.Lock()
		delete(l.conns, ch.ID())
		l.mu.Unlock()
	}()

	l.logger.Debug("Listener.serve", slog.String("remote", ch.RemoteAddr().String()))
	l.handler(ch)
}

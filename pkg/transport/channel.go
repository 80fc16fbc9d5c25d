package transport

import (
	"context"
	"crypto/tls"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/arzzra/h323/pkg/q931"
	"github.com/pkg/errors"
)

var channelIDCounter atomic.Uint64

// Channel надежный канал сигнализации с кадрированием TPKT.
// Используется для Q.931 и отдельного канала H.245.
type Channel struct {
	id      string
	conn    net.Conn
	network string

	readTimeout  atomic.Int64
	writeTimeout time.Duration

	wmu    sync.Mutex
	closed atomic.Bool

	stats   Stats
	statsMu sync.Mutex
}

// NewChannel оборачивает установленное соединение
func NewChannel(conn net.Conn, network string, cfg Config) *Channel {
	c := &Channel{
		id:           fmt.Sprintf("%s-%d", network, channelIDCounter.Add(1)),
		conn:         conn,
		network:      network,
		writeTimeout: cfg.WriteTimeout,
	}
	c.readTimeout.Store(int64(cfg.ReadTimeout))
	if tc, ok := conn.(*net.TCPConn); ok {
		if cfg.KeepAlive > 0 {
			_ = tc.SetKeepAlive(true)
			_ = tc.SetKeepAlivePeriod(cfg.KeepAlive)
		}
		_ = tc.SetNoDelay(true)
		if cfg.DSCP > 0 {
			if err := setDSCP(tc, cfg.DSCP); err != nil {
				cfg.logger().Debug("transport.setDSCP", slog.String("error", err.Error()))
			}
		}
	}
	return c
}

// Dial устанавливает исходящий канал tcp или tls
func Dial(ctx context.Context, network, addr string, cfg Config) (*Channel, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	d := &net.Dialer{Timeout: cfg.DialTimeout, KeepAlive: cfg.KeepAlive}
	var (
		conn net.Conn
		err  error
	)
	switch network {
	case NetworkTCP:
		conn, err = d.DialContext(ctx, "tcp", addr)
	case NetworkTLS:
		td := &tls.Dialer{NetDialer: d, Config: cfg.TLS}
		conn, err = td.DialContext(ctx, "tcp", addr)
	default:
		return nil, errors.Wrapf(ErrInvalidAddress, "unsupported network %q", network)
	}
	if err != nil {
		return nil, newError(network, "dial", err)
	}
	if tc, ok := conn.(*tls.Conn); ok {
		if raw, ok := tc.NetConn().(*net.TCPConn); ok && cfg.DSCP > 0 {
			_ = setDSCP(raw, cfg.DSCP)
		}
	}
	return NewChannel(conn, network, cfg), nil
}

func (c *Channel) ID() string           { return c.id }
func (c *Channel) Network() string      { return c.network }
func (c *Channel) LocalAddr() net.Addr  { return c.conn.LocalAddr() }
func (c *Channel) RemoteAddr() net.Addr { return c.conn.RemoteAddr() }
func (c *Channel) IsClosed() bool       { return c.closed.Load() }

// SetReadTimeout меняет таймаут чтения для следующих кадров
func (c *Channel) SetReadTimeout(d time.Duration) {
	c.readTimeout.Store(int64(d))
}

// ReadFrame читает следующий кадр TPKT
func (c *Channel) ReadFrame() ([]byte, error) {
	if c.closed.Load() {
		return nil, newError(c.network, "read", ErrTransportClosed)
	}
	if d := time.Duration(c.readTimeout.Load()); d > 0 {
		_ = c.conn.SetReadDeadline(time.Now().Add(d))
	} else {
		_ = c.conn.SetReadDeadline(time.Time{})
	}
	b, err := q931.ReadTPKT(c.conn)
	if err != nil {
		c.incrementErrors()
		return nil, newError(c.network, "read", err)
	}
	c.statsMu.Lock()
	c.stats.MessagesReceived++
	c.stats.BytesReceived += uint64(len(b))
	c.statsMu.Unlock()
	return b, nil
}

// WriteFrame записывает кадр TPKT. Безопасен для конкурентного вызова.
func (c *Channel) WriteFrame(b []byte) error {
	if c.closed.Load() {
		return newError(c.network, "write", ErrTransportClosed)
	}
	if len(b) > q931.MaxTPKTPayload {
		return newError(c.network, "write", ErrMessageTooLarge)
	}
	c.wmu.Lock()
	defer c.wmu.Unlock()
	if c.writeTimeout > 0 {
		_ = c.conn.SetWriteDeadline(time.Now().Add(c.writeTimeout))
	}
	if err := q931.WriteTPKT(c.conn, b); err != nil {
		c.incrementErrors()
		return newError(c.network, "write", err)
	}
	c.statsMu.Lock()
	c.stats.MessagesSent++
	c.stats.BytesSent += uint64(len(b))
	c.statsMu.Unlock()
	return nil
}

// Close закрывает канал, повторный вызов ничего не делает
func (c *Channel) Close() error {
	if !c.closed.CompareAndSwap(false, true) {
		return nil
	}
	return c.conn.Close()
}

// Stats возвращает статистику канала
func (c *Channel) Stats() Stats {
	c.statsMu.Lock()
	defer c.statsMu.Unlock()
	return c.stats
}

func (c *Channel) incrementErrors() {
	c.statsMu.Lock()
	c.stats.Errors++
	c.statsMu.Unlock()
}

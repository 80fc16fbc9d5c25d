package h323

import (
	"context"
	"log/slog"
	"net"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/arzzra/h323/pkg/h225"
	"github.com/arzzra/h323/pkg/q931"
	"github.com/arzzra/h323/pkg/ras"
	"github.com/arzzra/h323/pkg/transport"
	"github.com/pkg/errors"
	"go.uber.org/multierr"
)

// DefaultSignalPort порт сигнализации H.225 по умолчанию
const DefaultSignalPort = 1720

// Endpoint конечная точка H.323: принимает и создает вызовы
type Endpoint struct {
	cfg     Config
	logger  *slog.Logger
	metrics *metrics
	ports   *portAllocator
	events  *eventQueue

	callRef atomic.Uint32

	mu        sync.Mutex
	conns     map[h225.GUID]*Connection
	listeners []*transport.Listener
	closed    bool
}

// NewEndpoint создает конечную точку
func NewEndpoint(cfg Config) (*Endpoint, error) {
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrap(err, "invalid endpoint config")
	}
	if cfg.Transport.Logger == nil {
		cfg.Transport.Logger = cfg.Logger
	}
	ep := &Endpoint{
		cfg:     cfg,
		logger:  cfg.Logger.With(slog.String("component", "h323")),
		metrics: newMetrics(cfg.Registerer),
		ports:   newPortAllocator(cfg.MediaPortMin, cfg.MediaPortMax),
		events:  newEventQueue(cfg.EventHandler),
		conns:   make(map[h225.GUID]*Connection),
	}
	go ep.events.run()
	return ep, nil
}

// Listen начинает прием входящих вызовов на addr (tcp или tls)
func (ep *Endpoint) Listen(network, addr string) (net.Addr, error) {
	ep.mu.Lock()
	if ep.closed {
		ep.mu.Unlock()
		return nil, ErrEndpointClosed
	}
	ep.mu.Unlock()

	ln, err := transport.Listen(network, addr, ep.cfg.Transport, ep.serveSignal)
	if err != nil {
		return nil, err
	}
	ep.mu.Lock()
	ep.listeners = append(ep.listeners, ln)
	ep.mu.Unlock()
	ep.logger.Info("Endpoint.Listen", slog.String("network", network), slog.String("address", ln.Addr().String()))
	return ln.Addr(), nil
}

// ListenAddresses адреса сигнализации для регистрации у гейткипера
func (ep *Endpoint) ListenAddresses() []h225.TransportAddress {
	ep.mu.Lock()
	defer ep.mu.Unlock()
	out := make([]h225.TransportAddress, 0, len(ep.listeners))
	for _, ln := range ep.listeners {
		out = append(out, h225.TransportAddressFromNet(ln.Addr()))
	}
	return out
}

// parseDestination разбирает адрес назначения: "alias@host:port",
// "host:port" или алиас для разрешения гейткипером
func parseDestination(dest string) ([]h225.AliasAddress, *h225.TransportAddress, error) {
	dest = strings.TrimPrefix(strings.TrimSpace(dest), "h323:")
	if dest == "" {
		return nil, nil, ErrBadDestination
	}
	if i := strings.LastIndex(dest, "@"); i > 0 {
		if ta, err := h225.ParseTransportAddress(dest[i+1:], DefaultSignalPort); err == nil {
			return []h225.AliasAddress{h225.ParseAlias(dest[:i])}, &ta, nil
		}
	}
	if ta, err := h225.ParseTransportAddress(dest, DefaultSignalPort); err == nil {
		return nil, &ta, nil
	}
	return []h225.AliasAddress{h225.ParseAlias(dest)}, nil, nil
}

// MakeCall создает исходящий вызов. ctx ограничивает допуск и установление
// транспортного соединения, дальнейший ход вызова сообщается событиями.
func (ep *Endpoint) MakeCall(ctx context.Context, dest string) (*Connection, error) {
	aliases, addr, err := parseDestination(dest)
	if err != nil {
		return nil, errors.Wrapf(err, "%q", dest)
	}
	if addr == nil && ep.cfg.Gatekeeper == nil {
		return nil, errors.Wrapf(ErrBadDestination, "%q requires a gatekeeper", dest)
	}

	c := newConnection(ep, true, h225.NewGUID(), ep.nextCallRef())
	c.destAliases = aliases
	c.destAddress = addr
	for _, a := range aliases {
		if a.Kind == h225.AliasDialedDigits {
			c.calledNumber = a.Value
			break
		}
	}
	if err := ep.addConnection(c); err != nil {
		return nil, err
	}
	c.logger.Info("Endpoint.MakeCall", slog.String("destination", dest))

	network := transport.NetworkTCP
	if ep.cfg.Transport.TLS != nil {
		network = transport.NetworkTLS
	}
	go c.runOutgoing(ctx, network)
	return c, nil
}

func (ep *Endpoint) nextCallRef() uint16 {
	return uint16(ep.callRef.Add(1)%0x7fff) + 1
}

func (ep *Endpoint) addConnection(c *Connection) error {
	ep.mu.Lock()
	defer ep.mu.Unlock()
	if ep.closed {
		return ErrEndpointClosed
	}
	if _, dup := ep.conns[c.callID]; dup {
		return errors.Errorf("duplicate call %s", c.callID)
	}
	ep.conns[c.callID] = c
	ep.metrics.callsTotal.WithLabelValues(direction(c.originating)).Inc()
	ep.metrics.callsActive.Inc()
	return nil
}

func (ep *Endpoint) removeConnection(c *Connection) {
	ep.mu.Lock()
	defer ep.mu.Unlock()
	if ep.conns[c.callID] == c {
		delete(ep.conns, c.callID)
	}
}

// Connection возвращает вызов по идентификатору
func (ep *Endpoint) Connection(id h225.GUID) (*Connection, bool) {
	ep.mu.Lock()
	defer ep.mu.Unlock()
	c, ok := ep.conns[id]
	return c, ok
}

// Connections возвращает активные вызовы
func (ep *Endpoint) Connections() []*Connection {
	ep.mu.Lock()
	defer ep.mu.Unlock()
	out := make([]*Connection, 0, len(ep.conns))
	for _, c := range ep.conns {
		out = append(out, c)
	}
	return out
}

// CallInfo сведения об активных вызовах для IRR гейткиперу
func (ep *Endpoint) CallInfo() []ras.PerCallInfo {
	conns := ep.Connections()
	out := make([]ras.PerCallInfo, 0, len(conns))
	for _, c := range conns {
		out = append(out, c.perCallInfo())
	}
	return out
}

// Disengaged завершает вызов по DRQ гейткипера
func (ep *Endpoint) Disengaged(callID h225.GUID) {
	if c, ok := ep.Connection(callID); ok {
		c.ClearCall(EndedByGatekeeper)
	}
}

// scheduleForward повторяет вызов по адресу переадресации после освобождения
func (ep *Endpoint) scheduleForward(c *Connection, addr *h225.TransportAddress, aliases []h225.AliasAddress) {
	var dest string
	switch {
	case len(aliases) > 0 && addr != nil:
		dest = aliases[0].String() + "@" + addr.String()
	case addr != nil:
		dest = addr.String()
	case len(aliases) > 0:
		dest = aliases[0].String()
	default:
		return
	}
	go func() {
		<-c.done
		if _, err := ep.MakeCall(context.Background(), dest); err != nil {
			ep.logger.Warn("Endpoint.forward", slog.String("destination", dest), slog.String("error", err.Error()))
		}
	}()
}

// serveSignal обслуживает входящий сигнальный канал: первым сообщением
// должен быть SETUP
func (ep *Endpoint) serveSignal(ch *transport.Channel) {
	if ep.cfg.SignallingTimeout > 0 {
		ch.SetReadTimeout(ep.cfg.SignallingTimeout)
	}
	frame, err := ch.ReadFrame()
	if err != nil {
		ep.logger.Debug("Endpoint.serveSignal", slog.String("error", err.Error()))
		return
	}
	msg, err := q931.Unmarshal(frame)
	if err != nil || msg.Type != q931.MsgSetup {
		ep.logger.Info("Endpoint.serveSignal", slog.String("remote", ch.RemoteAddr().String()), slog.String("result", "first message is not SETUP"))
		return
	}
	uu, err := decodeUU(msg)
	if err != nil {
		ep.logger.Info("Endpoint.serveSignal", slog.String("error", err.Error()))
		return
	}
	setup, ok := uu.Body.(*h225.Setup)
	if !ok {
		return
	}

	callID := setup.CallIdentifier
	if callID.IsZero() {
		callID = h225.NewGUID()
	}
	c := newConnection(ep, false, callID, msg.CallReference)
	c.signal = ch
	if err := ep.addConnection(c); err != nil {
		ep.logger.Info("Endpoint.serveSignal", slog.String("error", err.Error()))
		c.mu.Lock()
		_ = c.sendReleaseCompleteLocked(EndedByLocalCongestion)
		c.mu.Unlock()
		return
	}
	c.logger.Info("Endpoint.incomingCall", slog.String("remote", ch.RemoteAddr().String()))

	c.handleIncomingSetup(msg, uu, setup)
	c.readLoop()
	<-c.done
}

// Close завершает все вызовы и останавливает прием
func (ep *Endpoint) Close() error {
	ep.mu.Lock()
	if ep.closed {
		ep.mu.Unlock()
		return nil
	}
	ep.closed = true
	conns := make([]*Connection, 0, len(ep.conns))
	for _, c := range ep.conns {
		conns = append(conns, c)
	}
	listeners := ep.listeners
	ep.mu.Unlock()

	for _, c := range conns {
		c.ClearCall(EndedByLocalUser)
	}
	wait := ep.cfg.EndSessionTimeout + time.Second
	for _, c := range conns {
		select {
		case <-c.done:
		case <-ep.cfg.Clock.After(wait):
			ep.logger.Warn("Endpoint.Close", slog.String("call_id", c.callID.String()), slog.String("result", "release timeout"))
		}
	}

	var err error
	for _, ln := range listeners {
		err = multierr.Append(err, ln.Close())
	}
	ep.events.close()
	return err
}

// eventQueue неограниченная очередь событий, доставляемых обработчику
// в порядке возникновения из одной горутины
type eventQueue struct {
	handler EventHandler

	mu     sync.Mutex
	items  []Event
	notify chan struct{}
	closed bool
	done   chan struct{}
}

func newEventQueue(h EventHandler) *eventQueue {
	return &eventQueue{handler: h, notify: make(chan struct{}, 1), done: make(chan struct{})}
}

func (q *eventQueue) push(ev Event) {
	if q.handler == nil {
		return
	}
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.items = append(q.items, ev)
	q.mu.Unlock()
	select {
	case q.notify <- struct{}{}:
	default:
	}
}

func (q *eventQueue) run() {
	defer close(q.done)
	for {
		q.mu.Lock()
		items := q.items
		q.items = nil
		closed := q.closed
		q.mu.Unlock()

		for _, ev := range items {
			q.handler(ev)
		}
		if closed {
			return
		}
		if len(items) == 0 {
			<-q.notify
		}
	}
}

// close доставляет оставшиеся события и останавливает очередь
func (q *eventQueue) close() {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.closed = true
	q.mu.Unlock()
	select {
	case q.notify <- struct{}{}:
	default:
	}
	<-q.done
}

package gatekeeper

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/arzzra/h323/pkg/h225"
	"github.com/arzzra/h323/pkg/ras"
	"github.com/arzzra/h323/pkg/transport"
	"github.com/benbjohnson/clock"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/pkg/errors"
	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"
)

var (
	// ErrClosed сервер остановлен
	ErrClosed = errors.New("gatekeeper: closed")
	// ErrTimeout нет ответа на запрос гейткипера
	ErrTimeout = errors.New("gatekeeper: request timeout")
	// ErrNotFound конечная точка или вызов не найдены
	ErrNotFound = errors.New("gatekeeper: not found")
)

// cachedReply ответ на запрос для повторных передач. Пустой data означает,
// что запрос еще обрабатывается.
type cachedReply struct {
	mu   sync.Mutex
	data []byte
	to   *net.UDPAddr
}

// Server RAS сервер гейткипера
type Server struct {
	cfg     Config
	logger  *slog.Logger
	clock   clock.Clock
	metrics *metrics

	endpoints *endpointRegistry
	calls     *callRegistry
	pool      *BandwidthPool

	dns        *dnsResolver
	neighbours []*net.UDPAddr

	cache *lru.Cache[string, *cachedReply]
	sem   *semaphore.Weighted
	sock  *transport.UDPSocket

	seq     atomic.Uint32
	mu      sync.Mutex
	pending map[uint16]chan ras.Message

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	closed atomic.Bool
}

// New создает сервер. Сокет открывается в Start.
func New(cfg Config) (*Server, error) {
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	cache, err := lru.New[string, *cachedReply](cfg.ReplyCacheSize)
	if err != nil {
		return nil, errors.Wrap(err, "reply cache")
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &Server{
		cfg:       cfg,
		logger:    cfg.Logger.With(slog.String("component", "gatekeeper"), slog.String("gatekeeper_id", cfg.ID)),
		clock:     cfg.Clock,
		metrics:   newMetrics(cfg.Registerer),
		endpoints: newEndpointRegistry(cfg.AllowDuplicateAliases, cfg.AliasPoolStart, cfg.AliasPoolEnd),
		calls:     newCallRegistry(),
		pool:      NewBandwidthPool(cfg.TotalBandwidth, cfg.DefaultCallBandwidth, cfg.MaxCallBandwidth),
		cache:     cache,
		sem:       semaphore.NewWeighted(cfg.MaxConcurrentRequests),
		pending:   make(map[uint16]chan ras.Message),
		ctx:       ctx,
		cancel:    cancel,
	}
	// номер 1 зарезервирован для незапрошенных IRR
	s.seq.Store(uint32(ras.UnsolicitedIRRSeq))
	s.metrics.bandwidthTotal.Set(float64(cfg.TotalBandwidth))

	if cfg.AliasAsHostname {
		r, err := newDNSResolver(cfg.DNSServer, cfg.LocateTimeout)
		if err != nil {
			cancel()
			return nil, err
		}
		s.dns = r
	}
	for _, n := range cfg.Neighbours {
		addr, err := net.ResolveUDPAddr("udp", n)
		if err != nil {
			cancel()
			return nil, errors.Wrapf(err, "neighbour %q", n)
		}
		s.neighbours = append(s.neighbours, addr)
	}
	return s, nil
}

// Start открывает RAS сокет и запускает монитор
func (s *Server) Start() error {
	if s.closed.Load() {
		return ErrClosed
	}
	sock, err := transport.ListenUDP(s.cfg.ListenAddress, s.cfg.Transport, s.handlePacket)
	if err != nil {
		return err
	}
	s.sock = sock

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.monitor(s.ctx)
	}()

	s.logger.Info("Server.Start", slog.String("address", sock.LocalAddr().String()))
	return nil
}

// Addr адрес RAS сокета
func (s *Server) Addr() *net.UDPAddr {
	return s.sock.LocalAddr()
}

// Close снимает регистрации всех точек (URQ), останавливает монитор и закрывает сокет
func (s *Server) Close() error {
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}

	var err error
	if s.sock != nil {
		ctx, cancel := context.WithTimeout(context.Background(), s.cfg.InfoResponseTimeout+time.Second)
		var mu sync.Mutex
		g := new(errgroup.Group)
		g.SetLimit(16)
		for _, e := range s.endpoints.all() {
			g.Go(func() error {
				uerr := s.unregister(ctx, e, ras.URQMaintenance)
				mu.Lock()
				err = multierr.Append(err, uerr)
				mu.Unlock()
				return nil
			})
		}
		_ = g.Wait()
		cancel()
	}

	s.cancel()
	s.mu.Lock()
	for seq, ch := range s.pending {
		close(ch)
		delete(s.pending, seq)
	}
	s.mu.Unlock()
	s.wg.Wait()

	if s.sock != nil {
		err = multierr.Append(err, s.sock.Close())
	}
	s.logger.Info("Server.Close")
	return err
}

// Endpoints зарегистрированные точки
func (s *Server) Endpoints() []*RegisteredEndpoint {
	return s.endpoints.all()
}

// Endpoint точка по идентификатору
func (s *Server) Endpoint(id string) (*RegisteredEndpoint, bool) {
	e := s.endpoints.findByID(id)
	if e == nil {
		return nil, false
	}
	s.endpoints.release(e)
	return e, true
}

// Calls допущенные вызовы
func (s *Server) Calls() []*Call {
	return s.calls.all()
}

// Bandwidth пул полосы зоны
func (s *Server) Bandwidth() *BandwidthPool {
	return s.pool
}

// ID идентификатор гейткипера
func (s *Server) ID() string {
	return s.cfg.ID
}

// Unregister принудительно снимает регистрацию точки
func (s *Server) Unregister(ctx context.Context, id string) error {
	e := s.endpoints.findByID(id)
	if e == nil {
		return errors.Wrapf(ErrNotFound, "endpoint %s", id)
	}
	defer s.endpoints.release(e)
	return s.unregister(ctx, e, ras.URQUndefinedReason)
}

// Disengage принудительно завершает вызов: DRQ владельцу и удаление из реестра
func (s *Server) Disengage(ctx context.Context, callID h225.GUID) error {
	var found bool
	var err error
	for _, answer := range []bool{false, true} {
		c := s.calls.acquire(callKey{id: callID, answer: answer})
		if c == nil {
			continue
		}
		found = true
		err = multierr.Append(err, s.sendDRQ(ctx, c, ras.DisengageForcedDrop))
		s.removeCall(c)
		s.calls.release(c)
	}
	if !found {
		return errors.Wrapf(ErrNotFound, "call %s", callID)
	}
	return err
}

// unregister отправляет URQ точке и удаляет ее независимо от ответа
func (s *Server) unregister(ctx context.Context, e *RegisteredEndpoint, reason ras.UnregRequestReason) error {
	var err error
	if addr, ok := e.rasAddress(); ok {
		urq := &ras.URQ{
			CallSignalAddresses: e.SignalAddresses(),
			EndpointAliases:     e.Aliases(),
			EndpointIdentifier:  e.id,
			GatekeeperID:        s.cfg.ID,
			Reason:              reason,
			HasReason:           true,
		}
		_, err = s.request(ctx, urq, addr.UDPAddr(), s.cfg.InfoResponseTimeout)
	}
	s.removeEndpoint(e, EventUnregistered, reason.String())
	return err
}

func (s *Server) sendDRQ(ctx context.Context, c *Call, reason ras.DisengageReason) error {
	addr, ok := c.endpoint.rasAddress()
	if !ok {
		return nil
	}
	drq := &ras.DRQ{
		EndpointIdentifier: c.endpoint.id,
		ConferenceID:       c.conferenceID,
		CallReferenceValue: c.callRef,
		Reason:             reason,
		CallIdentifier:     c.key.id,
		AnswerCall:         c.key.answer,
		GatekeeperID:       s.cfg.ID,
	}
	_, err := s.request(ctx, drq, addr.UDPAddr(), s.cfg.InfoResponseTimeout)
	return err
}

// removeEndpoint удаляет точку и все ее вызовы
func (s *Server) removeEndpoint(e *RegisteredEndpoint, ev EventType, reason string) {
	if !s.endpoints.remove(e) {
		return
	}
	for _, c := range e.activeCalls() {
		s.removeCall(c)
	}
	s.metrics.endpoints.Set(float64(s.endpoints.len()))
	s.logger.Info("Server.removeEndpoint", slog.String("endpoint_id", e.id), slog.String("reason", reason))
	s.emit(Event{Type: ev, EndpointID: e.id, Aliases: e.Aliases(), Reason: reason})
}

// removeCall удаляет вызов и возвращает его полосу в пул ровно один раз
func (s *Server) removeCall(c *Call) bool {
	if !s.calls.remove(c, s.clock.Now()) {
		return false
	}
	s.pool.Release(c.Bandwidth())
	c.endpoint.removeCall(c)
	s.metrics.calls.Set(float64(s.calls.len()))
	s.metrics.bandwidthUsed.Set(float64(s.pool.Used()))
	s.emit(Event{Type: EventDisengaged, EndpointID: c.endpoint.id, CallID: c.key.id, Bandwidth: c.Bandwidth()})
	return true
}

func (s *Server) nextSeq() uint16 {
	for {
		seq := uint16(s.seq.Add(1))
		if seq != 0 && seq != ras.UnsolicitedIRRSeq {
			return seq
		}
	}
}

// request отправляет запрос гейткипера (IRQ, URQ, DRQ, LRQ) и ждет ответа
func (s *Server) request(ctx context.Context, req ras.Message, to *net.UDPAddr, timeout time.Duration) (ras.Message, error) {
	if s.closed.Load() && req.Type() != ras.TypeURQ {
		return nil, ErrClosed
	}
	seq := s.nextSeq()
	req.SetSeq(seq)
	data, err := ras.Encode(req)
	if err != nil {
		return nil, errors.Wrapf(err, "encode %s", req.Type())
	}

	replies := make(chan ras.Message, 2)
	s.mu.Lock()
	s.pending[seq] = replies
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		delete(s.pending, seq)
		s.mu.Unlock()
	}()

	if err := s.sock.WriteTo(data, to); err != nil {
		return nil, err
	}
	if timeout <= 0 {
		return nil, errors.Wrapf(ErrTimeout, "%s", req.Type())
	}

	timer := s.clock.Timer(timeout)
	defer timer.Stop()
	for {
		select {
		case reply, ok := <-replies:
			if !ok {
				return nil, ErrClosed
			}
			if rip, isRIP := reply.(*ras.RIP); isRIP {
				timer.Reset(time.Duration(rip.Delay) * time.Millisecond)
				continue
			}
			return reply, nil
		case <-timer.C:
			return nil, errors.Wrapf(ErrTimeout, "%s to %s", req.Type(), to)
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// deliver передает ответ ожидающему запросу гейткипера.
// Отправка идет под s.mu: Close закрывает каналы под тем же мьютексом.
func (s *Server) deliver(msg ras.Message) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	ch, ok := s.pending[msg.Seq()]
	if !ok {
		return false
	}
	select {
	case ch <- msg:
	default:
	}
	return true
}

// handlePacket обрабатывает датаграмму из RAS сокета. Повторы запроса
// получают сохраненный ответ или RIP, если запрос еще обрабатывается.
func (s *Server) handlePacket(data []byte, from *net.UDPAddr) {
	msg, err := ras.Decode(data)
	if err != nil {
		s.logger.Debug("Server.handlePacket", slog.String("from", from.String()), slog.String("error", err.Error()))
		return
	}

	t := msg.Type()
	if !t.IsRequest() && t != ras.TypeIRR {
		if !s.deliver(msg) {
			s.logger.Debug("Server.handlePacket", slog.String("type", t.String()), slog.Int("seq", int(msg.Seq())), slog.String("result", "no transaction"))
		}
		return
	}
	// незапрошенные IRR всегда имеют номер 1 и в кэш не попадают
	cached := t != ras.TypeIRR
	if !cached {
		if irr := msg.(*ras.IRR); !irr.Unsolicited {
			s.deliver(msg)
		}
	}

	key := fmt.Sprintf("%s|%d|%d", from, msg.Seq(), t)
	entry := &cachedReply{}
	if cached {
		if found, _ := s.cache.ContainsOrAdd(key, entry); found {
			s.metrics.duplicates.Inc()
			if prev, ok := s.cache.Get(key); ok {
				s.answerDuplicate(msg, prev, from)
			}
			return
		}
	}

	if err := s.sem.Acquire(s.ctx, 1); err != nil {
		return
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer s.sem.Release(1)

		reply, to := s.process(msg, from)
		if reply == nil {
			if cached {
				s.cache.Remove(key)
			}
			return
		}
		out, err := ras.Encode(reply)
		if err != nil {
			s.logger.Error("Server.reply", slog.String("type", reply.Type().String()), slog.String("error", err.Error()))
			if cached {
				s.cache.Remove(key)
			}
			return
		}
		entry.mu.Lock()
		entry.data, entry.to = out, to
		entry.mu.Unlock()
		if err := s.sock.WriteTo(out, to); err != nil {
			s.logger.Warn("Server.reply", slog.String("error", err.Error()))
		}
	}()
}

func (s *Server) answerDuplicate(msg ras.Message, prev *cachedReply, from *net.UDPAddr) {
	prev.mu.Lock()
	data, to := prev.data, prev.to
	prev.mu.Unlock()

	if data == nil {
		rip := &ras.RIP{
			Header: ras.Header{RequestSeqNum: msg.Seq()},
			Delay:  uint16(s.cfg.RequestInProgressDelay / time.Millisecond),
		}
		out, err := ras.Encode(rip)
		if err != nil {
			return
		}
		data, to = out, from
		s.logger.Debug("Server.handlePacket", slog.String("type", msg.Type().String()), slog.Int("seq", int(msg.Seq())), slog.String("result", "in progress"))
	}
	if err := s.sock.WriteTo(data, to); err != nil {
		s.logger.Warn("Server.reply", slog.String("error", err.Error()))
	}
}

// process выполняет запрос и возвращает ответ с адресом получателя.
// Все отказы оформляются PDU отказа соответствующего типа.
func (s *Server) process(msg ras.Message, from *net.UDPAddr) (ras.Message, *net.UDPAddr) {
	var reply ras.Message
	to := from

	switch m := msg.(type) {
	case *ras.GRQ:
		reply = s.onGRQ(m, from)
	case *ras.RRQ:
		reply = s.onRRQ(m, from)
	case *ras.URQ:
		reply = s.onURQ(m, from)
	case *ras.ARQ:
		reply = s.onARQ(m, from)
	case *ras.DRQ:
		reply = s.onDRQ(m)
	case *ras.BRQ:
		reply = s.onBRQ(m)
	case *ras.LRQ:
		reply = s.onLRQ(m)
		if !m.ReplyAddress.IsZero() && !m.ReplyAddress.IP.IsUnspecified() {
			to = m.ReplyAddress.UDPAddr()
		}
	case *ras.IRR:
		reply = s.onIRR(m)
	default:
		reply = &ras.XRS{}
	}
	if reply == nil {
		return nil, nil
	}
	reply.SetSeq(msg.Seq())

	result := reply.Type().String()
	s.metrics.requests.WithLabelValues(msg.Type().String(), result).Inc()
	if reason := ras.RejectReason(reply); reason != "" {
		s.logger.Info("Server.process", slog.String("request", msg.Type().String()), slog.String("reply", result), slog.String("reason", reason), slog.String("from", from.String()))
		s.emit(Event{Type: EventRejected, Request: msg.Type().String(), Reason: reason})
	} else {
		s.logger.Debug("Server.process", slog.String("request", msg.Type().String()), slog.String("reply", result), slog.String("from", from.String()))
	}
	return reply, to
}

// fixAddress подставляет адрес источника вместо неуказанного IP
func fixAddress(a h225.TransportAddress, from *net.UDPAddr) h225.TransportAddress {
	if len(a.IP) == 0 || a.IP.IsUnspecified() {
		a.IP = h225.TransportAddressFromNet(from).IP
	}
	return a
}

func fixAddresses(list []h225.TransportAddress, from *net.UDPAddr) []h225.TransportAddress {
	out := make([]h225.TransportAddress, len(list))
	for i, a := range list {
		out[i] = fixAddress(a, from)
	}
	return out
}

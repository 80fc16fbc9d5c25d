// Package gkclient реализует RAS клиент конечной точки: поиск гейткипера,
// регистрацию с поддержкой keep-alive, допуск и завершение вызовов.
package gkclient

import (
	"context"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/arzzra/h323/pkg/h225"
	"github.com/arzzra/h323/pkg/ras"
	"github.com/arzzra/h323/pkg/transport"
	"github.com/benbjohnson/clock"
	"github.com/pkg/errors"
)

// AdmissionRequest параметры ARQ
type AdmissionRequest struct {
	CallID                h225.GUID
	ConferenceID          h225.GUID
	CallReference         uint16
	Answer                bool
	DestinationAliases    []h225.AliasAddress
	DestCallSignalAddress *h225.TransportAddress
	SourceAliases         []h225.AliasAddress
	SrcCallSignalAddress  *h225.TransportAddress
	// Bandwidth в единицах 100 бит/с
	Bandwidth uint32
}

// Admission результат успешного допуска
type Admission struct {
	DestCallSignalAddress h225.TransportAddress
	Bandwidth             uint32
	CallModel             ras.CallModel
	IRRFrequency          uint32
	DestinationAliases    []h225.AliasAddress
}

// DisengageRequest параметры DRQ
type DisengageRequest struct {
	CallID        h225.GUID
	ConferenceID  h225.GUID
	CallReference uint16
	Answer        bool
	Reason        ras.DisengageReason
}

type transaction struct {
	request ras.MessageType
	replies chan ras.Message
}

// Client RAS клиент. Безопасен для конкурентного использования.
type Client struct {
	cfg    Config
	logger *slog.Logger
	clock  clock.Clock
	sock   *transport.UDPSocket

	seq atomic.Uint32

	mu           sync.Mutex
	gkAddr       *net.UDPAddr
	gatekeeperID string
	endpointID   string
	aliases      []h225.AliasAddress
	ttl          time.Duration
	discovered   bool
	registered   bool
	mechanism    string
	keepAlive    *clock.Timer
	pending      map[uint16]*transaction
	closed       bool
}

// New создает клиента и открывает RAS сокет
func New(cfg Config) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	cfg.applyDefaults()

	gk, err := net.ResolveUDPAddr("udp", cfg.GatekeeperAddress)
	if err != nil {
		return nil, errors.Wrap(err, "resolve gatekeeper address")
	}

	c := &Client{
		cfg:          cfg,
		logger:       cfg.Logger.With(slog.String("component", "gkclient")),
		clock:        cfg.Clock,
		gkAddr:       gk,
		gatekeeperID: cfg.GatekeeperID,
		ttl:          cfg.TimeToLive,
		pending:      make(map[uint16]*transaction),
	}
	for _, a := range cfg.Aliases {
		c.aliases = append(c.aliases, h225.ParseAlias(a))
	}
	// номер 1 зарезервирован для незапрошенных IRR
	c.seq.Store(uint32(ras.UnsolicitedIRRSeq))

	sock, err := transport.ListenUDP(cfg.LocalAddress, cfg.Transport, c.handlePacket)
	if err != nil {
		return nil, err
	}
	c.sock = sock
	return c, nil
}

// LocalAddress адрес RAS сокета клиента
func (c *Client) LocalAddress() h225.TransportAddress {
	return h225.TransportAddressFromNet(c.sock.LocalAddr())
}

// EndpointID идентификатор, присвоенный гейткипером
func (c *Client) EndpointID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.endpointID
}

// GatekeeperID идентификатор гейткипера
func (c *Client) GatekeeperID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.gatekeeperID
}

// Aliases алиасы, подтвержденные гейткипером
func (c *Client) Aliases() []h225.AliasAddress {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]h225.AliasAddress(nil), c.aliases...)
}

// Registered возвращает true при действующей регистрации
func (c *Client) Registered() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.registered
}

// Discover выполняет поиск гейткипера (GRQ)
func (c *Client) Discover(ctx context.Context) error {
	grq := &ras.GRQ{
		RASAddress:      c.LocalAddress(),
		EndpointType:    c.cfg.EndpointType,
		GatekeeperID:    c.cfg.GatekeeperID,
		EndpointAliases: c.Aliases(),
	}
	if c.cfg.Auth.Enabled() {
		grq.AuthenticationCapability = c.cfg.Auth.Mechanisms()
	}
	reply, err := c.request(ctx, grq)
	if err != nil {
		return err
	}
	gcf, ok := reply.(*ras.GCF)
	if !ok {
		return errors.Wrapf(ErrUnexpectedReply, "%s", reply.Type())
	}

	c.mu.Lock()
	c.gatekeeperID = gcf.GatekeeperID
	if !gcf.RASAddress.IsZero() && !gcf.RASAddress.IP.IsUnspecified() {
		c.gkAddr = gcf.RASAddress.UDPAddr()
	}
	c.mechanism = gcf.Authentication
	c.discovered = true
	c.mu.Unlock()

	c.logger.Info("Client.Discover",
		slog.String("gatekeeper_id", gcf.GatekeeperID),
		slog.String("ras", gcf.RASAddress.String()))
	return nil
}

// Register выполняет полную регистрацию (RRQ) и запускает keep-alive.
// При отказе discoveryRequired выполняется поиск и повторная регистрация.
func (c *Client) Register(ctx context.Context) error {
	err := c.register(ctx)
	if reason, ok := rejectReason(err); ok && reason == ras.RRJDiscoveryRequired {
		if err := c.Discover(ctx); err != nil {
			return err
		}
		err = c.register(ctx)
	}
	return err
}

func (c *Client) register(ctx context.Context) error {
	c.mu.Lock()
	rrq := &ras.RRQ{
		DiscoveryComplete:   c.discovered,
		CallSignalAddresses: c.cfg.CallSignalAddresses,
		RASAddresses:        []h225.TransportAddress{h225.TransportAddressFromNet(c.sock.LocalAddr())},
		TerminalType:        c.cfg.EndpointType,
		TerminalAliases:     append([]h225.AliasAddress(nil), c.aliases...),
		GatekeeperID:        c.gatekeeperID,
		TimeToLive:          uint32(c.cfg.TimeToLive / time.Second),
	}
	c.mu.Unlock()
	rrq.Tokens = c.tokens()

	reply, err := c.request(ctx, rrq)
	if err != nil {
		return err
	}
	rcf, ok := reply.(*ras.RCF)
	if !ok {
		return errors.Wrapf(ErrUnexpectedReply, "%s", reply.Type())
	}

	c.mu.Lock()
	c.endpointID = rcf.EndpointIdentifier
	if rcf.GatekeeperID != "" {
		c.gatekeeperID = rcf.GatekeeperID
	}
	if len(rcf.TerminalAliases) > 0 {
		c.aliases = rcf.TerminalAliases
	}
	if rcf.TimeToLive > 0 {
		c.ttl = time.Duration(rcf.TimeToLive) * time.Second
	}
	c.registered = true
	c.scheduleKeepAliveLocked()
	c.mu.Unlock()

	c.logger.Info("Client.Register",
		slog.String("endpoint_id", rcf.EndpointIdentifier),
		slog.Any("aliases", h225.AliasStrings(rcf.TerminalAliases)))
	return nil
}

// KeepAlive отправляет облегченный RRQ. Алиасы и адреса не передаются
// и гейткипером не меняются.
func (c *Client) KeepAlive(ctx context.Context) error {
	c.mu.Lock()
	if !c.registered {
		c.mu.Unlock()
		return ErrNotRegistered
	}
	rrq := &ras.RRQ{
		DiscoveryComplete:   c.discovered,
		CallSignalAddresses: c.cfg.CallSignalAddresses,
		RASAddresses:        []h225.TransportAddress{h225.TransportAddressFromNet(c.sock.LocalAddr())},
		TerminalType:        c.cfg.EndpointType,
		GatekeeperID:        c.gatekeeperID,
		TimeToLive:          uint32(c.ttl / time.Second),
		KeepAlive:           true,
		EndpointIdentifier:  c.endpointID,
	}
	c.mu.Unlock()
	rrq.Tokens = c.tokens()

	reply, err := c.request(ctx, rrq)
	if err != nil {
		if IsRejected(err, ras.TypeRRQ) {
			c.mu.Lock()
			c.registered = false
			c.mu.Unlock()
		}
		return err
	}
	if _, ok := reply.(*ras.RCF); !ok {
		return errors.Wrapf(ErrUnexpectedReply, "%s", reply.Type())
	}
	c.mu.Lock()
	c.scheduleKeepAliveLocked()
	c.mu.Unlock()
	c.logger.Debug("Client.KeepAlive", slog.String("endpoint_id", rrq.EndpointIdentifier))
	return nil
}

func (c *Client) scheduleKeepAliveLocked() {
	if c.keepAlive != nil {
		c.keepAlive.Stop()
		c.keepAlive = nil
	}
	if c.ttl <= 0 || c.closed {
		return
	}
	// обновление заранее, чтобы регистрация не истекла на гейткипере
	interval := c.ttl - c.ttl/4
	c.keepAlive = c.clock.AfterFunc(interval, func() {
		go c.refresh()
	})
}

func (c *Client) refresh() {
	ctx, cancel := context.WithTimeout(context.Background(), c.cfg.RequestTimeout*time.Duration(c.cfg.MaxRetries+1))
	defer cancel()
	err := c.KeepAlive(ctx)
	if err == nil || errors.Is(err, ErrClosed) {
		return
	}
	c.logger.Warn("Client.refresh", slog.String("error", err.Error()))
	if !c.Registered() {
		if err := c.Register(ctx); err != nil {
			c.logger.Error("Client.refresh", slog.String("error", err.Error()))
		}
		return
	}
	c.mu.Lock()
	c.scheduleKeepAliveLocked()
	c.mu.Unlock()
}

// Unregister снимает регистрацию (URQ)
func (c *Client) Unregister(ctx context.Context) error {
	c.mu.Lock()
	if !c.registered {
		c.mu.Unlock()
		return ErrNotRegistered
	}
	urq := &ras.URQ{
		CallSignalAddresses: c.cfg.CallSignalAddresses,
		EndpointAliases:     append([]h225.AliasAddress(nil), c.aliases...),
		EndpointIdentifier:  c.endpointID,
		GatekeeperID:        c.gatekeeperID,
	}
	c.mu.Unlock()
	urq.Tokens = c.tokens()

	_, err := c.request(ctx, urq)

	c.mu.Lock()
	c.registered = false
	if c.keepAlive != nil {
		c.keepAlive.Stop()
		c.keepAlive = nil
	}
	c.mu.Unlock()
	return err
}

// Admit запрашивает допуск вызова (ARQ)
func (c *Client) Admit(ctx context.Context, req AdmissionRequest) (*Admission, error) {
	c.mu.Lock()
	if !c.registered {
		c.mu.Unlock()
		return nil, ErrNotRegistered
	}
	arq := &ras.ARQ{
		EndpointIdentifier:    c.endpointID,
		DestinationInfo:       req.DestinationAliases,
		DestCallSignalAddress: req.DestCallSignalAddress,
		SrcInfo:               req.SourceAliases,
		SrcCallSignalAddress:  req.SrcCallSignalAddress,
		BandWidth:             req.Bandwidth,
		CallReferenceValue:    req.CallReference,
		ConferenceID:          req.ConferenceID,
		AnswerCall:            req.Answer,
		CallIdentifier:        req.CallID,
		GatekeeperID:          c.gatekeeperID,
		CanMapAlias:           true,
	}
	if len(arq.SrcInfo) == 0 {
		arq.SrcInfo = append([]h225.AliasAddress(nil), c.aliases...)
	}
	c.mu.Unlock()
	arq.Tokens = c.tokens()

	reply, err := c.request(ctx, arq)
	if err != nil {
		return nil, err
	}
	acf, ok := reply.(*ras.ACF)
	if !ok {
		return nil, errors.Wrapf(ErrUnexpectedReply, "%s", reply.Type())
	}
	return &Admission{
		DestCallSignalAddress: acf.DestCallSignalAddress,
		Bandwidth:             acf.BandWidth,
		CallModel:             acf.CallModel,
		IRRFrequency:          acf.IRRFrequency,
		DestinationAliases:    acf.DestinationInfo,
	}, nil
}

// Disengage сообщает о завершении вызова (DRQ)
func (c *Client) Disengage(ctx context.Context, req DisengageRequest) error {
	c.mu.Lock()
	if !c.registered {
		c.mu.Unlock()
		return ErrNotRegistered
	}
	drq := &ras.DRQ{
		EndpointIdentifier: c.endpointID,
		ConferenceID:       req.ConferenceID,
		CallReferenceValue: req.CallReference,
		Reason:             req.Reason,
		CallIdentifier:     req.CallID,
		AnswerCall:         req.Answer,
		GatekeeperID:       c.gatekeeperID,
	}
	c.mu.Unlock()
	drq.Tokens = c.tokens()

	_, err := c.request(ctx, drq)
	return err
}

// ChangeBandwidth запрашивает изменение полосы вызова (BRQ) и возвращает выделенную
func (c *Client) ChangeBandwidth(ctx context.Context, callID, conferenceID h225.GUID, callRef uint16, answer bool, bandwidth uint32) (uint32, error) {
	c.mu.Lock()
	if !c.registered {
		c.mu.Unlock()
		return 0, ErrNotRegistered
	}
	brq := &ras.BRQ{
		EndpointIdentifier: c.endpointID,
		ConferenceID:       conferenceID,
		CallReferenceValue: callRef,
		BandWidth:          bandwidth,
		CallIdentifier:     callID,
		AnswerCall:         answer,
		GatekeeperID:       c.gatekeeperID,
	}
	c.mu.Unlock()
	brq.Tokens = c.tokens()

	reply, err := c.request(ctx, brq)
	if err != nil {
		return 0, err
	}
	bcf, ok := reply.(*ras.BCF)
	if !ok {
		return 0, errors.Wrapf(ErrUnexpectedReply, "%s", reply.Type())
	}
	return bcf.BandWidth, nil
}

// Locate определяет адрес сигнализации по алиасам (LRQ)
func (c *Client) Locate(ctx context.Context, aliases []h225.AliasAddress) (h225.TransportAddress, error) {
	c.mu.Lock()
	lrq := &ras.LRQ{
		EndpointIdentifier: c.endpointID,
		DestinationInfo:    aliases,
		ReplyAddress:       h225.TransportAddressFromNet(c.sock.LocalAddr()),
		SourceInfo:         append([]h225.AliasAddress(nil), c.aliases...),
		GatekeeperID:       c.gatekeeperID,
		CanMapAlias:        true,
	}
	c.mu.Unlock()
	lrq.Tokens = c.tokens()

	reply, err := c.request(ctx, lrq)
	if err != nil {
		return h225.TransportAddress{}, err
	}
	lcf, ok := reply.(*ras.LCF)
	if !ok {
		return h225.TransportAddress{}, errors.Wrapf(ErrUnexpectedReply, "%s", reply.Type())
	}
	return lcf.CallSignalAddress, nil
}

// Close останавливает keep-alive и закрывает сокет. Регистрация не снимается.
func (c *Client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	if c.keepAlive != nil {
		c.keepAlive.Stop()
		c.keepAlive = nil
	}
	for seq, tr := range c.pending {
		close(tr.replies)
		delete(c.pending, seq)
	}
	c.mu.Unlock()
	return c.sock.Close()
}

func (c *Client) tokens() []h225.Token {
	if !c.cfg.Auth.Enabled() {
		return nil
	}
	c.mu.Lock()
	mech, gkID := c.mechanism, c.gatekeeperID
	c.mu.Unlock()
	if mech != "" {
		tok, err := c.cfg.Auth.CreateToken(mech, c.cfg.Credentials, gkID)
		if err == nil {
			return []h225.Token{tok}
		}
		c.logger.Warn("Client.tokens", slog.String("mechanism", mech), slog.String("error", err.Error()))
	}
	toks, err := c.cfg.Auth.CreateTokens(c.cfg.Credentials, gkID)
	if err != nil {
		c.logger.Warn("Client.tokens", slog.String("error", err.Error()))
		return nil
	}
	return toks
}

func (c *Client) nextSeq() uint16 {
	for {
		seq := uint16(c.seq.Add(1))
		if seq != ras.UnsolicitedIRRSeq && seq != 0 {
			return seq
		}
	}
}

func rejectReason(err error) (ras.RegistrationRejectReason, bool) {
	var rej *RejectError
	if errors.As(err, &rej) {
		return rej.RegistrationReason()
	}
	return 0, false
}

package gatekeeper

import (
	"context"
	"log/slog"
	"net"
	"time"

	"github.com/arzzra/h323/pkg/h225"
	"github.com/arzzra/h323/pkg/ras"
	"github.com/google/uuid"
)

// checkTokens проверяет токены запроса. Для зарегистрированной точки
// принимаются только токены ее отправителя.
func (s *Server) checkTokens(e *RegisteredEndpoint, tokens []h225.Token) bool {
	if !s.cfg.Auth.Enabled() {
		return true
	}
	sender := ""
	if e != nil {
		e.mu.RLock()
		sender = e.senderID
		e.mu.RUnlock()
	}
	err := s.cfg.Auth.Validate(tokens, func(id string) (string, bool) {
		if sender != "" && id != sender {
			return "", false
		}
		pw, ok := s.cfg.Passwords[id]
		return pw, ok
	})
	if err != nil {
		s.logger.Debug("Server.checkTokens", slog.String("error", err.Error()))
		return false
	}
	return true
}

// checkAliasTokens альтернативная проверка ARQ по учетным данным алиаса
func (s *Server) checkAliasTokens(tokens []h225.Token, aliases []h225.AliasAddress) bool {
	err := s.cfg.Auth.Validate(tokens, func(id string) (string, bool) {
		for _, a := range aliases {
			if a.Value == id {
				pw, ok := s.cfg.Passwords[id]
				return pw, ok
			}
		}
		return "", false
	})
	return err == nil
}

func (s *Server) wrongGatekeeper(id string) bool {
	return id != "" && id != s.cfg.ID
}

func senderOf(tokens []h225.Token) string {
	for _, t := range tokens {
		if t.SenderID != "" {
			return t.SenderID
		}
	}
	return ""
}

func (s *Server) onGRQ(m *ras.GRQ, from *net.UDPAddr) ras.Message {
	if s.wrongGatekeeper(m.GatekeeperID) {
		return &ras.GRJ{GatekeeperID: s.cfg.ID, Reason: ras.GRJTerminalExcluded}
	}
	gcf := &ras.GCF{
		GatekeeperID: s.cfg.ID,
		RASAddress:   h225.TransportAddressFromNet(s.sock.LocalAddr()),
	}
	if s.cfg.Auth.Enabled() {
		mech, ok := s.cfg.Auth.Select(m.AuthenticationCapability)
		if !ok {
			return &ras.GRJ{GatekeeperID: s.cfg.ID, Reason: ras.GRJSecurityDenial}
		}
		gcf.Authentication = mech
	}
	s.logger.Info("Server.onGRQ", slog.String("from", from.String()), slog.Any("aliases", h225.AliasStrings(m.EndpointAliases)))
	return gcf
}

func (s *Server) ttlFor(requested uint32) time.Duration {
	ttl := time.Duration(requested) * time.Second
	if ttl <= 0 {
		ttl = s.cfg.DefaultTTL
	}
	if s.cfg.MaxTTL > 0 && ttl > s.cfg.MaxTTL {
		ttl = s.cfg.MaxTTL
	}
	return ttl
}

func (s *Server) rcf(e *RegisteredEndpoint) *ras.RCF {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return &ras.RCF{
		CallSignalAddresses: append([]h225.TransportAddress(nil), e.signalAddrs...),
		TerminalAliases:     append([]h225.AliasAddress(nil), e.aliases...),
		GatekeeperID:        s.cfg.ID,
		EndpointIdentifier:  e.id,
		TimeToLive:          uint32(e.ttl / time.Second),
		WillRespondToIRR:    true,
	}
}

// onRRQ регистрация. Облегченный RRQ только продлевает TTL. Полный RRQ
// известной точки должен содержать все ее текущие адреса и алиасы.
func (s *Server) onRRQ(m *ras.RRQ, from *net.UDPAddr) ras.Message {
	if s.wrongGatekeeper(m.GatekeeperID) {
		return &ras.RRJ{GatekeeperID: s.cfg.ID, Reason: ras.RRJUndefinedReason}
	}
	now := s.clock.Now()

	if m.KeepAlive {
		e := s.endpoints.findByID(m.EndpointIdentifier)
		if e == nil {
			return &ras.RRJ{GatekeeperID: s.cfg.ID, Reason: ras.RRJFullRegistrationRequired}
		}
		defer s.endpoints.release(e)
		if !s.checkTokens(e, m.Tokens) {
			return &ras.RRJ{GatekeeperID: s.cfg.ID, Reason: ras.RRJSecurityDenial}
		}
		e.mu.Lock()
		e.lastSeen = now
		if m.TimeToLive > 0 {
			e.ttl = s.ttlFor(m.TimeToLive)
		}
		e.mu.Unlock()
		s.logger.Debug("Server.onRRQ", slog.String("endpoint_id", e.id), slog.Bool("keep_alive", true))
		return s.rcf(e)
	}

	if len(m.CallSignalAddresses) == 0 {
		return &ras.RRJ{GatekeeperID: s.cfg.ID, Reason: ras.RRJInvalidCallSignalAddress}
	}
	if len(m.RASAddresses) == 0 {
		return &ras.RRJ{GatekeeperID: s.cfg.ID, Reason: ras.RRJInvalidRASAddress}
	}
	signal := fixAddresses(m.CallSignalAddresses, from)
	rasAddrs := fixAddresses(m.RASAddresses, from)

	var e *RegisteredEndpoint
	if m.EndpointIdentifier != "" {
		e = s.endpoints.findByID(m.EndpointIdentifier)
		if e == nil {
			return &ras.RRJ{GatekeeperID: s.cfg.ID, Reason: ras.RRJDiscoveryRequired}
		}
		if !e.covers(signal, m.TerminalAliases) {
			s.endpoints.release(e)
			return &ras.RRJ{GatekeeperID: s.cfg.ID, Reason: ras.RRJDiscoveryRequired}
		}
	} else {
		// повторная регистрация с того же адреса сигнализации, например
		// после перезапуска точки, заменяет прежнюю
		e = s.endpoints.findBySignal(signal[0])
	}
	fresh := e == nil
	if fresh {
		e = s.endpoints.acquire(newRegisteredEndpoint(uuid.NewString()))
	}
	defer s.endpoints.release(e)

	sender := senderOf(m.Tokens)
	if !fresh {
		e.mu.RLock()
		if e.senderID != "" {
			sender = e.senderID
		}
		e.mu.RUnlock()
	}
	if !s.checkTokens(e, m.Tokens) {
		return &ras.RRJ{GatekeeperID: s.cfg.ID, Reason: ras.RRJSecurityDenial}
	}

	aliases, err := s.endpoints.register(e, registration{
		aliases:      m.TerminalAliases,
		signalAddrs:  signal,
		rasAddrs:     rasAddrs,
		prefixes:     m.VoicePrefixes,
		endpointType: m.TerminalType,
		senderID:     sender,
	})
	switch err {
	case nil:
	case errDuplicateAlias:
		return &ras.RRJ{GatekeeperID: s.cfg.ID, Reason: ras.RRJDuplicateAlias, DuplicateAliases: aliases}
	case errPoolExhausted:
		return &ras.RRJ{GatekeeperID: s.cfg.ID, Reason: ras.RRJResourceUnavailable}
	default:
		return &ras.RRJ{GatekeeperID: s.cfg.ID, Reason: ras.RRJUndefinedReason}
	}

	e.mu.Lock()
	e.ttl = s.ttlFor(m.TimeToLive)
	e.lastSeen = now
	e.mu.Unlock()

	s.metrics.endpoints.Set(float64(s.endpoints.len()))
	s.logger.Info("Server.onRRQ",
		slog.String("endpoint_id", e.id),
		slog.Any("aliases", h225.AliasStrings(aliases)),
		slog.String("signal", signal[0].String()),
		slog.Bool("fresh", fresh))
	s.emit(Event{Type: EventRegistered, EndpointID: e.id, Aliases: aliases})
	return s.rcf(e)
}

// findRequester находит точку запроса по идентификатору, а без него по адресу сигнализации
func (s *Server) findRequester(id string, signal []h225.TransportAddress, from *net.UDPAddr) *RegisteredEndpoint {
	if id != "" {
		return s.endpoints.findByID(id)
	}
	for _, a := range signal {
		if e := s.endpoints.findBySignal(fixAddress(a, from)); e != nil {
			return e
		}
	}
	return nil
}

func (s *Server) onURQ(m *ras.URQ, from *net.UDPAddr) ras.Message {
	if s.wrongGatekeeper(m.GatekeeperID) {
		return &ras.URJ{Reason: ras.URJUndefinedReason}
	}
	e := s.findRequester(m.EndpointIdentifier, m.CallSignalAddresses, from)
	if e == nil {
		return &ras.URJ{Reason: ras.URJNotCurrentlyRegistered}
	}
	defer s.endpoints.release(e)
	if !s.checkTokens(e, m.Tokens) {
		return &ras.URJ{Reason: ras.URJSecurityDenial}
	}
	s.removeEndpoint(e, EventUnregistered, "unregistration request")
	return &ras.UCF{}
}

// onARQ допуск вызова. Повторный ARQ того же вызова и направления
// обслуживается существующим объектом вызова.
func (s *Server) onARQ(m *ras.ARQ, from *net.UDPAddr) ras.Message {
	if s.wrongGatekeeper(m.GatekeeperID) {
		return &ras.ARJ{Reason: ras.ARJUndefinedReason}
	}
	e := s.endpoints.findByID(m.EndpointIdentifier)
	if e == nil {
		return &ras.ARJ{Reason: ras.ARJCallerNotRegistered}
	}
	defer s.endpoints.release(e)
	if !s.checkTokens(e, m.Tokens) {
		if !s.checkAliasTokens(m.Tokens, m.SrcInfo) {
			return &ras.ARJ{Reason: ras.ARJSecurityDenial}
		}
	}

	key := callKey{id: m.CallIdentifier, answer: m.AnswerCall}
	if key.id.IsZero() {
		return &ras.ARJ{Reason: ras.ARJUndefinedReason}
	}

	ctx, cancel := context.WithTimeout(s.ctx, s.cfg.LocateTimeout+time.Second)
	defer cancel()

	c, created, _ := s.calls.acquireOrCreate(key, func() (*Call, error) {
		c := &Call{
			conferenceID: m.ConferenceID,
			callRef:      m.CallReferenceValue,
			endpoint:     e,
			srcAliases:   m.SrcInfo,
			srcHost:      m.SrcCallSignalAddress,
			dstAliases:   m.DestinationInfo,
			started:      s.clock.Now(),
			lastIRR:      s.clock.Now(),
		}
		c.admission.Lock()
		return c, nil
	})
	defer s.calls.release(c)

	if !created {
		return s.reAdmit(c, m)
	}

	reject := s.admit(ctx, c, m, from)
	if reject != nil {
		c.rejected = reject
		s.dropCall(c)
	}
	c.admission.Unlock()
	if reject != nil {
		return reject
	}

	e.addCall(c)
	s.metrics.calls.Set(float64(s.calls.len()))
	s.metrics.bandwidthUsed.Set(float64(s.pool.Used()))
	s.logger.Info("Server.onARQ",
		slog.String("call_id", key.id.String()),
		slog.Bool("answer", key.answer),
		slog.String("destination", c.Destination().String()),
		slog.Int("bandwidth", int(c.Bandwidth())))
	s.emit(Event{Type: EventAdmitted, EndpointID: e.id, CallID: key.id, Bandwidth: c.Bandwidth()})
	return s.acf(c)
}

// reAdmit повторный ARQ: ждет завершения первого допуска и перераспределяет
// полосу без ограничения первого выделения. Нулевая полоса в запросе
// сохраняет текущее выделение.
func (s *Server) reAdmit(c *Call, m *ras.ARQ) ras.Message {
	c.admission.Lock()
	defer c.admission.Unlock()
	if c.rejected != nil {
		reject := *c.rejected
		return &reject
	}
	if c.deleted.Load() {
		return &ras.ARJ{Reason: ras.ARJUndefinedReason}
	}

	c.mu.Lock()
	requested := m.BandWidth
	if requested == 0 {
		requested = c.bandwidth
	}
	granted, ok := s.pool.Allocate(c.bandwidth, requested, false)
	if ok {
		c.bandwidth = granted
	}
	c.mu.Unlock()
	if !ok {
		return &ras.ARJ{Reason: ras.ARJResourceUnavailable}
	}
	s.metrics.bandwidthUsed.Set(float64(s.pool.Used()))
	return s.acf(c)
}

// dropCall убирает не допущенный вызов и возвращает выделенную ему полосу
func (s *Server) dropCall(c *Call) {
	if !s.calls.remove(c, s.clock.Now()) {
		return
	}
	c.mu.Lock()
	bw := c.bandwidth
	c.bandwidth = 0
	c.mu.Unlock()
	s.pool.Release(bw)
	s.metrics.bandwidthUsed.Set(float64(s.pool.Used()))
}

// admit проверяет новый вызов политикой, определяет назначение и выделяет полосу
func (s *Server) admit(ctx context.Context, c *Call, m *ras.ARQ, from *net.UDPAddr) *ras.ARJ {
	e := c.endpoint
	req := CallRequest{
		Endpoint:           e,
		Answer:             m.AnswerCall,
		SourceAliases:      m.SrcInfo,
		SourceAddress:      m.SrcCallSignalAddress,
		DestinationAliases: m.DestinationInfo,
	}

	var dest h225.TransportAddress
	var dstAliases []h225.AliasAddress
	if m.AnswerCall {
		addr, ok := e.signalAddress()
		if !ok {
			return &ras.ARJ{Reason: ras.ARJCalledPartyNotRegistered}
		}
		dest = addr
		dstAliases = e.Aliases()
	} else {
		switch {
		case len(m.DestinationInfo) > 0:
			r, err := s.resolve(ctx, m.DestinationInfo)
			if err != nil {
				for _, a := range m.DestinationInfo {
					if a.Kind == h225.AliasDialedDigits && s.endpoints.partialMatch(a.Value) {
						return &ras.ARJ{Reason: ras.ARJIncompleteAddress}
					}
				}
				return &ras.ARJ{Reason: ras.ARJCalledPartyNotRegistered}
			}
			s.endpoints.release(r.endpoint)
			dest, dstAliases = r.address, r.aliases
		case m.DestCallSignalAddress != nil && !m.DestCallSignalAddress.IsZero():
			dest = fixAddress(*m.DestCallSignalAddress, from)
		default:
			return &ras.ARJ{Reason: ras.ARJIncompleteAddress}
		}
	}
	req.Destination = dest
	if !s.cfg.Policy.AllowCall(req) {
		return &ras.ARJ{Reason: ras.ARJRequestDenied}
	}

	granted, ok := s.pool.Allocate(0, m.BandWidth, true)
	if !ok {
		return &ras.ARJ{Reason: ras.ARJResourceUnavailable}
	}
	c.mu.Lock()
	c.bandwidth = granted
	c.dstHost = dest
	if len(dstAliases) > 0 {
		c.dstAliases = dstAliases
	}
	c.mu.Unlock()
	return nil
}

func (s *Server) acf(c *Call) *ras.ACF {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return &ras.ACF{
		BandWidth:             c.bandwidth,
		CallModel:             ras.CallModelDirect,
		DestCallSignalAddress: c.dstHost,
		IRRFrequency:          uint32(s.cfg.IRRFrequency / time.Second),
		DestinationInfo:       append([]h225.AliasAddress(nil), c.dstAliases...),
		WillRespondToIRR:      true,
	}
}

// onDRQ отбой. Повторный DRQ уже удаленного вызова получает DRJ, полоса
// возвращается в пул один раз.
func (s *Server) onDRQ(m *ras.DRQ) ras.Message {
	if s.wrongGatekeeper(m.GatekeeperID) {
		return &ras.DRJ{Reason: ras.DRJNotRegistered}
	}
	e := s.endpoints.findByID(m.EndpointIdentifier)
	if e == nil {
		return &ras.DRJ{Reason: ras.DRJNotRegistered}
	}
	defer s.endpoints.release(e)
	if !s.checkTokens(e, m.Tokens) {
		return &ras.DRJ{Reason: ras.DRJSecurityDenial}
	}

	c := s.calls.acquire(callKey{id: m.CallIdentifier, answer: m.AnswerCall})
	if c == nil {
		return &ras.DRJ{Reason: ras.DRJRequestToDropOther}
	}
	defer s.calls.release(c)
	if c.endpoint != e {
		return &ras.DRJ{Reason: ras.DRJRequestToDropOther}
	}
	if s.removeCall(c) {
		s.logger.Info("Server.onDRQ", slog.String("call_id", m.CallIdentifier.String()), slog.Int("bandwidth", int(c.Bandwidth())))
	}
	return &ras.DCF{}
}

func (s *Server) onBRQ(m *ras.BRQ) ras.Message {
	if s.wrongGatekeeper(m.GatekeeperID) {
		return &ras.BRJ{Reason: ras.BRJUndefinedReason}
	}
	e := s.endpoints.findByID(m.EndpointIdentifier)
	if e == nil {
		return &ras.BRJ{Reason: ras.BRJNotBound}
	}
	defer s.endpoints.release(e)
	if !s.checkTokens(e, m.Tokens) {
		return &ras.BRJ{Reason: ras.BRJSecurityDenial}
	}

	c := s.calls.acquire(callKey{id: m.CallIdentifier, answer: m.AnswerCall})
	if c == nil || c.endpoint != e {
		s.calls.release(c)
		return &ras.BRJ{Reason: ras.BRJInvalidConferenceID}
	}
	defer s.calls.release(c)

	c.mu.Lock()
	granted, ok := s.pool.Allocate(c.bandwidth, m.BandWidth, false)
	if ok {
		c.bandwidth = granted
	}
	c.mu.Unlock()
	if !ok {
		return &ras.BRJ{Reason: ras.BRJInsufficientResources, AllowedBandWidth: c.Bandwidth() + s.pool.Available()}
	}
	s.metrics.bandwidthUsed.Set(float64(s.pool.Used()))
	return &ras.BCF{BandWidth: granted}
}

// onLRQ отвечает по реестру и статическим маршрутам, без DNS и соседей
func (s *Server) onLRQ(m *ras.LRQ) ras.Message {
	if s.wrongGatekeeper(m.GatekeeperID) && m.EndpointIdentifier != "" {
		return &ras.LRJ{Reason: ras.LRJUndefinedReason}
	}
	var requester *RegisteredEndpoint
	if m.EndpointIdentifier != "" {
		requester = s.endpoints.findByID(m.EndpointIdentifier)
		if requester == nil {
			return &ras.LRJ{Reason: ras.LRJNotRegistered}
		}
		defer s.endpoints.release(requester)
	}
	if !s.checkTokens(requester, m.Tokens) {
		return &ras.LRJ{Reason: ras.LRJSecurityDenial}
	}

	r, ok := s.resolveLocal(m.DestinationInfo)
	if !ok {
		return &ras.LRJ{Reason: ras.LRJRequestDenied}
	}
	lcf := &ras.LCF{CallSignalAddress: r.address, DestinationInfo: r.aliases}
	if r.endpoint != nil {
		if addr, ok := r.endpoint.rasAddress(); ok {
			lcf.RASAddress = addr
		}
		s.endpoints.release(r.endpoint)
	}
	if lcf.RASAddress.IsZero() {
		lcf.RASAddress = h225.TransportAddressFromNet(s.sock.LocalAddr())
	}
	return lcf
}

// onIRR обновляет время активности точки и ее вызовов. Ответ нужен только
// на незапрошенный IRR с needResponse.
func (s *Server) onIRR(m *ras.IRR) ras.Message {
	e := s.endpoints.findByID(m.EndpointIdentifier)
	if e == nil {
		if m.Unsolicited && m.NeedResponse {
			return &ras.INAK{Reason: ras.INAKNotRegistered}
		}
		return nil
	}
	defer s.endpoints.release(e)
	if !s.checkTokens(e, m.Tokens) {
		if m.Unsolicited && m.NeedResponse {
			return &ras.INAK{Reason: ras.INAKSecurityDenial}
		}
		return nil
	}

	now := s.clock.Now()
	e.touch(now)
	for _, info := range m.PerCallInfo {
		c := s.calls.acquire(callKey{id: info.CallIdentifier, answer: !info.Originator})
		if c == nil {
			continue
		}
		c.touch(now)
		s.calls.release(c)
	}
	if m.Unsolicited && m.NeedResponse {
		return &ras.IACK{}
	}
	return nil
}

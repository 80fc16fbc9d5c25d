package h323

import (
	"context"
	"log/slog"

	"github.com/arzzra/h323/pkg/gkclient"
	"github.com/arzzra/h323/pkg/h225"
	"github.com/arzzra/h323/pkg/q931"
	"github.com/arzzra/h323/pkg/ras"
	"github.com/arzzra/h323/pkg/transport"
	"github.com/pkg/errors"
)

const vendorVersion = "1.0"

func (c *Connection) endpointType() h225.EndpointType {
	return h225.EndpointType{Kind: h225.EndpointTerminal, Vendor: "arzzra", Version: vendorVersion}
}

func (c *Connection) newQ931Locked(t q931.MessageType) *q931.Message {
	return q931.NewMessage(t, c.callRef, !c.originating)
}

// sendSignalLocked отправляет сообщение Q.931 с H323-UU-PDU. Накопленные
// туннелированные сообщения H.245 уходят в h245Control.
func (c *Connection) sendSignalLocked(msg *q931.Message, body h225.Body) error {
	if c.signal == nil {
		return ErrInvalidState
	}
	uu := &h225.UserUserPDU{
		Body:           body,
		H245Tunnelling: c.tunnelling,
		H245Control:    c.takePendingH245Locked(),
	}
	pdu, err := h225.EncodeUserUser(uu)
	if err != nil {
		return errors.Wrapf(err, "encode %s", body.Type())
	}
	msg.SetUserUser(pdu)
	raw, err := msg.Marshal()
	if err != nil {
		return errors.Wrapf(err, "marshal %s", msg.Type)
	}
	c.logger.Debug("Connection.sendSignal", slog.String("message", msg.Type.String()), slog.Int("h245", len(uu.H245Control)))
	return c.signal.WriteFrame(raw)
}

func (c *Connection) sendReleaseCompleteLocked(reason CallEndReason) error {
	msg := c.newQ931Locked(q931.MsgReleaseComplete)
	msg.SetCause(reason.Q931Cause())
	body := &h225.ReleaseComplete{CallIdentifier: c.callID}
	body.Reason, body.HasReason = reason.ReleaseCompleteReason()
	return c.sendSignalLocked(msg, body)
}

func (c *Connection) sendFacilityLocked(reason h225.FacilityReason, body *h225.Facility) error {
	msg := c.newQ931Locked(q931.MsgFacility)
	if body == nil {
		// только туннелированные сообщения H.245
		return c.sendSignalLocked(msg, &h225.Empty{})
	}
	body.CallIdentifier = c.callID
	body.ConferenceID = c.conferenceID
	body.Reason = reason
	return c.sendSignalLocked(msg, body)
}

// q931CallStateLocked состояние вызова для Call State IE
func (c *Connection) q931CallStateLocked() q931.CallState {
	if c.state >= ShuttingDownConnection {
		return q931.CallStateNull
	}
	if c.state >= HasExecutedSignalConnect {
		return q931.CallStateActive
	}
	phase := Phase(c.phase.Current())
	if c.originating {
		switch phase {
		case PhaseProceeding:
			return q931.CallStateOutgoingProc
		case PhaseAlerting:
			return q931.CallStateCallDelivered
		}
		if c.state >= AwaitingSignalConnect {
			return q931.CallStateCallInitiated
		}
		return q931.CallStateNull
	}
	switch phase {
	case PhaseProceeding:
		return q931.CallStateIncomingProc
	case PhaseAlerting:
		return q931.CallStateCallReceived
	}
	return q931.CallStateCallPresent
}

func (c *Connection) sendStatusLocked(cause q931.CauseValue) error {
	msg := c.newQ931Locked(q931.MsgStatus)
	msg.SetCause(cause)
	msg.SetCallState(c.q931CallStateLocked())
	return c.sendSignalLocked(msg, &h225.Status{CallIdentifier: c.callID})
}

// readLoop читает сигнальный канал до RELEASE COMPLETE или ошибки
func (c *Connection) readLoop() {
	defer c.markPeerGone()
	for {
		frame, err := c.signal.ReadFrame()
		if err != nil {
			c.mu.Lock()
			if c.state < ShuttingDownConnection {
				reason := EndedByTransportFail
				if transport.IsTimeout(err) && c.state < HasExecutedSignalConnect {
					reason = EndedByNoAnswer
				}
				c.logger.Info("Connection.readLoop", slog.String("error", err.Error()))
				c.clearLocked(reason)
			}
			c.mu.Unlock()
			return
		}
		msg, err := q931.Unmarshal(frame)
		if err != nil {
			c.logger.Debug("Connection.readLoop", slog.String("error", err.Error()))
			continue
		}
		if msg.CallReference != c.callRef {
			c.logger.Debug("Connection.readLoop", slog.Int("call_ref", int(msg.CallReference)), slog.String("result", "foreign call reference"))
			continue
		}
		if c.handleSignal(msg) {
			return
		}
	}
}

func decodeUU(msg *q931.Message) (*h225.UserUserPDU, error) {
	raw, err := msg.UserUser()
	if err != nil {
		return nil, err
	}
	return h225.DecodeUserUser(raw)
}

// handleSignal обрабатывает одно сообщение Q.931. Возвращает true, когда
// удаленная сторона освободила вызов.
func (c *Connection) handleSignal(msg *q931.Message) bool {
	uu, err := decodeUU(msg)
	if err != nil && !errors.Is(err, q931.ErrNoUserUser) {
		c.logger.Debug("Connection.handleSignal", slog.String("message", msg.Type.String()), slog.String("error", err.Error()))
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.logger.Debug("Connection.handleSignal", slog.String("message", msg.Type.String()))

	c.withBatchLocked(func() {
		if uu != nil {
			c.handleUserUserLocked(uu)
		}
		switch msg.Type {
		case q931.MsgCallProceeding:
			if b, ok := bodyAs[*h225.CallProceeding](uu); ok {
				c.handleProgressLikeLocked(b.FastStart, b.FastConnectRefused, b.H245Address)
			}
			if c.originating {
				c.firePhaseLocked(evProceed)
			}
		case q931.MsgAlerting:
			if b, ok := bodyAs[*h225.Alerting](uu); ok {
				c.handleProgressLikeLocked(b.FastStart, b.FastConnectRefused, b.H245Address)
			}
			if c.originating {
				c.firePhaseLocked(evAlert)
			}
		case q931.MsgProgress:
			if b, ok := bodyAs[*h225.Progress](uu); ok {
				c.handleProgressLikeLocked(b.FastStart, b.FastConnectRefused, b.H245Address)
			}
		case q931.MsgConnect:
			c.handleConnectLocked(uu)
		case q931.MsgReleaseComplete:
			c.handleReleaseCompleteLocked(msg, uu)
		case q931.MsgFacility:
			if b, ok := bodyAs[*h225.Facility](uu); ok {
				c.handleFacilityLocked(b)
			}
		case q931.MsgInformation:
			c.handleInformationLocked(msg)
		case q931.MsgStatusEnquiry:
			_ = c.sendStatusLocked(q931.CauseStatusEnquiryResponse)
		case q931.MsgStatus:
			if cause, ok := msg.Cause(); ok && cause != q931.CauseStatusEnquiryResponse {
				c.logger.Info("Connection.status", slog.String("cause", cause.String()))
			}
		case q931.MsgSetupAcknowledge:
			c.logger.Info("Connection.setupAcknowledge", slog.String("result", "overlap sending"))
		case q931.MsgNotify, q931.MsgConnectAck:
		default:
			_ = c.sendStatusLocked(q931.CauseMessageNotImplemented)
		}
	})
	return c.remoteReleased
}

func bodyAs[T h225.Body](uu *h225.UserUserPDU) (T, bool) {
	var zero T
	if uu == nil {
		return zero, false
	}
	b, ok := uu.Body.(T)
	return b, ok
}

// handleUserUserLocked обрабатывает общие поля UU-PDU: флаг туннелирования
// и туннелированные сообщения H.245
func (c *Connection) handleUserUserLocked(uu *h225.UserUserPDU) {
	if c.tunnelling && !uu.H245Tunnelling && c.h245ch == nil {
		c.tunnelling = false
		c.logger.Info("Connection.tunnelling", slog.String("result", "disabled by remote"))
	}
	if !c.tunnelling || !uu.H245Tunnelling {
		return
	}
	for _, raw := range uu.H245Control {
		c.handleH245Locked(raw)
	}
}

func (c *Connection) handleProgressLikeLocked(fastStart [][]byte, refused bool, h245Addr *h225.TransportAddress) {
	if c.originating {
		c.handleFastStartResponseLocked(fastStart, refused)
	}
	c.handleH245AddressLocked(h245Addr)
}

func (c *Connection) handleH245AddressLocked(addr *h225.TransportAddress) {
	if addr == nil || addr.IsZero() || c.h245ch != nil || c.tunnelling || c.state >= ShuttingDownConnection {
		return
	}
	go c.connectH245(*addr)
}

func (c *Connection) handleConnectLocked(uu *h225.UserUserPDU) {
	if !c.originating || c.state >= HasExecutedSignalConnect {
		return
	}
	b, _ := bodyAs[*h225.Connect](uu)
	c.setStateLocked(HasExecutedSignalConnect)
	c.firePhaseLocked(evConnect)
	if b != nil {
		if !b.ConferenceID.IsZero() {
			c.conferenceID = b.ConferenceID
		}
		c.handleFastStartResponseLocked(b.FastStart, false)
		c.handleH245AddressLocked(b.H245Address)
	}
	if c.fastStart == FastStartInitiate {
		// ответ fast start не получен до CONNECT
		c.disableFastStartLocked()
	}
	c.startConnectedTimersLocked()
	c.startH245Locked()
	c.checkEstablishedLocked()
}

func (c *Connection) handleReleaseCompleteLocked(msg *q931.Message, uu *h225.UserUserPDU) {
	c.remoteReleased = true
	c.markPeerGone()
	cause, hasCause := msg.Cause()
	var (
		reason    h225.ReleaseCompleteReason
		hasReason bool
	)
	if b, ok := bodyAs[*h225.ReleaseComplete](uu); ok {
		reason, hasReason = b.Reason, b.HasReason
	}
	endReason := remoteEndReason(reason, hasReason, cause, hasCause)
	if c.state < HasExecutedSignalConnect && endReason == EndedByRemoteUser && !c.originating {
		endReason = EndedByCallerAbort
	}
	c.clearLocked(endReason)
}

func (c *Connection) handleFacilityLocked(f *h225.Facility) {
	switch f.Reason {
	case h225.FacilityCallForwarded, h225.FacilityRouteCallToGatekeeper, h225.FacilityRouteCallToMC:
		if f.AlternativeAddress == nil && len(f.AlternativeAliases) == 0 {
			break
		}
		c.logger.Info("Connection.facility", slog.String("reason", f.Reason.String()))
		c.emitLocked(Event{
			Type:           EventCallForwarded,
			ForwardAddress: f.AlternativeAddress,
			ForwardAliases: f.AlternativeAliases,
		})
		if c.originating && c.cfg.AutoForward {
			c.ep.scheduleForward(c, f.AlternativeAddress, f.AlternativeAliases)
		}
		c.clearLocked(EndedByCallForwarded)
		return
	}
	if c.originating && len(f.FastStart) > 0 {
		c.handleFastStartResponseLocked(f.FastStart, false)
	}
	c.handleH245AddressLocked(f.H245Address)
}

func (c *Connection) handleInformationLocked(msg *q931.Message) {
	digits, ok := msg.CalledPartyNumber()
	if !ok || digits == "" {
		return
	}
	c.calledNumber += digits
	c.logger.Debug("Connection.information", slog.String("called", c.calledNumber))
	select {
	case c.digits <- struct{}{}:
	default:
	}
}

// SendDigits добавляет цифры к номеру назначения. До отправки SETUP цифры
// дополняют номер для повторного ARQ, после передаются в INFORMATION.
func (c *Connection) SendDigits(digits string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state >= ShuttingDownConnection {
		return ErrCallCleared
	}
	if !c.originating {
		return ErrInvalidState
	}
	if c.signal == nil {
		c.calledNumber += digits
		c.destAliases = []h225.AliasAddress{h225.NewDialedDigits(c.calledNumber)}
		select {
		case c.digits <- struct{}{}:
		default:
		}
		return nil
	}
	msg := c.newQ931Locked(q931.MsgInformation)
	msg.SetCalledPartyNumber(digits)
	c.calledNumber += digits
	return c.sendSignalLocked(msg, &h225.Information{CallIdentifier: c.callID})
}

// --- исходящий вызов ---

// runOutgoing выполняет допуск, соединение и отправку SETUP, затем читает
// сигнальный канал
func (c *Connection) runOutgoing(ctx context.Context, network string) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-c.clearing:
			cancel()
		case <-ctx.Done():
		}
	}()

	c.mu.Lock()
	target := c.destAddress
	if c.cfg.Gatekeeper != nil {
		c.setStateLocked(AwaitingGatekeeperAdmission)
	}
	c.mu.Unlock()

	if c.cfg.Gatekeeper != nil {
		adm, reason, err := c.admitOutgoing(ctx)
		if err != nil {
			c.logger.Warn("Connection.admission", slog.String("error", err.Error()))
			c.ClearCall(reason)
			return
		}
		if !adm.DestCallSignalAddress.IsZero() {
			target = &adm.DestCallSignalAddress
		}
	}
	if target == nil || target.IsZero() {
		c.ClearCall(EndedByUnreachable)
		return
	}

	c.mu.Lock()
	c.setStateLocked(AwaitingTransportConnect)
	c.remoteAddress = target.String()
	c.mu.Unlock()

	ch, err := transport.Dial(ctx, network, target.String(), c.cfg.Transport)
	if err != nil {
		reason := EndedByConnectFail
		if ctx.Err() != nil {
			reason = EndedByCallerAbort
		}
		c.logger.Warn("Connection.dial", slog.String("address", target.String()), slog.String("error", err.Error()))
		c.ClearCall(reason)
		return
	}

	c.mu.Lock()
	if c.state >= ShuttingDownConnection {
		c.mu.Unlock()
		_ = ch.Close()
		return
	}
	c.signal = ch
	c.setStateLocked(AwaitingSignalConnect)
	if c.cfg.SignallingTimeout > 0 {
		ch.SetReadTimeout(c.cfg.SignallingTimeout)
	}
	if err := c.sendSetupLocked(target); err != nil {
		c.logger.Warn("Connection.sendSetup", slog.String("error", err.Error()))
		c.clearLocked(EndedByTransportFail)
		c.mu.Unlock()
		return
	}
	c.mu.Unlock()

	c.readLoop()
}

func (c *Connection) sendSetupLocked(target *h225.TransportAddress) error {
	msg := c.newQ931Locked(q931.MsgSetup)
	msg.SetBearerCapability(q931.BearerSpeech)
	if c.cfg.DisplayName != "" {
		msg.SetDisplay(c.cfg.DisplayName)
	}
	if c.calledNumber != "" {
		msg.SetCalledPartyNumber(c.calledNumber)
	}
	for _, a := range c.localAliases {
		if a.Kind == h225.AliasDialedDigits {
			msg.SetCallingPartyNumber(a.Value)
			break
		}
	}

	src := h225.TransportAddressFromNet(c.signal.LocalAddr())
	setup := &h225.Setup{
		SourceAliases:           c.localAliases,
		SourceCallSignalAddress: &src,
		DestinationAliases:      c.destAliases,
		DestCallSignalAddress:   target,
		ConferenceID:            c.conferenceID,
		CallIdentifier:          c.callID,
		SourceInfo:              c.endpointType(),
		CanOverlapSend:          true,
	}
	if c.cfg.FastStart {
		setup.FastStart = c.buildFastStartOffersLocked()
	}
	return c.sendSignalLocked(msg, setup)
}

// admitOutgoing запрашивает допуск исходящего вызова. При ARJ
// incompleteAddress ждет дополнительных цифр и повторяет запрос.
func (c *Connection) admitOutgoing(ctx context.Context) (*gkclient.Admission, CallEndReason, error) {
	for {
		c.mu.Lock()
		req := gkclient.AdmissionRequest{
			CallID:                c.callID,
			ConferenceID:          c.conferenceID,
			CallReference:         c.callRef,
			DestinationAliases:    append([]h225.AliasAddress(nil), c.destAliases...),
			DestCallSignalAddress: c.destAddress,
			SourceAliases:         c.localAliases,
			Bandwidth:             c.bandwidth,
		}
		c.mu.Unlock()

		adm, err := c.cfg.Gatekeeper.Admit(ctx, req)
		if err == nil {
			c.admitted(adm)
			return adm, 0, nil
		}
		var rej *gkclient.RejectError
		if errors.As(err, &rej) {
			if r, ok := rej.AdmissionReason(); ok && r == ras.ARJIncompleteAddress {
				c.logger.Info("Connection.admission", slog.String("result", "incomplete address, waiting for digits"))
				select {
				case <-c.digits:
					continue
				case <-ctx.Done():
					return nil, EndedByCallerAbort, ctx.Err()
				}
			}
		}
		if ctx.Err() != nil {
			return nil, EndedByCallerAbort, err
		}
		return nil, admissionEndReason(err), err
	}
}

func (c *Connection) admitted(adm *gkclient.Admission) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.admission = adm
	if adm.Bandwidth > 0 && (c.bandwidth == 0 || adm.Bandwidth < c.bandwidth) {
		c.bandwidth = adm.Bandwidth
	}
	c.emitLocked(Event{Type: EventAdmission})
}

// admissionEndReason причина завершения по ошибке допуска
func admissionEndReason(err error) CallEndReason {
	var rej *gkclient.RejectError
	if !errors.As(err, &rej) {
		return EndedByGatekeeper
	}
	r, ok := rej.AdmissionReason()
	if !ok {
		return EndedByGkAdmissionFailed
	}
	switch r {
	case ras.ARJCalledPartyNotRegistered:
		return EndedByNoUser
	case ras.ARJResourceUnavailable:
		return EndedByNoBandwidth
	case ras.ARJSecurityDenial, ras.ARJSecurityErrors, ras.ARJSecurityDHMismatch:
		return EndedBySecurityDenial
	case ras.ARJNoRouteToDestination, ras.ARJUnallocatedNumber:
		return EndedByUnreachable
	case ras.ARJExceedsCallCapacity:
		return EndedByRemoteCongestion
	}
	return EndedByGkAdmissionFailed
}

// --- входящий вызов ---

// handleIncomingSetup обрабатывает SETUP нового входящего вызова: fast start,
// допуск у гейткипера, CALL PROCEEDING и решение приложения
func (c *Connection) handleIncomingSetup(msg *q931.Message, uu *h225.UserUserPDU, setup *h225.Setup) {
	c.mu.Lock()
	c.remoteAliases = setup.SourceAliases
	c.destAliases = setup.DestinationAliases
	if !setup.ConferenceID.IsZero() {
		c.conferenceID = setup.ConferenceID
	}
	c.calledNumber, _ = msg.CalledPartyNumber()
	c.callingNumber, _ = msg.CallingPartyNumber()
	c.remoteDisplay = msg.Display()
	c.remoteAddress = c.signal.RemoteAddr().String()
	c.withBatchLocked(func() {
		c.handleUserUserLocked(uu)
		c.answerFastStartLocked(setup.FastStart)
	})
	if c.cfg.Gatekeeper != nil {
		c.setStateLocked(AwaitingGatekeeperAdmission)
	}
	c.mu.Unlock()

	if c.cfg.Gatekeeper != nil {
		src := h225.TransportAddressFromNet(c.signal.RemoteAddr())
		ctx, cancel := context.WithTimeout(context.Background(), c.cfg.SignallingTimeout)
		adm, err := c.cfg.Gatekeeper.Admit(ctx, gkclient.AdmissionRequest{
			CallID:               c.callID,
			ConferenceID:         c.conferenceID,
			CallReference:        c.callRef,
			Answer:               true,
			DestinationAliases:   c.localAliases,
			SourceAliases:        setup.SourceAliases,
			SrcCallSignalAddress: &src,
			Bandwidth:            c.bandwidth,
		})
		cancel()
		if err != nil {
			c.logger.Warn("Connection.admission", slog.String("error", err.Error()))
			c.ClearCall(admissionEndReason(err))
			return
		}
		c.admitted(adm)
	}

	c.mu.Lock()
	if c.state >= ShuttingDownConnection {
		c.mu.Unlock()
		return
	}
	c.setStateLocked(AwaitingLocalAnswer)
	c.signal.SetReadTimeout(0)
	body := &h225.CallProceeding{
		CallIdentifier:     c.callID,
		DestinationInfo:    c.endpointType(),
		FastConnectRefused: len(setup.FastStart) > 0 && c.fastStart == FastStartDisabled,
	}
	if err := c.sendSignalLocked(c.newQ931Locked(q931.MsgCallProceeding), body); err != nil {
		c.logger.Warn("Connection.callProceeding", slog.String("error", err.Error()))
		c.clearLocked(EndedByTransportFail)
		c.mu.Unlock()
		return
	}
	c.firePhaseLocked(evProceed)
	if c.cfg.SignallingTimeout > 0 {
		c.answerTimer = c.clock.AfterFunc(c.cfg.SignallingTimeout, func() {
			c.mu.Lock()
			defer c.mu.Unlock()
			if c.state == AwaitingLocalAnswer {
				c.clearLocked(EndedByNoAccept)
			}
		})
	}
	c.emitLocked(Event{Type: EventIncomingCall})
	call := IncomingCall{
		CallID:             c.callID,
		SourceAliases:      c.remoteAliases,
		DestinationAliases: c.destAliases,
		CalledNumber:       c.calledNumber,
		CallingNumber:      c.callingNumber,
		DisplayName:        c.remoteDisplay,
		RemoteAddress:      c.remoteAddress,
	}
	c.mu.Unlock()

	answer := AnswerNow
	if c.cfg.AnswerFunc != nil {
		answer = c.cfg.AnswerFunc(c, call)
	}
	c.logger.Info("Connection.answer", slog.Int("response", int(answer)))
	switch answer {
	case AnswerNow:
		if err := c.SetConnected(); err != nil {
			c.logger.Warn("Connection.answer", slog.String("error", err.Error()))
		}
	case AnswerAlerting:
		if err := c.SetAlerting(); err != nil {
			c.logger.Warn("Connection.answer", slog.String("error", err.Error()))
		}
	case AnswerDenied:
		c.ClearCall(EndedByAnswerDenied)
	}
}

// SetAlerting отправляет ALERTING для входящего вызова
func (c *Connection) SetAlerting() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.originating || c.state != AwaitingLocalAnswer {
		return ErrInvalidState
	}
	if Phase(c.phase.Current()) == PhaseAlerting {
		return nil
	}
	var err error
	c.withBatchLocked(func() {
		body := &h225.Alerting{
			CallIdentifier:  c.callID,
			DestinationInfo: c.endpointType(),
			FastStart:       c.fastStartElementsLocked(),
		}
		err = c.sendSignalLocked(c.newQ931Locked(q931.MsgAlerting), body)
	})
	if err != nil {
		return err
	}
	c.firePhaseLocked(evAlert)
	return nil
}

// SetProgressed отправляет PROGRESS с индикатором внутриполосной информации
func (c *Connection) SetProgressed() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.originating || c.state != AwaitingLocalAnswer {
		return ErrInvalidState
	}
	msg := c.newQ931Locked(q931.MsgProgress)
	msg.SetProgressIndicator(q931.ProgressInbandAvailable)
	var err error
	c.withBatchLocked(func() {
		err = c.sendSignalLocked(msg, &h225.Progress{
			CallIdentifier:  c.callID,
			DestinationInfo: c.endpointType(),
			FastStart:       c.fastStartElementsLocked(),
		})
	})
	return err
}

// SetConnected отвечает на входящий вызов (CONNECT) и запускает H.245
func (c *Connection) SetConnected() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.originating || c.state != AwaitingLocalAnswer {
		return ErrInvalidState
	}

	var err error
	c.withBatchLocked(func() {
		body := &h225.Connect{
			CallIdentifier:  c.callID,
			ConferenceID:    c.conferenceID,
			DestinationInfo: c.endpointType(),
			FastStart:       c.fastStartElementsLocked(),
		}
		if !c.tunnelling && c.h245ch == nil {
			addr, lerr := c.listenH245Locked()
			if lerr != nil {
				c.logger.Warn("Connection.listenH245", slog.String("error", lerr.Error()))
			} else {
				body.H245Address = addr
			}
		}
		c.setStateLocked(HasExecutedSignalConnect)
		c.startH245Locked()
		err = c.sendSignalLocked(c.newQ931Locked(q931.MsgConnect), body)
	})
	if err != nil {
		c.clearLocked(EndedByTransportFail)
		return err
	}
	c.firePhaseLocked(evConnect)
	c.startConnectedTimersLocked()
	c.checkEstablishedLocked()
	return nil
}

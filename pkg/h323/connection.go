package h323

import (
	"context"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/arzzra/h323/pkg/gkclient"
	"github.com/arzzra/h323/pkg/h225"
	"github.com/arzzra/h323/pkg/h245"
	"github.com/arzzra/h323/pkg/ras"
	"github.com/arzzra/h323/pkg/transport"
	"github.com/benbjohnson/clock"
	"github.com/looplab/fsm"
	"go.uber.org/multierr"
)

// Connection один вызов H.323: сигнализация Q.931/H.225, управление H.245
// и логические каналы. Все обработчики протокола выполняются под mu.
type Connection struct {
	ep     *Endpoint
	cfg    *Config
	logger *slog.Logger
	clock  clock.Clock

	callID       h225.GUID
	conferenceID h225.GUID
	callRef      uint16
	originating  bool

	mu      sync.Mutex
	state   ConnectionState
	phase   *fsm.FSM
	signal  *transport.Channel
	started time.Time

	localAliases  []h225.AliasAddress
	remoteAliases []h225.AliasAddress
	destAliases   []h225.AliasAddress
	destAddress   *h225.TransportAddress
	calledNumber  string
	callingNumber string
	remoteDisplay string
	remoteAddress string

	// управление H.245
	tunnelling  bool
	pendingH245 [][]byte
	batching    int
	h245ch      *transport.Channel
	h245ln      *transport.Listener
	h245Started bool

	msd             *msdProcedure
	localCaps       *h245.CapabilityTable
	remoteCaps      *h245.CapabilityTable
	synthesizedCaps bool
	tcsSeq          uint8
	tcsSent         bool
	tcsAcked        bool
	remoteTCS       bool
	remoteHold      bool
	localHold       bool

	fastStart         FastStartState
	fastStartOffers   map[uint16]*fastStartOffer
	fastStartResponse [][]byte

	channels      []*LogicalChannel
	nextChannel   uint16
	sessions      map[uint8]*mediaSession
	rejected      map[string]bool
	bandwidth     uint32
	bandwidthUsed uint32

	modeSeq    uint8
	rtdSeq     uint8
	rtdPending bool
	probeHeld  bool

	answerTimer   *clock.Timer
	noMediaTimer  *clock.Timer
	durationTimer *clock.Timer
	rtdTimer      *clock.Timer

	admission *gkclient.Admission
	// digits сигнализирует о поступлении цифр при ожидании полного номера
	digits chan struct{}

	endReason      CallEndReason
	remoteReleased bool
	clearOnce      sync.Once
	clearing       chan struct{}
	peerGoneOnce   sync.Once
	peerGone       chan struct{}
	done           chan struct{}
}

func newConnection(ep *Endpoint, originating bool, callID h225.GUID, callRef uint16) *Connection {
	c := &Connection{
		ep:           ep,
		cfg:          &ep.cfg,
		clock:        ep.cfg.Clock,
		callID:       callID,
		conferenceID: callID,
		callRef:      callRef,
		originating:  originating,
		started:      ep.cfg.Clock.Now(),
		localAliases: ep.cfg.aliasAddresses(),
		tunnelling:   ep.cfg.H245Tunnelling,
		localCaps:    h245.BuildTable(ep.cfg.Capabilities),
		remoteCaps:   h245.NewCapabilityTable(),
		nextChannel:  firstChannelNumber,
		sessions:     make(map[uint8]*mediaSession),
		rejected:     make(map[string]bool),
		bandwidth:    ep.cfg.Bandwidth,
		digits:       make(chan struct{}, 1),
		clearing:     make(chan struct{}),
		peerGone:     make(chan struct{}),
		done:         make(chan struct{}),
	}
	c.logger = ep.cfg.Logger.With(
		slog.String("component", "h323"),
		slog.String("call_id", callID.String()),
		slog.String("direction", direction(originating)),
	)
	c.msd = newMSDProcedure(ep.cfg.TerminalType, ep.cfg.MaxMSDRetries, ep.cfg.DeterminationNumber, func(m h245.Message) error {
		return c.sendH245Locked(m)
	})
	c.phase = newPhaseMachine(c.phaseChanged)
	return c
}

// CallID идентификатор вызова
func (c *Connection) CallID() h225.GUID { return c.callID }

// ConferenceID идентификатор конференции
func (c *Connection) ConferenceID() h225.GUID { return c.conferenceID }

// IsOriginating возвращает true для исходящего вызова
func (c *Connection) IsOriginating() bool { return c.originating }

// Done закрывается после полного освобождения вызова
func (c *Connection) Done() <-chan struct{} { return c.done }

// State текущее состояние установления соединения
func (c *Connection) State() ConnectionState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Phase текущая фаза вызова
func (c *Connection) Phase() Phase {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Phase(c.phase.Current())
}

// EndReason причина завершения, имеет смысл после закрытия Done
func (c *Connection) EndReason() CallEndReason {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.endReason
}

// RemoteAliases алиасы удаленной стороны
func (c *Connection) RemoteAliases() []h225.AliasAddress {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]h225.AliasAddress(nil), c.remoteAliases...)
}

// RemoteCapabilities таблица возможностей удаленной стороны
func (c *Connection) RemoteCapabilities() *h245.CapabilityTable {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.remoteCaps
}

// MasterSlaveStatus результат определения ведущего/ведомого
func (c *Connection) MasterSlaveStatus() MSDStatus {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.msd.determined() {
		return MSDIndeterminate
	}
	return c.msd.status
}

// setStateLocked переводит соединение вперед. Переход назад отклоняется.
func (c *Connection) setStateLocked(s ConnectionState) bool {
	if s <= c.state {
		return false
	}
	c.logger.Debug("Connection.setState", slog.String("from", c.state.String()), slog.String("to", s.String()))
	c.state = s
	return true
}

func (c *Connection) firePhaseLocked(event string) {
	if err := c.phase.Event(context.Background(), event); err != nil {
		c.logger.Debug("Connection.firePhase", slog.String("event", event), slog.String("error", err.Error()))
	}
}

// phaseChanged вызывается автоматом фаз после перехода, под mu
func (c *Connection) phaseChanged(from, to Phase) {
	c.logger.Info("Connection.phase", slog.String("from", from.String()), slog.String("to", to.String()))
	switch to {
	case PhaseProceeding:
		c.emitLocked(Event{Type: EventProceeding})
	case PhaseAlerting:
		c.emitLocked(Event{Type: EventAlerting})
	case PhaseConnected:
		c.emitLocked(Event{Type: EventConnected})
	case PhaseEstablished:
		c.emitLocked(Event{Type: EventEstablished})
	}
}

func (c *Connection) emitLocked(ev Event) {
	ev.Connection = c
	c.ep.events.push(ev)
}

func (c *Connection) mediaIPLocked() net.IP {
	if c.cfg.MediaIP != nil {
		return c.cfg.MediaIP
	}
	if c.signal != nil {
		if ta := h225.TransportAddressFromNet(c.signal.LocalAddr()); !ta.IP.IsUnspecified() {
			return ta.IP
		}
	}
	return nil
}

// checkEstablishedLocked переводит вызов в EstablishedConnection, когда
// открыты каналы в обоих направлениях без незавершенных процедур и
// завершены определение ведущего и обмен возможностями. При подтвержденном
// fast start без транспорта H.245 второе условие считается выполненным.
func (c *Connection) checkEstablishedLocked() {
	if c.state != HasExecutedSignalConnect {
		return
	}
	tx, rx, pending := c.channelCountsLocked()
	if tx == 0 || rx == 0 || pending > 0 {
		return
	}
	h245Done := c.msd.determined() && c.remoteTCS && c.tcsAcked
	fastOnly := c.fastStart == FastStartAcknowledged && !c.h245ActiveLocked()
	if !h245Done && !fastOnly {
		return
	}
	c.setStateLocked(EstablishedConnection)
	stopTimer(&c.noMediaTimer)
	c.firePhaseLocked(evEstablish)
}

// ClearCall завершает вызов с указанной причиной. Повторные вызовы
// ничего не делают, освобождение выполняется асинхронно.
func (c *Connection) ClearCall(reason CallEndReason) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.clearLocked(reason)
}

// ClearCallSynchronous завершает вызов и ждет освобождения
func (c *Connection) ClearCallSynchronous(ctx context.Context, reason CallEndReason) error {
	c.ClearCall(reason)
	select {
	case <-c.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *Connection) clearLocked(reason CallEndReason) {
	c.clearOnce.Do(func() {
		c.endReason = reason
		c.logger.Info("Connection.clear", slog.String("reason", reason.String()), slog.String("state", c.state.String()))
		close(c.clearing)
		go c.release()
	})
}

func (c *Connection) markPeerGone() {
	c.peerGoneOnce.Do(func() { close(c.peerGone) })
}

func stopTimer(t **clock.Timer) {
	if *t != nil {
		(*t).Stop()
		*t = nil
	}
}

func (c *Connection) stopTimersLocked() {
	stopTimer(&c.answerTimer)
	stopTimer(&c.noMediaTimer)
	stopTimer(&c.durationTimer)
	stopTimer(&c.rtdTimer)
}

// release выполняет завершение: endSession, RELEASE COMPLETE, ожидание
// удаленной стороны, закрытие транспортов и DRQ
func (c *Connection) release() {
	c.mu.Lock()
	c.state = ShuttingDownConnection
	c.firePhaseLocked(evRelease)
	c.stopTimersLocked()
	reason := c.endReason

	c.batching++
	if c.h245Started && c.h245ActiveLocked() && !(c.tunnelling && c.remoteReleased) {
		_ = c.sendH245Locked(&h245.EndSessionCommand{})
	}
	c.batching--
	sentRelease := false
	if c.signal != nil && !c.remoteReleased {
		if err := c.sendReleaseCompleteLocked(reason); err != nil {
			c.logger.Debug("Connection.release", slog.String("error", err.Error()))
		} else {
			sentRelease = true
		}
	}
	signal, h245ch, h245ln := c.signal, c.h245ch, c.h245ln
	c.mu.Unlock()

	if sentRelease {
		select {
		case <-c.peerGone:
		case <-c.clock.After(c.cfg.EndSessionTimeout):
			c.logger.Debug("Connection.release", slog.String("result", "peer did not close"))
		}
	}

	var err error
	if h245ch != nil {
		err = multierr.Append(err, h245ch.Close())
	}
	if h245ln != nil {
		err = multierr.Append(err, h245ln.Close())
	}
	if signal != nil {
		err = multierr.Append(err, signal.Close())
	}
	if err != nil {
		c.logger.Debug("Connection.release", slog.String("close_error", err.Error()))
	}

	c.disengage(reason)

	c.mu.Lock()
	for _, lc := range c.channels {
		c.channelClosedLocked(lc)
	}
	for _, s := range c.sessions {
		c.ep.ports.release(s.rtp.Port)
	}
	c.firePhaseLocked(evReleased)
	c.emitLocked(Event{Type: EventCleared, Reason: reason})
	c.mu.Unlock()

	c.ep.metrics.callsEnded.WithLabelValues(reason.String()).Inc()
	c.ep.metrics.callsActive.Dec()
	c.logger.Info("Connection.released", slog.String("reason", reason.String()))
	close(c.done)
	c.ep.removeConnection(c)
}

func (c *Connection) disengage(reason CallEndReason) {
	c.mu.Lock()
	admitted := c.admission != nil
	c.mu.Unlock()
	if !admitted || c.cfg.Gatekeeper == nil {
		return
	}
	drqReason := ras.DisengageNormalDrop
	if reason == EndedByGatekeeper {
		drqReason = ras.DisengageForcedDrop
	}
	ctx, cancel := context.WithTimeout(context.Background(), c.cfg.EndSessionTimeout+c.cfg.Transport.WriteTimeout)
	defer cancel()
	err := c.cfg.Gatekeeper.Disengage(ctx, gkclient.DisengageRequest{
		CallID:        c.callID,
		ConferenceID:  c.conferenceID,
		CallReference: c.callRef,
		Answer:        !c.originating,
		Reason:        drqReason,
	})
	if err != nil {
		c.logger.Warn("Connection.disengage", slog.String("error", err.Error()))
	}
}

// perCallInfo сведения о вызове для IRR
func (c *Connection) perCallInfo() ras.PerCallInfo {
	c.mu.Lock()
	defer c.mu.Unlock()
	bw := c.bandwidth
	if c.admission != nil {
		bw = c.admission.Bandwidth
	}
	return ras.PerCallInfo{
		CallReferenceValue: c.callRef,
		ConferenceID:       c.conferenceID,
		CallIdentifier:     c.callID,
		Originator:         c.originating,
		BandWidth:          bw,
	}
}

// startConnectedTimersLocked запускает таймеры после CONNECT
func (c *Connection) startConnectedTimersLocked() {
	stopTimer(&c.answerTimer)
	if c.signal != nil {
		c.signal.SetReadTimeout(0)
	}
	if c.cfg.NoMediaTimeout > 0 && c.noMediaTimer == nil {
		c.noMediaTimer = c.clock.AfterFunc(c.cfg.NoMediaTimeout, func() {
			c.mu.Lock()
			defer c.mu.Unlock()
			if c.state == HasExecutedSignalConnect {
				c.logger.Warn("Connection.noMedia", slog.Duration("timeout", c.cfg.NoMediaTimeout))
				c.clearLocked(EndedByCapabilityExchange)
			}
		})
	}
	if c.cfg.MaxCallDuration > 0 && c.durationTimer == nil {
		c.durationTimer = c.clock.AfterFunc(c.cfg.MaxCallDuration, func() {
			c.ClearCall(EndedByDurationLimit)
		})
	}
}

// --- H.245 ---

// h245ActiveLocked есть туннель или отдельный канал H.245
func (c *Connection) h245ActiveLocked() bool {
	return c.h245ch != nil || (c.tunnelling && c.signal != nil)
}

// sendH245Locked отправляет сообщение H.245 по отдельному каналу или через
// туннель. В туннеле сообщения накапливаются и уходят со следующим
// сообщением сигнализации.
func (c *Connection) sendH245Locked(m h245.Message) error {
	data, err := h245.Encode(m)
	if err != nil {
		return err
	}
	c.logger.Debug("Connection.sendH245", slog.String("message", h245.MessageName(m)))
	if c.h245ch != nil {
		return c.h245ch.WriteFrame(data)
	}
	if !c.tunnelling && c.h245ln == nil {
		return ErrNoControlChannel
	}
	c.pendingH245 = append(c.pendingH245, data)
	if c.batching == 0 {
		return c.flushTunnelLocked()
	}
	return nil
}

// withBatchLocked выполняет fn, отправляя накопленные сообщения H.245 одним пакетом
func (c *Connection) withBatchLocked(fn func()) {
	c.batching++
	fn()
	c.batching--
	if c.batching == 0 {
		if err := c.flushTunnelLocked(); err != nil {
			c.logger.Debug("Connection.flushTunnel", slog.String("error", err.Error()))
		}
	}
}

// flushTunnelLocked отправляет накопленные туннелированные сообщения в FACILITY
func (c *Connection) flushTunnelLocked() error {
	if len(c.pendingH245) == 0 || !c.tunnelling || c.signal == nil || c.h245ch != nil {
		return nil
	}
	if c.state < AwaitingSignalConnect {
		// до SETUP сообщения ждут первого PDU
		return nil
	}
	return c.sendFacilityLocked(h225.FacilityUndefined, nil)
}

func (c *Connection) takePendingH245Locked() [][]byte {
	if !c.tunnelling || c.h245ch != nil {
		return nil
	}
	out := c.pendingH245
	c.pendingH245 = nil
	return out
}

// startH245Locked запускает обмен возможностями и определение ведущего
func (c *Connection) startH245Locked() {
	if c.h245Started || !c.h245ActiveLocked() || c.state >= ShuttingDownConnection {
		return
	}
	c.h245Started = true
	c.withBatchLocked(func() {
		if err := c.sendCapabilitiesLocked(c.localHold); err != nil {
			c.logger.Warn("Connection.startH245", slog.String("error", err.Error()))
		}
		if err := c.msd.start(); err != nil {
			c.logger.Warn("Connection.startH245", slog.String("error", err.Error()))
		}
	})
	c.startRoundTripProbeLocked()
}

// handleH245Locked разбирает и обрабатывает одно сообщение H.245
func (c *Connection) handleH245Locked(raw []byte) {
	m, err := h245.Decode(raw)
	if err != nil {
		c.logger.Debug("Connection.handleH245", slog.String("error", err.Error()))
		return
	}
	c.logger.Debug("Connection.handleH245", slog.String("message", h245.MessageName(m)))

	switch msg := m.(type) {
	case *h245.MasterSlaveDetermination, *h245.MasterSlaveDeterminationAck,
		*h245.MasterSlaveDeterminationReject, *h245.MasterSlaveDeterminationRelease:
		done, err := c.msd.handle(msg)
		if err != nil {
			c.logger.Warn("Connection.masterSlave", slog.String("error", err.Error()))
			if _, ok := err.(*ProtocolError); ok {
				c.clearLocked(EndedByCapabilityExchange)
			}
			return
		}
		if done {
			c.logger.Info("Connection.masterSlave", slog.String("status", c.msd.status.String()))
			c.openChannelsLocked()
			c.checkEstablishedLocked()
		}
	case *h245.TerminalCapabilitySet:
		c.handleCapabilitySetLocked(msg)
	case *h245.TerminalCapabilitySetAck:
		c.handleCapabilitySetAckLocked(msg)
	case *h245.TerminalCapabilitySetReject:
		c.handleCapabilitySetRejectLocked(msg)
	case *h245.TerminalCapabilitySetRelease:
		c.logger.Info("Connection.handleH245", slog.String("result", "capability set released by remote"))
	case *h245.OpenLogicalChannel:
		c.handleOpenLogicalChannelLocked(msg)
	case *h245.OpenLogicalChannelAck:
		c.handleOLCAckLocked(msg)
	case *h245.OpenLogicalChannelReject:
		c.handleOLCRejectLocked(msg)
	case *h245.OpenLogicalChannelConfirm:
	case *h245.CloseLogicalChannel:
		c.handleCLCLocked(msg)
	case *h245.CloseLogicalChannelAck:
		c.handleCLCAckLocked(msg)
	case *h245.RequestChannelClose:
		c.handleRequestChannelCloseLocked(msg)
	case *h245.RequestChannelCloseAck, *h245.RequestChannelCloseReject, *h245.RequestChannelCloseRelease:
	case *h245.RequestMode:
		c.handleRequestModeLocked(msg)
	case *h245.RequestModeAck:
		c.handleRequestModeAckLocked(msg)
	case *h245.RequestModeReject:
		c.handleRequestModeRejectLocked(msg)
	case *h245.RequestModeRelease:
	case *h245.RoundTripDelayRequest:
		_ = c.sendH245Locked(&h245.RoundTripDelayResponse{SequenceNumber: msg.SequenceNumber})
	case *h245.RoundTripDelayResponse:
		c.handleRoundTripResponseLocked(msg)
	case *h245.SendTerminalCapabilitySet:
		_ = c.sendCapabilitiesLocked(c.localHold)
	case *h245.FlowControlCommand:
		c.handleFlowControlLocked(msg)
	case *h245.EndSessionCommand:
		c.logger.Info("Connection.handleH245", slog.String("result", "end session"))
		c.markPeerGone()
		c.clearLocked(EndedByRemoteUser)
	case *h245.UserInputIndication:
		c.handleUserInputLocked(msg)
	case *h245.FunctionNotUnderstood:
		c.logger.Info("Connection.handleH245", slog.String("result", "function not understood by remote"))
	case *h245.GenericMessage:
		c.logger.Debug("Connection.handleH245", slog.String("generic", msg.MessageIdentifier))
	case *h245.Unknown:
		if msg.Cat != h245.CatIndication {
			_ = c.sendH245Locked(&h245.FunctionNotUnderstood{Cat: msg.Cat, Raw: raw})
		}
	}

	if !c.h245Started && c.state >= HasExecutedSignalConnect {
		c.startH245Locked()
	}
}

// listenH245Locked открывает листенер отдельного канала H.245 и возвращает его адрес
func (c *Connection) listenH245Locked() (*h225.TransportAddress, error) {
	if c.h245ln != nil {
		addr := h225.TransportAddressFromNet(c.h245ln.Addr())
		return &addr, nil
	}
	host := ""
	if ip := c.mediaIPLocked(); ip != nil {
		host = ip.String()
	}
	ln, err := transport.Listen(transport.NetworkTCP, net.JoinHostPort(host, "0"), c.h245TransportConfig(), c.serveH245)
	if err != nil {
		return nil, err
	}
	c.h245ln = ln
	addr := h225.TransportAddressFromNet(ln.Addr())
	if ip := c.mediaIPLocked(); ip != nil {
		addr.IP = ip
	}
	return &addr, nil
}

func (c *Connection) h245TransportConfig() transport.Config {
	cfg := c.cfg.Transport
	cfg.ReadTimeout = 0
	cfg.MaxConnections = 1
	cfg.Logger = c.logger
	return cfg
}

// serveH245 обслуживает принятый канал H.245
func (c *Connection) serveH245(ch *transport.Channel) {
	c.mu.Lock()
	if c.h245ch != nil || c.state >= ShuttingDownConnection {
		c.mu.Unlock()
		return
	}
	c.attachH245Locked(ch)
	c.mu.Unlock()
	c.readH245(ch)
}

// connectH245 устанавливает отдельный канал H.245 по адресу удаленной стороны
func (c *Connection) connectH245(addr h225.TransportAddress) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		select {
		case <-c.clearing:
			cancel()
		case <-ctx.Done():
		}
	}()
	ch, err := transport.Dial(ctx, transport.NetworkTCP, addr.String(), c.h245TransportConfig())
	if err != nil {
		c.logger.Warn("Connection.connectH245", slog.String("address", addr.String()), slog.String("error", err.Error()))
		return
	}
	c.mu.Lock()
	if c.h245ch != nil || c.state >= ShuttingDownConnection {
		c.mu.Unlock()
		_ = ch.Close()
		return
	}
	c.attachH245Locked(ch)
	c.mu.Unlock()
	c.readH245(ch)
}

func (c *Connection) attachH245Locked(ch *transport.Channel) {
	c.h245ch = ch
	c.tunnelling = false
	c.logger.Info("Connection.h245Channel", slog.String("remote", ch.RemoteAddr().String()))
	for _, data := range c.pendingH245 {
		if err := ch.WriteFrame(data); err != nil {
			c.logger.Debug("Connection.h245Channel", slog.String("error", err.Error()))
		}
	}
	c.pendingH245 = nil
	if c.state >= HasExecutedSignalConnect {
		c.startH245Locked()
	}
}

func (c *Connection) readH245(ch *transport.Channel) {
	for {
		frame, err := ch.ReadFrame()
		if err != nil {
			c.mu.Lock()
			if c.state < ShuttingDownConnection && !transport.IsClosed(err) {
				c.logger.Warn("Connection.readH245", slog.String("error", err.Error()))
				c.clearLocked(EndedByTransportFail)
			}
			c.mu.Unlock()
			return
		}
		c.mu.Lock()
		c.withBatchLocked(func() { c.handleH245Locked(frame) })
		c.mu.Unlock()
	}
}

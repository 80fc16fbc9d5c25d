package h323

import (
	"fmt"
	"log/slog"
	"sync/atomic"

	"github.com/arzzra/h323/pkg/h225"
	"github.com/arzzra/h323/pkg/h245"
)

// firstChannelNumber первый номер локально открываемых каналов
const firstChannelNumber = 101

// ChannelState состояние логического канала
type ChannelState int32

const (
	ChannelOpening ChannelState = iota
	ChannelOpen
	ChannelClosing
	ChannelClosed
)

func (s ChannelState) String() string {
	switch s {
	case ChannelOpening:
		return "opening"
	case ChannelOpen:
		return "open"
	case ChannelClosing:
		return "closing"
	case ChannelClosed:
		return "closed"
	}
	return fmt.Sprintf("ChannelState(%d)", int32(s))
}

// LogicalChannel логический канал H.245.
// Номер уникален в паре с признаком FromRemote (кто выделил номер).
type LogicalChannel struct {
	Number     uint16
	FromRemote bool
	SessionID  uint8
	Capability h245.Capability
	// Direction DirTransmit для канала передачи, DirReceive для приема
	Direction h245.Direction

	state atomic.Int32
	// capID номер возможности в таблице, ограничивающей канал:
	// удаленной для передачи, локальной для приема
	capID     uint16
	fastStart bool
	stream    *MediaStream
}

// State текущее состояние канала
func (lc *LogicalChannel) State() ChannelState {
	return ChannelState(lc.state.Load())
}

func (lc *LogicalChannel) setState(s ChannelState) {
	lc.state.Store(int32(s))
}

// Stream медиа поток канала
func (lc *LogicalChannel) Stream() *MediaStream {
	return lc.stream
}

// IsActive канал открывается или открыт
func (lc *LogicalChannel) IsActive() bool {
	s := lc.State()
	return s == ChannelOpening || s == ChannelOpen
}

func (lc *LogicalChannel) String() string {
	origin := "local"
	if lc.FromRemote {
		origin = "remote"
	}
	return fmt.Sprintf("%d/%s %s %s", lc.Number, origin, lc.Direction, lc.Capability)
}

func (c *Connection) findChannelLocked(number uint16, fromRemote bool) *LogicalChannel {
	for _, lc := range c.channels {
		if lc.Number == number && lc.FromRemote == fromRemote && lc.State() != ChannelClosed {
			return lc
		}
	}
	return nil
}

// activeChannelLocked канал сессии в направлении dir, открывающийся или открытый
func (c *Connection) activeChannelLocked(session uint8, dir h245.Direction) *LogicalChannel {
	for _, lc := range c.channels {
		if lc.SessionID == session && lc.Direction == dir && lc.IsActive() {
			return lc
		}
	}
	return nil
}

func (c *Connection) capIDsLocked(dir h245.Direction) []uint16 {
	var ids []uint16
	for _, lc := range c.channels {
		if lc.Direction == dir && lc.IsActive() && lc.capID != 0 {
			ids = append(ids, lc.capID)
		}
	}
	return ids
}

// channelCountsLocked число открытых каналов по направлениям и число незавершенных
func (c *Connection) channelCountsLocked() (tx, rx, pending int) {
	for _, lc := range c.channels {
		switch lc.State() {
		case ChannelOpen:
			if lc.Direction == h245.DirTransmit {
				tx++
			} else {
				rx++
			}
		case ChannelOpening, ChannelClosing:
			pending++
		}
	}
	return tx, rx, pending
}

// Channels возвращает логические каналы вызова
func (c *Connection) Channels() []*LogicalChannel {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]*LogicalChannel, 0, len(c.channels))
	for _, lc := range c.channels {
		if lc.State() != ChannelClosed {
			out = append(out, lc)
		}
	}
	return out
}

func (c *Connection) allocChannelNumberLocked() uint16 {
	n := c.nextChannel
	c.nextChannel++
	return n
}

// sessionLocked возвращает RTP сессию, выделяя порты при первом обращении
func (c *Connection) sessionLocked(id uint8) (*mediaSession, error) {
	if s, ok := c.sessions[id]; ok {
		return s, nil
	}
	port, err := c.ep.ports.allocate()
	if err != nil {
		return nil, err
	}
	s := newMediaSession(id, c.mediaIPLocked(), port)
	c.sessions[id] = s
	return s, nil
}

func (c *Connection) addChannelLocked(lc *LogicalChannel, state ChannelState, sess *mediaSession) {
	lc.setState(state)
	lc.stream = newMediaStream(lc.Capability, lc.Direction, sess)
	c.channels = append(c.channels, lc)
	c.bandwidthUsed += lc.Capability.Format.MaxBitRate
}

func (c *Connection) bandwidthAvailableLocked(capability h245.Capability) bool {
	if c.bandwidth == 0 {
		return true
	}
	return c.bandwidthUsed+capability.Format.MaxBitRate <= c.bandwidth
}

func rejectKey(capability h245.Capability) string {
	return fmt.Sprintf("%d/%s", capability.SessionID(), capability.Format.Name)
}

func dynamicPayloadType(capability h245.Capability) uint8 {
	if capability.Format.PayloadType >= 96 && capability.Format.PayloadType <= 127 {
		return capability.Format.PayloadType
	}
	return 0
}

// openChannelsLocked открывает каналы передачи для сессий, в которых их еще нет.
// Вызывается после определения ведущего и получения возможностей удаленной стороны.
func (c *Connection) openChannelsLocked() {
	if !c.msd.determined() || !c.remoteTCS || c.remoteHold || c.state >= ShuttingDownConnection {
		return
	}
	for _, e := range c.localCaps.Entries() {
		local := e.Capability
		if !local.IsMedia() || !local.Direction.Allows(h245.DirTransmit) {
			continue
		}
		if c.activeChannelLocked(local.SessionID(), h245.DirTransmit) != nil || c.rejected[rejectKey(local)] {
			continue
		}
		id, _, ok := c.remoteCaps.Find(local, h245.DirReceive)
		if !ok || !c.remoteCaps.Allowed(id, c.capIDsLocked(h245.DirTransmit)) {
			continue
		}
		if err := c.openTransmitLocked(local, id); err != nil {
			c.logger.Warn("Connection.openChannels", slog.String("capability", local.String()), slog.String("error", err.Error()))
		}
	}
}

func (c *Connection) openTransmitLocked(capability h245.Capability, remoteID uint16) error {
	if !c.bandwidthAvailableLocked(capability) {
		return fmt.Errorf("insufficient bandwidth for %s", capability)
	}
	sess, err := c.sessionLocked(capability.SessionID())
	if err != nil {
		return err
	}
	capability.Direction = h245.DirTransmit
	lc := &LogicalChannel{
		Number:     c.allocChannelNumberLocked(),
		SessionID:  capability.SessionID(),
		Capability: capability,
		Direction:  h245.DirTransmit,
		capID:      remoteID,
	}
	c.addChannelLocked(lc, ChannelOpening, sess)

	dt := capability
	rtcp := sess.rtcp
	c.logger.Debug("Connection.openTransmit", slog.String("channel", lc.String()))
	return c.sendH245Locked(&h245.OpenLogicalChannel{
		ForwardLogicalChannelNumber: lc.Number,
		ForwardDataType:             &dt,
		SessionID:                   lc.SessionID,
		MediaControlChannel:         &rtcp,
		DynamicRTPPayloadType:       dynamicPayloadType(capability),
	})
}

func (c *Connection) rejectOLCLocked(number uint16, cause h245.OLCRejectCause) {
	c.logger.Info("Connection.rejectOLC", slog.Int("channel", int(number)), slog.String("cause", cause.String()))
	_ = c.sendH245Locked(&h245.OpenLogicalChannelReject{ForwardLogicalChannelNumber: number, Cause: cause})
}

// handleOpenLogicalChannelLocked обрабатывает запрос удаленной стороны на
// открытие канала, по которому она будет передавать
func (c *Connection) handleOpenLogicalChannelLocked(m *h245.OpenLogicalChannel) {
	if existing := c.findChannelLocked(m.ForwardLogicalChannelNumber, true); existing != nil {
		if existing.State() == ChannelOpen {
			c.ackOLCLocked(existing)
		}
		return
	}

	dt, ok := m.DataType()
	if !ok {
		c.rejectOLCLocked(m.ForwardLogicalChannelNumber, h245.OLCUnknownDataType)
		return
	}
	if m.ForwardDataType != nil && m.ReverseDataType != nil {
		c.rejectOLCLocked(m.ForwardLogicalChannelNumber, h245.OLCUnsuitableReverseParameters)
		return
	}
	if !dt.IsMedia() {
		c.rejectOLCLocked(m.ForwardLogicalChannelNumber, h245.OLCDataTypeNotSupported)
		return
	}
	id, local, ok := c.localCaps.Find(dt, h245.DirReceive)
	if !ok {
		c.rejectOLCLocked(m.ForwardLogicalChannelNumber, h245.OLCDataTypeNotSupported)
		return
	}
	session := m.SessionID
	if session == 0 {
		session = dt.SessionID()
	}
	if c.activeChannelLocked(session, h245.DirReceive) != nil ||
		!c.localCaps.Allowed(id, c.capIDsLocked(h245.DirReceive)) {
		c.rejectOLCLocked(m.ForwardLogicalChannelNumber, h245.OLCDataTypeNotAvailable)
		return
	}
	if !c.bandwidthAvailableLocked(dt) {
		c.rejectOLCLocked(m.ForwardLogicalChannelNumber, h245.OLCInsufficientBandwidth)
		return
	}

	// встречное открытие канала в той же сессии с другим форматом
	conflict := c.activeChannelLocked(session, h245.DirTransmit)
	if conflict != nil && (conflict.State() != ChannelOpening || conflict.Capability.SameFormat(dt)) {
		conflict = nil
	}
	if conflict != nil && c.cfg.ChannelConflictPolicy == ConflictStrict && c.msd.isMaster() {
		c.rejectOLCLocked(m.ForwardLogicalChannelNumber, h245.OLCMasterSlaveConflict)
		return
	}

	sess, err := c.sessionLocked(session)
	if err != nil {
		c.rejectOLCLocked(m.ForwardLogicalChannelNumber, h245.OLCInsufficientBandwidth)
		return
	}
	local.Format.PayloadType = dt.Format.PayloadType
	if m.DynamicRTPPayloadType != 0 {
		local.Format.PayloadType = m.DynamicRTPPayloadType
	}
	local.Direction = h245.DirReceive
	lc := &LogicalChannel{
		Number:     m.ForwardLogicalChannelNumber,
		FromRemote: true,
		SessionID:  session,
		Capability: local,
		Direction:  h245.DirReceive,
		capID:      id,
	}
	c.addChannelLocked(lc, ChannelOpen, sess)
	lc.stream.setRemote(nil, m.MediaControlChannel)
	c.ackOLCLocked(lc)
	c.channelOpenedLocked(lc)

	if conflict != nil && c.cfg.ChannelConflictPolicy == ConflictStrict && c.msd.isSlave() {
		// ведомый уступает: закрывает свой канал и открывает его заново
		// с форматом ведущего
		c.logger.Info("Connection.channelConflict",
			slog.String("closing", conflict.String()), slog.String("master_format", dt.String()))
		c.closeChannelLocked(conflict)
		if rid, _, ok := c.remoteCaps.Find(dt, h245.DirReceive); ok {
			if _, _, ok := c.localCaps.Find(dt, h245.DirTransmit); ok {
				if err := c.openTransmitLocked(local, rid); err != nil {
					c.logger.Warn("Connection.channelConflict", slog.String("error", err.Error()))
				}
			}
		}
	}
	c.checkEstablishedLocked()
}

func (c *Connection) ackOLCLocked(lc *LogicalChannel) {
	rtpAddr, rtcpAddr := lc.stream.LocalAddress()
	_ = c.sendH245Locked(&h245.OpenLogicalChannelAck{
		ForwardLogicalChannelNumber: lc.Number,
		SessionID:                   lc.SessionID,
		MediaChannel:                &rtpAddr,
		MediaControlChannel:         &rtcpAddr,
	})
}

func (c *Connection) handleOLCAckLocked(m *h245.OpenLogicalChannelAck) {
	lc := c.findChannelLocked(m.ForwardLogicalChannelNumber, false)
	if lc == nil || lc.State() != ChannelOpening {
		return
	}
	lc.stream.setRemote(m.MediaChannel, m.MediaControlChannel)
	lc.setState(ChannelOpen)
	c.channelOpenedLocked(lc)
	c.checkEstablishedLocked()
}

func (c *Connection) handleOLCRejectLocked(m *h245.OpenLogicalChannelReject) {
	lc := c.findChannelLocked(m.ForwardLogicalChannelNumber, false)
	if lc == nil || lc.State() != ChannelOpening {
		return
	}
	c.rejected[rejectKey(lc.Capability)] = true
	c.channelFailedLocked(lc, &ChannelError{Number: lc.Number, Cause: m.Cause})
	if m.Cause != h245.OLCMasterSlaveConflict {
		// следующая по предпочтению возможность
		c.openChannelsLocked()
	}
	c.checkEstablishedLocked()
}

// closeChannelLocked закрывает локально открытый канал
func (c *Connection) closeChannelLocked(lc *LogicalChannel) {
	if lc.FromRemote && !lc.fastStart {
		_ = c.sendH245Locked(&h245.RequestChannelClose{ForwardLogicalChannelNumber: lc.Number})
		return
	}
	if lc.State() == ChannelClosed || lc.State() == ChannelClosing {
		return
	}
	lc.setState(ChannelClosing)
	lc.stream.close()
	if c.h245ActiveLocked() {
		_ = c.sendH245Locked(&h245.CloseLogicalChannel{ForwardLogicalChannelNumber: lc.Number, Source: h245.CLCSourceUser})
		return
	}
	c.channelClosedLocked(lc)
}

func (c *Connection) handleCLCLocked(m *h245.CloseLogicalChannel) {
	_ = c.sendH245Locked(&h245.CloseLogicalChannelAck{ForwardLogicalChannelNumber: m.ForwardLogicalChannelNumber})
	lc := c.findChannelLocked(m.ForwardLogicalChannelNumber, true)
	if lc == nil {
		// каналы fast start закрываются по номеру предложившей стороны
		lc = c.findChannelLocked(m.ForwardLogicalChannelNumber, false)
		if lc == nil || !lc.fastStart {
			return
		}
	}
	c.channelClosedLocked(lc)
}

func (c *Connection) handleCLCAckLocked(m *h245.CloseLogicalChannelAck) {
	lc := c.findChannelLocked(m.ForwardLogicalChannelNumber, false)
	if lc == nil {
		lc = c.findChannelLocked(m.ForwardLogicalChannelNumber, true)
	}
	if lc != nil && lc.State() == ChannelClosing {
		c.channelClosedLocked(lc)
	}
}

func (c *Connection) handleRequestChannelCloseLocked(m *h245.RequestChannelClose) {
	lc := c.findChannelLocked(m.ForwardLogicalChannelNumber, false)
	if lc == nil || lc.Direction != h245.DirTransmit {
		_ = c.sendH245Locked(&h245.RequestChannelCloseReject{ForwardLogicalChannelNumber: m.ForwardLogicalChannelNumber})
		return
	}
	_ = c.sendH245Locked(&h245.RequestChannelCloseAck{ForwardLogicalChannelNumber: m.ForwardLogicalChannelNumber})
	c.closeChannelLocked(lc)
}

func (c *Connection) handleFlowControlLocked(m *h245.FlowControlCommand) {
	bps := m.MaximumBitRate * 100
	for _, lc := range c.channels {
		if lc.Direction != h245.DirTransmit || !lc.IsActive() {
			continue
		}
		if m.LogicalChannelNumber == 0 || lc.Number == m.LogicalChannelNumber {
			lc.stream.setMaxBitRate(bps)
		}
	}
}

func (c *Connection) channelOpenedLocked(lc *LogicalChannel) {
	c.logger.Info("Connection.channelOpened", slog.String("channel", lc.String()))
	c.ep.metrics.channelsOpened.WithLabelValues(lc.Capability.Kind.String()).Inc()
	c.emitLocked(Event{Type: EventMediaStreamOpened, Channel: lc})
}

func (c *Connection) channelClosedLocked(lc *LogicalChannel) {
	if lc.State() == ChannelClosed {
		return
	}
	wasOpen := lc.State() != ChannelOpening
	lc.setState(ChannelClosed)
	lc.stream.close()
	c.releaseBandwidthLocked(lc)
	if wasOpen {
		c.emitLocked(Event{Type: EventMediaStreamClosed, Channel: lc})
	}
}

func (c *Connection) channelFailedLocked(lc *LogicalChannel, err error) {
	lc.setState(ChannelClosed)
	lc.stream.close()
	c.releaseBandwidthLocked(lc)
	c.logger.Info("Connection.channelFailed", slog.String("channel", lc.String()), slog.String("error", err.Error()))
	c.ep.metrics.channelsFailed.WithLabelValues(lc.Capability.Kind.String()).Inc()
	c.emitLocked(Event{Type: EventMediaStreamFailed, Channel: lc, Err: err})
}

func (c *Connection) releaseBandwidthLocked(lc *LogicalChannel) {
	bw := lc.Capability.Format.MaxBitRate
	if c.bandwidthUsed >= bw {
		c.bandwidthUsed -= bw
	} else {
		c.bandwidthUsed = 0
	}
}

// setTransmitPausedLocked приостанавливает или возобновляет передачу
func (c *Connection) setTransmitPausedLocked(paused bool) {
	for _, lc := range c.channels {
		if lc.Direction == h245.DirTransmit && lc.IsActive() {
			lc.stream.setPaused(paused)
		}
	}
}

func transportPtr(t h225.TransportAddress) *h225.TransportAddress {
	return &t
}

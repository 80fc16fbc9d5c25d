package h323

import (
	"log/slog"

	"github.com/arzzra/h323/pkg/h245"
)

// fastStartOffer предложение канала в SETUP
type fastStartOffer struct {
	number     uint16
	direction  h245.Direction
	capability h245.Capability
	session    *mediaSession
}

// buildFastStartOffersLocked формирует предложения каналов для SETUP:
// по паре прием/передача на каждую медиа возможность в порядке предпочтения
func (c *Connection) buildFastStartOffersLocked() [][]byte {
	var out [][]byte
	c.fastStartOffers = make(map[uint16]*fastStartOffer)
	for _, e := range c.localCaps.Entries() {
		capability := e.Capability
		if !capability.IsMedia() {
			continue
		}
		sess, err := c.sessionLocked(capability.SessionID())
		if err != nil {
			c.logger.Warn("Connection.fastStartOffers", slog.String("error", err.Error()))
			break
		}
		for _, dir := range []h245.Direction{h245.DirTransmit, h245.DirReceive} {
			if !capability.Direction.Allows(dir) {
				continue
			}
			offer := &fastStartOffer{number: c.allocChannelNumberLocked(), direction: dir, capability: capability, session: sess}
			offer.capability.Direction = dir
			olc := &h245.OpenLogicalChannel{
				ForwardLogicalChannelNumber: offer.number,
				SessionID:                   capability.SessionID(),
				MediaControlChannel:         transportPtr(sess.rtcp),
				DynamicRTPPayloadType:       dynamicPayloadType(capability),
			}
			dt := offer.capability
			if dir == h245.DirTransmit {
				olc.ForwardDataType = &dt
			} else {
				olc.ReverseDataType = &dt
				olc.MediaChannel = transportPtr(sess.rtp)
			}
			data, err := h245.Encode(olc)
			if err != nil {
				c.logger.Error("Connection.fastStartOffers", slog.String("error", err.Error()))
				continue
			}
			c.fastStartOffers[offer.number] = offer
			out = append(out, data)
		}
	}
	if len(out) > 0 {
		c.fastStart = FastStartInitiate
	}
	return out
}

// decodeFastStart разбирает элементы fastStart, пропуская нераспознанные
func (c *Connection) decodeFastStart(elements [][]byte) []*h245.OpenLogicalChannel {
	out := make([]*h245.OpenLogicalChannel, 0, len(elements))
	for _, raw := range elements {
		m, err := h245.Decode(raw)
		if err != nil {
			c.logger.Debug("Connection.decodeFastStart", slog.String("error", err.Error()))
			continue
		}
		if olc, ok := m.(*h245.OpenLogicalChannel); ok {
			out = append(out, olc)
		}
	}
	return out
}

// answerFastStartLocked выбирает предложения входящего SETUP.
// В каждой сессии принимается не более одного канала в каждом направлении,
// неподходящие предложения отбрасываются. Если ничего не подошло, fast start
// отключается и вызов продолжается через H.245.
func (c *Connection) answerFastStartLocked(elements [][]byte) {
	if !c.cfg.FastStart || len(elements) == 0 || c.fastStart != FastStartDisabled {
		return
	}
	offers := c.decodeFastStart(elements)

	if c.remoteCaps.IsEmpty() {
		// удаленная таблица строится из предложений до получения TCS
		synth := h245.NewCapabilityTable()
		for _, olc := range offers {
			dt, ok := olc.DataType()
			if !ok {
				continue
			}
			if olc.IsReverse() {
				dt.Direction = h245.DirReceive
			} else {
				dt.Direction = h245.DirTransmit
			}
			synth.Add(dt)
		}
		c.remoteCaps = synth
		c.synthesizedCaps = true
	}

	var response [][]byte
	for _, olc := range offers {
		dt, ok := olc.DataType()
		if !ok || !dt.IsMedia() {
			continue
		}
		// предложение на прием удаленной стороны означает нашу передачу
		dir := h245.DirReceive
		if olc.IsReverse() {
			dir = h245.DirTransmit
		}
		session := olc.SessionID
		if session == 0 {
			session = dt.SessionID()
		}
		if c.activeChannelLocked(session, dir) != nil {
			continue
		}
		id, local, ok := c.localCaps.Find(dt, dir)
		if !ok || !c.localCaps.Allowed(id, c.capIDsLocked(dir)) {
			continue
		}
		sess, err := c.sessionLocked(session)
		if err != nil {
			c.logger.Warn("Connection.answerFastStart", slog.String("error", err.Error()))
			break
		}

		local.Direction = dir
		local.Format.PayloadType = dt.Format.PayloadType
		if olc.DynamicRTPPayloadType != 0 {
			local.Format.PayloadType = olc.DynamicRTPPayloadType
		}
		lc := &LogicalChannel{
			Number:     olc.ForwardLogicalChannelNumber,
			FromRemote: true,
			SessionID:  session,
			Capability: local,
			Direction:  dir,
			capID:      id,
			fastStart:  true,
		}
		c.addChannelLocked(lc, ChannelOpening, sess)
		lc.stream.setRemote(olc.MediaChannel, olc.MediaControlChannel)

		reply := &h245.OpenLogicalChannel{
			ForwardLogicalChannelNumber: lc.Number,
			SessionID:                   session,
			MediaControlChannel:         transportPtr(sess.rtcp),
			DynamicRTPPayloadType:       olc.DynamicRTPPayloadType,
		}
		rdt := local
		if dir == h245.DirReceive {
			reply.ForwardDataType = &rdt
			reply.MediaChannel = transportPtr(sess.rtp)
		} else {
			reply.ReverseDataType = &rdt
		}
		data, err := h245.Encode(reply)
		if err != nil {
			c.logger.Error("Connection.answerFastStart", slog.String("error", err.Error()))
			continue
		}
		response = append(response, data)
	}

	if len(response) == 0 {
		c.logger.Info("Connection.answerFastStart", slog.Int("offers", len(offers)), slog.String("result", "no match"))
		return
	}
	c.fastStart = FastStartResponse
	c.fastStartResponse = response
	c.logger.Info("Connection.answerFastStart", slog.Int("offers", len(offers)), slog.Int("accepted", len(response)))
}

// fastStartElementsLocked ответ fast start для исходящего сообщения.
// Первая отправка ответа подтверждает выбранные каналы.
func (c *Connection) fastStartElementsLocked() [][]byte {
	if c.originating || c.fastStart == FastStartDisabled || len(c.fastStartResponse) == 0 {
		return nil
	}
	if c.fastStart == FastStartResponse {
		c.fastStart = FastStartAcknowledged
		for _, lc := range c.channels {
			if lc.fastStart && lc.State() == ChannelOpening {
				lc.setState(ChannelOpen)
				c.channelOpenedLocked(lc)
			}
		}
	}
	return c.fastStartResponse
}

// handleFastStartResponseLocked принимает ответ на предложения fast start.
// Подтверждение окончательно, последующие ответы игнорируются.
func (c *Connection) handleFastStartResponseLocked(elements [][]byte, refused bool) {
	if !c.originating || c.fastStart != FastStartInitiate {
		return
	}
	if refused {
		c.disableFastStartLocked()
		return
	}
	if len(elements) == 0 {
		return
	}

	for _, olc := range c.decodeFastStart(elements) {
		offer, ok := c.fastStartOffers[olc.ForwardLogicalChannelNumber]
		if !ok {
			continue
		}
		dt, ok := olc.DataType()
		if !ok || !dt.SameFormat(offer.capability) {
			continue
		}
		if c.activeChannelLocked(offer.capability.SessionID(), offer.direction) != nil {
			continue
		}
		lc := &LogicalChannel{
			Number:     offer.number,
			SessionID:  offer.capability.SessionID(),
			Capability: offer.capability,
			Direction:  offer.direction,
			fastStart:  true,
		}
		c.addChannelLocked(lc, ChannelOpen, offer.session)
		lc.stream.setRemote(olc.MediaChannel, olc.MediaControlChannel)
		c.channelOpenedLocked(lc)
	}
	c.fastStart = FastStartAcknowledged
	c.fastStartOffers = nil
	c.checkEstablishedLocked()
}

func (c *Connection) disableFastStartLocked() {
	if c.fastStart == FastStartAcknowledged {
		return
	}
	c.fastStart = FastStartDisabled
	c.fastStartOffers = nil
	c.logger.Info("Connection.fastStart", slog.String("result", "refused"))
}

// FastStartState текущее состояние процедуры fast start
func (c *Connection) FastStartState() FastStartState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.fastStart
}

package h323

import (
	"log/slog"

	"github.com/arzzra/h323/pkg/h245"
)

// RequestModeChange просит удаленную сторону передавать в одном из режимов,
// перечисленных в порядке предпочтения
func (c *Connection) RequestModeChange(modes ...h245.Capability) error {
	if len(modes) == 0 {
		return ErrNoCapability
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state >= ShuttingDownConnection {
		return ErrCallCleared
	}
	if !c.h245ActiveLocked() {
		return ErrNoControlChannel
	}
	c.modeSeq++
	return c.sendH245Locked(&h245.RequestMode{SequenceNumber: c.modeSeq, Modes: modes})
}

// handleRequestModeLocked выбирает первый режим, который можно передавать,
// и переоткрывает канал передачи соответствующей сессии
func (c *Connection) handleRequestModeLocked(m *h245.RequestMode) {
	for i, mode := range m.Modes {
		_, local, ok := c.localCaps.Find(mode, h245.DirTransmit)
		if !ok {
			continue
		}
		remoteID, _, found := c.remoteCaps.Find(mode, h245.DirReceive)
		if !found {
			continue
		}

		response := h245.WillTransmitMostPreferredMode
		if i > 0 {
			response = h245.WillTransmitLessPreferredMode
		}
		_ = c.sendH245Locked(&h245.RequestModeAck{SequenceNumber: m.SequenceNumber, Response: response})

		current := c.activeChannelLocked(local.SessionID(), h245.DirTransmit)
		if current != nil && current.Capability.SameFormat(local) {
			return
		}
		if current != nil {
			c.closeChannelLocked(current)
		}
		delete(c.rejected, rejectKey(local))
		if err := c.openTransmitLocked(local, remoteID); err != nil {
			c.logger.Warn("Connection.handleRequestMode", slog.String("error", err.Error()))
		}
		return
	}
	_ = c.sendH245Locked(&h245.RequestModeReject{SequenceNumber: m.SequenceNumber, Cause: h245.ModeUnavailable})
}

func (c *Connection) handleRequestModeAckLocked(m *h245.RequestModeAck) {
	if m.SequenceNumber != c.modeSeq {
		return
	}
	c.emitLocked(Event{Type: EventModeChanged})
}

func (c *Connection) handleRequestModeRejectLocked(m *h245.RequestModeReject) {
	if m.SequenceNumber != c.modeSeq {
		return
	}
	c.logger.Info("Connection.requestModeRejected", slog.Int("cause", int(m.Cause)))
}

// SendUserInput передает пользовательский ввод (DTMF) через H.245
func (c *Connection) SendUserInput(input string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state >= ShuttingDownConnection {
		return ErrCallCleared
	}
	if !c.h245ActiveLocked() {
		return ErrNoControlChannel
	}
	if len(input) == 1 {
		return c.sendH245Locked(&h245.UserInputIndication{Signal: input, Duration: 100})
	}
	return c.sendH245Locked(&h245.UserInputIndication{Alphanumeric: input})
}

func (c *Connection) handleUserInputLocked(m *h245.UserInputIndication) {
	input := m.Alphanumeric
	if m.Signal != "" {
		input = m.Signal
	}
	if input == "" {
		return
	}
	c.emitLocked(Event{Type: EventUserInput, UserInput: input})
}

// startRoundTripProbeLocked запускает периодическую проверку задержки H.245
func (c *Connection) startRoundTripProbeLocked() {
	if c.cfg.RoundTripDelayRate <= 0 || c.rtdTimer != nil {
		return
	}
	c.rtdTimer = c.clock.AfterFunc(c.cfg.RoundTripDelayRate, c.roundTripTick)
}

func (c *Connection) roundTripTick() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state >= ShuttingDownConnection {
		return
	}
	if c.rtdPending {
		// ответа на предыдущий запрос нет
		if c.state < EstablishedConnection {
			if !c.probeHeld {
				c.probeHeld = true
				c.setTransmitPausedLocked(true)
				c.logger.Info("Connection.roundTripDelay", slog.String("result", "no response, holding"))
				c.emitLocked(Event{Type: EventHold})
			}
		} else {
			c.logger.Warn("Connection.roundTripDelay", slog.String("result", "no response"))
			c.clearLocked(EndedByTransportFail)
			return
		}
	}
	c.rtdSeq++
	c.rtdPending = true
	_ = c.sendH245Locked(&h245.RoundTripDelayRequest{SequenceNumber: c.rtdSeq})
	c.rtdTimer = c.clock.AfterFunc(c.cfg.RoundTripDelayRate, c.roundTripTick)
}

func (c *Connection) handleRoundTripResponseLocked(m *h245.RoundTripDelayResponse) {
	if m.SequenceNumber != c.rtdSeq {
		return
	}
	c.rtdPending = false
	if c.probeHeld {
		c.probeHeld = false
		if !c.remoteHold {
			c.setTransmitPausedLocked(false)
		}
		c.logger.Info("Connection.roundTripDelay", slog.String("result", "recovered"))
		c.emitLocked(Event{Type: EventRetrieve})
	}
}

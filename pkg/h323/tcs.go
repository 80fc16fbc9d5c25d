package h323

import (
	"log/slog"

	"github.com/arzzra/h323/pkg/h245"
)

// sendCapabilitiesLocked отправляет локальный набор возможностей.
// Пустой набор означает удержание.
func (c *Connection) sendCapabilitiesLocked(empty bool) error {
	c.tcsSeq++
	table := c.localCaps
	if empty {
		table = nil
	}
	c.tcsSent = true
	c.tcsAcked = false
	c.logger.Debug("Connection.sendCapabilities", slog.Int("seq", int(c.tcsSeq)), slog.Bool("empty", empty))
	return c.sendH245Locked(h245.NewTerminalCapabilitySet(c.tcsSeq, table))
}

// validateCapabilitySet проверяет ссылки дескрипторов на записи таблицы
func validateCapabilitySet(m *h245.TerminalCapabilitySet) (h245.TCSRejectCause, bool) {
	ids := make(map[uint16]bool, len(m.Entries))
	for _, e := range m.Entries {
		ids[e.ID] = true
	}
	for _, d := range m.Descriptors {
		for _, set := range d.Alternatives {
			for _, id := range set {
				if !ids[id] {
					return h245.TCSUndefinedTableEntryUsed, false
				}
			}
		}
	}
	return 0, true
}

func (c *Connection) handleCapabilitySetLocked(m *h245.TerminalCapabilitySet) {
	if cause, ok := validateCapabilitySet(m); !ok {
		c.logger.Info("Connection.handleCapabilitySet", slog.String("result", "rejected"))
		_ = c.sendH245Locked(&h245.TerminalCapabilitySetReject{SequenceNumber: m.SequenceNumber, Cause: cause})
		return
	}
	_ = c.sendH245Locked(&h245.TerminalCapabilitySetAck{SequenceNumber: m.SequenceNumber})

	if m.IsEmpty() {
		if !c.remoteHold {
			c.remoteHold = true
			c.setTransmitPausedLocked(true)
			c.logger.Info("Connection.hold", slog.String("by", "remote"))
			c.emitLocked(Event{Type: EventHold})
		}
		return
	}

	c.remoteCaps = m.Table()
	c.remoteTCS = true
	c.synthesizedCaps = false
	if c.remoteHold {
		c.remoteHold = false
		if !c.probeHeld {
			c.setTransmitPausedLocked(false)
		}
		c.logger.Info("Connection.retrieve", slog.String("by", "remote"))
		c.emitLocked(Event{Type: EventRetrieve})
	}
	c.openChannelsLocked()
	c.checkEstablishedLocked()
}

func (c *Connection) handleCapabilitySetAckLocked(m *h245.TerminalCapabilitySetAck) {
	if !c.tcsSent || m.SequenceNumber != c.tcsSeq {
		return
	}
	c.tcsAcked = true
	c.checkEstablishedLocked()
}

func (c *Connection) handleCapabilitySetRejectLocked(m *h245.TerminalCapabilitySetReject) {
	if m.SequenceNumber != c.tcsSeq {
		return
	}
	c.logger.Warn("Connection.capabilitySetRejected", slog.Int("cause", int(m.Cause)))
	c.clearLocked(EndedByCapabilityExchange)
}

// Hold переводит вызов на удержание отправкой пустого набора возможностей
func (c *Connection) Hold() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != EstablishedConnection {
		return ErrInvalidState
	}
	if c.localHold {
		return nil
	}
	if !c.h245ActiveLocked() {
		return ErrNoControlChannel
	}
	c.localHold = true
	return c.sendCapabilitiesLocked(true)
}

// Retrieve снимает вызов с удержания повторной отправкой полного набора
func (c *Connection) Retrieve() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.localHold {
		return nil
	}
	c.localHold = false
	return c.sendCapabilitiesLocked(false)
}

// IsHeld возвращает локальное и удаленное удержание
func (c *Connection) IsHeld() (local, remote bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.localHold, c.remoteHold
}

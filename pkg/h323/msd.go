package h323

import (
	"fmt"

	"github.com/arzzra/h323/pkg/h245"
)

type msdState int

const (
	msdIdle msdState = iota
	msdOutgoingAwaitingResponse
	msdIncomingAwaitingResponse
	msdDetermined
	msdFailed
)

// MSDStatus результат определения ведущего/ведомого
type MSDStatus int

const (
	MSDIndeterminate MSDStatus = iota
	MSDMaster
	MSDSlave
)

func (s MSDStatus) String() string {
	switch s {
	case MSDMaster:
		return "master"
	case MSDSlave:
		return "slave"
	}
	return "indeterminate"
}

// msdProcedure процедура определения ведущего/ведомого H.245.
// Не потокобезопасна, вызывается под мьютексом соединения.
type msdProcedure struct {
	terminalType uint8
	maxRetries   int
	number       func() uint32
	send         func(h245.Message) error

	state   msdState
	status  MSDStatus
	local   uint32
	retries int
}

func newMSDProcedure(terminalType uint8, maxRetries int, number func() uint32, send func(h245.Message) error) *msdProcedure {
	return &msdProcedure{terminalType: terminalType, maxRetries: maxRetries, number: number, send: send}
}

func (p *msdProcedure) determined() bool { return p.state == msdDetermined }
func (p *msdProcedure) isMaster() bool   { return p.state == msdDetermined && p.status == MSDMaster }
func (p *msdProcedure) isSlave() bool    { return p.state == msdDetermined && p.status == MSDSlave }

// start отправляет собственный запрос, если процедура еще не запущена
func (p *msdProcedure) start() error {
	if p.state != msdIdle {
		return nil
	}
	return p.sendRequest()
}

func (p *msdProcedure) sendRequest() error {
	p.local = p.number() & h245.MaxDeterminationNumber
	p.state = msdOutgoingAwaitingResponse
	return p.send(&h245.MasterSlaveDetermination{
		TerminalType:              p.terminalType,
		StatusDeterminationNumber: p.local,
	})
}

// compare решает роль по типу терминала, затем по разности номеров по модулю 2^24
func (p *msdProcedure) compare(remoteType uint8, remoteNumber uint32) MSDStatus {
	switch {
	case p.terminalType > remoteType:
		return MSDMaster
	case p.terminalType < remoteType:
		return MSDSlave
	}
	diff := (remoteNumber - p.local) & h245.MaxDeterminationNumber
	switch {
	case diff == 0 || diff == 0x800000:
		return MSDIndeterminate
	case diff < 0x800000:
		return MSDMaster
	}
	return MSDSlave
}

// handle обрабатывает сообщение процедуры. done сообщает о завершении
// определения, err о неудаче процедуры.
func (p *msdProcedure) handle(m h245.Message) (done bool, err error) {
	switch msg := m.(type) {
	case *h245.MasterSlaveDetermination:
		return p.handleRequest(msg)
	case *h245.MasterSlaveDeterminationAck:
		return p.handleAck(msg)
	case *h245.MasterSlaveDeterminationReject:
		return p.handleReject()
	case *h245.MasterSlaveDeterminationRelease:
		if p.state == msdOutgoingAwaitingResponse || p.state == msdIncomingAwaitingResponse {
			p.state = msdFailed
			return false, &ProtocolError{Procedure: "MasterSlaveDetermination", Cause: "released by remote"}
		}
	}
	return false, nil
}

func (p *msdProcedure) handleRequest(m *h245.MasterSlaveDetermination) (bool, error) {
	switch p.state {
	case msdIdle:
		p.local = p.number() & h245.MaxDeterminationNumber
	case msdDetermined:
		// повторное определение по инициативе удаленной стороны
	case msdFailed:
		return false, nil
	}

	status := p.compare(m.TerminalType, m.StatusDeterminationNumber)
	if status == MSDIndeterminate {
		if p.state == msdOutgoingAwaitingResponse {
			// встречные запросы с равными номерами: новый номер и повтор
			p.retries++
			if p.retries >= p.maxRetries {
				p.state = msdFailed
				_ = p.send(&h245.MasterSlaveDeterminationReject{Cause: h245.MSDIdenticalNumbers})
				return false, &ProtocolError{Procedure: "MasterSlaveDetermination", Cause: "identical numbers"}
			}
			return false, p.sendRequest()
		}
		p.state = msdIdle
		return false, p.send(&h245.MasterSlaveDeterminationReject{Cause: h245.MSDIdenticalNumbers})
	}

	p.status = status
	p.state = msdIncomingAwaitingResponse
	return false, p.send(&h245.MasterSlaveDeterminationAck{Decision: remoteDecision(status)})
}

func (p *msdProcedure) handleAck(m *h245.MasterSlaveDeterminationAck) (bool, error) {
	local := MSDSlave
	if m.Decision == h245.DecisionMaster {
		local = MSDMaster
	}
	switch p.state {
	case msdOutgoingAwaitingResponse:
		p.status = local
		p.state = msdDetermined
		return true, p.send(&h245.MasterSlaveDeterminationAck{Decision: remoteDecision(local)})
	case msdIncomingAwaitingResponse:
		if local != p.status {
			p.state = msdFailed
			return false, &ProtocolError{
				Procedure: "MasterSlaveDetermination",
				Cause:     fmt.Sprintf("inconsistent decision %s, expected %s", local, p.status),
			}
		}
		p.state = msdDetermined
		return true, nil
	}
	return false, nil
}

func (p *msdProcedure) handleReject() (bool, error) {
	if p.state != msdOutgoingAwaitingResponse {
		return false, nil
	}
	p.retries++
	if p.retries >= p.maxRetries {
		p.state = msdFailed
		return false, &ProtocolError{Procedure: "MasterSlaveDetermination", Cause: "rejected: identical numbers"}
	}
	return false, p.sendRequest()
}

// remoteDecision роль получателя Ack при локальной роли local
func remoteDecision(local MSDStatus) h245.MSDDecision {
	if local == MSDMaster {
		return h245.DecisionSlave
	}
	return h245.DecisionMaster
}

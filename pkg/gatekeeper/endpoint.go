package gatekeeper

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/arzzra/h323/pkg/h225"
)

// RegisteredEndpoint зарегистрированная конечная точка
type RegisteredEndpoint struct {
	id string

	mu           sync.RWMutex
	aliases      []h225.AliasAddress
	signalAddrs  []h225.TransportAddress
	rasAddrs     []h225.TransportAddress
	prefixes     []string
	endpointType h225.EndpointType
	senderID     string
	ttl          time.Duration
	lastSeen     time.Time
	calls        map[callKey]*Call

	refs    atomic.Int32
	deleted atomic.Bool
}

func newRegisteredEndpoint(id string) *RegisteredEndpoint {
	return &RegisteredEndpoint{id: id, calls: make(map[callKey]*Call)}
}

// ID идентификатор конечной точки, выданный в RCF
func (e *RegisteredEndpoint) ID() string { return e.id }

// Aliases алиасы конечной точки
func (e *RegisteredEndpoint) Aliases() []h225.AliasAddress {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return append([]h225.AliasAddress(nil), e.aliases...)
}

// SignalAddresses адреса сигнализации
func (e *RegisteredEndpoint) SignalAddresses() []h225.TransportAddress {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return append([]h225.TransportAddress(nil), e.signalAddrs...)
}

// RASAddresses адреса RAS
func (e *RegisteredEndpoint) RASAddresses() []h225.TransportAddress {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return append([]h225.TransportAddress(nil), e.rasAddrs...)
}

// TTL время жизни регистрации
func (e *RegisteredEndpoint) TTL() time.Duration {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.ttl
}

// LastSeen время последней регистрации или IRR
func (e *RegisteredEndpoint) LastSeen() time.Time {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.lastSeen
}

// CallCount количество активных вызовов
func (e *RegisteredEndpoint) CallCount() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.calls)
}

func (e *RegisteredEndpoint) signalAddress() (h225.TransportAddress, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if len(e.signalAddrs) == 0 {
		return h225.TransportAddress{}, false
	}
	return e.signalAddrs[0], true
}

func (e *RegisteredEndpoint) rasAddress() (h225.TransportAddress, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if len(e.rasAddrs) == 0 {
		return h225.TransportAddress{}, false
	}
	return e.rasAddrs[0], true
}

func (e *RegisteredEndpoint) touch(now time.Time) {
	e.mu.Lock()
	e.lastSeen = now
	e.mu.Unlock()
}

func (e *RegisteredEndpoint) expired(now time.Time) bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.ttl > 0 && now.Sub(e.lastSeen) > e.ttl
}

// covers проверяет, что набор адресов и алиасов запроса содержит текущий
func (e *RegisteredEndpoint) covers(signal []h225.TransportAddress, aliases []h225.AliasAddress) bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	for _, have := range e.signalAddrs {
		if !containsAddress(signal, have) {
			return false
		}
	}
	for _, have := range e.aliases {
		if !containsAlias(aliases, have) {
			return false
		}
	}
	return true
}

func (e *RegisteredEndpoint) hasAlias(a h225.AliasAddress) bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return containsAlias(e.aliases, a)
}

// matchesPrefix проверяет голосовые префиксы шлюза
func (e *RegisteredEndpoint) matchesPrefix(digits string) bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	for _, p := range e.prefixes {
		if p != "" && len(digits) >= len(p) && digits[:len(p)] == p {
			return true
		}
	}
	return false
}

func (e *RegisteredEndpoint) addCall(c *Call) {
	e.mu.Lock()
	e.calls[c.key] = c
	e.mu.Unlock()
}

func (e *RegisteredEndpoint) removeCall(c *Call) {
	e.mu.Lock()
	if e.calls[c.key] == c {
		delete(e.calls, c.key)
	}
	e.mu.Unlock()
}

func (e *RegisteredEndpoint) activeCalls() []*Call {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]*Call, 0, len(e.calls))
	for _, c := range e.calls {
		out = append(out, c)
	}
	return out
}

func containsAlias(list []h225.AliasAddress, a h225.AliasAddress) bool {
	for _, x := range list {
		if x.Equal(a) {
			return true
		}
	}
	return false
}

func containsAddress(list []h225.TransportAddress, a h225.TransportAddress) bool {
	for _, x := range list {
		if x.Equal(a) {
			return true
		}
	}
	return false
}

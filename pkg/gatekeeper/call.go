package gatekeeper

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/arzzra/h323/pkg/h225"
	"github.com/arzzra/h323/pkg/ras"
)

// callKey вызов идентифицируется парой (идентификатор, направление):
// у вызова между двумя точками одной зоны две записи
type callKey struct {
	id     h225.GUID
	answer bool
}

// Call вызов, допущенный гейткипером
type Call struct {
	key          callKey
	conferenceID h225.GUID
	callRef      uint16
	endpoint     *RegisteredEndpoint

	// admission удерживается первым ARQ до завершения допуска,
	// повторные ARQ того же вызова ждут его
	admission sync.Mutex
	rejected  *ras.ARJ

	mu         sync.RWMutex
	bandwidth  uint32
	srcAliases []h225.AliasAddress
	dstAliases []h225.AliasAddress
	srcHost    *h225.TransportAddress
	dstHost    h225.TransportAddress
	started    time.Time
	ended      time.Time
	lastIRR    time.Time

	refs    atomic.Int32
	deleted atomic.Bool
}

// ID идентификатор вызова
func (c *Call) ID() h225.GUID { return c.key.id }

// IsAnswer true для вызова со стороны отвечающей точки
func (c *Call) IsAnswer() bool { return c.key.answer }

// EndpointID идентификатор владеющей конечной точки
func (c *Call) EndpointID() string { return c.endpoint.id }

// Bandwidth выделенная полоса
func (c *Call) Bandwidth() uint32 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.bandwidth
}

// Destination адрес сигнализации назначения
func (c *Call) Destination() h225.TransportAddress {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.dstHost
}

// DestinationAliases алиасы назначения
func (c *Call) DestinationAliases() []h225.AliasAddress {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]h225.AliasAddress(nil), c.dstAliases...)
}

// Started время допуска
func (c *Call) Started() time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.started
}

func (c *Call) touch(now time.Time) {
	c.mu.Lock()
	c.lastIRR = now
	c.mu.Unlock()
}

func (c *Call) silent(now time.Time, rate time.Duration) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return rate > 0 && now.Sub(c.lastIRR) > rate
}

// callRegistry реестр вызовов
type callRegistry struct {
	mu        sync.Mutex
	calls     map[callKey]*Call
	graveyard []*Call
}

func newCallRegistry() *callRegistry {
	return &callRegistry{calls: make(map[callKey]*Call)}
}

// acquire находит вызов и увеличивает счетчик ссылок
func (r *callRegistry) acquire(key callKey) *Call {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.calls[key]
	if !ok {
		return nil
	}
	c.refs.Add(1)
	return c
}

// acquireOrCreate находит вызов или добавляет созданный create.
// create вызывается под мьютексом реестра и может вернуть nil с ошибкой.
func (r *callRegistry) acquireOrCreate(key callKey, create func() (*Call, error)) (*Call, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if c, ok := r.calls[key]; ok {
		c.refs.Add(1)
		return c, false, nil
	}
	c, err := create()
	if err != nil {
		return nil, false, err
	}
	c.key = key
	c.refs.Add(1)
	r.calls[key] = c
	return c, true, nil
}

func (r *callRegistry) release(c *Call) {
	if c != nil {
		c.refs.Add(-1)
	}
}

// remove убирает вызов из реестра. true только для первого удаления.
func (r *callRegistry) remove(c *Call, now time.Time) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !c.deleted.CompareAndSwap(false, true) {
		return false
	}
	if r.calls[c.key] == c {
		delete(r.calls, c.key)
	}
	c.mu.Lock()
	c.ended = now
	c.mu.Unlock()
	r.graveyard = append(r.graveyard, c)
	return true
}

// reap освобождает удаленные вызовы без ссылок
func (r *callRegistry) reap() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	kept := r.graveyard[:0]
	for _, c := range r.graveyard {
		if c.refs.Load() > 0 {
			kept = append(kept, c)
		}
	}
	n := len(r.graveyard) - len(kept)
	r.graveyard = kept
	return n
}

func (r *callRegistry) all() []*Call {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*Call, 0, len(r.calls))
	for _, c := range r.calls {
		out = append(out, c)
	}
	return out
}

func (r *callRegistry) len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.calls)
}

package gatekeeper

import (
	"strconv"
	"strings"
	"sync"

	"github.com/arzzra/h323/pkg/h225"
	"github.com/pkg/errors"
)

var (
	errDuplicateAlias = errors.New("duplicate alias")
	errPoolExhausted  = errors.New("alias pool exhausted")
)

// registration данные полной регистрации
type registration struct {
	aliases      []h225.AliasAddress
	signalAddrs  []h225.TransportAddress
	rasAddrs     []h225.TransportAddress
	prefixes     []string
	endpointType h225.EndpointType
	senderID     string
}

// endpointRegistry реестр конечных точек. Индексы по алиасу и адресу
// сигнализации меняются только под мьютексом реестра.
type endpointRegistry struct {
	allowDuplicates bool
	poolStart       uint64
	poolEnd         uint64

	mu        sync.Mutex
	byID      map[string]*RegisteredEndpoint
	byAlias   map[string][]*RegisteredEndpoint
	bySignal  map[string]*RegisteredEndpoint
	graveyard []*RegisteredEndpoint
}

func newEndpointRegistry(allowDuplicates bool, poolStart, poolEnd uint64) *endpointRegistry {
	return &endpointRegistry{
		allowDuplicates: allowDuplicates,
		poolStart:       poolStart,
		poolEnd:         poolEnd,
		byID:            make(map[string]*RegisteredEndpoint),
		byAlias:         make(map[string][]*RegisteredEndpoint),
		bySignal:        make(map[string]*RegisteredEndpoint),
	}
}

func (r *endpointRegistry) acquire(e *RegisteredEndpoint) *RegisteredEndpoint {
	if e != nil {
		e.refs.Add(1)
	}
	return e
}

func (r *endpointRegistry) release(e *RegisteredEndpoint) {
	if e != nil {
		e.refs.Add(-1)
	}
}

func (r *endpointRegistry) findByID(id string) *RegisteredEndpoint {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.acquire(r.byID[id])
}

func (r *endpointRegistry) findBySignal(addr h225.TransportAddress) *RegisteredEndpoint {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.acquire(r.bySignal[addr.String()])
}

func (r *endpointRegistry) findByAlias(a h225.AliasAddress) *RegisteredEndpoint {
	r.mu.Lock()
	defer r.mu.Unlock()
	if list := r.byAlias[a.Key()]; len(list) > 0 {
		return r.acquire(list[0])
	}
	return nil
}

// findByPrefix ищет шлюз, обслуживающий номер по голосовому префиксу
func (r *endpointRegistry) findByPrefix(digits string) *RegisteredEndpoint {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, e := range r.byID {
		if e.matchesPrefix(digits) {
			return r.acquire(e)
		}
	}
	return nil
}

// partialMatch true, если digits является началом номера зарегистрированной точки
func (r *endpointRegistry) partialMatch(digits string) bool {
	if digits == "" {
		return false
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, list := range r.byAlias {
		for _, e := range list {
			for _, a := range e.Aliases() {
				if a.Kind == h225.AliasDialedDigits && len(a.Value) > len(digits) && strings.HasPrefix(a.Value, digits) {
					return true
				}
			}
		}
	}
	return false
}

// register применяет полную регистрацию к e и переиндексирует ее.
// Без алиасов в запросе выделяется номер из пула. При конфликте алиасов
// возвращает errDuplicateAlias и список занятых.
func (r *endpointRegistry) register(e *RegisteredEndpoint, reg registration) ([]h225.AliasAddress, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if len(reg.aliases) == 0 {
		// алиас из пула сохраняется при повторной регистрации
		e.mu.RLock()
		reg.aliases = append([]h225.AliasAddress(nil), e.aliases...)
		e.mu.RUnlock()
	}
	if len(reg.aliases) == 0 && r.poolEnd != 0 {
		a, err := r.allocateAliasLocked()
		if err != nil {
			return nil, err
		}
		reg.aliases = []h225.AliasAddress{a}
	}

	if !r.allowDuplicates {
		var dups []h225.AliasAddress
		for _, a := range reg.aliases {
			for _, other := range r.byAlias[a.Key()] {
				if other != e {
					dups = append(dups, a)
					break
				}
			}
		}
		if len(dups) > 0 {
			return dups, errDuplicateAlias
		}
	}

	r.unindexLocked(e)
	e.mu.Lock()
	e.aliases = reg.aliases
	e.signalAddrs = reg.signalAddrs
	e.rasAddrs = reg.rasAddrs
	e.prefixes = reg.prefixes
	e.endpointType = reg.endpointType
	e.senderID = reg.senderID
	e.mu.Unlock()
	r.indexLocked(e)
	return reg.aliases, nil
}

func (r *endpointRegistry) allocateAliasLocked() (h225.AliasAddress, error) {
	for n := r.poolStart; n <= r.poolEnd; n++ {
		a := h225.NewDialedDigits(strconv.FormatUint(n, 10))
		if len(r.byAlias[a.Key()]) == 0 {
			return a, nil
		}
		if n == r.poolEnd {
			break
		}
	}
	return h225.AliasAddress{}, errPoolExhausted
}

func (r *endpointRegistry) indexLocked(e *RegisteredEndpoint) {
	r.byID[e.id] = e
	for _, a := range e.aliases {
		r.byAlias[a.Key()] = append(r.byAlias[a.Key()], e)
	}
	for _, s := range e.signalAddrs {
		r.bySignal[s.String()] = e
	}
}

func (r *endpointRegistry) unindexLocked(e *RegisteredEndpoint) {
	if r.byID[e.id] != e {
		return
	}
	for _, a := range e.aliases {
		list := r.byAlias[a.Key()]
		for i, x := range list {
			if x == e {
				list = append(list[:i], list[i+1:]...)
				break
			}
		}
		if len(list) == 0 {
			delete(r.byAlias, a.Key())
		} else {
			r.byAlias[a.Key()] = list
		}
	}
	for _, s := range e.signalAddrs {
		if r.bySignal[s.String()] == e {
			delete(r.bySignal, s.String())
		}
	}
	delete(r.byID, e.id)
}

// remove убирает точку из индексов и помечает на удаление.
// true только для первого удаления.
func (r *endpointRegistry) remove(e *RegisteredEndpoint) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !e.deleted.CompareAndSwap(false, true) {
		return false
	}
	r.unindexLocked(e)
	r.graveyard = append(r.graveyard, e)
	return true
}

// reap освобождает удаленные точки без ссылок
func (r *endpointRegistry) reap() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	kept := r.graveyard[:0]
	for _, e := range r.graveyard {
		if e.refs.Load() > 0 {
			kept = append(kept, e)
		}
	}
	n := len(r.graveyard) - len(kept)
	r.graveyard = kept
	return n
}

func (r *endpointRegistry) all() []*RegisteredEndpoint {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*RegisteredEndpoint, 0, len(r.byID))
	for _, e := range r.byID {
		out = append(out, e)
	}
	return out
}

func (r *endpointRegistry) len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.byID)
}

package gatekeeper

import "sync"

// BandwidthPool полоса зоны в единицах 100 бит/с
type BandwidthPool struct {
	mu             sync.Mutex
	total          uint32
	used           uint32
	defaultPerCall uint32
	maxPerCall     uint32
}

// NewBandwidthPool создает пул. Нулевые ограничения на вызов не действуют.
func NewBandwidthPool(total, defaultPerCall, maxPerCall uint32) *BandwidthPool {
	return &BandwidthPool{total: total, defaultPerCall: defaultPerCall, maxPerCall: maxPerCall}
}

// Allocate изменяет выделение вызова с current на requested.
// Первое выделение ограничивается полосой по умолчанию, любое ограничивается
// максимальной. Возвращает выделенную полосу и false, если пула недостаточно.
func (p *BandwidthPool) Allocate(current, requested uint32, first bool) (uint32, bool) {
	if first && p.defaultPerCall > 0 && requested > p.defaultPerCall {
		requested = p.defaultPerCall
	}
	if p.maxPerCall > 0 && requested > p.maxPerCall {
		requested = p.maxPerCall
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if requested <= current {
		p.used -= current - requested
		return requested, true
	}
	delta := requested - current
	if uint64(p.used)+uint64(delta) > uint64(p.total) {
		return current, false
	}
	p.used += delta
	return requested, true
}

// Release возвращает полосу в пул
func (p *BandwidthPool) Release(amount uint32) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if amount > p.used {
		amount = p.used
	}
	p.used -= amount
}

// Available свободная полоса
func (p *BandwidthPool) Available() uint32 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.total - p.used
}

// Used занятая полоса
func (p *BandwidthPool) Used() uint32 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.used
}

// Total общая полоса
func (p *BandwidthPool) Total() uint32 {
	return p.total
}

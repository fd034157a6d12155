package events

import "sync"

// Bus fans events out to every subscribed observer of the matching category.
// It implements all three observer interfaces so producers can be handed a
// single Bus.
type Bus struct {
	mu     sync.RWMutex
	queue  []QueueObserver
	batch  []BatchObserver
	health []HealthObserver
}

// NewBus creates an empty bus
func NewBus() *Bus {
	return &Bus{}
}

// SubscribeQueue registers a queue observer
func (b *Bus) SubscribeQueue(o QueueObserver) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.queue = append(b.queue, o)
}

// SubscribeBatch registers a batch observer
func (b *Bus) SubscribeBatch(o BatchObserver) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.batch = append(b.batch, o)
}

// SubscribeHealth registers a health observer
func (b *Bus) SubscribeHealth(o HealthObserver) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.health = append(b.health, o)
}

// Subscribe registers o for every category it implements
func (b *Bus) Subscribe(o any) {
	if qo, ok := o.(QueueObserver); ok {
		b.SubscribeQueue(qo)
	}
	if bo, ok := o.(BatchObserver); ok {
		b.SubscribeBatch(bo)
	}
	if ho, ok := o.(HealthObserver); ok {
		b.SubscribeHealth(ho)
	}
}

func (b *Bus) OnQueueEvent(e QueueEvent) {
	b.mu.RLock()
	observers := append([]QueueObserver(nil), b.queue...)
	b.mu.RUnlock()
	for _, o := range observers {
		o.OnQueueEvent(e)
	}
}

func (b *Bus) OnBatchEvent(e BatchEvent) {
	b.mu.RLock()
	observers := append([]BatchObserver(nil), b.batch...)
	b.mu.RUnlock()
	for _, o := range observers {
		o.OnBatchEvent(e)
	}
}

func (b *Bus) OnHealthEvent(e HealthEvent) {
	b.mu.RLock()
	observers := append([]HealthObserver(nil), b.health...)
	b.mu.RUnlock()
	for _, o := range observers {
		o.OnHealthEvent(e)
	}
}

// Nop discards every event
type Nop struct{}

func (Nop) OnQueueEvent(QueueEvent)   {}
func (Nop) OnBatchEvent(BatchEvent)   {}
func (Nop) OnHealthEvent(HealthEvent) {}

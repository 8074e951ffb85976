package task

import (
	"sync"

	"github.com/rs/zerolog/log"
)

const defaultSubscriberBuffer = 64

// broadcaster fans snapshots out to subscribers. A full subscriber misses
// events instead of blocking the publishing worker.
type broadcaster struct {
	mu   sync.RWMutex
	subs map[uint64]chan Snapshot
	next uint64
}

func newBroadcaster() *broadcaster {
	return &broadcaster{subs: make(map[uint64]chan Snapshot)}
}

func (b *broadcaster) subscribe(buffer int) (<-chan Snapshot, func()) {
	if buffer <= 0 {
		buffer = defaultSubscriberBuffer
	}
	ch := make(chan Snapshot, buffer)

	b.mu.Lock()
	id := b.next
	b.next++
	b.subs[id] = ch
	b.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, id)
			b.mu.Unlock()
			close(ch)
		})
	}
	return ch, cancel
}

func (b *broadcaster) publish(s Snapshot) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for id, ch := range b.subs {
		select {
		case ch <- s:
		default:
			log.Debug().Uint64("subscriber", id).Str("task_id", s.ID).Msg("event dropped for slow subscriber")
		}
	}
}

// Subscribe streams task snapshots after every change. The returned func
// unsubscribes and closes the channel.
func (m *Manager) Subscribe(buffer int) (<-chan Snapshot, func()) {
	return m.events.subscribe(buffer)
}

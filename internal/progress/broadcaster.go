package progress

import (
	"sync"
	"sync/atomic"
)

// defaultBufferSize is the per-subscriber channel capacity.
const defaultBufferSize = 32

// Broadcaster fans updates out to subscribers without blocking.
type Broadcaster struct {
	mu          sync.RWMutex
	subscribers map[int]chan Update
	nextID      int
	bufferSize  int
	dropped     atomic.Uint64
	latest      atomic.Pointer[Update]
}

// NewBroadcaster creates a broadcaster with the given per-subscriber buffer.
func NewBroadcaster(bufferSize int) *Broadcaster {
	if bufferSize <= 0 {
		bufferSize = defaultBufferSize
	}

	return &Broadcaster{
		subscribers: make(map[int]chan Update),
		bufferSize:  bufferSize,
	}
}

// Publish delivers the update to every subscriber with buffer room.
func (b *Broadcaster) Publish(update Update) {
	b.latest.Store(&update)

	b.mu.RLock()
	defer b.mu.RUnlock()

	for _, ch := range b.subscribers {
		select {
		case ch <- update:
		default:
			b.dropped.Add(1)
		}
	}
}

// Subscribe returns a channel of updates and a function that cancels the
// subscription and closes the channel.
func (b *Broadcaster) Subscribe() (<-chan Update, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	id := b.nextID
	b.nextID++

	ch := make(chan Update, b.bufferSize)
	b.subscribers[id] = ch

	var once sync.Once

	return ch, func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()

			delete(b.subscribers, id)
			close(ch)
		})
	}
}

// Latest returns the most recent update, if any.
func (b *Broadcaster) Latest() (Update, bool) {
	if u := b.latest.Load(); u != nil {
		return *u, true
	}

	return Update{}, false
}

// Dropped returns how many deliveries were skipped because a buffer was full.
func (b *Broadcaster) Dropped() uint64 {
	return b.dropped.Load()
}

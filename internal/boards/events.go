package boards

import "sync"

type EventType string

const (
	EventBoardsUpdated EventType = "boards_updated"
	EventPinUpdated    EventType = "pin_updated"
)

type Event struct {
	Type         EventType    `json:"type"`
	ControllerID string       `json:"controller_id,omitempty"`
	Boards       []uint8      `json:"boards,omitempty"`
	Pin          *PinSnapshot `json:"pin,omitempty"`
}

const subscriberBuffer = 64

// eventBus fans events out to subscribers. Slow subscribers lose events
// rather than blocking ingestion.
type eventBus struct {
	mu   sync.RWMutex
	subs map[chan Event]struct{}
}

func (b *eventBus) subscribe() (<-chan Event, func()) {
	ch := make(chan Event, subscriberBuffer)

	b.mu.Lock()
	if b.subs == nil {
		b.subs = make(map[chan Event]struct{})
	}
	b.subs[ch] = struct{}{}
	b.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, ch)
			b.mu.Unlock()
			close(ch)
		})
	}
}

func (b *eventBus) publish(ev Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for ch := range b.subs {
		select {
		case ch <- ev:
		default:
		}
	}
}

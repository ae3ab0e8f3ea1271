package boards

import "sync"

// IDAllocator hands out group and pin ids for one manager. Group ids are
// stable per key so reloading the same pinout reuses them.
type IDAllocator struct {
	mu        sync.Mutex
	nextGroup int
	nextPin   int
	groups    map[string]int
}

func NewIDAllocator() *IDAllocator {
	return &IDAllocator{
		nextGroup: 1,
		nextPin:   1,
		groups:    make(map[string]int),
	}
}

func (a *IDAllocator) GroupID(key string) int {
	a.mu.Lock()
	defer a.mu.Unlock()

	if id, ok := a.groups[key]; ok {
		return id
	}
	id := a.nextGroup
	a.nextGroup++
	a.groups[key] = id
	return id
}

func (a *IDAllocator) NextPinID() int {
	a.mu.Lock()
	defer a.mu.Unlock()

	id := a.nextPin
	a.nextPin++
	return id
}

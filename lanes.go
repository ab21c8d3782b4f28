package gamefi

import "sync"

// laneSet serialises work per asset key.
// Each lane is a chain of done channels: a newcomer waits on the channel of
// the write queued before it, so writes sharing a key run one at a time in
// arrival order while different keys never contend.
type laneSet struct {
	mu    sync.Mutex
	tails map[string]chan struct{}
}

func newLaneSet() *laneSet {
	return &laneSet{tails: make(map[string]chan struct{})}
}

// ticket is a position in a lane
type ticket struct {
	key  string
	prev chan struct{}
	done chan struct{}
}

// enqueue reserves the next position in the lane for key.
// Arrival order is fixed here, so it must be called synchronously by the
// submitter before any goroutine hand-off.
func (l *laneSet) enqueue(key string) *ticket {
	l.mu.Lock()
	defer l.mu.Unlock()

	t := &ticket{
		key:  key,
		prev: l.tails[key],
		done: make(chan struct{}),
	}
	l.tails[key] = t.done
	return t
}

// wait blocks until every earlier write in the lane has released
func (t *ticket) wait() {
	if t.prev != nil {
		<-t.prev
	}
}

// release hands the lane to the next write and forgets idle lanes
func (l *laneSet) release(t *ticket) {
	l.mu.Lock()
	defer l.mu.Unlock()

	close(t.done)
	if l.tails[t.key] == t.done {
		delete(l.tails, t.key)
	}
}

// active reports how many lanes currently hold queued or running writes
func (l *laneSet) active() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.tails)
}

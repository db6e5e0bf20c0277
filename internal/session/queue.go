package session

import "sync"

// writeQueue runs writes one at a time in ticket order. Tickets are taken
// while the cache lock is held, so disk commits follow the order in which
// the cache was changed. It only orders writers inside this process.
type writeQueue struct {
	mu      sync.Mutex
	cond    *sync.Cond
	next    uint64
	serving uint64
}

func newWriteQueue() *writeQueue {
	q := &writeQueue{}
	q.cond = sync.NewCond(&q.mu)
	return q
}

func (q *writeQueue) ticket() uint64 {
	q.mu.Lock()
	defer q.mu.Unlock()
	t := q.next
	q.next++
	return t
}

// run waits for t's turn, runs fn and hands the turn to the next ticket even
// when fn fails.
func (q *writeQueue) run(t uint64, fn func() error) error {
	q.mu.Lock()
	for q.serving != t {
		q.cond.Wait()
	}
	q.mu.Unlock()

	defer func() {
		q.mu.Lock()
		q.serving++
		q.cond.Broadcast()
		q.mu.Unlock()
	}()
	return fn()
}

package integration

import (
	"sync"

	"github.com/ef-ds/deque"

	"github.com/NOVAInetwork/NOVAI-node/pkg/consensus/network"
)

// eventQueue is the unbounded FIFO between the goroutines that produce
// consensus inputs and the single goroutine that consumes them. Push never
// blocks; Notify fires at least once after every Push.
type eventQueue struct {
	mu     sync.Mutex
	queue  deque.Deque
	notify chan struct{}
}

func newEventQueue() *eventQueue {
	return &eventQueue{notify: make(chan struct{}, 1)}
}

// Push appends msg to the tail of the queue.
func (q *eventQueue) Push(msg network.ReceivedMessage) {
	q.mu.Lock()
	q.queue.PushBack(msg)
	q.mu.Unlock()

	select {
	case q.notify <- struct{}{}:
	default:
	}
}

// Pop removes the head of the queue.
func (q *eventQueue) Pop() (network.ReceivedMessage, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	v, ok := q.queue.PopFront()
	if !ok {
		return network.ReceivedMessage{}, false
	}
	return v.(network.ReceivedMessage), true
}

// Len returns the number of queued events.
func (q *eventQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.queue.Len()
}

// Notify returns the channel signalled when new events are queued.
func (q *eventQueue) Notify() <-chan struct{} {
	return q.notify
}

package sink

import (
	"sync/atomic"

	"github.com/tableio/tableio/datastore"
)

// WriteFailure pairs a failed mutation record with its cause.
type WriteFailure struct {
	Record *datastore.MutationRecord
	Cause  error
}

type failureNode struct {
	failure *WriteFailure
	next    *failureNode
}

// failureQueue is an unbounded multi-producer single-consumer queue.
// Producers CAS-prepend onto an intrusive list; the single consumer
// detaches the whole list in one swap and reverses it to restore rough
// arrival order.
type failureQueue struct {
	head atomic.Pointer[failureNode]
}

func newFailureQueue() *failureQueue {
	return &failureQueue{}
}

// push is safe to call from any number of completion goroutines.
func (q *failureQueue) push(f *WriteFailure) {
	node := &failureNode{failure: f}
	for {
		head := q.head.Load()
		node.next = head
		if q.head.CompareAndSwap(head, node) {
			return
		}
	}
}

func (q *failureQueue) empty() bool {
	return q.head.Load() == nil
}

// drain removes every queued failure. Only the single consumer may call
// it; entries pushed concurrently land in a later drain.
func (q *failureQueue) drain() []*WriteFailure {
	head := q.head.Swap(nil)
	if head == nil {
		return nil
	}

	var out []*WriteFailure
	for node := head; node != nil; node = node.next {
		out = append(out, node.failure)
	}
	// prepend order is LIFO, reverse for FIFO
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out
}

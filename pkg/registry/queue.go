package registry

import (
	"context"
	"sync"

	"github.com/chanmux/chanmux-go/pkg/wire"
)

// job is one queued listen or ignore request.
type job struct {
	event wire.Event
	entry *Entry

	// data is the pre-encoded listen envelope.
	data []byte

	// gen is the generation an ignore targets.
	gen uint64

	done func(error)
}

// sendQueue runs jobs one at a time in FIFO order. The worker goroutine is
// started on demand and exits when the queue drains.
type sendQueue struct {
	run func(ctx context.Context, j job) error

	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.Mutex
	pending []job
	running bool
	closed  bool
	wg      sync.WaitGroup
}

func newSendQueue(run func(ctx context.Context, j job) error) *sendQueue {
	ctx, cancel := context.WithCancel(context.Background())
	return &sendQueue{run: run, ctx: ctx, cancel: cancel}
}

func (q *sendQueue) push(j job) {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		if j.done != nil {
			j.done(ErrClosed)
		}
		return
	}
	q.pending = append(q.pending, j)
	if !q.running {
		q.running = true
		q.wg.Add(1)
		go q.work()
	}
	q.mu.Unlock()
}

func (q *sendQueue) work() {
	defer q.wg.Done()
	for {
		q.mu.Lock()
		if len(q.pending) == 0 || q.closed {
			q.running = false
			q.mu.Unlock()
			return
		}
		j := q.pending[0]
		q.pending[0] = job{}
		q.pending = q.pending[1:]
		q.mu.Unlock()

		err := q.run(q.ctx, j)
		if j.done != nil {
			j.done(err)
		}
	}
}

// close stops the worker and fails every job still pending.
func (q *sendQueue) close() {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.closed = true
	pending := q.pending
	q.pending = nil
	q.mu.Unlock()

	q.cancel()
	q.wg.Wait()

	for _, j := range pending {
		if j.done != nil {
			j.done(ErrClosed)
		}
	}
}

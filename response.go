package tempest

import (
	"context"
	"sync"
	"time"
)

// responseFuture is one pending response registration, completed exactly
// once by either an inbound response message or a timeout (spec.md §8:
// "Response pairing").
type responseFuture struct {
	done    chan struct{}
	result  Message
	err     error
	once    sync.Once
}

func newResponseFuture() *responseFuture {
	return &responseFuture{done: make(chan struct{})}
}

func (f *responseFuture) complete(msg Message) {
	f.once.Do(func() {
		f.result = msg
		close(f.done)
	})
}

func (f *responseFuture) fail(err error) {
	f.once.Do(func() {
		f.err = err
		close(f.done)
	})
}

// Wait blocks until the future completes or ctx is done, whichever first.
func (f *responseFuture) Wait(ctx context.Context) (Message, error) {
	select {
	case <-f.done:
		return f.result, f.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// ResponseManager pairs outbound messages flagged response_expected with
// the inbound message that eventually answers them, keyed by message id
// (spec.md §3, §4.9). A timer per registration cancels the future with
// ErrResponseTimeout if nothing answers it in time.
type ResponseManager struct {
	mu      sync.Mutex
	pending map[int32]*responseFuture
}

// NewResponseManager returns an empty response-pairing table.
func NewResponseManager() *ResponseManager {
	return &ResponseManager{pending: make(map[int32]*responseFuture)}
}

// Register creates a future for messageID with the given deadline (0 means
// use defaultTimeout) and returns a function the caller awaits for the
// paired response.
func (rm *ResponseManager) Register(messageID int32, timeout, defaultTimeout time.Duration) func(ctx context.Context) (Message, error) {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	f := newResponseFuture()

	rm.mu.Lock()
	rm.pending[messageID] = f
	rm.mu.Unlock()

	timer := time.AfterFunc(timeout, func() {
		rm.mu.Lock()
		if rm.pending[messageID] == f {
			delete(rm.pending, messageID)
		}
		rm.mu.Unlock()
		f.fail(ErrResponseTimeout)
	})

	return func(ctx context.Context) (Message, error) {
		msg, err := f.Wait(ctx)
		timer.Stop()
		return msg, err
	}
}

// Complete resolves the future registered under messageID with msg, if one
// is still pending. Returns false if no future is registered (the response
// arrived after its timeout fired, or was never expected).
func (rm *ResponseManager) Complete(messageID int32, msg Message) bool {
	rm.mu.Lock()
	f, ok := rm.pending[messageID]
	if ok {
		delete(rm.pending, messageID)
	}
	rm.mu.Unlock()
	if !ok {
		return false
	}
	f.complete(msg)
	return true
}

// CancelAll fails every still-pending future, for connection teardown
// (spec.md §5: "Pending response futures are cancelled on teardown").
func (rm *ResponseManager) CancelAll(err error) {
	rm.mu.Lock()
	pending := rm.pending
	rm.pending = make(map[int32]*responseFuture)
	rm.mu.Unlock()
	for _, f := range pending {
		f.fail(err)
	}
}

// Pending reports how many responses are currently awaited, for tests and
// diagnostics.
func (rm *ResponseManager) Pending() int {
	rm.mu.Lock()
	defer rm.mu.Unlock()
	return len(rm.pending)
}

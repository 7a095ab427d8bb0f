package tempest

import (
	"context"
	"sync"

	"github.com/cloudwego/gopkg/concurrency/gopool"
)

// Handler processes one dispatched message event.
type Handler func(event MessageEvent)

// handlerKey identifies a registered handler by (protocol, message type)
// (spec.md §4.9).
type handlerKey struct {
	protocol byte
	typeID   uint16
}

// ExecutionOrder selects how a Dispatcher schedules handler invocations
// across connections (spec.md §4.9/§5).
type ExecutionOrder int

const (
	// PerConnectionOrder pumps each connection's messages sequentially but
	// runs different connections concurrently. The default.
	PerConnectionOrder ExecutionOrder = iota
	// GlobalOrder drains a single shared queue so every handler invocation,
	// regardless of source connection, observes one total arrival order.
	GlobalOrder
)

// Dispatcher routes decoded messages to registered handlers, honoring one
// of two execution-ordering modes (spec.md §4.9). Per-connection order uses
// a worker-pool goroutine per connection (via gopool, so goroutines are
// reused instead of spawned per message); global order drains a single
// buffered channel with one consumer goroutine.
type Dispatcher struct {
	mu       sync.RWMutex
	handlers map[handlerKey]Handler

	order ExecutionOrder
	pool  *gopool.GoPool

	globalQueue chan MessageEvent
	globalOnce  sync.Once
	globalStop  chan struct{}

	connMu    sync.Mutex
	connQueue map[int32]chan MessageEvent
}

// NewDispatcher returns a Dispatcher using order as its execution mode. For
// GlobalOrder, the caller must call Run before any message is dispatched.
func NewDispatcher(order ExecutionOrder) *Dispatcher {
	d := &Dispatcher{
		handlers:  make(map[handlerKey]Handler),
		order:     order,
		pool:      gopool.NewGoPool("tempest-dispatch", gopool.DefaultOption()),
		connQueue: make(map[int32]chan MessageEvent),
	}
	if order == GlobalOrder {
		d.globalQueue = make(chan MessageEvent, 1024)
		d.globalStop = make(chan struct{})
	}
	return d
}

// Register installs handler for (protocolID, typeID), replacing any
// previous registration.
func (d *Dispatcher) Register(protocolID byte, typeID uint16, handler Handler) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.handlers[handlerKey{protocolID, typeID}] = handler
}

// Unregister removes the handler for (protocolID, typeID), if any.
func (d *Dispatcher) Unregister(protocolID byte, typeID uint16) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.handlers, handlerKey{protocolID, typeID})
}

func (d *Dispatcher) lookup(protocolID byte, typeID uint16) (Handler, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	h, ok := d.handlers[handlerKey{protocolID, typeID}]
	return h, ok
}

// Dispatch routes one decoded message event according to the Dispatcher's
// execution order.
func (d *Dispatcher) Dispatch(event MessageEvent) {
	if d.order == GlobalOrder {
		d.globalQueue <- event
		return
	}
	d.dispatchPerConnection(event)
}

// dispatchPerConnection feeds event into a per-connection-id queue served
// by a dedicated pooled goroutine, preserving in-order delivery for that
// connection while letting distinct connections run in parallel (spec.md
// §4.9: "each connection pumps its own messages; handlers for the same
// connection run sequentially; different connections run in parallel").
func (d *Dispatcher) dispatchPerConnection(event MessageEvent) {
	connID := connectionIDOf(event)

	d.connMu.Lock()
	queue, ok := d.connQueue[connID]
	if !ok {
		queue = make(chan MessageEvent, 256)
		d.connQueue[connID] = queue
		d.pool.CtxGo(context.Background(), func() { d.drainConnQueue(queue) })
	}
	d.connMu.Unlock()

	queue <- event
}

func connectionIDOf(event MessageEvent) int32 {
	if event.Connection != nil {
		return event.Connection.ConnectionID()
	}
	if event.Header != nil {
		return event.Header.ConnectionID
	}
	return 0
}

func (d *Dispatcher) drainConnQueue(queue chan MessageEvent) {
	for event := range queue {
		d.invoke(event)
	}
}

func (d *Dispatcher) invoke(event MessageEvent) {
	handler, ok := d.lookup(event.Message.ProtocolID(), event.Message.TypeID())
	if !ok {
		return
	}
	handler(event)
}

// Run starts the single consumer goroutine for GlobalOrder mode. It is a
// no-op for PerConnectionOrder. Safe to call multiple times.
func (d *Dispatcher) Run() {
	if d.order != GlobalOrder {
		return
	}
	d.globalOnce.Do(func() {
		d.pool.CtxGo(context.Background(), func() {
			for {
				select {
				case event := <-d.globalQueue:
					d.invoke(event)
				case <-d.globalStop:
					return
				}
			}
		})
	})
}

// Stop halts the GlobalOrder consumer goroutine, if running.
func (d *Dispatcher) Stop() {
	if d.order == GlobalOrder {
		close(d.globalStop)
	}
}

// Forget closes and releases connID's per-connection queue, for a
// connection that has disconnected. Safe to call even if connID was never
// dispatched to.
func (d *Dispatcher) Forget(connID int32) {
	d.connMu.Lock()
	defer d.connMu.Unlock()
	if queue, ok := d.connQueue[connID]; ok {
		close(queue)
		delete(d.connQueue, connID)
	}
}

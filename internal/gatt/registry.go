package gatt

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/hedzr/go-ringbuf/v2/mpmc"
	"github.com/sirupsen/logrus"
	"github.com/srg/blecentral/internal/groutine"
)

// MaxBufferSize caps the notification buffer to guard against misconfiguration
const MaxBufferSize uint32 = 1024 * 1024

type notification struct {
	characteristic uuid.UUID
	value          []byte
}

// RegistryMetrics counts notification traffic
type RegistryMetrics struct {
	Dispatched  int64
	Dropped     int64 // no registration at dispatch time
	Overwritten int64 // lost to buffer overflow
}

// Registry maps characteristic ids to value callbacks.
//
// Values are queued into an overlapping ring buffer and delivered in arrival order on a
// dedicated goroutine, so a slow callback never stalls link or transaction events.
// When the buffer overflows the oldest values are dropped.
type Registry struct {
	logger *logrus.Logger

	mu        sync.RWMutex
	callbacks map[uuid.UUID]func([]byte)

	buffer mpmc.RichOverlappedRingBuffer[notification]
	signal chan struct{}
	stop   chan struct{}
	done   chan struct{}
	once   sync.Once

	dispatched  atomic.Int64
	dropped     atomic.Int64
	overwritten atomic.Int64
}

// NewRegistry creates a registry and starts its dispatcher
func NewRegistry(bufferSize uint32, logger *logrus.Logger) (*Registry, error) {
	if bufferSize == 0 {
		return nil, fmt.Errorf("buffer size must be > 0")
	}
	if bufferSize > MaxBufferSize {
		return nil, fmt.Errorf("buffer size %d exceeds maximum %d", bufferSize, MaxBufferSize)
	}
	if logger == nil {
		logger = logrus.New()
	}

	r := &Registry{
		logger:    logger,
		callbacks: make(map[uuid.UUID]func([]byte)),
		buffer:    mpmc.NewOverlappedRingBuffer[notification](bufferSize),
		signal:    make(chan struct{}, 1),
		stop:      make(chan struct{}),
		done:      make(chan struct{}),
	}
	groutine.Go(context.Background(), "notification-dispatcher", r.run)
	return r, nil
}

// Set registers cb for characteristic, replacing any previous callback
func (r *Registry) Set(characteristic uuid.UUID, cb func([]byte)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.callbacks[characteristic] = cb
}

// Remove drops the registration for characteristic
func (r *Registry) Remove(characteristic uuid.UUID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.callbacks[characteristic]
	delete(r.callbacks, characteristic)
	return ok
}

// Clear drops every registration
func (r *Registry) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	clear(r.callbacks)
}

func (r *Registry) Has(characteristic uuid.UUID) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.callbacks[characteristic]
	return ok
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.callbacks)
}

// Dispatch queues a value change for delivery
func (r *Registry) Dispatch(characteristic uuid.UUID, value []byte) {
	n := notification{characteristic: characteristic, value: append([]byte(nil), value...)}
	overwrites, err := r.buffer.EnqueueM(n)
	if err != nil {
		r.logger.WithFields(logrus.Fields{
			"characteristic": characteristic.String(),
			"error":          err,
		}).Warn("Notification enqueue failed")
		return
	}
	if overwrites > 0 {
		r.overwritten.Add(int64(overwrites))
	}

	select {
	case r.signal <- struct{}{}:
	default:
	}
}

// GetMetrics returns a snapshot of the counters
func (r *Registry) GetMetrics() RegistryMetrics {
	return RegistryMetrics{
		Dispatched:  r.dispatched.Load(),
		Dropped:     r.dropped.Load(),
		Overwritten: r.overwritten.Load(),
	}
}

// Close stops the dispatcher; queued values are discarded
func (r *Registry) Close() {
	r.once.Do(func() {
		close(r.stop)
		<-r.done
	})
}

func (r *Registry) run(ctx context.Context) {
	defer close(r.done)
	for {
		select {
		case <-r.stop:
			return
		case <-r.signal:
			r.drain()
		}
	}
}

func (r *Registry) drain() {
	for !r.buffer.IsEmpty() {
		select {
		case <-r.stop:
			return
		default:
		}

		n, err := r.buffer.Dequeue()
		if err != nil {
			return
		}

		r.mu.RLock()
		cb := r.callbacks[n.characteristic]
		r.mu.RUnlock()

		if cb == nil {
			r.dropped.Add(1)
			continue
		}
		r.dispatched.Add(1)
		cb(n.value)
	}
}

package buffer

import (
	"sync"

	"github.com/c360/editorbridge/errors"
)

// ringBuffer is a thread-safe bounded FIFO with configurable overflow
// policies.
type ringBuffer[T any] struct {
	mu       sync.RWMutex
	items    []T
	capacity int
	size     int
	head     int // next write position
	tail     int // next read position
	stats    *Statistics
	metrics  *bufferMetrics // optional Prometheus export
	opts     *bufferOptions[T]
	closed   bool
}

func newRingBuffer[T any](capacity int, opts *bufferOptions[T]) (*ringBuffer[T], error) {
	if capacity <= 0 {
		capacity = 1
	}

	var metrics *bufferMetrics
	if opts.metricsReg != nil && opts.metricsPrefix != "" {
		var err error
		metrics, err = newBufferMetrics(opts.metricsReg, opts.metricsPrefix)
		if err != nil {
			return nil, errors.Wrap(err, "buffer", "newRingBuffer", "metrics registration")
		}
	}

	return &ringBuffer[T]{
		items:    make([]T, capacity),
		capacity: capacity,
		stats:    NewStatistics(),
		metrics:  metrics,
		opts:     opts,
	}, nil
}

// Write adds an item to the buffer according to the overflow policy.
func (rb *ringBuffer[T]) Write(item T) error {
	rb.mu.Lock()
	defer rb.mu.Unlock()

	if rb.closed {
		return errors.Wrap(errors.ErrShuttingDown, "buffer", "Write", "buffer closed")
	}

	if rb.size == rb.capacity {
		switch rb.opts.overflowPolicy {
		case DropOldest:
			droppedItem := rb.items[rb.tail]
			rb.tail = (rb.tail + 1) % rb.capacity
			rb.size--

			rb.stats.Overflow()
			rb.stats.Drop()
			if rb.metrics != nil {
				rb.metrics.recordOverflow()
				rb.metrics.recordDrop()
			}

			if rb.opts.dropCallback != nil {
				// Run outside the lock to avoid deadlock.
				defer rb.opts.dropCallback(droppedItem)
			}

		case DropNewest:
			rb.stats.Overflow()
			rb.stats.Drop()
			if rb.metrics != nil {
				rb.metrics.recordOverflow()
				rb.metrics.recordDrop()
			}
			if rb.opts.dropCallback != nil {
				defer rb.opts.dropCallback(item)
			}
			return nil
		}
	}

	rb.items[rb.head] = item
	rb.head = (rb.head + 1) % rb.capacity
	rb.size++

	rb.stats.Write()
	rb.stats.UpdateSize(int64(rb.size))
	if rb.metrics != nil {
		rb.metrics.recordWrite(rb.size, rb.capacity)
	}

	return nil
}

// Read retrieves and removes the oldest item.
func (rb *ringBuffer[T]) Read() (T, bool) {
	rb.mu.Lock()
	defer rb.mu.Unlock()

	var zero T
	if rb.size == 0 {
		return zero, false
	}

	item := rb.items[rb.tail]
	rb.items[rb.tail] = zero // release for GC
	rb.tail = (rb.tail + 1) % rb.capacity
	rb.size--

	rb.stats.Read()
	rb.stats.UpdateSize(int64(rb.size))
	if rb.metrics != nil {
		rb.metrics.recordRead(rb.size, rb.capacity)
	}

	return item, true
}

// Snapshot returns all buffered items in arrival order without removing
// them.
func (rb *ringBuffer[T]) Snapshot() []T {
	rb.mu.RLock()
	defer rb.mu.RUnlock()

	if rb.size == 0 {
		return nil
	}

	result := make([]T, rb.size)
	for i := 0; i < rb.size; i++ {
		result[i] = rb.items[(rb.tail+i)%rb.capacity]
	}

	rb.stats.Peek()
	if rb.metrics != nil {
		rb.metrics.recordPeek()
	}

	return result
}

// Peek retrieves the oldest item without removing it.
func (rb *ringBuffer[T]) Peek() (T, bool) {
	rb.mu.RLock()
	defer rb.mu.RUnlock()

	var zero T
	if rb.size == 0 {
		return zero, false
	}

	rb.stats.Peek()
	if rb.metrics != nil {
		rb.metrics.recordPeek()
	}

	return rb.items[rb.tail], true
}

// Size returns the current number of items in the buffer.
func (rb *ringBuffer[T]) Size() int {
	rb.mu.RLock()
	defer rb.mu.RUnlock()
	return rb.size
}

// Capacity returns the maximum number of items the buffer can hold.
func (rb *ringBuffer[T]) Capacity() int {
	return rb.capacity // immutable, no lock needed
}

// IsEmpty returns true if the buffer contains no items.
func (rb *ringBuffer[T]) IsEmpty() bool {
	rb.mu.RLock()
	defer rb.mu.RUnlock()
	return rb.size == 0
}

// Clear removes all items from the buffer.
func (rb *ringBuffer[T]) Clear() {
	rb.mu.Lock()
	defer rb.mu.Unlock()

	var zero T

	if rb.opts.dropCallback != nil {
		itemsToDrop := make([]T, rb.size)
		for i := 0; i < rb.size; i++ {
			itemsToDrop[i] = rb.items[(rb.tail+i)%rb.capacity]
		}
		defer func() {
			for _, item := range itemsToDrop {
				rb.opts.dropCallback(item)
			}
		}()
	}

	for i := 0; i < rb.capacity; i++ {
		rb.items[i] = zero
	}

	rb.head = 0
	rb.tail = 0
	rb.size = 0

	rb.stats.UpdateSize(0)
	if rb.metrics != nil {
		rb.metrics.updateSize(0, rb.capacity)
	}
}

// Stats returns buffer statistics.
func (rb *ringBuffer[T]) Stats() *Statistics {
	return rb.stats
}

// Close shuts down the buffer; subsequent writes fail.
func (rb *ringBuffer[T]) Close() error {
	rb.mu.Lock()
	defer rb.mu.Unlock()
	rb.closed = true
	return nil
}

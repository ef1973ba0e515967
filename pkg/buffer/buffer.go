package buffer

// Buffer is a bounded FIFO of items of type T.
type Buffer[T any] interface {
	// Write appends item. When the buffer is full the overflow policy
	// decides which item is dropped; Write itself only fails once closed.
	Write(item T) error

	// Read removes and returns the oldest item, or false when empty.
	Read() (T, bool)

	// ReadBatch removes up to max items, oldest first.
	ReadBatch(max int) []T

	// Peek returns the oldest item without removing it.
	Peek() (T, bool)

	Size() int
	Capacity() int
	IsFull() bool
	IsEmpty() bool

	// Clear drops every item, calling the drop callback for each.
	Clear()

	Stats() *Statistics
	Close() error
}

// OverflowPolicy selects what a full buffer drops.
type OverflowPolicy int

const (
	// DropOldest evicts the head to make room for the new item.
	DropOldest OverflowPolicy = iota

	// DropNewest discards the item being written.
	DropNewest
)

// String returns the policy name.
func (p OverflowPolicy) String() string {
	switch p {
	case DropOldest:
		return "DropOldest"
	case DropNewest:
		return "DropNewest"
	default:
		return "Unknown"
	}
}

// DropCallback receives every item the buffer discards.
type DropCallback[T any] func(item T)

// NewCircularBuffer creates a ring buffer holding capacity items.
// Registering metrics can fail when the prefix is already in use.
func NewCircularBuffer[T any](capacity int, options ...Option[T]) (Buffer[T], error) {
	opts := applyOptions(options...)
	return newRing(capacity, opts)
}

package oracle

import "time"

// Backoff is an exponential delay bounded by [Floor, Ceiling].
type Backoff struct {
	Floor   time.Duration
	Ceiling time.Duration
	next    time.Duration
}

// NewBackoff returns a Backoff starting at floor. A ceiling below floor is
// raised to floor.
func NewBackoff(floor, ceiling time.Duration) *Backoff {
	if floor <= 0 {
		floor = time.Second
	}
	if ceiling < floor {
		ceiling = floor
	}
	return &Backoff{Floor: floor, Ceiling: ceiling, next: floor}
}

// Next returns the delay to wait now and doubles the following one.
func (b *Backoff) Next() time.Duration {
	d := b.next
	b.next *= 2
	if b.next > b.Ceiling {
		b.next = b.Ceiling
	}
	return d
}

// Reset returns the delay to Floor.
func (b *Backoff) Reset() { b.next = b.Floor }

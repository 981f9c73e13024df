package material

import (
	"errors"
	"fmt"
	"math"
)

// CapacityError is returned when a push would overfill a buffer.
type CapacityError struct {
	Quantity float64 // offered kg
	Space    float64 // free kg at the time of the push
	Capacity float64
}

func (e *CapacityError) Error() string {
	return fmt.Sprintf("push of %g kg exceeds buffer space %g kg (capacity %g kg)", e.Quantity, e.Space, e.Capacity)
}

// IsCapacityError reports whether err is or wraps a CapacityError.
func IsCapacityError(err error) bool {
	var ce *CapacityError
	return errors.As(err, &ce)
}

// Buffer is a bounded FIFO of material lots.
//
// Buffers hold tracked materials only. The capacity may be +Inf.
// Not safe for concurrent use; a buffer belongs to one facility, which is
// driven by a single-threaded run.
type Buffer struct {
	capacity float64
	lots     []*Material
}

// NewBuffer creates an empty buffer. A negative capacity means unbounded.
func NewBuffer(capacity float64) *Buffer {
	if capacity < 0 {
		capacity = math.Inf(1)
	}
	return &Buffer{capacity: capacity}
}

// Capacity is the maximum quantity in kg.
func (b *Buffer) Capacity() float64 { return b.capacity }

// SetCapacity changes the limit. It fails if current contents would not fit.
func (b *Buffer) SetCapacity(capacity float64) error {
	if capacity < 0 {
		capacity = math.Inf(1)
	}
	if q := b.Quantity(); q > capacity+Eps {
		return fmt.Errorf("capacity %g kg below current quantity %g kg", capacity, q)
	}
	b.capacity = capacity
	return nil
}

// Quantity is the total held mass.
func (b *Buffer) Quantity() float64 {
	var sum float64
	for _, m := range b.lots {
		sum += m.Quantity()
	}
	return sum
}

// Space is the free capacity, never negative.
func (b *Buffer) Space() float64 {
	return math.Max(0, b.capacity-b.Quantity())
}

// Count is the number of lots.
func (b *Buffer) Count() int { return len(b.lots) }

// Empty reports whether the buffer holds no lots.
func (b *Buffer) Empty() bool { return len(b.lots) == 0 }

// Push appends a lot. Zero-mass lots are dropped.
func (b *Buffer) Push(m *Material) error {
	if m == nil {
		return fmt.Errorf("push nil material")
	}
	if !m.Tracked() {
		return fmt.Errorf("push: %w", ErrUntracked)
	}
	if space := b.Space(); m.Quantity()-space > Eps {
		return &CapacityError{Quantity: m.Quantity(), Space: space, Capacity: b.capacity}
	}
	if m.Quantity() <= 0 {
		return nil
	}
	b.lots = append(b.lots, m)
	return nil
}

// PushAll pushes lots in order, stopping at the first failure.
func (b *Buffer) PushAll(mats []*Material) error {
	for i, m := range mats {
		if err := b.Push(m); err != nil {
			return fmt.Errorf("lot %d: %w", i, err)
		}
	}
	return nil
}

// Pop removes qty kg from the front of the queue as a single material,
// splitting the last lot it touches.
func (b *Buffer) Pop(qty float64) (*Material, error) {
	have := b.Quantity()
	if qty > have+Eps {
		return nil, fmt.Errorf("pop %g kg from buffer holding %g kg: %w", qty, have, ErrInsufficientMass)
	}

	out := &Material{comp: Composition{}, tracked: true}
	remaining := qty
	for remaining > 0 && len(b.lots) > 0 {
		front := b.lots[0]
		if lotQty := front.Quantity(); lotQty <= remaining+Eps {
			remaining -= lotQty
			out.Absorb(front)
			b.lots[0] = nil
			b.lots = b.lots[1:]
			continue
		}
		part, err := front.ExtractQty(remaining)
		if err != nil {
			return nil, err
		}
		out.Absorb(part)
		remaining = 0
	}
	if len(b.lots) == 0 {
		b.lots = nil
	}
	return out, nil
}

// PopAll removes and returns every lot.
func (b *Buffer) PopAll() []*Material {
	lots := b.lots
	b.lots = nil
	return lots
}

// Lots returns copies of the held lots in queue order.
func (b *Buffer) Lots() []*Material {
	out := make([]*Material, len(b.lots))
	for i, m := range b.lots {
		out[i] = m.Clone()
	}
	return out
}

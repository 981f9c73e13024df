package material

import (
	"errors"
	"fmt"
)

var (
	// ErrInsufficientMass is returned when an extraction asks for more of a
	// component than the material holds.
	ErrInsufficientMass = errors.New("insufficient mass")

	// ErrUntracked is returned when an untracked material is offered to a buffer.
	ErrUntracked = errors.New("untracked material")
)

// Material is a quantity of matter with a composition.
//
// Tracked materials are owned by exactly one buffer at a time. Untracked
// materials are computation results (staged separations output, request
// targets) and never enter a buffer.
type Material struct {
	qty     float64
	comp    Composition
	tracked bool
}

// New creates a tracked material of qty kg with the given composition shape.
func New(qty float64, comp Composition) *Material {
	return &Material{qty: qty, comp: comp.Normalized(qty), tracked: true}
}

// NewUntracked creates an untracked material of qty kg.
func NewUntracked(qty float64, comp Composition) *Material {
	return &Material{qty: qty, comp: comp.Normalized(qty)}
}

// NewBlank creates an untracked material with a quantity but no composition,
// used for requests that accept anything.
func NewBlank(qty float64) *Material {
	return &Material{qty: qty, comp: Composition{}}
}

// Quantity is the mass in kg.
func (m *Material) Quantity() float64 { return m.qty }

// Tracked reports whether the material may be stored in a buffer.
func (m *Material) Tracked() bool { return m.tracked }

// Comp returns a copy of the component masses.
func (m *Material) Comp() Composition { return m.comp.Clone() }

// Clone returns an independent copy with the same tracking state.
func (m *Material) Clone() *Material {
	return &Material{qty: m.qty, comp: m.comp.Clone(), tracked: m.tracked}
}

// ExtractQty removes qty kg, keeping the composition proportions.
func (m *Material) ExtractQty(qty float64) (*Material, error) {
	if qty > m.qty+Eps {
		return nil, fmt.Errorf("extract %g kg from %g kg: %w", qty, m.qty, ErrInsufficientMass)
	}
	if qty >= m.qty {
		out := &Material{qty: m.qty, comp: m.comp, tracked: m.tracked}
		m.comp = Composition{}
		m.qty = 0
		return out, nil
	}
	if qty <= 0 {
		return &Material{comp: Composition{}, tracked: m.tracked}, nil
	}

	ratio := qty / m.qty
	taken := make(Composition, len(m.comp))
	for _, n := range m.comp.Nuclides() {
		v := m.comp[n] * ratio
		taken[n] = v
		m.comp[n] -= v
		if m.comp[n] <= 0 {
			delete(m.comp, n)
		}
	}
	m.qty = m.comp.Total()
	return &Material{qty: taken.Total(), comp: taken, tracked: m.tracked}, nil
}

// ExtractComp removes qty kg shaped like comp. Every component must be
// available within Eps; shortfalls inside the tolerance are clamped to zero.
func (m *Material) ExtractComp(qty float64, comp Composition) (*Material, error) {
	want := comp.Normalized(qty)
	for _, n := range want.Nuclides() {
		if want[n] > m.comp[n]+Eps {
			return nil, fmt.Errorf("extract %g kg of %s, have %g kg: %w", want[n], n, m.comp[n], ErrInsufficientMass)
		}
	}

	for _, n := range want.Nuclides() {
		left := m.comp[n] - want[n]
		if left <= 0 {
			delete(m.comp, n)
			continue
		}
		m.comp[n] = left
	}
	m.qty = m.comp.Total()
	return &Material{qty: want.Total(), comp: want, tracked: m.tracked}, nil
}

// Absorb merges other into m. other is left empty.
func (m *Material) Absorb(other *Material) {
	if m.comp == nil {
		m.comp = Composition{}
	}
	for n, v := range other.comp {
		m.comp[n] += v
	}
	m.qty += other.qty
	other.comp = Composition{}
	other.qty = 0
}

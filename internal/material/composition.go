package material

import (
	"fmt"
	"sort"
)

// Eps is the mass tolerance (kg) applied to every capacity and extraction check.
const Eps = 1e-6

// Composition maps component codes to masses. Entries are never negative.
type Composition map[Nuclide]float64

// ParseComposition builds a composition from name → value pairs as written in
// configuration files.
func ParseComposition(raw map[string]float64) (Composition, error) {
	c := make(Composition, len(raw))
	for name, v := range raw {
		n, err := ParseNuclide(name)
		if err != nil {
			return nil, err
		}
		if v < 0 {
			return nil, fmt.Errorf("negative value %g for %s", v, name)
		}
		c[n] += v
	}
	return c, nil
}

// Total is the sum of all entries.
func (c Composition) Total() float64 {
	var sum float64
	for _, n := range c.Nuclides() {
		sum += c[n]
	}
	return sum
}

// Clone returns an independent copy.
func (c Composition) Clone() Composition {
	out := make(Composition, len(c))
	for n, v := range c {
		out[n] = v
	}
	return out
}

// Normalized returns a copy scaled so that its entries sum to total.
// An empty or zero-mass composition normalizes to an empty one.
func (c Composition) Normalized(total float64) Composition {
	sum := c.Total()
	out := make(Composition, len(c))
	if sum <= 0 {
		return out
	}
	for n, v := range c {
		if v > 0 {
			out[n] = v / sum * total
		}
	}
	return out
}

// Nuclides returns the keys in ascending order. Iterating in this order keeps
// floating-point sums reproducible.
func (c Composition) Nuclides() []Nuclide {
	keys := make([]Nuclide, 0, len(c))
	for n := range c {
		keys = append(keys, n)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	return keys
}

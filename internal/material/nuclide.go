package material

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// Nuclide is a component code in ZZZAAASSSS form. An id with A == 0 and
// S == 0 names a whole element.
type Nuclide int

const elementBucket = 10_000_000

// symbols is indexed by atomic number.
var symbols = [...]string{
	"", "H", "He", "Li", "Be", "B", "C", "N", "O", "F", "Ne",
	"Na", "Mg", "Al", "Si", "P", "S", "Cl", "Ar", "K", "Ca",
	"Sc", "Ti", "V", "Cr", "Mn", "Fe", "Co", "Ni", "Cu", "Zn",
	"Ga", "Ge", "As", "Se", "Br", "Kr", "Rb", "Sr", "Y", "Zr",
	"Nb", "Mo", "Tc", "Ru", "Rh", "Pd", "Ag", "Cd", "In", "Sn",
	"Sb", "Te", "I", "Xe", "Cs", "Ba", "La", "Ce", "Pr", "Nd",
	"Pm", "Sm", "Eu", "Gd", "Tb", "Dy", "Ho", "Er", "Tm", "Yb",
	"Lu", "Hf", "Ta", "W", "Re", "Os", "Ir", "Pt", "Au", "Hg",
	"Tl", "Pb", "Bi", "Po", "At", "Rn", "Fr", "Ra", "Ac", "Th",
	"Pa", "U", "Np", "Pu", "Am", "Cm", "Bk", "Cf", "Es", "Fm",
	"Md", "No", "Lr",
}

var atomicNumbers = func() map[string]int {
	m := make(map[string]int, len(symbols))
	for z, s := range symbols {
		if s != "" {
			m[s] = z
		}
	}
	return m
}()

var nuclideName = regexp.MustCompile(`^([A-Z][a-z]?)-?(\d{1,3})?(m)?$`)

// ParseNuclide accepts an integer id ("922350000") or a symbolic name
// ("U", "U235", "Pu-239", "Am242m").
func ParseNuclide(s string) (Nuclide, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("empty nuclide name")
	}

	if id, err := strconv.Atoi(s); err == nil {
		n := Nuclide(id)
		if err := n.validate(); err != nil {
			return 0, err
		}
		return n, nil
	}

	m := nuclideName.FindStringSubmatch(s)
	if m == nil {
		return 0, fmt.Errorf("invalid nuclide %q", s)
	}
	z, ok := atomicNumbers[m[1]]
	if !ok {
		return 0, fmt.Errorf("unknown element symbol %q in %q", m[1], s)
	}

	id := z * elementBucket
	if m[2] != "" {
		a, _ := strconv.Atoi(m[2])
		if a < z {
			return 0, fmt.Errorf("mass number %d below atomic number %d in %q", a, z, s)
		}
		id += a * 10_000
	} else if m[3] != "" {
		return 0, fmt.Errorf("metastable flag without mass number in %q", s)
	}
	if m[3] != "" {
		id++
	}
	return Nuclide(id), nil
}

func (n Nuclide) validate() error {
	z := n.Z()
	if n <= 0 || z <= 0 {
		return fmt.Errorf("invalid nuclide id %d", int(n))
	}
	if a := n.A(); a != 0 && a < z {
		return fmt.Errorf("invalid nuclide id %d: mass number %d below atomic number %d", int(n), a, z)
	}
	return nil
}

// Z is the atomic number.
func (n Nuclide) Z() int { return int(n) / elementBucket }

// A is the mass number, 0 for an element.
func (n Nuclide) A() int { return (int(n) / 10_000) % 1000 }

// Element returns the element-aggregate code.
func (n Nuclide) Element() Nuclide {
	return Nuclide((int(n) / elementBucket) * elementBucket)
}

// IsElement reports whether n names a whole element.
func (n Nuclide) IsElement() bool {
	return n == n.Element()
}

func (n Nuclide) String() string {
	z := n.Z()
	if z <= 0 || z >= len(symbols) {
		return strconv.Itoa(int(n))
	}
	if n.IsElement() {
		return symbols[z]
	}
	s := symbols[z] + strconv.Itoa(n.A())
	if int(n)%10_000 != 0 {
		s += "m"
	}
	return s
}

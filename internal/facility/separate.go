package facility

import (
	"github.com/roach88/sepflow/internal/material"
)

// SepMaterial returns the part of mat a stream with efficiency table effs
// would separate.
//
// A component uses its own table entry if present, else its element's
// entry; components with neither are not part of the stream. A zero table
// entry separates nothing. Any other entry is replaced by override unless
// override is NoOverride.
//
// The result is untracked: it carries a composition and quantity for
// staging and must never enter a buffer.
func SepMaterial(effs map[material.Nuclide]float64, mat *material.Material, override float64) *material.Material {
	cm := mat.Comp().Normalized(mat.Quantity())

	sep := make(material.Composition, len(cm))
	var total float64
	for _, nuc := range cm.Nuclides() {
		tableEff, ok := effs[nuc]
		if !ok {
			tableEff, ok = effs[nuc.Element()]
			if !ok {
				continue
			}
		}

		eff := 0.0
		if tableEff != 0 {
			eff = tableEff
			if override != NoOverride {
				eff = override
			}
		}

		qty := cm[nuc] * eff
		sep[nuc] = qty
		total += qty
	}
	return material.NewUntracked(total, sep)
}

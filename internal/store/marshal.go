package store

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"

	"github.com/roach88/sepflow/internal/canon"
	"github.com/roach88/sepflow/internal/facility"
	"github.com/roach88/sepflow/internal/material"
)

// marshalComposition converts a composition to canonical JSON TEXT keyed by
// integer nuclide id.
func marshalComposition(c material.Composition) (string, error) {
	data, err := canon.Marshal(compositionMap(c))
	if err != nil {
		return "", fmt.Errorf("marshal composition: %w", err)
	}
	return string(data), nil
}

// unmarshalComposition parses TEXT written by marshalComposition.
func unmarshalComposition(data string) (material.Composition, error) {
	var raw map[string]float64
	if err := json.Unmarshal([]byte(data), &raw); err != nil {
		return nil, fmt.Errorf("unmarshal composition: %w", err)
	}
	comp, err := material.ParseComposition(raw)
	if err != nil {
		return nil, fmt.Errorf("unmarshal composition: %w", err)
	}
	return comp, nil
}

func compositionMap(c material.Composition) map[string]float64 {
	m := make(map[string]float64, len(c))
	for n, v := range c {
		m[strconv.Itoa(int(n))] = v
	}
	return m
}

// marshalQuantities converts a stream → kg map to canonical JSON TEXT.
func marshalQuantities(q map[string]float64) (string, error) {
	if q == nil {
		q = map[string]float64{}
	}
	data, err := canon.Marshal(q)
	if err != nil {
		return "", fmt.Errorf("marshal quantities: %w", err)
	}
	return string(data), nil
}

func unmarshalQuantities(data string) (map[string]float64, error) {
	q := map[string]float64{}
	if data == "" {
		return q, nil
	}
	if err := json.Unmarshal([]byte(data), &q); err != nil {
		return nil, fmt.Errorf("unmarshal quantities: %w", err)
	}
	return q, nil
}

// snapshotHash identifies one agent's inventories. Compositions carry
// per-nuclide mass, so lot quantities are covered.
func snapshotHash(inv facility.Inventories) (string, error) {
	lots := make(map[string][]map[string]float64, len(inv))
	for name, mats := range inv {
		out := make([]map[string]float64, len(mats))
		for i, m := range mats {
			out[i] = compositionMap(m.Comp())
		}
		lots[name] = out
	}
	return canon.SnapshotHash(lots)
}

// HashInventories returns the hash stored for inventories by WriteSnapshot.
func HashInventories(inv facility.Inventories) (string, error) {
	return snapshotHash(inv)
}

func sortedAgents(snaps map[string]facility.Inventories) []string {
	names := make([]string, 0, len(snaps))
	for n := range snaps {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

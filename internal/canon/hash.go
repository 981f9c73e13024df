package canon

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// Domain prefixes for content hashes. The version suffix allows a future
// change of encoding without colliding with stored hashes.
const (
	DomainConfig   = "sepflow/config/v1"
	DomainSnapshot = "sepflow/snapshot/v1"
)

// HashWithDomain computes SHA256(domain + 0x00 + data) as lowercase hex.
// The null byte keeps the domain/data boundary unambiguous.
func HashWithDomain(domain string, data []byte) string {
	h := sha256.New()
	h.Write([]byte(domain))
	h.Write([]byte{0x00})
	h.Write(data)
	return hex.EncodeToString(h.Sum(nil))
}

// Hash canonicalises v and hashes it under domain.
func Hash(domain string, v any) (string, error) {
	data, err := Marshal(v)
	if err != nil {
		return "", fmt.Errorf("hash %s: %w", domain, err)
	}
	return HashWithDomain(domain, data), nil
}

// ConfigHash identifies a run configuration.
func ConfigHash(cfg any) (string, error) {
	return Hash(DomainConfig, cfg)
}

// SnapshotHash identifies a set of inventories. Lots are given as
// composition maps per inventory name.
func SnapshotHash(inv map[string][]map[string]float64) (string, error) {
	obj := make(map[string]any, len(inv))
	for name, lots := range inv {
		arr := make([]any, len(lots))
		for i, lot := range lots {
			comp := make(map[string]any, len(lot))
			for k, v := range lot {
				comp[k] = v
			}
			arr[i] = comp
		}
		obj[name] = arr
	}
	return Hash(DomainSnapshot, obj)
}

// MustHash is like Hash but panics on error.
// Use only in tests or when inputs are known to be valid.
func MustHash(domain string, v any) string {
	h, err := Hash(domain, v)
	if err != nil {
		panic(err)
	}
	return h
}

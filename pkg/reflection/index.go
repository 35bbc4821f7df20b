package reflection

import "sync"

// HashIndex remembers the cluster hashes reflected in this process, per
// tenant. Stored reflections carry their hash in metadata too, so the index
// only saves a lookup for runs since startup.
type HashIndex struct {
	mu   sync.RWMutex
	seen map[string]map[string]struct{}
}

// NewHashIndex creates an empty index.
func NewHashIndex() *HashIndex {
	return &HashIndex{seen: make(map[string]map[string]struct{})}
}

// Add records hash for tenantID.
func (h *HashIndex) Add(tenantID, hash string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	s, ok := h.seen[tenantID]
	if !ok {
		s = make(map[string]struct{})
		h.seen[tenantID] = s
	}
	s[hash] = struct{}{}
}

// Has reports whether hash was recorded for tenantID.
func (h *HashIndex) Has(tenantID, hash string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	_, ok := h.seen[tenantID][hash]
	return ok
}

// Known returns a copy of the hashes recorded for tenantID.
func (h *HashIndex) Known(tenantID string) map[string]struct{} {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make(map[string]struct{}, len(h.seen[tenantID]))
	for k := range h.seen[tenantID] {
		out[k] = struct{}{}
	}
	return out
}

// Package model defines the data model shared by every recall component:
// memory items and their layers, graph nodes and edges, reflections,
// search results and the per-query working context.
package model

import (
	"sort"
	"strings"
	"time"
)

// Layer is the retention tier a memory item lives in.
type Layer string

const (
	// LayerSensory holds raw, short-lived observations.
	LayerSensory Layer = "sensory"

	// LayerWorking holds recent items still being evaluated.
	LayerWorking Layer = "working"

	// LayerLongTerm holds consolidated items subject to periodic decay.
	LayerLongTerm Layer = "long_term"

	// LayerReflective holds distilled reflections and strategies.
	LayerReflective Layer = "reflective"
)

// Layers lists every layer in promotion order.
var Layers = []Layer{LayerSensory, LayerWorking, LayerLongTerm, LayerReflective}

// Kind classifies the content of a memory item.
type Kind string

const (
	KindSensory    Kind = "sensory"
	KindEpisodic   Kind = "episodic"
	KindSemantic   Kind = "semantic"
	KindProfile    Kind = "profile"
	KindReflection Kind = "reflection"
	KindStrategy   Kind = "strategy"
)

var layerKinds = map[Layer][]Kind{
	LayerSensory:    {KindSensory, KindEpisodic},
	LayerWorking:    {KindEpisodic, KindSemantic, KindProfile},
	LayerLongTerm:   {KindEpisodic, KindSemantic, KindProfile},
	LayerReflective: {KindReflection, KindStrategy},
}

// Valid reports whether l is one of the known layers.
func (l Layer) Valid() bool {
	_, ok := layerKinds[l]
	return ok
}

// ParseLayer converts a string into a Layer.
func ParseLayer(s string) (Layer, error) {
	l := Layer(strings.ToLower(strings.TrimSpace(s)))
	if !l.Valid() {
		return "", NewValidationError("layer", "unknown layer %q", s)
	}
	return l, nil
}

// AllowedKinds returns the kinds that may live in layer l.
func AllowedKinds(l Layer) []Kind {
	return append([]Kind(nil), layerKinds[l]...)
}

// ValidateLayerKind checks that kind k may live in layer l.
func ValidateLayerKind(l Layer, k Kind) error {
	kinds, ok := layerKinds[l]
	if !ok {
		return NewValidationError("layer", "unknown layer %q", l)
	}
	for _, allowed := range kinds {
		if allowed == k {
			return nil
		}
	}
	return NewValidationError("kind", "kind %q is not allowed in layer %q", k, l)
}

// MemoryItem is a single unit of stored memory.
type MemoryItem struct {
	// ID is the unique identifier of the item within its tenant.
	ID string `json:"id"`

	// TenantID scopes the item; no operation crosses tenants.
	TenantID string `json:"tenant_id"`

	// Content is the text content of the item.
	Content string `json:"content"`

	Layer Layer `json:"layer"`
	Kind  Kind  `json:"kind"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	// Importance is the current importance score (0.0-1.0).
	Importance float64 `json:"importance"`

	// DecayRate is the per-day exponential decay rate (>= 0).
	DecayRate float64 `json:"decay_rate"`

	// Tags and RelatedIDs are sets; Normalize sorts and deduplicates them.
	Tags       []string `json:"tags,omitempty"`
	RelatedIDs []string `json:"related_ids,omitempty"`

	// Embedding is owned by the vector index. It is only populated on the
	// way in (before indexing) and is never persisted by item stores.
	Embedding []float64 `json:"-"`

	// Metadata contains additional structured information.
	Metadata map[string]interface{} `json:"metadata,omitempty"`

	AccessCount    int        `json:"access_count"`
	LastAccessedAt *time.Time `json:"last_accessed_at,omitempty"`

	// DeletedAt is set when the item is tombstoned.
	DeletedAt *time.Time `json:"deleted_at,omitempty"`

	// Version is assigned by the item store on every write and grows monotonically per tenant.
	Version int64 `json:"version"`
}

// IsDeleted reports whether the item has been tombstoned.
func (m *MemoryItem) IsDeleted() bool {
	return m.DeletedAt != nil
}

// Age returns how long ago the item was created.
func (m *MemoryItem) Age(now time.Time) time.Duration {
	return now.Sub(m.CreatedAt)
}

// Clone returns a deep copy of the item.
func (m *MemoryItem) Clone() *MemoryItem {
	if m == nil {
		return nil
	}
	c := *m
	c.Tags = append([]string(nil), m.Tags...)
	c.RelatedIDs = append([]string(nil), m.RelatedIDs...)
	c.Embedding = append([]float64(nil), m.Embedding...)
	if m.Metadata != nil {
		c.Metadata = make(map[string]interface{}, len(m.Metadata))
		for k, v := range m.Metadata {
			c.Metadata[k] = v
		}
	}
	if m.LastAccessedAt != nil {
		t := *m.LastAccessedAt
		c.LastAccessedAt = &t
	}
	if m.DeletedAt != nil {
		t := *m.DeletedAt
		c.DeletedAt = &t
	}
	return &c
}

// Normalize sorts and deduplicates the set-valued fields.
func (m *MemoryItem) Normalize() {
	m.Tags = NormalizeSet(m.Tags)
	m.RelatedIDs = NormalizeSet(m.RelatedIDs)
}

// Validate checks the invariants every stored item must satisfy.
func (m *MemoryItem) Validate() error {
	if strings.TrimSpace(m.TenantID) == "" {
		return NewValidationError("tenant_id", "must not be empty")
	}
	if strings.TrimSpace(m.Content) == "" {
		return NewValidationError("content", "must not be empty")
	}
	if err := ValidateLayerKind(m.Layer, m.Kind); err != nil {
		return err
	}
	if m.Importance < 0 || m.Importance > 1 {
		return NewValidationError("importance", "%.3f is outside [0, 1]", m.Importance)
	}
	if m.DecayRate < 0 {
		return NewValidationError("decay_rate", "%.3f is negative", m.DecayRate)
	}
	return nil
}

// MetadataString returns the metadata value for key as a string, or "".
func (m *MemoryItem) MetadataString(key string) string {
	if m.Metadata == nil {
		return ""
	}
	if s, ok := m.Metadata[key].(string); ok {
		return s
	}
	return ""
}

// NormalizeSet returns the sorted unique non-empty members of values.
func NormalizeSet(values []string) []string {
	if len(values) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(values))
	out := make([]string, 0, len(values))
	for _, v := range values {
		v = strings.TrimSpace(v)
		if v == "" {
			continue
		}
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	sort.Strings(out)
	return out
}

// Clamp01 limits v to [0, 1].
func Clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

package model

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"time"
)

// ReflectionLevel is the abstraction level of a reflection.
type ReflectionLevel int

const (
	// LevelInsight is a reflection distilled directly from episodes.
	LevelInsight ReflectionLevel = 1

	// LevelMeta is a reflection distilled from other reflections.
	LevelMeta ReflectionLevel = 2

	// LevelStrategy is a reusable strategy distilled from meta reflections.
	LevelStrategy ReflectionLevel = 3
)

func (l ReflectionLevel) String() string {
	switch l {
	case LevelInsight:
		return "L1"
	case LevelMeta:
		return "L2"
	case LevelStrategy:
		return "L3"
	default:
		return "L?"
	}
}

// Reflection is a higher-level insight derived from a cluster of memory items.
type Reflection struct {
	ID        string   `json:"id"`
	TenantID  string   `json:"tenant_id"`
	SourceIDs []string `json:"source_ids"`

	// ClusterHash identifies the source set; equal sets never produce two reflections.
	ClusterHash string `json:"cluster_hash"`

	Content string          `json:"content"`
	Level   ReflectionLevel `json:"level"`

	NoveltyScore    float64 `json:"novelty_score"`
	ImportanceScore float64 `json:"importance_score"`
	Confidence      float64 `json:"confidence"`

	CreatedAt time.Time `json:"created_at"`
}

// ClusterHash returns the SHA-256 hex digest of the sorted, deduplicated ids.
func ClusterHash(ids []string) string {
	sorted := NormalizeSet(ids)
	sum := sha256.Sum256([]byte(strings.Join(sorted, ",")))
	return hex.EncodeToString(sum[:])
}

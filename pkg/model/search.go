package model

import (
	"time"
)

// StrategyName identifies one of the retrieval strategies.
type StrategyName string

const (
	StrategyVector   StrategyName = "vector"
	StrategyGraph    StrategyName = "graph"
	StrategySparse   StrategyName = "sparse"
	StrategyFullText StrategyName = "fulltext"
)

// StrategyNames lists the closed set of strategies in their default order.
var StrategyNames = []StrategyName{StrategyVector, StrategyGraph, StrategySparse, StrategyFullText}

// SearchResult is a single hit produced by one strategy. Score is in [0, 1].
type SearchResult struct {
	ItemID   string       `json:"item_id"`
	Score    float64      `json:"score"`
	Strategy StrategyName `json:"strategy"`
}

// FusedResult is a hit after weighted fusion across strategies.
type FusedResult struct {
	ItemID     string  `json:"item_id"`
	FusedScore float64 `json:"fused_score"`

	// ContributingStrategies lists, in canonical order, the strategies that returned the item.
	ContributingStrategies []StrategyName `json:"contributing_strategies"`

	// StrategyScores holds the normalized per-strategy scores.
	StrategyScores map[StrategyName]float64 `json:"strategy_scores"`

	// UpdatedAt of the item, used to break ties.
	UpdatedAt time.Time `json:"updated_at"`

	// Item is attached when the engine resolved the item from the store.
	Item *MemoryItem `json:"item,omitempty"`
}

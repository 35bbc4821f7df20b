package intelligence_test

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/oceanbase/recall-go/pkg/intelligence"
	"github.com/oceanbase/recall-go/pkg/model"
)

func newItem(kind model.Kind, importance, rate float64, updatedAt time.Time) *model.MemoryItem {
	return &model.MemoryItem{
		ID:         "1",
		TenantID:   "t1",
		Layer:      model.LayerLongTerm,
		Kind:       kind,
		Importance: importance,
		DecayRate:  rate,
		CreatedAt:  updatedAt,
		UpdatedAt:  updatedAt,
	}
}

func TestDecayFollowsExponentialCurve(t *testing.T) {
	engine := intelligence.NewDecayEngine(intelligence.DecayConfig{})
	now := time.Date(2024, 1, 10, 0, 0, 0, 0, time.UTC)
	item := newItem(model.KindEpisodic, 0.8, 0.1, now.Add(-48*time.Hour))

	got, changed := engine.Decay(item, now)
	assert.True(t, changed)
	assert.InDelta(t, 0.8*math.Exp(-0.2), got, 1e-9)
}

func TestDecayIsMonotone(t *testing.T) {
	engine := intelligence.NewDecayEngine(intelligence.DecayConfig{})
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	item := newItem(model.KindSemantic, 0.9, 0.3, start)

	prev := item.Importance
	for day := 1; day <= 30; day++ {
		now := start.Add(time.Duration(day) * 24 * time.Hour)
		next, _ := engine.Decay(item, now)
		assert.LessOrEqual(t, next, prev)
		item.Importance = next
		item.UpdatedAt = now
		prev = next
	}
	assert.Less(t, prev, 0.01)
}

func TestDecaySkipsYoungItems(t *testing.T) {
	engine := intelligence.NewDecayEngine(intelligence.DecayConfig{DecayInterval: 2 * time.Hour})
	now := time.Now()
	item := newItem(model.KindEpisodic, 0.8, 1, now.Add(-time.Hour))

	got, changed := engine.Decay(item, now)
	assert.False(t, changed)
	assert.Equal(t, 0.8, got)
}

func TestSettleAppliesShortIntervals(t *testing.T) {
	engine := intelligence.NewDecayEngine(intelligence.DecayConfig{DecayInterval: 6 * time.Hour})
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	item := newItem(model.KindEpisodic, 0.8, 0.5, start)

	now := start.Add(time.Hour)
	_, changed := engine.Decay(item, now)
	assert.False(t, changed)
	assert.InDelta(t, 0.8*math.Exp(-0.5/24), engine.Settle(item, now), 1e-12)

	// Settling in steps matches one pass over the whole interval.
	stepped := item.Clone()
	for h := 1; h <= 48; h++ {
		at := start.Add(time.Duration(h) * time.Hour)
		stepped.Importance = engine.Settle(stepped, at)
		stepped.UpdatedAt = at
	}
	whole, _ := engine.Decay(item, start.Add(48*time.Hour))
	assert.InDelta(t, whole, stepped.Importance, 1e-12)

	assert.Equal(t, 0.8, engine.Settle(item, start))
}

func TestDecayProfileFloor(t *testing.T) {
	engine := intelligence.NewDecayEngine(intelligence.DecayConfig{})
	now := time.Now()

	item := newItem(model.KindProfile, 0.9, 1, now.Add(-365*24*time.Hour))
	got, changed := engine.Decay(item, now)
	assert.True(t, changed)
	assert.Equal(t, 0.3, got)

	below := newItem(model.KindProfile, 0.2, 1, now.Add(-365*24*time.Hour))
	got, changed = engine.Decay(below, now)
	assert.False(t, changed)
	assert.Equal(t, 0.2, got)
}

func TestDecayZeroRateIsStable(t *testing.T) {
	engine := intelligence.NewDecayEngine(intelligence.DecayConfig{})
	now := time.Now()
	item := newItem(model.KindEpisodic, 0.7, 0, now.Add(-72*time.Hour))

	_, changed := engine.Decay(item, now)
	assert.False(t, changed)
}

func TestReinforceIsCapped(t *testing.T) {
	engine := intelligence.NewDecayEngine(intelligence.DecayConfig{ReinforcementStep: 0.5})

	assert.InDelta(t, 0.75, engine.Reinforce(0.5, 1), 1e-9)
	assert.InDelta(t, 0.875, engine.Reinforce(0.5, 2), 1e-9)
	assert.LessOrEqual(t, engine.Reinforce(0.99, 1000), 1.0)
	assert.Equal(t, 0.4, engine.Reinforce(0.4, 0))
}

func TestDefaultRate(t *testing.T) {
	engine := intelligence.NewDecayEngine(intelligence.DecayConfig{})
	assert.Greater(t, engine.DefaultRate(model.LayerSensory), engine.DefaultRate(model.LayerLongTerm))
	assert.Equal(t, 0.2, engine.DefaultRate(model.Layer("unknown")))
}

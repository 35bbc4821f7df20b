// Package intelligence scores memory items: importance evaluation, exponential
// decay of importance over time, and reinforcement on access.
package intelligence

import (
	"math"
	"time"

	"github.com/oceanbase/recall-go/pkg/model"
)

// DecayConfig contains configuration for the decay engine.
type DecayConfig struct {
	// ProfileFloor is the importance below which profile items never decay. Default: 0.3
	ProfileFloor float64 `json:"profile_floor" yaml:"profile_floor" validate:"gte=0,lte=1"`

	// DecayInterval is the minimum time between two decay steps of an item. Default: 1h
	DecayInterval time.Duration `json:"decay_interval" yaml:"decay_interval" validate:"gte=0"`

	// ReinforcementStep is the fraction of the remaining headroom (1 - importance)
	// recovered on each access. Default: 0.1
	ReinforcementStep float64 `json:"reinforcement_step" yaml:"reinforcement_step" validate:"gte=0,lte=1"`

	// LayerRates holds the default per-day decay rate assigned to new items by layer.
	LayerRates map[model.Layer]float64 `json:"layer_rates" yaml:"layer_rates"`
}

// DefaultDecayConfig returns the default decay configuration.
//
// Sensory items fade fastest, reflective items slowest.
func DefaultDecayConfig() DecayConfig {
	return DecayConfig{
		ProfileFloor:      0.3,
		DecayInterval:     time.Hour,
		ReinforcementStep: 0.1,
		LayerRates: map[model.Layer]float64{
			model.LayerSensory:    0.5,
			model.LayerWorking:    0.2,
			model.LayerLongTerm:   0.05,
			model.LayerReflective: 0.02,
		},
	}
}

// DecayEngine applies the forgetting curve to item importance.
//
//	importance(t+Δ) = importance(t) · e^(-rate · Δdays)
//
// A decay step never increases importance. Profile items are held at
// ProfileFloor once they reach it.
type DecayEngine struct {
	cfg DecayConfig
}

// NewDecayEngine creates a decay engine. Zero fields of cfg take their defaults.
func NewDecayEngine(cfg DecayConfig) *DecayEngine {
	def := DefaultDecayConfig()
	if cfg.ProfileFloor == 0 {
		cfg.ProfileFloor = def.ProfileFloor
	}
	if cfg.DecayInterval == 0 {
		cfg.DecayInterval = def.DecayInterval
	}
	if cfg.ReinforcementStep == 0 {
		cfg.ReinforcementStep = def.ReinforcementStep
	}
	if cfg.LayerRates == nil {
		cfg.LayerRates = def.LayerRates
	}
	return &DecayEngine{cfg: cfg}
}

// Config returns the effective configuration.
func (e *DecayEngine) Config() DecayConfig {
	return e.cfg
}

// Retention returns the fraction of importance that survives elapsed time
// at the given per-day rate.
func Retention(rate float64, elapsed time.Duration) float64 {
	if rate <= 0 || elapsed <= 0 {
		return 1
	}
	days := elapsed.Hours() / 24
	return math.Exp(-rate * days)
}

// Decay computes the decayed importance of item at now.
//
// The elapsed time is measured from item.UpdatedAt (or CreatedAt when unset).
// It reports changed=false when the item is younger than DecayInterval, when
// it is a profile item already at or below the floor, or when the value would
// not move.
func (e *DecayEngine) Decay(item *model.MemoryItem, now time.Time) (importance float64, changed bool) {
	elapsed := now.Sub(decayClock(item))
	if elapsed < e.cfg.DecayInterval {
		return item.Importance, false
	}
	next := e.decayed(item, elapsed)
	return next, next != item.Importance
}

// Settle returns the importance of item at now with the decay accrued since
// its last write applied, however short the elapsed time.
//
// Writers that reset UpdatedAt outside a decay pass (reinforcement) settle
// first, so the decay clock never drops accrued decay. Decay is
// multiplicative, so settling early and decaying the rest later gives the
// same result as one pass over the whole interval.
func (e *DecayEngine) Settle(item *model.MemoryItem, now time.Time) float64 {
	elapsed := now.Sub(decayClock(item))
	if elapsed <= 0 {
		return item.Importance
	}
	return e.decayed(item, elapsed)
}

func decayClock(item *model.MemoryItem) time.Time {
	if item.UpdatedAt.IsZero() {
		return item.CreatedAt
	}
	return item.UpdatedAt
}

// decayed applies elapsed decay to item: never upward, and held at the
// profile floor for profile items.
func (e *DecayEngine) decayed(item *model.MemoryItem, elapsed time.Duration) float64 {
	current := item.Importance
	next := current * Retention(item.DecayRate, elapsed)
	if next > current {
		next = current
	}

	if item.Kind == model.KindProfile {
		if current <= e.cfg.ProfileFloor {
			return current
		}
		if next < e.cfg.ProfileFloor {
			next = e.cfg.ProfileFloor
		}
	}
	return next
}

// Reinforce returns importance after n accesses.
//
// Each access recovers ReinforcementStep of the remaining headroom:
//
//	s' = s + step · (1 - s)
//
// so the result approaches but never exceeds 1.0.
func (e *DecayEngine) Reinforce(importance float64, n int) float64 {
	s := model.Clamp01(importance)
	for i := 0; i < n; i++ {
		s += e.cfg.ReinforcementStep * (1 - s)
	}
	return math.Min(s, 1)
}

// DefaultRate returns the decay rate assigned to new items of layer.
func (e *DecayEngine) DefaultRate(layer model.Layer) float64 {
	if rate, ok := e.cfg.LayerRates[layer]; ok {
		return rate
	}
	return DefaultDecayConfig().LayerRates[model.LayerWorking]
}

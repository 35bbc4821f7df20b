package layers

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/oceanbase/recall-go/pkg/model"
	"github.com/oceanbase/recall-go/pkg/storage"
)

// Job names used for tenant locks and metrics.
const (
	JobConsolidate = "consolidate"
	JobDecay       = "decay"
)

// ConsolidationReport summarizes one consolidation pass.
type ConsolidationReport struct {
	TenantID string

	// Promoted lists the ids moved up a layer (sensory→working, working→long_term).
	Promoted []string

	// Pruned lists the ids tombstoned in this pass.
	Pruned []string

	// Errors holds per-item failures. They do not abort the pass.
	Errors []model.ItemError

	StartedAt  time.Time
	FinishedAt time.Time
}

// Changes returns the number of items promoted or pruned.
func (r *ConsolidationReport) Changes() int {
	return len(r.Promoted) + len(r.Pruned)
}

// Consolidate runs one consolidation pass for tenantID.
//
// The pass runs in three steps, each seeing the result of the previous one:
//  1. Sensory items older than SensoryTTL move to working when important
//     enough, otherwise they are tombstoned
//  2. Working items with importance ≥ PromoteThreshold and age ≥ MinDwellTime
//     move to long_term
//  3. Long-term items with importance < PruneThreshold are tombstoned
//
// Running it again without intervening writes changes nothing. It returns
// model.ErrTenantBusy when a pass for the same tenant is already running.
func (m *Manager) Consolidate(ctx context.Context, tenantID string) (*ConsolidationReport, error) {
	unlock, err := m.locks.TryLock(JobConsolidate, tenantID)
	if err != nil {
		return nil, model.NewMemoryError("Consolidate", err)
	}
	defer unlock()

	now := m.now()
	report := &ConsolidationReport{TenantID: tenantID, StartedAt: now}

	if err := m.consolidateSensory(ctx, tenantID, now, report); err != nil {
		return nil, model.NewMemoryError("Consolidate", err)
	}
	if err := m.consolidateWorking(ctx, tenantID, now, report); err != nil {
		return nil, model.NewMemoryError("Consolidate", err)
	}
	if err := m.pruneLongTerm(ctx, tenantID, now, report); err != nil {
		return nil, model.NewMemoryError("Consolidate", err)
	}

	report.FinishedAt = m.now()
	m.metrics.AddTransitions("promoted", len(report.Promoted))
	m.metrics.AddTransitions("pruned", len(report.Pruned))
	m.metrics.ObserveJob(JobConsolidate, "ok", len(report.Errors))

	m.logger.Info("consolidation finished",
		zap.String("tenant_id", tenantID),
		zap.Int("promoted", len(report.Promoted)),
		zap.Int("pruned", len(report.Pruned)),
		zap.Int("errors", len(report.Errors)))
	return report, nil
}

func (m *Manager) consolidateSensory(ctx context.Context, tenantID string, now time.Time, report *ConsolidationReport) error {
	items, err := m.listLayer(ctx, tenantID, model.LayerSensory)
	if err != nil {
		return err
	}
	for _, item := range items {
		if err := ctx.Err(); err != nil {
			return err
		}
		if item.Age(now) < m.cfg.SensoryTTL {
			continue
		}

		if item.Importance < m.cfg.PromoteThreshold {
			m.tombstone(ctx, item, now, report)
			continue
		}

		// The sensory kind does not exist outside the sensory layer.
		if item.Kind == model.KindSensory {
			item.Kind = model.KindEpisodic
		}
		m.move(ctx, item, model.LayerWorking, now, report)
	}
	return nil
}

func (m *Manager) consolidateWorking(ctx context.Context, tenantID string, now time.Time, report *ConsolidationReport) error {
	items, err := m.listLayer(ctx, tenantID, model.LayerWorking)
	if err != nil {
		return err
	}
	for _, item := range items {
		if err := ctx.Err(); err != nil {
			return err
		}
		if item.Importance >= m.cfg.PromoteThreshold && item.Age(now) >= m.cfg.MinDwellTime {
			m.move(ctx, item, model.LayerLongTerm, now, report)
		}
	}
	return nil
}

func (m *Manager) pruneLongTerm(ctx context.Context, tenantID string, now time.Time, report *ConsolidationReport) error {
	items, err := m.listLayer(ctx, tenantID, model.LayerLongTerm)
	if err != nil {
		return err
	}
	for _, item := range items {
		if err := ctx.Err(); err != nil {
			return err
		}
		if item.Importance < m.cfg.PruneThreshold {
			m.tombstone(ctx, item, now, report)
		}
	}
	return nil
}

func (m *Manager) move(ctx context.Context, item *model.MemoryItem, to model.Layer, now time.Time, report *ConsolidationReport) {
	from := item.Layer
	item.Layer = to
	item.UpdatedAt = now
	if err := m.store.Put(ctx, item); err != nil {
		report.Errors = append(report.Errors, model.ItemError{ItemID: item.ID, Err: err})
		return
	}
	report.Promoted = append(report.Promoted, item.ID)
	m.logger.Debug("item promoted",
		zap.String("tenant_id", item.TenantID),
		zap.String("item_id", item.ID),
		zap.String("from", string(from)),
		zap.String("to", string(to)))
}

func (m *Manager) tombstone(ctx context.Context, item *model.MemoryItem, now time.Time, report *ConsolidationReport) {
	if err := m.store.SoftDelete(ctx, item.TenantID, item.ID, now); err != nil {
		report.Errors = append(report.Errors, model.ItemError{ItemID: item.ID, Err: err})
		return
	}
	m.dropVector(ctx, item.TenantID, item.ID)
	report.Pruned = append(report.Pruned, item.ID)
}

func (m *Manager) listLayer(ctx context.Context, tenantID string, layer model.Layer) ([]*model.MemoryItem, error) {
	return m.store.List(ctx, tenantID, &storage.ListOptions{Layer: &layer})
}

// DecayReport summarizes one decay pass.
type DecayReport struct {
	TenantID string

	// Decayed is the number of items whose importance was lowered.
	Decayed int

	Errors []model.ItemError
}

// RunDecay applies the forgetting curve to every long-term item of tenantID.
//
// Items decayed less than one decay interval ago are skipped. It returns
// model.ErrTenantBusy when a decay pass for the same tenant is already running.
func (m *Manager) RunDecay(ctx context.Context, tenantID string) (*DecayReport, error) {
	unlock, err := m.locks.TryLock(JobDecay, tenantID)
	if err != nil {
		return nil, model.NewMemoryError("RunDecay", err)
	}
	defer unlock()

	items, err := m.listLayer(ctx, tenantID, model.LayerLongTerm)
	if err != nil {
		return nil, model.NewMemoryError("RunDecay", err)
	}

	now := m.now()
	engine := m.scorer.Decay()
	report := &DecayReport{TenantID: tenantID}
	for _, item := range items {
		if err := ctx.Err(); err != nil {
			return nil, model.NewMemoryError("RunDecay", err)
		}
		next, changed := engine.Decay(item, now)
		if !changed {
			continue
		}
		item.Importance = next
		item.UpdatedAt = now
		if err := m.store.Put(ctx, item); err != nil {
			report.Errors = append(report.Errors, model.ItemError{ItemID: item.ID, Err: err})
			continue
		}
		report.Decayed++
	}

	m.metrics.AddTransitions("decayed", report.Decayed)
	m.metrics.ObserveJob(JobDecay, "ok", len(report.Errors))
	m.logger.Info("decay finished",
		zap.String("tenant_id", tenantID),
		zap.Int("decayed", report.Decayed),
		zap.Int("errors", len(report.Errors)))
	return report, nil
}

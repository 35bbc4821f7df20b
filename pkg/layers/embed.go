package layers

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/oceanbase/recall-go/pkg/model"
)

const embedTimeout = 30 * time.Second

type embedJob struct {
	ctx      context.Context
	tenantID string
	itemID   string
	content  string
	kind     model.Kind
	vector   []float64
}

func (m *Manager) startWorkers() {
	m.jobs = make(chan embedJob, m.cfg.EmbedQueueSize)
	if m.index == nil {
		return
	}
	for i := 0; i < m.cfg.EmbedWorkers; i++ {
		m.workers.Add(1)
		go m.embedWorker()
	}
}

// scheduleEmbedding queues the item for embedding and indexing. A caller
// supplied embedding is indexed as is. It blocks while the queue is full.
func (m *Manager) scheduleEmbedding(ctx context.Context, item *model.MemoryItem) {
	if m.index == nil || (m.embedder == nil && len(item.Embedding) == 0) {
		return
	}

	job := embedJob{
		ctx:      context.WithoutCancel(ctx),
		tenantID: item.TenantID,
		itemID:   item.ID,
		content:  item.Content,
		kind:     item.Kind,
		vector:   item.Embedding,
	}

	m.closeMu.RLock()
	defer m.closeMu.RUnlock()
	if m.closed {
		return
	}

	m.pending.Add(1)
	select {
	case m.jobs <- job:
	case <-ctx.Done():
		m.pending.Done()
		m.logger.Warn("embedding not scheduled",
			zap.String("tenant_id", item.TenantID),
			zap.String("item_id", item.ID),
			zap.Error(ctx.Err()))
	}
}

func (m *Manager) embedWorker() {
	defer m.workers.Done()
	for job := range m.jobs {
		m.runEmbedJob(job)
		m.pending.Done()
	}
}

func (m *Manager) runEmbedJob(job embedJob) {
	ctx, cancel := context.WithTimeout(job.ctx, embedTimeout)
	defer cancel()

	vector := job.vector
	if len(vector) == 0 {
		var err error
		vector, err = m.embedder.Embed(ctx, job.content)
		if err != nil {
			m.logger.Warn("embedding failed",
				zap.String("tenant_id", job.tenantID),
				zap.String("item_id", job.itemID),
				zap.Error(err))
			return
		}
	}

	metadata := map[string]string{"kind": string(job.kind)}
	if err := m.index.Upsert(ctx, job.tenantID, job.itemID, vector, metadata); err != nil {
		m.logger.Warn("vector upsert failed",
			zap.String("tenant_id", job.tenantID),
			zap.String("item_id", job.itemID),
			zap.Error(err))
	}
}

// WaitIdle blocks until every scheduled embedding has been indexed or has failed.
func (m *Manager) WaitIdle() {
	m.pending.Wait()
}

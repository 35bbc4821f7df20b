package sqlstore

import (
	"database/sql"
	"encoding/json"
	"strings"
	"time"

	"github.com/oceanbase/recall-go/pkg/model"
)

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func selectColumns() string {
	return strings.Join(append(append([]string{}, itemKeys...), itemColumns...), ", ")
}

// itemArgs returns the bind arguments for an upsert, keys first.
func itemArgs(item *model.MemoryItem, version int64) ([]interface{}, error) {
	tags, err := json.Marshal(model.NormalizeSet(item.Tags))
	if err != nil {
		return nil, err
	}
	related, err := json.Marshal(model.NormalizeSet(item.RelatedIDs))
	if err != nil {
		return nil, err
	}
	metadata, err := json.Marshal(item.Metadata)
	if err != nil {
		return nil, err
	}

	return []interface{}{
		item.TenantID,
		item.ID,
		string(item.Layer),
		string(item.Kind),
		item.Content,
		item.Importance,
		item.DecayRate,
		string(tags),
		string(related),
		string(metadata),
		item.AccessCount,
		nullableNanos(item.LastAccessedAt),
		toNanos(item.CreatedAt),
		toNanos(item.UpdatedAt),
		nullableNanos(item.DeletedAt),
		version,
	}, nil
}

func scanItem(row rowScanner) (*model.MemoryItem, error) {
	var (
		item                    model.MemoryItem
		layer, kind             string
		tags, related, metadata sql.NullString
		lastAccessed, deletedAt sql.NullInt64
		createdAt, updatedAt    int64
	)

	err := row.Scan(
		&item.TenantID, &item.ID,
		&layer, &kind, &item.Content, &item.Importance, &item.DecayRate,
		&tags, &related, &metadata, &item.AccessCount, &lastAccessed,
		&createdAt, &updatedAt, &deletedAt, &item.Version,
	)
	if err != nil {
		return nil, err
	}

	item.Layer = model.Layer(layer)
	item.Kind = model.Kind(kind)
	item.CreatedAt = fromNanos(createdAt)
	item.UpdatedAt = fromNanos(updatedAt)
	item.LastAccessedAt = timePtr(lastAccessed)
	item.DeletedAt = timePtr(deletedAt)

	if tags.Valid && tags.String != "" {
		if err := json.Unmarshal([]byte(tags.String), &item.Tags); err != nil {
			return nil, err
		}
	}
	if related.Valid && related.String != "" {
		if err := json.Unmarshal([]byte(related.String), &item.RelatedIDs); err != nil {
			return nil, err
		}
	}
	if metadata.Valid && metadata.String != "" && metadata.String != "null" {
		if err := json.Unmarshal([]byte(metadata.String), &item.Metadata); err != nil {
			return nil, err
		}
	}
	return &item, nil
}

func toNanos(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixNano()
}

func fromNanos(n int64) time.Time {
	if n == 0 {
		return time.Time{}
	}
	return time.Unix(0, n).UTC()
}

func nullableNanos(t *time.Time) interface{} {
	if t == nil {
		return nil
	}
	return toNanos(*t)
}

func timePtr(n sql.NullInt64) *time.Time {
	if !n.Valid {
		return nil
	}
	t := fromNanos(n.Int64)
	return &t
}

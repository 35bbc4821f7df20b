package core

import (
	"github.com/oceanbase/recall-go/pkg/model"
	"github.com/oceanbase/recall-go/pkg/storage"
)

// toItem builds the item Add stores from its options.
//
// The metadata map is copied so later changes by the caller do not leak
// into the stored item.
func toItem(tenantID, content string, o *AddOptions) *model.MemoryItem {
	item := &model.MemoryItem{
		ID:         o.ID,
		TenantID:   tenantID,
		Content:    content,
		Layer:      o.Layer,
		Kind:       o.Kind,
		Importance: o.Importance,
		Tags:       append([]string(nil), o.Tags...),
		RelatedIDs: append([]string(nil), o.RelatedIDs...),
		CreatedAt:  o.CreatedAt,
	}
	if len(o.Metadata) > 0 {
		item.Metadata = make(map[string]interface{}, len(o.Metadata))
		for k, v := range o.Metadata {
			item.Metadata[k] = v
		}
	}
	return item
}

// toListOptions converts GetAll options to store list options.
func toListOptions(o *GetAllOptions) storage.ListOptions {
	opts := storage.ListOptions{
		Kinds:  o.Kinds,
		Limit:  o.Limit,
		Offset: o.Offset,
	}
	if o.Layer != "" {
		layer := o.Layer
		opts.Layer = &layer
	}
	return opts
}

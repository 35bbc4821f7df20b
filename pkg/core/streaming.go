package core

import (
	"context"
	"sort"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/oceanbase/recall-go/pkg/model"
)

// batchConcurrency bounds the goroutines of one batch operation.
const batchConcurrency = 10

// StreamingGetAllResult contains a batch of memories from streaming GetAll.
type StreamingGetAllResult struct {
	// Items is a batch of memories.
	Items []*model.MemoryItem

	// BatchIndex is the index of this batch (0-based).
	BatchIndex int

	// IsLastBatch indicates whether this is the last batch.
	IsLastBatch bool

	// Error contains any error that occurred during streaming (if any).
	Error error
}

// GetAllStream lists the memories of tenantID in batches of batchSize,
// newest first.
//
// The channel is closed when all memories have been sent or an error
// occurs; an error is delivered as the last result. WithLimitForGetAll caps
// the total number of memories and WithOffset skips the first ones.
//
// Example:
//
//	for result := range client.GetAllStream(ctx, "user_001", 100) {
//	    if result.Error != nil {
//	        log.Fatal(result.Error)
//	    }
//	    for _, item := range result.Items {
//	        processMemory(item)
//	    }
//	}
func (c *Client) GetAllStream(ctx context.Context, tenantID string, batchSize int, opts ...GetAllOption) <-chan *StreamingGetAllResult {
	resultChan := make(chan *StreamingGetAllResult, 1)
	if batchSize <= 0 {
		batchSize = 100
	}

	go func() {
		defer close(resultChan)

		o := applyGetAllOptions(opts)
		listOpts := toListOptions(o)
		sent := 0
		for batchIndex := 0; ; batchIndex++ {
			if err := ctx.Err(); err != nil {
				resultChan <- &StreamingGetAllResult{BatchIndex: batchIndex, Error: err}
				return
			}

			listOpts.Offset = o.Offset + sent
			listOpts.Limit = batchSize
			if o.Limit > 0 && o.Limit-sent < batchSize {
				listOpts.Limit = o.Limit - sent
			}

			items, err := c.layers.List(ctx, tenantID, listOpts)
			if err != nil {
				resultChan <- &StreamingGetAllResult{BatchIndex: batchIndex, Error: NewMemoryError("GetAllStream", err)}
				return
			}
			sent += len(items)
			last := len(items) < listOpts.Limit || (o.Limit > 0 && sent >= o.Limit)
			if len(items) == 0 && batchIndex > 0 {
				return
			}

			select {
			case resultChan <- &StreamingGetAllResult{Items: items, BatchIndex: batchIndex, IsLastBatch: last}:
			case <-ctx.Done():
				return
			}
			if last {
				return
			}
		}
	}()

	return resultChan
}

// BatchAddResult contains the result of a batch add operation.
type BatchAddResult struct {
	// Created contains successfully created memories in input order.
	Created []*model.MemoryItem

	// Failed contains the contents that could not be added, in input order.
	Failed []BatchAddError

	Total        int
	CreatedCount int
	FailedCount  int
}

// BatchAddError contains information about a failed batch add operation.
type BatchAddError struct {
	// Content is the content that failed to be added.
	Content string

	// Error is the error that occurred.
	Error error

	// Index is the index of the item in the original batch.
	Index int
}

// BatchAdd adds multiple memories for tenantID concurrently. The options
// apply to every memory. Individual failures are collected in the result.
//
// Example:
//
//	result, _ := client.BatchAdd(ctx, "user_001", []string{
//	    "User likes Python",
//	    "User prefers email communication",
//	})
//	fmt.Printf("Created %d/%d memories\n", result.CreatedCount, result.Total)
func (c *Client) BatchAdd(ctx context.Context, tenantID string, contents []string, opts ...AddOption) (*BatchAddResult, error) {
	result := &BatchAddResult{Total: len(contents)}
	if len(contents) == 0 {
		return result, nil
	}

	created := make([]*model.MemoryItem, len(contents))
	var mu sync.Mutex
	g := new(errgroup.Group)
	g.SetLimit(batchConcurrency)
	for i, content := range contents {
		i, content := i, content
		g.Go(func() error {
			err := ctx.Err()
			var item *model.MemoryItem
			if err == nil {
				item, err = c.Add(ctx, tenantID, content, opts...)
			}
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				result.Failed = append(result.Failed, BatchAddError{Content: content, Error: err, Index: i})
				return nil
			}
			created[i] = item
			return nil
		})
	}
	_ = g.Wait()

	for _, item := range created {
		if item != nil {
			result.Created = append(result.Created, item)
		}
	}
	sort.Slice(result.Failed, func(i, j int) bool { return result.Failed[i].Index < result.Failed[j].Index })
	result.CreatedCount = len(result.Created)
	result.FailedCount = len(result.Failed)
	return result, nil
}

// BatchDeleteResult contains the result of a batch delete operation.
type BatchDeleteResult struct {
	// Deleted contains the ids that were tombstoned.
	Deleted []string

	// Failed maps each id that could not be deleted to its error.
	Failed map[string]error

	Total        int
	DeletedCount int
	FailedCount  int
}

// BatchDelete tombstones multiple memories of tenantID concurrently.
func (c *Client) BatchDelete(ctx context.Context, tenantID string, ids []string) (*BatchDeleteResult, error) {
	ids = model.NormalizeSet(ids)
	result := &BatchDeleteResult{Total: len(ids), Failed: make(map[string]error)}

	var mu sync.Mutex
	g := new(errgroup.Group)
	g.SetLimit(batchConcurrency)
	for _, id := range ids {
		id := id
		g.Go(func() error {
			err := ctx.Err()
			if err == nil {
				err = c.Delete(ctx, tenantID, id)
			}
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				result.Failed[id] = err
			} else {
				result.Deleted = append(result.Deleted, id)
			}
			return nil
		})
	}
	_ = g.Wait()

	sort.Strings(result.Deleted)
	result.DeletedCount = len(result.Deleted)
	result.FailedCount = len(result.Failed)
	return result, nil
}

package core

import (
	"context"
	"sync"

	"github.com/oceanbase/recall-go/pkg/model"
	"github.com/oceanbase/recall-go/pkg/reflection"
	"github.com/oceanbase/recall-go/pkg/search"
)

// AsyncClient provides asynchronous recall operations.
//
// It wraps the synchronous Client and executes operations in separate
// goroutines. Every async method returns a channel that receives exactly one
// result and is then closed. Wait blocks until every started operation has
// finished.
//
// Example:
//
//	asyncClient, _ := core.NewAsyncClient(config)
//	defer asyncClient.Close()
//
//	result := <-asyncClient.AddAsync(ctx, "user_001", "User likes Python")
//	if result.Error != nil {
//	    log.Fatal(result.Error)
//	}
type AsyncClient struct {
	*Client
	wg sync.WaitGroup
}

// NewAsyncClient creates a new asynchronous recall client.
func NewAsyncClient(cfg *Config, opts ...ClientOption) (*AsyncClient, error) {
	client, err := NewClient(cfg, opts...)
	if err != nil {
		return nil, err
	}

	return &AsyncClient{
		Client: client,
	}, nil
}

// MemoryResult contains the result of an asynchronous memory operation.
type MemoryResult struct {
	Item  *model.MemoryItem
	Error error
}

// AsyncSearchResult contains the result of an asynchronous search.
type AsyncSearchResult struct {
	Response *search.Response
	Error    error
}

// AsyncContextResult contains the result of an asynchronous context build.
type AsyncContextResult struct {
	Result *ContextResult
	Error  error
}

// AsyncReflectResult contains the result of an asynchronous reflection run.
type AsyncReflectResult struct {
	Report *reflection.Report
	Error  error
}

// goAsync runs fn in a tracked goroutine and delivers its result on a
// buffered channel, so an abandoned channel never blocks the goroutine.
func goAsync[T any](ac *AsyncClient, fn func() T) <-chan T {
	resultChan := make(chan T, 1)
	ac.wg.Add(1)

	go func() {
		defer ac.wg.Done()
		resultChan <- fn()
		close(resultChan)
	}()

	return resultChan
}

// AddAsync adds a memory asynchronously.
func (ac *AsyncClient) AddAsync(ctx context.Context, tenantID, content string, opts ...AddOption) <-chan *MemoryResult {
	return goAsync(ac, func() *MemoryResult {
		item, err := ac.Add(ctx, tenantID, content, opts...)
		return &MemoryResult{Item: item, Error: err}
	})
}

// GetAsync retrieves a memory asynchronously.
func (ac *AsyncClient) GetAsync(ctx context.Context, tenantID, id string) <-chan *MemoryResult {
	return goAsync(ac, func() *MemoryResult {
		item, err := ac.Get(ctx, tenantID, id)
		return &MemoryResult{Item: item, Error: err}
	})
}

// DeleteAsync deletes a memory asynchronously.
func (ac *AsyncClient) DeleteAsync(ctx context.Context, tenantID, id string) <-chan error {
	return goAsync(ac, func() error {
		return ac.Delete(ctx, tenantID, id)
	})
}

// SearchAsync searches memories asynchronously.
func (ac *AsyncClient) SearchAsync(ctx context.Context, tenantID, query string, opts ...SearchOption) <-chan *AsyncSearchResult {
	return goAsync(ac, func() *AsyncSearchResult {
		resp, err := ac.Search(ctx, tenantID, query, opts...)
		return &AsyncSearchResult{Response: resp, Error: err}
	})
}

// BuildContextAsync assembles a working context asynchronously.
func (ac *AsyncClient) BuildContextAsync(ctx context.Context, tenantID, query string, opts ...ContextOption) <-chan *AsyncContextResult {
	return goAsync(ac, func() *AsyncContextResult {
		res, err := ac.BuildContext(ctx, tenantID, query, opts...)
		return &AsyncContextResult{Result: res, Error: err}
	})
}

// ReflectAsync runs reflection for a tenant asynchronously.
func (ac *AsyncClient) ReflectAsync(ctx context.Context, tenantID string) <-chan *AsyncReflectResult {
	return goAsync(ac, func() *AsyncReflectResult {
		report, err := ac.Reflect(ctx, tenantID)
		return &AsyncReflectResult{Report: report, Error: err}
	})
}

// Wait waits for all pending asynchronous operations to complete.
func (ac *AsyncClient) Wait() {
	ac.wg.Wait()
}

// Close waits for pending operations and closes the client.
func (ac *AsyncClient) Close() error {
	ac.Wait()
	return ac.Client.Close()
}

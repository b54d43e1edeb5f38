package processor

import (
	"context"
	"fmt"
	"sync"

	"github.com/panjf2000/ants/v2"
)

// BatchItem is the outcome of one request of a batch.
type BatchItem struct {
	Request *ProcessRequest
	Result  *ProcessResult
	Err     error
}

// ProcessBatch processes requests on a pool of at most concurrency goroutines.
// Items are returned in request order; one failure does not stop the others.
func (p *DocumentProcessor) ProcessBatch(ctx context.Context, reqs []*ProcessRequest, concurrency int) ([]BatchItem, error) {
	if concurrency <= 0 {
		concurrency = 1
	}

	pool, err := ants.NewPool(concurrency)
	if err != nil {
		return nil, fmt.Errorf("failed to create worker pool: %w", err)
	}
	defer pool.Release()

	items := make([]BatchItem, len(reqs))
	var wg sync.WaitGroup

	for i, req := range reqs {
		i, req := i, req
		items[i].Request = req
		wg.Add(1)
		if err := pool.Submit(func() {
			defer wg.Done()
			result, err := p.ProcessDocument(ctx, req)
			items[i].Result = result
			items[i].Err = err
		}); err != nil {
			wg.Done()
			items[i].Err = fmt.Errorf("failed to schedule %s: %w", req.JobID, err)
		}
	}

	wg.Wait()

	p.logger.Info("Batch complete", "documents", len(reqs), "concurrency", concurrency)
	return items, nil
}

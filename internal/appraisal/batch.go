package appraisal

import (
	"context"

	"golang.org/x/sync/errgroup"
)

type BatchItem struct {
	Result RunResult
	Err    error
}

// BatchRunner appraises independent products concurrently. Each product's stages still run
// in sequence; one product failing does not stop the others.
type BatchRunner struct {
	pipeline *Pipeline
	limit    int
}

func NewBatchRunner(p *Pipeline, limit int) *BatchRunner {
	if limit <= 0 {
		limit = 4
	}
	return &BatchRunner{pipeline: p, limit: limit}
}

// RunAll returns one item per request, in request order.
func (b *BatchRunner) RunAll(ctx context.Context, reqs []Request) []BatchItem {
	items := make([]BatchItem, len(reqs))
	var g errgroup.Group
	g.SetLimit(b.limit)
	for i, req := range reqs {
		g.Go(func() error {
			res, err := b.pipeline.Run(ctx, req)
			items[i] = BatchItem{Result: res, Err: err}
			return nil
		})
	}
	_ = g.Wait()
	return items
}

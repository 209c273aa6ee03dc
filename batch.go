package moderate

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"golang.org/x/sync/errgroup"
)

// Progress is reported once per completed batch item, in completion order.
type Progress struct {
	Completed     int              `json:"completedCount"`
	Total         int              `json:"total"`
	Percentage    float64          `json:"percentage"`
	CurrentItemID string           `json:"currentItemId"`
	Result        ModerationResult `json:"result"`
}

// ProgressFunc observes batch progress. Calls are serialized.
type ProgressFunc func(Progress)

// BatchOptions configures ProcessBatch.
type BatchOptions struct {
	Concurrency int          // parallel items (default: 1, sequential)
	Limit       int          // process at most this many items (0 = all)
	OnProgress  ProgressFunc // optional
}

// ProcessBatch moderates items and returns their verdicts in input order.
// A failing item yields a manual_review result of its own and never stops the
// rest of the batch. After cancellation, remaining items are marked degraded.
func (m *Moderator) ProcessBatch(ctx context.Context, items []AnalysisInput, opts BatchOptions) []ModerationResult {
	if opts.Limit > 0 && opts.Limit < len(items) {
		items = items[:opts.Limit]
	}
	workers := opts.Concurrency
	if workers <= 0 {
		workers = 1
	}

	results := make([]ModerationResult, len(items))
	total := len(items)

	var (
		mu        sync.Mutex
		completed int
		g         errgroup.Group
	)
	g.SetLimit(workers)

	for i, item := range items {
		g.Go(func() error {
			res := m.processItem(ctx, item)
			results[i] = res

			mu.Lock()
			defer mu.Unlock()
			completed++
			if opts.OnProgress != nil {
				m.notify(opts.OnProgress, Progress{
					Completed:     completed,
					Total:         total,
					Percentage:    round6(float64(completed) * 100 / float64(total)),
					CurrentItemID: item.ItemID,
					Result:        res,
				})
			}
			return nil
		})
	}
	_ = g.Wait()

	slog.Info("moderate: batch finished", "items", total, "workers", workers)
	return results
}

func (m *Moderator) processItem(ctx context.Context, item AnalysisInput) (res ModerationResult) {
	defer func() {
		if r := recover(); r != nil {
			m.onPanic("batch", r)
			res = DegradedResult(item.ItemID, fmt.Errorf("item panic: %v", r), m.cfg.Now())
			m.cfg.Monitor.RecordError()
		}
	}()

	if err := ctx.Err(); err != nil {
		return DegradedResult(item.ItemID, fmt.Errorf("batch canceled: %w", err), m.cfg.Now())
	}
	res, err := m.Moderate(ctx, item)
	if err != nil {
		return DegradedResult(item.ItemID, err, m.cfg.Now())
	}
	return res
}

// notify shields the batch from a panicking observer.
func (m *Moderator) notify(fn ProgressFunc, p Progress) {
	defer func() {
		if r := recover(); r != nil {
			m.onPanic("progress", r)
		}
	}()
	fn(p)
}

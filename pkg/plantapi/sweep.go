package plantapi

import (
	"context"
	"errors"
	"sync"
)

// DefaultWorkers bounds the sweep fan-out. Ten keeps a 50-plant sweep under
// a few seconds without hammering the shared upstream.
const DefaultWorkers = 10

// SweepResult pairs one plant id with its fetch outcome. Results keep the
// id order of the sweep regardless of which worker finished first.
type SweepResult struct {
	ID      int
	Payload map[string]any
	Err     error
}

// FetchRange sweeps the inclusive id range [first, last] with a bounded
// worker pool and returns one result per id, in id order.
//
// Individual failures stay inside their slot: a missing plant or a dead
// upstream for one id never hides the other plants. The exception is
// ErrAuth, which poisons every request equally, so the first one cancels
// the remaining fetches and FetchRange returns it as the sweep error.
func (c *Client) FetchRange(ctx context.Context, first, last, workers int) ([]SweepResult, error) {
	if last < first {
		return nil, nil
	}
	if workers <= 0 {
		workers = DefaultWorkers
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	results := make([]SweepResult, last-first+1)
	ids := make(chan int)

	var wg sync.WaitGroup
	var authOnce sync.Once
	var authErr error

	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for id := range ids {
				payload, err := c.FetchPlant(ctx, id)
				results[id-first] = SweepResult{ID: id, Payload: payload, Err: err}
				if errors.Is(err, ErrAuth) {
					authOnce.Do(func() {
						authErr = err
						cancel()
					})
					return
				}
			}
		}()
	}

feed:
	for id := first; id <= last; id++ {
		select {
		case ids <- id:
		case <-ctx.Done():
			break feed
		}
	}
	close(ids)
	wg.Wait()

	if authErr != nil {
		return nil, authErr
	}

	// Slots the cancelled feed never reached carry the context error so a
	// zero-value result is never mistaken for a successful empty fetch.
	for i := range results {
		if results[i].Payload == nil && results[i].Err == nil {
			results[i].ID = first + i
			results[i].Err = ctx.Err()
		}
	}
	return results, nil
}

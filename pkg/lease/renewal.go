package lease

import (
	"context"
	"time"
)

// renewalTask runs tick every interval until tick returns false or stop is called.
type renewalTask struct {
	cancel context.CancelFunc
	done   chan struct{}
}

func startRenewal(interval time.Duration, tick func(ctx context.Context) bool) *renewalTask {
	ctx, cancel := context.WithCancel(context.Background())
	task := &renewalTask{cancel: cancel, done: make(chan struct{})}

	go func() {
		defer close(task.done)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if !tick(ctx) {
					return
				}
			}
		}
	}()
	return task
}

// stop cancels the task and waits for its goroutine to exit. It must not be called
// from tick.
func (t *renewalTask) stop() {
	if t == nil {
		return
	}
	t.cancel()
	<-t.done
}

package steps

import (
	"context"
	"time"

	"github.com/rendis/rigflow/pkg/schema"
)

// sampleFunc takes one sample. done stops polling successfully.
type sampleFunc func(ctx context.Context, elapsed time.Duration) (done bool, err error)

// poll samples every interval until sample reports done, fails, the timeout
// elapses or ctx ends. A zero timeout takes exactly one sample. The
// timeout is reported as a TIMEOUT_ERROR and cancellation as ctx.Err().
func poll(ctx context.Context, interval, timeout time.Duration, sample sampleFunc) error {
	start := time.Now()
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		elapsed := time.Since(start)
		done, err := sample(ctx, elapsed)
		if err != nil || done {
			return err
		}

		elapsed = time.Since(start)
		if elapsed >= timeout {
			return schema.NewErrorf(schema.ErrCodeTimeout, "timed out after %s", timeout)
		}

		wait := interval
		if remaining := timeout - elapsed; remaining < wait {
			wait = remaining
		}
		if err := sleep(ctx, wait); err != nil {
			return err
		}
	}
}

// sleep waits for d or until ctx ends.
func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func isTimeout(err error) bool {
	flowErr, ok := err.(*schema.Error)
	return ok && flowErr.Code == schema.ErrCodeTimeout
}

// cancelledOr maps a context error to the cancelled outcome and anything
// else to a failure with the given code.
func cancelledOr(ctx context.Context, code string, err error) *schema.StepResult {
	if ctx.Err() != nil {
		return schema.Cancelled("")
	}
	return schema.FailFromError(code, err)
}

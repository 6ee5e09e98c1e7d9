package steps

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"time"

	"github.com/rendis/rigflow/pkg/schema"
)

// Invoke is the executor boundary: it validates parameters, refuses to start
// on a cancelled context, turns panics into INTERNAL_ERROR failures and
// stamps the duration.
func Invoke(ctx context.Context, exec Executor, p schema.Parameter, ec *ExecutionContext, logger *slog.Logger) (res *schema.StepResult) {
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			logger.ErrorContext(ctx, "step executor panicked",
				slog.String("step_type", string(exec.StepType())),
				slog.Any("panic", r),
				slog.String("stack", string(debug.Stack())),
			)
			res = schema.Fail(schema.NewErrorf(schema.ErrCodeInternal,
				"%s step panicked: %v", exec.StepType(), r).
				WithDetails(map[string]any{"panic": fmt.Sprint(r)}))
		}
		if res.Duration == 0 {
			res.Duration = time.Since(start)
		}
	}()

	if err := exec.Validate(p); err != nil {
		return schema.FailFromError(schema.ErrCodeValidation, err)
	}
	if ctx.Err() != nil {
		return schema.Cancelled("")
	}

	res = exec.Execute(ctx, p, ec)
	if res == nil {
		res = schema.Failf(schema.ErrCodeInternal, "%s step returned no result", exec.StepType())
	}
	return res
}

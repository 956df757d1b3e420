package results

import (
	"context"

	"github.com/verwatch/verwatch/internal/check"
)

// Sink consumes terminal check results. The Hub invokes Consume serially on
// its consumer goroutine, so implementations never race with each other;
// they must still honor ctx deadlines and be safe for repeated calls.
type Sink interface {
	Consume(ctx context.Context, result check.Result) error
	Close(ctx context.Context) error
}

// Publisher accepts individual results; Hub satisfies this interface so the
// scheduler stays agnostic about how results are buffered or persisted.
type Publisher interface {
	Publish(result check.Result)
}

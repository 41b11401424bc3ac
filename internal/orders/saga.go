package orders

import (
	"context"
	"log/slog"
)

// step is one forward action of a placement and the action that undoes it.
type step struct {
	name       string
	execute    func(ctx context.Context) error
	compensate func(ctx context.Context) error
}

// runSaga executes steps in order. When one fails, the steps that already
// succeeded are compensated in reverse order and the failure is returned.
// Compensation ignores cancellation of ctx so a dropped request still
// returns its reservations.
func runSaga(ctx context.Context, logger *slog.Logger, steps []step) error {
	done := make([]step, 0, len(steps))
	for _, st := range steps {
		if err := st.execute(ctx); err != nil {
			logger.Warn("placement step failed, rolling back", "step", st.name, "error", err)
			rollback(context.WithoutCancel(ctx), logger, done)
			return err
		}
		done = append(done, st)
	}
	return nil
}

func rollback(ctx context.Context, logger *slog.Logger, done []step) {
	for i := len(done) - 1; i >= 0; i-- {
		st := done[i]
		if st.compensate == nil {
			continue
		}
		if err := st.compensate(ctx); err != nil {
			logger.Error("compensation failed", "step", st.name, "error", err)
		}
	}
}

package service

import (
	"context"
	"time"

	"tradecore/infra/queue"
	"tradecore/pkg/logger"
	"tradecore/snapshot"
)

// RunCheckpoints writes the checkpoints the engine queues to dir until ctx
// is done. Only the newest of a drained chunk is written. It returns at
// once when checkpoints are disabled.
func (e *Engine) RunCheckpoints(ctx context.Context, dir string, poll time.Duration) {
	if e.cfg.CheckpointInterval <= 0 {
		return
	}
	w := &snapshot.Writer{Dir: dir}
	lg := e.logger.WithFields(logger.NewField("job", "checkpoint"))

	queue.Consume(ctx, e.out.Checkpoints, 0, poll, func(_ context.Context, states []snapshot.State) error {
		s := states[len(states)-1]
		if err := w.Write(s); err != nil {
			lg.Warn("checkpoint failed", logger.NewField("last_applied_id", s.LastAppliedID), logger.NewField("reason", err.Error()))
			return err
		}
		lg.Info("checkpoint written", logger.NewField("last_applied_id", s.LastAppliedID), logger.NewField("orders", len(s.Orders)))
		return nil
	})
}

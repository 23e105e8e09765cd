package app

import (
	"context"
	"time"

	"github.com/charmbracelet/log"

	"rnadiff/internal/errors"
)

// StageTiming records the wall-clock duration of one pipeline stage
type StageTiming struct {
	Stage    string        `json:"stage"`
	Duration time.Duration `json:"duration"`
}

// StageRunner executes named pipeline stages in order, stopping at the first failure
type StageRunner struct {
	logger  *log.Logger
	timings []StageTiming
}

// NewStageRunner creates a new stage runner
func NewStageRunner(logger *log.Logger) *StageRunner {
	return &StageRunner{logger: logger}
}

// Run executes fn as the named stage. Cancellation is checked before the stage starts.
func (r *StageRunner) Run(ctx context.Context, stage string, fn func() error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	start := time.Now()
	r.logger.Debug("stage started", "stage", stage)
	if err := fn(); err != nil {
		r.logger.Error("stage failed", "stage", stage, "code", errors.GetCode(err), "err", err)
		return errors.Wrapf(err, "%s stage failed", stage)
	}

	elapsed := time.Since(start)
	r.timings = append(r.timings, StageTiming{Stage: stage, Duration: elapsed})
	r.logger.Info("stage complete", "stage", stage, "duration", elapsed.Round(time.Millisecond))
	return nil
}

// Timings returns the completed stages in execution order
func (r *StageRunner) Timings() []StageTiming {
	return append([]StageTiming(nil), r.timings...)
}

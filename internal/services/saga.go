package services

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/anonto42/chyrp-lite/backend/internal/metrics"
)

// Step is one write of a multi-step flow. Undo reverts Do and may be nil when
// the step cannot be reverted.
type Step struct {
	Name string
	Do   func(ctx context.Context) error
	Undo func(ctx context.Context) error
}

// PartialFailureError reports a flow that failed after at least one step had
// been applied. Compensated is true when every applied step was undone.
type PartialFailureError struct {
	Flow        string
	Step        string
	Compensated bool
	Err         error
}

func (e *PartialFailureError) Error() string {
	state := "left partially applied"
	if e.Compensated {
		state = "rolled back"
	}
	return fmt.Sprintf("%s failed at %s and was %s: %v", e.Flow, e.Step, state, e.Err)
}

func (e *PartialFailureError) Unwrap() error { return e.Err }

// Saga runs steps in order. When a step fails after earlier steps succeeded it
// undoes them in reverse order if Compensate is set.
type Saga struct {
	Flow       string
	Compensate bool
	Retry      RetryPolicy
}

// Run returns the step error unchanged when the first step fails, since
// nothing was applied yet, and a *PartialFailureError otherwise.
func (s Saga) Run(ctx context.Context, steps ...Step) error {
	for i, step := range steps {
		err := step.Do(ctx)
		if err == nil {
			continue
		}
		if i == 0 {
			return err
		}

		logger := log.With().Str("flow", s.Flow).Str("step", step.Name).Logger()
		logger.Warn().Err(err).Msg("Multi-step write failed after partial success")

		compensated := s.Compensate && s.undo(ctx, steps[:i])
		if compensated {
			metrics.Compensations.WithLabelValues(s.Flow, "compensated").Inc()
		} else {
			metrics.Compensations.WithLabelValues(s.Flow, "recorded").Inc()
		}
		return &PartialFailureError{Flow: s.Flow, Step: step.Name, Compensated: compensated, Err: err}
	}
	return nil
}

func (s Saga) undo(ctx context.Context, applied []Step) bool {
	ok := true
	for i := len(applied) - 1; i >= 0; i-- {
		step := applied[i]
		if step.Undo == nil {
			ok = false
			continue
		}
		err := s.Retry.Do(ctx, s.Flow+".undo."+step.Name, func(int) error { return step.Undo(ctx) })
		if err != nil {
			log.Error().Err(err).Str("flow", s.Flow).Str("step", step.Name).Msg("Compensation failed")
			ok = false
		}
	}
	return ok
}

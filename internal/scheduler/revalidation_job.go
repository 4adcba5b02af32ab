package scheduler

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/meridian/decisiondesk/internal/modules/labs"
	"github.com/meridian/decisiondesk/internal/modules/sizing"
)

// RevalidationJob sweeps every lab view against fresh prices so computed
// sizing never drifts far from the market between user loads
type RevalidationJob struct {
	processor *labs.RevalidationProcessor
	timeout   time.Duration
	log       zerolog.Logger
}

// NewRevalidationJob creates the periodic revalidation sweep
func NewRevalidationJob(processor *labs.RevalidationProcessor, log zerolog.Logger) *RevalidationJob {
	return &RevalidationJob{
		processor: processor,
		timeout:   5 * time.Minute,
		log:       log.With().Str("job", "revalidation").Logger(),
	}
}

// Name returns the job name
func (j *RevalidationJob) Name() string {
	return "lab_revalidation"
}

// Run sweeps all labs. Per-view failures are logged inside the processor
// and never abort the sweep.
func (j *RevalidationJob) Run() error {
	ctx, cancel := context.WithTimeout(context.Background(), j.timeout)
	defer cancel()

	start := time.Now()
	if err := j.processor.RevalidateAll(ctx, sizing.TriggerPriceUpdate); err != nil {
		return err
	}
	j.log.Info().Dur("elapsed", time.Since(start)).Msg("Revalidation sweep finished")
	return nil
}

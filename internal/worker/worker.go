package worker

import (
	"context"
	"math/rand"
	"time"

	"github.com/Hezlepinc/lead-ingestor-v2/config"
	"github.com/Hezlepinc/lead-ingestor-v2/internal/claim"
	"github.com/Hezlepinc/lead-ingestor-v2/internal/hub"
	"github.com/Hezlepinc/lead-ingestor-v2/logger"
)

// Claimer races one claim for an opportunity. Satisfied by *claim.Coordinator.
type Claimer interface {
	Claim(ctx context.Context, opportunityID string) claim.Result
}

// Worker glues the hub event stream to the claim coordinator. Before every
// claim it sleeps a small random jitter so a fleet of regional workers that
// received the same broadcast does not hit the claim endpoint in lockstep.
type Worker struct {
	claimer   Claimer
	jitterMin time.Duration
	jitterMax time.Duration
	region    string
	log       *logger.Log
}

func New(cfg *config.Config, claimer Claimer) *Worker {
	return &Worker{
		claimer:   claimer,
		jitterMin: cfg.Worker.JitterMin(),
		jitterMax: cfg.Worker.JitterMax(),
		region:    cfg.Region.Name,
		log:       logger.GetLogger(),
	}
}

// Handler returns the hub handler. Each event is processed in its own
// goroutine; overlapping claims for distinct opportunities are fine and
// repeated broadcasts of the same opportunity are not deduplicated. The
// server's 409 is authoritative for "already claimed".
func (w *Worker) Handler(ctx context.Context) hub.Handler {
	return func(ev hub.OpportunityEvent) {
		go w.process(ctx, ev)
	}
}

func (w *Worker) process(ctx context.Context, ev hub.OpportunityEvent) {
	if !w.sleepJitter(ctx) {
		return
	}
	w.claimer.Claim(ctx, ev.OpportunityID)
}

// sleepJitter waits the configured jitter and reports false when the context
// was cancelled while waiting.
func (w *Worker) sleepJitter(ctx context.Context) bool {
	d := w.jitter()
	if d <= 0 {
		return ctx.Err() == nil
	}

	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

func (w *Worker) jitter() time.Duration {
	span := w.jitterMax - w.jitterMin
	if span <= 0 {
		return w.jitterMin
	}
	return w.jitterMin + time.Duration(rand.Int63n(int64(span)+1))
}

package users

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// RerankerConfig configures the background rank recomputation loop.
type RerankerConfig struct {
	Recompute func(context.Context) (int, error)
	Logger    *zap.Logger
	// Interval schedules periodic passes in addition to triggered ones. Zero disables them.
	Interval time.Duration
}

// Reranker serialises rank recomputation in a single goroutine.
// Triggers that arrive while a pass is pending collapse into that pass.
type Reranker struct {
	recompute func(context.Context) (int, error)
	logger    *zap.Logger
	interval  time.Duration
	signal    chan struct{}
}

// NewReranker constructs a Reranker. Run must be called for triggers to take effect.
func NewReranker(cfg RerankerConfig) *Reranker {
	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}
	return &Reranker{
		recompute: cfg.Recompute,
		logger:    logger,
		interval:  cfg.Interval,
		signal:    make(chan struct{}, 1),
	}
}

// SetInterval changes the periodic pass interval. It must be called before Run.
func (r *Reranker) SetInterval(interval time.Duration) {
	r.interval = interval
}

// Trigger requests a recomputation pass without blocking.
func (r *Reranker) Trigger() {
	select {
	case r.signal <- struct{}{}:
	default:
	}
}

// Run processes triggers and periodic passes until ctx is cancelled.
func (r *Reranker) Run(ctx context.Context) {
	var tick <-chan time.Time
	if r.interval > 0 {
		ticker := time.NewTicker(r.interval)
		defer ticker.Stop()
		tick = ticker.C
	}
	for {
		select {
		case <-ctx.Done():
			return
		case <-r.signal:
			r.pass(ctx, "trigger")
		case <-tick:
			r.pass(ctx, "interval")
		}
	}
}

func (r *Reranker) pass(ctx context.Context, cause string) {
	if r.recompute == nil {
		return
	}
	rewritten, err := r.recompute(ctx)
	if err != nil {
		r.logger.Warn("rank recomputation failed", zap.String("cause", cause), zap.Error(err))
		// retry on the next trigger or tick
		return
	}
	r.logger.Debug("ranks recomputed", zap.String("cause", cause), zap.Int("rewritten", rewritten))
}

package signal

import (
	"context"
	"log/slog"
	"time"
)

// DefaultThreshold is the weight below which a message is dropped.
const DefaultThreshold = 0.3

// DefaultRescoreTimeout caps the optional secondary scorer.
const DefaultRescoreTimeout = 300 * time.Millisecond

// Rescorer re-scores a borderline signal, typically with a lightweight model
// call. It must return a weight in [0, 1].
type Rescorer func(ctx context.Context, sig Signal) (float64, error)

// Filter is the stateless guard in front of the session registry. Signals
// whose weight falls below the threshold are rejected before any provider or
// tool call.
type Filter struct {
	Threshold float64

	// Rescorer, when set, re-scores signals within Band of the threshold.
	// It is capped at RescoreTimeout; on timeout or error the deterministic
	// weight stands.
	Rescorer       Rescorer
	Band           float64
	RescoreTimeout time.Duration
}

func NewFilter(threshold float64) *Filter {
	if threshold <= 0 {
		threshold = DefaultThreshold
	}
	return &Filter{Threshold: threshold, RescoreTimeout: DefaultRescoreTimeout}
}

// Admit reports whether the signal clears the noise threshold. The returned
// signal carries the final weight (possibly re-scored).
func (f *Filter) Admit(ctx context.Context, sig Signal) (Signal, bool) {
	if f.Rescorer != nil && f.Band > 0 &&
		sig.Weight >= f.Threshold-f.Band && sig.Weight <= f.Threshold+f.Band {
		sig.Weight = f.rescore(ctx, sig)
	}
	return sig, sig.Weight >= f.Threshold
}

func (f *Filter) rescore(ctx context.Context, sig Signal) float64 {
	timeout := f.RescoreTimeout
	if timeout <= 0 {
		timeout = DefaultRescoreTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	type scored struct {
		w   float64
		err error
	}
	ch := make(chan scored, 1)
	go func() {
		w, err := f.Rescorer(ctx, sig)
		ch <- scored{w, err}
	}()

	select {
	case s := <-ch:
		if s.err != nil || s.w < 0 || s.w > 1 {
			slog.Debug("signal: rescore failed, keeping deterministic weight", "error", s.err)
			return sig.Weight
		}
		return s.w
	case <-ctx.Done():
		slog.Debug("signal: rescore timed out, keeping deterministic weight")
		return sig.Weight
	}
}

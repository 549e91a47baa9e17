package ai

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/time/rate"
)

// DefaultEmbedInterval keeps bulk embedding under ~15 requests/minute.
const DefaultEmbedInterval = 4 * time.Second

// Limiter blocks until the next call may proceed. *rate.Limiter satisfies it.
type Limiter interface {
	Wait(ctx context.Context) error
}

// NewIntervalLimiter returns a token bucket that releases one call per interval.
// A non-positive interval disables pacing.
func NewIntervalLimiter(interval time.Duration) *rate.Limiter {
	if interval <= 0 {
		return rate.NewLimiter(rate.Inf, 1)
	}
	return rate.NewLimiter(rate.Every(interval), 1)
}

// PacedClient spaces out Embed calls through a Limiter. Generate is passed
// through untouched. It never retries.
type PacedClient struct {
	Client
	limiter Limiter
}

func NewPacedClient(c Client, l Limiter) *PacedClient {
	return &PacedClient{Client: c, limiter: l}
}

func (p *PacedClient) Embed(ctx context.Context, text string) ([]float32, error) {
	if err := p.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("embed pacing: %w", err)
	}
	return p.Client.Embed(ctx, text)
}

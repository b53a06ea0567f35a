package scene

import (
	"context"

	"github.com/sells-group/landcover/internal/raster"
	"github.com/sells-group/landcover/internal/resilience"
)

// Retrying wraps a Source and retries transient failures of each call.
// Once retries run out the error is a *resilience.ExhaustedError.
type Retrying struct {
	src Source
	cfg resilience.RetryConfig
}

// NewRetrying wraps src with the given retry policy.
func NewRetrying(src Source, cfg resilience.RetryConfig) *Retrying {
	return &Retrying{src: src, cfg: cfg}
}

func (r *Retrying) config(op string) resilience.RetryConfig {
	cfg := r.cfg
	if cfg.OnRetry == nil {
		cfg.OnRetry = resilience.RetryLogger("scene", op)
	}
	return cfg
}

// Fetch implements Source.
func (r *Retrying) Fetch(ctx context.Context, collectionID string, dr DateRange) ([]Ref, error) {
	return resilience.DoVal(ctx, r.config("fetch"), func(ctx context.Context) ([]Ref, error) {
		return r.src.Fetch(ctx, collectionID, dr)
	})
}

// Load implements Source.
func (r *Retrying) Load(ctx context.Context, ref Ref) (*raster.Image, error) {
	return resilience.DoVal(ctx, r.config("load"), func(ctx context.Context) (*raster.Image, error) {
		return r.src.Load(ctx, ref)
	})
}

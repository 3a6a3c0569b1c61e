package engine

import (
	"context"
	"errors"

	"github.com/rs/zerolog"
)

// Prober reads and normalizes the live state of a resource. It holds no state
// between calls: every probe re-derives from the live system.
type Prober struct {
	logger zerolog.Logger
}

// NewProber creates a new prober.
func NewProber(logger zerolog.Logger) *Prober {
	return &Prober{logger: logger.With().Str("component", "prober").Logger()}
}

// Probe invokes the adapter's listing call and normalizes the result.
// Any failure is returned as a ResourceUnavailable error.
func (p *Prober) Probe(ctx context.Context, adapter Adapter) (State, error) {
	ref := adapter.Ref()

	raw, err := adapter.Probe(ctx)
	if err != nil {
		return nil, asUnavailable(err, ref, "probe")
	}

	state, err := adapter.Normalize(raw)
	if err != nil {
		return nil, NewUnavailableError("failed to normalize resource state", err).
			WithResource(ref.Name).
			WithOperation("normalize")
	}
	if state == nil {
		state = State{}
	}

	p.logger.Debug().
		Str("resource", ref.String()).
		Bool("exists", raw.Exists).
		Int("keys", len(state)).
		Msg("Probed resource")

	return state, nil
}

func asUnavailable(err error, ref ResourceRef, op string) error {
	var ee *EngineError
	if errors.As(err, &ee) && ee.Class == ErrorClassUnavailable {
		if ee.Resource == "" {
			ee.Resource = ref.Name
		}
		if ee.Operation == "" {
			ee.Operation = op
		}
		return ee
	}
	return NewUnavailableError("resource unavailable", err).
		WithResource(ref.Name).
		WithOperation(op)
}

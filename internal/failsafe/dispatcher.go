package failsafe

import (
	"context"
	"time"

	"github.com/tutu-network/sentinel/internal/domain"
	"github.com/tutu-network/sentinel/internal/infra/metrics"
	"github.com/tutu-network/sentinel/internal/lexicon"
)

// Dispatcher is the Failsafe Inference Dispatcher: it always produces a
// SentimentVerdict, routing through the model client when the circuit is
// healthy and falling back to the lexicon classifier otherwise. Predict
// never returns an error.
type Dispatcher struct {
	client  domain.ModelClient
	breaker *breaker
	deadline time.Duration
}

// New wires a Dispatcher around client using cfg to configure the
// circuit breaker. deadline bounds each individual call into client; a
// deadline of zero disables the per-call timeout (the caller's ctx still
// applies).
func New(client domain.ModelClient, cfg Config, deadline time.Duration) *Dispatcher {
	return &Dispatcher{
		client:   client,
		breaker:  newBreaker(cfg, time.Now),
		deadline: deadline,
	}
}

// newForTest builds a Dispatcher with an injectable clock, used by tests
// that need to advance time deterministically.
func newForTest(client domain.ModelClient, cfg Config, deadline time.Duration, now func() time.Time) *Dispatcher {
	return &Dispatcher{
		client:   client,
		breaker:  newBreaker(cfg, now),
		deadline: deadline,
	}
}

// Predict classifies text, preferring the model service and falling back
// to the lexicon classifier when the circuit is open, the model call
// fails, or no model client is configured.
func (d *Dispatcher) Predict(ctx context.Context, text string, model string) domain.SentimentVerdict {
	metrics.DispatcherRequests.Inc()
	defer d.recordPhase()

	if d.client == nil {
		metrics.DispatcherFallbacks.Inc()
		return lexicon.Classify(text)
	}

	decision, isProbe := d.breaker.admit()
	if decision == decideFallback {
		metrics.DispatcherFallbacks.Inc()
		return lexicon.Classify(text)
	}

	callCtx := ctx
	var cancel context.CancelFunc
	if d.deadline > 0 {
		callCtx, cancel = context.WithTimeout(ctx, d.deadline)
		defer cancel()
	}

	start := time.Now()
	verdict, err := d.client.Infer(callCtx, text, model)
	metrics.ModelLatency.Observe(time.Since(start).Seconds())
	if err != nil {
		d.breaker.reportFailure(isProbe)
		metrics.DispatcherModelCalls.WithLabelValues("failure").Inc()
		metrics.DispatcherConsecutiveFailures.Set(float64(d.breaker.snapshot().ConsecutiveFails))
		metrics.DispatcherFallbacks.Inc()
		return lexicon.Classify(text)
	}

	d.breaker.reportSuccess(isProbe)
	metrics.DispatcherModelCalls.WithLabelValues("success").Inc()
	metrics.DispatcherConsecutiveFailures.Set(0)
	return verdict
}

// recordPhase mirrors the breaker's current phase into the
// dispatcher_circuit_phase gauge after every Predict call.
func (d *Dispatcher) recordPhase() {
	switch d.breaker.snapshot().Phase {
	case "open":
		metrics.DispatcherPhase.Set(3)
	case "half_open":
		metrics.DispatcherPhase.Set(2)
	default:
		metrics.DispatcherPhase.Set(1)
	}
}

// Status returns the breaker's current counters for the /failsafe/status
// endpoint.
func (d *Dispatcher) Status() Snapshot {
	return d.breaker.snapshot()
}

// Phase returns the breaker's current phase as a domain.CircuitPhase.
func (d *Dispatcher) Phase() domain.CircuitPhase {
	switch d.breaker.snapshot().Phase {
	case "open":
		return domain.PhaseOpen
	case "half_open":
		return domain.PhaseHalfOpen
	default:
		return domain.PhaseClosed
	}
}

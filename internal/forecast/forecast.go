// Package forecast supplies demand signals to the risk scorers. The signal
// is advisory: a relative demand level and a confidence, both in [0, 1].
package forecast

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/cloudarb/cloudarb/internal/provider"
)

// Signal is one demand forecast for a GPU kind over a horizon.
type Signal struct {
	// Demand is relative expected demand, 0 meaning slack capacity and 1
	// meaning contention.
	Demand float64 `json:"demand"`
	// Confidence weights how much a consumer should trust Demand.
	Confidence float64 `json:"confidence"`
}

// Source produces demand signals. Implementations must be safe for
// concurrent use.
type Source interface {
	DemandSignal(ctx context.Context, gpuKind string, horizon time.Duration) (Signal, error)
}

// Static returns the same signal for every query. The zero value reports no
// demand with no confidence, which scorers treat as "no signal".
type Static struct {
	Signal Signal
}

func (s Static) DemandSignal(ctx context.Context, gpuKind string, horizon time.Duration) (Signal, error) {
	return s.Signal, nil
}

// HTTPSource queries an external forecasting service. Failures degrade to the
// zero signal so a flaky forecaster never blocks the pipeline.
type HTTPSource struct {
	baseURL string
	client  *http.Client
}

func NewHTTPSource(baseURL string, timeout time.Duration) *HTTPSource {
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	return &HTTPSource{
		baseURL: baseURL,
		client:  &http.Client{Timeout: timeout},
	}
}

func (h *HTTPSource) DemandSignal(ctx context.Context, gpuKind string, horizon time.Duration) (Signal, error) {
	q := url.Values{}
	q.Set("gpu_kind", gpuKind)
	q.Set("horizon_hours", fmt.Sprintf("%.1f", horizon.Hours()))

	var sig Signal
	if err := provider.GetJSON(ctx, h.client, h.baseURL+"?"+q.Encode(), "", &sig); err != nil {
		return Signal{}, fmt.Errorf("querying demand forecast: %w", err)
	}
	if sig.Demand < 0 || sig.Demand > 1 || sig.Confidence < 0 || sig.Confidence > 1 {
		return Signal{}, fmt.Errorf("forecast out of range: demand=%v confidence=%v", sig.Demand, sig.Confidence)
	}
	return sig, nil
}

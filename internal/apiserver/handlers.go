package apiserver

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/cloudarb/cloudarb/internal/engine"
	"github.com/cloudarb/cloudarb/pkg/gpu"
	"github.com/cloudarb/cloudarb/pkg/pricing"
)

// errorResponse is the uniform error body: a stable machine code plus a
// human message.
type errorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError maps stable error codes onto HTTP statuses.
func writeError(w http.ResponseWriter, err error) {
	code := pricing.CodeOf(err)
	status := http.StatusInternalServerError
	switch code {
	case pricing.CodeInvalidRequest:
		status = http.StatusBadRequest
	case pricing.CodePricingUnavailable:
		status = http.StatusServiceUnavailable
	case "":
		code = pricing.CodeSolverFailure
	}
	writeJSON(w, status, errorResponse{Code: code, Message: err.Error()})
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":     "ok",
		"generation": s.agg.Snapshot().Generation,
	})
}

func (s *Server) handleOptimize(w http.ResponseWriter, r *http.Request) {
	var req engine.Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, pricing.WrapError(pricing.CodeInvalidRequest, err, "decoding request body"))
		return
	}
	res, err := s.engine.Optimize(r.Context(), req)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	var req engine.Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, pricing.WrapError(pricing.CodeInvalidRequest, err, "decoding request body"))
		return
	}
	run, err := s.engine.Submit(r.Context(), req)
	if err != nil {
		writeError(w, err)
		return
	}
	w.Header().Set("Location", "/api/v1/optimizations/"+run.ID)
	writeJSON(w, http.StatusAccepted, run)
}

func (s *Server) handleListRuns(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"runs": s.engine.ListRuns()})
}

func (s *Server) handleGetRun(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	run, ok := s.engine.GetRun(id)
	if !ok {
		writeJSON(w, http.StatusNotFound, errorResponse{
			Code:    pricing.CodeInvalidRequest,
			Message: fmt.Sprintf("no optimization run %s", id),
		})
		return
	}
	writeJSON(w, http.StatusOK, run)
}

// handleSnapshot serves the current table, optionally filtered by gpu_kind,
// region, and provider query parameters.
func (s *Server) handleSnapshot(w http.ResponseWriter, r *http.Request) {
	snap := s.engine.Snapshot()

	var filter pricing.Filter
	if kind := r.URL.Query().Get("gpu_kind"); kind != "" {
		filter.GPUKinds = []string{gpu.Canonicalize(kind)}
	}
	if region := r.URL.Query().Get("region"); region != "" {
		filter.Regions = []string{region}
	}
	if prov := r.URL.Query().Get("provider"); prov != "" {
		filter.Providers = []pricing.Provider{pricing.Provider(prov)}
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"generation": snap.Generation,
		"builtAt":    snap.BuiltAt,
		"lines":      snap.Lines(filter),
	})
}

func (s *Server) handleOpportunities(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"opportunities": s.detector.Recent()})
}

// handleOpportunityStream pushes opportunities as server-sent events until
// the client disconnects.
func (s *Server) handleOpportunityStream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	events, cancel := s.detector.Subscribe()
	defer cancel()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	// Heartbeats keep intermediaries from closing an idle stream.
	heartbeat := time.NewTicker(15 * time.Second)
	defer heartbeat.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-heartbeat.C:
			fmt.Fprint(w, ": heartbeat\n\n")
			flusher.Flush()
		case opp := <-events:
			data, err := json.Marshal(opp)
			if err != nil {
				continue
			}
			fmt.Fprintf(w, "event: opportunity\ndata: %s\n\n", data)
			flusher.Flush()
		}
	}
}

// handleProviderHealth reports which providers currently feed the table and
// which are quarantined.
func (s *Server) handleProviderHealth(w http.ResponseWriter, r *http.Request) {
	snap := s.agg.Snapshot()

	linesByProvider := make(map[string]int)
	oldest := make(map[string]time.Time)
	for _, p := range snap.Points {
		name := string(p.Provider)
		linesByProvider[name]++
		if t, ok := oldest[name]; !ok || p.ObservedAt.Before(t) {
			oldest[name] = p.ObservedAt
		}
	}

	quarantined := make([]string, 0)
	for _, p := range s.agg.Quarantined() {
		quarantined = append(quarantined, string(p))
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"generation":       snap.Generation,
		"builtAt":          snap.BuiltAt,
		"linesByProvider":  linesByProvider,
		"oldestByProvider": oldest,
		"quarantined":      quarantined,
	})
}

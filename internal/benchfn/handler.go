// Package benchfn is a local stand-in for the HTTP-triggered benchmark
// function. It answers invocations the way the deployed function does, so
// schedules can be tried out without an Azure deployment.
package benchfn

import (
	"encoding/json"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/wesleyorama2/azbench/internal/performance"
	"github.com/wesleyorama2/azbench/internal/workload"
)

// Invocation is the response body of one invocation.
type Invocation struct {
	InvokeMode  string    `json:"invokeMode"`
	InvokeInput string    `json:"invokeInput"`
	ID          string    `json:"id"`
	RunID       string    `json:"runId,omitempty"`
	Instance    string    `json:"instance"`
	ColdStart   bool      `json:"coldStart"`
	Count       int64     `json:"count"`
	ReceivedAt  time.Time `json:"receivedAt"`
}

// Options configure the handler.
type Options struct {
	// Latency is added to every invocation.
	Latency time.Duration

	// ColdStart is added to the first invocation only.
	ColdStart time.Duration
}

// Handler serves invocations. The first invocation is the instance's cold
// start.
type Handler struct {
	opts     Options
	instance string

	count    atomic.Int64
	warmOnce sync.Once
}

// NewHandler creates a handler with a fresh instance ID.
func NewHandler(opts Options) *Handler {
	return &Handler{opts: opts, instance: uuid.NewString()}
}

// Count returns the number of invocations served.
func (h *Handler) Count() int64 {
	return h.count.Load()
}

// Routes returns the function route and a health check.
func (h *Handler) Routes() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/api/bench", h)
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})
	return mux
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	q := r.URL.Query()
	inv := Invocation{
		InvokeMode:  q.Get(workload.QueryInvokeMode),
		InvokeInput: q.Get(workload.QueryInvokeInput),
		ID:          q.Get(workload.QueryID),
		RunID:       r.Header.Get(performance.HeaderRunID),
		Instance:    h.instance,
		ReceivedAt:  time.Now(),
	}
	if inv.InvokeMode == "" || inv.InvokeInput == "" || inv.ID == "" {
		http.Error(w, "invokeMode, invokeInput and id are required", http.StatusBadRequest)
		return
	}

	delay := h.opts.Latency
	h.warmOnce.Do(func() {
		inv.ColdStart = true
		delay += h.opts.ColdStart
	})
	if delay > 0 {
		timer := time.NewTimer(delay)
		select {
		case <-timer.C:
		case <-r.Context().Done():
			timer.Stop()
			return
		}
	}
	inv.Count = h.count.Add(1)

	log.Debug().Str("mode", inv.InvokeMode).Str("input", inv.InvokeInput).Str("id", inv.ID).
		Bool("coldStart", inv.ColdStart).Msg("invocation")

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(inv)
}

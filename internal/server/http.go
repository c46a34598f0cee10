package server

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"PerpDealer/internal/observability"
	"PerpDealer/internal/query"
)

// Server is the HTTP/JSON read API. All state mutations enter through the
// NATS command stream; this surface only serves queries, health and metrics.
type Server struct {
	httpServer *http.Server
	log        zerolog.Logger
}

func New(addr string, svc *query.Service, health *observability.HealthChecker, log zerolog.Logger) *Server {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /v1/accounts/{trader}", func(w http.ResponseWriter, r *http.Request) {
		resp, err := svc.Account(r.PathValue("trader"))
		writeResult(w, resp, err)
	})

	mux.HandleFunc("GET /v1/markets", func(w http.ResponseWriter, r *http.Request) {
		resp, err := svc.Markets()
		writeResult(w, resp, err)
	})

	mux.HandleFunc("GET /v1/markets/{id}", func(w http.ResponseWriter, r *http.Request) {
		resp, err := svc.Market(r.PathValue("id"))
		writeResult(w, resp, err)
	})

	mux.HandleFunc("GET /v1/markets/{id}/funding-history", func(w http.ResponseWriter, r *http.Request) {
		after := parseInt64(r.URL.Query().Get("after_sequence"))
		limit := int(parseInt64(r.URL.Query().Get("limit")))
		resp, err := svc.FundingRateHistory(r.Context(), r.PathValue("id"), after, limit)
		writeResult(w, resp, err)
	})

	mux.HandleFunc("GET /v1/markets/{id}/liquidation-quote", func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		paper, err := decimal.NewFromString(q.Get("request_paper"))
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid request_paper")
			return
		}
		resp, err := svc.QuoteLiquidation(r.PathValue("id"), q.Get("trader"), paper)
		writeResult(w, resp, err)
	})

	mux.HandleFunc("GET /v1/events", func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		filter := query.EventFilter{
			EventType:     q.Get("event_type"),
			MarketID:      q.Get("market_id"),
			AfterSequence: parseInt64(q.Get("after_sequence")),
		}
		limit := int(parseInt64(q.Get("limit")))
		resp, err := svc.Events(r.Context(), filter, limit)
		writeResult(w, resp, err)
	})

	mux.HandleFunc("GET /v1/sequence", func(w http.ResponseWriter, r *http.Request) {
		seq, err := svc.LastSequence(r.Context())
		writeResult(w, map[string]int64{"last_sequence": seq}, err)
	})

	mux.HandleFunc("GET /healthz", health.LivenessHandler)
	mux.HandleFunc("GET /readyz", health.ReadinessHandler)
	mux.Handle("GET /metrics", promhttp.Handler())

	return &Server{
		httpServer: &http.Server{
			Addr:              addr,
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		},
		log: log,
	}
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	go func() {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.httpServer.Shutdown(shutCtx)
	}()

	s.log.Info().Str("addr", s.httpServer.Addr).Msg("http server listening")
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

func writeResult(w http.ResponseWriter, v interface{}, err error) {
	if err != nil {
		writeError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(map[string]string{"error": msg})
}

func parseInt64(s string) int64 {
	if s == "" {
		return 0
	}
	v, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0
	}
	return v
}

// Package api serves the validator snapshot over HTTP.
package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/urfave/negroni"
	"lecca.io/mind-watchtower/internal/chain"
	"lecca.io/mind-watchtower/internal/config"
	"lecca.io/mind-watchtower/internal/logger"
	"lecca.io/mind-watchtower/internal/refresh"
	"lecca.io/mind-watchtower/internal/rpc"
	"lecca.io/mind-watchtower/internal/snapshot"
	"lecca.io/mind-watchtower/internal/window"
)

type SnapshotReader interface {
	ListAll() []snapshot.ValidatorRecord
	Len() int
}

type NameWriter interface {
	Put(ctx context.Context, address common.Address, name string) error
}

// NameCounter is optionally implemented by the NameWriter for /status.
type NameCounter interface {
	Count() (int, error)
}

type SummarySource interface {
	FetchChainSummary(ctx context.Context) (chain.ChainSummaryRaw, error)
}

type CycleReporter interface {
	State() refresh.State
	LastResult() (refresh.CycleResult, bool)
}

// Deps are the collaborators behind the routes. Pipeline, Window, Nodes and
// Gatherer are optional; /status and /metrics degrade without them.
type Deps struct {
	Snapshot SnapshotReader
	Names    NameWriter
	Chain    SummarySource
	Pipeline CycleReporter
	Window   *window.RollingWindow
	Nodes    *rpc.Manager
	Gatherer prometheus.Gatherer
}

type Server struct {
	cfg  config.APIConfig
	deps Deps
	hub  *Hub

	handler http.Handler
}

func NewServer(cfg config.APIConfig, deps Deps) *Server {
	s := &Server{
		cfg:  cfg,
		deps: deps,
		hub:  NewHub(deps.Snapshot),
	}

	router := mux.NewRouter()
	router.HandleFunc("/validators", s.handleValidators).Methods(http.MethodGet)
	router.HandleFunc("/addName", s.handleAddName).Methods(http.MethodPost)
	router.HandleFunc("/chaindata", s.handleChainData).Methods(http.MethodGet)
	router.HandleFunc("/status", s.handleStatus).Methods(http.MethodGet)
	router.HandleFunc("/ws", s.hub.ServeWS)
	if cfg.MetricsOnAPI && deps.Gatherer != nil {
		router.Handle("/metrics", promhttp.HandlerFor(deps.Gatherer, promhttp.HandlerOpts{}))
	}
	router.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sendError(w, r.URL.Path, "Not found", http.StatusNotFound)
	})
	router.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sendError(w, r.URL.Path, "Method not allowed", http.StatusMethodNotAllowed)
	})

	n := negroni.New()
	n.Use(negroni.HandlerFunc(jsonContentType))
	n.Use(negroni.HandlerFunc(corsHeaders))
	n.Use(newRecovery())
	n.UseHandler(router)
	s.handler = n

	return s
}

func (s *Server) Handler() http.Handler {
	return s.handler
}

// Hub exposes the websocket hub so cycles can push fresh snapshots.
func (s *Server) Hub() *Hub {
	return s.hub
}

// Run serves until ctx is done, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	addr := fmt.Sprintf(":%d", s.cfg.Port)
	server := &http.Server{
		Addr:         addr,
		Handler:      s.handler,
		ReadTimeout:  config.ParseDuration(s.cfg.ReadTimeout),
		WriteTimeout: config.ParseDuration(s.cfg.WriteTimeout),
		IdleTimeout:  config.ParseDuration(s.cfg.IdleTimeout),
	}

	go s.hub.Run(ctx)

	errCh := make(chan error, 1)
	go func() {
		logger.Info("API", "HTTP server listening on %s", addr)
		errCh <- server.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("http server on %s: %w", addr, err)
	case <-ctx.Done():
	}

	logger.Info("API", "HTTP server shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	s.hub.Close()
	return server.Shutdown(shutdownCtx)
}

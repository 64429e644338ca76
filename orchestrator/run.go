// Copyright 2025 DocFlow
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"

	"docflow/platform/shared/logger"
)

// Service is the HTTP surface of the routing engine.
type Service struct {
	orchestrator *Orchestrator
	cfg          *Config
	logger       *logger.Logger
}

// NewService wires the HTTP surface around an orchestrator.
func NewService(orchestrator *Orchestrator, cfg *Config) *Service {
	return &Service{
		orchestrator: orchestrator,
		cfg:          cfg,
		logger:       logger.New("http-service"),
	}
}

// Router builds the HTTP route table.
func (s *Service) Router() http.Handler {
	r := mux.NewRouter()

	r.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	r.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)

	api := r.PathPrefix("/api/v1").Subrouter()
	api.HandleFunc("/operations", s.handleOperation).Methods(http.MethodPost)
	api.HandleFunc("/monitor/recommendations", s.handleRecommendations).Methods(http.MethodGet)
	api.HandleFunc("/monitor/alerts", s.handleAlerts).Methods(http.MethodGet)
	api.HandleFunc("/monitor/patterns", s.handlePatterns).Methods(http.MethodGet)

	c := cors.New(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Content-Type", "Authorization"},
	})

	return c.Handler(r)
}

func (s *Service) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":    "healthy",
		"service":   "routing-engine",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

func (s *Service) handleOperation(w http.ResponseWriter, r *http.Request) {
	var req OperationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON body"})
		return
	}

	result := s.orchestrator.RouteOperation(r.Context(), &req)

	status := http.StatusOK
	if !result.Success {
		status = http.StatusUnprocessableEntity
	}
	writeJSON(w, status, result)
}

func (s *Service) handleRecommendations(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"recommendations": s.orchestrator.Monitor().Recommendations(),
	})
}

func (s *Service) handleAlerts(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"alerts": s.orchestrator.Monitor().Alerts(),
	})
}

func (s *Service) handlePatterns(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"patterns": s.orchestrator.Monitor().Patterns(),
	})
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

// Run loads configuration, wires the engine, and serves HTTP until SIGINT or
// SIGTERM arrives, then shuts down gracefully.
func Run() error {
	log := logger.New("routing-engine")

	cfg, err := LoadConfig(os.Getenv("DOCFLOW_CONFIG"))
	if err != nil {
		return fmt.Errorf("configuration error: %w", err)
	}

	var advisor ComplexityAdvisor
	if apiKey := os.Getenv("ANTHROPIC_API_KEY"); apiKey != "" {
		advisor = NewAnthropicAdvisor(func(o *AnthropicAdvisorOptions) {
			o.APIKey = apiKey
		})
		log.Info("", "AI complexity advisor enabled", nil)
	} else {
		log.Info("", "no API key configured, classification is rule-based only", nil)
	}

	engine := New(cfg, advisor)
	engine.Start()
	defer engine.Shutdown()

	service := NewService(engine, cfg)
	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      service.Router(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("", "routing engine listening", map[string]interface{}{"port": cfg.Port})
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		log.ErrorWithErr("", "server stopped unexpectedly", err, nil)
		return fmt.Errorf("server error: %w", err)
	case sig := <-sigCh:
		log.Info("", "shutdown signal received", map[string]interface{}{"signal": sig.String()})
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("graceful shutdown failed: %w", err)
	}

	log.Info("", "routing engine stopped", nil)
	return nil
}

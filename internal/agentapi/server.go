// Package agentapi serves the HTTP callbacks used by device agents and boot
// images, plus read-only fleet listings.
package agentapi

import (
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"

	"thinfleet/internal/auth"
	"thinfleet/internal/database"
	"thinfleet/internal/images"
	"thinfleet/internal/metrics"
	"thinfleet/internal/orchestrator"
	"thinfleet/internal/registry"
)

// maxBodyBytes bounds heartbeat and result payloads
const maxBodyBytes = 1 << 20

// Server handles agent callbacks
type Server struct {
	devices      *registry.Registry
	images       *images.Registry
	orchestrator *orchestrator.Orchestrator
	commands     database.CommandRepository
	tokens       *auth.JWTManager
}

// NewServer creates the API. A nil tokens manager disables bearer authentication.
func NewServer(devices *registry.Registry, imgs *images.Registry, orch *orchestrator.Orchestrator, commands database.CommandRepository, tokens *auth.JWTManager) *Server {
	return &Server{
		devices:      devices,
		images:       imgs,
		orchestrator: orch,
		commands:     commands,
		tokens:       tokens,
	}
}

// Router returns the route table
func (s *Server) Router() *mux.Router {
	router := mux.NewRouter()
	router.Use(metrics.HTTPMiddleware)

	router.HandleFunc("/health", s.handleHealth).Methods("GET")
	router.Handle("/metrics", promhttp.Handler()).Methods("GET")

	api := router.PathPrefix("/api").Subrouter()
	api.HandleFunc("/devices", s.handleListDevices).Methods("GET")
	api.HandleFunc("/devices/{device_id}", s.handleGetDevice).Methods("GET")
	api.HandleFunc("/deployments", s.handleListDeployments).Methods("GET")
	api.HandleFunc("/deployments/{deployment_id}", s.handleGetDeployment).Methods("GET")
	api.HandleFunc("/deployments/{deployment_id}/complete", s.handleDeploymentComplete).Methods("POST")
	api.HandleFunc("/images", s.handleListImages).Methods("GET")

	// Agent callbacks
	device := api.PathPrefix("/devices/{device_id}").Subrouter()
	device.Use(s.requireDeviceToken)
	device.HandleFunc("/heartbeat", s.handleHeartbeat).Methods("POST")
	device.HandleFunc("/command-result", s.handleCommandResult).Methods("POST")

	return router
}

// Handler returns the router wrapped with CORS and cleartext HTTP/2 support
func (s *Server) Handler() http.Handler {
	return h2c.NewHandler(addCORS(s.Router()), &http2.Server{})
}

// HTTPServer returns an http.Server for addr
func (s *Server) HTTPServer(addr string) *http.Server {
	return &http.Server{
		Addr:           addr,
		Handler:        s.Handler(),
		ReadTimeout:    30 * time.Second,
		WriteTimeout:   30 * time.Second,
		IdleTimeout:    60 * time.Second,
		MaxHeaderBytes: 1 << 20,
	}
}

// addCORS lets browser dashboards read the listings
func addCORS(handler http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		handler.ServeHTTP(w, r)
	})
}

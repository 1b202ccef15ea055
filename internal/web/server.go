package web

import (
	"encoding/json"
	"net/http"
	"runtime"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/OrionFinanceAI/orion-engine/internal/engine"
	"github.com/OrionFinanceAI/orion-engine/internal/logger"
	"github.com/OrionFinanceAI/orion-engine/internal/registry"
	"github.com/OrionFinanceAI/orion-engine/internal/state"
	"github.com/OrionFinanceAI/orion-engine/internal/types"
	"github.com/OrionFinanceAI/orion-engine/internal/vault"
)

var webLogger = logger.GetForComponent("web_server")

// WebServer handles HTTP requests for protocol observability
type WebServer struct {
	router     *mux.Router
	port       string
	registry   *registry.Registry
	vaults     *vault.Directory
	aggregator *engine.InternalStateOrchestrator
	executor   *engine.LiquidityOrchestrator
	startedAt  time.Time
}

// Config holds the dependencies for creating a new web server
type Config struct {
	Port       string
	Registry   *registry.Registry
	Vaults     *vault.Directory
	Aggregator *engine.InternalStateOrchestrator
	Executor   *engine.LiquidityOrchestrator
}

// NewWebServer creates a new web server instance
func NewWebServer(cfg Config) *WebServer {
	port := cfg.Port
	if port == "" {
		port = "8080"
	}

	server := &WebServer{
		router:     mux.NewRouter(),
		port:       port,
		registry:   cfg.Registry,
		vaults:     cfg.Vaults,
		aggregator: cfg.Aggregator,
		executor:   cfg.Executor,
		startedAt:  time.Now(),
	}

	server.setupRoutes()
	return server
}

// setupRoutes configures all HTTP routes
func (ws *WebServer) setupRoutes() {
	// Health and metrics (direct routes)
	ws.router.HandleFunc("/health", ws.handleHealth).Methods("GET")
	ws.router.Handle("/metrics", promhttp.Handler()).Methods("GET")

	// API endpoints
	api := ws.router.PathPrefix("/api").Subrouter()
	api.HandleFunc("/health", ws.handleHealth).Methods("GET")
	api.HandleFunc("/status", ws.handleGetStatus).Methods("GET")
	api.HandleFunc("/orderbook", ws.handleGetOrderBook).Methods("GET")
	api.HandleFunc("/vaults", ws.handleGetVaults).Methods("GET")
	api.HandleFunc("/epochs", ws.handleGetEpochs).Methods("GET")
	api.HandleFunc("/epochs/{epoch}", ws.handleGetEpoch).Methods("GET")
	api.HandleFunc("/events", ws.handleGetEvents).Methods("GET")
	api.HandleFunc("/parameters", ws.handleGetParameters).Methods("GET")
	api.HandleFunc("/performance", ws.handleGetPerformance).Methods("GET")

	// Add CORS middleware
	ws.router.Use(ws.corsMiddleware)
	ws.router.Use(ws.loggingMiddleware)
}

// Start starts the web server
func (ws *WebServer) Start() error {
	webLogger.Info().Str("port", ws.port).Msg("Starting web server")

	server := &http.Server{
		Addr:         ":" + ws.port,
		Handler:      ws.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return server.ListenAndServe()
}

// handleHealth returns server health status
func (ws *WebServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)

	health := map[string]interface{}{
		"status":          "healthy",
		"timestamp":       time.Now().UTC(),
		"uptime_seconds":  int(time.Since(ws.startedAt).Seconds()),
		"goroutines":      runtime.NumGoroutine(),
		"memory_alloc_mb": memStats.Alloc / 1024 / 1024,
		"paused":          ws.registry.Paused(),
	}

	ws.writeJSONResponse(w, http.StatusOK, health)
}

// handleGetStatus returns the live phase of both state machines
func (ws *WebServer) handleGetStatus(w http.ResponseWriter, r *http.Request) {
	status := map[string]interface{}{
		"aggregation_phase":    ws.aggregator.Phase().String(),
		"execution_phase":      ws.executor.Phase().String(),
		"completed_epoch":      ws.aggregator.CompletedEpoch(),
		"last_processed_epoch": ws.executor.LastProcessedEpoch(),
		"paused":               ws.registry.Paused(),
		"parameters":           ws.registry.Parameters(),
	}

	ws.writeJSONResponse(w, http.StatusOK, status)
}

// handleGetOrderBook returns the latest finalized order book
func (ws *WebServer) handleGetOrderBook(w http.ResponseWriter, r *http.Request) {
	book, ok := ws.aggregator.LatestOrderBook()
	if !ok {
		ws.writeErrorResponse(w, http.StatusNotFound, "No order book has been finalized yet")
		return
	}

	ws.writeJSONResponse(w, http.StatusOK, book)
}

// handleGetVaults returns the live state of every vault, optionally filtered
// by kind (?kind=PLAIN or ?kind=ENCRYPTED)
func (ws *WebServer) handleGetVaults(w http.ResponseWriter, r *http.Request) {
	var all []*vault.Vault
	switch kind := r.URL.Query().Get("kind"); kind {
	case "":
		all = ws.vaults.All()
	case string(types.VaultKindPlain), string(types.VaultKindEncrypted):
		all = ws.vaults.ByKind(types.VaultKind(kind))
	default:
		ws.writeErrorResponse(w, http.StatusBadRequest, "Unknown vault kind: "+kind)
		return
	}
	out := make([]map[string]interface{}, 0, len(all))
	for _, v := range all {
		portfolio, totalAssets := v.GetPortfolio()
		depLen, redeemLen := v.QueueLengths()
		_, intentValid := v.GetIntent()
		out = append(out, map[string]interface{}{
			"address":          v.Address(),
			"curator":          v.Curator(),
			"kind":             v.Kind(),
			"status":           v.Status(),
			"total_assets":     totalAssets,
			"total_shares":     v.TotalShares(),
			"portfolio":        portfolio,
			"intent_valid":     intentValid,
			"pending_deposits": depLen,
			"pending_redeems":  redeemLen,
		})
	}

	ws.writeJSONResponse(w, http.StatusOK, map[string]interface{}{
		"count":  len(out),
		"vaults": out,
	})
}

// handleGetEpochs returns recent epoch snapshots
func (ws *WebServer) handleGetEpochs(w http.ResponseWriter, r *http.Request) {
	limit := 10
	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		if parsed, err := strconv.Atoi(limitStr); err == nil {
			limit = parsed
		}
	}

	snapshots, err := state.GetRecentEpochs(limit)
	if err != nil {
		webLogger.Error().Err(err).Msg("Failed to get recent epochs")
		ws.writeErrorResponse(w, http.StatusInternalServerError, "Failed to retrieve epochs")
		return
	}

	ws.writeJSONResponse(w, http.StatusOK, map[string]interface{}{
		"count":  len(snapshots),
		"epochs": snapshots,
	})
}

// handleGetEpoch returns one epoch snapshot by number
func (ws *WebServer) handleGetEpoch(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	epoch, err := strconv.ParseUint(vars["epoch"], 10, 64)
	if err != nil {
		ws.writeErrorResponse(w, http.StatusBadRequest, "Invalid epoch number")
		return
	}

	snapshot, err := state.GetEpochSnapshot(epoch)
	if err != nil {
		ws.writeErrorResponse(w, http.StatusNotFound, "Epoch snapshot not found")
		return
	}

	ws.writeJSONResponse(w, http.StatusOK, snapshot)
}

// handleGetEvents returns recent engine events
func (ws *WebServer) handleGetEvents(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		if parsed, err := strconv.Atoi(limitStr); err == nil {
			limit = parsed
		}
	}

	events, err := state.GetRecentEvents(limit)
	if err != nil {
		webLogger.Error().Err(err).Msg("Failed to get recent events")
		ws.writeErrorResponse(w, http.StatusInternalServerError, "Failed to retrieve events")
		return
	}

	ws.writeJSONResponse(w, http.StatusOK, map[string]interface{}{
		"count":  len(events),
		"events": events,
	})
}

// handleGetParameters returns the live protocol parameters
func (ws *WebServer) handleGetParameters(w http.ResponseWriter, r *http.Request) {
	params := ws.registry.Parameters()
	ws.writeJSONResponse(w, http.StatusOK, map[string]interface{}{
		"curator_intent_decimals": ws.registry.CuratorIntentDecimals(),
		"target_buffer_ratio_bps": params.TargetBufferRatioBps,
		"slippage_tolerance_bps":  params.SlippageToleranceBps(),
		"max_fulfill_batch_size":  params.MaxFulfillBatchSize,
		"epoch_duration_seconds":  int64(params.EpochDuration.Seconds()),
		"vault_chunk_size":        params.VaultChunkSize,
	})
}

// handleGetPerformance returns aggregated execution metrics
func (ws *WebServer) handleGetPerformance(w http.ResponseWriter, r *http.Request) {
	summary, err := state.GetProtocolSummary()
	if err != nil {
		webLogger.Error().Err(err).Msg("Failed to get protocol summary")
		ws.writeErrorResponse(w, http.StatusInternalServerError, "Failed to retrieve protocol summary")
		return
	}

	metrics, err := state.GetExecutionMetrics()
	if err != nil {
		webLogger.Error().Err(err).Msg("Failed to get execution metrics")
		ws.writeErrorResponse(w, http.StatusInternalServerError, "Failed to retrieve execution metrics")
		return
	}

	ws.writeJSONResponse(w, http.StatusOK, map[string]interface{}{
		"summary":   summary,
		"execution": metrics,
	})
}

// writeJSONResponse writes a JSON response
func (ws *WebServer) writeJSONResponse(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		webLogger.Error().Err(err).Msg("Failed to encode JSON response")
	}
}

// writeErrorResponse writes an error response
func (ws *WebServer) writeErrorResponse(w http.ResponseWriter, statusCode int, message string) {
	response := map[string]interface{}{
		"error":     true,
		"message":   message,
		"timestamp": time.Now().UTC(),
	}

	ws.writeJSONResponse(w, statusCode, response)
}

// corsMiddleware adds CORS headers
func (ws *WebServer) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// loggingMiddleware logs HTTP requests
func (ws *WebServer) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		// Create a response writer wrapper to capture status code
		wrapper := &responseWriterWrapper{ResponseWriter: w, statusCode: http.StatusOK}

		next.ServeHTTP(wrapper, r)

		duration := time.Since(start)

		webLogger.Info().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Str("remote_addr", r.RemoteAddr).
			Int("status", wrapper.statusCode).
			Dur("duration", duration).
			Msg("HTTP request")
	})
}

// responseWriterWrapper wraps http.ResponseWriter to capture status code
type responseWriterWrapper struct {
	http.ResponseWriter
	statusCode int
}

func (w *responseWriterWrapper) WriteHeader(statusCode int) {
	w.statusCode = statusCode
	w.ResponseWriter.WriteHeader(statusCode)
}

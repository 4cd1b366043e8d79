package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	_ "github.com/lib/pq"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/liamcoop/formrules/internal/config"
	"github.com/liamcoop/formrules/internal/logger"
	"github.com/liamcoop/formrules/multitenantengine"
	"github.com/liamcoop/formrules/rules"
)

type Server struct {
	cfg           *config.Config
	db            *sql.DB
	redis         *redis.Client
	engineManager *multitenantengine.MultiTenantEngineManager
	inline        *rules.Engine
	router        *chi.Mux
}

// NewServer connects to PostgreSQL and Redis as configured and loads every
// tenant. Without a database URL only inline evaluation is served.
func NewServer(ctx context.Context, cfg *config.Config) (*Server, error) {
	if cfg.Database.URL == "" {
		logger.Warn("no database configured, serving inline evaluation only")
		return newServer(cfg, nil, nil, nil)
	}

	db, err := sql.Open("postgres", cfg.Database.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	cacheConfig := rules.CacheConfig{TTL: cfg.Cache.TTL, KeyPrefix: cfg.Cache.KeyPrefix}
	opts := []multitenantengine.Option{multitenantengine.WithCacheConfig(cacheConfig)}

	var client *redis.Client
	if cfg.Redis.Addr != "" {
		client = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err := client.Ping(ctx).Err(); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to ping redis: %w", err)
		}
		opts = append(opts, multitenantengine.WithRedisCache(client, cacheConfig))
		logger.Info("rule set cache shared through redis", "addr", cfg.Redis.Addr)
	}

	engineManager := multitenantengine.NewMultiTenantEngineManager(db, opts...)

	logger.Info("loading tenants from database")
	if err := engineManager.LoadAllTenants(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to load tenants: %w", err)
	}

	return newServer(cfg, db, client, engineManager)
}

func newServer(cfg *config.Config, db *sql.DB, client *redis.Client, engineManager *multitenantengine.MultiTenantEngineManager) (*Server, error) {
	inline, err := rules.NewEngine(rules.NewInMemoryRuleSetStore(),
		rules.WithEvaluator(rules.NewEvaluator(rules.WithTraceSink(rules.LogTraceSink{}))))
	if err != nil {
		return nil, fmt.Errorf("failed to create inline engine: %w", err)
	}

	s := &Server{
		cfg:           cfg,
		db:            db,
		redis:         client,
		engineManager: engineManager,
		inline:        inline,
	}
	s.setupRoutes()
	return s, nil
}

// Close releases the database and redis connections
func (s *Server) Close() {
	if s.redis != nil {
		s.redis.Close()
	}
	if s.db != nil {
		s.db.Close()
	}
}

func (s *Server) setupRoutes() {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger)
	r.Use(middleware.Recoverer)
	if s.cfg.Server.RequestTimeout > 0 {
		r.Use(middleware.Timeout(s.cfg.Server.RequestTimeout))
	}

	r.Get("/api/v1/health", s.handleHealth)
	r.Post("/api/v1/evaluate", s.handleEvaluate)

	r.Route("/api/v1/tenants", func(r chi.Router) {
		r.Use(s.requireDatabase)

		r.Get("/", s.handleListTenants)
		r.Post("/", s.handleCreateTenant)

		r.Route("/{tenantId}", func(r chi.Router) {
			r.Use(validTenantID)

			r.Get("/", s.handleGetTenant)
			r.Delete("/", s.handleDeleteTenant)

			r.Get("/schema", s.handleGetSchema)
			r.Put("/schema", s.handleUpdateSchema)

			r.Get("/rulesets", s.handleListRuleSets)
			r.Post("/rulesets", s.handleCreateRuleSet)
			r.Get("/rulesets/{ruleSetId}", s.handleGetRuleSet)
			r.Put("/rulesets/{ruleSetId}", s.handleUpdateRuleSet)
			r.Delete("/rulesets/{ruleSetId}", s.handleDeleteRuleSet)
			r.Post("/rulesets/{ruleSetId}/evaluate", s.handleEvaluateRuleSet)
		})
	})

	s.router = r
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		logger.Debug("request served",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"bytes", ww.BytesWritten(),
			"duration", time.Since(start).String(),
			"requestId", middleware.GetReqID(r.Context()),
		)
	})
}

func (s *Server) requireDatabase(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.engineManager == nil {
			respondError(w, http.StatusServiceUnavailable, "tenant management requires a database", nil)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func validTenantID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, err := uuid.Parse(chi.URLParam(r, "tenantId")); err != nil {
			respondError(w, http.StatusBadRequest, "tenantId must be a UUID", err)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// Health check handler
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := HealthResponse{
		Status:   "healthy",
		Database: "disabled",
		Counters: logger.Snapshot(),
	}

	if s.engineManager != nil {
		resp.TenantsLoaded = len(s.engineManager.ListTenants())
	}

	if s.db != nil {
		resp.Database = "ok"
		if err := s.db.PingContext(r.Context()); err != nil {
			resp.Status = "unhealthy"
			resp.Database = "unreachable"
			resp.Error = err.Error()
			respondJSON(w, http.StatusServiceUnavailable, resp)
			return
		}
	}

	respondJSON(w, http.StatusOK, resp)
}

// Evaluation handler
func (s *Server) handleEvaluate(w http.ResponseWriter, r *http.Request) {
	var req EvaluateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		logger.CountRejectedEvaluation()
		respondError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}

	if req.RuleSetID == "" && req.Rules == nil {
		logger.CountRejectedEvaluation()
		respondError(w, http.StatusBadRequest, "ruleSetId or rules is required", nil)
		return
	}

	engine := s.inline
	if req.TenantID != "" {
		if s.engineManager == nil {
			logger.CountRejectedEvaluation()
			respondError(w, http.StatusServiceUnavailable, "tenant evaluation requires a database", nil)
			return
		}
		var err error
		engine, err = s.engineManager.GetEngine(req.TenantID)
		if err != nil {
			logger.CountRejectedEvaluation()
			respondError(w, statusFor(err), "tenant not found", err)
			return
		}
	} else if req.RuleSetID != "" {
		logger.CountRejectedEvaluation()
		respondError(w, http.StatusBadRequest, "tenantId is required to evaluate a stored rule set", nil)
		return
	}

	s.evaluate(w, r, engine, req)
}

// Evaluate a stored rule set of the tenant in the path
func (s *Server) handleEvaluateRuleSet(w http.ResponseWriter, r *http.Request) {
	var req EvaluateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		logger.CountRejectedEvaluation()
		respondError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}
	req.TenantID = chi.URLParam(r, "tenantId")
	req.RuleSetID = chi.URLParam(r, "ruleSetId")
	req.Rules = nil

	engine, err := s.engineManager.GetEngine(req.TenantID)
	if err != nil {
		logger.CountRejectedEvaluation()
		respondError(w, statusFor(err), "tenant not found", err)
		return
	}

	s.evaluate(w, r, engine, req)
}

func (s *Server) evaluate(w http.ResponseWriter, r *http.Request, engine *rules.Engine, req EvaluateRequest) {
	if req.Answers == nil {
		req.Answers = rules.Answers{}
	}

	startTime := time.Now()

	var result *rules.EvaluationResult
	var err error
	if req.RuleSetID != "" {
		result, err = engine.Evaluate(r.Context(), req.RuleSetID, req.Answers, req.Debug)
	} else {
		result, err = engine.EvaluateRules(req.Answers, req.Rules, req.Debug)
	}
	if err != nil {
		logger.CountRejectedEvaluation()
		respondError(w, statusFor(err), "evaluation failed", err)
		return
	}
	logger.CountEvaluation(req.Debug)

	resp := EvaluateResponse{Result: result}
	if len(req.Fields) > 0 {
		resp.Fields = make(map[string]rules.FieldState, len(req.Fields))
		for _, id := range req.Fields {
			resp.Fields[id] = result.Field(id)
		}
	}
	if len(req.Sections) > 0 {
		resp.Sections = make(map[string]SectionResponse, len(req.Sections))
		for _, id := range req.Sections {
			state := result.Section(id)
			resp.Sections[id] = SectionResponse{SectionState: state, Style: state.TransitionStyle()}
		}
	}
	resp.EvaluationTime = time.Since(startTime).String()

	respondJSON(w, http.StatusOK, resp)
}

// List tenants handler
func (s *Server) handleListTenants(w http.ResponseWriter, r *http.Request) {
	records, err := s.engineManager.ListTenantRecords(r.Context())
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to list tenants", err)
		return
	}

	resp := TenantsListResponse{Tenants: make([]TenantResponse, 0, len(records))}
	for _, t := range records {
		resp.Tenants = append(resp.Tenants, s.tenantResponse(t))
	}
	respondJSON(w, http.StatusOK, resp)
}

func (s *Server) tenantResponse(t multitenantengine.Tenant) TenantResponse {
	resp := TenantResponse{
		ID:        t.ID,
		Name:      t.Name,
		CreatedAt: t.CreatedAt,
		UpdatedAt: t.UpdatedAt,
	}
	if te, err := s.engineManager.GetTenantEngine(t.ID); err == nil {
		resp.SchemaVersion = te.SchemaVersion
	}
	return resp
}

// Create tenant handler
func (s *Server) handleCreateTenant(w http.ResponseWriter, r *http.Request) {
	var req CreateTenantRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}

	if req.Name == "" {
		respondError(w, http.StatusBadRequest, "name is required", nil)
		return
	}

	tenant, err := s.engineManager.RegisterTenant(r.Context(), req.Name, req.Schema)
	if err != nil {
		respondError(w, statusFor(err), "failed to create tenant", err)
		return
	}

	respondJSON(w, http.StatusCreated, s.tenantResponse(*tenant))
}

// Get tenant handler
func (s *Server) handleGetTenant(w http.ResponseWriter, r *http.Request) {
	tenant, err := s.engineManager.GetTenant(r.Context(), chi.URLParam(r, "tenantId"))
	if err != nil {
		respondError(w, statusFor(err), "tenant not found", err)
		return
	}
	respondJSON(w, http.StatusOK, s.tenantResponse(*tenant))
}

// Delete tenant handler
func (s *Server) handleDeleteTenant(w http.ResponseWriter, r *http.Request) {
	if err := s.engineManager.RemoveTenant(r.Context(), chi.URLParam(r, "tenantId")); err != nil {
		respondError(w, statusFor(err), "failed to delete tenant", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Get schema handler
func (s *Server) handleGetSchema(w http.ResponseWriter, r *http.Request) {
	schema, version, err := s.engineManager.GetSchema(r.Context(), chi.URLParam(r, "tenantId"))
	if err != nil {
		respondError(w, statusFor(err), "failed to get schema", err)
		return
	}

	respondJSON(w, http.StatusOK, SchemaResponse{
		Version:    version,
		Status:     "active",
		Definition: schema,
	})
}

// Update schema handler
func (s *Server) handleUpdateSchema(w http.ResponseWriter, r *http.Request) {
	var req UpdateSchemaRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}

	te, err := s.engineManager.UpdateTenantSchema(r.Context(), chi.URLParam(r, "tenantId"), req.Definition)
	if err != nil {
		respondError(w, statusFor(err), "failed to update schema", err)
		return
	}

	respondJSON(w, http.StatusOK, SchemaResponse{
		Version:    te.SchemaVersion,
		Status:     "active",
		Definition: te.Schema,
	})
}

// List rule sets handler
func (s *Server) handleListRuleSets(w http.ResponseWriter, r *http.Request) {
	engine, err := s.engineManager.GetEngine(chi.URLParam(r, "tenantId"))
	if err != nil {
		respondError(w, statusFor(err), "tenant not found", err)
		return
	}

	ruleSets, err := engine.ListRuleSets(r.Context())
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to list rule sets", err)
		return
	}
	if ruleSets == nil {
		ruleSets = []*rules.RuleSet{}
	}
	respondJSON(w, http.StatusOK, RuleSetsListResponse{RuleSets: ruleSets})
}

// Create rule set handler
func (s *Server) handleCreateRuleSet(w http.ResponseWriter, r *http.Request) {
	var req RuleSetRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}

	if req.Name == "" {
		respondError(w, http.StatusBadRequest, "name is required", nil)
		return
	}

	rs := req.ruleSet(req.ID, true)
	if err := s.engineManager.AddRuleSet(r.Context(), chi.URLParam(r, "tenantId"), rs); err != nil {
		respondError(w, statusFor(err), "failed to add rule set", err)
		return
	}

	respondJSON(w, http.StatusCreated, rs)
}

// Get rule set handler
func (s *Server) handleGetRuleSet(w http.ResponseWriter, r *http.Request) {
	engine, err := s.engineManager.GetEngine(chi.URLParam(r, "tenantId"))
	if err != nil {
		respondError(w, statusFor(err), "tenant not found", err)
		return
	}

	rs, err := engine.GetRuleSet(r.Context(), chi.URLParam(r, "ruleSetId"))
	if err != nil {
		respondError(w, statusFor(err), "rule set not found", err)
		return
	}
	respondJSON(w, http.StatusOK, rs)
}

// Update rule set handler
func (s *Server) handleUpdateRuleSet(w http.ResponseWriter, r *http.Request) {
	var req RuleSetRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}

	rs := req.ruleSet(chi.URLParam(r, "ruleSetId"), true)
	if err := s.engineManager.UpdateRuleSet(r.Context(), chi.URLParam(r, "tenantId"), rs); err != nil {
		respondError(w, statusFor(err), "failed to update rule set", err)
		return
	}

	respondJSON(w, http.StatusOK, rs)
}

// Delete rule set handler
func (s *Server) handleDeleteRuleSet(w http.ResponseWriter, r *http.Request) {
	engine, err := s.engineManager.GetEngine(chi.URLParam(r, "tenantId"))
	if err != nil {
		respondError(w, statusFor(err), "tenant not found", err)
		return
	}

	if err := engine.DeleteRuleSet(r.Context(), chi.URLParam(r, "ruleSetId")); err != nil {
		respondError(w, statusFor(err), "failed to delete rule set", err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// statusFor maps domain errors to HTTP status codes
func statusFor(err error) int {
	switch {
	case errors.Is(err, multitenantengine.ErrTenantNotFound),
		errors.Is(err, multitenantengine.ErrSchemaNotFound),
		errors.Is(err, rules.ErrRuleSetNotFound):
		return http.StatusNotFound
	case errors.Is(err, multitenantengine.ErrTenantExists),
		errors.Is(err, rules.ErrRuleSetExists),
		errors.Is(err, rules.ErrRuleSetInactive):
		return http.StatusConflict
	case errors.Is(err, multitenantengine.ErrInvalidSchema),
		errors.Is(err, rules.ErrInvalidRuleSet):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

// Helper functions
func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		logger.Warn("failed to write response", "status", status, "error", err)
	}
}

func respondError(w http.ResponseWriter, status int, message string, err error) {
	response := ErrorResponse{Error: message}
	if err != nil {
		response.Details = err.Error()
	}

	if status >= 500 {
		logger.ErrorHttp5xx()
		logger.Error(message, "status", status, "error", err)
	} else {
		logger.WarnHttp4xx(status)
	}

	respondJSON(w, status, response)
}

func main() {
	configPath := flag.String("config", "", "path to a config file (yaml, json or toml)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Fatal("failed to load config", "error", err)
	}

	if err := logger.Configure(context.Background(), logger.Options{
		Level:       cfg.Log.Level,
		Format:      cfg.Log.Format,
		SampleRate:  cfg.Log.SampleRate,
		OTEL:        cfg.Log.OTEL,
		ServiceName: cfg.Log.ServiceName,
	}); err != nil {
		logger.Fatal("failed to configure logging", "error", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	server, err := NewServer(ctx, cfg)
	if err != nil {
		logger.Fatal("failed to create server", "error", err)
	}
	defer server.Close()

	httpServer := &http.Server{
		Addr:         ":" + strconv.Itoa(cfg.Server.Port),
		Handler:      server,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("server starting", "port", cfg.Server.Port)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down server")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		logger.Error("server stopped with error", "error", err)
	}

	logger.Info("server stopped")
	if err := logger.Shutdown(context.Background()); err != nil {
		fmt.Fprintf(os.Stderr, "failed to flush logs: %v\n", err)
	}
}

// Package api is the HTTP surface of the BeadHub server. Handlers
// stay thin: decode, authenticate, delegate to a domain store, encode.
// Every error reaches the client as a {"detail": ...} envelope.
package api

import (
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/jordanhubbard/beadhub/internal/audit"
	"github.com/jordanhubbard/beadhub/internal/auth"
	"github.com/jordanhubbard/beadhub/internal/beads"
	"github.com/jordanhubbard/beadhub/internal/claims"
	"github.com/jordanhubbard/beadhub/internal/database"
	"github.com/jordanhubbard/beadhub/internal/escalations"
	"github.com/jordanhubbard/beadhub/internal/events"
	"github.com/jordanhubbard/beadhub/internal/hooks"
	"github.com/jordanhubbard/beadhub/internal/httperr"
	"github.com/jordanhubbard/beadhub/internal/mail"
	"github.com/jordanhubbard/beadhub/internal/metrics"
	"github.com/jordanhubbard/beadhub/internal/outbox"
	"github.com/jordanhubbard/beadhub/internal/presence"
	"github.com/jordanhubbard/beadhub/internal/ratelimit"
	"github.com/jordanhubbard/beadhub/internal/registry"
	"github.com/jordanhubbard/beadhub/internal/status"
	"github.com/jordanhubbard/beadhub/internal/subscriptions"
	"github.com/jordanhubbard/beadhub/pkg/config"
)

// Server wires the domain stores behind the HTTP routes.
type Server struct {
	cfg  *config.Config
	db   *database.Database
	rdb  *redis.Client
	auth *auth.Resolver

	registry      *registry.Registry
	presence      *presence.Store
	claims        *claims.Coordinator
	sync          *beads.Engine
	outbox        *outbox.Outbox
	mailer        *mail.Mailer
	escalations   *escalations.Store
	subscriptions *subscriptions.Store
	status        *status.Aggregator
	bus           *events.Bus
	hook          *hooks.Hook
	trail         *audit.Trail

	initLimiter *ratelimit.PerIP
}

// NewServer assembles the API server from its collaborators.
func NewServer(cfg *config.Config, db *database.Database, rdb *redis.Client, bus *events.Bus) *Server {
	pres := presence.NewStore(rdb, cfg.PresenceTTL())
	reg := registry.NewRegistry(db, pres)
	mailer := mail.NewMailer(db, bus)

	return &Server{
		cfg:           cfg,
		db:            db,
		rdb:           rdb,
		auth:          auth.NewResolver(db, cfg.Auth.InternalAuthSecret, cfg.Auth.JWTSecret),
		registry:      reg,
		presence:      pres,
		claims:        claims.NewCoordinator(db),
		sync:          beads.NewEngine(db),
		outbox:        outbox.New(db, mailer, cfg.Outbox.MaxAttempts),
		mailer:        mailer,
		escalations:   escalations.NewStore(db, bus),
		subscriptions: subscriptions.NewStore(db),
		status:        status.NewAggregator(db, pres, cfg.StatusCacheTTL()),
		bus:           bus,
		hook:          hooks.New(bus, reg, pres),
		trail:         audit.NewTrail(db),
		initLimiter:   ratelimit.NewPerIP(cfg.Server.InitRatePerMinute),
	}
}

// Hook exposes the mutation hook for collaborators wired outside the
// HTTP layer.
func (s *Server) Hook() *hooks.Hook { return s.hook }

// Presence exposes the presence store so hot-reloaded settings (the
// presence TTL) can be applied without a restart.
func (s *Server) Presence() *presence.Store { return s.presence }

// SetupRoutes configures HTTP routes.
func (s *Server) SetupRoutes() http.Handler {
	mux := http.NewServeMux()

	// Bootstrap
	mux.HandleFunc("/v1/init", s.handleInit)

	// Workspaces
	mux.HandleFunc("/v1/workspaces", s.handleWorkspaces)
	mux.HandleFunc("/v1/workspaces/", s.handleWorkspaceByID)
	mux.HandleFunc("/v1/workspaces/register", s.handleRegister)
	mux.HandleFunc("/v1/workspaces/heartbeat", s.handleHeartbeat)
	mux.HandleFunc("/v1/workspaces/team", s.handleTeam)
	mux.HandleFunc("/v1/workspaces/online", s.handleOnline)
	mux.HandleFunc("/v1/workspaces/suggest-name-prefix", s.handleSuggestNamePrefix)

	// bdh coordination
	mux.HandleFunc("/v1/bdh/command", s.handleCommand)
	mux.HandleFunc("/v1/bdh/sync", s.handleSync)

	// Issues
	mux.HandleFunc("/v1/beads/upload", s.handleUpload)
	mux.HandleFunc("/v1/beads/upload-jsonl", s.handleUploadJSONL)
	mux.HandleFunc("/v1/beads/issues", s.handleIssues)
	mux.HandleFunc("/v1/beads/issues/", s.handleIssueByID)
	mux.HandleFunc("/v1/beads/ready", s.handleReady)

	// Claims
	mux.HandleFunc("/v1/claims", s.handleClaims)

	// Messages
	mux.HandleFunc("/v1/messages/", s.handleMessageByID)

	// Escalations and subscriptions
	mux.HandleFunc("/v1/escalations", s.handleEscalations)
	mux.HandleFunc("/v1/escalations/", s.handleEscalationByID)
	mux.HandleFunc("/v1/subscriptions", s.handleSubscriptions)
	mux.HandleFunc("/v1/subscriptions/", s.handleSubscriptionByID)

	// Status
	mux.HandleFunc("/v1/status", s.handleStatus)
	mux.HandleFunc("/v1/status/stream", s.handleStatusStream)
	mux.HandleFunc("/v1/events/ws", s.handleEventsWS)

	// Identity
	mux.HandleFunc("/v1/auth/dashboard-token", s.handleDashboardToken)
	mux.HandleFunc("/v1/agents/me", s.handleAgentsMe)

	// Operational
	mux.HandleFunc("/health", s.handleHealth)
	mux.Handle("/metrics", promhttp.Handler())

	handler := s.metricsMiddleware(mux)
	handler = s.recoveryMiddleware(handler)
	return handler
}

// statusRecorder captures the response code for request metrics.
type statusRecorder struct {
	http.ResponseWriter
	code int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.code = code
	r.ResponseWriter.WriteHeader(code)
}

// Flush passes through so SSE streaming keeps working behind the
// recorder.
func (r *statusRecorder) Flush() {
	if f, ok := r.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (s *Server) metricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, code: http.StatusOK}
		next.ServeHTTP(rec, r)
		metrics.NewMetrics().RecordHTTPRequest(r.Method, r.URL.Path, strconv.Itoa(rec.code), time.Since(start).Seconds())
	})
}

func (s *Server) recoveryMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				log.Printf("[API] panic serving %s %s: %v", r.Method, r.URL.Path, rec)
				s.respondError(w, fmt.Errorf("internal server error"))
			}
		}()
		next.ServeHTTP(w, r)
	})
}

// respondJSON writes a JSON body with the given status.
func (s *Server) respondJSON(w http.ResponseWriter, code int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if payload != nil {
		if err := json.NewEncoder(w).Encode(payload); err != nil {
			log.Printf("[API] response encode failed: %v", err)
		}
	}
}

// respondError maps err onto the {"detail": ...} envelope. Unexpected
// errors are logged server-side and surface as opaque 500s.
func (s *Server) respondError(w http.ResponseWriter, err error) {
	code, detail := httperr.StatusOf(err)
	if code == http.StatusInternalServerError {
		log.Printf("[API] internal error: %v", err)
	}
	s.respondJSON(w, code, map[string]string{"detail": detail})
}

// decodeBody parses a JSON request body into dst with a 1 MiB bound.
// Issue payloads go through the JSONL path and its larger limit.
func (s *Server) decodeBody(r *http.Request, dst interface{}) error {
	r.Body = http.MaxBytesReader(nil, r.Body, 1<<20)
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(dst); err != nil {
		return httperr.Validation("Invalid request body: %s", err.Error())
	}
	return nil
}

// identity authenticates the request or writes the 401 itself.
func (s *Server) identity(w http.ResponseWriter, r *http.Request) (*auth.Identity, bool) {
	id, err := s.auth.GetIdentity(r)
	if err != nil {
		s.respondError(w, err)
		return nil, false
	}
	return id, true
}

// requireMethod writes a 405 for mismatched methods.
func (s *Server) requireMethod(w http.ResponseWriter, r *http.Request, method string) bool {
	if r.Method != method {
		s.respondJSON(w, http.StatusMethodNotAllowed, map[string]string{"detail": "Method not allowed"})
		return false
	}
	return true
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if !s.requireMethod(w, r, http.MethodGet) {
		return
	}
	ctx := r.Context()
	if err := s.db.Ping(ctx); err != nil {
		s.respondJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unhealthy", "detail": "database unreachable"})
		return
	}
	if err := s.presence.Ping(ctx); err != nil {
		s.respondJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unhealthy", "detail": "redis unreachable"})
		return
	}
	body := map[string]string{"status": "ok"}
	// The JetStream mirror is optional, so a broken mirror degrades
	// the report without failing the check.
	if configured, err := s.bus.MirrorHealth(); configured {
		if err != nil {
			body["nats"] = "degraded"
		} else {
			body["nats"] = "ok"
		}
	}
	s.respondJSON(w, http.StatusOK, body)
}

// queryInt parses an optional integer query parameter; 0 when absent.
func queryInt(r *http.Request, name string) (int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, httperr.Validation("Invalid %s: must be an integer", name)
	}
	return n, nil
}

// queryBool parses an optional boolean query parameter.
func queryBool(r *http.Request, name string, def bool) bool {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return def
	}
	return v
}

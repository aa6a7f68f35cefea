package handlers

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"

	"modelgate/internal/gateway/auth"
	"modelgate/internal/gateway/catalog"
	"modelgate/internal/gateway/forward"
	"modelgate/internal/gateway/route"
	"modelgate/internal/shared/auditlog"
	"modelgate/internal/shared/config"
	"modelgate/internal/shared/metrics"
	"modelgate/internal/shared/models"
)

// ProxyStatusHeader marks every response with the gateway's own verdict so
// clients can tell gateway-origin failures from backend-origin ones.
const ProxyStatusHeader = "Proxy-Status"

const (
	StatusOK                = "ok"
	StatusValidKey          = "valid_api_key"
	StatusInvalidKey        = "invalid_api_key"
	StatusInvalidKeyFormat  = "invalid_api_key_format"
	StatusEmptyBody         = "empty_body"
	StatusNoBackends        = "no_backends_configured"
	StatusAllBackendsFailed = "all_backends_failed"
	StatusGatewayError      = "gateway_error"
)

// Key recorded on audit entries when no bearer token could be extracted.
const noAPIKey = "no_api_key"

// Gateway orchestrates a request end to end: authenticate, audit, resolve,
// forward, respond. Authentication happens inside the handlers rather than
// in middleware so that rejected and accepted requests share one audit path.
type Gateway struct {
	cfg      *config.Config
	auth     *auth.Authenticator
	catalog  *catalog.Catalog
	resolver *route.Resolver
	fwd      *forward.Forwarder
	audit    *auditlog.Store
}

func NewGateway(cfg *config.Config, a *auth.Authenticator, cat *catalog.Catalog, resolver *route.Resolver, fwd *forward.Forwarder, audit *auditlog.Store) *Gateway {
	return &Gateway{
		cfg:      cfg,
		auth:     a,
		catalog:  cat,
		resolver: resolver,
		fwd:      fwd,
		audit:    audit,
	}
}

// Router assembles the HTTP surface.
func (g *Gateway) Router() chi.Router {
	r := chi.NewRouter()
	r.Use(chimiddleware.Recoverer)
	r.Use(RequestID)
	r.Use(RequestLogger)

	r.Get("/", g.HandleRoot)
	r.Get("/ping", g.HandlePing)
	r.Handle("/metrics", promhttp.Handler())

	r.Get("/validate", g.HandleValidate)
	r.Post("/validate", g.HandleValidate)
	r.Get("/api_usage", g.HandleAPIUsage)
	r.Get("/service_log", g.HandleServiceLog)
	r.Get("/models", g.HandleModels)

	// Every other path is proxied to the backends, for the methods the
	// proxy supports.
	r.Get("/*", g.HandleProxy)
	r.Post("/*", g.HandleProxy)
	r.Put("/*", g.HandleProxy)
	r.Delete("/*", g.HandleProxy)

	return r
}

// HandleRoot handles GET / (no auth, liveness-style status line).
func (g *Gateway) HandleRoot(w http.ResponseWriter, r *http.Request) {
	respond(w, http.StatusOK, StatusOK, "modelgate is running")
}

// HandlePing handles GET /ping (no auth).
func (g *Gateway) HandlePing(w http.ResponseWriter, r *http.Request) {
	respond(w, http.StatusOK, StatusOK, "Pong")
}

// HandleValidate handles GET/POST /validate.
func (g *Gateway) HandleValidate(w http.ResponseWriter, r *http.Request) {
	username, key, ok := g.requireAuth(w, r, "validate", nil)
	if !ok {
		return
	}

	g.record(r, true, username, key, nil)
	metrics.Global().RequestsTotal.WithLabelValues("validate", "ok").Inc()
	respond(w, http.StatusOK, StatusValidKey, "API Key validation successful")
}

// HandleAPIUsage handles GET /api_usage: the audit records of valid
// requests, in persisted order.
func (g *Gateway) HandleAPIUsage(w http.ResponseWriter, r *http.Request) {
	username, key, ok := g.requireAuth(w, r, "api_usage", nil)
	if !ok {
		return
	}

	// Read before appending this request's own record, so the response
	// covers everything up to but not including this call.
	records, err := g.audit.ReadAccepted()
	if err != nil {
		g.record(r, true, username, key, nil)
		metrics.Global().RequestsTotal.WithLabelValues("api_usage", "error").Inc()
		log.Error().Err(err).Msg("failed to read audit log")
		respond(w, http.StatusInternalServerError, StatusGatewayError, "Failed to read usage data")
		return
	}
	if records == nil {
		records = []models.AuditRecord{}
	}

	g.record(r, true, username, key, nil)
	metrics.Global().RequestsTotal.WithLabelValues("api_usage", "ok").Inc()

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set(ProxyStatusHeader, StatusValidKey)
	json.NewEncoder(w).Encode(map[string]any{"data": records})
}

// HandleServiceLog handles GET /service_log: raw diagnostic log contents.
func (g *Gateway) HandleServiceLog(w http.ResponseWriter, r *http.Request) {
	username, key, ok := g.requireAuth(w, r, "service_log", nil)
	if !ok {
		return
	}

	contents, err := os.ReadFile(g.cfg.ServiceLogFile)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		g.record(r, true, username, key, nil)
		metrics.Global().RequestsTotal.WithLabelValues("service_log", "error").Inc()
		log.Error().Err(err).Msg("failed to read service log")
		respond(w, http.StatusInternalServerError, StatusGatewayError, "Failed to read service log")
		return
	}

	g.record(r, true, username, key, nil)
	metrics.Global().RequestsTotal.WithLabelValues("service_log", "ok").Inc()

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Header().Set(ProxyStatusHeader, StatusValidKey)
	w.Write(contents)
}

// HandleModels handles GET /models: backend name -> available model ids.
func (g *Gateway) HandleModels(w http.ResponseWriter, r *http.Request) {
	username, key, ok := g.requireAuth(w, r, "models", nil)
	if !ok {
		return
	}

	all := g.catalog.All(r.Context(), g.cfg.Backends)

	g.record(r, true, username, key, nil)
	metrics.Global().RequestsTotal.WithLabelValues("models", "ok").Inc()

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set(ProxyStatusHeader, StatusValidKey)
	json.NewEncoder(w).Encode(all)
}

// HandleProxy forwards any other path to the backend owning the requested
// model, failing over across the registry when ownership is unknown.
func (g *Gateway) HandleProxy(w http.ResponseWriter, r *http.Request) {
	m := metrics.Global()

	body, err := io.ReadAll(r.Body)
	if err != nil {
		m.RequestsTotal.WithLabelValues("proxy", "error").Inc()
		respond(w, http.StatusBadRequest, StatusGatewayError, "Failed to read request body")
		return
	}

	username, key, ok := g.requireAuth(w, r, "proxy", body)
	if !ok {
		return
	}

	g.record(r, true, username, key, body)

	if (r.Method == http.MethodPost || r.Method == http.MethodPut) && len(bytes.TrimSpace(body)) == 0 {
		m.RequestsTotal.WithLabelValues("proxy", "empty_body").Inc()
		respond(w, http.StatusBadRequest, StatusEmptyBody, "Request body required")
		return
	}

	candidates, err := g.resolver.Resolve(r.Context(), modelFrom(body))
	if err != nil {
		m.RequestsTotal.WithLabelValues("proxy", "no_backends").Inc()
		respond(w, http.StatusInternalServerError, StatusNoBackends, "No backends configured")
		return
	}

	result, err := g.fwd.Forward(r.Context(), r.Method, r.URL.Path, r.URL.RawQuery, r.Header, body, candidates)
	if err != nil {
		m.RequestsTotal.WithLabelValues("proxy", "all_backends_failed").Inc()
		respond(w, http.StatusInternalServerError, StatusAllBackendsFailed, "All backends failed")
		return
	}

	m.RequestsTotal.WithLabelValues("proxy", "forwarded").Inc()
	relay(w, result)
}

// requireAuth authenticates the request and, on failure, writes the audit
// record and the rejection response. Successful authentication writes
// nothing; the caller owns the accepted-path audit record.
func (g *Gateway) requireAuth(w http.ResponseWriter, r *http.Request, endpoint string, body []byte) (username, key string, ok bool) {
	raw := r.Header.Get("Authorization")
	key = auth.Token(raw)
	if key == "" {
		key = noAPIKey
	}

	username, err := g.auth.FromHeader(raw)
	switch {
	case errors.Is(err, auth.ErrMalformedCredential):
		g.record(r, false, "", key, body)
		metrics.Global().RequestsTotal.WithLabelValues(endpoint, "malformed_credential").Inc()
		respond(w, http.StatusBadRequest, StatusInvalidKeyFormat, "Invalid API Key format")
		return "", "", false
	case err != nil:
		g.record(r, false, "", key, body)
		metrics.Global().RequestsTotal.WithLabelValues(endpoint, "invalid_credential").Inc()
		respond(w, http.StatusUnauthorized, StatusInvalidKey, "Invalid API Key")
		return "", "", false
	}

	return username, key, true
}

// record appends one audit entry. Persist failures are diagnostic-logged
// and counted, never surfaced: a broken audit store must not block serving.
func (g *Gateway) record(r *http.Request, accepted bool, username, key string, body []byte) {
	rec := models.AuditRecord{
		ID:        requestIDFrom(r.Context()),
		Timestamp: time.Now().UTC(),
		Accepted:  accepted,
		Username:  username,
		Key:       key,
		Method:    r.Method,
		Endpoint:  r.URL.Path,
		Headers:   r.Header.Clone(),
		Body:      body,
	}
	if err := g.audit.Append(rec); err != nil {
		metrics.Global().AuditWriteFailures.Inc()
		log.Error().Err(err).Str("endpoint", rec.Endpoint).Msg("failed to persist audit record")
	}
}

func respond(w http.ResponseWriter, status int, marker, body string) {
	w.Header().Set(ProxyStatusHeader, marker)
	w.WriteHeader(status)
	if body != "" {
		w.Write([]byte(body))
	}
}

// relay writes an upstream response back to the caller verbatim, plus the
// gateway's own marker headers.
func relay(w http.ResponseWriter, result *forward.Result) {
	h := w.Header()
	for name, values := range result.Header {
		switch name {
		case "Connection", "Keep-Alive", "Transfer-Encoding", "Content-Length":
			continue
		}
		for _, v := range values {
			h.Add(name, v)
		}
	}
	h.Set(ProxyStatusHeader, StatusOK)
	h.Set("X-Backend", result.Backend)
	w.WriteHeader(result.StatusCode)
	w.Write(result.Body)
}

func modelFrom(body []byte) string {
	var payload struct {
		Model string `json:"model"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return ""
	}
	return payload.Model
}

package httpbridge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/elnormous/contenttype"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/DefikitTeam/claude-code-container-sub003/acp"
	"github.com/DefikitTeam/claude-code-container-sub003/agent"
	"github.com/DefikitTeam/claude-code-container-sub003/auth"
	"github.com/DefikitTeam/claude-code-container-sub003/broker"
	"github.com/DefikitTeam/claude-code-container-sub003/broker/memory"
	"github.com/DefikitTeam/claude-code-container-sub003/internal/jsonrpc"
	"github.com/DefikitTeam/claude-code-container-sub003/internal/logctx"
	"github.com/DefikitTeam/claude-code-container-sub003/internal/wellknown"
)

var _ http.Handler = (*Handler)(nil)

var (
	jsonMediaType         = contenttype.NewMediaType("application/json")
	eventStreamMediaType  = contenttype.NewMediaType("text/event-stream")
	eventStreamMediaTypes = []contenttype.MediaType{eventStreamMediaType}
)

const (
	// Canonical header names; Go matches headers case-insensitively.
	connectionIDHeader    = "Acp-Connection-Id"
	lastEventIDHeader     = "Last-Event-ID"
	authorizationHeader   = "Authorization"
	wwwAuthenticateHeader = "WWW-Authenticate"

	defaultConnectionTTL = 30 * time.Minute
	maxRequestBytes      = 4 << 20
)

// writeJSONError emits a minimal JSON body for HTTP-layer rejections before a
// JSON-RPC exchange is possible. We do NOT claim JSON-RPC framing here; this
// is transport-level. Shape: {"error":{"code":<httpStatus>,"message":"<reason>"}}
func writeJSONError(w http.ResponseWriter, status int, msg string) {
	if ct := w.Header().Get("Content-Type"); ct == "" || ct == jsonMediaType.String() {
		w.Header().Set("Content-Type", jsonMediaType.String())
	}
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]any{"error": map[string]any{"code": status, "message": msg}})
}

// Option configures the Handler.
type Option func(*newConfig)

type newConfig struct {
	serverName     string
	logger         *slog.Logger
	authenticator  auth.Authenticator
	securityConfig *auth.SecurityConfig
	realm          string
	broker         broker.Broker
	connTTL        time.Duration
}

// WithServerName sets a human-readable name surfaced in resource metadata.
func WithServerName(name string) Option {
	return func(c *newConfig) { c.serverName = name }
}

// WithLogger overrides the logger inherited from the agent.
func WithLogger(log *slog.Logger) Option {
	return func(c *newConfig) {
		if log != nil {
			c.logger = log
		}
	}
}

// WithAuthenticator requires bearer authentication on every route. Without an
// authenticator (and without WithSecurityConfig) the bridge is open, which is
// only sane for local development.
func WithAuthenticator(a auth.Authenticator) Option {
	return func(c *newConfig) { c.authenticator = a }
}

// WithSecurityConfig provides a unified security configuration for both
// advertisement and, when no authenticator is supplied, construction of a
// manual JWT authenticator from its JWKS URL.
func WithSecurityConfig(sc auth.SecurityConfig) Option {
	return func(c *newConfig) { cc := sc.Copy(); c.securityConfig = &cc }
}

// WithRealm sets the HTTP authentication realm advertised in WWW-Authenticate
// challenges. If empty (default), the realm attribute is omitted entirely per
// RFC 6750.
func WithRealm(realm string) Option {
	return func(c *newConfig) { c.realm = strings.TrimSpace(realm) }
}

// WithBroker sets the event stream broker. Defaults to the in-process memory
// broker; use the redis broker when connections must survive instance
// handoff.
func WithBroker(b broker.Broker) Option {
	return func(c *newConfig) {
		if b != nil {
			c.broker = b
		}
	}
}

// WithConnectionTTL sets how long an idle connection survives before the
// sweeper evicts it. Activity on any route restarts the clock.
func WithConnectionTTL(d time.Duration) Option {
	return func(c *newConfig) {
		if d > 0 {
			c.connTTL = d
		}
	}
}

// buildBearerChallenge builds a standardized Bearer challenge header value.
// Format:
//
//	Bearer realm="<realm>", error="...", error_description="..."
//
// Realm is omitted if empty. Since Go map iteration is randomized, the params
// we care about are emitted in explicit order.
func buildBearerChallenge(realm string, resourceMetadata string, params map[string]string) string {
	pieces := make([]string, 0, 1+len(params))
	esc := func(v string) string { return strings.NewReplacer(`\`, `\\`, `"`, `\"`).Replace(v) }
	if realm != "" {
		pieces = append(pieces, fmt.Sprintf(`realm="%s"`, esc(realm)))
	}
	if resourceMetadata != "" {
		pieces = append(pieces, fmt.Sprintf(`resource_metadata="%s"`, esc(resourceMetadata)))
	}
	if params != nil {
		if v, ok := params["error"]; ok {
			pieces = append(pieces, fmt.Sprintf(`error="%s"`, esc(v)))
		}
		if v, ok := params["error_description"]; ok {
			pieces = append(pieces, fmt.Sprintf(`error_description="%s"`, esc(v)))
		}
		if v, ok := params["scope"]; ok {
			pieces = append(pieces, fmt.Sprintf(`scope="%s"`, esc(v)))
		}
		for k, v := range params {
			if k == "error" || k == "error_description" || k == "scope" {
				continue
			}
			pieces = append(pieces, fmt.Sprintf(`%s="%s"`, k, esc(v)))
		}
	}
	if len(pieces) == 0 {
		return "Bearer"
	}
	return "Bearer " + strings.Join(pieces, ", ")
}

// pathIfSet returns the string form of u if non-nil, else empty.
func pathIfSet(u *url.URL) string {
	if u == nil {
		return ""
	}
	return u.String()
}

// pathOnly returns just the URL path or "/" if empty.
func pathOnly(u *url.URL) string {
	if u == nil || u.Path == "" {
		return "/"
	}
	return u.Path
}

// Handler bridges HTTP clients onto an agent. Each client connection owns one
// agent.Connection; outbound agent traffic is published to the broker under
// the connection id and drained by the client's event stream.
type Handler struct {
	mux   *http.ServeMux
	log   *slog.Logger
	agent *agent.Agent

	broker  broker.Broker
	authn   auth.Authenticator
	realm   string
	connTTL time.Duration

	endpointURL           *url.URL
	prmDocument           wellknown.ProtectedResourceMetadata
	prmDocumentURL        *url.URL
	authServerMetadata    wellknown.AuthServerMetadata
	authServerMetadataURL *url.URL
	advertise             bool

	mu    sync.Mutex
	conns map[string]*bridgeConn
}

// lockedWriteFlusher wraps an io.Writer + http.Flusher with a mutex and an
// optional context. It serializes concurrent writes/flushes and avoids
// writing after ctx is canceled.
type lockedWriteFlusher struct {
	io.Writer
	http.Flusher
	mu  sync.Mutex
	ctx context.Context
}

func (l *lockedWriteFlusher) Write(p []byte) (int, error) {
	if l.ctx != nil && l.ctx.Err() != nil {
		return 0, l.ctx.Err()
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	// Re-check after acquiring the lock to minimize races with cancellation.
	if l.ctx != nil && l.ctx.Err() != nil {
		return 0, l.ctx.Err()
	}
	return l.Writer.Write(p)
}

func (l *lockedWriteFlusher) Flush() {
	if l.ctx != nil && l.ctx.Err() != nil {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.ctx != nil && l.ctx.Err() != nil {
		return
	}
	l.Flusher.Flush()
}

// New constructs a Handler that serves the agent at publicEndpoint.
//
// Required:
//   - publicEndpoint: externally visible URL of the bridge endpoint (scheme, host, path)
//   - a: the agent to serve
//
// Authentication configuration resolution order:
//  1. Explicit WithSecurityConfig option (highest precedence)
//  2. authenticator implements auth.SecurityDescriptor (inferred)
//
// When a security config resolves but no authenticator was supplied, a manual
// JWT authenticator is built from the config's JWKS URL. With neither, the
// bridge runs open.
//
// The provided ctx bounds the background sweeper; cancel it to close every
// live connection.
func New(ctx context.Context, publicEndpoint string, a *agent.Agent, opts ...Option) (*Handler, error) {
	if a == nil {
		return nil, fmt.Errorf("agent is required")
	}
	endpointURL, err := url.Parse(publicEndpoint)
	if err != nil {
		return nil, fmt.Errorf("invalid endpoint URL %q: %w", publicEndpoint, err)
	}
	if endpointURL.Scheme != "https" && endpointURL.Scheme != "http" {
		return nil, fmt.Errorf("endpoint URL must use HTTP or HTTPS scheme, got %q", endpointURL.Scheme)
	}

	cfg := &newConfig{
		logger:  a.Logger(),
		broker:  memory.New(),
		connTTL: defaultConnectionTTL,
	}
	for _, opt := range opts {
		opt(cfg)
	}

	var resolved *auth.SecurityConfig
	if cfg.securityConfig != nil {
		cc := cfg.securityConfig.Copy()
		resolved = &cc
	}
	if resolved == nil && cfg.authenticator != nil {
		if sd, ok := cfg.authenticator.(auth.SecurityDescriptor); ok {
			cc := sd.SecurityConfig().Copy()
			resolved = &cc
		}
	}
	authn := cfg.authenticator
	if authn == nil && resolved != nil {
		sp, err := resolved.NewManualJWTAuthenticator(ctx)
		if err != nil {
			return nil, fmt.Errorf("build authenticator from security config: %w", err)
		}
		authn = sp
	}

	h := &Handler{
		log:         slog.New(logctx.Handler{Handler: cfg.logger.Handler()}),
		agent:       a,
		broker:      cfg.broker,
		authn:       authn,
		realm:       cfg.realm,
		connTTL:     cfg.connTTL,
		endpointURL: endpointURL,
		conns:       make(map[string]*bridgeConn),
	}

	if resolved != nil && resolved.Advertise {
		h.advertise = true
		issuer := resolved.Issuer
		jwks := resolved.JWKSURL
		var scopes []string
		var svcDoc, pol, tos string
		var authzEP, tokenEP, regEP string
		var respTypes, grantTypes, responseModes, codeChal, tokenAuthMethods, tokenAuthAlgs []string
		if resolved.OIDC != nil {
			scopes = resolved.OIDC.ScopesSupported
			svcDoc = resolved.OIDC.ServiceDocumentation
			pol = resolved.OIDC.OpPolicyURI
			tos = resolved.OIDC.OpTosURI
			authzEP = resolved.OIDC.AuthorizationEndpoint
			tokenEP = resolved.OIDC.TokenEndpoint
			regEP = resolved.OIDC.RegistrationEndpoint
			respTypes = resolved.OIDC.ResponseTypesSupported
			grantTypes = resolved.OIDC.GrantTypesSupported
			responseModes = resolved.OIDC.ResponseModesSupported
			codeChal = resolved.OIDC.CodeChallengeMethodsSupported
			tokenAuthMethods = resolved.OIDC.TokenEndpointAuthMethodsSupported
			tokenAuthAlgs = resolved.OIDC.TokenEndpointAuthSigningAlgValuesSupported
		}
		h.prmDocument = wellknown.ProtectedResourceMetadata{
			Resource:               endpointURL.String(),
			AuthorizationServers:   []string{issuer},
			JwksURI:                jwks,
			ScopesSupported:        scopes,
			BearerMethodsSupported: []string{"authorization_header"},
			ResourceName:           cfg.serverName,
			ResourceDocumentation:  svcDoc,
			ResourcePolicyURI:      pol,
			ResourceTosURI:         tos,
		}
		h.authServerMetadata = wellknown.AuthServerMetadata{
			Issuer:                            issuer,
			AuthorizationEndpoint:             authzEP,
			TokenEndpoint:                     tokenEP,
			RegistrationEndpoint:              regEP,
			JwksURI:                           jwks,
			ScopesSupported:                   scopes,
			ResponseTypesSupported:            respTypes,
			GrantTypesSupported:               grantTypes,
			ResponseModesSupported:            responseModes,
			CodeChallengeMethodsSupported:     codeChal,
			TokenEndpointAuthMethodsSupported: tokenAuthMethods,
			TokenEndpointAuthSigningAlgValuesSupported: tokenAuthAlgs,
			ServiceDocumentation:                       svcDoc,
			OpPolicyURI:                                pol,
			OpTosURI:                                   tos,
		}
	}

	h.prmDocumentURL = &url.URL{Scheme: endpointURL.Scheme, Host: endpointURL.Host, Path: "/.well-known/oauth-protected-resource" + endpointURL.Path}
	h.authServerMetadataURL = &url.URL{Scheme: endpointURL.Scheme, Host: endpointURL.Host, Path: "/.well-known/oauth-authorization-server"}

	mux := http.NewServeMux()
	endpointPath := pathOnly(endpointURL)
	mux.HandleFunc(fmt.Sprintf("POST %s", endpointPath), h.handleRPC)
	mux.HandleFunc(fmt.Sprintf("GET %s", endpointPath), h.handleEvents)
	mux.HandleFunc(fmt.Sprintf("DELETE %s", endpointPath), h.handleDisconnect)
	mux.HandleFunc("GET /healthz", h.handleHealthz)
	if reg := a.MetricsRegistry(); reg != nil {
		mux.Handle("GET /metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	}
	if h.advertise {
		prmPath := strings.TrimSuffix(pathOnly(h.prmDocumentURL), "/")
		mux.HandleFunc(fmt.Sprintf("GET %s", prmPath), h.handleGetProtectedResourceMetadata)
		mux.HandleFunc(fmt.Sprintf("OPTIONS %s", prmPath), h.handleOptionsMetadata)
		mux.HandleFunc(fmt.Sprintf("GET %s/", prmPath), h.handleGetProtectedResourceMetadata)
		mux.HandleFunc(fmt.Sprintf("OPTIONS %s/", prmPath), h.handleOptionsMetadata)
		asPath := pathOnly(h.authServerMetadataURL)
		mux.HandleFunc(fmt.Sprintf("GET %s", asPath), h.handleGetAuthServerMetadata)
		mux.HandleFunc(fmt.Sprintf("OPTIONS %s", asPath), h.handleOptionsMetadata)
		mux.HandleFunc(fmt.Sprintf("GET %s/", asPath), h.handleGetAuthServerMetadata)
		mux.HandleFunc(fmt.Sprintf("OPTIONS %s/", asPath), h.handleOptionsMetadata)
	}
	h.mux = mux

	if ctx == nil {
		ctx = context.Background()
	}
	go h.sweep(ctx)

	return h, nil
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mux.ServeHTTP(w, r.WithContext(logctx.WithHTTPData(r.Context(), &logctx.HTTPData{
		RequestID:  uuid.NewString(),
		Method:     r.Method,
		Path:       r.URL.Path,
		RemoteAddr: r.RemoteAddr,
	})))
}

// ConnectionCount reports the number of live bridge connections.
func (h *Handler) ConnectionCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.conns)
}

// handleRPC accepts one JSON-RPC message per POST. A request without an
// Acp-Connection-Id header must be an initialize request and opens a new
// connection; everything else addresses an existing one.
func (h *Handler) handleRPC(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	ctx := r.Context()
	h.log.InfoContext(ctx, "http.post.start")

	ctype, err := contenttype.GetMediaType(r)
	if err != nil || !ctype.Matches(jsonMediaType) {
		writeJSONError(w, http.StatusUnsupportedMediaType, "content-type must be application/json")
		h.log.WarnContext(ctx, "content_type.unsupported")
		return
	}

	userID, ok := h.checkAuthentication(ctx, r, w)
	if !ok {
		h.log.InfoContext(ctx, "auth.fail")
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBytes)
	var raw json.RawMessage
	if err := json.NewDecoder(r.Body).Decode(&raw); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid JSON body")
		h.log.WarnContext(ctx, "json.decode.fail", slog.String("err", err.Error()))
		return
	}
	if len(raw) > 0 && raw[0] == '[' {
		writeJSONError(w, http.StatusBadRequest, "JSON-RPC batch arrays are not supported")
		h.log.WarnContext(ctx, "jsonrpc.batch.forbidden")
		return
	}

	connID := r.Header.Get(connectionIDHeader)
	if connID == "" {
		h.openConnection(ctx, w, raw, userID, start)
		return
	}

	bc := h.lookupConn(connID, userID)
	if bc == nil {
		writeJSONError(w, http.StatusNotFound, "unknown connection")
		h.log.InfoContext(ctx, "conn.lookup.miss")
		return
	}
	bc.touch()

	out := bc.conn.HandleMessage(ctx, raw)
	if out == nil {
		w.WriteHeader(http.StatusAccepted)
		h.log.InfoContext(ctx, "http.post.ok", slog.Duration("dur", time.Since(start)))
		return
	}
	w.Header().Set("Content-Type", jsonMediaType.String())
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(out); err != nil {
		h.log.ErrorContext(ctx, "http.post.write.fail", slog.String("err", err.Error()))
		return
	}
	h.log.InfoContext(ctx, "http.post.ok", slog.Duration("dur", time.Since(start)))
}

// openConnection binds a fresh agent connection for an initialize request.
func (h *Handler) openConnection(ctx context.Context, w http.ResponseWriter, raw []byte, userID string, start time.Time) {
	var msg jsonrpc.AnyMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid JSON-RPC message: "+err.Error())
		h.log.WarnContext(ctx, "jsonrpc.message.invalid", slog.String("err", err.Error()))
		return
	}
	req := msg.AsRequest()
	if req == nil || req.Method != string(acp.InitializeMethod) {
		writeJSONError(w, http.StatusNotFound, "expected initialize request")
		h.log.InfoContext(ctx, "conn.open.invalid")
		return
	}

	id := uuid.NewString()
	bc := &bridgeConn{
		id:     id,
		userID: userID,
		conn:   h.agent.Connect(&brokerSender{brk: h.broker, channel: id}),
	}
	bc.touch()

	h.mu.Lock()
	h.conns[id] = bc
	h.mu.Unlock()

	out := bc.conn.HandleMessage(ctx, raw)

	w.Header().Set(connectionIDHeader, id)
	if out == nil {
		w.WriteHeader(http.StatusAccepted)
	} else {
		w.Header().Set("Content-Type", jsonMediaType.String())
		w.WriteHeader(http.StatusOK)
		if _, err := w.Write(out); err != nil {
			h.log.ErrorContext(ctx, "http.post.write.fail", slog.String("err", err.Error()))
			return
		}
	}
	h.log.InfoContext(ctx, "conn.open.ok", slog.String("conn_id", id), slog.Duration("dur", time.Since(start)))
}

// handleEvents streams broker envelopes for one connection as SSE.
func (h *Handler) handleEvents(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	ctx := r.Context()

	if _, _, err := contenttype.GetAcceptableMediaType(r, eventStreamMediaTypes); err != nil {
		w.WriteHeader(http.StatusUnsupportedMediaType)
		h.log.WarnContext(ctx, "http.get.unsupported_media_type")
		return
	}

	f, ok := w.(http.Flusher)
	if !ok {
		w.WriteHeader(http.StatusInternalServerError)
		h.log.ErrorContext(ctx, "sse.flusher.missing")
		return
	}
	wf := &lockedWriteFlusher{Writer: w, Flusher: f, ctx: ctx}

	userID, ok := h.checkAuthentication(ctx, r, w)
	if !ok {
		h.log.InfoContext(ctx, "auth.fail")
		return
	}

	connID := r.Header.Get(connectionIDHeader)
	if connID == "" {
		writeJSONError(w, http.StatusBadRequest, "missing Acp-Connection-Id header")
		h.log.WarnContext(ctx, "conn.id.missing")
		return
	}
	bc := h.lookupConn(connID, userID)
	if bc == nil {
		writeJSONError(w, http.StatusNotFound, "unknown connection")
		h.log.InfoContext(ctx, "conn.lookup.miss")
		return
	}

	// Subscribe before committing to SSE so a broker failure still gets a
	// clean status code.
	stream, err := h.broker.Subscribe(ctx, bc.id, r.Header.Get(lastEventIDHeader))
	if err != nil {
		writeJSONError(w, http.StatusInternalServerError, "event stream unavailable")
		h.log.ErrorContext(ctx, "broker.subscribe.fail", slog.String("err", err.Error()))
		return
	}
	defer stream.Close()

	w.Header().Set("Content-Type", eventStreamMediaType.String())
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	wf.Flush()

	h.log.InfoContext(ctx, "sse.stream.start", slog.String("conn_id", bc.id))

	for {
		env, err := stream.Next(ctx)
		if err != nil {
			switch {
			case errors.Is(err, io.EOF):
				h.log.InfoContext(ctx, "sse.stream.end", slog.Duration("dur", time.Since(start)))
			case errors.Is(err, context.Canceled):
				h.log.InfoContext(ctx, "sse.stream.done", slog.Duration("dur", time.Since(start)))
			default:
				h.log.ErrorContext(ctx, "sse.stream.fail", slog.String("err", err.Error()))
			}
			return
		}
		if err := writeSSEEvent(wf, env.ID, env.Data); err != nil {
			h.log.ErrorContext(ctx, "sse.write.fail", slog.String("err", err.Error()))
			return
		}
		bc.touch()
		h.log.DebugContext(ctx, "sse.message.deliver", slog.String("event_id", env.ID))
	}
}

// handleDisconnect tears down a connection: pending agent calls fail, the
// broker channel is dropped, and the id stops resolving.
func (h *Handler) handleDisconnect(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	ctx := r.Context()
	h.log.InfoContext(ctx, "http.delete.start")

	userID, ok := h.checkAuthentication(ctx, r, w)
	if !ok {
		h.log.InfoContext(ctx, "auth.fail")
		return
	}

	connID := r.Header.Get(connectionIDHeader)
	if connID == "" {
		writeJSONError(w, http.StatusBadRequest, "missing Acp-Connection-Id header")
		h.log.WarnContext(ctx, "conn.id.missing")
		return
	}
	bc := h.lookupConn(connID, userID)
	if bc == nil {
		writeJSONError(w, http.StatusNotFound, "unknown connection")
		h.log.InfoContext(ctx, "conn.lookup.miss")
		return
	}

	h.removeConn(ctx, bc, nil)
	w.WriteHeader(http.StatusNoContent)
	h.log.InfoContext(ctx, "http.delete.ok", slog.Duration("dur", time.Since(start)))
}

func (h *Handler) handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", jsonMediaType.String())
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"status":      "ok",
		"connections": h.ConnectionCount(),
	})
}

func (h *Handler) handleGetProtectedResourceMetadata(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Vary", "Origin")
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(h.prmDocument); err != nil {
		http.Error(w, fmt.Sprintf("failed to encode protected resource metadata: %v", err), http.StatusInternalServerError)
	}
}

// handleGetAuthServerMetadata mirrors the upstream authorization server
// metadata (RFC 8414) for client bootstrapping. It does not imply this
// process acts as an authorization server.
func (h *Handler) handleGetAuthServerMetadata(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Vary", "Origin")
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(h.authServerMetadata); err != nil {
		http.Error(w, fmt.Sprintf("failed to encode authorization server metadata: %v", err), http.StatusInternalServerError)
	}
}

func (h *Handler) handleOptionsMetadata(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")
	w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Accept, Authorization")
	w.Header().Set("Access-Control-Max-Age", "600")
	w.WriteHeader(http.StatusNoContent)
}

// checkAuthentication resolves the caller's identity. With no authenticator
// the bridge is open and every caller maps to the empty user. A false return
// means the response has been written.
func (h *Handler) checkAuthentication(ctx context.Context, r *http.Request, w http.ResponseWriter) (string, bool) {
	if h.authn == nil {
		return "", true
	}

	authHeader := r.Header.Get(authorizationHeader)
	if authHeader == "" {
		// RFC 6750 section 3.1: a request with no authentication information
		// gets a bare challenge without an error code.
		h.log.InfoContext(ctx, "auth.check.missing")
		w.Header().Add(wwwAuthenticateHeader, buildBearerChallenge(h.realm, pathIfSet(h.prmDocumentURL), nil))
		w.WriteHeader(http.StatusUnauthorized)
		return "", false
	}

	const bearerPrefix = "Bearer "
	if !strings.HasPrefix(authHeader, bearerPrefix) || len(authHeader) <= len(bearerPrefix) {
		h.log.InfoContext(ctx, "auth.check.invalid", slog.String("err", "malformed bearer authorization header"))
		w.Header().Add(wwwAuthenticateHeader, buildBearerChallenge(h.realm, pathIfSet(h.prmDocumentURL), map[string]string{"error": "invalid_request", "error_description": "malformed bearer authorization header"}))
		w.WriteHeader(http.StatusBadRequest)
		return "", false
	}
	tok := strings.TrimSpace(authHeader[len(bearerPrefix):])
	if tok == "" {
		h.log.InfoContext(ctx, "auth.check.invalid", slog.String("err", "empty bearer token"))
		w.Header().Add(wwwAuthenticateHeader, buildBearerChallenge(h.realm, pathIfSet(h.prmDocumentURL), map[string]string{"error": "invalid_request", "error_description": "empty bearer token"}))
		w.WriteHeader(http.StatusBadRequest)
		return "", false
	}

	userInfo, err := h.authn.CheckAuthentication(ctx, tok)
	if err != nil {
		if errors.Is(err, auth.ErrUnauthorized) {
			h.log.InfoContext(ctx, "auth.check.fail", slog.String("err", err.Error()))
			w.Header().Add(wwwAuthenticateHeader, buildBearerChallenge(h.realm, pathIfSet(h.prmDocumentURL), map[string]string{"error": "invalid_token", "error_description": err.Error()}))
			w.WriteHeader(http.StatusUnauthorized)
			return "", false
		}
		if errors.Is(err, auth.ErrInsufficientScope) {
			h.log.InfoContext(ctx, "auth.check.fail", slog.String("err", err.Error()))
			w.Header().Add(wwwAuthenticateHeader, buildBearerChallenge(h.realm, pathIfSet(h.prmDocumentURL), map[string]string{"error": "insufficient_scope", "error_description": err.Error()}))
			w.WriteHeader(http.StatusForbidden)
			return "", false
		}
		h.log.ErrorContext(ctx, "auth.check.err", slog.String("err", err.Error()))
		w.WriteHeader(http.StatusInternalServerError)
		return "", false
	}

	return userInfo.UserID(), true
}

// writeSSEEvent writes one Server-Sent Event frame and flushes it.
func writeSSEEvent(wf *lockedWriteFlusher, msgID string, payload []byte) error {
	if msgID != "" {
		if _, err := fmt.Fprintf(wf, "id: %s\n", msgID); err != nil {
			return fmt.Errorf("failed to write SSE event ID: %w", err)
		}
	}
	if _, err := wf.Write([]byte("data: ")); err != nil {
		return fmt.Errorf("failed to write SSE data prefix: %w", err)
	}
	if _, err := wf.Write(payload); err != nil {
		return fmt.Errorf("failed to write SSE payload: %w", err)
	}
	if _, err := wf.Write([]byte("\n\n")); err != nil {
		return fmt.Errorf("failed to write SSE frame terminator: %w", err)
	}
	wf.Flush()
	return nil
}

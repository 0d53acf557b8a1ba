package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	jose "github.com/go-jose/go-jose/v4"
	jwt "github.com/golang-jwt/jwt/v4"
)

var (
	// ErrJWKSKeyNotFound is returned when the requested key ID is absent from the JWKS document.
	ErrJWKSKeyNotFound = errors.New("auth: jwks key not found")
	// ErrJWKSFetchFailed wraps transport or decoding errors while refreshing JWKS.
	ErrJWKSFetchFailed = errors.New("auth: jwks fetch failed")
)

const (
	defaultJWKSValidity   = 15 * time.Minute
	minJWKSRefreshBackoff = 30 * time.Second
)

// GoogleKeySet caches the signing keys of Google-issued OIDC tokens. Keys are refetched
// when the Cache-Control max-age elapses or an unknown key id shows up.
type GoogleKeySet struct {
	url    string
	client *http.Client
	now    func() time.Time

	mu        sync.Mutex
	keys      map[string]jose.JSONWebKey
	expiry    time.Time
	lastFetch time.Time
}

// NewGoogleKeySet constructs a key set for url. client may be nil.
func NewGoogleKeySet(url string, client *http.Client, now func() time.Time) *GoogleKeySet {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	if now == nil {
		now = time.Now
	}
	return &GoogleKeySet{url: strings.TrimSpace(url), client: client, now: now}
}

// Key returns the public key for kid.
func (s *GoogleKeySet) Key(ctx context.Context, kid string) (any, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	jwk, ok := s.keys[kid]
	stale := now.After(s.expiry)
	if !ok || stale {
		if stale || now.Sub(s.lastFetch) >= minJWKSRefreshBackoff {
			if err := s.refreshLocked(ctx); err != nil {
				if ok {
					return jwk.Key, nil
				}
				return nil, err
			}
			jwk, ok = s.keys[kid]
		}
	}
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrJWKSKeyNotFound, kid)
	}
	return jwk.Key, nil
}

func (s *GoogleKeySet) refreshLocked(ctx context.Context) error {
	s.lastFetch = s.now()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.url, nil)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrJWKSFetchFailed, err)
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrJWKSFetchFailed, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: unexpected status %d", ErrJWKSFetchFailed, resp.StatusCode)
	}

	var set jose.JSONWebKeySet
	if err := json.NewDecoder(resp.Body).Decode(&set); err != nil {
		return fmt.Errorf("%w: decode jwks: %v", ErrJWKSFetchFailed, err)
	}
	keys := make(map[string]jose.JSONWebKey, len(set.Keys))
	for _, jwk := range set.Keys {
		if jwk.KeyID != "" && jwk.Valid() {
			keys[jwk.KeyID] = jwk
		}
	}
	if len(keys) == 0 {
		return fmt.Errorf("%w: empty key set", ErrJWKSFetchFailed)
	}

	validity := maxAge(resp.Header.Get("Cache-Control"))
	if validity <= 0 {
		validity = defaultJWKSValidity
	}
	s.keys = keys
	s.expiry = s.now().Add(validity)
	return nil
}

func maxAge(header string) time.Duration {
	for _, part := range strings.Split(header, ",") {
		part = strings.ToLower(strings.TrimSpace(part))
		if !strings.HasPrefix(part, "max-age=") {
			continue
		}
		seconds, err := strconv.Atoi(strings.TrimPrefix(part, "max-age="))
		if err == nil && seconds > 0 {
			return time.Duration(seconds) * time.Second
		}
	}
	return 0
}

// ServiceIdentity is the verified caller of an internal endpoint.
type ServiceIdentity struct {
	Subject string
	Email   string
	Issuer  string
}

type serviceIdentityContextKey struct{}

// WithServiceIdentity attaches the verified service identity to the request context.
func WithServiceIdentity(ctx context.Context, identity *ServiceIdentity) context.Context {
	if identity == nil {
		return ctx
	}
	return context.WithValue(ctx, serviceIdentityContextKey{}, identity)
}

// ServiceIdentityFromContext retrieves the identity stored by the middleware.
func ServiceIdentityFromContext(ctx context.Context) (*ServiceIdentity, bool) {
	identity, ok := ctx.Value(serviceIdentityContextKey{}).(*ServiceIdentity)
	if !ok || identity == nil {
		return nil, false
	}
	return identity, true
}

// SchedulerAuthConfig configures SchedulerAuth.
type SchedulerAuthConfig struct {
	Audience string
	Issuers  []string
	// Invokers limits accepted service account emails; empty accepts any.
	Invokers []string
	Now      func() time.Time
	Logger   func(ctx context.Context, event string, fields map[string]any)
	// Record receives the outcome of every verification.
	Record func(ctx context.Context, success bool, reason string)
}

// SchedulerAuth guards internal endpoints called by Cloud Scheduler with OIDC tokens.
type SchedulerAuth struct {
	keys     *GoogleKeySet
	audience string
	issuers  map[string]struct{}
	invokers map[string]struct{}
	now      func() time.Time
	logger   func(context.Context, string, map[string]any)
	record   func(context.Context, bool, string)
}

// NewSchedulerAuth constructs the middleware factory.
func NewSchedulerAuth(keys *GoogleKeySet, cfg SchedulerAuthConfig) *SchedulerAuth {
	a := &SchedulerAuth{
		keys:     keys,
		audience: strings.TrimSpace(cfg.Audience),
		issuers:  toSet(cfg.Issuers),
		invokers: toSet(cfg.Invokers),
		now:      cfg.Now,
		logger:   cfg.Logger,
		record:   cfg.Record,
	}
	if a.now == nil {
		a.now = time.Now
	}
	if a.logger == nil {
		a.logger = func(context.Context, string, map[string]any) {}
	}
	if a.record == nil {
		a.record = func(context.Context, bool, string) {}
	}
	return a
}

// Require rejects requests without a valid Google-signed bearer token.
func (a *SchedulerAuth) Require() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			identity, status, reason := a.verify(ctx, r.Header.Get("Authorization"))
			if identity == nil {
				a.record(ctx, false, reason)
				a.logger(ctx, "auth.oidc.rejected", map[string]any{"reason": reason, "path": r.URL.Path})
				code := "invalid_token"
				if status == http.StatusServiceUnavailable {
					code = "verification_unavailable"
				} else if reason == "token_missing" {
					code = "unauthenticated"
				}
				respondAuthError(w, status, code, "oidc verification failed: "+reason)
				return
			}
			a.record(ctx, true, "ok")
			next.ServeHTTP(w, r.WithContext(WithServiceIdentity(ctx, identity)))
		})
	}
}

func (a *SchedulerAuth) verify(ctx context.Context, header string) (*ServiceIdentity, int, string) {
	if a == nil || a.keys == nil || a.audience == "" {
		return nil, http.StatusServiceUnavailable, "not_configured"
	}
	tokenStr, ok := extractBearerToken(header)
	if !ok {
		return nil, http.StatusUnauthorized, "token_missing"
	}

	claims := jwt.MapClaims{}
	parser := jwt.NewParser(jwt.WithValidMethods([]string{jwt.SigningMethodRS256.Alg()}))
	_, err := parser.ParseWithClaims(tokenStr, claims, func(token *jwt.Token) (any, error) {
		kid, _ := token.Header["kid"].(string)
		if kid == "" {
			return nil, errors.New("token missing kid")
		}
		return a.keys.Key(ctx, kid)
	})
	if err != nil {
		if errors.Is(err, ErrJWKSFetchFailed) {
			return nil, http.StatusServiceUnavailable, "jwks_unavailable"
		}
		return nil, http.StatusUnauthorized, "token_invalid"
	}

	if !claims.VerifyAudience(a.audience, true) {
		return nil, http.StatusUnauthorized, "audience_mismatch"
	}
	issuer, _ := claims["iss"].(string)
	if len(a.issuers) > 0 {
		if _, ok := a.issuers[strings.ToLower(issuer)]; !ok {
			return nil, http.StatusUnauthorized, "issuer_mismatch"
		}
	}
	email, _ := claims["email"].(string)
	if len(a.invokers) > 0 {
		if _, ok := a.invokers[strings.ToLower(email)]; !ok {
			return nil, http.StatusForbidden, "invoker_not_allowed"
		}
	}
	subject, _ := claims["sub"].(string)
	return &ServiceIdentity{Subject: subject, Email: email, Issuer: issuer}, http.StatusOK, ""
}

func toSet(values []string) map[string]struct{} {
	out := make(map[string]struct{}, len(values))
	for _, v := range values {
		v = strings.ToLower(strings.TrimSpace(v))
		if v != "" {
			out[v] = struct{}{}
		}
	}
	return out
}

package dalil

import (
	"encoding/json"
	"fmt"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/aryangodara/dalil/metrics"
)

var (
	_ http.Handler = &httpRateLimiterHandler{}
	_ Extractor    = &httpHeaderExtractor{}
	_ Extractor    = &clientIPExtractor{}
	_ Extractor    = &actionExtractor{}
)

const (
	rateLimitLimit     = "X-RateLimit-Limit"
	rateLimitRemaining = "X-RateLimit-Remaining"
	rateLimitReset     = "X-RateLimit-Reset"
	rateLimitingState  = "Rate-Limiting-State"
	retryAfter         = "Retry-After"
)

// UnknownClient is the identifier used when a request carries no forwarding headers.
// Every such caller shares one bucket.
const UnknownClient = "unknown"

// Extractor extracts a key from an HTTP request for rate limiting.
type Extractor interface {
	Extract(r *http.Request) (string, error)
}

type httpHeaderExtractor struct {
	headers []string
}

// Extract extracts values from HTTP headers to build the key.
func (h *httpHeaderExtractor) Extract(r *http.Request) (string, error) {
	values := make([]string, 0, len(h.headers))

	for _, key := range h.headers {
		// if we can't find a value for a header we should return an error
		if value := strings.TrimSpace(r.Header.Get(key)); value != "" {
			values = append(values, value)
		} else {
			return "", fmt.Errorf("header %v must have a value set", key)
		}
	}

	return strings.Join(values, "-"), nil
}

// NewHttpHeaderExtractor creates a new Extractor.
func NewHttpHeaderExtractor(headers ...string) Extractor {
	return &httpHeaderExtractor{headers: headers}
}

type clientIPExtractor struct{}

// Extract returns the first X-Forwarded-For hop, then X-Real-IP, then UnknownClient.
func (c *clientIPExtractor) Extract(r *http.Request) (string, error) {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		if first := strings.TrimSpace(strings.Split(xff, ",")[0]); first != "" {
			return first, nil
		}
	}

	if xri := strings.TrimSpace(r.Header.Get("X-Real-IP")); xri != "" {
		return xri, nil
	}

	return UnknownClient, nil
}

// NewClientIPExtractor creates an Extractor keyed on the forwarded client address.
func NewClientIPExtractor() Extractor {
	return &clientIPExtractor{}
}

type actionExtractor struct {
	action string
	inner  Extractor
}

// Extract prefixes the inner key with the action, e.g. "create_listing-42".
func (a *actionExtractor) Extract(r *http.Request) (string, error) {
	key, err := a.inner.Extract(r)
	if err != nil {
		return "", err
	}
	return a.action + "-" + key, nil
}

// NewActionExtractor scopes another extractor's keys to a single action.
func NewActionExtractor(action string, inner Extractor) Extractor {
	return &actionExtractor{action: action, inner: inner}
}

// Policy is a named limit applied to every key an Extractor produces.
type Policy struct {
	Name          string
	Limit         int64
	Window        time.Duration
	BlockDuration time.Duration
}

// RateLimiterConfig holds configuration for rate limiting.
type RateLimiterConfig struct {
	Extractor Extractor
	Strategy  Strategy
	Policy    Policy
	Logger    *zap.Logger
	Metrics   *metrics.Metrics
}

type httpRateLimiterHandler struct {
	handler http.Handler
	config  *RateLimiterConfig
	logger  *zap.Logger
}

// NewHTTPRateLimiterHandler wraps an existing http.Handler and performs rate limiting before forwarding the
// request to the API
func NewHTTPRateLimiterHandler(originalHandler http.Handler, config *RateLimiterConfig) http.Handler {
	logger := config.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &httpRateLimiterHandler{
		handler: originalHandler,
		config:  config,
		logger:  logger.With(zap.String("policy", config.Policy.Name)),
	}
}

// RateLimit returns the limiter as router middleware.
func RateLimit(config *RateLimiterConfig) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return NewHTTPRateLimiterHandler(next, config)
	}
}

// ServeHTTP performs rate limiting and forwards the request if allowed.
func (h *httpRateLimiterHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	key, err := h.config.Extractor.Extract(r)
	if err != nil {
		h.writeResponse(w, http.StatusBadRequest, fmt.Sprintf("failed to extract rate limiting key from request: %v", err))
		return
	}

	result, err := h.config.Strategy.Execute(r.Context(), &Request{
		Key:           key,
		Limit:         h.config.Policy.Limit,
		Duration:      h.config.Policy.Window,
		BlockDuration: h.config.Policy.BlockDuration,
	})
	if err != nil {
		// counters are unavailable; let the request through rather than take the site down
		h.logger.Error("rate_limit_check_failed", zap.String("key", key), zap.Error(err))
		h.handler.ServeHTTP(w, r)
		return
	}

	h.config.Metrics.ObserveRateLimitDecision(h.config.Policy.Name, result.State.String())

	w.Header().Set(rateLimitLimit, strconv.FormatInt(h.config.Policy.Limit, 10))
	w.Header().Set(rateLimitRemaining, strconv.FormatInt(max(result.Remaining, 0), 10))
	w.Header().Set(rateLimitReset, strconv.FormatInt(result.ExpiresAt.Unix(), 10))
	w.Header().Set(rateLimitingState, result.State.String())

	// Too many requests
	if !result.Allowed() {
		w.Header().Set(retryAfter, strconv.FormatInt(retryAfterSeconds(result.ExpiresAt), 10))
		h.logger.Warn("rate_limit_exceeded",
			zap.String("key", key),
			zap.Int64("total_requests", result.TotalRequests),
			zap.Time("expires_at", result.ExpiresAt),
		)
		h.writeResponse(w, http.StatusTooManyRequests, "you have sent too many requests to this service, slow down please")
		return
	}

	h.handler.ServeHTTP(w, r)
}

func (h *httpRateLimiterHandler) writeResponse(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(map[string]string{"error": msg}); err != nil {
		h.logger.Error("failed to write body to HTTP response", zap.Error(err))
	}
}

// retryAfterSeconds rounds up so clients never retry a moment too early.
func retryAfterSeconds(expiresAt time.Time) int64 {
	seconds := math.Ceil(time.Until(expiresAt).Seconds())
	if seconds < 0 {
		return 0
	}
	return int64(seconds)
}

package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aryangodara/dalil/config"
	"github.com/aryangodara/dalil/listings"
	"github.com/aryangodara/dalil/location"
	"github.com/aryangodara/dalil/metrics"
	"github.com/aryangodara/dalil/rate_limiting_strategies"
)

var knownID = uuid.MustParse("0b9f3a52-2c55-4d8e-a8a4-5b7f1c6b9e01")

type stubService struct {
	err          error
	submittedBy  string
	submitted    listings.SubmitInput
	filter       listings.SearchFilter
	viewer       string
	confirmation location.Confirmation
	reason       string
}

func (s *stubService) listing() *listings.Listing {
	return &listings.Listing{ID: knownID, OwnerID: "owner-1", NameEn: "Najd Coffee", City: "Riyadh", Status: listings.StatusPending}
}

func (s *stubService) DetectLocation(city string) location.Detection {
	return location.DetectLocationContext(city)
}

func (s *stubService) Submit(_ context.Context, ownerID string, in listings.SubmitInput) (*listings.Listing, error) {
	s.submittedBy, s.submitted = ownerID, in
	return s.listing(), s.err
}

func (s *stubService) Get(_ context.Context, id uuid.UUID, viewerID string) (*listings.Listing, error) {
	s.viewer = viewerID
	if id != knownID {
		return nil, listings.ErrNotFound
	}
	return s.listing(), s.err
}

func (s *stubService) Search(_ context.Context, f listings.SearchFilter) ([]listings.Listing, error) {
	s.filter = f
	return []listings.Listing{*s.listing()}, s.err
}

func (s *stubService) ConfirmLocation(_ context.Context, _ uuid.UUID, ownerID string, c location.Confirmation) (*listings.Listing, error) {
	s.viewer, s.confirmation = ownerID, c
	return s.listing(), s.err
}

func (s *stubService) ReviewQueue(context.Context, int) ([]listings.Listing, error) {
	return []listings.Listing{*s.listing()}, s.err
}

func (s *stubService) VerifyLocation(_ context.Context, _ uuid.UUID, c location.Confirmation) (*listings.Listing, error) {
	s.confirmation = c
	return s.listing(), s.err
}

func (s *stubService) Approve(context.Context, uuid.UUID) (*listings.Listing, error) {
	return s.listing(), s.err
}

func (s *stubService) Reject(_ context.Context, _ uuid.UUID, reason string) (*listings.Listing, error) {
	s.reason = reason
	return s.listing(), s.err
}

func newTestRouter(t *testing.T, svc ListingService, policies map[string]config.PolicyConfig) http.Handler {
	t.Helper()
	if policies == nil {
		policies = config.DefaultPolicies
	}
	reg := prometheus.NewRegistry()
	return NewRouter(RouterConfig{
		Service:    svc,
		Limiter:    rate_limiting_strategies.NewSlidingWindowLimiter(rate_limiting_strategies.NewMemoryStore(), time.Now),
		RateLimits: config.RateLimitConfig{Policies: policies},
		AdminToken: "admin-secret",
		Metrics:    metrics.New(reg),
		Gatherer:   reg,
	})
}

func do(h http.Handler, method, target, body string, headers map[string]string) *httptest.ResponseRecorder {
	var r *http.Request
	if body == "" {
		r = httptest.NewRequest(method, target, nil)
	} else {
		r = httptest.NewRequest(method, target, strings.NewReader(body))
	}
	for k, v := range headers {
		r.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, r)
	return w
}

func TestRouter_PublicRoutes(t *testing.T) {
	tt := []struct {
		desc    string
		method  string
		target  string
		body    string
		headers map[string]string
		status  int
		contain string
	}{
		{desc: "health", method: http.MethodGet, target: "/healthz", status: http.StatusOK, contain: `"ok"`},
		{desc: "metrics", method: http.MethodGet, target: "/metrics", status: http.StatusOK},
		{
			desc: "detect location", method: http.MethodPost, target: "/api/location/detect",
			body: `{"city":"Dubai"}`, status: http.StatusOK, contain: `"context":"other"`,
		},
		{
			desc: "detect location with bad json", method: http.MethodPost, target: "/api/location/detect",
			body: `{`, status: http.StatusBadRequest, contain: `"field":"body"`,
		},
		{desc: "search", method: http.MethodGet, target: "/api/listings?q=coffee", status: http.StatusOK, contain: `"listings"`},
		{desc: "search with bad limit", method: http.MethodGet, target: "/api/listings?limit=abc", status: http.StatusBadRequest},
		{desc: "get", method: http.MethodGet, target: "/api/listings/" + knownID.String(), status: http.StatusOK, contain: `"name_en":"Najd Coffee"`},
		{desc: "get unknown", method: http.MethodGet, target: "/api/listings/" + uuid.NewString(), status: http.StatusNotFound},
		{desc: "get malformed id", method: http.MethodGet, target: "/api/listings/not-a-uuid", status: http.StatusBadRequest},
		{
			desc: "submit", method: http.MethodPost, target: "/api/listings",
			body: `{"name_en":"Najd Coffee","category":"cafe","city":"Riyadh"}`,
			headers: map[string]string{headerUserID: "owner-1"}, status: http.StatusCreated,
		},
		{
			desc: "submit without user", method: http.MethodPost, target: "/api/listings",
			body: `{"name_en":"x"}`, status: http.StatusBadRequest,
		},
		{
			desc: "confirm location", method: http.MethodPost, target: "/api/listings/" + knownID.String() + "/location-confirmation",
			body: `{"location_confirmation":"saudi"}`, headers: map[string]string{headerUserID: "owner-1"}, status: http.StatusOK,
		},
	}

	for _, ts := range tt {
		t.Run(ts.desc, func(t *testing.T) {
			h := newTestRouter(t, &stubService{}, nil)

			w := do(h, ts.method, ts.target, ts.body, ts.headers)

			assert.Equal(t, ts.status, w.Code, w.Body.String())
			assert.Contains(t, w.Body.String(), ts.contain)
			assert.NotEmpty(t, w.Header().Get(headerRequestID))
		})
	}
}

func TestRouter_PassesRequestData(t *testing.T) {
	svc := &stubService{}
	h := newTestRouter(t, svc, nil)

	do(h, http.MethodGet, "/api/listings?q=coffee&city=Jeddah&scope=global&limit=5&offset=10", "", nil)
	assert.Equal(t, listings.SearchFilter{Query: "coffee", City: "Jeddah", Scope: listings.ScopeGlobal, Limit: 5, Offset: 10}, svc.filter)

	do(h, http.MethodPost, "/api/listings", `{"name_ar":"قهوة","city":"Abha","location_confirmation":"saudi"}`,
		map[string]string{headerUserID: " owner-9 "})
	assert.Equal(t, "owner-9", svc.submittedBy)
	assert.Equal(t, "قهوة", svc.submitted.NameAr)
	assert.Equal(t, location.ConfirmationSaudi, svc.submitted.LocationConfirmation)

	do(h, http.MethodGet, "/api/listings/"+knownID.String(), "", map[string]string{headerUserID: "owner-1"})
	assert.Equal(t, "owner-1", svc.viewer)
}

func TestRouter_ServiceErrors(t *testing.T) {
	tt := []struct {
		err    error
		status int
	}{
		{err: &listings.ValidationError{Field: "city", Message: "is required"}, status: http.StatusBadRequest},
		{err: listings.ErrNotFound, status: http.StatusNotFound},
		{err: listings.ErrForbidden, status: http.StatusForbidden},
		{err: listings.ErrInvalidStatus, status: http.StatusConflict},
		{err: errors.New("connection refused"), status: http.StatusInternalServerError},
	}

	for _, ts := range tt {
		t.Run(ts.err.Error(), func(t *testing.T) {
			h := newTestRouter(t, &stubService{err: ts.err}, nil)

			w := do(h, http.MethodPost, "/api/listings/"+knownID.String()+"/location-confirmation",
				`{"location_confirmation":"other"}`, map[string]string{headerUserID: "owner-1"})

			assert.Equal(t, ts.status, w.Code)
			var body errorResponse
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
			assert.NotEmpty(t, body.Error)
			assert.NotContains(t, body.Error, "connection refused")
		})
	}
}

func TestRouter_AdminRoutes(t *testing.T) {
	id := knownID.String()
	tt := []struct {
		desc   string
		method string
		target string
		body   string
		token  string
		status int
	}{
		{desc: "missing token", method: http.MethodGet, target: "/api/admin/review-queue", status: http.StatusUnauthorized},
		{desc: "wrong token", method: http.MethodGet, target: "/api/admin/review-queue", token: "guess", status: http.StatusUnauthorized},
		{desc: "review queue", method: http.MethodGet, target: "/api/admin/review-queue?limit=10", token: "admin-secret", status: http.StatusOK},
		{desc: "approve", method: http.MethodPost, target: "/api/admin/listings/" + id + "/approve", token: "admin-secret", status: http.StatusOK},
		{desc: "reject", method: http.MethodPost, target: "/api/admin/listings/" + id + "/reject", body: `{"reason":"spam"}`, token: "admin-secret", status: http.StatusOK},
		{desc: "verify without body", method: http.MethodPost, target: "/api/admin/listings/" + id + "/verify-location", token: "admin-secret", status: http.StatusOK},
		{desc: "verify with answer", method: http.MethodPost, target: "/api/admin/listings/" + id + "/verify-location", body: `{"location_confirmation":"other"}`, token: "admin-secret", status: http.StatusOK},
	}

	for _, ts := range tt {
		t.Run(ts.desc, func(t *testing.T) {
			h := newTestRouter(t, &stubService{}, nil)

			headers := map[string]string{}
			if ts.token != "" {
				headers[headerAdminToken] = ts.token
			}
			w := do(h, ts.method, ts.target, ts.body, headers)

			assert.Equal(t, ts.status, w.Code, w.Body.String())
		})
	}
}

func TestRouter_VerifyLocationBodyWithoutLength(t *testing.T) {
	target := "/api/admin/listings/" + knownID.String() + "/verify-location"

	tt := []struct {
		desc   string
		body   string
		status int
		want   location.Confirmation
	}{
		{desc: "empty chunked body", body: "", status: http.StatusOK},
		{desc: "whitespace only", body: " \n", status: http.StatusOK},
		{desc: "chunked answer", body: `{"location_confirmation":"saudi"}`, status: http.StatusOK, want: location.ConfirmationSaudi},
		{desc: "malformed", body: `{"location_confirmation":`, status: http.StatusBadRequest},
	}

	for _, ts := range tt {
		t.Run(ts.desc, func(t *testing.T) {
			svc := &stubService{}
			h := newTestRouter(t, svc, nil)

			r := httptest.NewRequest(http.MethodPost, target, strings.NewReader(ts.body))
			// chunked transfer encoding leaves the length unknown
			r.ContentLength = -1
			r.Header.Set(headerAdminToken, "admin-secret")
			w := httptest.NewRecorder()
			h.ServeHTTP(w, r)

			assert.Equal(t, ts.status, w.Code, w.Body.String())
			assert.Equal(t, ts.want, svc.confirmation)
		})
	}
}

func TestRouter_AdminDisabledWithoutToken(t *testing.T) {
	h := NewRouter(RouterConfig{
		Service:    &stubService{},
		Limiter:    rate_limiting_strategies.NewSlidingWindowLimiter(rate_limiting_strategies.NewMemoryStore(), time.Now),
		RateLimits: config.RateLimitConfig{Policies: config.DefaultPolicies},
	})

	w := do(h, http.MethodGet, "/api/admin/review-queue", "", map[string]string{headerAdminToken: ""})
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestRouter_CreateListingIsLimitedPerUser(t *testing.T) {
	h := newTestRouter(t, &stubService{}, map[string]config.PolicyConfig{
		config.PolicyCreateListing: {Limit: 2, Window: time.Hour, BlockDuration: time.Hour},
	})
	body := `{"name_en":"x","category":"cafe","city":"Riyadh"}`

	for i := 0; i < 2; i++ {
		w := do(h, http.MethodPost, "/api/listings", body, map[string]string{headerUserID: "owner-1"})
		require.Equal(t, http.StatusCreated, w.Code)
	}

	w := do(h, http.MethodPost, "/api/listings", body, map[string]string{headerUserID: "owner-1"})
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, "0", w.Header().Get("X-RateLimit-Remaining"))
	assert.NotEmpty(t, w.Header().Get("Retry-After"))

	w = do(h, http.MethodPost, "/api/listings", body, map[string]string{headerUserID: "owner-2"})
	assert.Equal(t, http.StatusCreated, w.Code)
}

func TestRouter_SearchIsLimitedPerClientIP(t *testing.T) {
	h := newTestRouter(t, &stubService{}, map[string]config.PolicyConfig{
		config.PolicySearch:         {Limit: 1, Window: time.Minute},
		config.PolicyDetectLocation: {Limit: 1, Window: time.Minute},
	})
	ip := map[string]string{"X-Forwarded-For": "203.0.113.7"}

	assert.Equal(t, http.StatusOK, do(h, http.MethodGet, "/api/listings", "", ip).Code)
	assert.Equal(t, http.StatusTooManyRequests, do(h, http.MethodGet, "/api/listings", "", ip).Code)
	assert.Equal(t, http.StatusOK, do(h, http.MethodGet, "/api/listings", "", map[string]string{"X-Forwarded-For": "198.51.100.4"}).Code)

	// policies keep separate counters for the same client
	assert.Equal(t, http.StatusOK, do(h, http.MethodPost, "/api/location/detect", `{"city":"Riyadh"}`, ip).Code)
}

func TestRequestID(t *testing.T) {
	h := RequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(RequestIDFromContext(r.Context())))
	}))

	w := do(h, http.MethodGet, "/", "", map[string]string{headerRequestID: "req-123"})
	assert.Equal(t, "req-123", w.Header().Get(headerRequestID))
	assert.Equal(t, "req-123", w.Body.String())

	w = do(h, http.MethodGet, "/", "", map[string]string{headerRequestID: "bad id\n"})
	_, err := uuid.Parse(w.Header().Get(headerRequestID))
	assert.NoError(t, err)

	w = do(h, http.MethodGet, "/", "", nil)
	_, err = uuid.Parse(w.Body.String())
	assert.NoError(t, err)
}

package api

import (
	"context"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/aryangodara/dalil/listings"
	"github.com/aryangodara/dalil/location"
)

// ListingService is the listing workflow the handlers drive.
type ListingService interface {
	DetectLocation(city string) location.Detection
	Submit(ctx context.Context, ownerID string, in listings.SubmitInput) (*listings.Listing, error)
	Get(ctx context.Context, id uuid.UUID, viewerID string) (*listings.Listing, error)
	Search(ctx context.Context, f listings.SearchFilter) ([]listings.Listing, error)
	ConfirmLocation(ctx context.Context, id uuid.UUID, ownerID string, confirmation location.Confirmation) (*listings.Listing, error)
	ReviewQueue(ctx context.Context, limit int) ([]listings.Listing, error)
	VerifyLocation(ctx context.Context, id uuid.UUID, confirmation location.Confirmation) (*listings.Listing, error)
	Approve(ctx context.Context, id uuid.UUID) (*listings.Listing, error)
	Reject(ctx context.Context, id uuid.UUID, reason string) (*listings.Listing, error)
}

type Handler struct {
	service ListingService
	logger  *zap.Logger
}

func NewHandler(service ListingService, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{service: service, logger: logger}
}

type detectRequest struct {
	City string `json:"city"`
}

type confirmationRequest struct {
	LocationConfirmation location.Confirmation `json:"location_confirmation"`
}

type rejectRequest struct {
	Reason string `json:"reason"`
}

type listingsResponse struct {
	Listings []listings.Listing `json:"listings"`
}

// HandleDetectLocation implements POST /api/location/detect.
func (h *Handler) HandleDetectLocation(w http.ResponseWriter, r *http.Request) {
	var req detectRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, h.service.DetectLocation(req.City))
}

// HandleSearch implements GET /api/listings?q=&city=&scope=&limit=&offset=.
func (h *Handler) HandleSearch(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	limit, err := queryInt(q.Get("limit"), "limit")
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	offset, err := queryInt(q.Get("offset"), "offset")
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	found, err := h.service.Search(r.Context(), listings.SearchFilter{
		Query:  q.Get("q"),
		City:   q.Get("city"),
		Scope:  listings.Scope(q.Get("scope")),
		Limit:  limit,
		Offset: offset,
	})
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, listingsResponse{Listings: found})
}

// HandleGet implements GET /api/listings/{id}.
func (h *Handler) HandleGet(w http.ResponseWriter, r *http.Request) {
	id, err := listingID(r)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	l, err := h.service.Get(r.Context(), id, userID(r))
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, l)
}

// HandleSubmit implements POST /api/listings.
func (h *Handler) HandleSubmit(w http.ResponseWriter, r *http.Request) {
	var in listings.SubmitInput
	if err := decodeJSON(w, r, &in); err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	l, err := h.service.Submit(r.Context(), userID(r), in)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, l)
}

// HandleConfirmLocation implements POST /api/listings/{id}/location-confirmation.
func (h *Handler) HandleConfirmLocation(w http.ResponseWriter, r *http.Request) {
	id, err := listingID(r)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	var req confirmationRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	l, err := h.service.ConfirmLocation(r.Context(), id, userID(r), req.LocationConfirmation)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, l)
}

// HandleReviewQueue implements GET /api/admin/review-queue.
func (h *Handler) HandleReviewQueue(w http.ResponseWriter, r *http.Request) {
	limit, err := queryInt(r.URL.Query().Get("limit"), "limit")
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	queue, err := h.service.ReviewQueue(r.Context(), limit)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, listingsResponse{Listings: queue})
}

// HandleApprove implements POST /api/admin/listings/{id}/approve.
func (h *Handler) HandleApprove(w http.ResponseWriter, r *http.Request) {
	id, err := listingID(r)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	l, err := h.service.Approve(r.Context(), id)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, l)
}

// HandleReject implements POST /api/admin/listings/{id}/reject.
func (h *Handler) HandleReject(w http.ResponseWriter, r *http.Request) {
	id, err := listingID(r)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	var req rejectRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	l, err := h.service.Reject(r.Context(), id, req.Reason)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, l)
}

// HandleVerifyLocation implements POST /api/admin/listings/{id}/verify-location.
// An empty body accepts the current location as is.
func (h *Handler) HandleVerifyLocation(w http.ResponseWriter, r *http.Request) {
	id, err := listingID(r)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	var req confirmationRequest
	if err := decodeOptionalJSON(w, r, &req); err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	l, err := h.service.VerifyLocation(r.Context(), id, req.LocationConfirmation)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, l)
}

func listingID(r *http.Request) (uuid.UUID, error) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		return uuid.Nil, &listings.ValidationError{Field: "id", Message: "must be a UUID"}
	}
	return id, nil
}

func userID(r *http.Request) string {
	return strings.TrimSpace(r.Header.Get(headerUserID))
}

func queryInt(raw, field string) (int, error) {
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, &listings.ValidationError{Field: field, Message: "must be a non-negative integer"}
	}
	return n, nil
}

package listings

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/aryangodara/dalil/location"
	"github.com/aryangodara/dalil/metrics"
)

const DefaultReviewQueueLimit = 50

// Service holds the directory's listing workflow: submission, location
// confirmation and admin review.
type Service struct {
	repo     Repository
	detector *location.Detector
	logger   *zap.Logger
	metrics  *metrics.Metrics
	now      func() time.Time
	newID    func() uuid.UUID
}

type Option func(*Service)

func WithLogger(logger *zap.Logger) Option {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) {
		s.metrics = m
	}
}

func WithDetector(d *location.Detector) Option {
	return func(s *Service) {
		if d != nil {
			s.detector = d
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

func WithIDGenerator(newID func() uuid.UUID) Option {
	return func(s *Service) {
		if newID != nil {
			s.newID = newID
		}
	}
}

func NewService(repo Repository, opts ...Option) *Service {
	s := &Service{
		repo:     repo,
		detector: location.NewDetector(location.DefaultGazetteer()),
		logger:   zap.NewNop(),
		now:      time.Now,
		newID:    uuid.New,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// DetectLocation previews the classification shown on the submission form.
func (s *Service) DetectLocation(city string) location.Detection {
	detection := s.detector.Detect(city)
	s.metrics.ObserveLocationDetection(string(detection.Context), string(detection.Confidence))
	return detection
}

// Submit validates in and stores it as a pending listing owned by ownerID.
func (s *Service) Submit(ctx context.Context, ownerID string, in SubmitInput) (*Listing, error) {
	in = in.trimmed()
	if err := validateSubmission(ownerID, in); err != nil {
		s.metrics.IncrementListingsSubmitted("invalid")
		return nil, err
	}

	now := s.now().UTC()
	l := &Listing{
		ID:            s.newID(),
		OwnerID:       ownerID,
		NameEn:        in.NameEn,
		NameAr:        in.NameAr,
		DescriptionEn: in.DescriptionEn,
		DescriptionAr: in.DescriptionAr,
		Category:      in.Category,
		City:          in.City,
		Phone:         in.Phone,
		Website:       in.Website,
		Status:        StatusPending,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	l.SetLocation(s.detector.Process(in.City, in.LocationConfirmation))

	if err := s.repo.Create(ctx, l); err != nil {
		s.metrics.IncrementListingsSubmitted("error")
		return nil, fmt.Errorf("create listing: %w", err)
	}

	s.metrics.IncrementListingsSubmitted("accepted")
	s.logger.Info("listing_submitted",
		zap.String("listing_id", l.ID.String()),
		zap.String("owner_id", ownerID),
		zap.String("city", l.City),
		zap.Bool("is_global", l.IsGlobal),
		zap.String("location_detection", string(l.LocationDetection)),
		zap.Bool("needs_admin_review", l.NeedsAdminReview),
	)
	return l, nil
}

// Get returns a listing. Listings that are not approved are only visible to
// their owner.
func (s *Service) Get(ctx context.Context, id uuid.UUID, viewerID string) (*Listing, error) {
	l, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if l.Status != StatusApproved && l.OwnerID != viewerID {
		return nil, ErrNotFound
	}
	return l, nil
}

func (s *Service) Search(ctx context.Context, f SearchFilter) ([]Listing, error) {
	switch f.Scope {
	case "", ScopeAll, ScopeSaudi, ScopeGlobal:
	default:
		return nil, invalid("scope", "must be all, saudi or global")
	}
	return s.repo.Search(ctx, f.normalized())
}

// ConfirmLocation records the owner's answer to the location question. An
// admin's decision is final and cannot be changed this way.
func (s *Service) ConfirmLocation(ctx context.Context, id uuid.UUID, ownerID string, confirmation location.Confirmation) (*Listing, error) {
	if !confirmation.Valid() {
		return nil, invalid("location_confirmation", "must be saudi or other")
	}

	l, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if l.OwnerID != ownerID {
		return nil, ErrForbidden
	}
	if l.LocationDetection == location.SourceAdminVerified {
		return nil, ErrInvalidStatus
	}

	processed := s.detector.Process(l.City, confirmation)
	if err := s.repo.UpdateLocation(ctx, id, processed); err != nil {
		return nil, fmt.Errorf("update location: %w", err)
	}
	l.SetLocation(processed)
	l.UpdatedAt = s.now().UTC()

	s.logger.Info("listing_location_confirmed",
		zap.String("listing_id", id.String()),
		zap.String("confirmation", string(confirmation)),
		zap.Bool("needs_admin_review", processed.NeedsAdminReview),
	)
	return l, nil
}

// ReviewQueue lists listings whose location still needs an admin.
func (s *Service) ReviewQueue(ctx context.Context, limit int) ([]Listing, error) {
	if limit <= 0 || limit > MaxSearchLimit {
		limit = DefaultReviewQueueLimit
	}
	return s.repo.ListUnverifiedLocations(ctx, limit)
}

// VerifyLocation applies an admin's location decision. With no confirmation
// the current scope is accepted as is.
func (s *Service) VerifyLocation(ctx context.Context, id uuid.UUID, confirmation location.Confirmation) (*Listing, error) {
	if confirmation != location.ConfirmationNone && !confirmation.Valid() {
		return nil, invalid("location_confirmation", "must be saudi, other or empty")
	}

	l, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	verified := location.AdminVerify(l.Location(), confirmation)
	if err := s.repo.UpdateLocation(ctx, id, verified); err != nil {
		return nil, fmt.Errorf("update location: %w", err)
	}
	l.SetLocation(verified)
	l.UpdatedAt = s.now().UTC()

	s.logger.Info("listing_location_verified",
		zap.String("listing_id", id.String()),
		zap.Bool("is_global", verified.IsGlobal),
	)
	return l, nil
}

func (s *Service) Approve(ctx context.Context, id uuid.UUID) (*Listing, error) {
	return s.transition(ctx, id, StatusApproved, "")
}

func (s *Service) Reject(ctx context.Context, id uuid.UUID, reason string) (*Listing, error) {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return nil, invalid("reason", "is required")
	}
	return s.transition(ctx, id, StatusRejected, reason)
}

func (s *Service) transition(ctx context.Context, id uuid.UUID, to Status, reason string) (*Listing, error) {
	l, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if l.Status != StatusPending {
		return nil, ErrInvalidStatus
	}

	if err := s.repo.UpdateStatus(ctx, id, StatusPending, to, reason); err != nil {
		return nil, err
	}
	l.Status = to
	l.RejectionReason = reason
	l.UpdatedAt = s.now().UTC()

	s.logger.Info("listing_reviewed",
		zap.String("listing_id", id.String()),
		zap.String("status", string(to)),
	)
	return l, nil
}

func validateSubmission(ownerID string, in SubmitInput) error {
	if ownerID == "" {
		return invalid("owner_id", "is required")
	}
	if in.NameEn == "" && in.NameAr == "" {
		return invalid("name", "an English or Arabic name is required")
	}
	if in.Category == "" {
		return invalid("category", "is required")
	}
	if in.City == "" {
		return invalid("city", "is required")
	}
	if in.LocationConfirmation != location.ConfirmationNone && !in.LocationConfirmation.Valid() {
		return invalid("location_confirmation", "must be saudi, other or empty")
	}
	return nil
}

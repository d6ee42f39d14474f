// Package listings stores business listings and moves them through review.
package listings

import (
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/aryangodara/dalil/location"
)

// Status is a listing's moderation state.
type Status string

const (
	StatusPending  Status = "pending"
	StatusApproved Status = "approved"
	StatusRejected Status = "rejected"
)

// Listing is a business entry in the directory. Names and descriptions are
// kept in English and Arabic; either language may be empty.
type Listing struct {
	ID                   uuid.UUID                `db:"id" json:"id"`
	OwnerID              string                   `db:"owner_id" json:"owner_id"`
	NameEn               string                   `db:"name_en" json:"name_en"`
	NameAr               string                   `db:"name_ar" json:"name_ar"`
	DescriptionEn        string                   `db:"description_en" json:"description_en"`
	DescriptionAr        string                   `db:"description_ar" json:"description_ar"`
	Category             string                   `db:"category" json:"category"`
	City                 string                   `db:"city" json:"city"`
	Phone                string                   `db:"phone" json:"phone,omitempty"`
	Website              string                   `db:"website" json:"website,omitempty"`
	Status               Status                   `db:"status" json:"status"`
	RejectionReason      string                   `db:"rejection_reason" json:"rejection_reason,omitempty"`
	IsGlobal             bool                     `db:"is_global" json:"is_global"`
	LocationConfirmation location.Confirmation    `db:"location_confirmation" json:"location_confirmation,omitempty"`
	LocationVerified     bool                     `db:"location_verified" json:"location_verified"`
	LocationDetection    location.DetectionSource `db:"location_detection" json:"location_detection"`
	NeedsAdminReview     bool                     `db:"needs_admin_review" json:"needs_admin_review"`
	CreatedAt            time.Time                `db:"created_at" json:"created_at"`
	UpdatedAt            time.Time                `db:"updated_at" json:"updated_at"`
}

// Location returns the stored location data.
func (l *Listing) Location() location.ProcessedLocation {
	return location.ProcessedLocation{
		IsGlobal:             l.IsGlobal,
		LocationConfirmation: l.LocationConfirmation,
		LocationVerified:     l.LocationVerified,
		LocationDetection:    l.LocationDetection,
		NeedsAdminReview:     l.NeedsAdminReview,
	}
}

// SetLocation overwrites the stored location data with p.
func (l *Listing) SetLocation(p location.ProcessedLocation) {
	l.IsGlobal = p.IsGlobal
	l.LocationConfirmation = p.LocationConfirmation
	l.LocationVerified = p.LocationVerified
	l.LocationDetection = p.LocationDetection
	l.NeedsAdminReview = p.NeedsAdminReview
}

// SubmitInput is what a business owner fills in on the submission form.
type SubmitInput struct {
	NameEn               string                `json:"name_en"`
	NameAr               string                `json:"name_ar"`
	DescriptionEn        string                `json:"description_en"`
	DescriptionAr        string                `json:"description_ar"`
	Category             string                `json:"category"`
	City                 string                `json:"city"`
	Phone                string                `json:"phone"`
	Website              string                `json:"website"`
	LocationConfirmation location.Confirmation `json:"location_confirmation"`
}

func (in SubmitInput) trimmed() SubmitInput {
	return SubmitInput{
		NameEn:               strings.TrimSpace(in.NameEn),
		NameAr:               strings.TrimSpace(in.NameAr),
		DescriptionEn:        strings.TrimSpace(in.DescriptionEn),
		DescriptionAr:        strings.TrimSpace(in.DescriptionAr),
		Category:             strings.TrimSpace(in.Category),
		City:                 strings.TrimSpace(in.City),
		Phone:                strings.TrimSpace(in.Phone),
		Website:              strings.TrimSpace(in.Website),
		LocationConfirmation: in.LocationConfirmation,
	}
}

// Scope narrows a search to local or international businesses.
type Scope string

const (
	ScopeAll    Scope = "all"
	ScopeSaudi  Scope = "saudi"
	ScopeGlobal Scope = "global"
)

const (
	DefaultSearchLimit = 20
	MaxSearchLimit     = 100
)

// SearchFilter selects approved listings. Query matches either name.
type SearchFilter struct {
	Query  string
	City   string
	Scope  Scope
	Limit  int
	Offset int
}

func (f SearchFilter) normalized() SearchFilter {
	f.Query = strings.TrimSpace(f.Query)
	f.City = strings.TrimSpace(f.City)
	if f.Scope == "" {
		f.Scope = ScopeAll
	}
	if f.Limit <= 0 {
		f.Limit = DefaultSearchLimit
	}
	if f.Limit > MaxSearchLimit {
		f.Limit = MaxSearchLimit
	}
	if f.Offset < 0 {
		f.Offset = 0
	}
	return f
}

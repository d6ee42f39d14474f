// Package location guesses whether a listing's city is in Saudi Arabia or abroad,
// and records how sure the guess is and who confirmed it.
package location

// Context is the geographic scope of a listing.
type Context string

const (
	ContextSaudi     Context = "saudi"
	ContextOther     Context = "other"
	ContextUncertain Context = "uncertain"
)

// Confidence grades a Detection.
type Confidence string

const (
	ConfidenceHigh   Confidence = "high"
	ConfidenceMedium Confidence = "medium"
	ConfidenceLow    Confidence = "low"
)

// Detection is the classifier's guess for one city string.
type Detection struct {
	Context               Context    `json:"context"`
	Confidence            Confidence `json:"confidence"`
	Reason                string     `json:"reason"`
	NeedsUserConfirmation bool       `json:"needs_user_confirmation"`
}

func newDetection(ctx Context, confidence Confidence, reason string) Detection {
	return Detection{
		Context:               ctx,
		Confidence:            confidence,
		Reason:                reason,
		NeedsUserConfirmation: confidence != ConfidenceHigh,
	}
}

// Confirmation is an explicit human answer to "is this listing in Saudi Arabia?".
// The zero value means nobody answered.
type Confirmation string

const (
	ConfirmationNone  Confirmation = ""
	ConfirmationSaudi Confirmation = "saudi"
	ConfirmationOther Confirmation = "other"
)

// Valid reports whether c is an actual answer.
func (c Confirmation) Valid() bool {
	return c == ConfirmationSaudi || c == ConfirmationOther
}

// DetectionSource records who decided a listing's location.
type DetectionSource string

const (
	SourceAuto          DetectionSource = "auto"
	SourceUserConfirmed DetectionSource = "user_confirmed"
	SourceAdminVerified DetectionSource = "admin_verified"
)

// ProcessedLocation is the location data stored on a listing.
type ProcessedLocation struct {
	IsGlobal             bool            `json:"is_global"`
	LocationConfirmation Confirmation    `json:"location_confirmation,omitempty"`
	LocationVerified     bool            `json:"location_verified"`
	LocationDetection    DetectionSource `json:"location_detection"`
	NeedsAdminReview     bool            `json:"needs_admin_review"`
}

package location

// Process turns a city and an optional human confirmation into the location
// data stored on a listing.
//
// A confirmation decides IsGlobal but never verifies the listing; only an admin
// can do that. Review is still keyed on the classifier's confidence, so a user
// contradicting a high-confidence guess is not sent to review.
func (d *Detector) Process(city string, confirmation Confirmation) ProcessedLocation {
	detection := d.Detect(city)

	if confirmation.Valid() {
		return ProcessedLocation{
			IsGlobal:             confirmation == ConfirmationOther,
			LocationConfirmation: confirmation,
			LocationVerified:     false,
			LocationDetection:    SourceUserConfirmed,
			NeedsAdminReview:     detection.Confidence != ConfidenceHigh,
		}
	}

	confident := detection.Confidence == ConfidenceHigh
	return ProcessedLocation{
		IsGlobal:          detection.Context == ContextOther,
		LocationVerified:  confident,
		LocationDetection: SourceAuto,
		NeedsAdminReview:  !confident,
	}
}

// ProcessLocationData runs Process with the embedded gazetteer.
func ProcessLocationData(city string, confirmation Confirmation) ProcessedLocation {
	return defaultDetectorLoader().Process(city, confirmation)
}

// AdminVerify applies an admin's decision. It overrides whatever the classifier
// or the submitter said; with no confirmation the current scope is kept.
func AdminVerify(current ProcessedLocation, confirmation Confirmation) ProcessedLocation {
	verified := current
	if confirmation.Valid() {
		verified.LocationConfirmation = confirmation
		verified.IsGlobal = confirmation == ConfirmationOther
	}
	verified.LocationVerified = true
	verified.LocationDetection = SourceAdminVerified
	verified.NeedsAdminReview = false
	return verified
}

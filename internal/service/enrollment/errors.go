package enrollment

import "errors"

// Sentinel errors for the enrollment service layer.
var (
	ErrNotFound         = errors.New("enrollment not found")
	ErrInvestorNotFound = errors.New("investor not found")
	ErrClaimLost        = errors.New("enrollment claim lost")
)

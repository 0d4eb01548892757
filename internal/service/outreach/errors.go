// Package outreach records communication attempts and applies engagement
// signals to them. Engagement status only ever moves forward.
package outreach

import "errors"

// ErrNotFound is returned when no outreach has the given tracking id.
var ErrNotFound = errors.New("outreach not found")

// Package enrollment manages investor enrollments in outreach sequences and
// the leased claims the processor takes on them.
//
// An enrollment is advanced only by the holder of its current claim. A claim
// is a random token plus an expiry; Advance and Release succeed only while
// the token still matches, so a run whose lease expired and was reclaimed by
// another run can never overwrite newer state.
package enrollment

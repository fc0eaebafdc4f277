// Package quota tracks free-tier consumption per caller identity.
//
// Counts live for the lifetime of the process. A restart hands every caller
// a fresh allowance; that is accepted product behavior, not a bug.
package quota

import "github.com/fourotwo-xyz/web-scraper/pkg/identity"

// DefaultFreeLimit is the number of free calls each identity gets.
const DefaultFreeLimit = 2

// Grant is the result of a check-and-consume.
type Grant struct {
	Granted   bool `json:"granted"`
	Remaining int  `json:"remaining"`
}

// Store is the interface for free-tier accounting.
type Store interface {
	// CheckAndConsume grants a free call and records it, or denies without
	// touching state. Check and increment happen as one atomic step.
	CheckAndConsume(id identity.CallerIdentity) Grant

	// Consumed returns how many free calls id has used. Read-only.
	Consumed(id identity.CallerIdentity) int

	// Limit returns the configured free allowance.
	Limit() int
}

// Remaining returns how many free calls id has left in s.
func Remaining(s Store, id identity.CallerIdentity) int {
	left := s.Limit() - s.Consumed(id)
	if left < 0 {
		return 0
	}
	return left
}

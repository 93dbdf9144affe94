package challenge

import "time"

// Challenge is the metadata about a single challenge issuance.
//
// The plaintext code is never part of a Challenge. Only its salted digest is
// kept, so a stored Challenge can check an answer but cannot reveal one.
type Challenge struct {
	ID         string    `json:"id"`         // SHA-512 of the base64 image payload
	Commitment string    `json:"commitment"` // SHA-512 of Salt followed by the uppercased code
	Salt       string    `json:"salt"`       // Random alphanumeric salt for Commitment
	IssuedAt   time.Time `json:"issuedAt"`   // When the challenge was issued

	// Image is the base64 encoded PNG shown to the user. It is only needed
	// until the form is rendered and is never persisted by a store.
	Image string `json:"-"`
}

// Expired reports whether c is older than ttl at now.
func (c *Challenge) Expired(now time.Time, ttl time.Duration) bool {
	return now.Sub(c.IssuedAt) > ttl
}

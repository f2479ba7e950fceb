package session

import "time"

// Record is the provider state kept between runs. It carries the refresh
// token, which never leaves the configured persistence backend.
type Record struct {
	SchemaVersion uint8

	UserID      string
	Email       string
	DisplayName string
	// Metadata is the provider's raw user-metadata JSON object.
	Metadata []byte

	AccessToken  string
	RefreshToken string

	CreatedAt int64
	ExpiresAt int64
}

// Expiry returns ExpiresAt as a time, or the zero time when unset.
func (r *Record) Expiry() time.Time {
	if r == nil || r.ExpiresAt == 0 {
		return time.Time{}
	}
	return time.Unix(r.ExpiresAt, 0)
}

// ExpiresWithin reports whether the access token expires before now+margin.
// A record without an expiry never does.
func (r *Record) ExpiresWithin(now time.Time, margin time.Duration) bool {
	if r == nil || r.ExpiresAt == 0 {
		return false
	}
	return !now.Add(margin).Before(r.Expiry())
}

// Clone returns a deep copy of r.
func (r *Record) Clone() *Record {
	if r == nil {
		return nil
	}
	out := *r
	if r.Metadata != nil {
		out.Metadata = append([]byte(nil), r.Metadata...)
	}
	return &out
}

// Package session models the authenticated session attached to every call.
package session

import "time"

// User is the identity carried by a session.
type User struct {
	ID      string `mapstructure:"sub" json:"id,omitempty"`
	Name    string `mapstructure:"name" json:"name,omitempty"`
	Email   string `mapstructure:"email" json:"email,omitempty"`
	Image   string `mapstructure:"picture" json:"image,omitempty"`
	Address string `mapstructure:"address" json:"address,omitempty"`
	// AddressSet records that the source carried an address, possibly empty.
	AddressSet bool `mapstructure:"-" json:"-"`
}

// Session is an authenticated session. A nil *Session means the caller is
// not authenticated.
type Session struct {
	User    *User
	Expires time.Time
}

// Kind is the closed set of shapes a session can take.
type Kind uint8

const (
	// KindNone is an unauthenticated caller.
	KindNone Kind = iota
	// KindNoAddress is an authenticated session without an account address.
	KindNoAddress
	// KindAddress is an authenticated session that carries an address
	// candidate. The candidate is not validated yet.
	KindAddress
)

func (k Kind) String() string {
	switch k {
	case KindNone:
		return "none"
	case KindNoAddress:
		return "no-address"
	case KindAddress:
		return "address"
	}
	return "unknown"
}

// Classify returns the shape of s and, for KindAddress, the address
// candidate. An empty address string counts as absent; callers that need to
// tell an empty address from a missing one check User.AddressSet.
func Classify(s *Session) (Kind, string) {
	switch {
	case s == nil:
		return KindNone, ""
	case s.User == nil || s.User.Address == "":
		return KindNoAddress, ""
	default:
		return KindAddress, s.User.Address
	}
}

// Expired reports whether the session has an expiry that lies before now.
func (s *Session) Expired(now time.Time) bool {
	return s != nil && !s.Expires.IsZero() && now.After(s.Expires)
}

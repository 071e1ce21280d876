// Package identity carries the result of bot request authentication.
// An Identity always has exactly one trust level; handlers branch on
// Trust instead of probing nullable fields.
package identity

import (
	"github.com/glia-ai/glia/pkg/glia/platform"
)

// Trust is the level at which a request was authenticated.
type Trust int

const (
	// TrustNone means no valid credential was presented.
	TrustNone Trust = iota
	// TrustAPIKey means the shared bot API key matched but the platform
	// user is not linked to an account.
	TrustAPIKey
	// TrustUser means a session token (or API key plus a durable link)
	// resolved to a concrete account.
	TrustUser
)

func (t Trust) String() string {
	switch t {
	case TrustAPIKey:
		return "api_key"
	case TrustUser:
		return "user"
	default:
		return "none"
	}
}

// Identity is the resolved caller of a bot endpoint.
type Identity struct {
	Trust          Trust
	AccountID      string // set only when Trust == TrustUser
	Platform       platform.Platform
	PlatformUserID string
}

// Authenticated reports whether the request may reach bot endpoints at all.
func (id Identity) Authenticated() bool { return id.Trust != TrustNone }

// Linked reports whether the caller resolved to a concrete account.
func (id Identity) Linked() bool { return id.Trust == TrustUser }

package oauth

import "time"

// AuthState captures the flow parameters bound to a CSRF state token across
// the authorize/callback redirect round trip.
type AuthState struct {
	Provider            string    `json:"provider"`
	OrgID               int64     `json:"org_id"`
	ClientID            string    `json:"client_id"`
	RedirectURI         string    `json:"redirect_uri"`
	ResponseType        string    `json:"response_type"`
	Scope               string    `json:"scope,omitempty"`
	ClientState         string    `json:"client_state,omitempty"`
	Nonce               string    `json:"nonce,omitempty"`
	CodeChallenge       string    `json:"code_challenge,omitempty"`
	CodeChallengeMethod string    `json:"code_challenge_method,omitempty"`
	CodeVerifier        string    `json:"code_verifier,omitempty"`
	CreatedAt           time.Time `json:"created_at"`
}

// OrgCandidate is one (org, user) pair an email resolved to.
type OrgCandidate struct {
	OrgID   int64  `json:"org_id"`
	OrgName string `json:"org_name"`
	UserID  int64  `json:"user_id"`
}

// PendingLogin holds a verified identity waiting for the user to pick an
// org. It lives only in the pending-selection cache; loss forces the user
// to restart the callback step, never to re-authenticate upstream.
type PendingLogin struct {
	Email      string         `json:"email"`
	Name       string         `json:"name,omitempty"`
	Candidates []OrgCandidate `json:"candidates"`
	Flow       AuthState      `json:"flow"`
	CreatedAt  time.Time      `json:"created_at"`
}

// PendingPinUser is one selectable user in the PIN user-list step.
type PendingPinUser struct {
	UserID int64  `json:"user_id"`
	Name   string `json:"name"`
}

// PendingPinAuth holds the site/client context for the OAuth-style PIN
// flow between the user-list step and the PIN entry step.
type PendingPinAuth struct {
	OrgID               int64            `json:"org_id"`
	SiteID              int64            `json:"site_id"`
	DeviceID            string           `json:"device_id"`
	ClientID            string           `json:"client_id"`
	RedirectURI         string           `json:"redirect_uri"`
	Scope               string           `json:"scope,omitempty"`
	CodeChallenge       string           `json:"code_challenge,omitempty"`
	CodeChallengeMethod string           `json:"code_challenge_method,omitempty"`
	Users               []PendingPinUser `json:"users"`
	CreatedAt           time.Time        `json:"created_at"`
}

// Eligible reports whether the given user was offered in the list step.
func (p PendingPinAuth) Eligible(userID int64) bool {
	for _, u := range p.Users {
		if u.UserID == userID {
			return true
		}
	}
	return false
}

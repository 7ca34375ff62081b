package model

// User is the profile returned by GET /auth/me. It is fetched after a
// token is validated and is never persisted locally.
type User struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email"`

	// EmailVerified reports whether the account address has been confirmed.
	EmailVerified bool `json:"isEmailVerified"`

	// GmailConnected and OutlookConnected mirror the mailbox connections
	// configured on the backend.
	GmailConnected   bool `json:"gmailConnected"`
	OutlookConnected bool `json:"outlookConnected"`
}

// DisplayName returns the best human label for the user.
func (u *User) DisplayName() string {
	if u == nil {
		return ""
	}
	if u.Name != "" {
		return u.Name
	}
	return u.Email
}

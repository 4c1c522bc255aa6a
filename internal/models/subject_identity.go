package models

// SubjectIdentity is the embedded best-effort user identity carried on both
// submission records and refreshed by subject.* events.
type SubjectIdentity struct {
	ID       string `json:"id"`
	Username string `json:"username"`
	Name     string `json:"name"`
	Email    string `json:"email"`
}

package domain

// Identity is a verified reference to a user owned by the external identity
// provider. The service never creates or deletes identities, it only resolves
// them per request.
type Identity struct {
	ID       string `json:"id"`
	Email    string `json:"email,omitempty"`
	Verified bool   `json:"verified"`
}

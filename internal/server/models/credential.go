package models

// Tier names the privilege level a store call runs with.
type Tier string

const (
	// TierElevated uses the process-wide service credential and bypasses
	// row-level policies.
	TierElevated Tier = "elevated"
	// TierUserScoped acts as one end user and is subject to row-level policies.
	TierUserScoped Tier = "user_scoped"
)

// Credential is built per request and never persisted. Token and Subject
// are set only for TierUserScoped; Subject is the token's "sub" claim as
// parsed locally, without signature verification.
type Credential struct {
	Tier    Tier
	Token   string
	Subject string
}

// ElevatedCredential returns the credential for the elevated tier. What it
// grants is decided by the store it is handed to.
func ElevatedCredential() Credential {
	return Credential{Tier: TierElevated}
}

// UserCredential returns a user-scoped credential for an already validated token.
func UserCredential(token, subject string) Credential {
	return Credential{Tier: TierUserScoped, Token: token, Subject: subject}
}

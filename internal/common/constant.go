package common

// Database settings used to scope a transaction to one end user, following
// the PostgREST convention so the same row-level policies apply.
const (
	JWTClaimsSetting  = "request.jwt.claims"
	JWTSubjectSetting = "request.jwt.claim.sub"
)

// MemoryDSN selects the in-process profile store instead of PostgreSQL.
const MemoryDSN = "memory"

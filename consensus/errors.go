package consensus

// ErrorKind enumerates the tagged failure taxonomy from spec §7. It
// replaces the source's string-typed error payloads per the "callback-to-
// result migration" design note: every verification path returns one of
// these instead of a bare error.
type ErrorKind string

const (
	// OK is the zero value; callers check it with kind == OK rather than
	// err == nil, since these are not themselves Go errors.
	OK ErrorKind = ""

	// Cryptographic — dropped locally, never relayed.
	SignatureInvalid ErrorKind = "signature_invalid"
	PowInvalid        ErrorKind = "pow_invalid"
	MalformedKey      ErrorKind = "malformed_key"

	// State — silently swallowed, metrics incremented.
	StalePropose    ErrorKind = "stale_propose"
	DuplicateVote   ErrorKind = "duplicate_vote"
	UnknownPending  ErrorKind = "unknown_pending"
	IndexLookupFailed ErrorKind = "index_lookup_failed"

	// External — logged, current operation aborted, next tick retries.
	MinerTimeout    ErrorKind = "miner_timeout"
	MinerError      ErrorKind = "miner_error"
	PeerTimeout     ErrorKind = "peer_timeout"
	PeerHttpError   ErrorKind = "peer_http_error"
	PersistenceError ErrorKind = "persistence_error"

	// Fatal — aborts the process at startup only.
	ConfigInvalid ErrorKind = "config_invalid"
)

// Error satisfies the error interface so an ErrorKind can be returned or
// wrapped wherever idiomatic Go expects one (e.g. from the miner
// subprocess boundary), without forcing every internal call site to do so.
func (k ErrorKind) Error() string {
	if k == OK {
		return "consensus: ok"
	}
	return "consensus: " + string(k)
}

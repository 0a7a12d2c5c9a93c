package externalapi

// NodeFlags are the header-graph node flags of spec §3: Reachable,
// Functional, Active. They form a bitmask so a node can be tested for
// membership in several of the derived sets at once.
type NodeFlags uint8

const (
	// FlagFunctional means the body is present and locally validated.
	FlagFunctional NodeFlags = 1 << iota
	// FlagReachable means there is a Functional path from genesis to this node.
	FlagReachable
	// FlagActive means the node lies on the current best chain.
	FlagActive
)

// Has reports whether all bits in want are set.
func (f NodeFlags) Has(want NodeFlags) bool {
	return f&want == want
}

// DataStatus is the outcome of admitting a header or body (spec §6.1, §7 tier 3).
type DataStatus int

const (
	// StatusAccepted means the data was ingested.
	StatusAccepted DataStatus = iota
	// StatusRejected means the data was a duplicate or otherwise uninteresting.
	StatusRejected
	// StatusInvalid means the data was standalone-bad; ban-worthy.
	StatusInvalid
	// StatusUnreachable means the data is below lo_horizon.
	StatusUnreachable
)

// String renders the status for logging.
func (s DataStatus) String() string {
	switch s {
	case StatusAccepted:
		return "Accepted"
	case StatusRejected:
		return "Rejected"
	case StatusInvalid:
		return "Invalid"
	case StatusUnreachable:
		return "Unreachable"
	default:
		return "Unknown"
	}
}

// RequestDataEvent is emitted by EnumCongestions (spec §4.4) to ask a
// collaborator to fetch a header or body at the boundary of a gap.
type RequestDataEvent struct {
	ID            DomainHash
	WantsBody     bool
	SuggestedPeer PeerID
}

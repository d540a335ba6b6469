package headers

import "time"

// Signal is the three-state outcome of a single authenticity check.
// Unknown means the signal could not be determined; it is never collapsed
// into a pass or a fail. The classification policy decides how to weigh it.
type Signal int

const (
	SignalUnknown Signal = iota
	SignalPass
	SignalFail
)

func (s Signal) String() string {
	switch s {
	case SignalPass:
		return "pass"
	case SignalFail:
		return "fail"
	default:
		return "unknown"
	}
}

// Hop is one entry of the Received trace, oldest last.
type Hop struct {
	FromHost  string
	Timestamp time.Time
	TLS       bool
}

// Signals holds the secondary authenticity evidence extracted from one
// message. Produced once per message and immutable afterwards.
type Signals struct {
	SPF   Signal
	DKIM  Signal
	DMARC Signal

	// TransportSecure is true when at least one hop of the Received
	// trace used encrypted transport. Absence of evidence means false.
	TransportSecure bool

	// SenderDomainExists reports whether the envelope sender's domain
	// has working mail exchange configuration. SignalUnknown when the
	// lookup was unavailable or timed out.
	SenderDomainExists Signal

	// Hops is the parsed Received trace, kept as verdict evidence.
	Hops []Hop
}

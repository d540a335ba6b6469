// Package classify merges the alias verification result and the header
// signals into a single routing verdict.
//
// The alias proof is load-bearing: only an authentic alias whose domain
// binding admits the actual sender produces a verified verdict. Header
// signals are advisory evidence attached for logging and audit; they never
// promote a failed alias check and never demote a passed one.
package classify

import (
	"github.com/soteria-mail/soteria/alias"
	"github.com/soteria-mail/soteria/headers"
)

// Disposition is the terminal state of a message's classification.
type Disposition int

const (
	Failed Disposition = iota
	Verified
)

func (d Disposition) String() string {
	if d == Verified {
		return "verified"
	}
	return "failed"
}

// Routing maps dispositions to mailbox folders. Read-only to the engine.
type Routing struct {
	VerifiedFolder string
	FailedFolder   string
}

// Verdict is the classification outcome plus the evidence that produced
// it. Every processed message gets exactly one verdict.
type Verdict struct {
	Disposition Disposition
	Folder      string

	Alias          alias.Result
	Signals        headers.Signals
	SenderDomain   string
	BindingMatched bool
}

// Engine applies the decision policy. It is pure and deterministic:
// identical inputs always yield identical verdicts, so classifications
// can be replayed from the audit trail.
type Engine struct {
	routing Routing
}

func NewEngine(routing Routing) *Engine {
	return &Engine{routing: routing}
}

// Decide produces the verdict for one message. No I/O, no retained state.
func (e *Engine) Decide(aliasResult alias.Result, signals headers.Signals, senderDomain string) Verdict {
	v := Verdict{
		Alias:        aliasResult,
		Signals:      signals,
		SenderDomain: senderDomain,
	}

	if aliasResult.Kind == alias.Authentic {
		v.BindingMatched = aliasResult.BindingMatches(senderDomain)
		if v.BindingMatched {
			v.Disposition = Verified
		}
	}

	if v.Disposition == Verified {
		v.Folder = e.routing.VerifiedFolder
	} else {
		v.Folder = e.routing.FailedFolder
	}
	return v
}

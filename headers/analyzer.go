// Package headers extracts secondary authenticity evidence from message
// headers: the SPF/DKIM/DMARC verdicts reported by the receiving mail
// infrastructure, transport security of the delivery path, and existence
// of the sender's domain.
//
// Every signal fails open: a missing or unparseable header degrades to
// SignalUnknown (or false for the TLS flag) instead of aborting analysis.
// The domain existence check runs through an injected Resolver bounded by
// a timeout, so the analyzer itself stays deterministic and testable.
package headers

import (
	"context"
	netmail "net/mail"
	"regexp"
	"strings"
	"time"

	"github.com/emersion/go-message"
)

// checks evaluated from Authentication-Results headers.
var authChecks = []string{"spf", "dkim", "dmarc"}

var authResultRe = regexp.MustCompile(`(?i)\b(spf|dkim|dmarc)\s*=\s*([a-z0-9]+)`)

// Resolver is the injected capability for sender-domain existence checks.
// Implementations must honor context cancellation.
type Resolver interface {
	// DomainHasMX reports whether domain has usable mail exchange
	// configuration (MX records, or address records as fallback).
	DomainHasMX(ctx context.Context, domain string) (bool, error)
}

// Analyzer evaluates message headers into Signals.
type Analyzer struct {
	resolver   Resolver
	dnsTimeout time.Duration
}

// NewAnalyzer returns an analyzer using the given resolver for domain
// existence checks, each bounded by dnsTimeout. A nil resolver disables
// the check; it then always yields SignalUnknown.
func NewAnalyzer(resolver Resolver, dnsTimeout time.Duration) *Analyzer {
	if dnsTimeout <= 0 {
		dnsTimeout = 10 * time.Second
	}
	return &Analyzer{resolver: resolver, dnsTimeout: dnsTimeout}
}

// Analyze extracts all signals from the given headers. It never fails:
// whatever cannot be determined is reported as unknown.
func (a *Analyzer) Analyze(ctx context.Context, hdr message.Header, senderDomain string) Signals {
	signals := Signals{}
	signals.SPF, signals.DKIM, signals.DMARC = a.parseAuthenticationResults(hdr)
	signals.Hops = parseReceived(hdr)
	for _, hop := range signals.Hops {
		// TODO: require TLS on every hop outside the own MTAs instead
		// of accepting a single encrypted hop.
		if hop.TLS {
			signals.TransportSecure = true
			break
		}
	}
	signals.SenderDomainExists = a.senderDomainExists(ctx, senderDomain)
	return signals
}

// parseAuthenticationResults extracts the spf, dkim and dmarc verdicts.
// Multiple Authentication-Results headers are scanned in order; the first
// reported verdict per check wins.
func (a *Analyzer) parseAuthenticationResults(hdr message.Header) (spf, dkim, dmarc Signal) {
	found := make(map[string]Signal, len(authChecks))

	fields := hdr.FieldsByKey("Authentication-Results")
	for fields.Next() {
		for _, m := range authResultRe.FindAllStringSubmatch(fields.Value(), -1) {
			check := strings.ToLower(m[1])
			if _, ok := found[check]; !ok {
				found[check] = mapAuthVerdict(m[2])
			}
		}
	}

	return found["spf"], found["dkim"], found["dmarc"]
}

// mapAuthVerdict maps an RFC 8601 result keyword onto the three-state
// signal. Intermediate verdicts (none, neutral, softfail, temperror and
// friends) stay unknown; only definite outcomes pass or fail.
func mapAuthVerdict(v string) Signal {
	switch strings.ToLower(v) {
	case "pass", "bestguesspass":
		return SignalPass
	case "fail":
		return SignalFail
	default:
		return SignalUnknown
	}
}

// parseReceived extracts the delivery trace from the Received headers.
func parseReceived(hdr message.Header) []Hop {
	var hops []Hop

	fields := hdr.FieldsByKey("Received")
	for fields.Next() {
		value := fields.Value()
		clause, datePart, _ := strings.Cut(value, ";")

		hop := Hop{TLS: hopUsedTLS(clause)}
		if parts := strings.Fields(clause); len(parts) > 1 && strings.EqualFold(parts[0], "from") {
			hop.FromHost = parts[1]
		}
		if ts, err := netmail.ParseDate(strings.TrimSpace(datePart)); err == nil {
			hop.Timestamp = ts
		}
		hops = append(hops, hop)
	}
	return hops
}

// hopUsedTLS inspects the with-clause of one Received header for evidence
// of encrypted transport.
func hopUsedTLS(clause string) bool {
	if strings.Contains(clause, "using TLS") || strings.Contains(clause, "version=TLS") {
		return true
	}
	for _, proto := range []string{"ESMTPS", "ESMTPSA", "UTF8SMTPS"} {
		if strings.Contains(clause, "with "+proto) {
			return true
		}
	}
	return false
}

// senderDomainExists runs the injected existence check, time-bounded. Any
// failure to determine the answer degrades to unknown.
func (a *Analyzer) senderDomainExists(ctx context.Context, domain string) Signal {
	if a.resolver == nil || domain == "" {
		return SignalUnknown
	}

	ctx, cancel := context.WithTimeout(ctx, a.dnsTimeout)
	defer cancel()

	exists, err := a.resolver.DomainHasMX(ctx, domain)
	if err != nil {
		return SignalUnknown
	}
	if exists {
		return SignalPass
	}
	return SignalFail
}

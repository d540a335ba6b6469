package headers

import (
	"regexp"
	"strings"

	"github.com/emersion/go-message"
	"github.com/emersion/go-message/mail"

	"github.com/soteria-mail/soteria/helpers"
)

// addressRe is the fallback extractor for header values that defeat the
// structured address parser. Matches the original address shape closely
// enough for classification purposes.
var addressRe = regexp.MustCompile(`[\w.+-]+@[\w-]+\.[\w.-]+`)

// SenderAddress returns the first From address, lowercased, or "" when
// none can be extracted.
func SenderAddress(hdr message.Header) string {
	addrs := addressesByKey(hdr, "From")
	if len(addrs) == 0 {
		return ""
	}
	return addrs[0]
}

// SenderDomain returns the domain of the first From address.
func SenderDomain(hdr message.Header) string {
	sender := SenderAddress(hdr)
	if sender == "" {
		return ""
	}
	_, domain := helpers.SplitEmailAddress(sender)
	return domain
}

// OwnRecipient finds the recipient address belonging to one of the given
// own domains, scanning To, then Cc, then Bcc. Catchall delivery can list
// several recipients; only the one at an own domain is the alias to check.
func OwnRecipient(hdr message.Header, ownDomains []string) (localPart, domain string, ok bool) {
	for _, key := range []string{"To", "Cc", "Bcc"} {
		for _, addr := range addressesByKey(hdr, key) {
			local, dom := helpers.SplitEmailAddress(addr)
			for _, own := range ownDomains {
				if strings.EqualFold(dom, own) {
					return local, dom, true
				}
			}
		}
	}
	return "", "", false
}

// addressesByKey extracts all addresses from a header field, falling back
// to a permissive regexp scan when the structured parser rejects the
// field. Malformed headers degrade, they never abort analysis.
func addressesByKey(hdr message.Header, key string) []string {
	mh := mail.Header{Header: hdr}

	list, err := mh.AddressList(key)
	if err == nil {
		addrs := make([]string, 0, len(list))
		for _, a := range list {
			if a.Address != "" {
				addrs = append(addrs, strings.ToLower(a.Address))
			}
		}
		return addrs
	}

	var addrs []string
	fields := hdr.FieldsByKey(key)
	for fields.Next() {
		for _, m := range addressRe.FindAllString(fields.Value(), -1) {
			addrs = append(addrs, strings.ToLower(m))
		}
	}
	return addrs
}

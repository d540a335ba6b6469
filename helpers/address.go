package helpers

import "strings"

// SplitEmailAddress splits an address into its local part and domain.
// The address is lowercased first; local parts produced by the alias
// codec are case-insensitive by construction.
func SplitEmailAddress(email string) (string, string) {
	email = strings.ToLower(email)
	local, domain, found := strings.Cut(email, "@")
	if !found {
		return email, ""
	}
	return local, domain
}

// RegistrableLabel returns the second-level label of a domain, e.g.
// "github" for "github.com" or "mail.github.com". Single-label names
// are returned as-is.
func RegistrableLabel(domain string) string {
	domain = strings.ToLower(strings.TrimSuffix(domain, "."))
	labels := strings.Split(domain, ".")
	if len(labels) < 2 {
		return domain
	}
	return labels[len(labels)-2]
}

// DomainHasLabel reports whether any dot-separated label of domain
// equals label. Comparison is case-insensitive.
func DomainHasLabel(domain, label string) bool {
	if label == "" || domain == "" {
		return false
	}
	domain = strings.ToLower(strings.TrimSuffix(domain, "."))
	label = strings.ToLower(label)
	for _, l := range strings.Split(domain, ".") {
		if l == label {
			return true
		}
	}
	return false
}

package headers

import (
	"context"
	"errors"
	"net"

	"github.com/soteria-mail/soteria/pkg/metrics"
)

// NetResolver checks domain existence against live DNS. It implements
// Resolver; timeouts are enforced by the caller through the context.
type NetResolver struct {
	resolver *net.Resolver
}

func NewNetResolver() *NetResolver {
	return &NetResolver{resolver: &net.Resolver{}}
}

// DomainHasMX reports whether domain is configured to receive mail. A
// domain without MX records but with address records still counts, per
// the implicit MX rule.
func (r *NetResolver) DomainHasMX(ctx context.Context, domain string) (bool, error) {
	mx, err := r.resolver.LookupMX(ctx, domain)
	if err == nil && len(mx) > 0 {
		metrics.MXLookups.WithLabelValues("found").Inc()
		return true, nil
	}

	var dnsErr *net.DNSError
	if err != nil && !(errors.As(err, &dnsErr) && dnsErr.IsNotFound) {
		metrics.MXLookups.WithLabelValues("error").Inc()
		return false, err
	}

	hosts, err := r.resolver.LookupHost(ctx, domain)
	if err != nil {
		if errors.As(err, &dnsErr) && dnsErr.IsNotFound {
			metrics.MXLookups.WithLabelValues("not_found").Inc()
			return false, nil
		}
		metrics.MXLookups.WithLabelValues("error").Inc()
		return false, err
	}

	if len(hosts) > 0 {
		metrics.MXLookups.WithLabelValues("found").Inc()
		return true, nil
	}
	metrics.MXLookups.WithLabelValues("not_found").Inc()
	return false, nil
}

package proxy

import (
	"time"

	"github.com/icecave/relay/outbound"
)

// DefaultTimeout bounds the outbound send when Options does not specify a
// timeout.
const DefaultTimeout = 100 * time.Second

// DefaultVersion is the outbound protocol version used when Options does not
// specify one and the request is not an upgrade.
const DefaultVersion = outbound.Version20

// Options is the per-call configuration of a proxied exchange.
//
// The zero value requests the defaults: a 100 second send timeout, HTTP/2,
// and version negotiation that permits downgrade.
type Options struct {
	// Timeout bounds the outbound send, from dispatch until response
	// headers arrive. Zero means DefaultTimeout.
	Timeout time.Duration

	// Version is the desired outbound protocol version. VersionUnset means
	// DefaultVersion. Upgrade requests ignore it and use HTTP/1.1.
	Version outbound.Version

	// Policy controls version negotiation. The zero value permits
	// downgrade.
	Policy outbound.VersionPolicy
}

// timeout returns the effective send timeout.
func (options Options) timeout() time.Duration {
	if options.Timeout <= 0 {
		return DefaultTimeout
	}

	return options.Timeout
}

// version returns the effective outbound version.
func (options Options) version() outbound.Version {
	if options.Version == outbound.VersionUnset {
		return DefaultVersion
	}

	return options.Version
}

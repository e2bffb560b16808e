// Package hostid resolves the local host's identity: its canonical
// name (used for event-tree paths and the substitution seed map) and
// the set of names that count as "localhost" for the spawn
// controller's allow_localhost check.
package hostid

import (
	"net"
	"os"
	"strings"

	"github.com/pkg/errors"
)

// Identity is the resolved local host identity.
type Identity struct {
	// Name is the canonical host name used in event-tree paths
	// (~user/.hcron/<Name>/...).
	Name string
	// Aliases is the set of names (lowercased) that refer to this host,
	// used by the spawn controller's allow_localhost check.
	Aliases map[string]struct{}
}

// Resolve determines the local host's identity using the kernel hostname
// and its forward/reverse DNS aliases, falling back gracefully when DNS
// is unavailable (a scheduler must still start on an offline host).
func Resolve() (Identity, error) {
	name, err := os.Hostname()
	if err != nil {
		return Identity{}, errors.Wrap(err, "read hostname")
	}

	aliases := map[string]struct{}{
		"localhost":    {},
		"127.0.0.1":    {},
		"::1":          {},
		strings.ToLower(name): {},
	}

	if addrs, err := net.LookupHost(name); err == nil {
		for _, a := range addrs {
			aliases[a] = struct{}{}
		}
	}
	if cname, err := net.LookupCNAME(name); err == nil {
		aliases[strings.ToLower(strings.TrimSuffix(cname, "."))] = struct{}{}
	}

	return Identity{Name: name, Aliases: aliases}, nil
}

// IsLocal reports whether host refers to this machine.
func (id Identity) IsLocal(host string) bool {
	_, ok := id.Aliases[strings.ToLower(host)]
	return ok
}

package env

import (
	"os"
	"strings"
)

// Prefix namespaces process-level settings read before config.Load runs.
const Prefix = "FULFILLMENT_"

// Get returns Prefix+key, then the bare key, then fallback. Empty values
// count as unset.
func Get(key, fallback string) string {
	for _, name := range []string{Prefix + key, key} {
		if val := strings.TrimSpace(os.Getenv(name)); val != "" {
			return val
		}
	}
	return fallback
}

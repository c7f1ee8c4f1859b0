package instance

import "os"

// GetID identifies this process in logs. DYNO is checked first for
// platform-assigned names.
func GetID(fallback string) string {
	for _, key := range []string{"FULFILLMENT_INSTANCE_ID", "DYNO"} {
		if id := os.Getenv(key); id != "" {
			return id
		}
	}
	return fallback
}

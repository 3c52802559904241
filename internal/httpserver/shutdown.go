package httpserver

import "time"

// DefaultShutdownTimeout bounds graceful shutdowns when none is configured.
const DefaultShutdownTimeout = 10 * time.Second

// ShutdownTimeout returns configured, or the default when it is not positive.
func ShutdownTimeout(configured time.Duration) time.Duration {
	if configured <= 0 {
		return DefaultShutdownTimeout
	}
	return configured
}

//go:build !linux

package agent

import "log/slog"

// SetupInit is a no-op outside Linux.
func SetupInit(*slog.Logger) {}

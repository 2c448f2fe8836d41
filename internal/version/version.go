// Package version carries build identity constants.
package version

const (
	// Name identifies the service in logs and traces.
	Name = "stockwatch"

	// Version is overridden at release time via -ldflags.
	Version = "dev"
)

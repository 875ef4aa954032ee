package version

// Version is the current version of the trading engine.
// This value is set at build time using ldflags:
// -ldflags "-X github.com/rxtech-lab/argo-spot/internal/version.Version=0.2.0"
// The default value indicates a development build.
var Version = "v0.1.0"

// GetVersion returns the current version of the engine.
func GetVersion() string {
	return Version
}

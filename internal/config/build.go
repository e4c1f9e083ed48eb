package config

// Build metadata injected at compile time:
//
//	go build -ldflags "-X finpulse/internal/config.version=1.4.0 \
//	    -X finpulse/internal/config.commit=$(git rev-parse --short HEAD) \
//	    -X finpulse/internal/config.buildTime=$(date -u +%Y-%m-%dT%H:%M:%SZ)"
//
// Plain `go build` runs keep the placeholder values below.
var (
	version   = "dev"
	commit    = "none"
	buildTime = "unknown"
)

// NewBuildInfo snapshots the linker-injected values into the BuildInfo that
// Config carries. Called once during config load; the engine's startup log
// line reports it.
func NewBuildInfo() BuildInfo {
	return BuildInfo{
		Version:   version,
		Commit:    commit,
		BuildTime: buildTime,
	}
}

package config

import "fmt"

// Set with -ldflags "-X spectatorsheet/internal/config.version=..." (likewise
// commit and buildTime) by the release build.
var (
	version   = "dev"
	commit    = "none"
	buildTime = "unknown"
)

// BuildInfo identifies the running binary in logs and the upstream User-Agent.
type BuildInfo struct {
	Version   string
	Commit    string
	BuildTime string
}

// NewBuildInfo reads the linker-injected values.
func NewBuildInfo() BuildInfo {
	return BuildInfo{
		Version:   version,
		Commit:    commit,
		BuildTime: buildTime,
	}
}

// UserAgent appends the build to a product token, e.g.
// "SpectatorSheet/1.0 (1.2.3; abc1234)". Unreleased builds return product
// unchanged.
func (b BuildInfo) UserAgent(product string) string {
	if b.Version == "" || b.Version == "dev" {
		return product
	}
	return fmt.Sprintf("%s (%s; %s)", product, b.Version, b.Commit)
}

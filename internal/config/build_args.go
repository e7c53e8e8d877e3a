package config

import "fmt"

// Injected at compile time via -ldflags.
var (
	Commit    = "unknown"
	BuildDate = "unknown"
)

func GetFormattedBuildArgs() string {
	return fmt.Sprintf("%v @ %v (%v)", ModuleName, Commit, BuildDate)
}

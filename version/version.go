package version

import "fmt"

const (
	Major uint = 0
	Minor uint = 1
	Patch uint = 0
)

// Build is the build metadata, set with -ldflags "-X dllbindgen/version.Build=...".
var Build = "dev"

func String() string {
	if len(Build) <= 0 {
		return fmt.Sprintf("%d.%d.%d", Major, Minor, Patch)
	}
	return fmt.Sprintf("%d.%d.%d+%s", Major, Minor, Patch, Build)
}

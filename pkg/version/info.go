package version

import (
	"fmt"
	"strings"
)

const snapshotString = "snapshot"

var (
	// Build-time injected via -ldflags "-X github.com/castfetch/castfetch/pkg/version.Version=..."
	Version    string
	CommitHash string
	BuildTime  string
	Prerelease string
	Snapshot   string
	OS         string
	Arch       string
	Branch     string
)

// Info is a snapshot of the build-time variables.
type Info struct {
	Version    string
	CommitHash string
	BuildTime  string
	Prerelease string
	Snapshot   bool
	OS         string
	Arch       string
	Branch     string
}

func Get() Info {
	return Info{
		Version:    Version,
		CommitHash: CommitHash,
		BuildTime:  BuildTime,
		Prerelease: Prerelease,
		Snapshot:   Snapshot == "true",
		OS:         OS,
		Arch:       Arch,
		Branch:     Branch,
	}
}

// GetVersion returns the version information in a human consumable way.
func GetVersion() string {
	return Get().String()
}

func (i Info) String() string {
	version := i.Version
	if version == "" {
		version = "dev"
	}
	var b strings.Builder
	b.WriteString(version)
	if i.CommitHash != "" {
		fmt.Fprintf(&b, "(%s)", shortHash(i.CommitHash))
	}
	if i.Prerelease != "" {
		fmt.Fprintf(&b, "-%s", i.Prerelease)
	} else if i.Snapshot {
		fmt.Fprintf(&b, "-%s", snapshotString)
	}
	if i.Branch != "" && i.Branch != "main" && i.Branch != "HEAD" {
		fmt.Fprintf(&b, "[%s]", i.Branch)
	}
	switch {
	case i.OS != "" && i.Arch != "":
		fmt.Fprintf(&b, "/%s-%s", i.OS, i.Arch)
	case i.OS != "":
		fmt.Fprintf(&b, "/%s", i.OS)
	}
	return b.String()
}

func shortHash(hash string) string {
	if len(hash) > 12 {
		return hash[:12]
	}
	return hash
}

// Package version exposes build information set with -ldflags, e.g.
//
//	go build -ldflags "-X github.com/information-sharing-networks/stp-demo/internal/version.version=v0.3.0"
package version

var (
	version   = "dev"
	buildDate = "unknown"
	gitCommit = "unknown"
)

type Info struct {
	Version   string
	BuildDate string
	GitCommit string
}

func Get() Info {
	return Info{
		Version:   version,
		BuildDate: buildDate,
		GitCommit: gitCommit,
	}
}

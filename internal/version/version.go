// Package version holds build information injected with -ldflags, e.g.
//
//	go build -ldflags "-X github.com/bissquit/outreach-queue/internal/version.Version=1.2.0" ./cmd/outreach
package version

// Version is the released version of the outreach binary.
var Version = "0.1.0"

// GitCommit is the commit the binary was built from.
var GitCommit = "unknown"

// BuildDate is the UTC build timestamp.
var BuildDate = "unknown"

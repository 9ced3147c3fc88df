// cmd/chorus/main.go
package main

import (
	chorus "github.com/mwiater/chorus/internal/commands"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

var (
	setVersionInfo = chorus.SetVersionInfo
	executeCmd     = chorus.Execute
)

// main starts the chorus CLI by delegating to the cobra root command. Build metadata is
// injected with -ldflags "-X main.version=...".
func main() {
	setVersionInfo(version, commit, date)
	executeCmd()
}

package main

import (
	"context"
	"fmt"
	"os"

	"github.com/tphakala/twsaudio/cmd"
	"github.com/tphakala/twsaudio/internal/buildinfo"
	"github.com/tphakala/twsaudio/internal/conf"
)

// Injected at build time with -ldflags "-X main.version=... -X main.buildDate=..."
var (
	version   = ""
	buildDate = ""
)

func main() {
	bi := buildinfo.NewContext(version, buildDate, "")
	settings := &conf.Settings{}

	rootCmd := cmd.RootCommand(bi, settings)
	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

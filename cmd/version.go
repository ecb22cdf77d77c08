package cmd

import (
	"fmt"
	"runtime/debug"

	"github.com/spf13/cobra"
)

// Actual version can be specified in build command.
var version = "unknown"

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version and build details",
	Run: func(_ *cobra.Command, _ []string) {
		fmt.Printf("%s version: %s\n", app, version)
		if revision, goVersion := buildInfo(); revision != "" {
			fmt.Printf("revision: %s (%s)\n", revision, goVersion)
		}
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}

func buildInfo() (string, string) {
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return "", ""
	}
	for _, s := range info.Settings {
		if s.Key == "vcs.revision" {
			return s.Value, info.GoVersion
		}
	}
	return "", info.GoVersion
}

package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/mod/semver"
)

// version is set via -ldflags at build time.
var version = "(devel)"

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the current version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println("mathbuddy", displayVersion(version))
	},
}

// displayVersion normalizes a release version to canonical semver and marks
// anything unparseable.
func displayVersion(v string) string {
	if v == "(devel)" {
		return v
	}
	if !strings.HasPrefix(v, "v") {
		v = "v" + v
	}
	if !semver.IsValid(v) {
		return v + " (unrecognized)"
	}
	return semver.Canonical(v)
}

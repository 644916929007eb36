// Command codayctl is a reference terminal client for the Coday engine: an
// interactive chat session (plain or full-screen TUI), thread listing, and
// a headless scheduler runner. The HTTP/SSE transport that a browser UI
// would use is intentionally absent; this client drives the same Session
// API a server transport would.
package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
)

var (
	flagConfigDir string
	flagProject   string
)

func main() {
	root := &cobra.Command{
		Use:           "codayctl",
		Short:         "Coday multi-agent orchestrator client",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	defaultConfigDir := ""
	if home, err := os.UserHomeDir(); err == nil {
		defaultConfigDir = filepath.Join(home, ".coday")
	}
	root.PersistentFlags().StringVar(&flagConfigDir, "config-dir", defaultConfigDir, "Coday user config directory")
	root.PersistentFlags().StringVarP(&flagProject, "project", "p", "", "project name (as declared in user.yml)")

	root.AddCommand(newChatCmd())
	root.AddCommand(newRunCmd())
	root.AddCommand(newThreadsCmd())
	root.AddCommand(newScheduleCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "codayctl:", err)
		os.Exit(1)
	}
}

func requireProject() error {
	if flagProject == "" {
		return fmt.Errorf("--project is required")
	}
	return nil
}

package main

import (
	"fmt"
	"os"
	"strconv"

	"github.com/spf13/cobra"

	"loom/internal/config"
	"loom/internal/store"
)

const (
	ansiReset = "\x1b[0m"
	ansiBlue  = "\x1b[34m"
)

func newStatusCommand(ctx *commandContext) *cobra.Command {
	var jsonOut bool

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show database and daemon state",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withStore(func(cfg *config.Config, st *store.Store) error {
				routes, err := st.ListRoutes(cmd.Context())
				if err != nil {
					return err
				}
				total := 0
				for _, route := range routes {
					stages, err := st.StagesForRoute(cmd.Context(), route.ID)
					if err != nil {
						return err
					}
					for _, stage := range stages {
						assets, err := st.ListAssetsAtStage(cmd.Context(), stage.ID)
						if err != nil {
							return err
						}
						total += len(assets)
					}
				}
				daemonRunning := lockHeld(cfg.LockPath())

				if jsonOut {
					return writeJSON(cmd, struct {
						Database string `json:"database"`
						Routes   int    `json:"routes"`
						Assets   int    `json:"assets"`
						Daemon   bool   `json:"daemon_running"`
					}{cfg.DatabasePath(), len(routes), total, daemonRunning})
				}

				out := cmd.OutOrStdout()
				colorize := shouldColorize(out)
				fmt.Fprintln(out, sectionHeader("Loom", colorize))
				fmt.Fprintf(out, "  database: %s\n", cfg.DatabasePath())
				fmt.Fprintf(out, "  routes:   %s\n", strconv.Itoa(len(routes)))
				fmt.Fprintf(out, "  assets:   %s\n", strconv.Itoa(total))
				state := "stopped"
				if daemonRunning {
					state = "running"
				}
				fmt.Fprintf(out, "  daemon:   %s\n", state)
				return nil
			})
		},
	}

	cmd.Flags().BoolVar(&jsonOut, "json", false, "Machine-readable output")
	return cmd
}

func sectionHeader(title string, colorize bool) string {
	line := "== " + title + " =="
	if colorize {
		return ansiBlue + line + ansiReset
	}
	return line
}

// lockHeld reports whether a daemon holds the instance lock. The check
// is advisory: the file existing without a holder reads as stopped.
func lockHeld(path string) bool {
	if _, err := os.Stat(path); err != nil {
		return false
	}
	probe, err := tryProbeLock(path)
	if err != nil {
		return false
	}
	return probe
}

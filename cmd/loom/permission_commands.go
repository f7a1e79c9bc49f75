package main

import (
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"loom/internal/asset"
	"loom/internal/authz"
	"loom/internal/config"
	"loom/internal/store"
)

func newPermissionCommand(ctx *commandContext) *cobra.Command {
	permCmd := &cobra.Command{
		Use:   "permission",
		Short: "Inspect permission rules and run checks",
	}

	permCmd.AddCommand(newPermissionListCommand(ctx))
	permCmd.AddCommand(newPermissionCheckCommand(ctx))
	permCmd.AddCommand(newPermissionLogCommand(ctx))

	return permCmd
}

func newPermissionListCommand(ctx *commandContext) *cobra.Command {
	var jsonOut bool

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List configured permission rules",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withStore(func(cfg *config.Config, st *store.Store) error {
				rules, err := st.PermissionRules(cmd.Context())
				if err != nil {
					return err
				}
				if jsonOut {
					return writeJSON(cmd, rules)
				}

				rows := make([][]string, 0, len(rules))
				for _, rule := range rules {
					action := rule.Action
					if action == "" {
						action = "*"
					}
					rows = append(rows, []string{
						strconv.FormatInt(rule.ID, 10),
						ruleKind(rule),
						action,
						ruleScope(rule),
						strconv.Itoa(rule.Logging),
					})
				}
				fmt.Fprintln(cmd.OutOrStdout(), renderTable(
					[]string{"ID", "Kind", "Action", "Scope", "Logging"}, rows, 0, 4))
				return nil
			})
		},
	}

	cmd.Flags().BoolVar(&jsonOut, "json", false, "Machine-readable output")
	return cmd
}

func ruleKind(rule authz.Rule) string {
	kind := "permission"
	if rule.Prohibition {
		kind = "prohibition"
	}
	if rule.Default {
		kind = "default " + kind
	}
	return kind
}

func ruleScope(rule authz.Rule) string {
	scope := ""
	add := func(label string, id int64) {
		if id == 0 {
			return
		}
		if scope != "" {
			scope += " "
		}
		scope += fmt.Sprintf("%s=%d", label, id)
	}
	add("type", rule.TypeID)
	add("route", rule.RouteID)
	add("station", rule.StationID)
	add("stage", rule.StageID)
	add("asset", rule.AssetID)
	if scope == "" {
		scope = "global"
	}
	return scope
}

func newPermissionCheckCommand(ctx *commandContext) *cobra.Command {
	var action string
	var username string
	var assetID int64
	var stationID int64

	cmd := &cobra.Command{
		Use:   "check",
		Short: "Resolve an action against the rule set",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withStore(func(cfg *config.Config, st *store.Store) error {
				var user *asset.User
				var err error
				if username != "" {
					user, err = st.UserByUsername(cmd.Context(), username)
					if err != nil {
						return err
					}
					if user == nil {
						return fmt.Errorf("user %q not found", username)
					}
				}

				var a *asset.Asset
				if assetID != 0 {
					a, err = st.AssetByID(cmd.Context(), assetID)
					if err != nil {
						return err
					}
					if a == nil {
						return fmt.Errorf("asset %d not found", assetID)
					}
				}

				var station *asset.Station
				if stationID != 0 {
					station, err = st.StationByID(cmd.Context(), stationID)
					if err != nil {
						return err
					}
				}

				engine := &authz.Engine{Source: st, Audit: st}
				decision, err := engine.Check(cmd.Context(),
					authz.RequesterFor(user, a, station),
					authz.Scope{Action: action, Asset: a, StationID: stationID})
				if err != nil {
					return err
				}

				out := cmd.OutOrStdout()
				verdict := "DENIED"
				if decision.Granted {
					verdict = "GRANTED"
				}
				if decision.Rule != nil {
					fmt.Fprintf(out, "%s by %s\n", verdict, decision.Rule)
				} else {
					fmt.Fprintf(out, "%s (no rule matched)\n", verdict)
				}
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&action, "action", "", "Action sysname")
	cmd.Flags().StringVar(&username, "user", "", "Requesting username")
	cmd.Flags().Int64Var(&assetID, "asset", 0, "Asset id")
	cmd.Flags().Int64Var(&stationID, "station", 0, "Station id")
	_ = cmd.MarkFlagRequired("action")
	return cmd
}

func newPermissionLogCommand(ctx *commandContext) *cobra.Command {
	var limit int
	var jsonOut bool

	cmd := &cobra.Command{
		Use:   "log",
		Short: "Show recent permission audit entries",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withStore(func(cfg *config.Config, st *store.Store) error {
				entries, err := st.PermissionLog(cmd.Context(), limit)
				if err != nil {
					return err
				}
				if jsonOut {
					return writeJSON(cmd, entries)
				}

				rows := make([][]string, 0, len(entries))
				for _, entry := range entries {
					verdict := "denied"
					if entry.Granted {
						verdict = "granted"
					}
					rows = append(rows, []string{
						entry.LoggedAt.Local().Format(time.DateTime),
						entry.Action,
						verdict,
						entry.Username,
						strconv.FormatInt(entry.RuleID, 10),
					})
				}
				fmt.Fprintln(cmd.OutOrStdout(), renderTable(
					[]string{"At", "Action", "Verdict", "User", "Rule"}, rows, 4))
				return nil
			})
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 50, "Maximum entries to show")
	cmd.Flags().BoolVar(&jsonOut, "json", false, "Machine-readable output")
	return cmd
}

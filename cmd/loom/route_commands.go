package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"loom/internal/asset"
	"loom/internal/config"
	"loom/internal/store"
	"loom/internal/workflow"
)

func newRouteCommand(ctx *commandContext) *cobra.Command {
	routeCmd := &cobra.Command{
		Use:   "route",
		Short: "Inspect routes and their stages",
	}

	routeCmd.AddCommand(newRouteListCommand(ctx))
	routeCmd.AddCommand(newRouteShowCommand(ctx))
	routeCmd.AddCommand(newRouteFlushCommand(ctx))

	return routeCmd
}

func newRouteListCommand(ctx *commandContext) *cobra.Command {
	var jsonOut bool

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List routes",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withStore(func(cfg *config.Config, st *store.Store) error {
				routes, err := st.ListRoutes(cmd.Context())
				if err != nil {
					return err
				}
				if jsonOut {
					return writeJSON(cmd, routes)
				}

				rows := make([][]string, 0, len(routes))
				for _, route := range routes {
					stages, err := st.StagesForRoute(cmd.Context(), route.ID)
					if err != nil {
						return err
					}
					rows = append(rows, []string{
						strconv.FormatInt(route.ID, 10),
						route.Name,
						strconv.Itoa(len(stages)),
					})
				}
				fmt.Fprintln(cmd.OutOrStdout(), renderTable(
					[]string{"ID", "Name", "Stages"}, rows, 0, 2))
				return nil
			})
		},
	}

	cmd.Flags().BoolVar(&jsonOut, "json", false, "Machine-readable output")
	return cmd
}

func newRouteShowCommand(ctx *commandContext) *cobra.Command {
	var jsonOut bool

	cmd := &cobra.Command{
		Use:   "show <route-id>",
		Short: "Show a route's stages and their variants",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			return ctx.withStore(func(cfg *config.Config, st *store.Store) error {
				route, err := st.RouteByID(cmd.Context(), id)
				if err != nil {
					return err
				}
				if route == nil {
					return fmt.Errorf("route %d not found", id)
				}
				stages, err := st.StagesForRoute(cmd.Context(), id)
				if err != nil {
					return err
				}

				if jsonOut {
					return writeJSON(cmd, struct {
						Route  *asset.Route   `json:"route"`
						Stages []*asset.Stage `json:"stages"`
					}{route, stages})
				}

				out := cmd.OutOrStdout()
				fmt.Fprintf(out, "Route #%d  %s\n", route.ID, route.Name)
				for _, stage := range stages {
					station, err := st.StationByID(cmd.Context(), stage.StationID)
					if err != nil {
						return err
					}
					name := ""
					if station != nil {
						name = station.Name
					}
					fmt.Fprintf(out, "  stage %d  %s\n", stage.ID, name)
					for _, variant := range stage.Routing {
						fmt.Fprintf(out, "    -> %s\n", describeVariant(variant))
					}
				}
				return nil
			})
		},
	}

	cmd.Flags().BoolVar(&jsonOut, "json", false, "Machine-readable output")
	return cmd
}

func describeVariant(v asset.RouteVariant) string {
	dest := strconv.FormatInt(v.Destination.ID, 10)
	if v.Destination.Return {
		dest = "return"
	}
	desc := "stage " + dest
	if v.AutoRoute {
		desc += ", auto"
	}
	if v.SuspendFurtherRouting {
		desc += ", suspends"
	}
	if n := len(v.Requirements); n > 0 {
		desc += fmt.Sprintf(", %d requirement(s)", n)
	}
	return desc
}

func newRouteFlushCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "flush <route-id>",
		Short: "Re-evaluate automatic routing for every asset on a route",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			return ctx.withManager(func(cfg *config.Config, st *store.Store, m *workflow.Manager) error {
				if err := m.FlushRoute(cmd.Context(), id); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Flushed route %d\n", id)
				return nil
			})
		},
	}
}

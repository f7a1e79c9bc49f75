package main

import (
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"loom/internal/asset"
	"loom/internal/config"
	"loom/internal/interpolate"
	"loom/internal/payload"
	"loom/internal/store"
	"loom/internal/workflow"
)

func newAssetCommand(ctx *commandContext) *cobra.Command {
	assetCmd := &cobra.Command{
		Use:   "asset",
		Short: "Inspect and move assets",
	}

	assetCmd.AddCommand(newAssetListCommand(ctx))
	assetCmd.AddCommand(newAssetShowCommand(ctx))
	assetCmd.AddCommand(newAssetAddCommand(ctx))
	assetCmd.AddCommand(newAssetSubmitCommand(ctx))
	assetCmd.AddCommand(newAssetRewindCommand(ctx))

	return assetCmd
}

func newAssetListCommand(ctx *commandContext) *cobra.Command {
	var routeID int64
	var stageID int64
	var operator string
	var jsonOut bool

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List assets on a route, stage, or operator desk",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withStore(func(cfg *config.Config, st *store.Store) error {
				var assets []*asset.Asset
				var err error
				switch {
				case stageID != 0:
					assets, err = st.ListAssetsAtStage(cmd.Context(), stageID)
				case operator != "":
					assets, err = st.ListAssetsForOperator(cmd.Context(), operator)
				case routeID != 0:
					stages, stageErr := st.StagesForRoute(cmd.Context(), routeID)
					if stageErr != nil {
						return stageErr
					}
					for _, stage := range stages {
						atStage, listErr := st.ListAssetsAtStage(cmd.Context(), stage.ID)
						if listErr != nil {
							return listErr
						}
						assets = append(assets, atStage...)
					}
				default:
					return errors.New("one of --route, --stage, or --operator is required")
				}
				if err != nil {
					return err
				}

				if jsonOut {
					return writeJSON(cmd, assets)
				}

				rows := make([][]string, 0, len(assets))
				for _, a := range assets {
					rows = append(rows, []string{
						strconv.FormatInt(a.ID, 10),
						assetSignature(cmd, st, a),
						strconv.FormatInt(a.StageID, 10),
						a.Operator,
					})
				}
				fmt.Fprintln(cmd.OutOrStdout(), renderTable(
					[]string{"ID", "Signature", "Stage", "Operator"}, rows, 0, 2))
				return nil
			})
		},
	}

	cmd.Flags().Int64Var(&routeID, "route", 0, "Route id")
	cmd.Flags().Int64Var(&stageID, "stage", 0, "Stage id")
	cmd.Flags().StringVar(&operator, "operator", "", "Operator username")
	cmd.Flags().BoolVar(&jsonOut, "json", false, "Machine-readable output")
	return cmd
}

func assetSignature(cmd *cobra.Command, st *store.Store, a *asset.Asset) string {
	typ, err := st.AssetTypeByID(cmd.Context(), a.TypeID)
	if err != nil || typ == nil {
		return ""
	}
	return interpolate.Signature(typ.SignatureString, typ.Name, a.Payload, interpolate.Context{
		AssetID:          a.ID,
		TypeName:         typ.Name,
		OperatorUsername: a.Operator,
	})
}

func newAssetShowCommand(ctx *commandContext) *cobra.Command {
	var jsonOut bool
	var asUser string

	cmd := &cobra.Command{
		Use:   "show <asset-id>",
		Short: "Show an asset's payload, history, and transitions",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			return ctx.withStore(func(cfg *config.Config, st *store.Store) error {
				a, err := st.AssetByID(cmd.Context(), id)
				if err != nil {
					return err
				}
				if a == nil {
					return fmt.Errorf("asset %d not found", id)
				}
				records, err := st.TransitionsForAsset(cmd.Context(), id)
				if err != nil {
					return err
				}
				if asUser != "" {
					if err := restrictToVisible(cmd, st, a, asUser); err != nil {
						return err
					}
				}

				if jsonOut {
					return writeJSON(cmd, struct {
						Asset       *asset.Asset              `json:"asset"`
						Transitions []*asset.TransitionRecord `json:"transitions"`
					}{a, records})
				}

				out := cmd.OutOrStdout()
				fmt.Fprintf(out, "Asset #%d  %s\n", a.ID, assetSignature(cmd, st, a))
				fmt.Fprintf(out, "  route %d, stage %d, operator %q\n", a.RouteID, a.StageID, a.Operator)

				fields := make([]string, 0, len(a.Payload))
				for field := range a.Payload {
					fields = append(fields, field)
				}
				sort.Strings(fields)
				rows := make([][]string, 0, len(fields))
				for _, field := range fields {
					values := make([]string, 0, len(a.Payload[field]))
					for _, v := range a.Payload[field] {
						values = append(values, v.Text())
					}
					rows = append(rows, []string{field, strings.Join(values, ", ")})
				}
				fmt.Fprintln(out, renderTable([]string{"Field", "Values"}, rows))

				if len(records) > 0 {
					recordRows := make([][]string, 0, len(records))
					for _, rec := range records {
						kind := "forward"
						if rec.Rewind {
							kind = "rewind"
						}
						recordRows = append(recordRows, []string{
							rec.RecordedAt.Local().Format(time.DateTime),
							strconv.FormatInt(rec.FromStageID, 10),
							strconv.FormatInt(rec.ToStageID, 10),
							rec.Operator,
							kind,
						})
					}
					fmt.Fprintln(out, renderTable(
						[]string{"At", "From", "To", "Operator", "Kind"}, recordRows, 1, 2))
				}
				return nil
			})
		},
	}

	cmd.Flags().BoolVar(&jsonOut, "json", false, "Machine-readable output")
	cmd.Flags().StringVar(&asUser, "as", "", "Show only the payload fields this user may see")
	return cmd
}

// restrictToVisible trims the asset's payload to the fields the named
// user is allowed to see at the asset's current station.
func restrictToVisible(cmd *cobra.Command, st *store.Store, a *asset.Asset, username string) error {
	typ, err := st.AssetTypeByID(cmd.Context(), a.TypeID)
	if err != nil {
		return err
	}
	if typ == nil {
		return fmt.Errorf("asset type %d not found", a.TypeID)
	}
	stage, err := st.StageByID(cmd.Context(), a.StageID)
	if err != nil {
		return err
	}
	if stage == nil {
		return fmt.Errorf("stage %d not found", a.StageID)
	}
	station, err := st.StationByID(cmd.Context(), stage.StationID)
	if err != nil {
		return err
	}
	if station == nil {
		return fmt.Errorf("station %d not found", stage.StationID)
	}
	// An unknown username sees the same fields as any outsider.
	user, err := st.UserByUsername(cmd.Context(), username)
	if err != nil {
		return err
	}
	a.Payload = asset.VisiblePayload(a.Payload, asset.VisibleFields(a, typ, station, user))
	return nil
}

func newAssetAddCommand(ctx *commandContext) *cobra.Command {
	var typeSysname string
	var routeID int64
	var creator string
	var fields []string

	cmd := &cobra.Command{
		Use:   "add",
		Short: "Create an asset on a route's intake stage and route it",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withManager(func(cfg *config.Config, st *store.Store, m *workflow.Manager) error {
				typ, err := st.AssetTypeBySysname(cmd.Context(), typeSysname)
				if err != nil {
					return err
				}
				if typ == nil {
					return fmt.Errorf("asset type %q not found", typeSysname)
				}
				intake, err := intakeStage(cmd, st, routeID)
				if err != nil {
					return err
				}

				p := payload.Payload{}
				for _, pair := range fields {
					key, value, ok := strings.Cut(pair, "=")
					if !ok || key == "" {
						return fmt.Errorf("malformed --field %q, want key=value", pair)
					}
					p[key] = append(p[key], payload.String(value))
				}

				meta := asset.NewMeta()
				meta.CreatorStr = creator
				if creator != "" {
					if user, err := st.UserByUsername(cmd.Context(), creator); err == nil && user != nil {
						meta.Creator = user.ID
					}
				}
				meta.AppendHistory(asset.HistoryEntry{
					At:     time.Now(),
					Action: asset.HistoryCreated,
				})

				a, err := st.CreateAsset(cmd.Context(), &asset.Asset{
					TypeID:  typ.ID,
					RouteID: routeID,
					StageID: intake.ID,
					Payload: p,
					Meta:    meta,
				})
				if err != nil {
					return err
				}

				routed, err := m.HandleAssetSaved(cmd.Context(), a.ID)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Created asset #%d at stage %d\n", routed.ID, routed.StageID)
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&typeSysname, "type", "", "Asset type sysname")
	cmd.Flags().Int64Var(&routeID, "route", 0, "Route id")
	cmd.Flags().StringVar(&creator, "creator", "", "Creator username")
	cmd.Flags().StringArrayVar(&fields, "field", nil, "Payload field as key=value (repeatable)")
	_ = cmd.MarkFlagRequired("type")
	_ = cmd.MarkFlagRequired("route")
	return cmd
}

// intakeStage finds the route's first stage that accepts new assets.
func intakeStage(cmd *cobra.Command, st *store.Store, routeID int64) (*asset.Stage, error) {
	stages, err := st.StagesForRoute(cmd.Context(), routeID)
	if err != nil {
		return nil, err
	}
	for _, stage := range stages {
		if stage.AllowAddingAssets {
			return stage, nil
		}
	}
	return nil, fmt.Errorf("route %d has no stage accepting new assets", routeID)
}

func newAssetSubmitCommand(ctx *commandContext) *cobra.Command {
	var toStage int64
	var suspend bool

	cmd := &cobra.Command{
		Use:   "submit <asset-id>",
		Short: "Route an asset, optionally toward an explicit stage",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			return ctx.withManager(func(cfg *config.Config, st *store.Store, m *workflow.Manager) error {
				var a *asset.Asset
				if toStage != 0 {
					a, err = m.SubmitToDestination(cmd.Context(), id, asset.Destination{ID: toStage}, suspend)
				} else {
					a, err = m.HandleAssetSaved(cmd.Context(), id)
				}
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Asset #%d is now at stage %d\n", a.ID, a.StageID)
				return nil
			})
		},
	}

	cmd.Flags().Int64Var(&toStage, "to", 0, "Destination stage id")
	cmd.Flags().BoolVar(&suspend, "suspend", false, "Stop the chain after the requested hop")
	return cmd
}

func newAssetRewindCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "rewind <asset-id>",
		Short: "Send an asset back along its latest forward transition",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			return ctx.withManager(func(cfg *config.Config, st *store.Store, m *workflow.Manager) error {
				a, err := m.RewindAsset(cmd.Context(), id)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Asset #%d rewound to stage %d\n", a.ID, a.StageID)
				return nil
			})
		},
	}
}

func parseID(arg string) (int64, error) {
	id, err := strconv.ParseInt(strings.TrimSpace(arg), 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid id %q", arg)
	}
	return id, nil
}

package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/kataster/internal/api"
	"github.com/sells-group/kataster/internal/model"
)

var (
	lookupEPSG    string
	lookupCompact bool
)

var lookupCmd = &cobra.Command{
	Use:   "lookup",
	Short: "Resolve a single entity and print it as JSON",
}

// identifierCommand builds a "lookup <kind> <id>" subcommand.
func identifierCommand(use string, kind model.Kind, short string) *cobra.Command {
	return &cobra.Command{
		Use:   use + " <" + kind.Param() + ">",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			env, err := initLookups(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer env.Close()
			return runIdentifierLookup(cmd.Context(), env.Lookups, kind, args[0], cmd.OutOrStdout())
		},
	}
}

var lookupAtCmd = &cobra.Command{
	Use:   "at <kind> <x> <y>",
	Short: "Resolve the entity of a kind at a coordinate pair",
	Long:  "Kind is one of parcel, building, region, commune, county, voivodeship. Coordinates are in --epsg (default 2180).",
	Args:  cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		kind, err := pointKind(args[0])
		if err != nil {
			return err
		}
		env, err := initLookups(cmd.Context(), cfg)
		if err != nil {
			return err
		}
		defer env.Close()
		return runPointLookup(cmd.Context(), env.Lookups, kind, args[1], args[2], lookupEPSG, cmd.OutOrStdout())
	},
}

// pointKind maps a plain entity name to its coordinate-keyed kind.
func pointKind(name string) (model.Kind, error) {
	k, ok := model.ParseKind(name + "_xy")
	if !ok {
		return "", eris.Errorf("lookup: unknown kind %q", name)
	}
	return k, nil
}

func runIdentifierLookup(ctx context.Context, l api.Lookuper, kind model.Kind, id string, w io.Writer) error {
	res, err := l.ByIdentifier(ctx, kind, id)
	if err != nil {
		return describe(err)
	}
	return printBody(w, res.Body)
}

func runPointLookup(ctx context.Context, l api.Lookuper, kind model.Kind, x, y, epsg string, w io.Writer) error {
	res, err := l.ByPoint(ctx, kind, x, y, epsg)
	if err != nil {
		return describe(err)
	}
	return printBody(w, res.Body)
}

// describe keeps the user-facing message of a lookup failure.
func describe(err error) error {
	if le, ok := model.AsLookupError(err); ok {
		return eris.New(le.Message)
	}
	return err
}

func printBody(w io.Writer, body []byte) error {
	if lookupCompact {
		_, err := fmt.Fprintln(w, string(body))
		return err
	}
	var buf bytes.Buffer
	if err := json.Indent(&buf, body, "", "  "); err != nil {
		return eris.Wrap(err, "lookup: indent result")
	}
	buf.WriteByte('\n')
	_, err := buf.WriteTo(w)
	return err
}

func init() {
	lookupCmd.PersistentFlags().BoolVar(&lookupCompact, "compact", false, "print the result on one line")
	lookupAtCmd.Flags().StringVar(&lookupEPSG, "epsg", model.DefaultEPSG, "EPSG code of the coordinates")

	lookupCmd.AddCommand(
		identifierCommand("parcel", model.KindParcel, "Resolve a parcel by ID_DZIALKI"),
		identifierCommand("building", model.KindBuilding, "Resolve a building by ID_BUDYNKU"),
		identifierCommand("region", model.KindRegion, "Resolve a cadastral region (WWPPGG_R.OOOO)"),
		identifierCommand("commune", model.KindCommune, "Resolve a commune (WWPPGG_R)"),
		identifierCommand("county", model.KindCounty, "Resolve a county (WWPP)"),
		identifierCommand("voivodeship", model.KindVoivodeship, "Resolve a voivodeship (WW)"),
		identifierCommand("search", model.KindRegionSearch, "Search cadastral regions by name"),
		lookupAtCmd,
	)
	rootCmd.AddCommand(lookupCmd)
}

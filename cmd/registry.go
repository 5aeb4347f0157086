package main

import (
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/kataster/internal/registry"
)

var registryCmd = &cobra.Command{
	Use:   "registry",
	Short: "Inspect the county WFS service registry",
}

var registryListCmd = &cobra.Command{
	Use:   "list",
	Short: "List every registered county service",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		reg, err := registry.LoadFile(cfg.Registry.Path)
		if err != nil {
			return err
		}
		return listServices(cmd.OutOrStdout(), reg)
	},
}

var registryShowCmd = &cobra.Command{
	Use:   "show <teryt|identifier>",
	Short: "Show the service for a TERYT prefix or any identifier starting with one",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		reg, err := registry.LoadFile(cfg.Registry.Path)
		if err != nil {
			return err
		}
		return showService(cmd.OutOrStdout(), reg, args[0])
	},
}

func listServices(w io.Writer, reg *registry.Services) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "TERYT\tVERSION\tORGANIZATION\tURL")
	for _, s := range reg.All() {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", s.Teryt, s.Version, s.Organization, s.URL)
	}
	return tw.Flush()
}

func showService(w io.Writer, reg *registry.Services, key string) error {
	prefix := key
	if len(prefix) > 4 {
		prefix = prefix[:4]
	}
	s, ok := reg.Lookup(prefix)
	if !ok {
		return eris.Errorf("Service not found for TERYT: %s", prefix)
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintf(tw, "teryt:\t%s\n", s.Teryt)
	fmt.Fprintf(tw, "organization:\t%s\n", s.Organization)
	fmt.Fprintf(tw, "url:\t%s\n", s.URL)
	fmt.Fprintf(tw, "version:\t%s\n", s.Version)
	return tw.Flush()
}

func init() {
	registryCmd.AddCommand(registryListCmd, registryShowCmd)
	rootCmd.AddCommand(registryCmd)
}

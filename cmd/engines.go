package main

import (
	"fmt"
	"sort"
	"strings"

	"github.com/spf13/cobra"
)

var enginesCmd = &cobra.Command{
	Use:   "engines",
	Short: "List engines available in the registry",
	Long: "Lists the engines found in the registry file (--engines-json, the\n" +
		"registry.path config key, or the default Nibbler location), with the\n" +
		"launch arguments and UCI options each entry carries.",
	RunE: runEngines,
}

func init() {
	enginesCmd.Flags().StringVarP(&grindEnginesJSON, "engines-json", "E", "", "Nibbler engines.json file")
	rootCmd.AddCommand(enginesCmd)
}

func runEngines(cmd *cobra.Command, _ []string) error {
	if cmd.Flags().Changed("engines-json") {
		cfg.Registry.Path = grindEnginesJSON
	}

	reg, err := loadRegistry()
	if err != nil {
		return err
	}

	paths := reg.Paths()
	if len(paths) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "no engines registered")
		return nil
	}

	out := cmd.OutOrStdout()
	for _, path := range paths {
		_, entry, err := reg.Resolve(path)
		if err != nil {
			return err
		}
		fmt.Fprintln(out, path)
		if len(entry.Args) > 0 {
			fmt.Fprintf(out, "  args: %s\n", strings.Join(entry.Args, " "))
		}
		opts := entry.OptionStrings()
		names := make([]string, 0, len(opts))
		for name := range opts {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			fmt.Fprintf(out, "  option %s = %s\n", name, opts[name])
		}
	}
	return nil
}

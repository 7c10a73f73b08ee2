package cmd

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"
)

// maxHelpWidth truncates option help text in tables
const maxHelpWidth = 60

var presetsCmd = &cobra.Command{
	Use:   "presets",
	Short: "Inspect processing presets",
}

var presetsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List the processing presets",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := requireClient()
		if err != nil {
			return err
		}
		presets, err := client.ListPresets(createContext())
		if err != nil {
			return fmt.Errorf("failed to list presets: %w", err)
		}

		console, _ := createServices()
		rows := make([][]string, 0, len(presets))
		for _, p := range presets {
			names := make([]string, 0, len(p.Options))
			for _, o := range p.Options {
				names = append(names, fmt.Sprintf("%s=%v", o.Name, o.Value))
			}
			rows = append(rows, []string{strconv.Itoa(p.ID), p.Name, strconv.FormatBool(p.System), truncate(strings.Join(names, " "), maxHelpWidth)})
		}
		console.ShowTable([]string{"ID", "NAME", "SYSTEM", "OPTIONS"}, rows)
		return nil
	},
}

// optionsCmd represents the options command
var optionsCmd = &cobra.Command{
	Use:   "options",
	Short: "List the options understood by the processing nodes",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := requireClient()
		if err != nil {
			return err
		}
		options, err := client.ProcessingNodeOptions(createContext())
		if err != nil {
			return fmt.Errorf("failed to list processing options: %w", err)
		}

		console, _ := createServices()
		rows := make([][]string, 0, len(options))
		for _, o := range options {
			rows = append(rows, []string{o.Name, o.Type, fmt.Sprint(o.Value), truncate(o.Help, maxHelpWidth)})
		}
		console.ShowTable([]string{"NAME", "TYPE", "DEFAULT", "HELP"}, rows)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(presetsCmd, optionsCmd)
	presetsCmd.AddCommand(presetsListCmd)
}

func truncate(s string, n int) string {
	s = strings.Join(strings.Fields(s), " ")
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-3]) + "..."
}

package configcmder

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/BurntSushi/toml"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/papercomputeco/trickle/pkg/config"
)

// Output formats for config list.
const (
	outputTable = "table"
	outputJSON  = "json"
	outputYAML  = "yaml"
	outputTOML  = "toml"
)

const listLongDesc string = `List all configuration values.

Displays all configuration keys and their current values from the
config.toml file stored in the .trickle/ directory, with defaults filled
in for keys the file does not set.

Examples:
  trickle config list
  trickle config list -o json`

const listShortDesc string = "List all configuration values"

func newListCmd() *cobra.Command {
	var output string

	cmd := &cobra.Command{
		Use:   "list",
		Short: listShortDesc,
		Long:  listLongDesc,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			configDir, _ := cmd.Flags().GetString("config-dir")
			return runList(cmd.OutOrStdout(), configDir, output)
		},
	}

	cmd.Flags().StringVarP(&output, "output", "o", outputTable, "Output format: table, json, yaml or toml")

	return cmd
}

func runList(w io.Writer, configDir, output string) error {
	cfger, err := config.NewConfiger(configDir)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	cfg, err := cfger.LoadConfig()
	if err != nil {
		return err
	}

	keys := config.ValidConfigKeys()
	values := make([]string, len(keys))
	for i, key := range keys {
		values[i], err = cfger.GetConfigValue(key)
		if err != nil {
			return err
		}
	}

	switch output {
	case outputTable:
		fmt.Fprintf(w, "Using config file: %s\n\n", cfger.GetTarget())
		return writeTable(w, keys, values)
	case outputJSON:
		return writeJSON(w, keys, values)
	case outputYAML:
		return writeYAML(w, keys, values)
	case outputTOML:
		return toml.NewEncoder(w).Encode(cfg)
	default:
		return fmt.Errorf("unknown output format %q (expected %s, %s, %s or %s)",
			output, outputTable, outputJSON, outputYAML, outputTOML)
	}
}

func writeTable(w io.Writer, keys, values []string) error {
	// Find the longest key name for alignment.
	maxLen := 0
	for _, k := range keys {
		maxLen = max(maxLen, len(k))
	}

	for i, key := range keys {
		if values[i] == "" {
			fmt.Fprintf(w, "%-*s = <not set>\n", maxLen, key)
		} else {
			fmt.Fprintf(w, "%-*s = %q\n", maxLen, key, values[i])
		}
	}
	return nil
}

func writeJSON(w io.Writer, keys, values []string) error {
	m := make(map[string]string, len(keys))
	for i, key := range keys {
		m[key] = values[i]
	}

	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(m)
}

// writeYAML emits a flat mapping in key order.
func writeYAML(w io.Writer, keys, values []string) error {
	doc := &yaml.Node{Kind: yaml.MappingNode}
	for i, key := range keys {
		doc.Content = append(doc.Content,
			&yaml.Node{Kind: yaml.ScalarNode, Value: key},
			&yaml.Node{Kind: yaml.ScalarNode, Value: values[i], Tag: "!!str"},
		)
	}

	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(doc); err != nil {
		return fmt.Errorf("encoding yaml: %w", err)
	}
	return enc.Close()
}

// Package configcmder provides the config command for managing persistent
// trickle configuration stored in the .trickle/ directory.
package configcmder

import (
	"github.com/spf13/cobra"
)

const configLongDesc string = `Manage persistent trickle configuration.

Configuration is stored as config.toml in the .trickle/ directory and provides
default values for command flags. CLI flags and TRICKLE_* environment
variables always take precedence over config file values.

Keys use dotted notation matching the TOML section structure:
  proxy.listen, proxy.upstream, proxy.model, proxy.api_key_env,
  proxy.relay, proxy.journal, proxy.rate_limit,
  client.chat_url, client.timeout,
  chat.greeting

Use subcommands to get, set, or list configuration values:
  trickle config set <key> <value>    Set a configuration value
  trickle config get <key>            Get a configuration value
  trickle config list                 List all configuration values

Examples:
  trickle config set proxy.model gpt-4o-mini
  trickle config set client.timeout 2m
  trickle config get proxy.upstream
  trickle config list -o yaml`

const configShortDesc string = "Manage persistent trickle configuration"

func NewConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: configShortDesc,
		Long:  configLongDesc,
	}

	cmd.AddCommand(newSetCmd())
	cmd.AddCommand(newGetCmd())
	cmd.AddCommand(newListCmd())

	return cmd
}

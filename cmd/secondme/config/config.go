// Package configcmder provides the config command for managing persistent
// secondme configuration stored in the .secondme/ directory.
package configcmder

import (
	"github.com/spf13/cobra"
)

const configLongDesc string = `Manage persistent secondme configuration.

Configuration is stored as config.toml in the .secondme/ directory and
provides default values for command flags. CLI flags always take precedence
over config file values.

Keys use dotted notation matching the TOML section structure:
  storage.sqlite_path,
  api.listen, api.jwt_secret, api.require_invite,
  chat.provider, chat.target, chat.model,
  embedding.provider, embedding.target, embedding.model, embedding.dimensions,
  vector_store.provider, vector_store.target,
  memory.enabled, memory.top_k, memory.silent_minutes,
  events.provider, events.brokers, events.topic

Use subcommands to get, set, or list configuration values:
  secondme config set <key> <value>    Set a configuration value
  secondme config get <key>            Get a configuration value
  secondme config list                 List all configuration values

Examples:
  secondme config set chat.provider openai
  secondme config set embedding.model nomic-embed-text
  secondme config get vector_store.provider
  secondme config list`

const configShortDesc string = "Manage persistent secondme configuration"

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

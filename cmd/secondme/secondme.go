// Package secondmecmder
package secondmecmder

import (
	"github.com/spf13/cobra"

	configcmder "github.com/secondme/secondme/cmd/secondme/config"
	servecmder "github.com/secondme/secondme/cmd/secondme/serve"
	versioncmder "github.com/secondme/secondme/cmd/version"
)

const secondmeLongDesc string = `Secondme is a personal AI assistant that remembers you.

It chats through any OpenAI-compatible or Ollama model, quietly extracts
long-term memories from your conversations once they go silent, and grounds
later replies on what it has learned.

Run the server using:
  secondme serve       Run the API server with the memory pipeline

Manage configuration using:
  secondme config      Get, set, and list persistent configuration`

const secondmeShortDesc string = "Secondme - a personal AI with long-term memory"

func NewSecondmeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "secondme",
		Short: secondmeShortDesc,
		Long:  secondmeLongDesc,
	}

	// Global flags
	cmd.PersistentFlags().BoolP("debug", "d", false, "Enable debug logging")
	cmd.PersistentFlags().String("config-dir", "", "Override the .secondme/ config directory")

	// Add subcommands
	cmd.AddCommand(servecmder.NewServeCmd())
	cmd.AddCommand(configcmder.NewConfigCmd())
	cmd.AddCommand(versioncmder.NewVersionCmd())

	return cmd
}

// Package tricklecmder
package tricklecmder

import (
	"github.com/spf13/cobra"

	chatcmder "github.com/papercomputeco/trickle/cmd/trickle/chat"
	configcmder "github.com/papercomputeco/trickle/cmd/trickle/config"
	initcmder "github.com/papercomputeco/trickle/cmd/trickle/init"
	servecmder "github.com/papercomputeco/trickle/cmd/trickle/serve"
	versioncmder "github.com/papercomputeco/trickle/cmd/version"
)

const trickleLongDesc string = `Trickle streams chat answers from an OpenAI-compatible API as they are
generated.

Run the relay and talk to it using:
  trickle serve        Run the relay proxy
  trickle chat         Chat with a running relay`

const trickleShortDesc string = "Trickle - streaming chat relay"

func NewTrickleCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:          "trickle",
		Short:        trickleShortDesc,
		Long:         trickleLongDesc,
		SilenceUsage: true,
	}

	// Global flags
	cmd.PersistentFlags().BoolP("debug", "d", false, "Enable debug logging")
	cmd.PersistentFlags().String("config-dir", "", "Override path to .trickle/ config directory")

	// Add subcommands
	cmd.AddCommand(chatcmder.NewChatCmd())
	cmd.AddCommand(servecmder.NewServeCmd())
	cmd.AddCommand(configcmder.NewConfigCmd())
	cmd.AddCommand(initcmder.NewInitCmd())
	cmd.AddCommand(versioncmder.NewVersionCmd())

	return cmd
}

// internal/commands/chat.go
package chorus

import (
	"github.com/mwiater/chorus/internal/chat"
	"github.com/mwiater/chorus/internal/tui"
	"github.com/spf13/cobra"
)

var (
	// startGUI is a function alias to tui.StartGUI for starting the chat interface.
	startGUI   = tui.StartGUI
	chatModels []string
)

// chatCmd represents the 'chat' command, which starts an interactive chat session.
var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Start an interactive multi-model chat session",
	Long:  `The 'chat' command opens a terminal chat where every message is sent to all selected models and each reply appears as soon as it arrives.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return chat.Run(cmd.Context(), GetConfig(), chatModels, startGUI)
	},
}

func init() {
	chatCmd.Flags().StringSliceVarP(&chatModels, "models", "m", nil, "comma-separated model ids (defaults to defaultModels)")
	rootCmd.AddCommand(chatCmd)
}

package main

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/aretw0/parley/internal/cli"
)

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Talk to your flows in the terminal",
	Long: `Starts an interactive conversation as a single contact. Replies are rendered as markdown.
Use /attach <ref> [mime-type] to send an attachment and /quit to leave.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		contact, _ := cmd.Flags().GetString("contact")
		connection, _ := cmd.Flags().GetString("connection")
		plain, _ := cmd.Flags().GetBool("plain")
		watch, _ := cmd.Flags().GetBool("watch")

		sigCtx := cli.NewSignalContext(cmd.Context())
		defer sigCtx.Cancel()

		return cli.RunChat(sigCtx, cli.ChatOptions{
			Config:       cfg,
			Logger:       newLogger(cfg),
			ContactID:    contact,
			ConnectionID: connection,
			In:           os.Stdin,
			Out:          cmd.OutOrStdout(),
			Plain:        plain,
			Watch:        watch,
		})
	},
}

func init() {
	rootCmd.AddCommand(chatCmd)
	chatCmd.Flags().String("contact", "console", "Contact id to chat as")
	chatCmd.Flags().String("connection", "console", "Connection id whose flows are used")
	chatCmd.Flags().Bool("plain", false, "Print raw text without banner or markdown rendering")
	chatCmd.Flags().BoolP("watch", "w", false, "Reload flows when their files change (loam source)")
}

package main

import (
	"github.com/aretw0/parley/internal/cli"
	"github.com/spf13/cobra"
)

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Talk to the bot in the terminal",
	Long: `Starts a local conversation on stdin/stdout. With a persistent store and a fixed
--conversation the conversation can be resumed later, pending prompts included.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, dir, logger, err := setup(cmd)
		if err != nil {
			return err
		}
		flags := cmd.Flags()
		opts := cli.ChatOptions{Config: cfg, Dir: dir}
		opts.ConversationID, _ = flags.GetString("conversation")
		opts.UserID, _ = flags.GetString("user")
		opts.UserName, _ = flags.GetString("name")
		opts.JSON, _ = flags.GetBool("json")
		opts.NoJoin, _ = flags.GetBool("no-join")
		opts.Quiet, _ = flags.GetBool("quiet")
		return cli.RunChat(cmd.Context(), opts, logger)
	},
}

func init() {
	rootCmd.AddCommand(chatCmd)
	chatCmd.Flags().String("conversation", "", "Conversation id to create or resume (default: a new one)")
	chatCmd.Flags().String("user", "", "User id")
	chatCmd.Flags().String("name", "", "User display name")
	chatCmd.Flags().Bool("json", false, "Exchange one JSON object per line instead of text")
	chatCmd.Flags().Bool("no-join", false, "Do not announce the user when the chat starts")
	chatCmd.Flags().BoolP("quiet", "q", false, "Hide the banner and system messages")
}

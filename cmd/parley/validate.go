package main

import (
	"errors"

	"github.com/aretw0/parley/internal/cli"
	"github.com/spf13/cobra"
)

var errInvalid = errors.New("validation failed")

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Check the dialog for consistency",
	Long: `Builds the configured dialog, which compiles every expression and checks every
template, prompt and command reference, then reports rules that can never fire and
prompts no rule invokes.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, dir, logger, err := setup(cmd)
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		if watch, _ := cmd.Flags().GetBool("watch"); watch {
			sc := cli.NewSignalContext(cmd.Context())
			defer sc.Cancel()
			return cli.WatchValidate(sc, cfg, dir, out, logger)
		}
		rep, err := cli.Validate(cmd.Context(), cfg, dir, logger)
		cli.PrintReport(out, rep, err)
		if err != nil {
			return errInvalid
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(validateCmd)
	validateCmd.Flags().BoolP("watch", "w", false, "Validate again whenever a project file changes")
}

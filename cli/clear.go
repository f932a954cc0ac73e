package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

// ClearSessionCmd drops the entire index and removes the session's
// normalized and raw files. Destructive and non-reversible; refuses to run
// without --yes.
func ClearSessionCmd() *cobra.Command {
	var yes bool
	cmd := &cobra.Command{
		Use:   "clear-session",
		Short: "Delete all indexed data and session files",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if !yes {
				return errConfirmationRequired
			}
			ctx, a, err := newApp(cmd)
			if err != nil {
				return err
			}
			defer a.close(ctx)
			result, err := a.session.Clear(ctx)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Index cleared. Removed %d session files.\n", result.FilesRemoved)
			for _, fileErr := range result.FileErrors {
				fmt.Fprintf(out, "  cleanup: %v\n", fileErr)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&yes, "yes", false, "confirm the destructive clear")
	return cmd
}

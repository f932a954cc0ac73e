package cli

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"
)

// IngestCmd indexes one normalized JSON file, or every file in a directory.
func IngestCmd() *cobra.Command {
	var dir string
	cmd := &cobra.Command{
		Use:   "ingest [file.json]",
		Short: "Index normalized security log records",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if dir == "" && len(args) == 0 {
				return errors.New("provide a normalized file or --dir")
			}
			ctx, a, err := newApp(cmd)
			if err != nil {
				return err
			}
			defer a.close(ctx)
			out := cmd.OutOrStdout()
			if dir != "" {
				result, err := a.ingest.ReindexDir(ctx, dir)
				if err != nil {
					return err
				}
				fmt.Fprintf(out, "Indexed %d records from %d files.\n", result.Indexed, result.Files)
				for _, failed := range result.Failed {
					fmt.Fprintf(out, "  failed: %s: %v\n", failed.Path, failed.Err)
				}
				if len(result.Failed) == result.Files && result.Files > 0 {
					return errors.New("every file failed to index")
				}
				return nil
			}
			indexed, err := a.ingest.IngestFile(ctx, args[0])
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "Indexed %d records from %s.\n", indexed, args[0])
			return nil
		},
	}
	cmd.Flags().StringVar(&dir, "dir", "", "reindex every *.json file in this directory")
	return cmd
}

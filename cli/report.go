package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/defensight/defensight/engine/report"
)

// ReportCmd generates a one-shot security report from indexed evidence.
func ReportCmd() *cobra.Command {
	var mode string
	cmd := &cobra.Command{
		Use:   "report",
		Short: "Generate a technical or executive security report",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, a, err := newApp(cmd)
			if err != nil {
				return err
			}
			defer a.close(ctx)
			wrapper, err := a.completionWrapper(roleReport)
			if err != nil {
				return err
			}
			gen, err := report.NewGenerator(a.assembler, wrapper, report.Options{
				TopK:           a.cfg.Retrieval.ReportTopK,
				MaxTokens:      a.cfg.Retrieval.ReportMaxTokens,
				PerCategoryCap: a.cfg.Retrieval.ReportPerCategoryCap,
				TopSources:     a.cfg.Retrieval.TopSources,
			})
			if err != nil {
				return err
			}
			text, err := gen.Generate(ctx, report.Mode(mode))
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), text)
			return nil
		},
	}
	cmd.Flags().StringVar(&mode, "mode", string(report.ModeTechnical), "report mode (technical or executive)")
	return cmd
}

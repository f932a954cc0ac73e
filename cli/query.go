package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/defensight/defensight/engine/rag"
)

// QueryCmd answers one question against the index and exits.
func QueryCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "query <question...>",
		Short: "Answer a single security question",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, a, err := newApp(cmd)
			if err != nil {
				return err
			}
			defer a.close(ctx)
			svc, err := a.ragService()
			if err != nil {
				return err
			}
			answer, err := svc.Answer(ctx, strings.Join(args, " "))
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), answer.Reply)
			return nil
		},
	}
}

// SimilarCmd finds indexed events resembling a description.
func SimilarCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "similar <description...>",
		Short: "Find similar security events for threat hunting",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, a, err := newApp(cmd)
			if err != nil {
				return err
			}
			defer a.close(ctx)
			svc, err := a.ragService()
			if err != nil {
				return err
			}
			answer, err := svc.SimilarEvents(ctx, strings.Join(args, " "))
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), answer.Reply)
			return nil
		},
	}
}

func (a *app) ragService() (*rag.Service, error) {
	wrapper, err := a.completionWrapper(roleQuery)
	if err != nil {
		return nil, err
	}
	return rag.NewService(a.assembler, wrapper, rag.Options{
		QueryTopK:        a.cfg.Retrieval.QueryTopK,
		QueryMaxTokens:   a.cfg.Retrieval.QueryMaxTokens,
		SimilarTopK:      a.cfg.Retrieval.SimilarTopK,
		SimilarMaxTokens: a.cfg.Retrieval.SimilarMaxTokens,
		PerCategoryCap:   a.cfg.Retrieval.PerCategoryCap,
		TopSources:       a.cfg.Retrieval.TopSources,
	})
}

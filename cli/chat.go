package cli

import (
	"bufio"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"github.com/defensight/defensight/engine/chat"
	"github.com/defensight/defensight/engine/session"
)

const chatHelp = `Available commands:
  exit, quit    leave the chat
  help, ?       show this help
  stats         show index statistics
  clear         clear conversation history
  debug         toggle per-reply retrieval stats

Anything else is treated as a security question.`

// ChatCmd starts the interactive RAG chat loop.
func ChatCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "chat",
		Short: "Interactive security analysis chat",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, a, err := newApp(cmd)
			if err != nil {
				return err
			}
			defer a.close(ctx)
			wrapper, err := a.completionWrapper(roleChat)
			if err != nil {
				return err
			}
			svc, err := chat.NewService(a.assembler, wrapper, chat.Options{
				TopK:           a.cfg.Retrieval.ChatTopK,
				MaxTokens:      a.cfg.Retrieval.ChatMaxTokens,
				PerCategoryCap: a.cfg.Retrieval.PerCategoryCap,
				TopSources:     a.cfg.Retrieval.TopSources,
			})
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			total, err := a.store.Count(ctx)
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "DefenSight chat: %d documents indexed. Type 'help' for commands.\n\n", total)
			if total == 0 {
				fmt.Fprintln(out, "Warning: the index is empty; ingest logs first for useful answers.")
			}
			conv := chat.NewConversation(a.cfg.Chat.HistoryLimit)
			debug := false
			scanner := bufio.NewScanner(cmd.InOrStdin())
			scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
			for {
				fmt.Fprint(out, "you> ")
				if !scanner.Scan() {
					fmt.Fprintln(out, "\nGoodbye.")
					return scanner.Err()
				}
				input := strings.TrimSpace(scanner.Text())
				if input == "" {
					continue
				}
				switch strings.ToLower(input) {
				case "exit", "quit":
					fmt.Fprintln(out, "Goodbye.")
					return nil
				case "help", "?":
					fmt.Fprintln(out, chatHelp)
					continue
				case "stats":
					stats, err := a.session.Stats(ctx)
					if err != nil {
						fmt.Fprintf(out, "failed to read statistics: %v\n", err)
						continue
					}
					printStats(out, stats)
					continue
				case "clear":
					conv.Clear()
					fmt.Fprintln(out, "Conversation history cleared.")
					continue
				case "debug":
					debug = !debug
					fmt.Fprintf(out, "Debug mode %s.\n", onOff(debug))
					continue
				}
				reply, err := svc.Respond(ctx, conv, input)
				if err != nil {
					return err
				}
				if debug {
					fmt.Fprintf(
						out,
						"[debug] chunks=%d tokens=%d sources=%d retrieval=%s\n",
						reply.Stats.Chunks,
						reply.Stats.Tokens,
						reply.Stats.Sources,
						reply.RetrievalTime,
					)
					for _, sc := range reply.Stats.TopSources {
						fmt.Fprintf(out, "[debug]   %s: %d\n", sc.Source, sc.Count)
					}
				}
				fmt.Fprintf(out, "\ndefensight> %s\n\n", reply.Content)
			}
		},
	}
}

func onOff(enabled bool) string {
	if enabled {
		return "enabled"
	}
	return "disabled"
}

func printStats(out io.Writer, stats *session.Stats) {
	fmt.Fprintf(out, "Total documents: %d\n", stats.TotalDocuments)
	if stats.TotalDocuments == 0 {
		return
	}
	fmt.Fprintf(out, "Embedding dimension: %d\n", stats.EmbeddingDimension)
	fmt.Fprintf(out, "Sampled: %d\n", stats.Sampled)
	if len(stats.Categories) > 0 {
		fmt.Fprintln(out, "Log types:")
		categories := make([]string, 0, len(stats.Categories))
		for category := range stats.Categories {
			categories = append(categories, category)
		}
		sort.Strings(categories)
		for _, category := range categories {
			fmt.Fprintf(out, "  %-12s %d\n", category, stats.Categories[category])
		}
	}
	if len(stats.TopSources) > 0 {
		fmt.Fprintln(out, "Top sources:")
		for _, sc := range stats.TopSources {
			fmt.Fprintf(out, "  %-24s %d\n", sc.Source, sc.Count)
		}
	}
}

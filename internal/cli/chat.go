package cli

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os/signal"
	"strings"
	"syscall"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"pdf-qa/internal/models"
)

const exitCommand = "exit"

type answerer interface {
	Answer(ctx context.Context, input string, topK int) (models.AnswerResult, error)
}

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Load a document and ask questions interactively",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		file, _ := cmd.Flags().GetString("file")
		topK, _ := cmd.Flags().GetInt("top-k")

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		a, err := newApp(ctx, cfg)
		if err != nil {
			return err
		}
		defer a.Close()

		if err := ingestFile(ctx, cmd.ErrOrStderr(), a.agent, file); err != nil {
			return err
		}
		return runChat(ctx, cmd.InOrStdin(), cmd.OutOrStdout(), a.agent, topK)
	},
}

func init() {
	chatCmd.Flags().StringP("file", "f", "", "document to load")
	chatCmd.Flags().IntP("top-k", "k", 0, "number of chunks used for the answer")
	_ = chatCmd.MarkFlagRequired("file")
	rootCmd.AddCommand(chatCmd)
}

// runChat reads questions line by line until EOF, the exit sentinel or ctx
// cancellation. Failed questions are reported and the loop continues.
func runChat(ctx context.Context, in io.Reader, out io.Writer, ag answerer, topK int) error {
	you := color.New(color.FgGreen, color.Bold).SprintFunc()
	bot := color.New(color.FgCyan, color.Bold).SprintFunc()
	fail := color.New(color.FgRed).SprintFunc()

	fmt.Fprintf(out, "Ask a question, or e.g. %q for a numbered one. Type %q to quit.\n\n", "3 question", exitCommand)
	scanner := bufio.NewScanner(in)
	for {
		fmt.Fprint(out, you("You: "))
		if !scanner.Scan() {
			break
		}
		input := strings.TrimSpace(scanner.Text())
		if input == "" {
			continue
		}
		if strings.EqualFold(input, exitCommand) {
			break
		}

		res, err := ag.Answer(ctx, input, topK)
		if ctx.Err() != nil {
			return nil
		}
		if err != nil {
			fmt.Fprintf(out, "%s %v\n\n", fail("Error:"), err)
			continue
		}
		printAnswer(out, bot("Agent: "), res)
	}
	fmt.Fprintln(out)
	return scanner.Err()
}

func printAnswer(out io.Writer, label string, res models.AnswerResult) {
	if res.ResolvedQuestion != "" && res.ResolvedQuestion != strings.TrimSpace(res.Question) {
		fmt.Fprintf(out, "%s\n", color.New(color.Faint).Sprint(res.ResolvedQuestion))
	}
	fmt.Fprintf(out, "%s%s\n", label, res.Answer)
	if len(res.Sources) > 0 {
		fmt.Fprintln(out, color.YellowString("Sources:"))
		for _, src := range res.Sources {
			fmt.Fprintf(out, "  [Page %s] %s...\n", src.PageLabel(), src.Snippet(snippetRunes))
		}
	}
	fmt.Fprintln(out)
}

package cli

import (
	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"pdf-qa/internal/helper"
	"pdf-qa/internal/models"
)

const snippetRunes = 300

var askCmd = &cobra.Command{
	Use:   "ask",
	Short: "Load a document and answer a single question",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		file, _ := cmd.Flags().GetString("file")
		question, _ := cmd.Flags().GetString("question")
		topK, _ := cmd.Flags().GetInt("top-k")
		asJSON, _ := cmd.Flags().GetBool("json")
		useChain, _ := cmd.Flags().GetBool("chain")

		ctx := cmd.Context()
		a, err := newApp(ctx, cfg)
		if err != nil {
			return err
		}
		defer a.Close()

		if err := ingestFile(ctx, cmd.ErrOrStderr(), a.agent, file); err != nil {
			return err
		}

		var res models.AnswerResult
		if useChain {
			res, err = a.agent.Ask(ctx, question)
		} else {
			res, err = a.agent.Answer(ctx, question, topK)
		}
		if err != nil {
			return err
		}

		if asJSON {
			helper.PrettyPrint(res)
			return nil
		}
		printAnswer(cmd.OutOrStdout(), color.CyanString("Answer: "), res)
		return nil
	},
}

func init() {
	askCmd.Flags().StringP("file", "f", "", "document to load")
	askCmd.Flags().StringP("question", "q", "", "question to answer")
	askCmd.Flags().IntP("top-k", "k", 0, "number of chunks used for the answer")
	askCmd.Flags().Bool("json", false, "print the full result as JSON")
	askCmd.Flags().Bool("chain", false, "answer with the similarity-threshold QA chain")
	_ = askCmd.MarkFlagRequired("file")
	_ = askCmd.MarkFlagRequired("question")
	rootCmd.AddCommand(askCmd)
}


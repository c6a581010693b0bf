package cli

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/docgrep/docgrep/pkg/llm"
	"github.com/docgrep/docgrep/pkg/search"
)

// chatHistoryLimit bounds the messages resent each turn so long sessions do
// not blow the model's context window.
const chatHistoryLimit = 20

const chatSystemPrompt = "You are a helpful assistant that answers questions about the user's documents. " +
	"Prefer the provided sources and cite them by bracketed number. " +
	"If the sources do not contain the answer, say so."

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Interactive question-answering session over the index",
	Long: `Starts a REPL that retrieves passages for each question and keeps the
conversation history so follow-up questions work. Type 'exit' or 'quit'
to leave.`,
	Args: cobra.NoArgs,
	RunE: runChat,
}

func runChat(cmd *cobra.Command, args []string) error {
	setupLogger()
	ctx := context.Background()

	searcher, s, generator, err := openSearcher(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = s.Close() }()

	opts := search.DefaultOptions()
	opts.TopN = topN

	prompt := color.New(color.FgCyan, color.Bold)
	answer := color.New(color.FgGreen)
	faint := color.New(color.Faint)

	fmt.Println("docgrep chat. Type 'exit' to quit.")

	var history []llm.Message
	scanner := bufio.NewScanner(os.Stdin)
	for {
		prompt.Print("you> ")
		if !scanner.Scan() {
			fmt.Println()
			return scanner.Err()
		}
		query := strings.TrimSpace(scanner.Text())
		if query == "" {
			continue
		}
		if query == "exit" || query == "quit" {
			return nil
		}

		result, err := searcher.RetrieveWithOptions(ctx, query, opts)
		if err != nil {
			logger.Error("retrieval failed", "error", err)
			continue
		}

		messages := make([]llm.Message, 0, len(history)+2)
		messages = append(messages, llm.Message{
			Role:    "system",
			Content: chatSystemPrompt,
		})
		messages = append(messages, history...)
		messages = append(messages, llm.Message{
			Role:    "user",
			Content: chatTurnPrompt(query, result),
		})

		answer.Print("docgrep> ")
		reply, err := generator.ChatStream(ctx, messages, func(delta string) {
			answer.Print(delta)
		})
		if err != nil {
			fmt.Println()
			logger.Error("generation failed", "error", err)
			continue
		}
		fmt.Println()

		for i, p := range result.Passages {
			faint.Printf("  [%d] %s\n", i+1, p.Source)
		}
		fmt.Println()

		// History keeps the bare question, not the retrieved passages, so
		// each turn's context stays small.
		history = append(history,
			llm.Message{Role: "user", Content: query},
			llm.Message{Role: "assistant", Content: reply},
		)
		if len(history) > chatHistoryLimit {
			history = history[len(history)-chatHistoryLimit:]
		}
	}
}

// chatTurnPrompt wraps the user's question with the passages retrieved for
// this turn.
func chatTurnPrompt(query string, result *search.Result) string {
	var sb strings.Builder
	sb.WriteString("Answer using these sources where relevant. Cite them by bracketed number.\n\nSources:\n\n")
	for i, p := range result.Passages {
		fmt.Fprintf(&sb, "[%d] %s\n\n", i+1, p.Text)
	}
	sb.WriteString("Question: ")
	sb.WriteString(query)
	return sb.String()
}

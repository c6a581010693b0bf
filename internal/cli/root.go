// Package cli implements the docgrep command line interface.
package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	charmlog "github.com/charmbracelet/log"
	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/docgrep/docgrep/pkg/embed"
	"github.com/docgrep/docgrep/pkg/llm"
	"github.com/docgrep/docgrep/pkg/rerank"
	"github.com/docgrep/docgrep/pkg/search"
	"github.com/docgrep/docgrep/pkg/store"
)

var (
	// Global flags
	topN       int
	jsonOutput bool
	noAnswer   bool
	useRerank  bool
	verbose    bool
)

var logger = charmlog.NewWithOptions(os.Stderr, charmlog.Options{
	ReportTimestamp: false,
})

func Execute() error {
	return rootCmd.Execute()
}

var rootCmd = &cobra.Command{
	Use:   "docgrep [question]",
	Short: "Ask questions about your documents using hybrid retrieval",
	Long: `docgrep answers natural-language questions about a directory of documents.

It combines vector similarity and BM25 keyword search with reciprocal rank
fusion, optionally reranks with a cross-encoder, and generates a grounded
answer with a chat-completion model.

Run 'docgrep ingest <dir>' first to build the index.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runAsk,
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable debug logging")

	rootCmd.Flags().IntVarP(&topN, "top", "n", 5, "Number of passages to retrieve")
	rootCmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")
	rootCmd.Flags().BoolVar(&noAnswer, "no-answer", false, "Print passages only, skip answer generation")
	rootCmd.Flags().BoolVar(&useRerank, "rerank", false, "Rerank candidates with the cross-encoder service")

	rootCmd.AddCommand(ingestCmd)
	rootCmd.AddCommand(watchCmd)
	rootCmd.AddCommand(chatCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(clearCmd)

	viper.SetEnvPrefix("docgrep")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	viper.SetDefault("index", filepath.Join(".docgrep", "index.db"))
	viper.SetDefault("embed.dims", 1536)

	// Optional config file: ./.docgrep/config.yaml or ~/.docgrep/config.yaml
	viper.SetConfigName("config")
	viper.AddConfigPath(".docgrep")
	if home, err := os.UserHomeDir(); err == nil {
		viper.AddConfigPath(filepath.Join(home, ".docgrep"))
	}
	_ = viper.ReadInConfig()
}

func setupLogger() {
	if verbose {
		logger.SetLevel(charmlog.DebugLevel)
	}
}

// indexPath resolves the index location, walking up from the working
// directory like git does with .git.
func indexPath() (string, error) {
	if p := viper.GetString("index"); filepath.IsAbs(p) {
		return p, nil
	}

	abs, err := filepath.Abs(".")
	if err != nil {
		return "", err
	}
	for {
		p := filepath.Join(abs, ".docgrep", "index.db")
		if _, err := os.Stat(p); err == nil {
			return p, nil
		}
		parent := filepath.Dir(abs)
		if parent == abs {
			break
		}
		abs = parent
	}

	return "", fmt.Errorf("no index found. Run 'docgrep ingest <dir>' first")
}

func embedConfig() embed.Config {
	cfg := embed.DefaultConfig()
	if v := viper.GetString("embed.endpoint"); v != "" {
		cfg.Endpoint = v
	}
	if v := viper.GetString("embed.model"); v != "" {
		cfg.Model = v
	}
	if v := viper.GetString("embed.api_key"); v != "" {
		cfg.APIKey = v
	}
	return cfg
}

func chatConfig() llm.Config {
	cfg := llm.DefaultConfig()
	if v := viper.GetString("chat.provider"); v != "" {
		cfg.Provider = v
	}
	if v := viper.GetString("chat.model"); v != "" {
		cfg.Model = v
	}
	if v := viper.GetString("chat.api_key"); v != "" {
		cfg.APIKey = v
	}
	if v := viper.GetString("chat.base_url"); v != "" {
		cfg.BaseURL = v
	}
	return cfg
}

func rerankConfig() rerank.Config {
	cfg := rerank.DefaultConfig()
	if v := viper.GetString("rerank.endpoint"); v != "" {
		cfg.Endpoint = v
	}
	if v := viper.GetString("rerank.model"); v != "" {
		cfg.Model = v
	}
	return cfg
}

// openSearcher loads the corpus and wires the pipeline for query commands.
// The generator is returned as well so commands can stream or prompt it
// directly.
func openSearcher(ctx context.Context) (*search.Searcher, *store.Store, llm.Client, error) {
	path, err := indexPath()
	if err != nil {
		return nil, nil, nil, err
	}

	s, err := store.Open(path)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("failed to open index: %w", err)
	}

	c, err := s.LoadCorpus(ctx)
	if err != nil {
		_ = s.Close()
		return nil, nil, nil, err
	}

	generator, err := llm.New(chatConfig())
	if err != nil {
		_ = s.Close()
		return nil, nil, nil, err
	}

	var reranker search.Reranker
	if useRerank {
		reranker = rerank.NewWithConfig(rerankConfig())
	}

	searcher := search.NewWithConfig(search.Config{
		Corpus:    c,
		Embedder:  embed.NewWithConfig(embedConfig()),
		Reranker:  reranker,
		Generator: generator,
		Logger:    logger,
	})

	return searcher, s, generator, nil
}

func runAsk(cmd *cobra.Command, args []string) error {
	if len(args) == 0 {
		return cmd.Help()
	}
	setupLogger()

	query := args[0]
	ctx := context.Background()

	searcher, s, generator, err := openSearcher(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = s.Close() }()

	opts := search.DefaultOptions()
	opts.TopN = topN

	result, err := searcher.RetrieveWithOptions(ctx, query, opts)
	if err != nil {
		return fmt.Errorf("retrieval failed: %w", err)
	}

	if noAnswer {
		return outputPassages(result)
	}

	passages := make([]string, len(result.Passages))
	for i, p := range result.Passages {
		passages[i] = p.Text
	}

	answer, err := generator.Generate(ctx, query, passages)
	if err != nil {
		return fmt.Errorf("answer generation failed: %w", err)
	}

	if jsonOutput {
		return json.NewEncoder(os.Stdout).Encode(map[string]any{
			"answer":          answer,
			"passages":        result.Passages,
			"rerank_fallback": result.RerankFallback,
		})
	}

	fmt.Println(answer)
	fmt.Println()
	dim := color.New(color.Faint)
	for i, p := range result.Passages {
		dim.Printf("[%d] %s (%.4f)\n", i+1, p.Source, p.Score)
	}
	return nil
}

func outputPassages(result *search.Result) error {
	if jsonOutput {
		return json.NewEncoder(os.Stdout).Encode(result)
	}
	for i, p := range result.Passages {
		color.New(color.Bold).Printf("[%d] %s (%.4f)\n", i+1, p.Source, p.Score)
		text := p.Text
		if len(text) > 400 {
			text = text[:397] + "..."
		}
		fmt.Println(text)
		fmt.Println()
	}
	return nil
}

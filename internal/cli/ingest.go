package cli

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/docgrep/docgrep/pkg/embed"
	"github.com/docgrep/docgrep/pkg/ingest"
	"github.com/docgrep/docgrep/pkg/store"
)

var ingestCmd = &cobra.Command{
	Use:   "ingest [dir]",
	Short: "Ingest a directory of documents (pdf, txt, md) into the index",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		setupLogger()
		return runIngest(args, false)
	},
}

var watchCmd = &cobra.Command{
	Use:   "watch [dir]",
	Short: "Ingest a directory and re-ingest documents as they change",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		setupLogger()
		return runIngest(args, true)
	},
}

func runIngest(args []string, watch bool) error {
	dir := "."
	if len(args) > 0 {
		dir = args[0]
	}

	ctx := context.Background()

	path := viper.GetString("index")
	if !filepath.IsAbs(path) {
		path = filepath.Join(dir, ".docgrep", "index.db")
	}

	s, err := store.Open(path, store.WithDims(viper.GetInt("embed.dims")))
	if err != nil {
		return fmt.Errorf("failed to open index: %w", err)
	}
	defer func() { _ = s.Close() }()

	ing, err := ingest.New(ingest.Config{
		Root:     dir,
		Store:    s,
		Embedder: embed.NewWithConfig(embedConfig()),
		Logger:   logger,
	})
	if err != nil {
		return err
	}

	if watch {
		return ing.Watch(ctx)
	}
	return ing.Ingest(ctx)
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show index status",
	RunE: func(cmd *cobra.Command, args []string) error {
		path, err := indexPath()
		if err != nil {
			fmt.Println("No index found")
			return nil
		}

		s, err := store.Open(path)
		if err != nil {
			return err
		}
		defer func() { _ = s.Close() }()

		stats, err := s.Stats(context.Background())
		if err != nil {
			return err
		}

		fmt.Printf("Index: %s\n", path)
		fmt.Printf("Documents: %d\n", stats.Sources)
		fmt.Printf("Chunks: %d\n", stats.Chunks)
		fmt.Printf("Dimensions: %d\n", s.Dims())
		return nil
	},
}

var clearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Delete the index",
	RunE: func(cmd *cobra.Command, args []string) error {
		path, err := indexPath()
		if err != nil {
			return nil // Already clear
		}

		if err := os.RemoveAll(filepath.Dir(path)); err != nil {
			return fmt.Errorf("failed to clear index: %w", err)
		}

		fmt.Println("Index cleared")
		return nil
	},
}

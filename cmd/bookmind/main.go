package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/liliang-cn/bookmind/internal/config"
	"github.com/liliang-cn/bookmind/internal/service"
	"github.com/liliang-cn/bookmind/pkg/chunker"
	"github.com/liliang-cn/bookmind/pkg/embed"
	"github.com/liliang-cn/bookmind/pkg/llm"
	"github.com/liliang-cn/bookmind/pkg/store"
)

var (
	configPath string
	bookPath   string
	verbose    bool
)

var rootCmd = &cobra.Command{
	Use:   "bookmind",
	Short: "Retrieval-augmented reading assistant",
	Long:  `Chunks a book, embeds the chunks, and answers questions grounded in the most relevant passages.`,
}

var indexCmd = &cobra.Command{
	Use:   "index",
	Short: "Chunk and embed a book into the search index",
	RunE: func(cmd *cobra.Command, args []string) error {
		s, cleanup, err := openSession(true)
		if err != nil {
			return err
		}
		defer cleanup()

		start := time.Now()
		err = s.IndexBook(cmd.Context(), func(processed, total int) {
			fmt.Printf("\rindexed %d/%d chunks", processed, total)
		})
		fmt.Println()
		if err != nil {
			return fmt.Errorf("indexing failed: %w", err)
		}

		fmt.Printf("Indexed %q (%d chunks) in %s\n", s.Book().Title, len(s.Chunks()), time.Since(start).Round(time.Millisecond))
		return nil
	},
}

var searchCmd = &cobra.Command{
	Use:   "search <query>",
	Short: "Find the passages most relevant to a query",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		topK, _ := cmd.Flags().GetInt("top")

		s, cleanup, err := openSession(true)
		if err != nil {
			return err
		}
		defer cleanup()

		if err := s.IndexBook(cmd.Context(), nil); err != nil {
			return fmt.Errorf("indexing failed: %w", err)
		}

		hits, err := s.Query(cmd.Context(), args[0], topK)
		if err != nil {
			return fmt.Errorf("search failed: %w", err)
		}
		if len(hits) == 0 {
			fmt.Println("No matching passages.")
			return nil
		}

		for i, h := range hits {
			kind := "semantic"
			if h.Lexical {
				kind = "keyword"
			}
			fmt.Printf("%d. [%.3f %s] %s\n   %s\n", i+1, h.Score, kind, h.Chunk.ChapterTitle, h.Chunk.Content)
		}
		return nil
	},
}

var askCmd = &cobra.Command{
	Use:   "ask <question>",
	Short: "Ask a question about the book",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		s, cleanup, err := openSession(true)
		if err != nil {
			return err
		}
		defer cleanup()

		if err := s.IndexBook(cmd.Context(), nil); err != nil {
			return fmt.Errorf("indexing failed: %w", err)
		}

		_, hits, err := s.Ask(cmd.Context(), args[0], func(delta string) {
			fmt.Print(delta)
		})
		fmt.Println()
		if err != nil {
			return fmt.Errorf("ask failed: %w", err)
		}

		if len(hits) > 0 {
			fmt.Println("\nSources:")
			for i, h := range hits {
				fmt.Printf("  [%d] %s (%s)\n", i+1, h.Chunk.ChapterTitle, h.Chunk.ID)
			}
		}
		return nil
	},
}

var clearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Drop the book's cached embeddings and search index",
	RunE: func(cmd *cobra.Command, args []string) error {
		s, cleanup, err := openSession(false)
		if err != nil {
			return err
		}
		defer cleanup()

		if err := s.ClearIndex(cmd.Context()); err != nil {
			return fmt.Errorf("clear failed: %w", err)
		}
		fmt.Printf("Cleared cached embeddings for %q\n", s.Book().Title)
		return nil
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show what is cached for the book",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		book, err := service.LoadBook(bookPath)
		if err != nil {
			return err
		}

		cache, err := store.New(cfg.CachePath)
		if err != nil {
			return err
		}
		if err := cache.Init(cmd.Context()); err != nil {
			return err
		}
		defer cache.Close()

		meta, err := cache.Meta(cmd.Context(), book.ID)
		if err != nil {
			return err
		}
		if meta == nil {
			fmt.Printf("%q: nothing cached\n", book.Title)
			return nil
		}
		fmt.Printf("%q: %d vectors, model %s, %d dimensions\n", book.Title, meta.Count, meta.Model, meta.Dims)
		return nil
	},
}

func loadConfig() (*config.AppConfig, error) {
	_ = godotenv.Load()
	if configPath != "" {
		return config.Load(configPath)
	}
	cfg, _, err := config.LoadDefault()
	return cfg, err
}

func newLogger() zerolog.Logger {
	level := zerolog.WarnLevel
	if verbose {
		level = zerolog.DebugLevel
	}
	return zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).Level(level).With().Timestamp().Logger()
}

// openSession loads config and book, opens the embedding cache and starts
// the index worker. The returned cleanup closes both.
func openSession(withChat bool) (*service.Session, func(), error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, nil, err
	}
	log := newLogger()

	book, err := service.LoadBook(bookPath)
	if err != nil {
		return nil, nil, err
	}

	cache, err := store.New(cfg.CachePath)
	if err != nil {
		return nil, nil, err
	}
	if err := cache.Init(context.Background()); err != nil {
		return nil, nil, err
	}

	embedder, err := embed.NewClient(embed.ClientConfig{
		BaseURL: cfg.Embedding.BaseURL,
		APIKey:  cfg.Embedding.APIKey(),
		Model:   cfg.Embedding.Model,
		Logger:  &log,
	})
	if err != nil {
		cache.Close()
		return nil, nil, err
	}

	var chat *llm.Client
	if withChat {
		chat, err = llm.NewClient(llm.ClientConfig{
			BaseURL: cfg.Chat.BaseURL,
			APIKey:  cfg.Chat.APIKey(),
			Model:   cfg.Chat.Model,
		})
		if err != nil {
			cache.Close()
			return nil, nil, err
		}
	}

	s, err := service.NewSession(book, service.Deps{
		Cache:    cache,
		Embedder: embedder,
		Chat:     chat,
		ChunkOpts: chunker.Options{
			ChunkSize: cfg.Chunker.ChunkSize,
			Overlap:   cfg.Chunker.Overlap,
		},
		BatchSize:      cfg.Index.BatchSize,
		MaxConcurrent:  cfg.Index.MaxConcurrent,
		RequestTimeout: time.Duration(cfg.Index.RequestTimeoutSecs) * time.Second,
		Logger:         &log,
	})
	if err != nil {
		cache.Close()
		return nil, nil, err
	}

	cleanup := func() {
		s.Close()
		cache.Close()
	}
	return s, cleanup, nil
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Config file path")
	rootCmd.PersistentFlags().StringVarP(&bookPath, "book", "b", "book.json", "Book JSON file path")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Verbose output")

	searchCmd.Flags().Int("top", service.DefaultTopK, "Number of passages to return")

	rootCmd.AddCommand(indexCmd)
	rootCmd.AddCommand(searchCmd)
	rootCmd.AddCommand(askCmd)
	rootCmd.AddCommand(clearCmd)
	rootCmd.AddCommand(statusCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

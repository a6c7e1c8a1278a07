package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/xhad/datallama/internal/types"
	cfgPkg "github.com/xhad/datallama/pkg/config"
	"github.com/xhad/datallama/pkg/extractor"
	"github.com/xhad/datallama/pkg/llm"
	"github.com/xhad/datallama/pkg/logger"
	"github.com/xhad/datallama/pkg/processor"
	"github.com/xhad/datallama/pkg/researcher"
	"github.com/xhad/datallama/pkg/scraper"
	"github.com/xhad/datallama/pkg/search"
	"github.com/xhad/datallama/pkg/store"
	"github.com/xhad/datallama/pkg/synthesizer"
	"github.com/xhad/datallama/pkg/tracer"
	"github.com/xhad/datallama/server"
)

const shutdownTimeout = 15 * time.Second

var configPath string

var rootCmd = &cobra.Command{
	Use:   "datallama",
	Short: "Research a business question and answer it with citations",
	Long: `datallama searches the web for sources on a question, extracts their
content, and asks an LLM for a structured answer with numbered citations.

Run "datallama serve" for the HTTP API or "datallama ask" from a terminal.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "config file (default: ./config.yaml or ~/.config/datallama/config.yaml)")
	rootCmd.AddCommand(serveCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func loadConfig() (*cfgPkg.Config, error) {
	cfg, err := cfgPkg.LoadConfig(configPath)
	if err != nil {
		return nil, err
	}
	if verrs := cfg.Validate(); len(verrs) > 0 {
		errs := make([]error, 0, len(verrs))
		for _, e := range verrs {
			errs = append(errs, e)
		}
		return nil, fmt.Errorf("invalid configuration: %w", errors.Join(errs...))
	}
	return cfg, nil
}

// pipeline holds the wired components shared by serve and ask.
type pipeline struct {
	registry    *llm.Registry
	client      *llm.Client
	researcher  *researcher.Researcher
	synthesizer *synthesizer.Synthesizer
	history     *store.History
	shutdown    func(context.Context) error
}

func (p *pipeline) Close(ctx context.Context) {
	if p.history != nil {
		p.history.Close()
	}
	if p.shutdown != nil {
		_ = p.shutdown(ctx)
	}
}

func buildPipeline(ctx context.Context, cfg *cfgPkg.Config, log *zap.Logger) (*pipeline, error) {
	for _, w := range cfg.Warnings() {
		log.Warn(w)
	}

	p := &pipeline{
		shutdown: tracer.Init(ctx, cfg.Tracing.Enabled, cfg.Tracing.Endpoint, log),
		registry: llm.NewRegistry(cfg.LLM.DefaultModel, llm.Catalog...),
	}

	backends := map[string]llm.Backend{
		llm.BackendOpenRouter: llm.NewOpenRouterBackend(llm.OpenRouterConfig{
			BaseURL: cfg.LLM.BaseURL,
			APIKey:  cfg.LLM.APIKey,
			Timeout: cfg.LLM.Timeout,
		}),
	}
	if ollama, err := llm.NewOllamaBackend(llm.OllamaConfig{BaseURL: cfg.LLM.OllamaURL}); err != nil {
		log.Warn("ollama backend unavailable", zap.Error(err))
	} else {
		backends[llm.BackendOllama] = ollama
	}

	clock := llm.SystemClock{}
	client, err := llm.NewWithConfig(llm.ClientConfig{
		Registry:      p.registry,
		Gate:          llm.NewGate(cfg.LLM.MinInterval, clock),
		Clock:         clock,
		Backends:      backends,
		Logger:        log,
		MaxAttempts:   cfg.LLM.MaxAttempts,
		BackoffFactor: cfg.LLM.BackoffFactor,
		BaseDelay:     cfg.LLM.BaseDelay,
		CallTimeout:   cfg.LLM.Timeout,
		MaxTokens:     cfg.LLM.MaxTokens,
		Temperature:   cfg.LLM.Temperature,
		TopP:          cfg.LLM.TopP,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize model client: %w", err)
	}
	p.client = client

	searcher := search.NewChain(log,
		search.NewSerperProvider(search.SerperConfig{
			BaseURL:     cfg.Search.BaseURL,
			APIKey:      cfg.Search.APIKey,
			Timeout:     cfg.Search.Timeout,
			MaxAttempts: cfg.Search.MaxAttempts,
			Logger:      log,
		}),
		search.NewLLMProvider(client, ""),
		search.StaticProvider{},
	)

	proc := processor.NewWithConfig(processor.ProcessorConfig{})
	ext := extractor.NewWithConfig(extractor.ExtractorConfig{
		MinInlineLength: cfg.Extractor.MinInlineLength,
		MinTextLength:   cfg.Extractor.MinTextLength,
		Hosted: extractor.NewHostedClient(extractor.HostedConfig{
			BaseURL: cfg.Extractor.BaseURL,
			APIKey:  cfg.Extractor.APIKey,
			Timeout: cfg.Extractor.Timeout,
		}),
		Fetcher: scraper.NewWithConfig(scraper.ScraperConfig{
			RateLimit:   cfg.Extractor.RateLimit,
			Timeout:     cfg.Extractor.Timeout,
			MaxAttempts: cfg.Extractor.FetchAttempts,
			Logger:      log,
		}),
		Processor: &proc,
		Logger:    log,
	})

	p.researcher, err = researcher.NewWithConfig(researcher.ResearcherConfig{
		Searcher:  searcher,
		Extractor: ext,
		Generator: researcher.NewSyntheticGenerator(client, "", log),
		TopK:      cfg.Research.TopK,
		Logger:    log,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize researcher: %w", err)
	}

	p.synthesizer, err = synthesizer.NewWithConfig(synthesizer.SynthesizerConfig{
		Completer: client,
		Registry:  p.registry,
		Logger:    log,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize synthesizer: %w", err)
	}

	if cfg.Database.URL != "" {
		var embedder types.Embedder
		if emb, err := llm.NewEmbedderWithConfig(llm.EmbedderConfig{BaseURL: cfg.LLM.OllamaURL}); err != nil {
			log.Warn("embedder unavailable, history is stored without vectors", zap.Error(err))
		} else {
			embedder = emb
		}

		p.history, err = store.NewWithConfig(ctx, store.HistoryConfig{
			ConnString: cfg.Database.URL,
			TableName:  cfg.Database.TableName,
			VectorDim:  cfg.Database.VectorDim,
			Embedder:   embedder,
			Logger:     log,
		})
		if err != nil {
			p.Close(ctx)
			return nil, fmt.Errorf("failed to initialize answer history: %w", err)
		}
	}

	return p, nil
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		log := logger.New(cfg.Log.FilePath, cfg.Log.Production)
		defer func() { _ = log.Sync() }()

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		p, err := buildPipeline(ctx, cfg, log)
		if err != nil {
			return err
		}
		defer func() {
			closeCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			p.Close(closeCtx)
		}()

		serverConfig := server.Config{
			Registry:       p.registry,
			Researcher:     p.researcher,
			Synthesizer:    p.synthesizer,
			TopK:           cfg.Research.TopK,
			AllowedOrigins: cfg.Server.CorsAllowedOrigins,
			Logger:         log,
		}
		if p.history != nil {
			serverConfig.History = p.history
		}
		s, err := server.NewWithConfig(serverConfig)
		if err != nil {
			return err
		}

		srv := &http.Server{
			Addr:              cfg.Addr(),
			Handler:           s.Handler(),
			ReadHeaderTimeout: 10 * time.Second,
		}

		g, gctx := errgroup.WithContext(ctx)
		g.Go(func() error {
			log.Info("starting server", zap.String("addr", srv.Addr))
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("server failed: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			log.Info("shutting down server")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})

		return g.Wait()
	},
}

package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"unicode/utf8"

	"github.com/fatih/color"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"github.com/xhad/datallama/internal/models"
	"github.com/xhad/datallama/pkg/llm"
	"github.com/xhad/datallama/pkg/logger"
	"github.com/xhad/datallama/pkg/researcher"
	"github.com/xhad/datallama/pkg/synthesizer"
)

var (
	askModel      string
	askAssertions bool
)

var askCmd = &cobra.Command{
	Use:   "ask [question]",
	Short: "Answer a question from the terminal",
	Long: `Ask researches a question and prints the cited answer. Without arguments it
starts an interactive session; type 'exit' to quit.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		log := logger.NewFileOnly(cfg.Log.FilePath)
		defer func() { _ = log.Sync() }()

		ctx := cmd.Context()
		p, err := buildPipeline(ctx, cfg, log)
		if err != nil {
			return err
		}
		defer p.Close(context.Background())

		if askModel != "" && !p.registry.Known(askModel) {
			return fmt.Errorf("unknown model %q; run 'datallama models' for the catalog", askModel)
		}

		if len(args) > 0 {
			return ask(ctx, p, strings.Join(args, " "), cfg.Research.TopK)
		}

		color.Cyan("\nAsk a business question (type 'exit' to quit)")
		scanner := bufio.NewScanner(os.Stdin)
		userPrompt := color.New(color.FgGreen).PrintfFunc()

		for {
			userPrompt("\nYou: ")
			if !scanner.Scan() {
				break
			}

			question := scanner.Text()
			if strings.EqualFold(strings.TrimSpace(question), "exit") {
				break
			}
			if err := ask(ctx, p, question, cfg.Research.TopK); err != nil {
				color.Red("Error: %v\n", err)
			}
		}
		return scanner.Err()
	},
}

var modelsCmd = &cobra.Command{
	Use:   "models",
	Short: "List the available models",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		registry := llm.NewRegistry(cfg.LLM.DefaultModel, llm.Catalog...)
		def := registry.Default().ID

		for _, m := range registry.List() {
			marker := "  "
			if m.ID == def {
				marker = color.GreenString("* ")
			}
			fmt.Printf("%s%s  %s\n", marker, color.CyanString(m.ID), m.DisplayName)
			fmt.Printf("    %s (%s, %d tokens)\n", m.Description, m.ProviderName, m.MaxTokens)
		}
		return nil
	},
}

func init() {
	askCmd.Flags().StringVar(&askModel, "model", "", "model id (default: configured default model)")
	askCmd.Flags().BoolVar(&askAssertions, "assertions", false, "also print the key assertion of each fetched source")
	rootCmd.AddCommand(askCmd, modelsCmd)
}

func ask(ctx context.Context, p *pipeline, question string, topK int) error {
	question = strings.TrimSpace(question)
	if n := utf8.RuneCountInString(question); n < 3 || n > 1000 {
		return errors.New("question must be between 3 and 1000 characters")
	}

	bar := getProgressBar(topK, "🔍 Researching...")
	docs, report := p.researcher.Run(ctx, question, topK, researcher.ObserverFunc(func(e researcher.Event) {
		desc := e.Message
		if desc == "" {
			desc = fmt.Sprintf("%s %s", e.Type, e.URL)
		}
		bar.Describe(color.BlueString("🔍 %s", desc))
		_ = bar.Set(min(e.Collected, topK))
	}))
	_ = bar.Finish()
	fmt.Print("\r")

	if len(docs) == 0 {
		return errors.New("no sources found")
	}
	color.Green("\n✓ Collected %d sources (%d generated, %d failed)\n", len(docs), report.Synthetic, len(report.Failed))

	spinner := getSpinner("🤖 Writing answer...")
	result, err := p.synthesizer.Synthesize(ctx, question, docs, askModel)
	_ = spinner.Finish()
	fmt.Print("\r")

	var fatal *llm.FatalError
	if errors.As(err, &fatal) {
		return fmt.Errorf("%w (%s)", err, fatal.Hint())
	}
	if err != nil {
		return err
	}

	printResult(os.Stdout, result, docs)
	if askAssertions {
		printAssertions(ctx, os.Stdout, p.synthesizer, docs)
	}
	return nil
}

func printAssertions(ctx context.Context, w io.Writer, s *synthesizer.Synthesizer, docs []models.Document) {
	fmt.Fprintln(w)
	color.New(color.FgBlue).Fprintln(w, "Key assertions:")
	for i, doc := range docs {
		if doc.Synthetic {
			continue
		}
		a := s.ExtractAssertions(ctx, doc, askModel)
		fmt.Fprintf(w, "[%d] %s\n", i+1, a.Assertion)
	}
}

func printResult(w io.Writer, result models.SynthesisResult, docs []models.Document) {
	color.New(color.FgCyan).Fprintf(w, "\nAssistant (%s): ", result.ModelUsed)
	fmt.Fprintln(w, result.Answer)

	if result.Degraded() {
		warn := color.New(color.FgYellow)
		warn.Fprintln(w, "\nThe model could not be reached; this is a sources-only answer.")
		if len(result.SuggestedAlternatives) > 0 {
			warn.Fprintf(w, "Try --model with one of: %s\n", strings.Join(result.SuggestedAlternatives, ", "))
		}
	}

	fmt.Fprintln(w)
	color.New(color.FgBlue).Fprintln(w, "Sources:")
	for i, c := range result.Citations {
		line := c
		if i < len(docs) && docs[i].Synthetic {
			line += color.YellowString(" (generated)")
		}
		fmt.Fprintln(w, line)
	}
}

func getProgressBar(total int, description string) *progressbar.ProgressBar {
	return progressbar.NewOptions(total,
		progressbar.OptionSetDescription(color.BlueString(description)),
		progressbar.OptionSetItsString("sources"),
		progressbar.OptionShowCount(),
		progressbar.OptionShowIts(),
		progressbar.OptionSetTheme(progressbar.Theme{
			Saucer:        "█",
			SaucerHead:    "█",
			SaucerPadding: "░",
			BarStart:      "[",
			BarEnd:        "]",
		}),
		progressbar.OptionEnableColorCodes(true),
		progressbar.OptionSetWidth(40),
		progressbar.OptionShowElapsedTimeOnFinish(),
		progressbar.OptionSetPredictTime(true),
		progressbar.OptionFullWidth(),
		progressbar.OptionSetRenderBlankState(true),
	)
}

func getSpinner(description string) *progressbar.ProgressBar {
	return progressbar.NewOptions(-1,
		progressbar.OptionSetDescription(color.CyanString(description)),
		progressbar.OptionSpinnerType(14),
		progressbar.OptionSetWidth(20),
		progressbar.OptionEnableColorCodes(true),
		progressbar.OptionSetRenderBlankState(true),
	)
}

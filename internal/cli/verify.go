package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/helixir/citation-verification-service/internal/app"
	"github.com/helixir/citation-verification-service/internal/bibliography"
	"github.com/helixir/citation-verification-service/internal/config"
	"github.com/helixir/citation-verification-service/internal/domain"
	"github.com/helixir/citation-verification-service/internal/observability"
	"github.com/helixir/citation-verification-service/internal/pdf"
	"github.com/helixir/citation-verification-service/internal/report"
	"github.com/helixir/citation-verification-service/internal/service"
	"github.com/helixir/citation-verification-service/internal/verification"
)

// verifyDeps builds the collaborators of the verify command.
type verifyDeps struct {
	newVerifier func(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (verification.Verifier, io.Closer, error)
	newParser   func(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (bibliography.Parser, io.Closer, error)
	downloader  *pdf.Downloader
}

func defaultDeps() verifyDeps {
	return verifyDeps{
		newVerifier: func(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (verification.Verifier, io.Closer, error) {
			engine, err := app.NewEngine(ctx, cfg, logger, nil)
			if err != nil {
				return nil, nil, err
			}
			return engine, engine, nil
		},
		newParser: func(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (bibliography.Parser, io.Closer, error) {
			parser, err := bibliography.NewGeminiParser(ctx, cfg.Parser.Gemini, logger)
			if err != nil {
				return nil, nil, err
			}
			return parser, parser, nil
		},
		downloader: pdf.NewDownloader(pdf.Config{}),
	}
}

type verifyOptions struct {
	format   string
	out      string
	workers  int
	cache    string
	noCache  bool
	quiet    bool
	logLevel string
}

func newVerifyCmd(deps verifyDeps) *cobra.Command {
	opts := verifyOptions{}

	cmd := &cobra.Command{
		Use:   "verify <file|dir|url>...",
		Short: "Verify the references of PDF papers or reference files",
		Long: `Verify the references of one or more inputs.

An input is a PDF paper, an http(s) URL of a PDF, a JSON or YAML reference
file, or a directory; a directory is expanded to the PDF files directly
inside it, in name order.
Reading PDFs requires CITEVERIFY_PARSER_GEMINI_API_KEY.`,
		Example: `  citeverify verify paper.pdf
  citeverify verify papers/ --format csv --out results.csv
  citeverify verify https://arxiv.org/pdf/1706.03762
  citeverify verify refs.yaml --workers 8 --cache ~/.cache/citeverify.db`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			configPath, _ := cmd.Flags().GetString("config")
			return runVerify(cmd.Context(), cmd, deps, configPath, opts, args)
		},
	}

	cmd.Flags().StringVarP(&opts.format, "format", "f", string(report.FormatText), "output format: text, csv, yaml or parquet")
	cmd.Flags().StringVarP(&opts.out, "out", "o", "", "write the report to this file instead of stdout")
	cmd.Flags().IntVarP(&opts.workers, "workers", "w", 0, "references verified concurrently (default from config)")
	cmd.Flags().StringVar(&opts.cache, "cache", "", "SQLite lookup cache file; enables the cache")
	cmd.Flags().BoolVar(&opts.noCache, "no-cache", false, "disable the lookup cache even if configured")
	cmd.Flags().BoolVarP(&opts.quiet, "quiet", "q", false, "do not print per-reference progress")
	cmd.Flags().StringVar(&opts.logLevel, "log-level", "warn", "log level written to stderr")

	return cmd
}

func runVerify(ctx context.Context, cmd *cobra.Command, deps verifyDeps, configPath string, opts verifyOptions, args []string) error {
	if ctx == nil {
		ctx = context.Background()
	}
	stderr := cmd.ErrOrStderr()

	format, err := report.ParseFormat(opts.format)
	if err != nil {
		return err
	}
	if format.IsBinary() && opts.out == "" {
		return fmt.Errorf("%s output is binary; use --out to write it to a file", format)
	}

	cfg, err := config.LoadFile(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	applyOverrides(cfg, opts)

	logger := observability.NewLogger(observability.LoggingConfig{
		Level:      opts.logLevel,
		Format:     "console",
		Output:     "stderr",
		TimeFormat: cfg.Logging.TimeFormat,
	}).With().Str("component", "cli").Logger()

	inputs, cleanup, err := resolveInputs(ctx, args, deps.downloader, logger)
	defer cleanup()
	if err != nil {
		return err
	}
	if len(inputs) == 0 {
		return fmt.Errorf("no PDF files found in %s", strings.Join(args, ", "))
	}

	verifier, closer, err := deps.newVerifier(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("build verification engine: %w", err)
	}
	defer closeQuietly(closer, logger)

	var parser bibliography.Parser
	if needsParser(inputs) {
		p, pc, err := deps.newParser(ctx, cfg, logger)
		if err != nil {
			return fmt.Errorf("create bibliography parser: %w", err)
		}
		defer closeQuietly(pc, logger)
		parser = p
	}

	svc := service.New(verifier,
		service.WithLogger(logger),
		service.WithRunnerOptions(
			verification.WithWorkers(cfg.Verification.Workers),
			verification.WithLogger(logger),
		),
	)

	var (
		reports []report.Report
		failed  []string
	)
	for _, in := range inputs {
		if ctx.Err() != nil {
			break
		}
		label := in.label

		refs, err := bibliography.Load(ctx, in.path, parser, cfg.Parser.SectionKeywords)
		if err == nil && len(refs) == 0 {
			err = domain.NewValidationError("references", "no references found")
		}
		if err != nil {
			fmt.Fprintf(stderr, "Error processing %s: %v\n", label, err)
			failed = append(failed, label)
			continue
		}

		req := service.Request{Label: label, References: refs}
		if !opts.quiet {
			req.OnResult = progressPrinter(stderr, label, refs)
		}
		batch, err := svc.Verify(ctx, req)
		if err != nil {
			fmt.Fprintf(stderr, "Error processing %s: %v\n", label, err)
			failed = append(failed, label)
			continue
		}
		reports = append(reports, report.New(label, refs, batch))
	}

	if len(reports) > 0 {
		if err := writeReports(cmd.OutOrStdout(), opts.out, format, reports); err != nil {
			return err
		}
		if opts.out != "" {
			total := report.Totals(reports...)
			fmt.Fprintf(stderr, "Wrote %s report to %s: %d references verified, %d warnings.\n",
				format, opts.out, total.CountValidated, total.CountWarnings())
		}
	}

	if err := ctx.Err(); err != nil {
		return fmt.Errorf("verification interrupted: %w", err)
	}
	if len(failed) > 0 {
		return fmt.Errorf("%d of %d inputs failed: %s", len(failed), len(inputs), strings.Join(failed, ", "))
	}
	return nil
}

func applyOverrides(cfg *config.Config, opts verifyOptions) {
	if opts.workers > 0 {
		cfg.Verification.Workers = opts.workers
	}
	if opts.cache != "" {
		cfg.Cache.Enabled = true
		cfg.Cache.Path = opts.cache
	}
	if opts.noCache {
		cfg.Cache.Enabled = false
	}
}

// input is one file to verify and the name it is reported under.
type input struct {
	path  string
	label string
}

// resolveInputs expands directories and downloads URLs, keeping argument
// order. cleanup removes downloaded files and is safe to call on error.
func resolveInputs(ctx context.Context, args []string, downloader *pdf.Downloader, logger zerolog.Logger) ([]input, func(), error) {
	var (
		inputs []input
		tmpDir string
	)
	cleanup := func() {
		if tmpDir != "" {
			_ = os.RemoveAll(tmpDir)
		}
	}

	for _, arg := range args {
		if !pdf.IsURL(arg) {
			files, err := bibliography.ExpandInputs([]string{arg})
			if err != nil {
				return nil, cleanup, err
			}
			for _, f := range files {
				inputs = append(inputs, input{path: f, label: filepath.Base(f)})
			}
			continue
		}

		if downloader == nil {
			return nil, cleanup, domain.NewValidationError("input", "URL inputs are not supported")
		}
		if tmpDir == "" {
			dir, err := os.MkdirTemp("", "citeverify-*")
			if err != nil {
				return nil, cleanup, fmt.Errorf("create download directory: %w", err)
			}
			tmpDir = dir
		}
		dl, err := downloader.Download(ctx, arg, tmpDir)
		if err != nil {
			return nil, cleanup, fmt.Errorf("download %s: %w", arg, err)
		}
		logger.Info().Str("url", arg).Int64("bytes", dl.SizeBytes).Str("sha256", dl.SHA256).Msg("downloaded paper")
		inputs = append(inputs, input{path: dl.Path, label: dl.Name})
	}
	return inputs, cleanup, nil
}

func needsParser(inputs []input) bool {
	for _, in := range inputs {
		if format, err := bibliography.DetectFormat(in.path); err == nil && format == bibliography.FormatPDF {
			return true
		}
	}
	return false
}

// progressPrinter prints one line per finished reference.
func progressPrinter(w io.Writer, label string, refs []domain.ReferenceEntry) verification.ResultFunc {
	var (
		mu   sync.Mutex
		done int
	)
	return func(index int, result domain.VerificationResult) {
		mu.Lock()
		defer mu.Unlock()
		done++
		name := refs[index].Title
		if name == "" {
			name = refs[index].RawText
		}
		fmt.Fprintf(w, "[%s %d/%d] %-9s %s\n", label, done, len(refs), result.Status, truncate(name, 80))
	}
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-3]) + "..."
}

func writeReports(stdout io.Writer, out string, format report.Format, reports []report.Report) (err error) {
	if out == "" {
		return report.Write(stdout, format, reports...)
	}
	f, err := os.Create(out)
	if err != nil {
		return fmt.Errorf("create report file: %w", err)
	}
	defer func() {
		if closeErr := f.Close(); closeErr != nil && err == nil {
			err = fmt.Errorf("close report file: %w", closeErr)
		}
	}()
	if err := report.Write(f, format, reports...); err != nil {
		return fmt.Errorf("write %s report: %w", format, err)
	}
	return nil
}

func closeQuietly(c io.Closer, logger zerolog.Logger) {
	if c == nil {
		return
	}
	if err := c.Close(); err != nil && !errors.Is(err, context.Canceled) {
		logger.Warn().Err(err).Msg("close failed")
	}
}

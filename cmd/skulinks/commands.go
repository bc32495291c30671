package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/aluiziolira/go-dropbox-links/collector"
	"github.com/aluiziolira/go-dropbox-links/config"
	"github.com/aluiziolira/go-dropbox-links/models"
	"github.com/aluiziolira/go-dropbox-links/parser"
	"github.com/aluiziolira/go-dropbox-links/pipeline"
	"github.com/aluiziolira/go-dropbox-links/provider"
	"github.com/aluiziolira/go-dropbox-links/report"
)

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "skulinks",
		Short:         "Turn SKU to shared folder pairs into a spreadsheet of direct image links",
		SilenceUsage:  true,
		SilenceErrors: true,
		CompletionOptions: cobra.CompletionOptions{
			DisableDefaultCmd: true,
		},
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			verbose, _ := cmd.Flags().GetBool("verbose")
			logger, level := newLogger(verbose)
			slog.SetDefault(logger)
			slog.SetLogLoggerLevel(level.Level())
			return nil
		},
	}

	root.PersistentFlags().String("config", "", "YAML config file")
	root.PersistentFlags().BoolP("verbose", "v", false, "Enable verbose logging")
	root.PersistentFlags().String("token", "", "Dropbox access token (default: $DROPBOX_TOKEN)")
	root.PersistentFlags().String("api-url", "", "Dropbox API base URL")
	root.PersistentFlags().StringP("input", "i", "-", "Input file of SKU<TAB>link lines, or - for stdin")
	root.PersistentFlags().String("skus", "", "File with one SKU per line (paired with --links by position)")
	root.PersistentFlags().String("links", "", "File with one shared folder link per line")

	root.AddCommand(newRunCmd())
	root.AddCommand(newResolveCmd())
	root.AddCommand(newCheckCmd())
	return root
}

func newRunCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Collect image links for every SKU and write the export file",
		Args:  cobra.NoArgs,
		RunE:  runCollect,
	}

	cmd.Flags().StringP("output", "o", "", "Output file path")
	cmd.Flags().StringP("format", "f", "", "Output format: xlsx, csv, json, or dual")
	cmd.Flags().IntP("parallel", "p", 0, "Concurrent link requests per folder")
	cmd.Flags().String("exclude", "", "Comma separated file extensions to skip")
	cmd.Flags().Int("max-retries", 0, "Maximum retry attempts per API call")
	cmd.Flags().Duration("timeout", 0, "Per request timeout")
	cmd.Flags().String("metrics-addr", "", "Prometheus metrics listen address (e.g. :9090)")
	cmd.Flags().String("upload-s3", "", "Upload the export to bucket or bucket/prefix")
	cmd.Flags().String("s3-region", "", "AWS region for --upload-s3")
	return cmd
}

func newResolveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "resolve",
		Short: "Print the folder path behind each shared link",
		Args:  cobra.NoArgs,
		RunE:  runResolve,
	}
}

func newCheckCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "check",
		Short: "Validate the input without contacting Dropbox",
		Args:  cobra.NoArgs,
		RunE:  runCheck,
	}
}

// loadConfig applies defaults, the config file, the environment and then
// the flags that were set explicitly.
func loadConfig(fs *pflag.FlagSet) (*config.Config, error) {
	path, _ := fs.GetString("config")
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	if err := cfg.ApplyEnv(); err != nil {
		return nil, err
	}
	if err := applyFlags(fs, cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func applyFlags(fs *pflag.FlagSet, cfg *config.Config) error {
	var err error
	str := func(name string, dst *string) {
		if err == nil && fs.Changed(name) {
			*dst, err = fs.GetString(name)
		}
	}
	num := func(name string, dst *int) {
		if err == nil && fs.Changed(name) {
			*dst, err = fs.GetInt(name)
		}
	}

	str("token", &cfg.AccessToken)
	str("api-url", &cfg.APIBaseURL)
	str("output", &cfg.OutputFile)
	str("format", &cfg.OutputFormat)
	str("metrics-addr", &cfg.MetricsAddr)
	str("upload-s3", &cfg.UploadS3)
	str("s3-region", &cfg.S3Region)
	num("parallel", &cfg.Parallelism)
	num("max-retries", &cfg.MaxRetries)
	if err == nil && fs.Changed("timeout") {
		cfg.Timeout, err = fs.GetDuration("timeout")
	}
	if err == nil && fs.Changed("exclude") {
		var raw string
		raw, err = fs.GetString("exclude")
		cfg.ExcludedExtensions = config.SplitExtensions(raw)
	}
	if err == nil && fs.Changed("verbose") {
		cfg.Verbose, err = fs.GetBool("verbose")
	}
	cfg.OutputFormat = strings.ToLower(cfg.OutputFormat)
	return err
}

// readInput returns the pairs and the malformed lines that were skipped.
func readInput(cmd *cobra.Command) ([]models.InputPair, []models.ValidationError, error) {
	fs := cmd.Flags()
	skusPath, _ := fs.GetString("skus")
	linksPath, _ := fs.GetString("links")
	if skusPath != "" || linksPath != "" {
		if skusPath == "" || linksPath == "" {
			return nil, nil, errors.New("--skus and --links must be used together")
		}
		skus, err := readLinesFile(skusPath)
		if err != nil {
			return nil, nil, err
		}
		links, err := readLinesFile(linksPath)
		if err != nil {
			return nil, nil, err
		}
		pairs, err := parser.PairColumns(skus, links)
		return pairs, nil, err
	}

	input, _ := fs.GetString("input")
	var r io.Reader = cmd.InOrStdin()
	if input != "" && input != "-" {
		f, err := os.Open(input)
		if err != nil {
			return nil, nil, fmt.Errorf("open input: %w", err)
		}
		defer f.Close()
		r = f
	}
	return parser.ParsePairs(r)
}

func readLinesFile(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()
	return parser.ReadLines(f)
}

func loadPairs(cmd *cobra.Command) ([]models.InputPair, []models.ValidationError, error) {
	pairs, skipped, err := readInput(cmd)
	if err != nil {
		return nil, nil, err
	}
	for _, ve := range skipped {
		slog.Warn("skipping malformed input line",
			slog.Int("line", ve.Line),
			slog.String("reason", ve.Reason),
		)
	}
	if len(pairs) == 0 {
		return nil, skipped, errors.New("no SKU and link pairs in input")
	}
	return pairs, skipped, nil
}

func reportValidation(w io.Writer, err error) {
	var batchErr *models.BatchValidationError
	if errors.As(err, &batchErr) {
		report.WriteValidation(w, batchErr.Errors)
	}
}

func runCheck(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd.Flags())
	if err != nil {
		return err
	}
	pairs, skipped, err := loadPairs(cmd)
	if err != nil {
		return err
	}

	validator, err := parser.NewLinkValidator(cfg.SharedLinkPattern)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	for _, ve := range skipped {
		fmt.Fprintf(out, "skipped %s\n", ve.Error())
	}
	if err := validator.ValidateAll(pairs); err != nil {
		reportValidation(out, err)
		return err
	}
	fmt.Fprintf(out, "%d pairs OK\n", len(pairs))
	return nil
}

func newCollector(ctx context.Context, cfg *config.Config, reg prometheus.Registerer) (*collector.Collector, error) {
	dropbox, err := provider.NewDropbox(ctx, cfg, provider.WithMetrics(provider.NewMetrics(reg)))
	if err != nil {
		return nil, err
	}
	return collector.New(cfg, dropbox, collector.WithMetrics(collector.NewMetrics(reg)))
}

func runResolve(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd.Flags())
	if err != nil {
		return err
	}
	pairs, _, err := loadPairs(cmd)
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	c, err := newCollector(ctx, cfg, prometheus.NewRegistry())
	if err != nil {
		return err
	}
	if err := c.Validate(pairs); err != nil {
		reportValidation(cmd.ErrOrStderr(), err)
		return err
	}

	errs := &models.ErrorLog{}
	resolved := c.Resolve(ctx, pairs, errs, report.NewLogProgress(nil))
	if err := ctx.Err(); err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	ok := 0
	for _, rf := range resolved {
		if rf.OK() {
			ok++
			fmt.Fprintf(out, "%s\t%s\n", rf.Pair.SKU, rf.Path)
			continue
		}
		fmt.Fprintf(out, "%s\tERROR: %v\n", rf.Pair.SKU, rf.Err)
	}
	if ok == 0 {
		return models.ErrNoFolders
	}
	slog.Info("resolved links", slog.Int("resolved", ok), slog.Int("total", len(pairs)))
	return nil
}

func runCollect(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd.Flags())
	if err != nil {
		return err
	}
	if err := cfg.ValidateCredentials(); err != nil {
		return err
	}
	pairs, skipped, err := loadPairs(cmd)
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	registry := prometheus.NewRegistry()
	c, err := newCollector(ctx, cfg, registry)
	if err != nil {
		return err
	}
	if err := c.Validate(pairs); err != nil {
		reportValidation(cmd.ErrOrStderr(), err)
		return err
	}

	slog.Info("starting run",
		slog.Int("pairs", len(pairs)),
		slog.Int("skipped_lines", len(skipped)),
		slog.Int("workers", cfg.Parallelism),
		slog.String("output", cfg.OutputFile),
	)

	writer, paths, err := pipeline.NewWriter(cfg.OutputFormat, cfg.OutputFile,
		pipeline.WithLinkDelimiter(cfg.LinkDelimiter))
	if err != nil {
		return fmt.Errorf("creating writer: %w", err)
	}

	metricsServer := startMetricsServer(cfg.MetricsAddr, registry)
	defer stopMetricsServer(metricsServer)

	p := pipeline.NewPipeline(ctx, writer, cfg)
	p.Start()
	if cfg.Verbose {
		p.StartMetricsReporting(10 * time.Second)
	}

	result, runErr := c.Run(ctx, pairs, p, report.NewLogProgress(nil))

	if err := p.Close(); err != nil {
		writer.Close()
		return fmt.Errorf("pipeline shutdown failed: %w", err)
	}
	if err := writer.Close(); err != nil {
		return fmt.Errorf("close writer: %w", err)
	}

	out := cmd.OutOrStdout()
	if runErr != nil {
		if result != nil {
			report.WriteErrors(out, result.Errors)
		}
		return runErr
	}
	if err := writer.Validate(); err != nil {
		return fmt.Errorf("output validation failed: %w", err)
	}

	var uploaded []string
	if cfg.UploadS3 != "" {
		uploaded, err = uploadExports(ctx, cfg, paths)
		if err != nil {
			return err
		}
	}

	result.Skipped = skipped
	summary := report.Summary{
		Result:      result,
		OutputFiles: paths,
		Uploaded:    uploaded,
	}
	if t, ok := writer.(interface{ Truncated() int }); ok {
		summary.Truncated = t.Truncated()
	}
	if validation, ok := p.GetMetrics()["validation_errors"].(map[string]int); ok {
		summary.Validation = validation
	}
	report.WriteSummary(out, summary)
	report.WriteErrors(out, result.Errors)
	return nil
}

func uploadExports(ctx context.Context, cfg *config.Config, paths []string) ([]string, error) {
	uploader, err := pipeline.NewS3Uploader(ctx, cfg.UploadS3, cfg.S3Region)
	if err != nil {
		return nil, err
	}
	uploaded := make([]string, 0, len(paths))
	for _, path := range paths {
		uri, err := uploader.Upload(ctx, path)
		if err != nil {
			return uploaded, err
		}
		slog.Info("export uploaded", slog.String("uri", uri))
		uploaded = append(uploaded, uri)
	}
	return uploaded, nil
}

func startMetricsServer(addr string, registry *prometheus.Registry) *http.Server {
	if addr == "" {
		return nil
	}
	server := &http.Server{
		Addr:              addr,
		Handler:           promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("metrics server failed", slog.Any("error", err))
		}
	}()
	slog.Info("metrics server enabled", slog.String("addr", addr))
	return server
}

func stopMetricsServer(server *http.Server) {
	if server == nil {
		return
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		slog.Error("metrics server shutdown failed", slog.Any("error", err))
	}
}

package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joelkehle/watchvault-pricing/internal/appraisal"
	"github.com/joelkehle/watchvault-pricing/internal/config"
	"github.com/joelkehle/watchvault-pricing/internal/report"
)

// appraise runs the six-pass pipeline for one product described in a JSON file and
// prints the report. A partial run still prints what was produced, then exits 1.
// With -run it rebuilds the report from a saved run without calling the model.
func main() {
	productFile := flag.String("product", "", "path to product JSON ({\"product_id\":..., \"attributes\":{...}, \"signals\":{...}})")
	runFile := flag.String("run", "", "path to a saved run result JSON to re-render")
	format := flag.String("format", "md", "output format: md or json")
	envFile := flag.String("env", ".env", "optional .env file")
	flag.Parse()

	if *runFile != "" {
		if err := rerender(*runFile, *format); err != nil {
			fatalf("%v", err)
		}
		return
	}

	cfg, err := config.Load(*envFile)
	if err != nil {
		fatalf("config: %v", err)
	}
	logger := config.NewLogger(cfg.LogLevel, os.Stderr)

	if *productFile == "" {
		fatalf("-product is required")
	}
	if *format != "md" && *format != "json" {
		fatalf("-format must be md or json")
	}
	blob, err := os.ReadFile(*productFile)
	if err != nil {
		fatalf("read product: %v", err)
	}
	var req appraisal.Request
	if err := json.Unmarshal(blob, &req); err != nil {
		fatalf("decode product: %v", err)
	}

	caller, err := appraisal.NewAnthropicCaller(appraisal.AnthropicConfig{
		APIKey:            requiredEnv(cfg.AnthropicAPIKey, "ANTHROPIC_API_KEY"),
		Model:             cfg.AnthropicModel,
		RequestsPerSecond: cfg.LLMRPS,
	})
	if err != nil {
		fatalf("%v", err)
	}
	pipeline, err := appraisal.NewPipeline(appraisal.NewStageExecutor(caller),
		appraisal.WithLogger(logger.WithField("component", "appraisal")))
	if err != nil {
		fatalf("%v", err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	res, runErr := pipeline.RunWithProgress(ctx, req, func(_, message string) {
		fmt.Fprintln(os.Stderr, message)
	})
	switch *format {
	case "json":
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		_ = enc.Encode(res)
	default:
		fmt.Print(report.Markdown(res))
	}
	if runErr != nil {
		fmt.Fprintf(os.Stderr, "appraisal stopped at %s: %v\n", appraisal.StageNameFromError(runErr), runErr)
		os.Exit(1)
	}
}

func rerender(path, format string) error {
	blob, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read run: %w", err)
	}
	var res appraisal.RunResult
	if err := json.Unmarshal(blob, &res); err != nil {
		return fmt.Errorf("decode run: %w", err)
	}
	if res.RunID == "" {
		return fmt.Errorf("decode run: missing run_id")
	}
	if format == "json" {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(res)
	}
	_, err = fmt.Print(report.Markdown(res))
	return err
}

func requiredEnv(value, key string) string {
	if value == "" {
		fatalf("missing required env var %s", key)
	}
	return value
}

func fatalf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(2)
}

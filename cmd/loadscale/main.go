package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/alecthomas/kong"

	"github.com/lox/loadscale/internal/logging"
	"github.com/lox/loadscale/internal/metrics"
	"github.com/lox/loadscale/internal/pipeline"
	"github.com/lox/loadscale/internal/store"
)

type CLI struct {
	InputDir        string   `help:"Directory of unscaled <scenario>/<year>.csv.gz shape files." default:"unscaled_shapes/shape_outputs" type:"path"`
	OutputDir       string   `help:"Directory to write scaled shapes and summaries to." default:"scaled_shapes" type:"path"`
	ScalingInputs   string   `help:"Scaling targets CSV in MWh." default:"scaling_inputs_MWh.csv" type:"path"`
	Groups          string   `help:"Optional YAML file of subsector group aliases." type:"path"`
	Hours           int      `help:"Hourly rows per subsector." default:"8760"`
	Scenario        []string `help:"Only process these scenarios (repeatable)."`
	Interpolate     bool     `help:"Interpolate targets linearly for years without a target row."`
	BaselineSummary bool     `help:"Also write pre-scaling group totals to original_energy_values.csv."`
	Jobs            int      `help:"Units to process concurrently." default:"1"`
	Ledger          string   `help:"Optional SQLite database recording runs and scale factors." type:"path"`
	MetricsFile     string   `help:"Optional Prometheus textfile to write at the end of the run." type:"path"`
	LogLevel        string   `help:"Log level." default:"info" enum:"debug,info,warn,error"`
	LogFormat       string   `help:"Log format." default:"text" enum:"text,json"`
}

func (c *CLI) Run() error {
	logger, err := logging.New(os.Stderr, c.LogLevel, c.LogFormat)
	if err != nil {
		return err
	}
	slog.SetDefault(logger)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	runner := pipeline.NewRunner(pipeline.Config{
		InputDir:        c.InputDir,
		OutputDir:       c.OutputDir,
		ScalingInputs:   c.ScalingInputs,
		GroupsFile:      c.Groups,
		Hours:           c.Hours,
		Scenarios:       c.Scenario,
		Interpolate:     c.Interpolate,
		BaselineSummary: c.BaselineSummary,
		Jobs:            c.Jobs,
	}, logger)

	if c.Ledger != "" {
		st, err := store.Open(c.Ledger)
		if err != nil {
			return err
		}
		defer st.Close()
		runner.SetStore(st)
	}

	var m *metrics.Metrics
	if c.MetricsFile != "" {
		m = metrics.New()
		runner.SetMetrics(m)
	}

	res, runErr := runner.Run(ctx)

	if m != nil {
		if err := m.WriteTextfile(c.MetricsFile); err != nil {
			logger.Error("write metrics failed", "path", c.MetricsFile, "err", err)
		}
	}

	if runErr != nil {
		logger.Error("run failed", "run_id", res.RunID, "failed_scenarios", res.Failed)
		return runErr
	}
	return nil
}

func main() {
	var cli CLI
	ctx := kong.Parse(&cli,
		kong.Name("loadscale"),
		kong.Description("Scale hourly load shapes to annual energy targets."),
		kong.UsageOnError(),
		kong.Configuration(kong.JSON, "loadscale.json"),
	)
	ctx.FatalIfErrorf(cli.Run())
}

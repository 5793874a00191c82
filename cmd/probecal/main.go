package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"probecal/adapters/artifact"
	"probecal/adapters/excel"
	"probecal/adapters/oracle"
	"probecal/app"
	"probecal/domain/calibration"
	"probecal/domain/probe"
	"probecal/internal"
	"probecal/internal/api"
	"probecal/internal/config"
	apperrors "probecal/internal/errors"
	"probecal/internal/report"
	"probecal/internal/testkit"
	"probecal/ports"
)

// version is set at build time with -ldflags "-X main.version=..."
var version = "dev"

var logLevel string

func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using system environment variables")
	}

	rootCmd := &cobra.Command{
		Use:           "probecal",
		Version:       version,
		Short:         "5-hole probe calibration: fit tunnel sweeps into firmware lookup tables",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "ERROR|WARN|INFO|DEBUG|TRACE (default from LOG_LEVEL)")

	rootCmd.AddCommand(
		newGenerateCmd(),
		newVerifyCmd(),
		newServeCmd(),
		newSynthCmd(),
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(apperrors.ExitCode(err))
	}
}

func newLogger() *internal.Logger {
	if logLevel != "" {
		return internal.NewLogger(internal.ParseLogLevel(logLevel))
	}
	return internal.NewDefaultLogger()
}

// loadConfig reads the environment, applies flag overrides and validates
func loadConfig(override func(*config.Config)) (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	if override != nil {
		override(cfg)
		if err := cfg.Validate(); err != nil {
			return nil, err
		}
	}
	return cfg, nil
}

func measurementFiles(args []string, cfg *config.Config) ([]string, error) {
	if len(args) > 0 {
		return args, nil
	}
	if len(cfg.Data.Files) > 0 {
		return cfg.Data.Files, nil
	}
	return nil, apperrors.InvalidInput("no measurement files: pass them as arguments or set MEASUREMENT_FILES")
}

func newGenerateCmd() *cobra.Command {
	var (
		output     string
		format     string
		prefix     string
		reportPath string
		betaLimit  float64
		step       float64
		aggregate  bool
		sequential bool
	)

	cmd := &cobra.Command{
		Use:   "generate [measurement files...]",
		Short: "Fit measurement sweeps and write the calibration table",
		Long: `Fold, fit and sample one or more tunnel sweeps (CSV or XLSX with columns
alpha, beta, d, u, r, l, c, s) and write the lookup table atomically.

Example: probecal generate sweep1.xlsx sweep2.csv --output calibration.h --prefix probe`,
		RunE: func(cmd *cobra.Command, args []string) error {
			flags := cmd.Flags()
			cfg, err := loadConfig(func(c *config.Config) {
				if flags.Changed("output") {
					c.Output.Path = output
				}
				if flags.Changed("format") {
					c.Output.Format = strings.ToLower(format)
				} else if flags.Changed("output") && strings.HasSuffix(strings.ToLower(output), ".json") {
					c.Output.Format = config.FormatJSON
				}
				if flags.Changed("prefix") {
					c.Output.FilePrefix = prefix
				}
				if flags.Changed("report") {
					c.Output.ReportPath = reportPath
				}
				if flags.Changed("beta-limit") {
					c.Data.BetaLimit = betaLimit
				}
				if flags.Changed("step") {
					c.Grid.Step = step
				}
				if flags.Changed("aggregate") {
					c.Data.Aggregate = aggregate
				}
				if flags.Changed("sequential") {
					c.Fit.Parallel = !sequential
				}
			})
			if err != nil {
				return err
			}
			files, err := measurementFiles(args, cfg)
			if err != nil {
				return err
			}
			return runGenerate(cmd.Context(), cfg, files, newLogger())
		},
	}

	cmd.Flags().StringVarP(&output, "output", "o", "", "Table artifact path (default OUTPUT_PATH)")
	cmd.Flags().StringVar(&format, "format", "", "Artifact format: c|json (default OUTPUT_FORMAT)")
	cmd.Flags().StringVar(&prefix, "prefix", "", "C identifier prefix of the table (default FILE_PREFIX)")
	cmd.Flags().StringVar(&reportPath, "report", "", "Write a fit report (.md or .html)")
	cmd.Flags().Float64Var(&betaLimit, "beta-limit", 0, "Drop readings with |beta| above this, 0 keeps all (default BETA_LIMIT)")
	cmd.Flags().Float64Var(&step, "step", 0, "Grid step (default GRID_STEP)")
	cmd.Flags().BoolVar(&aggregate, "aggregate", false, "Average repeated readings per commanded pair")
	cmd.Flags().BoolVar(&sequential, "sequential", false, "Fit the four surfaces one after another")

	return cmd
}

func runGenerate(ctx context.Context, cfg *config.Config, files []string, logger *internal.Logger) error {
	codec, err := artifact.ForFormat(cfg.Output.Format)
	if err != nil {
		return apperrors.WithCode(apperrors.CodeConfigInvalid, err)
	}

	reader := excel.NewDataReader(excel.DefaultReaderConfig(), logger)
	batch, err := reader.LoadAll(ctx, files)
	if err != nil {
		return apperrors.WithCode(apperrors.CodeIngestion, err)
	}

	pipeline := app.NewPipeline(app.PipelineConfigFrom(cfg), logger)
	result, err := pipeline.Run(ctx, batch)
	if err != nil {
		return err
	}

	// The manifest is complete before the table is published; a table whose
	// manifest cannot be written is withdrawn.
	inputs, err := artifact.HashInputs(files)
	if err != nil {
		return apperrors.WithCode(apperrors.CodeIngestion, err)
	}
	manifest := pipeline.Manifest(result, inputs, codec.Name(), version)
	if err := manifest.Validate(); err != nil {
		return apperrors.WithCode(apperrors.CodeSerialization, err)
	}

	var store ports.TableStore = artifact.NewFileStore(codec, logger)
	if err := store.Write(cfg.Output.Path, result.Table); err != nil {
		return apperrors.WithCode(apperrors.CodeSerialization, err)
	}
	if err := artifact.WriteManifest(artifact.ManifestPath(cfg.Output.Path), manifest); err != nil {
		if rmErr := os.Remove(cfg.Output.Path); rmErr != nil {
			logger.Error("failed to withdraw %s: %v", cfg.Output.Path, rmErr)
		}
		return apperrors.WithCode(apperrors.CodeSerialization, err)
	}

	if cfg.Output.ReportPath != "" {
		selfCheck, err := verifyInProcess(ctx, cfg, batch, result.Table, logger)
		if err != nil {
			return err
		}
		if err := report.Write(cfg.Output.ReportPath, result, selfCheck); err != nil {
			return err
		}
	}

	fmt.Printf("Run %s\n", result.RunID)
	fmt.Printf("Samples: %d (restricted %d, degenerate %d)\n", result.Samples, result.Restricted, len(result.Dropped))
	for _, v := range calibration.Variables {
		d := result.Fits[v].Diagnostics
		fmt.Printf("  %-18s rms %-12.4g max %.4g\n", v, d.RMS, d.MaxAbs)
	}
	fmt.Printf("Wrote %s (%s)\n", cfg.Output.Path, result.Table.Fingerprint().Short())
	return nil
}

// verifyInProcess replays batch through the firmware lookup of table. A run
// where no reading could be looked up still yields its report.
func verifyInProcess(ctx context.Context, cfg *config.Config, batch probe.Batch, table *calibration.Table, logger *internal.Logger) (*app.VerificationReport, error) {
	consumer, err := oracle.NewTableOracle(table)
	if err != nil {
		return nil, err
	}
	result, err := app.NewVerifier(cfg.Data.NoiseFloor, false, logger).Verify(ctx, batch, consumer)
	if err != nil {
		if result == nil {
			return nil, err
		}
		logger.Warn("self-check: %v", err)
	}
	return result, nil
}

// checkManifest compares table with the manifest published beside it, if any.
func checkManifest(path string, table *calibration.Table, logger *internal.Logger) {
	m, err := artifact.ReadManifest(artifact.ManifestPath(path))
	switch {
	case errors.Is(err, os.ErrNotExist):
		logger.Warn("%s has no run manifest", path)
	case err != nil:
		logger.Warn("run manifest of %s unreadable: %v", path, err)
	case m.TableFingerprint != table.Fingerprint():
		logger.Warn("%s does not match its manifest (run %s, table %s)", path, m.RunID, m.TableFingerprint.Short())
	default:
		logger.Info("%s produced by run %s", path, m.RunID)
	}
}

func newVerifyCmd() *cobra.Command {
	var (
		tablePath  string
		command    string
		reportJSON string
	)

	cmd := &cobra.Command{
		Use:   "verify [measurement files...]",
		Short: "Replay measurements through a table consumer and report the error",
		Long: `Evaluate every reading with baro 0 and compare the consumer's output with
the commanded angles, q = 1 and p = -s.

Without --oracle the table is evaluated in-process with the firmware lookup.
With --oracle the given program is run once per reading as
"program dp0 dpa dpb baro" and must print "alpha,beta,q,p".

Example: probecal verify sweep1.xlsx --table calibration.h --oracle ./firmware_test`,
		RunE: func(cmd *cobra.Command, args []string) error {
			flags := cmd.Flags()
			cfg, err := loadConfig(func(c *config.Config) {
				if flags.Changed("table") {
					c.Output.Path = tablePath
				}
				if flags.Changed("oracle") {
					c.Oracle.Command = command
				}
			})
			if err != nil {
				return err
			}
			files, err := measurementFiles(args, cfg)
			if err != nil {
				return err
			}
			return runVerify(cmd.Context(), cfg, files, reportJSON, newLogger())
		},
	}

	cmd.Flags().StringVar(&tablePath, "table", "", "Table artifact to verify (default OUTPUT_PATH)")
	cmd.Flags().StringVar(&command, "oracle", "", "External consumer program (default ORACLE_COMMAND)")
	cmd.Flags().StringVar(&reportJSON, "json", "", "Save the per-reading verification report as JSON")

	return cmd
}

func runVerify(ctx context.Context, cfg *config.Config, files []string, reportJSON string, logger *internal.Logger) error {
	reader := excel.NewDataReader(excel.DefaultReaderConfig(), logger)
	batch, err := reader.LoadAll(ctx, files)
	if err != nil {
		return apperrors.WithCode(apperrors.CodeIngestion, err)
	}

	var consumer ports.ReferenceOracle
	if cfg.Oracle.Command != "" {
		consumer, err = oracle.NewCommandOracle(cfg.Oracle.Command)
		if err != nil {
			return apperrors.Wrapf(apperrors.InvalidInput(err.Error()), "oracle command %q", cfg.Oracle.Command)
		}
		logger.Info("verifying with external consumer %q", cfg.Oracle.Command)
	} else {
		table, err := artifact.NewFileStore(artifact.ForPath(cfg.Output.Path), logger).Read(cfg.Output.Path)
		if err != nil {
			return apperrors.WithCode(apperrors.CodeSerialization, err)
		}
		checkManifest(cfg.Output.Path, table, logger)
		consumer, err = oracle.NewTableOracle(table)
		if err != nil {
			return err
		}
		logger.Info("verifying %s (%s) in-process", cfg.Output.Path, table.Fingerprint().Short())
	}

	verifier := app.NewVerifier(cfg.Data.NoiseFloor, reportJSON != "", logger)
	result, err := verifier.Verify(ctx, batch, consumer)
	if err != nil {
		return err
	}

	if reportJSON != "" {
		data, err := json.MarshalIndent(result, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to marshal verification report: %w", err)
		}
		if err := os.WriteFile(reportJSON, data, 0o644); err != nil {
			return fmt.Errorf("failed to write verification report: %w", err)
		}
	}

	fmt.Printf("Verified %d readings (%d degenerate, %d consumer failures)\n",
		result.Samples, result.Degenerate, result.Failures)
	fmt.Printf("  alpha rms %.4g deg, max %.4g\n", result.Alpha.RMS, result.Alpha.MaxAbs)
	fmt.Printf("  beta  rms %.4g deg, max %.4g\n", result.Beta.RMS, result.Beta.MaxAbs)
	fmt.Printf("  q     rms %.4g, max %.4g\n", result.Q.RMS, result.Q.MaxAbs)
	fmt.Printf("  p     rms %.4g, max %.4g\n", result.P.RMS, result.P.MaxAbs)
	return nil
}

func newServeCmd() *cobra.Command {
	var (
		port      string
		tablePath string
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve a calibration table and its lookup over HTTP",
		RunE: func(cmd *cobra.Command, args []string) error {
			flags := cmd.Flags()
			cfg, err := loadConfig(func(c *config.Config) {
				if flags.Changed("port") {
					c.Server.Port = port
				}
				if flags.Changed("table") {
					c.Server.TablePath = tablePath
				}
			})
			if err != nil {
				return err
			}

			logger := newLogger()
			gin.SetMode(cfg.Server.GinMode)
			server, err := api.Open(cfg.Server.TablePath, logger)
			if err != nil {
				return err
			}
			return server.Run(":" + cfg.Server.Port)
		},
	}

	cmd.Flags().StringVar(&port, "port", "", "Listen port (default PORT)")
	cmd.Flags().StringVar(&tablePath, "table", "", "Table artifact to serve (default TABLE_PATH)")

	return cmd
}

func newSynthCmd() *cobra.Command {
	gen := testkit.DefaultProbeConfig()

	cmd := &cobra.Command{
		Use:   "synth [output file]",
		Short: "Write a synthetic tunnel sweep from a known probe",
		Long: `Generate readings from the built-in probe model, with Gaussian channel
noise, as CSV or XLSX. Useful for exercising generate and verify end to end.

Example: probecal synth sweep.xlsx --noise 0.002 --repeats 3 --seed 7`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := gen.Validate(); err != nil {
				return apperrors.InvalidInput(err.Error())
			}
			batch := testkit.NewProbeGenerator(gen).Generate()
			batch.Label = args[0]
			if err := excel.WriteBatch(args[0], batch); err != nil {
				return apperrors.WithCode(apperrors.CodeSerialization, err)
			}
			fmt.Printf("Wrote %d readings to %s\n", batch.Len(), args[0])
			return nil
		},
	}

	cmd.Flags().Uint64Var(&gen.Seed, "seed", gen.Seed, "Random seed for the channel noise")
	cmd.Flags().Float64Var(&gen.ChannelNoise, "noise", gen.ChannelNoise, "Channel noise standard deviation")
	cmd.Flags().IntVar(&gen.Repeats, "repeats", gen.Repeats, "Readings per commanded pair")
	cmd.Flags().Float64Var(&gen.Step, "step", gen.Step, "Ratio sweep step")

	return cmd
}

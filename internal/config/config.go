package config

import (
	"os"
	"strconv"
	"strings"

	"probecal/domain/calibration"
	"probecal/internal/errors"
)

// Output formats understood by the artifact store
const (
	FormatCHeader = "c"
	FormatJSON    = "json"
)

// Config represents the complete application configuration
type Config struct {
	Grid   GridConfig
	Data   DataConfig
	Fit    FitConfig
	Output OutputConfig
	Oracle OracleConfig
	Server ServerConfig
}

// GridConfig holds the sampling envelope over (dpa/dp0, dpb/dp0)
type GridConfig struct {
	XMin float64
	XMax float64
	YMin float64
	YMax float64
	Step float64
}

// DataConfig holds measurement ingestion settings. A zero BetaLimit disables
// the beta restriction.
type DataConfig struct {
	Files      []string
	BetaLimit  float64
	NoiseFloor float64
	Aggregate  bool
}

// FitConfig holds solver settings
type FitConfig struct {
	MaxIterations int
	Tolerance     float64
	Parallel      bool
}

// OutputConfig holds artifact settings
type OutputConfig struct {
	Path       string
	Format     string
	FilePrefix string
	ReportPath string
}

// OracleConfig names the firmware test binary used for verification
type OracleConfig struct {
	Command string
}

// ServerConfig holds lookup service settings
type ServerConfig struct {
	Port      string
	GinMode   string
	TablePath string
}

// Load reads configuration from environment variables and validates it
func Load() (*Config, error) {
	config := &Config{
		Grid:   loadGridConfig(),
		Data:   loadDataConfig(),
		Fit:    loadFitConfig(),
		Output: loadOutputConfig(),
		Oracle: OracleConfig{Command: getEnvOrDefault("ORACLE_COMMAND", "")},
		Server: loadServerConfig(),
	}

	if err := config.Validate(); err != nil {
		return nil, errors.Wrap(err, "configuration validation failed")
	}

	return config, nil
}

// Default returns the configuration used when no environment is set
func Default() *Config {
	g := calibration.DefaultGridSpec()
	return &Config{
		Grid: GridConfig{XMin: g.XMin, XMax: g.XMax, YMin: g.YMin, YMax: g.YMax, Step: g.Step},
		Data: DataConfig{BetaLimit: 30, NoiseFloor: 1e-6},
		Fit:  FitConfig{MaxIterations: 200, Tolerance: 1e-10, Parallel: true},
		Output: OutputConfig{
			Path:       "calibration.h",
			Format:     FormatCHeader,
			FilePrefix: "probe",
		},
		Server: ServerConfig{Port: "8080", GinMode: "debug", TablePath: "calibration.h"},
	}
}

func loadGridConfig() GridConfig {
	d := Default().Grid
	return GridConfig{
		XMin: getEnvFloatOrDefault("GRID_X_MIN", d.XMin),
		XMax: getEnvFloatOrDefault("GRID_X_MAX", d.XMax),
		YMin: getEnvFloatOrDefault("GRID_Y_MIN", d.YMin),
		YMax: getEnvFloatOrDefault("GRID_Y_MAX", d.YMax),
		Step: getEnvFloatOrDefault("GRID_STEP", d.Step),
	}
}

func loadDataConfig() DataConfig {
	d := Default().Data
	return DataConfig{
		Files:      getEnvListOrDefault("MEASUREMENT_FILES", nil),
		BetaLimit:  getEnvFloatOrDefault("BETA_LIMIT", d.BetaLimit),
		NoiseFloor: getEnvFloatOrDefault("DP0_NOISE_FLOOR", d.NoiseFloor),
		Aggregate:  getEnvBoolOrDefault("AGGREGATE_READINGS", d.Aggregate),
	}
}

func loadFitConfig() FitConfig {
	d := Default().Fit
	return FitConfig{
		MaxIterations: getEnvIntOrDefault("FIT_MAX_ITERATIONS", d.MaxIterations),
		Tolerance:     getEnvFloatOrDefault("FIT_TOLERANCE", d.Tolerance),
		Parallel:      getEnvBoolOrDefault("FIT_PARALLEL", d.Parallel),
	}
}

func loadOutputConfig() OutputConfig {
	d := Default().Output
	return OutputConfig{
		Path:       getEnvOrDefault("OUTPUT_PATH", d.Path),
		Format:     strings.ToLower(getEnvOrDefault("OUTPUT_FORMAT", d.Format)),
		FilePrefix: getEnvOrDefault("FILE_PREFIX", d.FilePrefix),
		ReportPath: getEnvOrDefault("REPORT_PATH", d.ReportPath),
	}
}

func loadServerConfig() ServerConfig {
	d := Default().Server
	return ServerConfig{
		Port:      getEnvOrDefault("PORT", d.Port),
		GinMode:   getEnvOrDefault("GIN_MODE", d.GinMode),
		TablePath: getEnvOrDefault("TABLE_PATH", d.TablePath),
	}
}

// GridSpec converts the grid section into the sampler's grid description
func (c *Config) GridSpec() calibration.GridSpec {
	return calibration.GridSpec{
		XMin: c.Grid.XMin,
		XMax: c.Grid.XMax,
		YMin: c.Grid.YMin,
		YMax: c.Grid.YMax,
		Step: c.Grid.Step,
	}
}

// Validate checks cross-field constraints
func (c *Config) Validate() error {
	if err := c.GridSpec().Validate(); err != nil {
		return errors.ConfigInvalid(err.Error())
	}
	if c.Data.BetaLimit < 0 {
		return errors.ConfigInvalid("BETA_LIMIT must not be negative")
	}
	if c.Data.NoiseFloor < 0 {
		return errors.ConfigInvalid("DP0_NOISE_FLOOR must not be negative")
	}
	if c.Fit.MaxIterations <= 0 {
		return errors.ConfigInvalid("FIT_MAX_ITERATIONS must be positive")
	}
	if c.Fit.Tolerance <= 0 {
		return errors.ConfigInvalid("FIT_TOLERANCE must be positive")
	}
	switch c.Output.Format {
	case FormatCHeader, FormatJSON:
	default:
		return errors.ConfigInvalid("OUTPUT_FORMAT must be c or json, got " + c.Output.Format)
	}
	if c.Output.Path == "" {
		return errors.ConfigInvalid("OUTPUT_PATH is required")
	}
	if !calibration.ValidPrefix(c.Output.FilePrefix) {
		return errors.ConfigInvalid("FILE_PREFIX must be a C identifier, got " + c.Output.FilePrefix)
	}
	return nil
}

// Helper functions for environment variable parsing
func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvIntOrDefault(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvFloatOrDefault(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatValue, err := strconv.ParseFloat(value, 64); err == nil {
			return floatValue
		}
	}
	return defaultValue
}

func getEnvBoolOrDefault(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}

// getEnvListOrDefault splits a comma separated value, dropping blanks
func getEnvListOrDefault(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

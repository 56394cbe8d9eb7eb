// Package config provides configuration loading and management for glycopaint.
// It handles loading configuration from YAML files and provides default values.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"go.uber.org/zap/zapcore"
	"gopkg.in/yaml.v3"

	"glycopaint/pkg/curvefit"
	"glycopaint/pkg/heatmap"
	"glycopaint/pkg/metrics"
	"glycopaint/pkg/selection"
)

// Config represents the application configuration loaded from YAML
type Config struct {
	// Square generation parameters
	GenerateSquares struct {
		// NrOfSquaresInRow is the grid resolution N; a recording is divided in N×N squares
		NrOfSquaresInRow int `yaml:"nrOfSquaresInRow"`

		// MinTracksForTau is the number of tracks below which no Tau is fitted
		MinTracksForTau int `yaml:"minTracksForTau"`

		// MinAllowableRSquared is the R² below which a fitted Tau is rejected
		MinAllowableRSquared float64 `yaml:"minAllowableRSquared"`

		// MinRequiredDensityRatio is the density ratio a square needs to be selected
		MinRequiredDensityRatio float64 `yaml:"minRequiredDensityRatio"`

		// MaxAllowableVariability is the variability above which a square is not selected
		MaxAllowableVariability float64 `yaml:"maxAllowableVariability"`

		// MinTrackDuration and MaxTrackDuration bound the longest track of a selected square
		MinTrackDuration float64 `yaml:"minTrackDuration"`
		MaxTrackDuration float64 `yaml:"maxTrackDuration"`

		// NeighbourMode is Free, Strict or Relaxed
		NeighbourMode string `yaml:"neighbourMode"`

		// BackgroundFraction is the fraction of squares whose track count estimates the background
		BackgroundFraction float64 `yaml:"backgroundFraction"`

		// LongTrackFraction is the fraction of longest tracks averaged per square
		LongTrackFraction float64 `yaml:"longTrackFraction"`

		// VariabilityGranularity is the sub-grid resolution used for Variability
		VariabilityGranularity int `yaml:"variabilityGranularity"`

		// ExcludeZeroDCTracks leaves tracks without diffusion out of the Tau fits
		ExcludeZeroDCTracks bool `yaml:"excludeZeroDCTracks"`

		// PlotToFile writes the recording level fit of every recording to a PNG
		PlotToFile bool `yaml:"plotToFile"`

		// PlotMax is the upper limit of the duration axis of those plots in seconds
		PlotMax float64 `yaml:"plotMax"`
	} `yaml:"generateSquares"`

	// Processing parameters
	Processing struct {
		// Workers is the number of recordings processed in parallel
		Workers int `yaml:"workers"`

		// FitTimeout bounds a single curve fit
		FitTimeout time.Duration `yaml:"fitTimeout"`

		// FitMaxIterations bounds the iterations of a single curve fit
		FitMaxIterations int `yaml:"fitMaxIterations"`

		// Force reprocesses experiments whose outputs are up to date
		Force bool `yaml:"force"`
	} `yaml:"processing"`

	// Output parameters
	Output struct {
		// SaveHeatmaps writes a heatmap image per recording
		SaveHeatmaps bool `yaml:"saveHeatmaps"`

		// HeatmapMode is the square metric shown in the heatmaps
		HeatmapMode string `yaml:"heatmapMode"`

		// Database is the path of the run ledger; empty disables it
		Database string `yaml:"database"`
	} `yaml:"output"`

	// Logging parameters
	Logging struct {
		// Level is debug, info, warn or error
		Level string `yaml:"level"`

		// File receives a copy of the log when set
		File string `yaml:"file"`
	} `yaml:"logging"`
}

// DefaultConfig returns a configuration with default values
func DefaultConfig() *Config {
	cfg := &Config{}

	gs := &cfg.GenerateSquares
	gs.NrOfSquaresInRow = 20
	gs.MinTracksForTau = 20
	gs.MinAllowableRSquared = 0.9
	gs.MinRequiredDensityRatio = 2.0
	gs.MaxAllowableVariability = 10.0
	gs.MinTrackDuration = 0
	gs.MaxTrackDuration = 1000000
	gs.NeighbourMode = selection.Free.String()
	gs.BackgroundFraction = 0.1
	gs.LongTrackFraction = 0.1
	gs.VariabilityGranularity = 10
	gs.ExcludeZeroDCTracks = false
	gs.PlotToFile = false
	gs.PlotMax = 5

	cfg.Processing.Workers = runtime.NumCPU()
	cfg.Processing.FitTimeout = 10 * time.Second
	cfg.Processing.FitMaxIterations = 800
	cfg.Processing.Force = false

	cfg.Output.SaveHeatmaps = false
	cfg.Output.HeatmapMode = "Tau"

	cfg.Logging.Level = "info"

	return cfg
}

// LoadConfig loads configuration from a YAML file
// If the file doesn't exist, it returns the default configuration
func LoadConfig(configPath string) (*Config, error) {
	cfg := DefaultConfig()

	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		return cfg, nil
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("error reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("error parsing config file: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// SaveConfig saves the configuration to a YAML file
func SaveConfig(cfg *Config, configPath string) error {
	dir := filepath.Dir(configPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("error creating config directory: %w", err)
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("error marshaling config: %w", err)
	}

	if err := os.WriteFile(configPath, data, 0644); err != nil {
		return fmt.Errorf("error writing config file: %w", err)
	}

	return nil
}

// CreateDefaultConfigFile creates a default configuration file at the specified path
func CreateDefaultConfigFile(configPath string) error {
	cfg := DefaultConfig()
	return SaveConfig(cfg, configPath)
}

// ValidationError lists every problem found in a configuration
type ValidationError struct {
	Problems []string
}

func (e *ValidationError) Error() string {
	return "invalid configuration: " + strings.Join(e.Problems, "; ")
}

// Validate checks the configuration for values the pipeline cannot run with
func (c *Config) Validate() error {
	var problems []string
	add := func(format string, args ...any) {
		problems = append(problems, fmt.Sprintf(format, args...))
	}

	gs := c.GenerateSquares
	if gs.NrOfSquaresInRow < 1 {
		add("nrOfSquaresInRow must be at least 1, got %d", gs.NrOfSquaresInRow)
	}
	if gs.MinTracksForTau < 0 {
		add("minTracksForTau must not be negative, got %d", gs.MinTracksForTau)
	}
	if gs.MinTrackDuration > gs.MaxTrackDuration {
		add("minTrackDuration %g exceeds maxTrackDuration %g", gs.MinTrackDuration, gs.MaxTrackDuration)
	}
	if _, err := selection.ParseNeighbourMode(gs.NeighbourMode); err != nil {
		add("neighbourMode: %v", err)
	}
	if gs.BackgroundFraction < 0 || gs.BackgroundFraction > 1 {
		add("backgroundFraction must be within [0, 1], got %g", gs.BackgroundFraction)
	}
	if gs.LongTrackFraction < 0 || gs.LongTrackFraction > 1 {
		add("longTrackFraction must be within [0, 1], got %g", gs.LongTrackFraction)
	}
	if gs.VariabilityGranularity < 1 {
		add("variabilityGranularity must be at least 1, got %d", gs.VariabilityGranularity)
	}
	if _, err := heatmap.ParseMode(c.Output.HeatmapMode); err != nil {
		add("heatmapMode: %v", err)
	}
	if c.Processing.Workers < 1 {
		add("workers must be at least 1, got %d", c.Processing.Workers)
	}
	if _, err := zapcore.ParseLevel(c.Logging.Level); err != nil {
		add("logging level: %v", err)
	}
	if c.Processing.FitTimeout < 0 {
		add("fitTimeout must not be negative, got %s", c.Processing.FitTimeout)
	}

	if len(problems) > 0 {
		return &ValidationError{Problems: problems}
	}
	return nil
}

// Criteria returns the square selection thresholds
func (c *Config) Criteria() (selection.Criteria, error) {
	gs := c.GenerateSquares
	mode, err := selection.ParseNeighbourMode(gs.NeighbourMode)
	if err != nil {
		return selection.Criteria{}, err
	}
	return selection.Criteria{
		MinDensityRatio:  gs.MinRequiredDensityRatio,
		MaxVariability:   gs.MaxAllowableVariability,
		MinTrackDuration: gs.MinTrackDuration,
		MaxTrackDuration: gs.MaxTrackDuration,
		MinRSquared:      gs.MinAllowableRSquared,
		NeighbourMode:    mode,
	}, nil
}

// SquareOptions returns the options of the square metrics
func (c *Config) SquareOptions() metrics.Options {
	return metrics.Options{
		LongTrackFraction: c.GenerateSquares.LongTrackFraction,
		Granularity:       c.GenerateSquares.VariabilityGranularity,
	}
}

// Fitter returns the curve fitter configured by the processing section
func (c *Config) Fitter() curvefit.Fitter {
	return curvefit.Fitter{
		Timeout:       c.Processing.FitTimeout,
		MaxIterations: c.Processing.FitMaxIterations,
	}
}

// IsValidationError reports whether err is a configuration problem
func IsValidationError(err error) bool {
	var v *ValidationError
	return errors.As(err, &v)
}

package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/pflag"
	"gopkg.in/yaml.v3"

	"github.com/rjboer/GoInspect/internal/app"
	"github.com/rjboer/GoInspect/internal/config"
	"github.com/rjboer/GoInspect/internal/dsp"
	"github.com/rjboer/GoInspect/internal/inspector"
	"github.com/rjboer/GoInspect/internal/logging"
	"github.com/rjboer/GoInspect/internal/sdr"
	"github.com/rjboer/GoInspect/internal/telemetry"
)

func main() {
	const configPath = "inspector.yaml"

	persistentCfg, err := loadOrCreateConfig(configPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	cfg, err := parseConfig(os.Args[1:], os.LookupEnv, persistentCfg)
	if err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return
		}
		log.Fatalf("parse config: %v", err)
	}
	if err := saveConfig(configPath, persistentFromCLI(cfg)); err != nil {
		log.Fatalf("save config: %v", err)
	}

	logger, err := buildLogger(cfg, os.Stderr)
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	logging.SetDefault(logger)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, cfg, logger); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("inspector stopped", logging.F("error", err))
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg cliConfig, logger logging.Logger) error {
	runCfg, err := runnerConfig(cfg)
	if err != nil {
		return err
	}
	plugins, err := app.NewPlugins()
	if err != nil {
		return err
	}
	source, err := selectSource(cfg)
	if err != nil {
		return fmt.Errorf("select source: %w", err)
	}

	metrics := telemetry.NewMetrics()
	var reporters []telemetry.Reporter
	var hub *telemetry.Hub
	if cfg.webAddr != "" {
		hub = telemetry.NewHub(cfg.historyLimit, logger)
		reporters = append(reporters, hub)
	} else {
		reporters = append(reporters, telemetry.NewStdoutReporter(logger))
	}

	runner := app.NewRunner(source, telemetry.MultiReporter(reporters), logger, runCfg, plugins)
	runner.SetMetrics(metrics)
	if err := runner.Init(); err != nil {
		source.Close()
		return fmt.Errorf("init runner: %w", err)
	}
	if hub != nil {
		hub.SetController(runner.Controller())
		go telemetry.NewWebServer(cfg.webAddr, hub, metrics, logger).Start(ctx)
	}

	logger.Info("starting inspector (Ctrl+C to stop)", logging.F("source", cfg.source))
	return runner.Run(ctx)
}

type cliConfig struct {
	sampleRate     float64
	bandwidth      float64
	baud           float64
	source         string
	file           string
	fileFormat     string
	blockSize      int
	mockOrder      int
	mockOffset     float64
	mockNoise      float64
	seed           int64
	realtime       bool
	paramsFile     string
	estimators     []string
	spectrumSize   int
	spectrumRate   float64
	spectrumWindow string
	decisionOrder  int
	warmupBuffers  int
	historyLimit   int
	webAddr        string
	logLevel       string
	logFormat      string
}

type persistentConfig struct {
	SampleRate     float64  `yaml:"sample_rate"`
	Bandwidth      float64  `yaml:"bandwidth"`
	Baud           float64  `yaml:"baud"`
	Source         string   `yaml:"source"`
	File           string   `yaml:"file"`
	FileFormat     string   `yaml:"file_format"`
	BlockSize      int      `yaml:"block_size"`
	MockOrder      int      `yaml:"mock_order"`
	MockOffset     float64  `yaml:"mock_carrier_offset"`
	MockNoise      float64  `yaml:"mock_noise"`
	Seed           int64    `yaml:"seed"`
	Realtime       bool     `yaml:"realtime"`
	ParamsFile     string   `yaml:"params_file"`
	Estimators     []string `yaml:"estimators"`
	SpectrumSize   int      `yaml:"spectrum_size"`
	SpectrumRate   float64  `yaml:"spectrum_rate"`
	SpectrumWindow string   `yaml:"spectrum_window"`
	DecisionOrder  int      `yaml:"decision_order"`
	WarmupBuffers  int      `yaml:"warmup_buffers"`
	HistoryLimit   int      `yaml:"history_limit"`
	WebAddr        string   `yaml:"web_addr"`
	LogLevel       string   `yaml:"log_level"`
	LogFormat      string   `yaml:"log_format"`
}

func parseConfig(args []string, lookup func(string) (string, bool), defaults persistentConfig) (cliConfig, error) {
	cfg := cliConfig{}
	fs := pflag.NewFlagSet("inspector", pflag.ContinueOnError)
	fs.Float64Var(&cfg.sampleRate, "sample-rate", envFloat(lookup, "INSP_SAMPLE_RATE", defaults.SampleRate), "Channel sample rate in Hz")
	fs.Float64Var(&cfg.bandwidth, "bandwidth", envFloat(lookup, "INSP_BANDWIDTH", defaults.Bandwidth), "Channel bandwidth in Hz")
	fs.Float64Var(&cfg.baud, "baud", envFloat(lookup, "INSP_BAUD", defaults.Baud), "Nominal symbol rate in baud (0 uses the bandwidth)")
	fs.StringVar(&cfg.source, "source", envString(lookup, "INSP_SOURCE", defaults.Source), "Sample source (mock|file)")
	fs.StringVar(&cfg.file, "file", envString(lookup, "INSP_FILE", defaults.File), "IQ recording for the file source")
	fs.StringVar(&cfg.fileFormat, "file-format", envString(lookup, "INSP_FILE_FORMAT", defaults.FileFormat), "IQ recording format (cf32|u8)")
	fs.IntVar(&cfg.blockSize, "block-size", envInt(lookup, "INSP_BLOCK_SIZE", defaults.BlockSize), "Samples per source block")
	fs.IntVar(&cfg.mockOrder, "mock-order", envInt(lookup, "INSP_MOCK_ORDER", defaults.MockOrder), "Mock constellation order (2|4|8)")
	fs.Float64Var(&cfg.mockOffset, "mock-carrier-offset", envFloat(lookup, "INSP_MOCK_CARRIER_OFFSET", defaults.MockOffset), "Mock carrier offset in Hz")
	fs.Float64Var(&cfg.mockNoise, "mock-noise", envFloat(lookup, "INSP_MOCK_NOISE", defaults.MockNoise), "Mock noise standard deviation")
	fs.Int64Var(&cfg.seed, "seed", envInt64(lookup, "INSP_SEED", defaults.Seed), "Mock random seed")
	fs.BoolVar(&cfg.realtime, "realtime", envBool(lookup, "INSP_REALTIME", defaults.Realtime), "Pace the source at the sample rate")
	fs.StringVar(&cfg.paramsFile, "params", envString(lookup, "INSP_PARAMS", defaults.ParamsFile), "YAML parameter document applied at start")
	fs.StringSliceVar(&cfg.estimators, "estimators", envStrings(lookup, "INSP_ESTIMATORS", defaults.Estimators), "Estimators to attach and enable")
	fs.IntVar(&cfg.spectrumSize, "spectrum-size", envInt(lookup, "INSP_SPECTRUM_SIZE", defaults.SpectrumSize), "Spectrum FFT size")
	fs.Float64Var(&cfg.spectrumRate, "spectrum-rate", envFloat(lookup, "INSP_SPECTRUM_RATE", defaults.SpectrumRate), "Spectrum refresh rate in Hz")
	fs.StringVar(&cfg.spectrumWindow, "spectrum-window", envString(lookup, "INSP_SPECTRUM_WINDOW", defaults.SpectrumWindow), "Spectrum window function")
	fs.IntVar(&cfg.decisionOrder, "decision-order", envInt(lookup, "INSP_DECISION_ORDER", defaults.DecisionOrder), "Constellation order for decisions without carrier recovery")
	fs.IntVar(&cfg.warmupBuffers, "warmup-buffers", envInt(lookup, "INSP_WARMUP_BUFFERS", defaults.WarmupBuffers), "Number of source blocks to discard for warm-up")
	fs.IntVar(&cfg.historyLimit, "history-limit", envInt(lookup, "INSP_HISTORY_LIMIT", defaults.HistoryLimit), "Symbol batches kept in telemetry history")
	fs.StringVar(&cfg.webAddr, "web-addr", envString(lookup, "INSP_WEB_ADDR", defaults.WebAddr), "Optional web telemetry listen address (e.g. :8080)")
	fs.StringVar(&cfg.logLevel, "log-level", envString(lookup, "INSP_LOG_LEVEL", defaults.LogLevel), "Log level (debug|info|warn|error)")
	fs.StringVar(&cfg.logFormat, "log-format", envString(lookup, "INSP_LOG_FORMAT", defaults.LogFormat), "Log format (text|json)")

	if err := fs.Parse(args); err != nil {
		return cliConfig{}, err
	}
	return cfg, nil
}

func persistentFromCLI(cfg cliConfig) persistentConfig {
	return persistentConfig{
		SampleRate:     cfg.sampleRate,
		Bandwidth:      cfg.bandwidth,
		Baud:           cfg.baud,
		Source:         cfg.source,
		File:           cfg.file,
		FileFormat:     cfg.fileFormat,
		BlockSize:      cfg.blockSize,
		MockOrder:      cfg.mockOrder,
		MockOffset:     cfg.mockOffset,
		MockNoise:      cfg.mockNoise,
		Seed:           cfg.seed,
		Realtime:       cfg.realtime,
		ParamsFile:     cfg.paramsFile,
		Estimators:     cfg.estimators,
		SpectrumSize:   cfg.spectrumSize,
		SpectrumRate:   cfg.spectrumRate,
		SpectrumWindow: cfg.spectrumWindow,
		DecisionOrder:  cfg.decisionOrder,
		WarmupBuffers:  cfg.warmupBuffers,
		HistoryLimit:   cfg.historyLimit,
		WebAddr:        cfg.webAddr,
		LogLevel:       cfg.logLevel,
		LogFormat:      cfg.logFormat,
	}
}

func loadOrCreateConfig(path string) (persistentConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			cfg := defaultPersistentConfig()
			if saveErr := saveConfig(path, cfg); saveErr != nil {
				return persistentConfig{}, saveErr
			}
			return cfg, nil
		}
		return persistentConfig{}, err
	}

	cfg := defaultPersistentConfig()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return persistentConfig{}, err
	}
	return cfg, nil
}

func saveConfig(path string, cfg persistentConfig) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

func defaultPersistentConfig() persistentConfig {
	return persistentConfig{
		SampleRate:     48000,
		Bandwidth:      2400,
		Baud:           1200,
		Source:         "mock",
		FileFormat:     "cf32",
		BlockSize:      4096,
		MockOrder:      2,
		MockOffset:     50,
		MockNoise:      0.05,
		Seed:           1,
		Realtime:       true,
		Estimators:     []string{"baud-acf", "baud-nonlinear"},
		SpectrumSize:   256,
		SpectrumRate:   10,
		SpectrumWindow: "hann",
		DecisionOrder:  2,
		WarmupBuffers:  3,
		HistoryLimit:   500,
		WebAddr:        ":8080",
		LogLevel:       "info",
		LogFormat:      "text",
	}
}

func envFloat(lookup func(string) (string, bool), key string, def float64) float64 {
	if val, ok := lookup(key); ok {
		if parsed, err := strconv.ParseFloat(val, 64); err == nil {
			return parsed
		}
	}
	return def
}

func envInt(lookup func(string) (string, bool), key string, def int) int {
	if val, ok := lookup(key); ok {
		if parsed, err := strconv.Atoi(val); err == nil {
			return parsed
		}
	}
	return def
}

func envInt64(lookup func(string) (string, bool), key string, def int64) int64 {
	if val, ok := lookup(key); ok {
		if parsed, err := strconv.ParseInt(val, 10, 64); err == nil {
			return parsed
		}
	}
	return def
}

func envBool(lookup func(string) (string, bool), key string, def bool) bool {
	if val, ok := lookup(key); ok {
		if parsed, err := strconv.ParseBool(val); err == nil {
			return parsed
		}
	}
	return def
}

func envString(lookup func(string) (string, bool), key, def string) string {
	if val, ok := lookup(key); ok {
		return val
	}
	return def
}

func envStrings(lookup func(string) (string, bool), key string, def []string) []string {
	val, ok := lookup(key)
	if !ok {
		return def
	}
	var out []string
	for _, s := range strings.Split(val, ",") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

func buildLogger(cfg cliConfig, out io.Writer) (logging.Logger, error) {
	level, err := logging.ParseLevel(cfg.logLevel)
	if err != nil {
		return nil, err
	}
	format, err := logging.ParseFormat(cfg.logFormat)
	if err != nil {
		return nil, err
	}
	return logging.New(level, format, out), nil
}

func selectSource(cfg cliConfig) (sdr.Source, error) {
	switch cfg.source {
	case "mock":
		return sdr.NewMock(sdr.MockConfig{
			SampleRate:    cfg.sampleRate,
			Baud:          cfg.baud,
			Order:         cfg.mockOrder,
			CarrierOffset: cfg.mockOffset,
			Amplitude:     1,
			NoiseStdDev:   cfg.mockNoise,
			NumSamples:    cfg.blockSize,
			Seed:          cfg.seed,
		})
	case "file":
		format, err := sdr.ParseIQFormat(cfg.fileFormat)
		if err != nil {
			return nil, err
		}
		f, err := os.Open(cfg.file)
		if err != nil {
			return nil, err
		}
		src, err := sdr.NewIQFileSource(f, format, cfg.blockSize)
		if err != nil {
			f.Close()
			return nil, err
		}
		return src, nil
	default:
		return nil, fmt.Errorf("unknown source %s", cfg.source)
	}
}

// loadParams reads a flat YAML parameter document.
func loadParams(path string) (*inspector.Params, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	obj := config.New()
	if err := yaml.Unmarshal(data, obj); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	p, err := inspector.ParamsFromConfig(obj)
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return &p, nil
}

func runnerConfig(cfg cliConfig) (app.Config, error) {
	window, err := dsp.ParseWindow(cfg.spectrumWindow)
	if err != nil {
		return app.Config{}, err
	}
	rc := app.Config{
		SampleRate:     cfg.sampleRate,
		Channel:        inspector.Channel{Bandwidth: cfg.bandwidth, Baud: cfg.baud},
		Estimators:     cfg.estimators,
		SpectrumSize:   cfg.spectrumSize,
		SpectrumRate:   cfg.spectrumRate,
		SpectrumWindow: window,
		DecisionOrder:  cfg.decisionOrder,
		WarmupBuffers:  cfg.warmupBuffers,
	}
	if cfg.paramsFile != "" {
		if rc.Params, err = loadParams(cfg.paramsFile); err != nil {
			return app.Config{}, err
		}
	}
	if cfg.realtime && cfg.sampleRate > 0 && cfg.blockSize > 0 {
		rc.Interval = time.Duration(float64(cfg.blockSize) / cfg.sampleRate * float64(time.Second))
	}
	return rc, nil
}

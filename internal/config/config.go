// Package config provides configuration loading, validation, and hot-reload
// for AIRES.
//
// Configuration file: config/aires.ini (default), INI format per the
// sections documented in the external interfaces: Directories,
// AI_Services, Pipeline, Watchdog, Processing, Alerting, Monitoring.
//
// Hot-reload:
//   - Reload() re-reads the file and atomically swaps the snapshot.
//   - Set() rewrites the file in place (preserving comments and unrelated
//     lines), then triggers Reload().
//   - Readers call Get(); they never lock and always observe either the
//     full pre- or full post-reload snapshot.
//
// Validation:
//   - Critical fields (input/output dir, inference base URL, allowed
//     extensions) empty => the Health Registry probe for this store
//     reports Unhealthy.
//   - Non-critical fields with out-of-range values are replaced by their
//     default and reported as Degraded. A value that fails to parse keeps
//     its default and is not reported. The process never crashes on a
//     bad config value.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/multierr"
	"golang.org/x/sys/unix"
	"gopkg.in/ini.v1"
)

// DirectoriesConfig is the `[Directories]` section.
type DirectoriesConfig struct {
	InputDirectory  string
	OutputDirectory string
	TempDirectory   string
	AlertDirectory  string
	LogDirectory    string
}

// AIServicesConfig is the `[AI_Services]` section.
type AIServicesConfig struct {
	OllamaBaseUrl          string
	OllamaTimeout          time.Duration
	MistralModel           string
	DeepSeekModel          string
	CodeGemmaModel         string
	Gemma2Model            string
	ModelTemperature       float64
	ModelMaxTokens         int
	ModelTopP              float64
	EnableGpuLoadBalancing bool
}

// PipelineConfig is the `[Pipeline]` section.
type PipelineConfig struct {
	MaxRetries               int
	RetryDelay                time.Duration
	EnableParallelProcessing bool
	BatchSize                int
	MaxConcurrentFiles       int
}

// WatchdogConfig is the `[Watchdog]` section.
type WatchdogConfig struct {
	Enabled                 bool
	PollingIntervalSeconds  int
	FileAgeThresholdMinutes int
	MaxQueueSize            int
	ProcessingThreads       int
}

// ProcessingConfig is the `[Processing]` section.
type ProcessingConfig struct {
	MaxFileSizeMB           int
	AllowedExtensions       []string
	MaxErrorsPerFile        int
	ContextLinesBeforeError int
	ContextLinesAfterError  int
}

// AlertingConfig is the `[Alerting]` section.
type AlertingConfig struct {
	Enabled                   bool
	ConsoleAlerts             bool
	FileAlerts                bool
	WindowsEventLog           bool
	CriticalDiskSpaceMB       int
	WarningDiskSpaceMB        int
	CriticalMemoryPercent     float64
	WarningMemoryPercent      float64
	ErrorRateThresholdPercent float64
}

// MonitoringConfig is the `[Monitoring]` section.
type MonitoringConfig struct {
	EnableTelemetry   bool
	MetricsInterval   time.Duration
	EnableHealthChecks bool
}

// Config is the root, immutable configuration snapshot. A new Config
// value is built on every Load/Reload/Set and swapped in atomically;
// existing snapshots already handed to callers are never mutated.
type Config struct {
	Directories DirectoriesConfig
	AIServices  AIServicesConfig
	Pipeline    PipelineConfig
	Watchdog    WatchdogConfig
	Processing  ProcessingConfig
	Alerting    AlertingConfig
	Monitoring  MonitoringConfig
}

// Defaults returns a Config populated with all default values.
func Defaults() Config {
	return Config{
		Directories: DirectoriesConfig{
			InputDirectory:  "./inbox",
			OutputDirectory: "./booklets",
			TempDirectory:   "./tmp",
			AlertDirectory:  "./alerts",
			LogDirectory:    "./logs",
		},
		AIServices: AIServicesConfig{
			OllamaBaseUrl:    "http://localhost:11434",
			OllamaTimeout:    120 * time.Second,
			MistralModel:     "mistral",
			DeepSeekModel:    "deepseek-coder",
			CodeGemmaModel:   "codegemma",
			Gemma2Model:      "gemma2",
			ModelTemperature: 0.7,
			ModelMaxTokens:   2048,
			ModelTopP:        0.9,
		},
		Pipeline: PipelineConfig{
			MaxRetries:               3,
			RetryDelay:               2 * time.Second,
			EnableParallelProcessing: true,
			BatchSize:                1,
			MaxConcurrentFiles:       4,
		},
		Watchdog: WatchdogConfig{
			Enabled:                 true,
			PollingIntervalSeconds:  5,
			FileAgeThresholdMinutes: 1,
			MaxQueueSize:            1000,
			ProcessingThreads:       4,
		},
		Processing: ProcessingConfig{
			MaxFileSizeMB:           10,
			AllowedExtensions:       []string{".txt", ".log"},
			MaxErrorsPerFile:        500,
			ContextLinesBeforeError: 3,
			ContextLinesAfterError:  3,
		},
		Alerting: AlertingConfig{
			Enabled:                   true,
			ConsoleAlerts:             true,
			FileAlerts:                true,
			CriticalDiskSpaceMB:       100,
			WarningDiskSpaceMB:        500,
			CriticalMemoryPercent:     95,
			WarningMemoryPercent:      85,
			ErrorRateThresholdPercent: 0,
		},
		Monitoring: MonitoringConfig{
			EnableTelemetry:    true,
			MetricsInterval:    15 * time.Second,
			EnableHealthChecks: true,
		},
	}
}

// Violations is the result of Validate: critical violations should drive
// the owning Health probe to Unhealthy, non-critical ones to Degraded.
type Violations struct {
	Critical    []string
	NonCritical []string
}

func (v Violations) err() error {
	var err error
	for _, m := range v.Critical {
		err = multierr.Append(err, fmt.Errorf("critical: %s", m))
	}
	for _, m := range v.NonCritical {
		err = multierr.Append(err, fmt.Errorf("non-critical: %s", m))
	}
	return err
}

// Validate inspects cfg and classifies problems as critical (the
// instance cannot function) or non-critical (a default was substituted
// or a soft constraint was violated).
func Validate(cfg *Config) Violations {
	var v Violations

	if cfg.Directories.InputDirectory == "" {
		v.Critical = append(v.Critical, "Directories.InputDirectory must not be empty")
	}
	if cfg.Directories.OutputDirectory == "" {
		v.Critical = append(v.Critical, "Directories.OutputDirectory must not be empty")
	}
	if cfg.AIServices.OllamaBaseUrl == "" {
		v.Critical = append(v.Critical, "AI_Services.OllamaBaseUrl must not be empty")
	}
	if len(cfg.Processing.AllowedExtensions) == 0 {
		v.Critical = append(v.Critical, "Processing.AllowedExtensions must not be empty")
	}

	if cfg.Pipeline.MaxRetries < 0 {
		v.NonCritical = append(v.NonCritical, "Pipeline.MaxRetries < 0, using default")
		cfg.Pipeline.MaxRetries = Defaults().Pipeline.MaxRetries
	}
	if cfg.Watchdog.PollingIntervalSeconds <= 0 {
		v.NonCritical = append(v.NonCritical, "Watchdog.PollingIntervalSeconds <= 0, using default")
		cfg.Watchdog.PollingIntervalSeconds = Defaults().Watchdog.PollingIntervalSeconds
	}
	if cfg.Watchdog.ProcessingThreads <= 0 {
		v.NonCritical = append(v.NonCritical, "Watchdog.ProcessingThreads <= 0, using default")
		cfg.Watchdog.ProcessingThreads = Defaults().Watchdog.ProcessingThreads
	}
	if cfg.Watchdog.MaxQueueSize <= 0 {
		v.NonCritical = append(v.NonCritical, "Watchdog.MaxQueueSize <= 0, using default")
		cfg.Watchdog.MaxQueueSize = Defaults().Watchdog.MaxQueueSize
	}
	if cfg.AIServices.ModelTemperature < 0 || cfg.AIServices.ModelTemperature > 2 {
		v.NonCritical = append(v.NonCritical, "AI_Services.ModelTemperature out of [0,2], using default")
		cfg.AIServices.ModelTemperature = Defaults().AIServices.ModelTemperature
	}
	if cfg.Alerting.CriticalDiskSpaceMB <= 0 {
		v.NonCritical = append(v.NonCritical, "Alerting.CriticalDiskSpaceMB <= 0, using default")
		cfg.Alerting.CriticalDiskSpaceMB = Defaults().Alerting.CriticalDiskSpaceMB
	}
	if cfg.Alerting.WarningDiskSpaceMB <= cfg.Alerting.CriticalDiskSpaceMB {
		v.NonCritical = append(v.NonCritical, "Alerting.WarningDiskSpaceMB <= CriticalDiskSpaceMB, using default")
		cfg.Alerting.WarningDiskSpaceMB = Defaults().Alerting.WarningDiskSpaceMB
	}

	return v
}

// Store owns the single file-backed Config and serializes Reload/Set.
// Get never blocks on mu: it reads an atomic.Pointer snapshot.
type Store struct {
	path string

	mu sync.Mutex // serializes Reload/Set; Get bypasses it entirely

	snapshot   atomic.Pointer[Config]
	violations atomic.Pointer[Violations]
}

// NewStore loads path and returns a ready Store. A read/parse failure is
// a CONFIG_LOAD_ERROR-class failure returned to the caller; validation
// problems are non-fatal and retrievable via LastViolations.
func NewStore(path string) (*Store, error) {
	s := &Store{path: path}
	if err := s.Reload(); err != nil {
		return nil, err
	}
	return s, nil
}

// Get returns the current immutable Config snapshot. Safe for
// unsynchronized concurrent use; never observes a torn write.
func (s *Store) Get() Config {
	return *s.snapshot.Load()
}

// LastViolations returns the Violations recorded by the most recent
// successful Load/Reload, for the Config Store's health probe.
func (s *Store) LastViolations() Violations {
	if v := s.violations.Load(); v != nil {
		return *v
	}
	return Violations{}
}

// Reload re-reads s.path, applies environment overrides, validates, and
// atomically swaps the snapshot. Concurrent Get() callers always see a
// complete pre- or post-reload Config.
func (s *Store) Reload() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.reloadLocked()
}

// reloadLocked is Reload's body, callable by Set while s.mu is already held.
func (s *Store) reloadLocked() error {
	cfg, err := load(s.path)
	if err != nil {
		return err
	}
	applyEnvOverrides(cfg)
	v := Validate(cfg)

	s.snapshot.Store(cfg)
	s.violations.Store(&v)
	return nil
}

// GetValue reads one raw key's value out of the INI file directly,
// bypassing the typed Config snapshot (used by the `aires config get`
// CLI subcommand, which addresses a single section.key rather than a
// whole section struct).
func (s *Store) GetValue(section, key string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	file, err := ini.LoadSources(ini.LoadOptions{AllowNonUniqueSections: false}, s.path)
	if err != nil {
		return "", fmt.Errorf("config.GetValue: load %q: %w", s.path, err)
	}
	if !file.Section(section).HasKey(key) {
		return "", fmt.Errorf("config.GetValue: no such key %q in section %q", key, section)
	}
	return file.Section(section).Key(key).String(), nil
}

// Set rewrites key within section in the INI file in place, preserving
// comments and unrelated lines, under an exclusive file lock for the
// read-modify-write cycle, then reloads.
func (s *Store) Set(section, key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	f, err := os.OpenFile(s.path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return fmt.Errorf("config.Set: open %q: %w", s.path, err)
	}
	defer f.Close()

	if err := unix.Flock(int(f.Fd()), unix.LOCK_EX); err != nil {
		return fmt.Errorf("config.Set: flock %q: %w", s.path, err)
	}
	defer unix.Flock(int(f.Fd()), unix.LOCK_UN)

	file, err := ini.LoadSources(ini.LoadOptions{AllowNonUniqueSections: false}, s.path)
	if err != nil {
		// No existing file is fine — start from an empty one.
		file = ini.Empty()
	}
	file.Section(section).Key(key).SetValue(value)
	if err := file.SaveTo(s.path); err != nil {
		return fmt.Errorf("config.Set: save %q: %w", s.path, err)
	}

	return s.reloadLocked()
}

// load reads and type-converts path into a Config, starting from
// Defaults() so any field absent from the file keeps its default.
// Per-field parse errors are swallowed (the default is kept) — only a
// missing/unreadable file is a hard CONFIG_LOAD_ERROR.
func load(path string) (*Config, error) {
	cfg := Defaults()

	file, err := ini.LoadSources(ini.LoadOptions{AllowNonUniqueSections: false}, path)
	if err != nil {
		return nil, fmt.Errorf("config.Load: read %q: %w", path, err)
	}

	if sec := file.Section("Directories"); sec != nil {
		cfg.Directories.InputDirectory = sec.Key("InputDirectory").MustString(cfg.Directories.InputDirectory)
		cfg.Directories.OutputDirectory = sec.Key("OutputDirectory").MustString(cfg.Directories.OutputDirectory)
		cfg.Directories.TempDirectory = sec.Key("TempDirectory").MustString(cfg.Directories.TempDirectory)
		cfg.Directories.AlertDirectory = sec.Key("AlertDirectory").MustString(cfg.Directories.AlertDirectory)
		cfg.Directories.LogDirectory = sec.Key("LogDirectory").MustString(cfg.Directories.LogDirectory)
	}
	if sec := file.Section("AI_Services"); sec != nil {
		cfg.AIServices.OllamaBaseUrl = sec.Key("OllamaBaseUrl").MustString(cfg.AIServices.OllamaBaseUrl)
		cfg.AIServices.OllamaTimeout = sec.Key("OllamaTimeout").MustDuration(cfg.AIServices.OllamaTimeout)
		cfg.AIServices.MistralModel = sec.Key("MistralModel").MustString(cfg.AIServices.MistralModel)
		cfg.AIServices.DeepSeekModel = sec.Key("DeepSeekModel").MustString(cfg.AIServices.DeepSeekModel)
		cfg.AIServices.CodeGemmaModel = sec.Key("CodeGemmaModel").MustString(cfg.AIServices.CodeGemmaModel)
		cfg.AIServices.Gemma2Model = sec.Key("Gemma2Model").MustString(cfg.AIServices.Gemma2Model)
		cfg.AIServices.ModelTemperature = sec.Key("ModelTemperature").MustFloat64(cfg.AIServices.ModelTemperature)
		cfg.AIServices.ModelMaxTokens = sec.Key("ModelMaxTokens").MustInt(cfg.AIServices.ModelMaxTokens)
		cfg.AIServices.ModelTopP = sec.Key("ModelTopP").MustFloat64(cfg.AIServices.ModelTopP)
		cfg.AIServices.EnableGpuLoadBalancing = sec.Key("EnableGpuLoadBalancing").MustBool(cfg.AIServices.EnableGpuLoadBalancing)
	}
	if sec := file.Section("Pipeline"); sec != nil {
		cfg.Pipeline.MaxRetries = sec.Key("MaxRetries").MustInt(cfg.Pipeline.MaxRetries)
		cfg.Pipeline.RetryDelay = sec.Key("RetryDelay").MustDuration(cfg.Pipeline.RetryDelay)
		cfg.Pipeline.EnableParallelProcessing = sec.Key("EnableParallelProcessing").MustBool(cfg.Pipeline.EnableParallelProcessing)
		cfg.Pipeline.BatchSize = sec.Key("BatchSize").MustInt(cfg.Pipeline.BatchSize)
		cfg.Pipeline.MaxConcurrentFiles = sec.Key("MaxConcurrentFiles").MustInt(cfg.Pipeline.MaxConcurrentFiles)
	}
	if sec := file.Section("Watchdog"); sec != nil {
		cfg.Watchdog.Enabled = sec.Key("Enabled").MustBool(cfg.Watchdog.Enabled)
		cfg.Watchdog.PollingIntervalSeconds = sec.Key("PollingIntervalSeconds").MustInt(cfg.Watchdog.PollingIntervalSeconds)
		cfg.Watchdog.FileAgeThresholdMinutes = sec.Key("FileAgeThresholdMinutes").MustInt(cfg.Watchdog.FileAgeThresholdMinutes)
		cfg.Watchdog.MaxQueueSize = sec.Key("MaxQueueSize").MustInt(cfg.Watchdog.MaxQueueSize)
		cfg.Watchdog.ProcessingThreads = sec.Key("ProcessingThreads").MustInt(cfg.Watchdog.ProcessingThreads)
	}
	if sec := file.Section("Processing"); sec != nil {
		cfg.Processing.MaxFileSizeMB = sec.Key("MaxFileSizeMB").MustInt(cfg.Processing.MaxFileSizeMB)
		if raw := sec.Key("AllowedExtensions").String(); raw != "" {
			cfg.Processing.AllowedExtensions = splitCSV(raw)
		}
		cfg.Processing.MaxErrorsPerFile = sec.Key("MaxErrorsPerFile").MustInt(cfg.Processing.MaxErrorsPerFile)
		cfg.Processing.ContextLinesBeforeError = sec.Key("ContextLinesBeforeError").MustInt(cfg.Processing.ContextLinesBeforeError)
		cfg.Processing.ContextLinesAfterError = sec.Key("ContextLinesAfterError").MustInt(cfg.Processing.ContextLinesAfterError)
	}
	if sec := file.Section("Alerting"); sec != nil {
		cfg.Alerting.Enabled = sec.Key("Enabled").MustBool(cfg.Alerting.Enabled)
		cfg.Alerting.ConsoleAlerts = sec.Key("ConsoleAlerts").MustBool(cfg.Alerting.ConsoleAlerts)
		cfg.Alerting.FileAlerts = sec.Key("FileAlerts").MustBool(cfg.Alerting.FileAlerts)
		cfg.Alerting.WindowsEventLog = sec.Key("WindowsEventLog").MustBool(cfg.Alerting.WindowsEventLog)
		cfg.Alerting.CriticalDiskSpaceMB = sec.Key("CriticalDiskSpaceMB").MustInt(cfg.Alerting.CriticalDiskSpaceMB)
		cfg.Alerting.WarningDiskSpaceMB = sec.Key("WarningDiskSpaceMB").MustInt(cfg.Alerting.WarningDiskSpaceMB)
		cfg.Alerting.CriticalMemoryPercent = sec.Key("CriticalMemoryPercent").MustFloat64(cfg.Alerting.CriticalMemoryPercent)
		cfg.Alerting.WarningMemoryPercent = sec.Key("WarningMemoryPercent").MustFloat64(cfg.Alerting.WarningMemoryPercent)
		cfg.Alerting.ErrorRateThresholdPercent = sec.Key("ErrorRateThresholdPercent").MustFloat64(cfg.Alerting.ErrorRateThresholdPercent)
	}
	if sec := file.Section("Monitoring"); sec != nil {
		cfg.Monitoring.EnableTelemetry = sec.Key("EnableTelemetry").MustBool(cfg.Monitoring.EnableTelemetry)
		cfg.Monitoring.MetricsInterval = sec.Key("MetricsInterval").MustDuration(cfg.Monitoring.MetricsInterval)
		cfg.Monitoring.EnableHealthChecks = sec.Key("EnableHealthChecks").MustBool(cfg.Monitoring.EnableHealthChecks)
	}

	return &cfg, nil
}

func splitCSV(raw string) []string {
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// envOverride describes one AIRES_<SECTION>__<KEY> environment variable
// and how to apply it to cfg.
type envOverride struct {
	section, key string
	apply        func(cfg *Config, raw string)
}

// applyEnvOverrides scans the fixed table of recognized keys for
// AIRES_<SECTION>__<KEY> environment variables and applies any that are
// set, taking precedence over the file. Unparseable values are ignored
// (the file/default value is kept) — consistent with the "never crash
// on a bad config value" rule.
func applyEnvOverrides(cfg *Config) {
	for _, o := range envOverrideTable {
		name := "AIRES_" + strings.ToUpper(o.section) + "__" + strings.ToUpper(o.key)
		if raw, ok := os.LookupEnv(name); ok {
			o.apply(cfg, raw)
		}
	}
}

var envOverrideTable = []envOverride{
	{"Directories", "InputDirectory", func(c *Config, v string) { c.Directories.InputDirectory = v }},
	{"Directories", "OutputDirectory", func(c *Config, v string) { c.Directories.OutputDirectory = v }},
	{"Directories", "TempDirectory", func(c *Config, v string) { c.Directories.TempDirectory = v }},
	{"Directories", "AlertDirectory", func(c *Config, v string) { c.Directories.AlertDirectory = v }},
	{"Directories", "LogDirectory", func(c *Config, v string) { c.Directories.LogDirectory = v }},
	{"AI_Services", "OllamaBaseUrl", func(c *Config, v string) { c.AIServices.OllamaBaseUrl = v }},
	{"AI_Services", "OllamaTimeout", func(c *Config, v string) {
		if d, err := time.ParseDuration(v); err == nil {
			c.AIServices.OllamaTimeout = d
		}
	}},
	{"AI_Services", "EnableGpuLoadBalancing", func(c *Config, v string) {
		if b, err := strconv.ParseBool(v); err == nil {
			c.AIServices.EnableGpuLoadBalancing = b
		}
	}},
	{"Pipeline", "MaxRetries", func(c *Config, v string) {
		if n, err := strconv.Atoi(v); err == nil {
			c.Pipeline.MaxRetries = n
		}
	}},
	{"Pipeline", "EnableParallelProcessing", func(c *Config, v string) {
		if b, err := strconv.ParseBool(v); err == nil {
			c.Pipeline.EnableParallelProcessing = b
		}
	}},
	{"Watchdog", "PollingIntervalSeconds", func(c *Config, v string) {
		if n, err := strconv.Atoi(v); err == nil {
			c.Watchdog.PollingIntervalSeconds = n
		}
	}},
	{"Watchdog", "ProcessingThreads", func(c *Config, v string) {
		if n, err := strconv.Atoi(v); err == nil {
			c.Watchdog.ProcessingThreads = n
		}
	}},
	{"Watchdog", "MaxQueueSize", func(c *Config, v string) {
		if n, err := strconv.Atoi(v); err == nil {
			c.Watchdog.MaxQueueSize = n
		}
	}},
	{"Processing", "AllowedExtensions", func(c *Config, v string) { c.Processing.AllowedExtensions = splitCSV(v) }},
	{"Alerting", "Enabled", func(c *Config, v string) {
		if b, err := strconv.ParseBool(v); err == nil {
			c.Alerting.Enabled = b
		}
	}},
	{"Monitoring", "EnableTelemetry", func(c *Config, v string) {
		if b, err := strconv.ParseBool(v); err == nil {
			c.Monitoring.EnableTelemetry = b
		}
	}},
}

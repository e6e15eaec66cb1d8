package config

import (
	"errors"
	"fmt"
	"io/ioutil"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

type TelemetryConfig struct {
	LogLevel       string `yaml:"log_level"`
	OTLPEndpoint   string `yaml:"otlp_endpoint"`
	OTLPInsecure   bool   `yaml:"otlp_insecure"`
	PrometheusBind string `yaml:"prometheus_bind"`
}

type HTTPConfig struct {
	Bind string `yaml:"bind"`
	Port int    `yaml:"port"`
}

type Config struct {
	ServiceName string          `yaml:"service_name"`
	Environment string          `yaml:"environment"`
	HTTP        HTTPConfig      `yaml:"http"`
	Telemetry   TelemetryConfig `yaml:"telemetry"`
	Archive     ArchiveConfig   `yaml:"archive"`
	Sink        SinkConfig      `yaml:"sink"`
	Ingest      IngestConfig    `yaml:"ingest"`
}

type ArchiveConfig struct {
	Path          string `yaml:"path"`
	RetentionMode string `yaml:"retention_mode"`
	RetentionDays int    `yaml:"retention_days"`
	MaxRecords    int    `yaml:"max_records"`
	VacuumOnStart bool   `yaml:"vacuum_on_start"`
}

type SinkConfig struct {
	Mode      string `yaml:"mode"` // none, file, exec
	Path      string `yaml:"path"`
	Command   string `yaml:"command"`
	TimeoutMS int    `yaml:"timeout_ms"`
}

type IngestConfig struct {
	Enabled        bool   `yaml:"enabled"`
	SpoolDir       string `yaml:"spool_dir"`
	PollIntervalMS int    `yaml:"poll_interval_ms"`
	Workers        int    `yaml:"max_workers"`
	MaxMessageMB   int    `yaml:"max_message_mb"`
	FrameStrideMS  int    `yaml:"frame_stride_ms"`
	StrictOffsets  bool   `yaml:"strict_offsets"`
}

func Default() Config {
	return Config{
		ServiceName: "decwire",
		Environment: "development",
		HTTP: HTTPConfig{
			Bind: "0.0.0.0",
			Port: 8080,
		},
		Telemetry: TelemetryConfig{
			LogLevel:       "info",
			OTLPEndpoint:   "",
			OTLPInsecure:   true,
			PrometheusBind: ":9091",
		},
		Archive: ArchiveConfig{
			Path:          "./data/decwire.db",
			RetentionMode: "persistent",
			RetentionDays: 30,
			MaxRecords:    100000,
		},
		Sink: SinkConfig{
			Mode:      "none",
			TimeoutMS: 5000,
		},
		Ingest: IngestConfig{
			Enabled:        true,
			SpoolDir:       "./spool",
			PollIntervalMS: 500,
			Workers:        4,
			MaxMessageMB:   64,
			FrameStrideMS:  20,
		},
	}
}

func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := ioutil.ReadFile(path)
		if err != nil {
			if os.IsNotExist(err) {
				return cfg, fmt.Errorf("config file not found: %w", err)
			}
			return cfg, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	applyEnvOverrides(&cfg)
	if err := validate(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	overrideString(&cfg.ServiceName, "DECWIRE_SERVICE_NAME")
	overrideString(&cfg.Environment, "DECWIRE_ENVIRONMENT")
	overrideString(&cfg.HTTP.Bind, "DECWIRE_HTTP_BIND")
	overrideInt(&cfg.HTTP.Port, "DECWIRE_HTTP_PORT")
	overrideString(&cfg.Telemetry.LogLevel, "DECWIRE_TELEMETRY_LOG_LEVEL")
	overrideString(&cfg.Telemetry.OTLPEndpoint, "DECWIRE_TELEMETRY_OTLP_ENDPOINT")
	overrideBool(&cfg.Telemetry.OTLPInsecure, "DECWIRE_TELEMETRY_OTLP_INSECURE")
	overrideString(&cfg.Telemetry.PrometheusBind, "DECWIRE_TELEMETRY_PROMETHEUS_BIND")
	overrideString(&cfg.Archive.Path, "DECWIRE_ARCHIVE_PATH")
	overrideString(&cfg.Archive.RetentionMode, "DECWIRE_ARCHIVE_RETENTION_MODE")
	overrideInt(&cfg.Archive.RetentionDays, "DECWIRE_ARCHIVE_RETENTION_DAYS")
	overrideInt(&cfg.Archive.MaxRecords, "DECWIRE_ARCHIVE_MAX_RECORDS")
	overrideBool(&cfg.Archive.VacuumOnStart, "DECWIRE_ARCHIVE_VACUUM_ON_START")
	overrideString(&cfg.Sink.Mode, "DECWIRE_SINK_MODE")
	overrideString(&cfg.Sink.Path, "DECWIRE_SINK_PATH")
	overrideString(&cfg.Sink.Command, "DECWIRE_SINK_COMMAND")
	overrideInt(&cfg.Sink.TimeoutMS, "DECWIRE_SINK_TIMEOUT_MS")
	overrideBool(&cfg.Ingest.Enabled, "DECWIRE_INGEST_ENABLED")
	overrideString(&cfg.Ingest.SpoolDir, "DECWIRE_INGEST_SPOOL_DIR")
	overrideInt(&cfg.Ingest.PollIntervalMS, "DECWIRE_INGEST_POLL_INTERVAL_MS")
	overrideInt(&cfg.Ingest.Workers, "DECWIRE_INGEST_MAX_WORKERS")
	overrideInt(&cfg.Ingest.MaxMessageMB, "DECWIRE_INGEST_MAX_MESSAGE_MB")
	overrideInt(&cfg.Ingest.FrameStrideMS, "DECWIRE_INGEST_FRAME_STRIDE_MS")
	overrideBool(&cfg.Ingest.StrictOffsets, "DECWIRE_INGEST_STRICT_OFFSETS")
}

func overrideString(target *string, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok && strings.TrimSpace(value) != "" {
		*target = value
	}
}

func overrideInt(target *int, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		if parsed, err := strconv.Atoi(value); err == nil {
			*target = parsed
		}
	}
}

func overrideBool(target *bool, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		if parsed, err := strconv.ParseBool(value); err == nil {
			*target = parsed
		}
	}
}

func validate(cfg Config) error {
	if cfg.ServiceName == "" {
		return errors.New("service_name must not be empty")
	}
	if cfg.HTTP.Port <= 0 || cfg.HTTP.Port > 65535 {
		return errors.New("http.port must be between 1 and 65535")
	}
	if cfg.Telemetry.PrometheusBind == "" {
		return errors.New("telemetry.prometheus_bind must not be empty")
	}
	switch cfg.Archive.RetentionMode {
	case "ephemeral", "persistent":
		// ok
	default:
		return errors.New("archive.retention_mode must be one of ephemeral|persistent")
	}
	if cfg.Archive.RetentionMode == "persistent" && cfg.Archive.Path == "" {
		return errors.New("archive.path must not be empty in persistent mode")
	}
	if cfg.Archive.RetentionDays < 0 {
		return errors.New("archive.retention_days must be >= 0")
	}
	if cfg.Archive.MaxRecords < 0 {
		return errors.New("archive.max_records must be >= 0")
	}
	switch cfg.Sink.Mode {
	case "none", "file", "exec":
	default:
		return errors.New("sink.mode must be one of none|file|exec")
	}
	if cfg.Sink.Mode == "file" && cfg.Sink.Path == "" {
		return errors.New("sink.path must be set when mode=file")
	}
	if cfg.Sink.Mode == "exec" && cfg.Sink.Command == "" {
		return errors.New("sink.command must be set when mode=exec")
	}
	if cfg.Sink.Mode != "none" && cfg.Sink.TimeoutMS <= 0 {
		return errors.New("sink.timeout_ms must be positive")
	}
	if cfg.Ingest.Enabled {
		if cfg.Ingest.SpoolDir == "" {
			return errors.New("ingest.spool_dir must not be empty")
		}
		if cfg.Ingest.PollIntervalMS <= 0 {
			return errors.New("ingest.poll_interval_ms must be positive")
		}
		if cfg.Ingest.Workers <= 0 {
			return errors.New("ingest.max_workers must be >= 1")
		}
		if cfg.Ingest.MaxMessageMB <= 0 {
			return errors.New("ingest.max_message_mb must be positive")
		}
		if cfg.Ingest.FrameStrideMS <= 0 {
			return errors.New("ingest.frame_stride_ms must be positive")
		}
	}
	return nil
}

package configuration

import (
	"strings"
	"time"

	"github.com/pkg/errors"

	"github.com/G-Research/tabsink/internal/tabsink/capacity"
	"github.com/G-Research/tabsink/internal/tabsink/reassembler"
	"github.com/G-Research/tabsink/internal/tabsink/report"
	"github.com/G-Research/tabsink/internal/tabsink/sink"
	"github.com/G-Research/tabsink/internal/tabsink/source"
)

type TabsinkConfiguration struct {
	// Port the /metrics endpoint listens on. Zero disables it
	MetricsPort uint16
	// logrus level and format (text or json)
	LogLevel  string
	LogFormat string `validate:"omitempty,oneof=text json"`
	Sink      SinkConfig
	Source    SourceConfig
	Capacity  CapacityConfig
	// How lines split across chunks are handled
	Reassembly ReassemblyConfig
	Transform  TransformConfig
	// Maximum time to wait for outstanding writes once the input has ended
	FinishTimeout time.Duration `validate:"gte=0"`
	// Exit with an error if any error was reported while writing the stream
	FailOnErrors bool
	ErrorReport  ErrorReportConfig
}

type SinkConfig struct {
	Type SinkType `validate:"required"`
	// Executed once per row
	Statement string
	// Passed through to the sink on every write
	Options map[string]string
	// Only the section matching Type is validated
	Postgres sink.PostgresConfig `validate:"-"`
	Redis    sink.RedisConfig    `validate:"-"`
	SQLite   sink.SQLiteConfig   `validate:"-"`
	Memory   sink.MemoryConfig   `validate:"-"`
}

type SourceConfig struct {
	Type SourceType `validate:"required"`
	// Chunk size used when reading stdin or a file
	ChunkSize int `validate:"gte=0"`
	// Path used when type is file
	Path   string
	Pulsar source.PulsarConfig `validate:"-"`
	Nats   source.NatsConfig   `validate:"-"`
}

type CapacityConfig struct {
	PerChannel int `validate:"gte=1"`
	Floor      int `validate:"gte=1"`
	// How often the ceiling is sampled for metrics. Zero disables the monitor
	PollInterval time.Duration `validate:"gte=0"`
}

type ReassemblyConfig struct {
	FragmentPolicy reassembler.FragmentPolicy
}

type TransformConfig struct {
	Type string `validate:"omitempty,oneof=identity keyed named"`
}

type ErrorReportConfig struct {
	BatchSize int           `validate:"gte=0"`
	Interval  time.Duration `validate:"gte=0"`
}

type SinkType string

const (
	SinkTypePostgres SinkType = "postgres"
	SinkTypeRedis    SinkType = "redis"
	SinkTypeSQLite   SinkType = "sqlite"
	SinkTypeMemory   SinkType = "memdb"
)

func (t *SinkType) UnmarshalText(text []byte) error {
	switch v := SinkType(strings.ToLower(string(text))); v {
	case SinkTypePostgres, SinkTypeRedis, SinkTypeSQLite, SinkTypeMemory:
		*t = v
		return nil
	default:
		return errors.Errorf("unknown sink type %q", string(text))
	}
}

type SourceType string

const (
	SourceTypeStdin  SourceType = "stdin"
	SourceTypeFile   SourceType = "file"
	SourceTypePulsar SourceType = "pulsar"
	SourceTypeNats   SourceType = "nats"
)

func (t *SourceType) UnmarshalText(text []byte) error {
	switch v := SourceType(strings.ToLower(string(text))); v {
	case SourceTypeStdin, SourceTypeFile, SourceTypePulsar, SourceTypeNats:
		*t = v
		return nil
	default:
		return errors.Errorf("unknown source type %q", string(text))
	}
}

// Default returns the configuration used for anything not set in config files, flags or the environment.
func Default() TabsinkConfiguration {
	return TabsinkConfiguration{
		MetricsPort: 9000,
		LogLevel:    "info",
		LogFormat:   "text",
		Sink: SinkConfig{
			Type: SinkTypeMemory,
			Postgres: sink.PostgresConfig{
				MaxConns:        8,
				ConnectAttempts: 5,
				ConnectDelay:    time.Second,
			},
			Redis: sink.RedisConfig{
				Addr: "localhost:6379",
			},
			Memory: sink.MemoryConfig{
				Channels: 1,
			},
		},
		Source: SourceConfig{
			Type:      SourceTypeStdin,
			ChunkSize: source.DefaultChunkSize,
		},
		Capacity: CapacityConfig{
			PerChannel:   capacity.DefaultPerChannelCapacity,
			Floor:        capacity.DefaultFloor,
			PollInterval: 10 * time.Second,
		},
		Reassembly: ReassemblyConfig{
			FragmentPolicy: reassembler.FragmentPolicyStrict,
		},
		Transform: TransformConfig{
			Type: "identity",
		},
		FinishTimeout: 5 * time.Minute,
		ErrorReport: ErrorReportConfig{
			BatchSize: report.DefaultBatchSize,
			Interval:  report.DefaultInterval,
		},
	}
}

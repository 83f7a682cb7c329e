package configuration

import (
	"github.com/pkg/errors"

	commonconfig "github.com/G-Research/tabsink/internal/common/config"
)

// Validate checks the configuration, including the sections for the selected sink and source.
func (c TabsinkConfiguration) Validate() error {
	if err := commonconfig.Validate(c); err != nil {
		return err
	}
	if err := c.validateSink(); err != nil {
		return err
	}
	return c.validateSource()
}

func (c TabsinkConfiguration) validateSink() error {
	switch c.Sink.Type {
	case SinkTypePostgres:
		if c.Sink.Statement == "" {
			return errors.New("invalid configuration: sink.statement is required for the postgres sink")
		}
		return commonconfig.Validate(c.Sink.Postgres)
	case SinkTypeSQLite:
		if c.Sink.Statement == "" {
			return errors.New("invalid configuration: sink.statement is required for the sqlite sink")
		}
		return commonconfig.Validate(c.Sink.SQLite)
	case SinkTypeRedis:
		if c.Sink.Statement == "" {
			return errors.New("invalid configuration: sink.statement is required for the redis sink")
		}
		return commonconfig.Validate(c.Sink.Redis)
	case SinkTypeMemory:
		return nil
	default:
		return errors.Errorf("invalid configuration: unknown sink type %q", c.Sink.Type)
	}
}

func (c TabsinkConfiguration) validateSource() error {
	switch c.Source.Type {
	case SourceTypeStdin:
		return nil
	case SourceTypeFile:
		if c.Source.Path == "" {
			return errors.New("invalid configuration: source.path is required for the file source")
		}
		return nil
	case SourceTypePulsar:
		return commonconfig.Validate(c.Source.Pulsar)
	case SourceTypeNats:
		return commonconfig.Validate(c.Source.Nats)
	default:
		return errors.Errorf("invalid configuration: unknown source type %q", c.Source.Type)
	}
}

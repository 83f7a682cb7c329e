package tabsink

import (
	"context"
	"io"
	"os"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/G-Research/tabsink/internal/common"
	"github.com/G-Research/tabsink/internal/common/sinkcontext"
	"github.com/G-Research/tabsink/internal/tabsink/capacity"
	"github.com/G-Research/tabsink/internal/tabsink/configuration"
	"github.com/G-Research/tabsink/internal/tabsink/metrics"
	"github.com/G-Research/tabsink/internal/tabsink/report"
	"github.com/G-Research/tabsink/internal/tabsink/sink"
	"github.com/G-Research/tabsink/internal/tabsink/source"
	"github.com/G-Research/tabsink/internal/tabsink/stream"
	"github.com/G-Research/tabsink/internal/tabsink/transform"
)

// Result summarises a completed load.
type Result struct {
	RunId     string
	Header    []string
	Succeeded uint64
	Failed    uint64
	Errors    int
	// Set for dry runs only
	Rows []*sink.StoredRow
}

// Run loads one stream from the configured source into the configured sink.  It returns once the source has ended
// and every accepted row has been written or has failed.  Cancelling ctx stops reading input; rows already accepted
// are still written.  Failed rows only cause an error if FailOnErrors is set.
func Run(ctx context.Context, config configuration.TabsinkConfiguration, stdin io.Reader, dryRun bool) (*Result, error) {
	runId := uuid.NewString()
	sctx := sinkcontext.WithLogFields(sinkcontext.New(ctx, log.NewEntry(log.StandardLogger())), log.Fields{
		"runId":  runId,
		"source": config.Source.Type,
	})
	sctx.Log.Infof("Starting load into %s", config.Sink.Type)

	if dryRun {
		sctx.Log.Info("Dry run: rows will be written to an in-memory sink")
		config.Sink.Type = configuration.SinkTypeMemory
	}

	s, err := OpenSink(sctx, config.Sink)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := s.Close(); err != nil {
			sctx.Log.WithError(err).Error("Error closing sink")
		}
	}()

	src, err := OpenSource(config.Source, stdin)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := src.Close(); err != nil {
			sctx.Log.WithError(err).Error("Error closing source")
		}
	}()

	result, err := load(sctx, config, s, src)
	if result == nil {
		return nil, err
	}
	result.RunId = runId
	if memory, ok := s.(*sink.Memory); ok && dryRun {
		rows, rowsErr := memory.Rows()
		if rowsErr != nil {
			return nil, rowsErr
		}
		result.Rows = rows
	}
	return result, err
}

// load streams src into s.  Writes run on a context detached from ctx, so a shutdown stops reading input but rows
// already accepted are still written, bounded by FinishTimeout.
func load(ctx *sinkcontext.Context, config configuration.TabsinkConfiguration, s sink.Sink, src source.Source) (*Result, error) {
	transformFunc, err := transform.ByName(config.Transform.Type)
	if err != nil {
		return nil, err
	}

	m := metrics.Get()
	shutdownMetricServer := common.ServeMetrics(config.MetricsPort)
	defer shutdownMetricServer()

	reporter := report.NewReporter(ctx, config.ErrorReport.BatchSize, config.ErrorReport.Interval)
	writeCtx := sinkcontext.New(context.Background(), ctx.Log)
	writer := stream.NewWriter(writeCtx, s, stream.Config{
		Statement:          config.Sink.Statement,
		Options:            config.Sink.Options,
		Transform:          transformFunc,
		FragmentPolicy:     config.Reassembly.FragmentPolicy,
		PerChannelCapacity: config.Capacity.PerChannel,
		CapacityFloor:      config.Capacity.Floor,
		OnError:            reporter.Report,
	}, m)

	g, gctx := sinkcontext.ErrGroup(ctx)
	monitorCtx, stopMonitor := sinkcontext.WithCancel(gctx)
	defer stopMonitor()

	g.Go(func() error {
		return reporter.Run(gctx)
	})
	if config.Capacity.PollInterval > 0 {
		monitor := capacity.NewMonitor(writer.Oracle(), config.Capacity.PollInterval, m)
		g.Go(func() error {
			return monitor.Run(monitorCtx)
		})
	}
	g.Go(func() error {
		defer stopMonitor()
		defer reporter.Close()
		return pump(gctx, writer, src, config)
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	stats := writer.Stats()
	result := &Result{
		Header:    writer.Header(),
		Succeeded: stats.Succeeded,
		Failed:    stats.Failed,
		Errors:    reporter.Count(),
	}
	ctx.Log.WithField("errors", reporter.Counts()).
		Infof("Load complete: %d rows written, %d failed", result.Succeeded, result.Failed)

	if config.FailOnErrors {
		if err := reporter.Err(); err != nil {
			return result, errors.WithMessage(err, "errors were reported while writing the stream")
		}
	}
	return result, nil
}

// pump copies the source into the writer and then waits for the writer to drain.  Rows already accepted are
// drained even if ctx has been cancelled, bounded by FinishTimeout.
func pump(ctx *sinkcontext.Context, writer *stream.Writer, src source.Source, config configuration.TabsinkConfiguration) error {
	n, copyErr := source.Copy(ctx, writer, src)
	if copyErr != nil {
		ctx.Log.WithError(copyErr).Errorf("Error reading input after %d bytes", n)
	} else {
		ctx.Log.Infof("Input ended after %d bytes", n)
	}

	// Accepted rows are drained even if ctx has already ended
	finishCtx := sinkcontext.New(context.Background(), ctx.Log)
	if config.FinishTimeout > 0 {
		var cancel context.CancelFunc
		finishCtx, cancel = sinkcontext.WithTimeout(finishCtx, config.FinishTimeout)
		defer cancel()
	}
	finishErr := writer.Finish(finishCtx)
	if copyErr != nil {
		return errors.WithMessage(copyErr, "error reading input")
	}
	return finishErr
}

// OpenSink connects to the configured sink.
func OpenSink(ctx *sinkcontext.Context, config configuration.SinkConfig) (sink.Sink, error) {
	switch config.Type {
	case configuration.SinkTypePostgres:
		return sink.OpenPostgres(ctx, config.Postgres)
	case configuration.SinkTypeRedis:
		return sink.OpenRedis(ctx, config.Redis)
	case configuration.SinkTypeSQLite:
		return sink.OpenSQLite(ctx, config.SQLite)
	case configuration.SinkTypeMemory:
		return sink.NewMemory(config.Memory)
	default:
		return nil, errors.Errorf("unknown sink type %q", config.Type)
	}
}

// OpenSource opens the configured source.  stdin is used for the stdin source and defaults to os.Stdin.
func OpenSource(config configuration.SourceConfig, stdin io.Reader) (source.Source, error) {
	switch config.Type {
	case configuration.SourceTypeStdin:
		if stdin == nil {
			stdin = os.Stdin
		}
		return source.NewReader(stdin, config.ChunkSize), nil
	case configuration.SourceTypeFile:
		return source.OpenFile(config.Path, config.ChunkSize)
	case configuration.SourceTypePulsar:
		return source.OpenPulsar(config.Pulsar)
	case configuration.SourceTypeNats:
		return source.OpenNats(config.Nats)
	default:
		return nil, errors.Errorf("unknown source type %q", config.Type)
	}
}

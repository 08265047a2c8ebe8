package main

import (
	"context"
	"encoding/json"
	"fmt"
	stdlog "log"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"
	otelapi "go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
	"go.uber.org/automaxprocs/maxprocs"
	"golang.org/x/sync/errgroup"

	"github.com/ahrav/dagwatch/internal/app/monitoring"
	"github.com/ahrav/dagwatch/internal/config"
	"github.com/ahrav/dagwatch/internal/config/fileloader"
	"github.com/ahrav/dagwatch/internal/domain/events"
	"github.com/ahrav/dagwatch/internal/domain/tracking"
	"github.com/ahrav/dagwatch/internal/infra/invocation"
	"github.com/ahrav/dagwatch/internal/infra/signalfeed"
	sinkfile "github.com/ahrav/dagwatch/internal/infra/sink/file"
	sinkmemory "github.com/ahrav/dagwatch/internal/infra/sink/memory"
	"github.com/ahrav/dagwatch/internal/infra/storage/flatfile"
	"github.com/ahrav/dagwatch/pkg/common/logger"
	"github.com/ahrav/dagwatch/pkg/common/otel"
)

const serviceType = "monitor"

func main() {
	_, _ = maxprocs.Set()

	hostname, err := os.Hostname()
	if err != nil {
		stdlog.Fatalf("failed to get hostname: %v", err)
	}

	logEvents := logger.Events{
		Error: func(ctx context.Context, r logger.Record) {
			errorAttrs := map[string]any{
				"error_message": r.Message,
				"error_time":    r.Time.UTC().Format(time.RFC3339),
				"trace_id":      otel.GetTraceID(ctx),
			}
			for k, v := range r.Attributes {
				errorAttrs[k] = v
			}

			errorAttrsJSON, err := json.Marshal(errorAttrs)
			if err != nil {
				fmt.Fprintf(os.Stderr, "failed to marshal error attributes: %v\n", err)
				return
			}
			fmt.Fprintf(os.Stderr, "Error event: %s, details: %s\n", r.Message, errorAttrsJSON)
		},
	}

	traceIDFn := func(ctx context.Context) string { return otel.GetTraceID(ctx) }

	svcName := fmt.Sprintf("MONITOR-%s", hostname)
	metadata := map[string]string{
		"service":  svcName,
		"hostname": hostname,
		"app":      serviceType,
	}

	log := logger.NewWithMetadata(os.Stdout, logger.LevelInfo, svcName, traceIDFn, logEvents, metadata)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigCh)
	go func() {
		<-sigCh
		log.Info(ctx, "shutdown signal received")
		cancel()
	}()

	if err := run(ctx, log, hostname); err != nil && ctx.Err() == nil {
		log.Error(ctx, "monitor failed", "error", err)
		os.Exit(1)
	}
	log.Info(ctx, "monitor shutdown complete")
}

func run(ctx context.Context, log *logger.Logger, hostname string) error {
	tracer, teardown, err := setupTelemetry(ctx, log, hostname)
	if err != nil {
		return err
	}
	defer teardown(ctx)

	cfgPath := os.Getenv("DAGWATCH_CONFIG")
	if cfgPath == "" {
		cfgPath = "dagwatch.yaml"
	}
	cfg, err := fileloader.NewFileLoader(cfgPath).Load(ctx)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	if runDir := os.Getenv("DAGWATCH_RUN_DIR"); runDir != "" {
		cfg.Workflows = append(cfg.Workflows, config.WorkflowTarget{RunDir: runDir})
	}
	if len(cfg.Workflows) == 0 {
		return fmt.Errorf("no workflow run directories configured")
	}

	sink, err := buildSink(cfg)
	if err != nil {
		return err
	}
	defer func() {
		if err := sink.Close(); err != nil {
			log.Error(ctx, "failed to close event sink", "error", err)
		}
	}()

	metrics, err := monitoring.NewMonitoringMetrics(otel.GetMeterProvider())
	if err != nil {
		return fmt.Errorf("initializing metrics: %w", err)
	}

	group, groupCtx := errgroup.WithContext(ctx)
	r := &runner{
		group:     group,
		groupCtx:  groupCtx,
		cfg:       cfg,
		registry:  tracking.NewWorkflowRegistry(),
		sink:      sink,
		extractor: invocation.NewFileExtractor(log),
		metrics:   metrics,
		tracer:    tracer,
		log:       log,
	}

	rootLauncher := r.launcherFor(uuid.Nil)
	for _, target := range cfg.Workflows {
		if _, err := rootLauncher.Launch(ctx, target.RunDir); err != nil {
			return fmt.Errorf("starting monitor for %s: %w", target.RunDir, err)
		}
	}

	return group.Wait()
}

// setupTelemetry initializes OTLP export when an endpoint is configured.
// Without one, tracing is no-op and metrics record against a local SDK
// provider that never exports.
func setupTelemetry(ctx context.Context, log *logger.Logger, hostname string) (trace.Tracer, func(context.Context), error) {
	svcName := os.Getenv("OTEL_SERVICE_NAME")
	if svcName == "" {
		svcName = serviceType
	}

	endpoint := os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT")
	if endpoint == "" {
		mp, err := otel.NewMeterProvider(svcName)
		if err != nil {
			return nil, nil, fmt.Errorf("initializing meter provider: %w", err)
		}
		otelapi.SetMeterProvider(mp)
		return noop.NewTracerProvider().Tracer(""), func(context.Context) {}, nil
	}

	prob := 1.0
	if raw := os.Getenv("OTEL_SAMPLING_RATIO"); raw != "" {
		parsed, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return nil, nil, fmt.Errorf("parsing OTEL_SAMPLING_RATIO: %w", err)
		}
		prob = parsed
	}

	tp, teardown, err := otel.InitTelemetry(log, otel.Config{
		ServiceName:      svcName,
		ExporterEndpoint: endpoint,
		Probability:      prob,
		ResourceAttributes: map[string]string{
			"library.language": "go",
			"host.name":        hostname,
		},
		InsecureExporter: true,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("initializing telemetry: %w", err)
	}
	return tp.Tracer(svcName), teardown, nil
}

// buildSink constructs the configured event sink. Relative file paths resolve
// against the first configured run directory.
func buildSink(cfg *config.Config) (events.EventSink, error) {
	switch cfg.Sink.Type {
	case config.SinkTypeFile:
		path := cfg.Sink.Path
		if path == "" {
			path = "monitord.events"
		}
		if !filepath.IsAbs(path) && len(cfg.Workflows) > 0 {
			path = filepath.Join(cfg.Workflows[0].RunDir, path)
		}
		return sinkfile.New(path)
	case config.SinkTypeMemory, config.SinkTypeNone:
		return sinkmemory.New(), nil
	}
	return nil, fmt.Errorf("unknown sink type %q", cfg.Sink.Type)
}

// runner supervises one monitoring goroutine per discovered workflow, root
// and nested alike.
type runner struct {
	mu       sync.Mutex
	group    *errgroup.Group
	groupCtx context.Context

	cfg       *config.Config
	registry  *tracking.WorkflowRegistry
	sink      events.EventSink
	extractor tracking.InvocationExtractor
	metrics   monitoring.MonitoringMetrics
	tracer    trace.Tracer
	log       *logger.Logger
}

// launcherFor returns the launcher a parent workflow hands to its
// orchestrator, so nested workflows are linked to the right parent.
func (r *runner) launcherFor(parentID uuid.UUID) monitoring.SubWorkflowLauncher {
	return &parentLauncher{runner: r, parentID: parentID}
}

type parentLauncher struct {
	runner   *runner
	parentID uuid.UUID
}

func (l *parentLauncher) Launch(ctx context.Context, runDir string) (uuid.UUID, error) {
	return l.runner.launch(ctx, runDir, l.parentID)
}

// launch starts monitoring runDir unless it is already being monitored.
func (r *runner) launch(ctx context.Context, runDir string, parentID uuid.UUID) (uuid.UUID, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if m, ok := r.registry.Lookup(runDir); ok {
		return m.WorkflowID, nil
	}

	desc, err := tracking.LoadDescriptor(runDir)
	if err != nil {
		return uuid.Nil, err
	}
	table, err := tracking.LoadStaticInfo(runDir, desc.DAGFile)
	if err != nil {
		return uuid.Nil, err
	}

	wf := tracking.NewWorkflow(desc, desc.RootID, parentID)
	wf.SetStaticInfo(table)

	orch := monitoring.NewOrchestrator(monitoring.OrchestratorParams{
		RunDir:      runDir,
		Workflow:    wf,
		Monitor:     r.cfg.Monitor,
		SinkRetry:   r.cfg.Sink.Retry,
		Checkpoints: flatfile.NewCheckpointStore(runDir, r.log),
		Recovery:    flatfile.NewRecoveryStore(runDir, r.log),
		Sentinels:   flatfile.NewSentinelStore(runDir, r.log),
		Extractor:   r.extractor,
		Sink:        r.sink,
		Registry:    r.registry,
		Launcher:    r.launcherFor(wf.ID()),
		Logger:      r.log,
		Tracer:      r.tracer,
		Metrics:     r.metrics,
	})

	// Register before the goroutine runs so a parent resolving the same
	// directory twice dedupes instead of double-monitoring.
	r.registry.Register(runDir, tracking.Membership{WorkflowID: wf.ID(), ParentID: parentID})

	r.group.Go(func() error {
		if err := orch.Start(r.groupCtx); err != nil {
			return err
		}
		feed := signalfeed.New(
			filepath.Join(runDir, signalfeed.SignalFile), r.cfg.Monitor.PollInterval, r.log)
		return feed.Run(r.groupCtx, orch)
	})

	r.log.Info(ctx, "monitoring workflow",
		"run_dir", runDir, "workflow_id", wf.ID().String(), "parent_id", parentID.String())
	return wf.ID(), nil
}

package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/boristopalov/bca/internal/simengine"
	"github.com/boristopalov/bca/pkg/config"
	"github.com/boristopalov/bca/pkg/environment"
	"github.com/boristopalov/bca/pkg/experiment"
	"github.com/boristopalov/bca/pkg/export"
	"github.com/boristopalov/bca/pkg/httpapi"
	"github.com/boristopalov/bca/pkg/logging"
	"github.com/boristopalov/bca/pkg/messaging"
)

type runFlags struct {
	metricsAddr string
	csvDir      string
}

func newRunCmd() *cobra.Command {
	var flags runFlags
	cmd := &cobra.Command{
		Use:   "run [config]",
		Short: "Run a simulation with the configured bindings and export the results",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := ""
			if len(args) == 1 {
				path = args[0]
			}
			return runSimulation(cmd.Context(), path, flags)
		},
	}
	cmd.Flags().StringVar(&flags.metricsAddr, "metrics-addr", "", "serve /status, /latest and /metrics on this address")
	cmd.Flags().StringVar(&flags.csvDir, "csv-dir", "", "write exported tables as CSV files into this directory")
	return cmd
}

func runSimulation(parent context.Context, path string, flags runFlags) error {
	cfg, err := config.Load(path)
	if err != nil {
		return err
	}
	if flags.metricsAddr != "" {
		cfg.MetricsAddr = flags.metricsAddr
	}
	if flags.csvDir != "" {
		cfg.Export.CSVDir = flags.csvDir
	}

	lg, err := logging.New(cfg.Logging, os.Stdout)
	if err != nil {
		return err
	}
	defer lg.Close()
	log := lg.Logger
	slog.SetDefault(log)

	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	engine, err := simengine.New(
		simengine.WithTimestepsPerHour(cfg.TimestepsPerHour),
		simengine.WithWarmupDays(cfg.Engine.WarmupDays),
		simengine.WithRunDays(cfg.Engine.RunDays),
		simengine.WithLogger(log),
	)
	if err != nil {
		return err
	}

	broker := messaging.NewBroker()
	defer broker.Reset()

	env, err := environment.New(engine,
		environment.WithTimestepsPerHour(cfg.TimestepsPerHour),
		environment.WithLogger(log),
		environment.WithBroker(broker),
	)
	if err != nil {
		return err
	}

	controller, err := newController(ctx, cfg, env, log)
	if err != nil {
		return fmt.Errorf("failed to create controller: %w", err)
	}
	if controller != nil {
		log.Info("controller ready", "type", cfg.Controller.Type, "id", controller.ID())
	}
	if err := cfg.Apply(env, controllerFunc(ctx, controller)); err != nil {
		return err
	}

	exp := experiment.New(cfg.Name, engine, env,
		experiment.WithArgs(engineArgs(cfg.Engine)...),
		experiment.WithLogger(log),
	)
	defer func() {
		if err := exp.Close(); err != nil {
			log.Warn("failed to release engine state", "error", err)
		}
	}()

	sinks, err := startSinks(ctx, cfg, env.RunID(), broker, exp, log)
	if err != nil {
		return err
	}

	runErr := exp.Run(ctx)
	sinks.stop()

	if errors.Is(runErr, context.Canceled) {
		log.Warn("simulation interrupted")
	}
	if !env.Completed() {
		return runErr
	}
	if err := exportResults(cfg, env, exp, log); err != nil {
		return errors.Join(runErr, err)
	}
	return runErr
}

// engineArgs builds the command line an external engine would receive.
func engineArgs(ec config.EngineConfig) []string {
	args := append([]string{}, ec.Args...)
	if ec.Weather != "" {
		args = append(args, "-w", ec.Weather)
	}
	if ec.OutputDir != "" {
		args = append(args, "-d", ec.OutputDir)
	}
	if ec.Model != "" {
		args = append(args, ec.Model)
	}
	return args
}

// liveSinks are the snapshot consumers running alongside the simulation.
type liveSinks struct {
	cancel  context.CancelFunc
	done    []<-chan struct{}
	closers []io.Closer
	wg      sync.WaitGroup
	log     *slog.Logger
}

func (s *liveSinks) stop() {
	s.cancel()
	for _, d := range s.done {
		<-d
	}
	s.wg.Wait()
	for _, c := range s.closers {
		if err := c.Close(); err != nil {
			s.log.Warn("failed to close sink", "error", err)
		}
	}
}

func startSinks(ctx context.Context, cfg *config.Config, runID string, broker messaging.Broker, exp *experiment.Experiment, log *slog.Logger) (*liveSinks, error) {
	sctx, cancel := context.WithCancel(ctx)
	s := &liveSinks{cancel: cancel, log: log}

	forward := func(id string, sink export.SnapshotSink) error {
		done, err := export.Forward(sctx, broker, id, sink, log)
		if err != nil {
			return err
		}
		s.done = append(s.done, done)
		return nil
	}

	if cfg.MetricsAddr != "" {
		srv := httpapi.NewServer(exp, log)
		if err := forward("httpapi", srv); err != nil {
			cancel()
			return nil, err
		}
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			if err := srv.ListenAndServe(sctx, cfg.MetricsAddr, os.Stdout); err != nil {
				log.Error("operator API stopped", "error", err)
			}
		}()
	}

	if k := cfg.Export.Kafka; len(k.Brokers) > 0 {
		publisher := export.NewKafkaPublisher(export.NewKafkaWriter(k.Brokers, k.Topic))
		s.closers = append(s.closers, publisher)
		if err := forward("kafka", publisher); err != nil {
			s.stop()
			return nil, err
		}
		log.Info("streaming snapshots to kafka", "brokers", k.Brokers, "topic", k.Topic)
	}

	if in := cfg.Export.Influx; in.URL != "" {
		client, writeAPI := export.NewInfluxClient(in.URL, in.Token, in.Org, in.Bucket)
		s.closers = append(s.closers, closerFunc(func() error { client.Close(); return nil }))
		if err := forward("influx", export.NewInfluxWriter(writeAPI, in.Measurement, runID)); err != nil {
			s.stop()
			return nil, err
		}
		log.Info("streaming snapshots to influxdb", "url", in.URL, "bucket", in.Bucket)
	}
	return s, nil
}

type closerFunc func() error

func (f closerFunc) Close() error { return f() }

func exportResults(cfg *config.Config, env *environment.Environment, exp *experiment.Experiment, log *slog.Logger) error {
	tables, err := exp.Export()
	if err != nil {
		return err
	}

	if dir := cfg.Export.CSVDir; dir != "" {
		paths, err := export.SaveCSV(dir, tables...)
		if err != nil {
			return err
		}
		log.Info("tables written", "dir", dir, "files", len(paths))
	}

	if in := cfg.Export.Influx; in.URL != "" {
		client, writeAPI := export.NewInfluxClient(in.URL, in.Token, in.Org, in.Bucket)
		defer client.Close()
		w := export.NewInfluxWriter(writeAPI, in.Measurement, env.RunID())
		total := 0
		for _, t := range tables {
			n, err := w.WriteTable(context.Background(), t)
			if err != nil {
				return fmt.Errorf("influx export of %s: %w", t.Name, err)
			}
			total += n
		}
		log.Info("tables written to influxdb", "points", total)
	}

	if totals := env.RewardTotal(); len(totals) > 0 {
		log.Info("reward", "total", totals)
	}
	return nil
}

package main

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/born-ml/accelnet/internal/compute"
	"github.com/born-ml/accelnet/internal/config"
	"github.com/born-ml/accelnet/internal/metrics"
	"github.com/born-ml/accelnet/internal/model"
	"github.com/born-ml/accelnet/internal/tensor"
	"github.com/born-ml/accelnet/internal/verify"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/urfave/cli/v2"
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"
)

const stopTimeout = 10 * time.Second

// runOptions wires config, logger, metrics, workspace, parameters and the
// pipeline. Pipeline and workspace are released by the OnStop hooks, in
// that order.
func runOptions(cfg *config.Config, log *zap.Logger) fx.Option {
	return fx.Options(
		fx.Supply(cfg, log),
		fx.WithLogger(func(log *zap.Logger) fxevent.Logger {
			return &fxevent.ZapLogger{Logger: log.Named("fx")}
		}),
		fx.Provide(
			prometheus.NewRegistry,
			newMetrics,
			newWorkspace,
			newSource,
			newParams,
			newPipeline,
			newRunner,
		),
		fx.Invoke(serveMetrics),
	)
}

func newMetrics(reg *prometheus.Registry) *metrics.Metrics {
	return metrics.New(reg)
}

func newWorkspace(lc fx.Lifecycle, cfg *config.Config, log *zap.Logger) (compute.Workspace, error) {
	ws, err := openWorkspace(cfg, log)
	if err != nil {
		return nil, err
	}
	log.Info("workspace opened",
		zap.String("platform", ws.Platform()),
		zap.Stringer("device", ws.Device()))
	lc.Append(fx.Hook{
		OnStop: func(context.Context) error {
			ws.Release()
			return nil
		},
	})
	return ws, nil
}

// newSource seeds the input and parameter generator; seed 0 takes the
// clock.
func newSource(cfg *config.Config, log *zap.Logger) *rand.Rand {
	seed := cfg.Verify.Seed
	if seed == 0 {
		seed = tensor.TimeSeed()
	}
	log.Info("random source", zap.Uint64("seed", seed))
	return tensor.NewSource(seed)
}

func newParams(cfg *config.Config, rng *rand.Rand, log *zap.Logger) (model.Params, error) {
	sched := cfg.Schedule()
	if cfg.Params.Path == "" {
		return model.RandomParams(sched, rng)
	}
	f, err := os.Open(cfg.Params.Path)
	if err != nil {
		return model.Params{}, err
	}
	defer f.Close()
	params, err := model.ReadParams(sched, f)
	if err != nil {
		return model.Params{}, err
	}
	log.Info("parameters loaded",
		zap.String("path", cfg.Params.Path),
		zap.Int("kernels", len(params.Kernels)),
		zap.Int("weights", len(params.Weights)))
	return params, nil
}

func newPipeline(lc fx.Lifecycle, ws compute.Workspace, cfg *config.Config, params model.Params, m *metrics.Metrics, log *zap.Logger) (*model.Pipeline, error) {
	p, err := model.New(ws, cfg.Schedule(), cfg.InputShape(), params,
		model.WithLogger(log.Named("model")),
		model.WithRecorder(m))
	if err != nil {
		return nil, err
	}
	lc.Append(fx.Hook{
		OnStop: func(context.Context) error {
			p.Close()
			return nil
		},
	})
	return p, nil
}

// serveMetrics exposes the registry on metrics.listen while the app runs.
func serveMetrics(lc fx.Lifecycle, cfg *config.Config, reg *prometheus.Registry, log *zap.Logger) {
	if cfg.Metrics.Listen == "" {
		return
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	srv := &http.Server{Addr: cfg.Metrics.Listen, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			ln, err := net.Listen("tcp", srv.Addr)
			if err != nil {
				return err
			}
			log.Info("serving metrics", zap.String("address", ln.Addr().String()))
			go func() {
				if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
					log.Error("metrics server failed", zap.Error(err))
				}
			}()
			return nil
		},
		OnStop: srv.Shutdown,
	})
}

// runner executes one device pass and checks it against the reference.
type runner struct {
	cfg      *config.Config
	log      *zap.Logger
	pipeline *model.Pipeline
	params   model.Params
	rng      *rand.Rand
	metrics  *metrics.Metrics
}

type runnerParams struct {
	fx.In

	Config   *config.Config
	Logger   *zap.Logger
	Pipeline *model.Pipeline
	Params   model.Params
	Source   *rand.Rand
	Metrics  *metrics.Metrics
}

func newRunner(p runnerParams) *runner {
	return &runner{
		cfg:      p.Config,
		log:      p.Logger.Named("run"),
		pipeline: p.Pipeline,
		params:   p.Params,
		rng:      p.Source,
		metrics:  p.Metrics,
	}
}

// Run draws a random input, runs it on the device and on the host and
// compares the two outputs.
func (r *runner) Run(ctx context.Context) (verify.Report, error) {
	input, err := tensor.New(r.pipeline.InputShape(), nil, false)
	if err != nil {
		return verify.Report{}, err
	}
	input.GenerateRandom(r.rng, model.InputScale, model.InputOffset)

	start := time.Now()
	out, err := r.pipeline.Run(ctx, input)
	if err != nil {
		return verify.Report{}, err
	}
	r.log.Info("device finished", zap.Duration("elapsed", time.Since(start)))

	start = time.Now()
	ref, shape, err := model.RunReference(r.cfg.Schedule(), input.Shape(), input.Data(), r.params)
	if err != nil {
		return verify.Report{}, err
	}
	r.log.Info("host finished", zap.Duration("elapsed", time.Since(start)))
	if !shape.Equal(out.Shape()) {
		return verify.Report{}, fmt.Errorf("%w: device output %v, reference output %v",
			compute.ErrShapeMismatch, out.Shape(), shape)
	}

	report := verify.Compare(ref, out.Data(), r.cfg.Verify.Tolerance)
	similarity := verify.Similarity(ref, out.Data())
	report.Log(r.log, r.cfg.Verify.ShowDiffs)
	r.log.Info("similarity", zap.Float64("cosine", similarity))
	r.metrics.Validated(report.Mismatches, similarity)
	return report, nil
}

func runCommand(e *env) *cli.Command {
	return &cli.Command{
		Name:  "run",
		Usage: "Run the network on the device and compare with the host reference",
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:  "strict",
				Usage: "Exit with status 2 when the outputs disagree",
			},
		},
		Action: func(c *cli.Context) error {
			var r *runner
			app := fx.New(runOptions(e.cfg, e.log), fx.Populate(&r))
			if err := app.Err(); err != nil {
				return err
			}
			if err := app.Start(c.Context); err != nil {
				return err
			}
			report, runErr := r.Run(c.Context)

			stopCtx, cancel := context.WithTimeout(context.Background(), stopTimeout)
			defer cancel()
			if err := errors.Join(runErr, app.Stop(stopCtx)); err != nil {
				return err
			}
			if c.Bool("strict") && !report.OK() {
				return cli.Exit(report.String(), 2)
			}
			return nil
		},
	}
}

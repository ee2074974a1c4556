// Package trexshell wires the driver, the simulated TRex lab, the in-memory
// platform API and the command host into one application.
package trexshell

import (
	"context"
	"io"
	"os"
	"time"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/takehaya/trexshell/pkg/cloudshell"
	"github.com/takehaya/trexshell/pkg/driver"
	"github.com/takehaya/trexshell/pkg/logger"
	"github.com/takehaya/trexshell/pkg/metrics"
	"github.com/takehaya/trexshell/pkg/server"
	"github.com/takehaya/trexshell/pkg/trex/sim"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

type CancelFunc func(ctx context.Context) error

type App struct {
	Logger   *zap.Logger
	API      *cloudshell.MemoryAPI
	Lab      *sim.Lab
	Driver   *driver.Driver
	Registry *prometheus.Registry

	clock         sim.Clock
	out           io.Writer
	cleanupFnList []CancelFunc
	cfg           Config
}

func NewApp(cfg Config) (*App, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	var cleanupFnList []CancelFunc
	lg, cleanup, err := logger.NewLogger(cfg.LoggerConfig)
	if err != nil {
		return nil, errors.Wrap(err, "failed init logger")
	}
	cleanupFnList = append(cleanupFnList, cleanup)

	clock := sim.SystemClock()
	if cfg.FastClock {
		clock = sim.NewManualClock(time.Now())
	}
	lab := sim.NewLab(sim.WithClock(clock), sim.WithPorts(cfg.SimPorts), sim.WithLogger(lg.Named("sim")))
	api := cloudshell.NewMemoryAPI(cfg.ArtifactDir, lg.Named("cloudshell"))

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	d, err := driver.New(driver.Options{
		API:               api,
		Dialer:            lab.Dial,
		Logger:            lg.Named("driver"),
		Metrics:           metrics.New(reg),
		KeepAliveInterval: cfg.KeepAliveInterval,
	})
	if err != nil {
		_ = cleanup(context.Background())
		return nil, errors.Wrap(err, "failed init driver")
	}
	err = d.Initialize(context.Background(), cloudshell.InitCommandContext{
		ResourceName: cfg.Service,
		Model:        cloudshell.TrexControllerModel,
		Attributes:   map[string]string{cloudshell.TrexControllerModel + ".User": cfg.User},
	})
	if err != nil {
		_ = cleanup(context.Background())
		return nil, errors.Wrap(err, "failed initialize driver")
	}
	// driver の後始末はロガーより先に行う
	cleanupFnList = append([]CancelFunc{d.Cleanup}, cleanupFnList...)

	return &App{
		Logger:        lg,
		API:           api,
		Lab:           lab,
		Driver:        d,
		Registry:      reg,
		clock:         clock,
		out:           os.Stdout,
		cleanupFnList: cleanupFnList,
		cfg:           cfg,
	}, nil
}

// SetOutput redirects command results and summaries, stdout by default.
func (a *App) SetOutput(w io.Writer) { a.out = w }

func (a *App) rcc(reservationID string) cloudshell.ResourceCommandContext {
	return cloudshell.ResourceCommandContext{ReservationID: reservationID, ServiceName: a.cfg.Service}
}

// Serve runs the command host until ctx is cancelled.
func (a *App) Serve(ctx context.Context) error {
	a.Logger.Info("start server mode", zap.String("listen", a.cfg.Listen))
	return server.New(a.Driver, a.API, a.Registry, a.cfg.Service, a.Logger.Named("server")).Run(ctx, a.cfg.Listen)
}

// Close runs the cleanup functions in order and returns their combined error.
func (a *App) Close() error {
	var err error
	for _, fn := range a.cleanupFnList {
		err = multierr.Append(err, fn(context.Background()))
	}
	return err
}

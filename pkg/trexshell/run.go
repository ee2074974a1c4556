package trexshell

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/takehaya/trexshell/pkg/cloudshell"
	"github.com/takehaya/trexshell/pkg/stats"
	"go.uber.org/zap"
)

type RunOptions struct {
	SUT        *SUT
	ConfigRoot string
	View       string
	Output     string
	Blocking   string
	// Duration is how long non blocking traffic runs before it is stopped.
	Duration        time.Duration
	MonitorInterval time.Duration // 0 disables live rates
}

// Run executes load_config, start_traffic, stop_traffic and get_statistics
// against the SUT ports, the way a test sequence in a reservation would.
func (a *App) Run(ctx context.Context, opts RunOptions) (stats.Result, error) {
	if opts.SUT == nil {
		return stats.Result{}, errors.New("sut is required")
	}
	reservationID := opts.SUT.Reservation
	if reservationID == "" {
		reservationID = uuid.NewString()
	}
	if err := a.API.AddResources(reservationID, opts.SUT.Resources()...); err != nil {
		return stats.Result{}, errors.Wrap(err, "failed to register sut ports")
	}
	rcc := a.rcc(reservationID)
	a.Logger.Info("start client mode", zap.String("reservation", reservationID), zap.Int("ports", len(opts.SUT.Ports)))

	if err := a.Driver.LoadConfig(ctx, rcc, opts.ConfigRoot); err != nil {
		return stats.Result{}, err
	}
	if err := a.Driver.StartTraffic(ctx, rcc, opts.Blocking); err != nil {
		return stats.Result{}, err
	}

	blocking, _ := cloudshell.IsBlocking(opts.Blocking)
	if !blocking && opts.Duration > 0 {
		if err := a.transmitFor(ctx, opts.Duration, opts.MonitorInterval); err != nil {
			return stats.Result{}, err
		}
	}

	if err := a.Driver.StopTraffic(ctx, rcc); err != nil {
		return stats.Result{}, err
	}
	return a.Driver.GetStatistics(ctx, rcc, opts.View, opts.Output)
}

func (a *App) transmitFor(ctx context.Context, d, monitor time.Duration) error {
	monCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		if monitor > 0 {
			a.ShowStats(monCtx, monitor)
		}
	}()

	err := a.clock.Sleep(ctx, d)
	cancel()
	<-done
	return err
}

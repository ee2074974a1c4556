// Package driver is the TRex controller shell command surface. Each exported
// method is one platform command; the work is done by the controller and
// stats packages.
package driver

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/takehaya/trexshell/pkg/cloudshell"
	"github.com/takehaya/trexshell/pkg/controller"
	"github.com/takehaya/trexshell/pkg/metrics"
	"github.com/takehaya/trexshell/pkg/stats"
	"github.com/takehaya/trexshell/pkg/tgn"
	"github.com/takehaya/trexshell/pkg/trex"
	"go.uber.org/zap"
)

const DefaultKeepAliveInterval = 2 * time.Second

type State int

const (
	StateUninitialized State = iota
	StateInitialized
	StateCleaned
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateInitialized:
		return "initialized"
	case StateCleaned:
		return "cleaned"
	}
	return "unknown"
}

// Service is the controller service descriptor built by Initialize.
type Service struct {
	Name string
	User string
}

type Options struct {
	API    cloudshell.API
	Dialer trex.Dialer
	// KeepAliver defaults to API when it implements cloudshell.KeepAliver.
	KeepAliver        cloudshell.KeepAliver
	Logger            *zap.Logger
	Metrics           *metrics.Metrics
	KeepAliveInterval time.Duration
}

type Driver struct {
	api        cloudshell.API
	dial       trex.Dialer
	keepAliver cloudshell.KeepAliver
	logger     *zap.Logger
	metrics    *metrics.Metrics
	interval   time.Duration

	mu         sync.Mutex
	state      State
	service    *Service
	controller *controller.Controller
	session    *controller.Session
}

func New(opts Options) (*Driver, error) {
	if opts.API == nil {
		return nil, errors.New("platform API is required")
	}
	if opts.Dialer == nil {
		return nil, errors.New("TRex dialer is required")
	}
	d := &Driver{
		api:        opts.API,
		dial:       opts.Dialer,
		keepAliver: opts.KeepAliver,
		logger:     opts.Logger,
		metrics:    opts.Metrics,
		interval:   opts.KeepAliveInterval,
	}
	if d.keepAliver == nil {
		d.keepAliver, _ = opts.API.(cloudshell.KeepAliver)
	}
	if d.logger == nil {
		d.logger = zap.NewNop()
	}
	if d.interval <= 0 {
		d.interval = DefaultKeepAliveInterval
	}
	return d, nil
}

func (d *Driver) State() State {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.state
}

// Session returns the active session, nil when none is loaded.
func (d *Driver) Session() *controller.Session {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.session
}

func (d *Driver) observe(command string, start time.Time, errp *error) {
	err := *errp
	result := metrics.ResultOK
	switch {
	case err == nil:
	case tgn.IsInvalidArgument(err):
		result = metrics.ResultInvalidArgument
	case tgn.IsLifecycle(err):
		result = metrics.ResultLifecycle
	default:
		result = metrics.ResultError
	}
	d.metrics.Observe(command, result, time.Since(start))
	if err != nil {
		d.logger.Error("command failed", zap.String("command", command), zap.Error(err))
	}
}

func (d *Driver) ensureInitialized(command string) error {
	if d.state != StateInitialized {
		return tgn.Lifecycle("%s: driver is %s", command, d.state)
	}
	return nil
}

// Initialize builds the service descriptor from the init context.
func (d *Driver) Initialize(ctx context.Context, icc cloudshell.InitCommandContext) (err error) {
	defer d.observe("initialize", time.Now(), &err)
	d.mu.Lock()
	defer d.mu.Unlock()

	user, _ := icc.Attribute(cloudshell.TrexControllerModel, "User")
	user = strings.TrimSpace(user)
	if user == "" {
		return tgn.InvalidArgument("User attribute", user)
	}
	d.service = &Service{Name: icc.ResourceName, User: user}
	d.controller = controller.New(user, d.dial, d.logger.Named("controller"))
	d.state = StateInitialized
	d.logger.Info("driver initialized", zap.String("service", icc.ResourceName), zap.String("user", user))
	return nil
}

// Cleanup closes the active session, if any. It is safe to call in any
// state and more than once.
func (d *Driver) Cleanup(ctx context.Context) (err error) {
	defer d.observe("cleanup", time.Now(), &err)
	d.mu.Lock()
	defer d.mu.Unlock()

	err = d.closeSession(ctx)
	if d.state == StateInitialized {
		d.state = StateCleaned
	}
	return err
}

func (d *Driver) closeSession(ctx context.Context) error {
	if d.session == nil {
		return nil
	}
	s := d.session
	d.session = nil
	d.metrics.SessionClosed()
	return s.Close(ctx)
}

// LoadConfig reserves the reservation's TRex ports and loads each with the
// profile named by its Logical Name, relative to configFileLocation.
func (d *Driver) LoadConfig(ctx context.Context, rcc cloudshell.ResourceCommandContext, configFileLocation string) (err error) {
	defer d.observe("load_config", time.Now(), &err)
	d.mu.Lock()
	defer d.mu.Unlock()

	if err := d.ensureInitialized("load_config"); err != nil {
		return err
	}
	if strings.TrimSpace(configFileLocation) == "" {
		return tgn.InvalidArgument("config file location", configFileLocation)
	}

	if d.keepAliver != nil {
		if err := d.keepAliver.EnqueueKeepAlive(ctx, rcc); err != nil {
			return errors.Wrap(err, "failed to enqueue keep alive")
		}
	}

	resources, err := d.api.ResourcesFromReservation(ctx, rcc, cloudshell.PortModel)
	if err != nil {
		return errors.Wrap(err, "failed to get ports from reservation")
	}
	refs := make([]controller.PortRef, 0, len(resources))
	for _, r := range resources {
		name, err := d.api.FamilyAttribute(ctx, rcc, r.Name, cloudshell.LogicalNameAttribute)
		if err != nil {
			return errors.Wrapf(err, "failed to get %s of %s", cloudshell.LogicalNameAttribute, r.Name)
		}
		refs = append(refs, controller.PortRef{Name: r.Name, FullAddress: r.FullAddress, LogicalName: name})
	}

	if d.session != nil {
		d.logger.Warn("replacing active session", zap.String("session", d.session.ID))
		if err := d.closeSession(ctx); err != nil {
			d.logger.Warn("failed to close previous session", zap.Error(err))
		}
	}

	s, err := d.controller.LoadConfig(ctx, refs, configFileLocation)
	if err != nil {
		return err
	}
	d.session = s
	d.metrics.SessionOpened(len(refs))
	return nil
}

func (d *Driver) activeSession(command string) (*controller.Session, error) {
	if err := d.ensureInitialized(command); err != nil {
		return nil, err
	}
	if d.session == nil {
		return nil, tgn.Lifecycle("%s: no active session, run load_config first", command)
	}
	return d.session, nil
}

// StartTraffic starts traffic on all ports. blocking is a True/False token
// (also yes/no and 1/0, any case, empty is False). Any other token is
// rejected as an invalid argument rather than treated as False.
func (d *Driver) StartTraffic(ctx context.Context, rcc cloudshell.ResourceCommandContext, blocking string) (err error) {
	defer d.observe("start_traffic", time.Now(), &err)
	d.mu.Lock()
	defer d.mu.Unlock()

	s, err := d.activeSession("start_traffic")
	if err != nil {
		return err
	}
	block, err := cloudshell.IsBlocking(blocking)
	if err != nil {
		return err
	}
	return s.StartTraffic(ctx, block)
}

func (d *Driver) StopTraffic(ctx context.Context, rcc cloudshell.ResourceCommandContext) (err error) {
	defer d.observe("stop_traffic", time.Now(), &err)
	d.mu.Lock()
	defer d.mu.Unlock()

	s, err := d.activeSession("stop_traffic")
	if err != nil {
		return err
	}
	return s.StopTraffic(ctx)
}

// GetStatistics reads the view and renders it as JSON or CSV. CSV output is
// also attached to the reservation.
func (d *Driver) GetStatistics(ctx context.Context, rcc cloudshell.ResourceCommandContext, viewName, outputType string) (res stats.Result, err error) {
	defer d.observe("get_statistics", time.Now(), &err)
	d.mu.Lock()
	defer d.mu.Unlock()

	if err := d.ensureInitialized("get_statistics"); err != nil {
		return stats.Result{}, err
	}
	view, err := stats.ParseView(viewName)
	if err != nil {
		return stats.Result{}, err
	}
	format, err := stats.ParseFormat(outputType)
	if err != nil {
		return stats.Result{}, err
	}
	s, err := d.activeSession("get_statistics")
	if err != nil {
		return stats.Result{}, err
	}

	snap, err := s.Statistics(ctx, view)
	if err != nil {
		return stats.Result{}, err
	}
	res, err = stats.Render(view, snap, format)
	if err != nil {
		return stats.Result{}, err
	}
	if format == stats.FormatCSV {
		if err := cloudshell.AttachStatsCSV(ctx, d.api, rcc, d.logger, string(view), res.CSV); err != nil {
			return stats.Result{}, err
		}
		d.metrics.Attached(string(view))
	}
	return res, nil
}

// KeepAlive blocks until ctx is cancelled, which is how the platform ends
// the keep alive command.
func (d *Driver) KeepAlive(ctx context.Context, rcc cloudshell.ResourceCommandContext) (err error) {
	defer d.observe("keep_alive", time.Now(), &err)
	d.mu.Lock()
	err = d.ensureInitialized("keep_alive")
	d.mu.Unlock()
	if err != nil {
		return err
	}

	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			d.logger.Debug("keep alive cancelled", zap.String("reservation", rcc.ReservationID))
			return nil
		case <-ticker.C:
			d.logger.Debug("keep alive", zap.String("reservation", rcc.ReservationID), zap.Stringer("state", d.State()))
		}
	}
}

package driver

import (
	"context"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/takehaya/trexshell/pkg/cloudshell"
	"github.com/takehaya/trexshell/pkg/controller"
	"github.com/takehaya/trexshell/pkg/metrics"
	"github.com/takehaya/trexshell/pkg/tgn"
	"github.com/takehaya/trexshell/pkg/trex/sim"
	"go.uber.org/zap"
)

const (
	chassisHost = "192.168.15.23"
	reservation = "res-1"
)

var (
	configRoot = filepath.Join("..", "..", "testdata")
	rcc        = cloudshell.ResourceCommandContext{ReservationID: reservation, ServiceName: "TRex Controller"}
	icc        = cloudshell.InitCommandContext{
		ResourceName: "TRex Controller",
		Model:        cloudshell.TrexControllerModel,
		Attributes:   map[string]string{cloudshell.TrexControllerModel + ".User": "trex"},
	}
)

type fixture struct {
	driver  *Driver
	api     *cloudshell.MemoryAPI
	lab     *sim.Lab
	metrics *metrics.Metrics
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	api := cloudshell.NewMemoryAPI(t.TempDir(), zap.NewNop())
	require.NoError(t, api.AddResources(reservation,
		cloudshell.Resource{Name: "trex-01", Model: cloudshell.TrexChassisModel, FullAddress: chassisHost},
		cloudshell.Resource{
			Name:        "trex-01/Module1/Port0",
			Model:       cloudshell.PortModel,
			FullAddress: chassisHost + "/M1/P0",
			Attributes:  map[string]string{cloudshell.LogicalNameAttribute: "test_profile_1.yaml"},
		},
		cloudshell.Resource{
			Name:        "trex-01/Module1/Port1",
			Model:       cloudshell.PortModel,
			FullAddress: chassisHost + "/M1/P1",
			Attributes:  map[string]string{cloudshell.LogicalNameAttribute: "test_profile_2.yaml"},
		},
	))

	lab := sim.NewLab(sim.WithClock(sim.NewManualClock(time.Unix(0, 0))))
	m := metrics.New(prometheus.NewRegistry())
	d, err := New(Options{API: api, Dialer: lab.Dial, Logger: zap.NewNop(), Metrics: m, KeepAliveInterval: time.Millisecond})
	require.NoError(t, err)
	return &fixture{driver: d, api: api, lab: lab, metrics: m}
}

func TestNew(t *testing.T) {
	lab := sim.NewLab()
	_, err := New(Options{Dialer: lab.Dial})
	assert.Error(t, err)
	_, err = New(Options{API: cloudshell.NewMemoryAPI("", zap.NewNop())})
	assert.Error(t, err)

	d, err := New(Options{API: cloudshell.NewMemoryAPI("", zap.NewNop()), Dialer: lab.Dial})
	require.NoError(t, err)
	assert.Equal(t, DefaultKeepAliveInterval, d.interval)
	assert.NotNil(t, d.keepAliver, "memory API doubles as keep aliver")
	assert.Equal(t, StateUninitialized, d.State())
}

func TestEndToEnd(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	d := f.driver

	require.NoError(t, d.Initialize(ctx, icc))
	require.NoError(t, d.LoadConfig(ctx, rcc, configRoot))
	assert.True(t, f.api.KeepAliveEnqueued(reservation, rcc.ServiceName))
	assert.Equal(t, []string{"server/port0", "server/port1"}, d.Session().PortNames())

	require.NoError(t, d.StartTraffic(ctx, rcc, "True"))
	require.NoError(t, d.StopTraffic(ctx, rcc))

	res, err := d.GetStatistics(ctx, rcc, "Port", "JSON")
	require.NoError(t, err)
	assert.Equal(t, float64(300), res.JSON["server/port0"]["opackets"])
	assert.Equal(t, float64(300), res.JSON["server/port1"]["opackets"])
	assert.Equal(t, float64(300), res.JSON["server/port1"]["ipackets"])
	_, attached := f.api.Attachment(reservation, cloudshell.StatsFileName("Port"))
	assert.False(t, attached, "JSON output is not attached")

	res, err = d.GetStatistics(ctx, rcc, "Port", "csv")
	require.NoError(t, err)
	data, ok := f.api.Attachment(reservation, "Port_statistics.csv")
	require.True(t, ok)
	assert.Equal(t, res.CSV, string(data))
	assert.True(t, strings.HasPrefix(res.CSV, "Port,"))

	res, err = d.GetStatistics(ctx, rcc, "Stream", "CSV")
	require.NoError(t, err)
	assert.Contains(t, res.CSV, "server/port0/udp_burst")
	assert.Contains(t, res.CSV, "server/port1/udp_multi")

	app := f.lab.Appliance(chassisHost)
	assert.Equal(t, 1, app.Connections())
	require.NoError(t, d.Cleanup(ctx))
	assert.Equal(t, 0, app.Connections())
	assert.Equal(t, StateCleaned, d.State())
	require.NoError(t, d.Cleanup(ctx))

	assert.Equal(t, float64(1), testutil.ToFloat64(f.metrics.CommandsTotal.WithLabelValues("load_config", metrics.ResultOK)))
	assert.Equal(t, float64(3), testutil.ToFloat64(f.metrics.CommandsTotal.WithLabelValues("get_statistics", metrics.ResultOK)))
	assert.Equal(t, float64(1), testutil.ToFloat64(f.metrics.StatsAttached.WithLabelValues("Port")))
	assert.Equal(t, float64(1), testutil.ToFloat64(f.metrics.StatsAttached.WithLabelValues("Stream")))
	assert.Equal(t, float64(0), testutil.ToFloat64(f.metrics.SessionsActive))
}

func TestInitializeRequiresUser(t *testing.T) {
	f := newFixture(t)
	err := f.driver.Initialize(context.Background(), cloudshell.InitCommandContext{ResourceName: "TRex Controller"})
	assert.True(t, tgn.IsInvalidArgument(err))
	assert.Equal(t, StateUninitialized, f.driver.State())

	bare := cloudshell.InitCommandContext{Attributes: map[string]string{"User": " trex "}}
	require.NoError(t, f.driver.Initialize(context.Background(), bare))
	assert.Equal(t, "trex", f.driver.service.User)
}

func TestLifecycle(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	d := f.driver

	assert.True(t, tgn.IsLifecycle(d.LoadConfig(ctx, rcc, configRoot)))
	require.NoError(t, d.Cleanup(ctx), "cleanup before initialize")

	require.NoError(t, d.Initialize(ctx, icc))
	assert.True(t, tgn.IsLifecycle(d.StartTraffic(ctx, rcc, "False")))
	assert.True(t, tgn.IsLifecycle(d.StopTraffic(ctx, rcc)))
	_, err := d.GetStatistics(ctx, rcc, "Port", "JSON")
	assert.True(t, tgn.IsLifecycle(err))

	// arguments are checked before the session
	_, err = d.GetStatistics(ctx, rcc, "Flow", "JSON")
	assert.True(t, tgn.IsInvalidArgument(err))

	require.NoError(t, d.Cleanup(ctx), "cleanup without a session")
	assert.True(t, tgn.IsLifecycle(d.LoadConfig(ctx, rcc, configRoot)))

	assert.Equal(t, float64(2), testutil.ToFloat64(f.metrics.CommandsTotal.WithLabelValues("load_config", metrics.ResultLifecycle)))
	assert.Equal(t, float64(1), testutil.ToFloat64(f.metrics.CommandsTotal.WithLabelValues("get_statistics", metrics.ResultInvalidArgument)))
}

func TestInvalidArguments(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	d := f.driver
	require.NoError(t, d.Initialize(ctx, icc))
	require.NoError(t, d.LoadConfig(ctx, rcc, configRoot))

	err := d.StartTraffic(ctx, rcc, "maybe")
	assert.True(t, tgn.IsInvalidArgument(err))

	_, err = d.GetStatistics(ctx, rcc, "Flow", "JSON")
	require.Error(t, err)
	assert.Equal(t, `Invalid Statistics View "Flow" - should be Port/Stream`, err.Error())

	_, err = d.GetStatistics(ctx, rcc, "Port", "XML")
	require.Error(t, err)
	assert.Equal(t, `Invalid Output Type "XML" - should be CSV/JSON`, err.Error())

	assert.True(t, tgn.IsInvalidArgument(d.LoadConfig(ctx, rcc, " ")))
}

func TestReloadReplacesSession(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	d := f.driver
	require.NoError(t, d.Initialize(ctx, icc))

	require.NoError(t, d.LoadConfig(ctx, rcc, configRoot))
	first := d.Session()
	require.NoError(t, d.LoadConfig(ctx, rcc, configRoot))
	second := d.Session()

	assert.NotEqual(t, first.ID, second.ID)
	assert.Equal(t, controller.StateClosed, first.State())
	assert.Equal(t, controller.StateLoaded, second.State())
	assert.Equal(t, 1, f.lab.Appliance(chassisHost).Connections())
	assert.Equal(t, float64(1), testutil.ToFloat64(f.metrics.SessionsActive))
	assert.Equal(t, float64(2), testutil.ToFloat64(f.metrics.PortsReserved))
}

func TestLoadConfigFailures(t *testing.T) {
	ctx := context.Background()

	t.Run("missing logical name", func(t *testing.T) {
		f := newFixture(t)
		require.NoError(t, f.api.AddResources(reservation, cloudshell.Resource{
			Name:        "trex-01/Module1/Port1",
			Model:       cloudshell.PortModel,
			FullAddress: chassisHost + "/M1/P1",
		}))
		require.NoError(t, f.driver.Initialize(ctx, icc))
		err := f.driver.LoadConfig(ctx, rcc, configRoot)
		require.Error(t, err)
		assert.Contains(t, err.Error(), cloudshell.LogicalNameAttribute)
		assert.Nil(t, f.driver.Session())
	})

	t.Run("unknown reservation", func(t *testing.T) {
		f := newFixture(t)
		require.NoError(t, f.driver.Initialize(ctx, icc))
		err := f.driver.LoadConfig(ctx, cloudshell.ResourceCommandContext{ReservationID: "nope"}, configRoot)
		assert.Error(t, err)
	})

	t.Run("missing profile", func(t *testing.T) {
		f := newFixture(t)
		require.NoError(t, f.driver.Initialize(ctx, icc))
		err := f.driver.LoadConfig(ctx, rcc, t.TempDir())
		require.Error(t, err)
		assert.Nil(t, f.driver.Session())
		assert.Equal(t, 0, f.lab.Appliance(chassisHost).Connections())
		assert.Equal(t, float64(1), testutil.ToFloat64(f.metrics.CommandsTotal.WithLabelValues("load_config", metrics.ResultError)))
	})
}

func TestKeepAlive(t *testing.T) {
	f := newFixture(t)
	err := f.driver.KeepAlive(context.Background(), rcc)
	assert.True(t, tgn.IsLifecycle(err))

	require.NoError(t, f.driver.Initialize(context.Background(), icc))
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.NoError(t, f.driver.KeepAlive(ctx, rcc))
}

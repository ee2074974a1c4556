package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/takehaya/trexshell/pkg/trexshell"
	"github.com/urfave/cli"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
	builtBy = "unknown"
)

func main() {
	app := newApp(version)
	if err := app.Run(os.Args); err != nil {
		log.Fatalf("%+v", err)
	}
}

func newApp(version string) *cli.App {
	app := cli.NewApp()
	app.Name = "trexshell"
	app.Version = fmt.Sprintf("%s, %s, %s, %s", version, commit, date, builtBy)

	app.Usage = "TRex traffic generator controller shell"

	app.EnableBashCompletion = true
	app.Flags = []cli.Flag{
		cli.BoolFlag{
			Name:  "json-log",
			Usage: "log in JSON format",
		},
		cli.BoolFlag{
			Name:  "no-color",
			Usage: "disable colored console logs",
		},
		cli.IntFlag{
			Name:  "verbose, v",
			Usage: "log verbosity, 1 or more enables debug logs",
		},
		cli.BoolFlag{
			Name:  "quiet, q",
			Usage: "only log warnings and errors",
		},
		cli.StringFlag{
			Name:  "log-level",
			Usage: "log level name (debug, info, warn, error), wins over verbose and quiet",
		},
		cli.StringFlag{
			Name:  "log-file",
			Usage: "append logs to a file instead of stderr",
		},
		cli.IntFlag{
			Name:  "sim-ports",
			Usage: "ports per simulated TRex chassis",
		},
		cli.StringFlag{
			Name:  "user, u",
			Usage: "TRex user that owns the reserved ports",
		},
	}
	app.Commands = []cli.Command{
		{
			Name:   "serve",
			Usage:  "host the shell commands over HTTP",
			Action: serve,
			Flags: []cli.Flag{
				cli.StringFlag{
					Name:  "listen, l",
					Usage: "listen address, default is :8080",
				},
				cli.StringFlag{
					Name:  "artifact-dir, a",
					Usage: "directory attachments are written to",
				},
				cli.DurationFlag{
					Name:  "keep-alive-interval",
					Usage: "keep_alive heartbeat interval",
				},
			},
		},
		{
			Name:   "run",
			Usage:  "load, run and collect statistics once against a SUT file",
			Action: run,
			Flags: []cli.Flag{
				cli.StringFlag{
					Name:  "sut, s",
					Value: "sut.yaml",
					Usage: "SUT file listing the ports and their profiles",
				},
				cli.StringFlag{
					Name:  "config-root, c",
					Value: ".",
					Usage: "directory the port profiles are loaded from",
				},
				cli.StringFlag{
					Name:  "view",
					Value: "Port",
					Usage: "statistics view, Port or Stream",
				},
				cli.StringFlag{
					Name:  "output, o",
					Value: "JSON",
					Usage: "statistics output type, JSON or CSV",
				},
				cli.StringFlag{
					Name:  "blocking, b",
					Value: "True",
					Usage: "wait for the bursts to complete",
				},
				cli.DurationFlag{
					Name:  "duration, d",
					Value: 10 * time.Second,
					Usage: "how long non blocking traffic runs",
				},
				cli.DurationFlag{
					Name:  "monitor",
					Value: time.Second,
					Usage: "live rate interval while traffic runs, 0 disables",
				},
				cli.StringFlag{
					Name:  "artifact-dir, a",
					Usage: "directory CSV statistics are written to",
				},
				cli.BoolFlag{
					Name:  "fast",
					Usage: "advance the simulator clock instead of waiting",
				},
			},
		},
	}
	return app
}

// loadConfig merges environment variables with the flags that are set.
func loadConfig(ctx *cli.Context) (trexshell.Config, error) {
	cfg, err := trexshell.LoadConfig()
	if err != nil {
		return cfg, err
	}

	lc := &cfg.LoggerConfig
	if ctx.GlobalIsSet("json-log") {
		lc.JSON = ctx.GlobalBool("json-log")
	}
	if ctx.GlobalIsSet("no-color") {
		lc.NoColor = ctx.GlobalBool("no-color")
	}
	if ctx.GlobalIsSet("verbose") {
		lc.Verbose = ctx.GlobalInt("verbose")
	}
	if ctx.GlobalIsSet("quiet") {
		lc.Quiet = ctx.GlobalBool("quiet")
	}
	if ctx.GlobalIsSet("log-level") {
		lc.Level = ctx.GlobalString("log-level")
	}
	if ctx.GlobalIsSet("log-file") {
		lc.File = ctx.GlobalString("log-file")
	}
	if ctx.GlobalIsSet("sim-ports") {
		cfg.SimPorts = ctx.GlobalInt("sim-ports")
	}
	if ctx.GlobalIsSet("user") {
		cfg.User = ctx.GlobalString("user")
	}

	if ctx.IsSet("listen") {
		cfg.Listen = ctx.String("listen")
	}
	if ctx.IsSet("artifact-dir") {
		cfg.ArtifactDir = ctx.String("artifact-dir")
	}
	if ctx.IsSet("keep-alive-interval") {
		cfg.KeepAliveInterval = ctx.Duration("keep-alive-interval")
	}
	cfg.FastClock = ctx.Bool("fast")
	return cfg, nil
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
}

func serve(ctx *cli.Context) error {
	cfg, err := loadConfig(ctx)
	if err != nil {
		return err
	}
	app, err := trexshell.NewApp(cfg)
	if err != nil {
		return err
	}
	defer app.Close()

	sigCtx, stop := signalContext()
	defer stop()
	return app.Serve(sigCtx)
}

func run(ctx *cli.Context) error {
	sut, err := trexshell.LoadSUT(ctx.String("sut"))
	if err != nil {
		return err
	}
	cfg, err := loadConfig(ctx)
	if err != nil {
		return err
	}
	// SUT のユーザーはフラグが無い時だけ使う
	if sut.User != "" && !ctx.GlobalIsSet("user") {
		cfg.User = sut.User
	}

	app, err := trexshell.NewApp(cfg)
	if err != nil {
		return err
	}
	defer app.Close()

	sigCtx, stop := signalContext()
	defer stop()
	res, err := app.Run(sigCtx, trexshell.RunOptions{
		SUT:             sut,
		ConfigRoot:      ctx.String("config-root"),
		View:            ctx.String("view"),
		Output:          ctx.String("output"),
		Blocking:        ctx.String("blocking"),
		Duration:        ctx.Duration("duration"),
		MonitorInterval: ctx.Duration("monitor"),
	})
	if err != nil {
		return err
	}
	return trexshell.WriteSummary(os.Stdout, res)
}

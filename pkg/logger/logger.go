package logger

import (
	"context"
	"errors"
	"os"
	"runtime"
	"strings"
	"syscall"
	"time"

	"github.com/mcuadros/go-defaults"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

type Config struct {
	JSON      bool `default:"false" envconfig:"LOG_JSON"`       // trueならJSONフォーマット
	NoColor   bool `default:"false" envconfig:"LOG_NO_COLOR"`   // trueなら色付けしない
	Verbose   int  `default:"0" envconfig:"LOG_VERBOSE"`        // 0はInfo相当 1以上でDebug
	Quiet     bool `default:"false" envconfig:"LOG_QUIET"`      // trueでWarn以上に引き上げる
	AddCaller bool `default:"false" envconfig:"LOG_ADD_CALLER"` // trueならログに呼び出し元情報を追加する

	// Level is the host's level name (debug, info, warn, error). When set it
	// wins over Verbose and Quiet so the driver logs at the host verbosity.
	Level string `default:"" envconfig:"LOG_LEVEL"`
	// File appends logs to a file instead of stderr.
	File string `default:"" envconfig:"LOG_FILE"`
}

// DefaultConfig returns a Config with the struct tag defaults applied.
func DefaultConfig() Config {
	var cfg Config
	defaults.SetDefaults(&cfg)
	return cfg
}

func (c Config) level() (zapcore.Level, error) {
	if c.Level != "" {
		var lvl zapcore.Level
		if err := lvl.UnmarshalText([]byte(strings.ToLower(c.Level))); err != nil {
			return lvl, err
		}
		return lvl, nil
	}
	level := zapcore.InfoLevel
	if c.Quiet {
		level = zapcore.WarnLevel
	}
	if c.Verbose > 0 && !c.Quiet {
		level = zapcore.DebugLevel
	}
	return level, nil
}

func NewLogger(cfg Config) (*zap.Logger, func(context.Context) error, error) {
	level, err := cfg.level()
	if err != nil {
		return nil, nil, err
	}

	encCfg := zapcore.EncoderConfig{
		TimeKey:        "ts",
		LevelKey:       "level",
		NameKey:        "logger",
		MessageKey:     "msg",
		CallerKey:      "caller",
		EncodeTime:     func(t time.Time, enc zapcore.PrimitiveArrayEncoder) { enc.AppendString(t.Format(time.RFC3339)) },
		EncodeDuration: zapcore.StringDurationEncoder,
		EncodeCaller:   zapcore.ShortCallerEncoder,
	}

	// ファイル出力の場合は色を付けない
	var enc zapcore.Encoder
	if cfg.JSON {
		enc = zapcore.NewJSONEncoder(encCfg)
	} else {
		if cfg.NoColor || cfg.File != "" || runtime.GOOS == "windows" {
			encCfg.EncodeLevel = zapcore.CapitalLevelEncoder
		} else {
			encCfg.EncodeLevel = zapcore.CapitalColorLevelEncoder
		}
		enc = zapcore.NewConsoleEncoder(encCfg)
	}

	var (
		ws      zapcore.WriteSyncer
		closeFn func() error
	)
	if cfg.File != "" {
		f, err := os.OpenFile(cfg.File, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			return nil, nil, err
		}
		ws = zapcore.AddSync(f)
		closeFn = f.Close
	} else {
		// stdout はコマンド結果に使うのでログは標準エラー出力に出す
		ws = zapcore.AddSync(os.Stderr)
	}

	core := zapcore.NewCore(enc, ws, level)

	opts := []zap.Option{
		zap.ErrorOutput(ws),
		zap.AddStacktrace(zapcore.ErrorLevel),
	}
	if cfg.AddCaller || level == zapcore.DebugLevel {
		opts = append(opts, zap.AddCaller())
	}

	lg := zap.New(core, opts...).Named("trexshell")

	cleanup := func(_ context.Context) error {
		if err := lg.Sync(); err != nil {
			// 標準出力・標準エラーに対する Sync は多くの環境で EINVAL 等になるため無視する
			if !errors.Is(err, syscall.EINVAL) && !errors.Is(err, syscall.ENOTSUP) && !errors.Is(err, syscall.EBADF) {
				return err
			}
		}
		if closeFn != nil {
			return closeFn()
		}
		return nil
	}
	return lg, cleanup, nil
}

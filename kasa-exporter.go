package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	sugar      *zap.SugaredLogger
	configPath string
)

func NewLogger(level, file string) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	cfg.OutputPaths = []string{"stdout"}
	if file != "" {
		cfg.OutputPaths = append(cfg.OutputPaths, file)
	}
	if level != "" {
		lvl, err := zapcore.ParseLevel(level)
		if err != nil {
			return nil, err
		}
		cfg.Level = zap.NewAtomicLevelAt(lvl)
	}
	return cfg.Build()
}

func initLogger(level, file string) {
	logger, err := NewLogger(level, file)
	if err != nil {
		logger, _ = NewLogger("", "")
		logger.Sugar().Errorf("Invalid logging configuration: %s", err)
	}
	sugar = logger.Sugar()
}

// signalContext is cancelled on the first interrupt or SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt, syscall.SIGTERM)
	go func() {
		select {
		case <-c:
			sugar.Info("Catch Keyboard interrupt")
			cancel()
		case <-ctx.Done():
		}
		signal.Stop(c)
	}()
	return ctx, cancel
}

func main() {
	initLogger("", "")
	defer func() { sugar.Sync() }() // flushes buffer, if any

	if err := rootCmd.Execute(); err != nil {
		sugar.Fatal(err)
	}
}

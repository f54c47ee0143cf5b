package pgguardcmd

import (
	"os"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// newLogger writes through a buffer so logging never blocks a pool release on stderr. The returned
// func flushes it.
func newLogger(level string) (*zap.Logger, func(), error) {
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		return nil, nil, err
	}

	ws := &zapcore.BufferedWriteSyncer{
		WS:            zapcore.Lock(os.Stderr),
		FlushInterval: time.Second,
	}

	encoderConfig := zap.NewProductionEncoderConfig()
	encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	core := zapcore.NewCore(zapcore.NewConsoleEncoder(encoderConfig), ws, lvl)
	return zap.New(core), func() {
		_ = ws.Stop()
	}, nil
}

package logger

import (
  "os"
  "strings"

  "go.uber.org/zap"
  "go.uber.org/zap/zapcore"
)

// Log is the process-wide logger. It is a no-op until Init is called,
// so packages can log from tests without setup.
var Log = zap.NewNop()

// Init sets up the global logger. Call once in main().
func Init() error {
  cfg := zap.NewProductionConfig()
  cfg.EncoderConfig.TimeKey = "ts"
  cfg.EncoderConfig.MessageKey = "msg"
  cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
  if level := os.Getenv("LOG_LEVEL"); level != "" {
    cfg.Level.SetLevel(parseLevel(level))
  }
  if os.Getenv("ENVIRONMENT") == "development" {
    cfg.Encoding = "console"
  }
  l, err := cfg.Build()
  if err != nil {
    return err
  }
  Log = l
  return nil
}

// parseLevel maps LOG_LEVEL strings to zapcore levels; unknown values mean info.
func parseLevel(s string) zapcore.Level {
  switch strings.ToLower(s) {
  case "debug":
    return zapcore.DebugLevel
  case "warn":
    return zapcore.WarnLevel
  case "error":
    return zapcore.ErrorLevel
  default:
    return zapcore.InfoLevel
  }
}

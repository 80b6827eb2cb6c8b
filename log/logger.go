package log

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	loggerInstance *zap.Logger
)

// initLogger initializes structured JSON logger for production
func initLogger() {
	config := zap.NewProductionConfig()
	config.OutputPaths = []string{"stdout"}
	config.ErrorOutputPaths = []string{"stderr"}
	config.EncoderConfig.TimeKey = "timestamp"
	config.EncoderConfig.EncodeTime = zapcore.TimeEncoderOfLayout("2006-01-02T15:04:05.000Z07:00")
	config.EncoderConfig.LevelKey = "level"
	config.EncoderConfig.MessageKey = "message"
	config.EncoderConfig.CallerKey = "caller"
	config.EncoderConfig.StacktraceKey = "stacktrace"

	logger, err := config.Build()
	if err != nil {
		panic("Failed to initialize logger: " + err.Error())
	}

	loggerInstance = logger
}

func GetInstance() *zap.Logger {
	if loggerInstance == nil {
		initLogger()
	}
	return loggerInstance
}

// Named returns a child of the shared logger scoped to one component,
// e.g. log.Named("scheduler").
func Named(name string) *zap.Logger {
	return GetInstance().Named(name)
}

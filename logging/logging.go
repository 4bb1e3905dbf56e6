// Package logging adapts zap and zerolog loggers to messaging.Logger.
package logging

import (
	"fmt"

	"github.com/rs/zerolog"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/velmie/messaging"
)

const (
	ProductionMode  = "production"
	DevelopmentMode = "development"
)

// NewZap builds a JSON production logger or a colored console development logger.
func NewZap(mode string) (*zap.Logger, error) {
	var config zap.Config
	if mode == ProductionMode {
		config = zap.NewProductionConfig()
		config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	} else {
		config = zap.NewDevelopmentConfig()
		config.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	}

	return config.Build()
}

type zapLogger struct {
	sugar *zap.SugaredLogger
}

// Zap adapts a zap logger. A nil logger yields messaging.NopLogger.
func Zap(logger *zap.Logger) messaging.Logger {
	if logger == nil {
		return messaging.NopLogger{}
	}

	return zapLogger{sugar: logger.WithOptions(zap.AddCallerSkip(1)).Sugar()}
}

func (l zapLogger) Debug(msg string, args ...any) { l.sugar.Debugw(msg, args...) }
func (l zapLogger) Info(msg string, args ...any)  { l.sugar.Infow(msg, args...) }
func (l zapLogger) Warn(msg string, args ...any)  { l.sugar.Warnw(msg, args...) }
func (l zapLogger) Error(msg string, args ...any) { l.sugar.Errorw(msg, args...) }

type zerologLogger struct {
	logger zerolog.Logger
}

// Zerolog adapts a zerolog logger.
func Zerolog(logger zerolog.Logger) messaging.Logger {
	return zerologLogger{logger: logger}
}

func (l zerologLogger) Debug(msg string, args ...any) { l.log(l.logger.Debug(), msg, args) }
func (l zerologLogger) Info(msg string, args ...any)  { l.log(l.logger.Info(), msg, args) }
func (l zerologLogger) Warn(msg string, args ...any)  { l.log(l.logger.Warn(), msg, args) }
func (l zerologLogger) Error(msg string, args ...any) { l.log(l.logger.Error(), msg, args) }

func (l zerologLogger) log(event *zerolog.Event, msg string, args []any) {
	if event == nil {
		return
	}
	event.Fields(fieldMap(args)).Msg(msg)
}

// fieldMap pairs alternating keys and values. A dangling value is kept under "!BADKEY".
func fieldMap(args []any) map[string]any {
	fields := make(map[string]any, (len(args)+1)/2)
	for i := 0; i < len(args); i += 2 {
		key, ok := args[i].(string)
		if !ok {
			key = fmt.Sprint(args[i])
		}
		if i+1 >= len(args) {
			fields["!BADKEY"] = args[i]

			break
		}
		if err, ok := args[i+1].(error); ok {
			fields[key] = err.Error()

			continue
		}
		fields[key] = args[i+1]
	}

	return fields
}

package zap

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/LerianStudio/claims-telemetry/commons/enrichment"
	"github.com/LerianStudio/claims-telemetry/commons/log"
)

// ZapWithTraceLogger implements log.Logger on top of zap. Each emission runs
// the enrichment pipeline against the bound call chain, so trace, broker, job
// and request context reach the record without the caller passing them.
type ZapWithTraceLogger struct {
	Logger                 *zap.Logger
	pipeline               *enrichment.Pipeline
	ctx                    context.Context
	fields                 []enrichment.Property
	defaultMessageTemplate string
}

// NewZapWithTraceLogger wraps logger. A nil pipeline disables enrichment.
func NewZapWithTraceLogger(logger *zap.Logger, pipeline *enrichment.Pipeline) *ZapWithTraceLogger {
	return &ZapWithTraceLogger{Logger: logger, pipeline: pipeline}
}

func (l *ZapWithTraceLogger) clone() *ZapWithTraceLogger {
	c := *l
	c.fields = append([]enrichment.Property(nil), l.fields...)

	return &c
}

// emit builds the record only for entries that pass the level check.
// Explicit fields are added before enrichment so they win on shared names.
func (l *ZapWithTraceLogger) emit(level log.Level, msg string) {
	if l == nil || l.Logger == nil {
		return
	}

	ce := l.Logger.Check(toZapLevel(level), l.defaultMessageTemplate+msg)
	if ce == nil {
		return
	}

	record := enrichment.NewRecord(level, ce.Message, ce.Time)
	record.Category = ce.LoggerName

	for _, p := range l.fields {
		record.AddPropertyIfAbsent(p)
	}

	ctx := l.ctx
	if ctx == nil {
		ctx = context.Background()
	}

	l.pipeline.Enrich(ctx, record)

	ce.Write(record.Fields()...)
}

func sprintln(args ...any) string {
	return strings.TrimSuffix(fmt.Sprintln(args...), "\n")
}

// Info implements Info Logger interface function.
func (l *ZapWithTraceLogger) Info(args ...any) { l.emit(log.InfoLevel, fmt.Sprint(args...)) }

// Infof implements Infof Logger interface function.
func (l *ZapWithTraceLogger) Infof(format string, args ...any) {
	l.emit(log.InfoLevel, fmt.Sprintf(format, args...))
}

// Infoln implements Infoln Logger interface function.
func (l *ZapWithTraceLogger) Infoln(args ...any) { l.emit(log.InfoLevel, sprintln(args...)) }

// Error implements Error Logger interface function.
func (l *ZapWithTraceLogger) Error(args ...any) { l.emit(log.ErrorLevel, fmt.Sprint(args...)) }

// Errorf implements Errorf Logger interface function.
func (l *ZapWithTraceLogger) Errorf(format string, args ...any) {
	l.emit(log.ErrorLevel, fmt.Sprintf(format, args...))
}

// Errorln implements Errorln Logger interface function.
func (l *ZapWithTraceLogger) Errorln(args ...any) { l.emit(log.ErrorLevel, sprintln(args...)) }

// Warn implements Warn Logger interface function.
func (l *ZapWithTraceLogger) Warn(args ...any) { l.emit(log.WarnLevel, fmt.Sprint(args...)) }

// Warnf implements Warnf Logger interface function.
func (l *ZapWithTraceLogger) Warnf(format string, args ...any) {
	l.emit(log.WarnLevel, fmt.Sprintf(format, args...))
}

// Warnln implements Warnln Logger interface function.
func (l *ZapWithTraceLogger) Warnln(args ...any) { l.emit(log.WarnLevel, sprintln(args...)) }

// Debug implements Debug Logger interface function.
func (l *ZapWithTraceLogger) Debug(args ...any) { l.emit(log.DebugLevel, fmt.Sprint(args...)) }

// Debugf implements Debugf Logger interface function.
func (l *ZapWithTraceLogger) Debugf(format string, args ...any) {
	l.emit(log.DebugLevel, fmt.Sprintf(format, args...))
}

// Debugln implements Debugln Logger interface function.
func (l *ZapWithTraceLogger) Debugln(args ...any) { l.emit(log.DebugLevel, sprintln(args...)) }

// Fatal implements Fatal Logger interface function.
func (l *ZapWithTraceLogger) Fatal(args ...any) { l.emit(log.FatalLevel, fmt.Sprint(args...)) }

// Fatalf implements Fatalf Logger interface function.
func (l *ZapWithTraceLogger) Fatalf(format string, args ...any) {
	l.emit(log.FatalLevel, fmt.Sprintf(format, args...))
}

// Fatalln implements Fatalln Logger interface function.
func (l *ZapWithTraceLogger) Fatalln(args ...any) { l.emit(log.FatalLevel, sprintln(args...)) }

// WithFields adds structured context to the logger. It accepts alternating
// key/value pairs and zap.Field values, like zap's SugaredLogger.With.
//
//nolint:ireturn
func (l *ZapWithTraceLogger) WithFields(fields ...any) log.Logger {
	c := l.clone()
	c.fields = append(c.fields, toProperties(fields)...)

	return c
}

// WithDefaultMessageTemplate sets the default message template for the logger.
//
//nolint:ireturn
func (l *ZapWithTraceLogger) WithDefaultMessageTemplate(message string) log.Logger {
	c := l.clone()
	c.defaultMessageTemplate = message

	return c
}

// WithContext binds the call chain whose context enriches every record.
//
//nolint:ireturn
func (l *ZapWithTraceLogger) WithContext(ctx context.Context) log.Logger {
	c := l.clone()
	c.ctx = ctx

	return c
}

// Named returns a logger for category, nested under the current name with a dot.
//
//nolint:ireturn
func (l *ZapWithTraceLogger) Named(category string) log.Logger {
	c := l.clone()
	if c.Logger != nil {
		c.Logger = c.Logger.Named(category)
	}

	return c
}

// Sync implements Sync Logger interface function.
func (l *ZapWithTraceLogger) Sync() error {
	if l == nil || l.Logger == nil {
		return nil
	}

	return l.Logger.Sync()
}

func toProperties(fields []any) []enrichment.Property {
	props := make([]enrichment.Property, 0, len(fields)/2+1)

	for i := 0; i < len(fields); {
		switch f := fields[i].(type) {
		case zap.Field:
			props = append(props, enrichment.Property{Name: f.Key, Value: f})
			i++
		case string:
			if i+1 >= len(fields) {
				props = append(props, enrichment.Property{Name: "!BADKEY", Value: f})
				i++

				continue
			}

			props = append(props, enrichment.Property{Name: f, Value: fields[i+1]})
			i += 2
		default:
			props = append(props, enrichment.Property{Name: "!BADKEY", Value: f})
			i++
		}
	}

	return props
}

func toZapLevel(level log.Level) zapcore.Level {
	switch level {
	case log.DebugLevel:
		return zapcore.DebugLevel
	case log.WarnLevel:
		return zapcore.WarnLevel
	case log.ErrorLevel:
		return zapcore.ErrorLevel
	case log.FatalLevel:
		return zapcore.FatalLevel
	default:
		return zapcore.InfoLevel
	}
}

package internal

import (
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

type Importance string

const (
	Info    Importance = " "
	Warning Importance = "?"
	Error   Importance = "!"
	Raw     Importance = "-"
)

const logBufferSize = 100

// Logger writes feature events through zap and, when a database is set,
// stores them asynchronously
type Logger struct {
	zap       *zap.Logger
	database  LogWriter
	location  *time.Location
	debugMode bool
	writer    chan *FeatureLogMessage
	done      chan struct{}
	closed    bool
	mux       sync.RWMutex
}

// NewZapLogger builds a production zap logger with the given level, development
// encoding is used in debug mode
func NewZapLogger(level string, debug bool) (*zap.Logger, error) {
	lvl, err := zap.ParseAtomicLevel(level)
	if err != nil {
		return nil, err
	}
	zapConfig := zap.NewProductionConfig()
	if debug {
		zapConfig = zap.NewDevelopmentConfig()
	}
	zapConfig.Level = lvl
	return zapConfig.Build()
}

func NewLogger(zapLogger *zap.Logger, location *time.Location) *Logger {
	if location == nil {
		location = time.UTC
	}
	logger := &Logger{
		zap:      zapLogger,
		location: location,
		writer:   make(chan *FeatureLogMessage, logBufferSize),
		done:     make(chan struct{}),
	}
	go logger.startWriter()
	return logger
}

// Zap underlying structured logger, for components logging with fields
func (l *Logger) Zap() *zap.Logger {
	return l.zap
}

func (l *Logger) startWriter() {
	defer close(l.done)
	for message := range l.writer {
		if l.database == nil {
			continue
		}
		if err := l.database.WriteLogMessage(message); err != nil {
			l.zap.Error("write log to database failed", zap.Error(err))
		}
	}
}

// Close flushes pending records
func (l *Logger) Close() {
	l.mux.Lock()
	if l.closed {
		l.mux.Unlock()
		return
	}
	l.closed = true
	close(l.writer)
	l.mux.Unlock()
	<-l.done
	_ = l.zap.Sync()
}

func (l *Logger) SetDebugMode(debugMode bool) {
	l.debugMode = debugMode
}

func (l *Logger) SetDatabase(database LogWriter) {
	l.database = database
}

func logTime(t time.Time) string {
	return t.Format("2006-01-02 15:04:05")
}

func (l *Logger) FeatureEvent(feature, id, text string) {
	l.logEvent(Info, l.newFeatureLogMessage(feature, id, text))
}

func (l *Logger) Debug(text string) {
	l.logEvent(Info, l.newFeatureLogMessage("info", "", text))
}

func (l *Logger) Warn(text string) {
	l.logEvent(Warning, l.newFeatureLogMessage("warning", "", text))
}

func (l *Logger) Error(text string, err error) {
	l.logEvent(Error, l.newFeatureLogMessage("error", "", fmt.Sprintf("%s: %s", text, err)))
}

func (l *Logger) RawDataEvent(direction, data string) {
	if l.debugMode {
		l.zap.Debug("raw", zap.String("direction", direction), zap.String("data", data))
	}
}

func (l *Logger) logEvent(importance Importance, message *FeatureLogMessage) {
	if message.ChargePointId == "" {
		message.ChargePointId = "*"
	}
	message.Importance = string(importance)

	text := fmt.Sprintf("[%s] %s: %s", message.ChargePointId, message.Feature, message.Text)
	switch importance {
	case Error:
		l.zap.Error(text)
	case Warning:
		l.zap.Warn(text)
	default:
		l.zap.Info(text)
	}

	if l.database == nil {
		return
	}
	l.mux.RLock()
	defer l.mux.RUnlock()
	if l.closed {
		return
	}
	select {
	case l.writer <- message:
	default:
		l.zap.Warn("log buffer is full, message not stored", zap.String("feature", message.Feature))
	}
}

func (l *Logger) newFeatureLogMessage(feature, id, text string) *FeatureLogMessage {
	now := time.Now()
	return &FeatureLogMessage{
		Time:          logTime(now.In(l.location)),
		TimeStamp:     now.UTC(),
		Text:          text,
		Feature:       feature,
		ChargePointId: id,
	}
}

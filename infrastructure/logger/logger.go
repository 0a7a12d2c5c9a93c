package logger

import (
	"fmt"
	"time"
)

type logEntry struct {
	level Level
	log   []byte
}

// Logger writes tagged, leveled messages for one subsystem to a shared Backend.
type Logger struct {
	level        Level
	subsystemTag string
	backend      *Backend
	writeChan    chan logEntry
}

// SetLevel changes the logging level of the logger.
func (l *Logger) SetLevel(level Level) {
	l.level = level
}

// Level returns the current logging level of the logger.
func (l *Logger) Level() Level {
	return l.level
}

func (l *Logger) write(level Level, s string) {
	if level < l.level {
		return
	}
	line := fmt.Sprintf("%s [%s] %s: %s\n", time.Now().Format("2006-01-02 15:04:05.000"),
		level, l.subsystemTag, s)
	select {
	case l.writeChan <- logEntry{level: level, log: []byte(line)}:
	default:
		// Backend isn't running or its buffer is full; drop rather than block
		// the single-threaded processor.
	}
}

// Tracef formats and logs a message at trace level.
func (l *Logger) Tracef(format string, args ...interface{}) { l.write(LevelTrace, fmt.Sprintf(format, args...)) }

// Debugf formats and logs a message at debug level.
func (l *Logger) Debugf(format string, args ...interface{}) { l.write(LevelDebug, fmt.Sprintf(format, args...)) }

// Infof formats and logs a message at info level.
func (l *Logger) Infof(format string, args ...interface{}) { l.write(LevelInfo, fmt.Sprintf(format, args...)) }

// Warnf formats and logs a message at warn level.
func (l *Logger) Warnf(format string, args ...interface{}) { l.write(LevelWarn, fmt.Sprintf(format, args...)) }

// Errorf formats and logs a message at error level.
func (l *Logger) Errorf(format string, args ...interface{}) { l.write(LevelError, fmt.Sprintf(format, args...)) }

// Criticalf formats and logs a message at critical level. Used for the
// tier-1 "node data corrupted" condition.
func (l *Logger) Criticalf(format string, args ...interface{}) {
	l.write(LevelCritical, fmt.Sprintf(format, args...))
}

// LogAndMeasureExecutionTime logs the start of functionName at debug level and
// returns a func to be deferred that logs its end and elapsed time.
func LogAndMeasureExecutionTime(log *Logger, functionName string) (onEnd func()) {
	start := time.Now()
	log.Debugf("%s start", functionName)
	return func() {
		log.Debugf("%s end. Took: %s", functionName, time.Since(start))
	}
}

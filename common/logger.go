package common

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/sirupsen/logrus"
)

// LogLevel represents the severity level of a log message.
type LogLevel int

const (
	LevelDebug LogLevel = iota
	LevelInfo
	LevelWarn
	LevelError
)

var levelNames = map[LogLevel]string{
	LevelDebug: "DEBUG",
	LevelInfo:  "INFO",
	LevelWarn:  "WARN",
	LevelError: "ERROR",
}

func (l LogLevel) String() string {
	if name, ok := levelNames[l]; ok {
		return name
	}
	return "UNKNOWN"
}

// ParseLogLevel maps a config value ("debug", "info", "warn", "error")
// to a LogLevel. Unknown values fall back to LevelInfo.
func ParseLogLevel(s string) LogLevel {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "warning" {
		return LevelWarn
	}
	for level, name := range levelNames {
		if strings.ToLower(name) == s {
			return level
		}
	}
	return LevelInfo
}

func (l LogLevel) logrus() logrus.Level {
	switch l {
	case LevelDebug:
		return logrus.DebugLevel
	case LevelWarn:
		return logrus.WarnLevel
	case LevelError:
		return logrus.ErrorLevel
	default:
		return logrus.InfoLevel
	}
}

func levelFromLogrus(l logrus.Level) LogLevel {
	switch {
	case l >= logrus.DebugLevel:
		return LevelDebug
	case l == logrus.InfoLevel:
		return LevelInfo
	case l == logrus.WarnLevel:
		return LevelWarn
	default:
		return LevelError
	}
}

// lineFormatter renders "2006/01/02 15:04:05 [LEVEL] file.go:42: message"
// followed by any extra fields as sorted key=value pairs.
type lineFormatter struct{}

func (lineFormatter) Format(entry *logrus.Entry) ([]byte, error) {
	caller, _ := entry.Data["caller"].(string)
	if caller == "" {
		caller = "???"
	}

	var b bytes.Buffer
	b.WriteString(entry.Time.Format("2006/01/02 15:04:05"))
	fmt.Fprintf(&b, " [%s] %s: %s", levelFromLogrus(entry.Level), caller, entry.Message)

	keys := make([]string, 0, len(entry.Data))
	for k := range entry.Data {
		if k != "caller" {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(&b, " %s=%v", k, entry.Data[k])
	}
	b.WriteByte('\n')
	return b.Bytes(), nil
}

func newLogrus(w io.Writer, level LogLevel) *logrus.Logger {
	l := logrus.New()
	l.SetOutput(w)
	l.SetFormatter(lineFormatter{})
	l.SetLevel(level.logrus())
	return l
}

// AppLogger is the process-wide logger. It writes to stderr and, once file
// logging is enabled, to a size-rotated file in the log directory.
type AppLogger struct {
	mu      sync.Mutex
	level   atomic.Int32
	logger  *logrus.Logger
	logFile *os.File
	rot     *rotator
}

// LogConfig holds configuration options for the logger.
type LogConfig struct {
	Level       LogLevel
	EnableFile  bool
	MaxFileSize int64 // bytes; 5MB when zero
	MaxBackups  int   // rotated files kept; 5 when zero
}

var (
	defaultLogger *AppLogger
	loggerOnce    sync.Once
)

// GetLogger returns the singleton logger instance.
func GetLogger() *AppLogger {
	loggerOnce.Do(func() {
		defaultLogger = &AppLogger{
			logger: newLogrus(os.Stderr, LevelInfo),
			rot:    &rotator{maxSize: defaultMaxFileSize, maxBackups: defaultMaxBackups},
		}
		defaultLogger.level.Store(int32(LevelInfo))
	})
	return defaultLogger
}

// InitLogger configures the default logger. Call it once at startup.
func InitLogger(config LogConfig) error {
	logger := GetLogger()
	logger.SetLevel(config.Level)

	if config.MaxFileSize > 0 {
		logger.rot.maxSize = config.MaxFileSize
	}
	if config.MaxBackups > 0 {
		logger.rot.maxBackups = config.MaxBackups
	}

	if config.EnableFile {
		return logger.EnableFileLogging()
	}
	return nil
}

// SetLevel sets the minimum log level.
func (l *AppLogger) SetLevel(level LogLevel) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.level.Store(int32(level))
	if l.logger != nil {
		l.logger.SetLevel(level.logrus())
	}
}

// EnableFileLogging tees log output into the log file, rotating it first
// when it is already over the size limit.
func (l *AppLogger) EnableFileLogging() error {
	logDir := GetLogDir()
	if logDir == "" {
		return fmt.Errorf("cannot resolve log directory")
	}
	if isSymlink(logDir) {
		return fmt.Errorf("security error: log directory is a symlink")
	}
	if err := EnsurePrivateDir(logDir); err != nil {
		return err
	}

	logPath := filepath.Join(logDir, LogFileName)
	if isSymlink(logPath) {
		return fmt.Errorf("security error: log file is a symlink")
	}
	return l.openFile(logPath)
}

func (l *AppLogger) openFile(logPath string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.logFile != nil {
		l.logFile.Close()
		l.logFile = nil
	}
	l.rot.path = logPath
	if l.rot.due() {
		l.rot.rotate()
	}

	file, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0600)
	if err != nil {
		return err
	}
	if err := ChownToInvoker(logPath); err != nil {
		file.Close()
		return err
	}
	l.logFile = file
	l.logger = newLogrus(io.MultiWriter(os.Stderr, file), l.Level())
	return nil
}

// CheckRotation rotates the log file when it has grown past the limit.
// The refresh loop calls it once per cycle.
func (l *AppLogger) CheckRotation() {
	l.mu.Lock()
	path := l.rot.path
	due := path != "" && l.rot.due()
	l.mu.Unlock()

	if due {
		if err := l.openFile(path); err != nil {
			l.Warn("Log rotation failed: %v", err)
		}
	}
}

// GetLogDir returns the log directory path.
func GetLogDir() string {
	homeDir, err := HomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(homeDir, ".config", ConfigDirName, "logs")
}

// Level returns the minimum level that is written.
func (l *AppLogger) Level() LogLevel {
	return LogLevel(l.level.Load())
}

func (l *AppLogger) log(level LogLevel, msg string, args ...interface{}) {
	if level < l.Level() {
		return
	}

	caller := "???"
	if _, file, line, ok := runtime.Caller(2); ok {
		caller = fmt.Sprintf("%s:%d", filepath.Base(file), line)
	}
	if len(args) > 0 {
		msg = fmt.Sprintf(msg, args...)
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	entry := l.logger.WithField("caller", caller)
	entry.Log(level.logrus(), msg)
}

// Debug logs a debug message.
func (l *AppLogger) Debug(msg string, args ...interface{}) { l.log(LevelDebug, msg, args...) }

// Info logs an informational message.
func (l *AppLogger) Info(msg string, args ...interface{}) { l.log(LevelInfo, msg, args...) }

// Warn logs a warning message.
func (l *AppLogger) Warn(msg string, args ...interface{}) { l.log(LevelWarn, msg, args...) }

// Error logs an error message.
func (l *AppLogger) Error(msg string, args ...interface{}) { l.log(LevelError, msg, args...) }

// LogInfo logs to the default logger.
func LogInfo(msg string, args ...interface{}) { GetLogger().log(LevelInfo, msg, args...) }

// LogWarn logs to the default logger.
func LogWarn(msg string, args ...interface{}) { GetLogger().log(LevelWarn, msg, args...) }

// Close closes the log file.
func (l *AppLogger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.logFile == nil {
		return nil
	}
	err := l.logFile.Close()
	l.logFile = nil
	return err
}

// CloseLogger closes the default logger.
func CloseLogger() error {
	return GetLogger().Close()
}

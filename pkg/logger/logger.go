package logger

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

type LogLevel int

const (
	DEBUG LogLevel = iota
	INFO
	WARN
	ERROR
	FATAL
)

var levelNames = map[LogLevel]string{
	DEBUG: "DEBUG",
	INFO:  "INFO",
	WARN:  "WARN",
	ERROR: "ERROR",
	FATAL: "FATAL",
}

var (
	mu           sync.Mutex
	currentLevel = INFO
	sink         *fileSink
)

// fileSink appends JSON-lines entries to a file, rotating by size.
type fileSink struct {
	file         *os.File
	path         string
	maxSizeBytes int64
	size         int64
}

type LogEntry struct {
	Level     string                 `json:"level"`
	Timestamp string                 `json:"timestamp"`
	Component string                 `json:"component,omitempty"`
	Message   string                 `json:"message"`
	Fields    map[string]interface{} `json:"fields,omitempty"`
}

func SetLevel(level LogLevel) {
	mu.Lock()
	defer mu.Unlock()
	currentLevel = level
}

func ParseLevel(s string) LogLevel {
	switch strings.ToLower(s) {
	case "debug":
		return DEBUG
	case "warn":
		return WARN
	case "error":
		return ERROR
	default:
		return INFO
	}
}

// EnableFileLogging adds a JSON-lines sink alongside stderr output.
// maxSizeMB of 0 disables rotation.
func EnableFileLogging(path string, maxSizeMB int) error {
	mu.Lock()
	defer mu.Unlock()

	if strings.HasPrefix(path, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			path = filepath.Join(home, path[2:])
		}
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("create log directory: %w", err)
	}
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return fmt.Errorf("open log file: %w", err)
	}
	var size int64
	if stat, statErr := file.Stat(); statErr == nil {
		size = stat.Size()
	}
	if sink != nil && sink.file != nil {
		sink.file.Close()
	}
	sink = &fileSink{
		file:         file,
		path:         path,
		maxSizeBytes: int64(maxSizeMB) * 1024 * 1024,
		size:         size,
	}
	return nil
}

func DisableFileLogging() {
	mu.Lock()
	defer mu.Unlock()
	if sink != nil && sink.file != nil {
		sink.file.Close()
		sink = nil
	}
}

func (s *fileSink) write(entry LogEntry) {
	if s.maxSizeBytes > 0 && s.size >= s.maxSizeBytes {
		if err := s.rotate(); err != nil {
			log.Printf("log rotation failed: %v", err)
		}
	}
	data, err := json.Marshal(entry)
	if err != nil {
		return
	}
	if n, err := s.file.WriteString(string(data) + "\n"); err == nil {
		s.size += int64(n)
	}
}

func (s *fileSink) rotate() error {
	s.file.Close()
	rotated := fmt.Sprintf("%s.%s", s.path, time.Now().Format("20060102-150405"))
	if err := os.Rename(s.path, rotated); err != nil {
		if file, openErr := os.OpenFile(s.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644); openErr == nil {
			s.file = file
		}
		return err
	}
	file, err := os.OpenFile(s.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return err
	}
	s.file = file
	s.size = 0
	return nil
}

func logMessage(level LogLevel, component, message string, fields map[string]interface{}) {
	mu.Lock()
	defer mu.Unlock()

	if level < currentLevel {
		return
	}

	entry := LogEntry{
		Level:     levelNames[level],
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Component: component,
		Message:   message,
		Fields:    fields,
	}
	if sink != nil {
		sink.write(entry)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "[%s] [%s]", entry.Timestamp, entry.Level)
	if component != "" {
		fmt.Fprintf(&b, " %s:", component)
	}
	b.WriteString(" " + message)
	if len(fields) > 0 {
		parts := make([]string, 0, len(fields))
		for k, v := range fields {
			parts = append(parts, fmt.Sprintf("%s=%v", k, v))
		}
		fmt.Fprintf(&b, " {%s}", strings.Join(parts, ", "))
	}
	log.Println(b.String())

	if level == FATAL {
		os.Exit(1)
	}
}

func Debug(message string)             { logMessage(DEBUG, "", message, nil) }
func DebugC(component, message string) { logMessage(DEBUG, component, message, nil) }
func Info(message string)              { logMessage(INFO, "", message, nil) }
func InfoC(component, message string)  { logMessage(INFO, component, message, nil) }
func Warn(message string)              { logMessage(WARN, "", message, nil) }
func WarnC(component, message string)  { logMessage(WARN, component, message, nil) }
func Error(message string)             { logMessage(ERROR, "", message, nil) }
func ErrorC(component, message string) { logMessage(ERROR, component, message, nil) }
func Fatal(message string)             { logMessage(FATAL, "", message, nil) }

func DebugCF(component, message string, fields map[string]interface{}) {
	logMessage(DEBUG, component, message, fields)
}

func InfoCF(component, message string, fields map[string]interface{}) {
	logMessage(INFO, component, message, fields)
}

func WarnCF(component, message string, fields map[string]interface{}) {
	logMessage(WARN, component, message, fields)
}

func ErrorCF(component, message string, fields map[string]interface{}) {
	logMessage(ERROR, component, message, fields)
}

func FatalCF(component, message string, fields map[string]interface{}) {
	logMessage(FATAL, component, message, fields)
}

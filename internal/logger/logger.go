package logger

import (
	"fmt"
	"io"
	stdlog "log"
	"os"
	"strings"
	"sync"
	"time"

	jsoniter "github.com/json-iterator/go"
)

type Level int

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
)

type Format int

const (
	FormatText Format = iota
	FormatJSON
)

var (
	mu           sync.RWMutex
	currentLevel = LevelInfo
	format       = FormatText
	logger       = stdlog.New(os.Stdout, "", 0)
	output       io.Closer
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

func (l Level) String() string {
	switch l {
	case LevelDebug:
		return "DEBUG"
	case LevelInfo:
		return "INFO"
	case LevelWarn:
		return "WARN"
	case LevelError:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

func SetLevel(level string) {
	mu.Lock()
	defer mu.Unlock()

	switch strings.ToUpper(level) {
	case "DEBUG":
		currentLevel = LevelDebug
	case "INFO":
		currentLevel = LevelInfo
	case "WARN":
		currentLevel = LevelWarn
	case "ERROR":
		currentLevel = LevelError
	}
}

func SetFormat(f string) {
	mu.Lock()
	defer mu.Unlock()

	if strings.EqualFold(f, "json") {
		format = FormatJSON
		return
	}
	format = FormatText
}

// SetWriter redirects log output. Passing nil restores stdout.
func SetWriter(w io.Writer) {
	mu.Lock()
	defer mu.Unlock()

	if w == nil {
		w = os.Stdout
	}
	logger = stdlog.New(w, "", 0)
}

// Configure applies level, format and output in one call.
//
// Output accepts "stdout", "stderr" or a file path. A file is opened in
// append mode and stays open until the next Configure call or Close.
func Configure(level, f, out string) error {
	var w io.Writer
	var closer io.Closer

	switch strings.ToLower(out) {
	case "", "stdout":
		w = os.Stdout
	case "stderr":
		w = os.Stderr
	default:
		file, err := os.OpenFile(out, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			return fmt.Errorf("open log output %s: %w", out, err)
		}
		w = file
		closer = file
	}

	SetLevel(level)
	SetFormat(f)
	SetWriter(w)

	mu.Lock()
	previous := output
	output = closer
	mu.Unlock()

	if previous != nil {
		_ = previous.Close()
	}
	return nil
}

// Close releases a file output opened by Configure.
func Close() error {
	mu.Lock()
	defer mu.Unlock()

	if output == nil {
		return nil
	}
	err := output.Close()
	output = nil
	logger = stdlog.New(os.Stdout, "", 0)
	return err
}

func IsDebugEnabled() bool {
	mu.RLock()
	defer mu.RUnlock()
	return currentLevel <= LevelDebug
}

func log(level Level, msgFormat string, v ...any) {
	mu.RLock()
	defer mu.RUnlock()

	if level < currentLevel {
		return
	}

	now := time.Now()
	message := fmt.Sprintf(msgFormat, v...)

	if format == FormatJSON {
		line, err := json.Marshal(struct {
			Time  string `json:"time"`
			Level string `json:"level"`
			Msg   string `json:"msg"`
		}{now.Format(time.RFC3339), level.String(), message})
		if err == nil {
			logger.Println(string(line))
			return
		}
	}

	prefix := fmt.Sprintf("[%s] [%s] ", now.Format("2006-01-02 15:04:05"), level.String())
	logger.Println(prefix + message)
}

func Debug(format string, v ...any) {
	log(LevelDebug, format, v...)
}

func Info(format string, v ...any) {
	log(LevelInfo, format, v...)
}

func Warn(format string, v ...any) {
	log(LevelWarn, format, v...)
}

func Error(format string, v ...any) {
	log(LevelError, format, v...)
}

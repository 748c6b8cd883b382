package log

import (
	"fmt"
	stdlog "log"
	"os"
	"strings"
	"sync"
	"time"
)

type Level string

const (
	LevelDebug Level = "DEBUG"
	LevelInfo  Level = "INFO"
	LevelError Level = "ERROR"
)

var (
	mu       sync.Mutex
	logger   *stdlog.Logger
	minLevel = LevelInfo
)

func init() {
	logger = stdlog.New(os.Stderr, "", 0)
}

// SetLevel sets the global minimum level. Unknown names are ignored.
func SetLevel(l Level) {
	mu.Lock()
	defer mu.Unlock()
	switch l {
	case LevelDebug, LevelInfo, LevelError:
		minLevel = l
	}
}

// ParseLevel maps a config string ("debug", "info", "error") to a Level.
// Anything unrecognized comes back as INFO.
func ParseLevel(s string) Level {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "DEBUG":
		return LevelDebug
	case "ERROR":
		return LevelError
	default:
		return LevelInfo
	}
}

func Debug(msg string, kv ...any) {
	emit(LevelDebug, msg, kv...)
}

func Info(msg string, kv ...any) {
	emit(LevelInfo, msg, kv...)
}

// Error logs msg with err prepended to the key-value pairs as "err".
func Error(msg string, err error, kv ...any) {
	extended := append([]any{"err", err}, kv...)
	emit(LevelError, msg, extended...)
}

func emit(level Level, msg string, kv ...any) {
	mu.Lock()
	min := minLevel
	mu.Unlock()
	if !enabled(min, level) {
		return
	}

	var b strings.Builder
	b.WriteString(time.Now().Format(time.RFC3339Nano))
	b.WriteString(" [")
	b.WriteString(string(level))
	b.WriteString("] ")
	b.WriteString(msg)

	// kv comes in pairs: key, value, key, value. A trailing odd value is
	// dropped rather than guessed at.
	for i := 0; i+1 < len(kv); i += 2 {
		key, ok := kv[i].(string)
		if !ok {
			continue
		}
		b.WriteString(" ")
		b.WriteString(key)
		b.WriteString("=")
		b.WriteString(fmt.Sprint(kv[i+1]))
	}

	logger.Println(b.String())
}

func enabled(min, level Level) bool {
	switch min {
	case LevelDebug:
		return true
	case LevelInfo:
		return level != LevelDebug
	case LevelError:
		return level == LevelError
	default:
		return true
	}
}

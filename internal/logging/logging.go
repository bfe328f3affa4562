// Package logging is golisten's process-wide logger. Dot-import it and
// call L_info, L_warn and friends.
//
// Each call takes a message followed by either printf arguments (when the
// message has a verb) or key/value pairs:
//
//	L_info("worker ready")
//	L_debug("took %s", d)
//	L_warn("paste failed", "helper", "xdotool", "error", err)
package logging

import (
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/log"
)

// Levels, least verbose first.
const (
	LevelFatal = iota
	LevelError
	LevelWarn
	LevelInfo
	LevelDebug
	LevelTrace
)

var levelNames = map[string]int{
	"fatal": LevelFatal,
	"error": LevelError,
	"warn":  LevelWarn,
	"info":  LevelInfo,
	"debug": LevelDebug,
	"trace": LevelTrace,
}

// Options selects level and outputs.
type Options struct {
	Level      int
	TimeFormat string
	ShowCaller bool

	// File gets a logfmt copy of every line. A hotkey daemon usually runs
	// golisten with no terminal, so this is where its output survives.
	File string
}

// DefaultOptions logs warnings and worse to stderr.
func DefaultOptions() *Options {
	return &Options{Level: LevelWarn, TimeFormat: "15:04:05.000"}
}

// ParseLevel maps a config level name to a Level constant. Unknown names
// are LevelWarn.
func ParseLevel(name string) int {
	if l, ok := levelNames[strings.ToLower(strings.TrimSpace(name))]; ok {
		return l
	}
	return LevelWarn
}

type sink struct {
	console *log.Logger
	file    *log.Logger
	f       *os.File
	level   int
}

var (
	mu  sync.Mutex
	out *sink
)

// Init replaces the active logger. The config file is read before logging
// is set up, so the first Init usually supersedes an implicit default one.
func Init(opts *Options) {
	if opts == nil {
		opts = DefaultOptions()
	}
	prefix := fmt.Sprintf("golisten[%d]", os.Getpid())

	s := &sink{level: opts.Level}
	s.console = log.NewWithOptions(os.Stderr, log.Options{
		ReportTimestamp: true,
		TimeFormat:      opts.TimeFormat,
		ReportCaller:    opts.ShowCaller,
		CallerOffset:    2, // emit and L_*
		Prefix:          prefix,
	})
	if opts.File != "" {
		f, err := os.OpenFile(opts.File, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0600)
		if err != nil {
			fmt.Fprintf(os.Stderr, "logging: cannot open %s: %v\n", opts.File, err)
		} else {
			s.f = f
			s.file = log.NewWithOptions(f, log.Options{
				ReportTimestamp: true,
				TimeFormat:      time.RFC3339,
				Formatter:       log.LogfmtFormatter,
				Prefix:          prefix,
			})
		}
	}
	s.apply()

	mu.Lock()
	old := out
	out = s
	mu.Unlock()
	old.close()
}

// Close flushes and closes the log file, if any. Later calls log to
// stderr only.
func Close() {
	mu.Lock()
	s := out
	mu.Unlock()
	if s != nil && s.f != nil {
		s.close()
		s.file, s.f = nil, nil
	}
}

// SetLevel changes the level of the active logger.
func SetLevel(level int) {
	s := current()
	mu.Lock()
	s.level = level
	s.apply()
	mu.Unlock()
}

func (s *sink) apply() {
	var l log.Level
	switch {
	case s.level >= LevelDebug:
		l = log.DebugLevel
	case s.level == LevelInfo:
		l = log.InfoLevel
	case s.level == LevelWarn:
		l = log.WarnLevel
	default:
		l = log.ErrorLevel
	}
	s.console.SetLevel(l)
	if s.file != nil {
		s.file.SetLevel(l)
	}
}

func (s *sink) close() {
	if s == nil || s.f == nil {
		return
	}
	_ = s.f.Sync()
	_ = s.f.Close()
}

func current() *sink {
	mu.Lock()
	s := out
	mu.Unlock()
	if s == nil {
		Init(nil)
		mu.Lock()
		s = out
		mu.Unlock()
	}
	return s
}

// hasVerb reports whether msg is a printf format.
func hasVerb(msg string) bool {
	for i := 0; i+1 < len(msg); i++ {
		if msg[i] != '%' {
			continue
		}
		if msg[i+1] == '%' {
			i++
			continue
		}
		if strings.IndexByte("vsdtfgeopqxXbcUT+#", msg[i+1]) >= 0 {
			return true
		}
	}
	return false
}

func emit(level log.Level, msg string, args ...interface{}) {
	s := current()

	var keyvals []interface{}
	switch {
	case len(args) == 0:
	case hasVerb(msg):
		msg = fmt.Sprintf(msg, args...)
	default:
		keyvals = args
	}

	if s.file != nil {
		s.file.Log(level, msg, keyvals...)
	}
	if level == log.FatalLevel {
		s.close()
		s.console.Fatal(msg, keyvals...)
		return
	}
	s.console.Log(level, msg, keyvals...)
}

// L_trace logs at debug level, and only when trace is enabled.
func L_trace(msg string, args ...interface{}) {
	if current().level < LevelTrace {
		return
	}
	emit(log.DebugLevel, msg, args...)
}

func L_debug(msg string, args ...interface{}) { emit(log.DebugLevel, msg, args...) }
func L_info(msg string, args ...interface{})  { emit(log.InfoLevel, msg, args...) }
func L_warn(msg string, args ...interface{})  { emit(log.WarnLevel, msg, args...) }
func L_error(msg string, args ...interface{}) { emit(log.ErrorLevel, msg, args...) }

// L_fatal logs and exits with status 1.
func L_fatal(msg string, args ...interface{}) { emit(log.FatalLevel, msg, args...) }

// L_elapsed logs msg at info with the time since start appended.
func L_elapsed(start time.Time, msg string, args ...interface{}) {
	emit(log.InfoLevel, msg, append(args, "elapsed", time.Since(start).Round(time.Millisecond).String())...)
}

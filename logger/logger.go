// Package logger implements the structured append-only logger: one
// line per record, pipe-delimited,
// `<timestamp>|<type>|<username>|<k=v>|...` with keys sorted
// alphabetically excluding username (always third). Built on
// github.com/sirupsen/logrus with a custom Formatter for this
// record shape.
package logger

import (
	"fmt"
	"io"
	"log/syslog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// Destination selects where records are written, chosen once at
// startup.
type Destination struct {
	UseSyslog bool
	LogPath   string // relative paths are rooted at LogHome
	LogHome   string
}

// recordFormatter renders a logrus.Entry as one pipe-delimited line.
type recordFormatter struct{}

func (recordFormatter) Format(e *logrus.Entry) ([]byte, error) {
	typ, _ := e.Data["type"].(string)
	username, _ := e.Data["username"].(string)

	keys := make([]string, 0, len(e.Data))
	for k := range e.Data {
		if k == "type" || k == "username" {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := []string{e.Time.UTC().Format("2006-01-02T15:04:05.000Z07:00"), typ, username}
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%v", k, e.Data[k]))
	}
	var b strings.Builder
	b.WriteString(strings.Join(parts, "|"))
	b.WriteByte('\n')
	return []byte(b.String()), nil
}

// Logger wraps logrus with hcron's record format and destination rules.
type Logger struct {
	l *logrus.Logger
}

// New resolves dest to an io.Writer (syslog, file, or stdout, in that
// priority order) and returns a ready-to-use Logger.
func New(dest Destination) (*Logger, error) {
	out, err := resolveOutput(dest)
	if err != nil {
		return nil, err
	}
	l := logrus.New()
	l.SetFormatter(recordFormatter{})
	l.SetOutput(out)
	l.SetLevel(logrus.InfoLevel)
	return &Logger{l: l}, nil
}

func resolveOutput(dest Destination) (io.Writer, error) {
	if dest.UseSyslog {
		w, err := syslog.New(syslog.LOG_INFO|syslog.LOG_DAEMON, "evcron")
		if err != nil {
			return nil, errors.Wrap(err, "connect to syslog")
		}
		return w, nil
	}
	if dest.LogPath != "" {
		path := dest.LogPath
		if !filepath.IsAbs(path) && dest.LogHome != "" {
			path = filepath.Join(dest.LogHome, path)
		}
		f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
		if err != nil {
			return nil, errors.Wrapf(err, "open log file %q", path)
		}
		return f, nil
	}
	return os.Stdout, nil
}

// Fields is a record's k=v payload.
type Fields map[string]any

// Record emits one log line of the given type, optionally scoped to a
// username (third field; empty string for scheduler-global records).
func (lg *Logger) Record(recordType, username string, fields Fields) {
	data := logrus.Fields{"type": recordType, "username": username}
	for k, v := range fields {
		data[k] = v
	}
	lg.l.WithFields(data).Info()
}

// The following are typed convenience wrappers for record types
// emitted from more than one call site; less common ones go through
// Record directly.

func (lg *Logger) Start(pid int)                   { lg.Record("start", "", Fields{"pid": pid}) }
func (lg *Logger) Exit(reason string)              { lg.Record("exit", "", Fields{"reason": reason}) }
func (lg *Logger) StartLogging(dest string)        { lg.Record("start-logging", "", Fields{"dest": dest}) }
func (lg *Logger) LoadConfig()                      { lg.Record("load-config", "", nil) }
func (lg *Logger) LoadAllow(users int)              { lg.Record("load-allow", "", Fields{"users": users}) }
func (lg *Logger) LoadEvents(username string, n int) {
	lg.Record("load-events", username, Fields{"count": n})
}
func (lg *Logger) DiscardEvents(username string, n int) {
	lg.Record("discard-events", username, Fields{"count": n})
}
func (lg *Logger) Sleep(seconds float64) { lg.Record("sleep", "", Fields{"seconds": seconds}) }

func (lg *Logger) Trigger(name string) { lg.Record("trigger", "", Fields{"name": name}) }

func (lg *Logger) Queue(username, jobid, jobgid, eventname, trigger string) {
	lg.Record("queue", username, Fields{
		"jobid": jobid, "jobgid": jobgid, "eventname": eventname, "trigger": trigger,
	})
}

func (lg *Logger) Activate(username, jobid, eventname string) {
	lg.Record("activate", username, Fields{"jobid": jobid, "eventname": eventname})
}

func (lg *Logger) Execute(username, jobid string, rv int) {
	lg.Record("execute", username, Fields{"jobid": jobid, "rv": rv})
}

func (lg *Logger) Done(username, jobid, nextevents, kind string) {
	lg.Record("done", username, Fields{"jobid": jobid, "nextevents": nextevents, "kind": kind})
}

func (lg *Logger) Expire(username, jobid string, elapsedSeconds float64) {
	lg.Record("expire", username, Fields{"jobid": jobid, "elapsed": elapsedSeconds})
}

func (lg *Logger) Alarm(username, jobid, message string) {
	lg.Record("alarm", username, Fields{"jobid": jobid, "message": message})
}

func (lg *Logger) NotifyEmail(username, to string, ok bool) {
	lg.Record("notify-email", username, Fields{"to": to, "ok": ok})
}

func (lg *Logger) Work(activeWorkers, queueLen int) {
	lg.Record("work", "", Fields{"active": activeWorkers, "queued": queueLen})
}

func (lg *Logger) Status(message string) { lg.Record("status", "", Fields{"message": message}) }

func (lg *Logger) Message(username, message string) {
	lg.Record("message", username, Fields{"message": message})
}

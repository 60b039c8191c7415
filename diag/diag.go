// Package diag is the severity-leveled diagnostic channel shared by the
// transformers. Every diagnostic is kept for the engine report and
// forwarded to a commonlog logger.
package diag

import (
	"errors"
	"fmt"

	"github.com/tliron/commonlog"
)

// Severity orders diagnostics from informational to load-breaking.
type Severity int

const (
	Debug Severity = iota
	Info
	Warning
	Error
	Critical
)

var severityNames = [...]string{"debug", "info", "warning", "error", "critical"}

func (s Severity) String() string {
	if s < Debug || s > Critical {
		return fmt.Sprintf("severity(%d)", int(s))
	}
	return severityNames[s]
}

// Level maps the severity onto a commonlog level.
func (s Severity) Level() commonlog.Level {
	switch s {
	case Critical:
		return commonlog.Critical
	case Error:
		return commonlog.Error
	case Warning:
		return commonlog.Warning
	case Info:
		return commonlog.Info
	}
	return commonlog.Debug
}

// ---------------------------------------------------------------------------
// Fatal errors
// ---------------------------------------------------------------------------

// FatalError aborts loading. Subject names the offending symbol or event.
type FatalError struct {
	Subject string
	Err     error
}

func (e *FatalError) Error() string {
	return fmt.Sprintf("fatal: %s: %v", e.Subject, e.Err)
}

func (e *FatalError) Unwrap() error { return e.Err }

// Fatal wraps err as a load-aborting error about subject. Already fatal
// errors are returned unchanged.
func Fatal(subject string, err error) error {
	if err == nil {
		return nil
	}
	var fe *FatalError
	if errors.As(err, &fe) {
		return err
	}
	return &FatalError{Subject: subject, Err: err}
}

// IsFatal reports whether err, or anything it wraps, is a FatalError.
func IsFatal(err error) bool {
	var fe *FatalError
	return errors.As(err, &fe)
}

// ---------------------------------------------------------------------------
// Sink
// ---------------------------------------------------------------------------

// Diagnostic is one reported condition.
type Diagnostic struct {
	Severity Severity
	Subject  string // symbol, event or class the diagnostic is about
	Message  string
}

func (d Diagnostic) String() string {
	if d.Subject == "" {
		return fmt.Sprintf("[%s] %s", d.Severity, d.Message)
	}
	return fmt.Sprintf("[%s] %s: %s", d.Severity, d.Subject, d.Message)
}

// Sink collects diagnostics. It is used from the single loading goroutine
// and is not safe for concurrent use.
type Sink struct {
	log       commonlog.Logger
	entries   []Diagnostic
	counts    [Critical + 1]int
	observers []func(Diagnostic)
}

// NewSink creates a sink logging to "modhook.<name>".
func NewSink(name string) *Sink {
	return &Sink{log: commonlog.GetLogger("modhook." + name)}
}

// Observe registers fn to be called for every later diagnostic.
func (s *Sink) Observe(fn func(Diagnostic)) {
	s.observers = append(s.observers, fn)
}

// Report records a diagnostic.
func (s *Sink) Report(sev Severity, subject, format string, args ...any) {
	d := Diagnostic{Severity: sev, Subject: subject, Message: fmt.Sprintf(format, args...)}
	s.entries = append(s.entries, d)
	if sev >= Debug && sev <= Critical {
		s.counts[sev]++
	}
	if s.log != nil {
		if subject != "" {
			s.log.Log(sev.Level(), 1, d.Message, "subject", subject)
		} else {
			s.log.Log(sev.Level(), 1, d.Message)
		}
	}
	for _, fn := range s.observers {
		fn(d)
	}
}

// Debugf reports a Debug diagnostic.
func (s *Sink) Debugf(subject, format string, args ...any) {
	s.Report(Debug, subject, format, args...)
}

// Infof reports an Info diagnostic.
func (s *Sink) Infof(subject, format string, args ...any) {
	s.Report(Info, subject, format, args...)
}

// Warningf reports a Warning diagnostic.
func (s *Sink) Warningf(subject, format string, args ...any) {
	s.Report(Warning, subject, format, args...)
}

// Errorf reports an Error diagnostic.
func (s *Sink) Errorf(subject, format string, args ...any) {
	s.Report(Error, subject, format, args...)
}

// Criticalf reports a Critical diagnostic.
func (s *Sink) Criticalf(subject, format string, args ...any) {
	s.Report(Critical, subject, format, args...)
}

// Fatal reports err as Critical and returns it wrapped as a FatalError.
func (s *Sink) Fatal(subject string, err error) error {
	s.Report(Critical, subject, "%v", err)
	return Fatal(subject, err)
}

// Entries returns every diagnostic reported so far.
func (s *Sink) Entries() []Diagnostic {
	return s.entries
}

// Count returns how many diagnostics of a severity were reported.
func (s *Sink) Count(sev Severity) int {
	if sev < Debug || sev > Critical {
		return 0
	}
	return s.counts[sev]
}

// Reset drops collected diagnostics but keeps observers.
func (s *Sink) Reset() {
	s.entries = nil
	s.counts = [Critical + 1]int{}
}

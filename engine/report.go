package engine

import (
	"fmt"
	"io"
	"time"

	"github.com/fxamacker/cbor/v2"
)

// ---------------------------------------------------------------------------
// Transform report
// ---------------------------------------------------------------------------

// ClassReport records what happened to one targeted class.
type ClassReport struct {
	Name      string `cbor:"1,keyasint"`
	Result    string `cbor:"2,keyasint"`
	Callouts  int    `cbor:"3,keyasint,omitempty"`
	Accessors bool   `cbor:"4,keyasint,omitempty"`
	Error     string `cbor:"5,keyasint,omitempty"`
}

// EventReport summarizes one event.
type EventReport struct {
	Name        string `cbor:"1,keyasint"`
	State       string `cbor:"2,keyasint"`
	PacketIndex int    `cbor:"3,keyasint"`
	Cancellable bool   `cbor:"4,keyasint,omitempty"`
	Callbacks   int    `cbor:"5,keyasint"`
	Late        int    `cbor:"6,keyasint,omitempty"`
}

// HookReport summarizes one hook.
type HookReport struct {
	Hook    string `cbor:"1,keyasint"`
	Sites   int    `cbor:"2,keyasint"`
	Skipped string `cbor:"3,keyasint,omitempty"`
}

// DiagnosticReport is one collected diagnostic.
type DiagnosticReport struct {
	Severity string `cbor:"1,keyasint"`
	Subject  string `cbor:"2,keyasint,omitempty"`
	Message  string `cbor:"3,keyasint"`
}

// Report is the outcome of a session.
type Report struct {
	Session     string             `cbor:"1,keyasint"`
	Project     string             `cbor:"2,keyasint,omitempty"`
	Profile     string             `cbor:"3,keyasint"`
	CreatedAt   time.Time          `cbor:"4,keyasint"`
	Sealed      bool               `cbor:"5,keyasint"`
	Classes     []ClassReport      `cbor:"6,keyasint"`
	Events      []EventReport      `cbor:"7,keyasint"`
	Hooks       []HookReport       `cbor:"8,keyasint"`
	Diagnostics []DiagnosticReport `cbor:"9,keyasint"`
}

var reportEncMode cbor.EncMode

func init() {
	em, err := cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		panic(fmt.Sprintf("engine: failed to create CBOR enc mode: %v", err))
	}
	reportEncMode = em
}

// Report builds the report of everything done so far.
func (e *Engine) Report() *Report {
	r := &Report{
		Session:   e.id.String(),
		Project:   e.project,
		Profile:   e.profile.String(),
		CreatedAt: time.Now().UTC().Truncate(time.Second),
		Sealed:    e.sealed,
		Classes:   append([]ClassReport(nil), e.classes...),
	}
	for _, ev := range e.registry.Events() {
		r.Events = append(r.Events, EventReport{
			Name:        ev.Name,
			State:       ev.State().String(),
			PacketIndex: ev.PacketIndex,
			Cancellable: ev.Cancellable,
			Callbacks:   len(ev.Callbacks()),
			Late:        len(ev.Late()),
		})
	}
	for _, h := range e.injector.Hooks() {
		r.Hooks = append(r.Hooks, HookReport{Hook: h.String(), Sites: h.Sites(), Skipped: h.Skipped()})
	}
	for _, d := range e.sink.Entries() {
		r.Diagnostics = append(r.Diagnostics, DiagnosticReport{
			Severity: d.Severity.String(),
			Subject:  d.Subject,
			Message:  d.Message,
		})
	}
	return r
}

// MarshalCBOR encodes the report in canonical CBOR.
func (r *Report) MarshalCBOR() ([]byte, error) {
	type plain Report
	return reportEncMode.Marshal((*plain)(r))
}

// WriteReport writes the current report to w.
func (e *Engine) WriteReport(w io.Writer) error {
	data, err := e.Report().MarshalCBOR()
	if err != nil {
		return fmt.Errorf("engine: marshal report: %w", err)
	}
	_, err = w.Write(data)
	return err
}

// ReadReport decodes a report written by WriteReport.
func ReadReport(data []byte) (*Report, error) {
	var r Report
	if err := cbor.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("engine: unmarshal report: %w", err)
	}
	return &r, nil
}

package printing

import (
	"errors"
	"fmt"
	"time"

	"go-badge-printer/badge"
)

type PrintState string

const (
	StateIdle               PrintState = "idle"
	StatePrinting           PrintState = "printing"
	StatePrintedUnconfirmed PrintState = "printed_unconfirmed"
	StatePrinted            PrintState = "printed"
)

var (
	ErrPrintInProgress   = errors.New("a print job is already running for this badge")
	ErrAlreadyPrinted    = errors.New("badge has already been printed")
	ErrInvalidTransition = errors.New("invalid print state transition")
	ErrDialogNotFound    = errors.New("badge dialog not found")
)

// AbandonedJobAfter is how long a job may hold a dialog before another
// print request may take it over.
const AbandonedJobAfter = 15 * time.Minute

// Dialog is the server side state of one open badge dialog. Print is only
// enabled in StateIdle; StatePrinted is terminal.
type Dialog struct {
	SessionID      string           `json:"session_id"`
	Record         badge.CardRecord `json:"record"`
	Side           badge.Side       `json:"side"`
	State          PrintState       `json:"state"`
	JobID          string           `json:"job_id,omitempty"`
	PrintStartedAt *time.Time       `json:"print_started_at,omitempty"`
	LastFileName   string           `json:"last_file_name,omitempty"`
	OpenedAt       time.Time        `json:"opened_at"`
	PrintedAt      *time.Time       `json:"printed_at,omitempty"`
	PrintedByID    int64            `json:"printed_by_id,omitempty"`
}

// NewDialog opens a dialog on the front face. A record the data layer
// already reports as printed starts in StatePrinted.
func NewDialog(sessionID string, record badge.CardRecord, now time.Time) *Dialog {
	state := StateIdle
	if record.Printed {
		state = StatePrinted
	}
	return &Dialog{
		SessionID: sessionID,
		Record:    record,
		Side:      badge.Front,
		State:     state,
		OpenedAt:  now,
	}
}

func (d *Dialog) Flip() {
	d.Side = d.Side.Flip()
}

func (d *Dialog) CanPrint() bool {
	return d.State == StateIdle
}

// BeginPrint claims the dialog for jobID. A job that has held the dialog for
// longer than AbandonedJobAfter is considered lost and is replaced.
func (d *Dialog) BeginPrint(jobID string, now time.Time) error {
	switch d.State {
	case StateIdle:
		d.start(jobID, now)
		return nil
	case StatePrinting, StatePrintedUnconfirmed:
		if d.PrintStartedAt != nil && now.Sub(*d.PrintStartedAt) > AbandonedJobAfter {
			d.start(jobID, now)
			return nil
		}
		return ErrPrintInProgress
	case StatePrinted:
		return ErrAlreadyPrinted
	}
	return d.invalid("begin print")
}

func (d *Dialog) start(jobID string, now time.Time) {
	d.State = StatePrinting
	d.JobID = jobID
	d.PrintStartedAt = &now
}

func (d *Dialog) finish(state PrintState) {
	d.State = state
	d.JobID = ""
	d.PrintStartedAt = nil
}

// DocumentFailed re-enables printing after a failed generation.
func (d *Dialog) DocumentFailed() error {
	if d.State != StatePrinting {
		return d.invalid("document failed")
	}
	d.finish(StateIdle)
	return nil
}

func (d *Dialog) DocumentEmitted(fileName string) error {
	if d.State != StatePrinting {
		return d.invalid("document emitted")
	}
	d.State = StatePrintedUnconfirmed
	d.LastFileName = fileName
	return nil
}

func (d *Dialog) CompletionRecorded(at time.Time, byID int64) error {
	if d.State != StatePrintedUnconfirmed {
		return d.invalid("completion recorded")
	}
	d.finish(StatePrinted)
	d.Record.Printed = true
	d.PrintedAt = &at
	d.PrintedByID = byID
	return nil
}

// CompletionFailed leaves the record unprinted and re-enables printing.
func (d *Dialog) CompletionFailed() error {
	if d.State != StatePrintedUnconfirmed {
		return d.invalid("completion failed")
	}
	d.finish(StateIdle)
	return nil
}

func (d *Dialog) invalid(event string) error {
	return fmt.Errorf("%w: %s in state %s", ErrInvalidTransition, event, d.State)
}

// Package printing runs a print job for an open badge dialog: document
// generation followed by the printed-flag update, at most one job per dialog
// at a time.
package printing

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go-badge-printer/badge"
	"go-badge-printer/logging"
	"go-badge-printer/metrics"
	"go-badge-printer/notify"
	"go-badge-printer/printdoc"

	"github.com/google/uuid"
)

// DialogStore persists dialogs. Update must apply fn atomically with respect
// to other updates of the same session and store the result only when fn
// returns nil.
type DialogStore interface {
	Create(ctx context.Context, d *Dialog) error
	Get(ctx context.Context, sessionID string) (*Dialog, error)
	Update(ctx context.Context, sessionID string, fn func(d *Dialog) error) (*Dialog, error)
	Delete(ctx context.Context, sessionID string) error
}

type DocumentGenerator interface {
	Generate(ctx context.Context, model badge.CardModel) (*printdoc.PrintJobResult, error)
}

type CompletionRecorder interface {
	RecordPrintedAt(ctx context.Context, record badge.CardRecord, currentUserID int64, at time.Time) error
}

const (
	transitionAttempts = 3
	transitionBackoff  = 200 * time.Millisecond
)

type Service struct {
	store     DialogStore
	generator DocumentGenerator
	recorder  CompletionRecorder
	metrics   *metrics.Metrics
	expiry    string
	now       func() time.Time
	newJobID  func() string
	backoff   time.Duration
}

type ServiceOption func(*Service)

func WithMetrics(m *metrics.Metrics) ServiceOption {
	return func(s *Service) { s.metrics = m }
}

// WithExpiryDate overrides badge.DefaultExpiryDate.
func WithExpiryDate(expiry string) ServiceOption {
	return func(s *Service) { s.expiry = expiry }
}

func WithServiceClock(now func() time.Time) ServiceOption {
	return func(s *Service) { s.now = now }
}

func NewService(store DialogStore, generator DocumentGenerator, recorder CompletionRecorder, opts ...ServiceOption) *Service {
	s := &Service{
		store:     store,
		generator: generator,
		recorder:  recorder,
		now:       time.Now,
		newJobID:  uuid.NewString,
		backoff:   transitionBackoff,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// ExpiryDate is the date printed on cards, empty for badge.DefaultExpiryDate.
func (s *Service) ExpiryDate() string { return s.expiry }

// PrintRequest is one click on the print control.
type PrintRequest struct {
	SessionID  string
	OperatorID int64
	// Notifier receives the toasts of the job, Messages renders them
	Notifier notify.Notifier
	Messages *notify.Translator
}

type PrintOutcome struct {
	JobID  string
	Dialog *Dialog
	Result *printdoc.PrintJobResult
	// RecordErr is set when the document was produced but the record could
	// not be marked as printed
	RecordErr error
}

// Print generates the document and, only once it is saved, marks the record
// as printed. The job is detached from ctx cancellation and has no deadline.
// Generation errors are returned; a completion record failure is reported in
// the outcome and leaves the dialog printable again.
func (s *Service) Print(ctx context.Context, req PrintRequest) (*PrintOutcome, error) {
	ctx = context.WithoutCancel(ctx)
	jobID := s.newJobID()
	log := logging.For("printing").With("session_id", req.SessionID, "job_id", jobID)
	toast := s.toaster(req)

	dialog, err := s.store.Update(ctx, req.SessionID, func(d *Dialog) error {
		return d.BeginPrint(jobID, s.now())
	})
	if err != nil {
		switch {
		case errors.Is(err, ErrPrintInProgress):
			toast(notify.KindWarning, notify.MsgPrintInProgress, nil)
		case errors.Is(err, ErrAlreadyPrinted):
			toast(notify.KindInfo, notify.MsgAlreadyPrinted, nil)
		}
		s.countJob(metrics.OutcomeRejected)
		log.Info("Print request rejected", "error", err)
		return nil, err
	}

	model, err := badge.BuildCardModel(dialog.Record, s.expiry)
	if err != nil {
		s.transition(ctx, log, req.SessionID, jobID, (*Dialog).DocumentFailed)
		s.countJob(metrics.OutcomeFailed)
		toast(notify.KindError, notify.MsgPrintFailed, nil)
		return nil, err
	}

	start := time.Now()
	result, err := s.generator.Generate(ctx, model)
	if s.metrics != nil {
		s.metrics.ObservePrint(start)
	}
	if err != nil {
		s.transition(ctx, log, req.SessionID, jobID, (*Dialog).DocumentFailed)
		s.countJob(metrics.OutcomeFailed)

		var fixed *printdoc.FixedAssetError
		if errors.As(err, &fixed) {
			toast(notify.KindError, notify.MsgInstitutionalAsset, nil)
		} else {
			toast(notify.KindError, notify.MsgPrintFailed, nil)
		}
		log.Error("Print document generation failed", "record_id", model.RecordID, "error", err)
		return nil, fmt.Errorf("generate print document: %w", err)
	}
	s.countJob(metrics.OutcomeSuccess)

	for _, embedErr := range result.EmbedErrors {
		var ie *printdoc.ImageEmbedError
		if errors.As(embedErr, &ie) {
			toast(notify.KindWarning, notify.MsgImageLeftBlank, map[string]any{"Region": string(ie.Region)})
		}
	}
	toast(notify.KindSuccess, notify.MsgPrintSaved, map[string]any{"FileName": result.FileName})

	outcome := &PrintOutcome{JobID: jobID, Result: result}
	outcome.Dialog = s.transition(ctx, log, req.SessionID, jobID, func(d *Dialog) error {
		return d.DocumentEmitted(result.FileName)
	})

	at := s.now()
	if err := s.recorder.RecordPrintedAt(ctx, dialog.Record, req.OperatorID, at); err != nil {
		log.Error("Failed to record print completion", "record_id", model.RecordID, "error", err)
		s.countRecord(metrics.OutcomeFailed)
		toast(notify.KindError, notify.MsgPrintRecordFailed, nil)
		outcome.RecordErr = err
		outcome.Dialog = s.transition(ctx, log, req.SessionID, jobID, (*Dialog).CompletionFailed)
		return outcome, nil
	}

	s.countRecord(metrics.OutcomeSuccess)
	toast(notify.KindSuccess, notify.MsgPrintRecorded, nil)
	outcome.Dialog = s.transition(ctx, log, req.SessionID, jobID, func(d *Dialog) error {
		return d.CompletionRecorded(at, req.OperatorID)
	})
	return outcome, nil
}

// transition applies a state change of the running job, retrying store
// failures a few times. It does not fail the job: a dialog that stays behind
// in a printing state is released by BeginPrint after AbandonedJobAfter.
func (s *Service) transition(ctx context.Context, log *slog.Logger, sessionID, jobID string, fn func(*Dialog) error) *Dialog {
	owned := func(d *Dialog) error {
		if d.JobID != jobID {
			return fmt.Errorf("%w: job %s no longer owns the dialog", ErrInvalidTransition, jobID)
		}
		return fn(d)
	}

	var err error
	for attempt := 1; attempt <= transitionAttempts; attempt++ {
		var d *Dialog
		d, err = s.store.Update(ctx, sessionID, owned)
		if err == nil {
			return d
		}
		if errors.Is(err, ErrInvalidTransition) || errors.Is(err, ErrDialogNotFound) {
			break
		}
		log.Warn("Failed to update dialog state, retrying", "attempt", attempt, "error", err)
		if attempt < transitionAttempts {
			time.Sleep(time.Duration(attempt) * s.backoff)
		}
	}
	log.Warn("Giving up on dialog state update", "error", err)
	return nil
}

func (s *Service) toaster(req PrintRequest) func(notify.Kind, string, map[string]any) {
	return func(kind notify.Kind, id string, data map[string]any) {
		if req.Notifier == nil {
			return
		}
		req.Notifier.Notify(kind, req.Messages.Text(id, data))
	}
}

func (s *Service) countJob(outcome string) {
	if s.metrics != nil {
		s.metrics.IncrementPrintJob(outcome)
	}
}

func (s *Service) countRecord(outcome string) {
	if s.metrics != nil {
		s.metrics.IncrementCompletionRecord(outcome)
	}
}

package printing

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"go-badge-printer/badge"
	"go-badge-printer/logging"
)

// UpdateResponse is what the data layer answered to a record update.
// Status holds the decoded "status" member of the body, nil when absent.
type UpdateResponse struct {
	HTTPStatus int
	Status     any
}

// MerchantUpdater sends a full record update to the data layer.
type MerchantUpdater interface {
	UpdateMerchant(ctx context.Context, id int64, payload map[string]any) (*UpdateResponse, error)
}

type CompletionRecordError struct {
	RecordID int64
	Err      error
}

func (e *CompletionRecordError) Error() string {
	return fmt.Sprintf("failed to mark record %d as printed: %v", e.RecordID, e.Err)
}

func (e *CompletionRecordError) Unwrap() error { return e.Err }

// Recorder marks records as printed.
type Recorder struct {
	updater MerchantUpdater
	now     func() time.Time
}

func NewRecorder(updater MerchantUpdater) *Recorder {
	return &Recorder{updater: updater, now: time.Now}
}

func (r *Recorder) RecordPrinted(ctx context.Context, record badge.CardRecord, currentUserID int64) error {
	return r.RecordPrintedAt(ctx, record, currentUserID, r.now())
}

// RecordPrintedAt sends the whole record back with the printed flag, the
// timestamp and the operator id. It is not retried.
func (r *Recorder) RecordPrintedAt(ctx context.Context, record badge.CardRecord, currentUserID int64, at time.Time) error {
	payload, err := PrintedPayload(record, currentUserID, at)
	if err != nil {
		return &CompletionRecordError{RecordID: record.ID, Err: err}
	}

	resp, err := r.updater.UpdateMerchant(ctx, record.ID, payload)
	if err != nil {
		return &CompletionRecordError{RecordID: record.ID, Err: err}
	}
	if !resp.Succeeded() {
		return &CompletionRecordError{
			RecordID: record.ID,
			Err:      fmt.Errorf("data layer answered status %v (http %d)", resp.Status, resp.HTTPStatus),
		}
	}

	logging.For("printing").Info("Record marked as printed", "record_id", record.ID, "printed_by_id", currentUserID)
	return nil
}

// PrintedPayload is the record with printed, printed_at and printed_by_id set.
func PrintedPayload(record badge.CardRecord, currentUserID int64, at time.Time) (map[string]any, error) {
	payload, err := record.Fields()
	if err != nil {
		return nil, err
	}
	payload["printed"] = true
	payload["printed_at"] = at.UTC().Format(time.RFC3339)
	payload["printed_by_id"] = currentUserID
	return payload, nil
}

// Succeeded interprets the status member: a number in the 2xx range or the
// strings "success"/"ok". Without a status member the HTTP status decides.
// A non-2xx HTTP status always fails.
func (r *UpdateResponse) Succeeded() bool {
	if r == nil {
		return false
	}
	if r.HTTPStatus != 0 && (r.HTTPStatus < 200 || r.HTTPStatus >= 300) {
		return false
	}
	switch s := r.Status.(type) {
	case nil:
		return r.HTTPStatus >= 200 && r.HTTPStatus < 300
	case float64:
		return s >= 200 && s < 300
	case json.Number:
		n, err := s.Int64()
		return err == nil && n >= 200 && n < 300
	case int:
		return s >= 200 && s < 300
	case string:
		v := strings.ToLower(strings.TrimSpace(s))
		return v == "success" || v == "ok"
	case bool:
		return s
	}
	return false
}

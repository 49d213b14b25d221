package models

import (
	"encoding/json"
	"time"

	"go-badge-printer/notify"
)

// OpenDialogRequest opens a badge dialog either from a record id, in which
// case the record is fetched from the data layer, or from a full record.
type OpenDialogRequest struct {
	MerchantID int64           `json:"merchant_id,omitempty"`
	Record     json.RawMessage `json:"record,omitempty"`
}

type CardView struct {
	LastName        string `json:"last_name"`
	FirstName       string `json:"first_name"`
	Role            string `json:"role"`
	Nationality     string `json:"nationality"`
	PrimaryActivity string `json:"primary_activity"`
	ExpiryLabel     string `json:"expiry_label"`
	ExpiryDate      string `json:"expiry_date"`
	HasProfilePhoto bool   `json:"has_profile_photo"`
	HasSignature    bool   `json:"has_signature"`
}

type DialogResponse struct {
	SessionID    string     `json:"session_id"`
	RecordID     int64      `json:"record_id"`
	Side         string     `json:"side"`
	State        string     `json:"state"`
	CanPrint     bool       `json:"can_print"`
	LastFileName string     `json:"last_file_name,omitempty"`
	PrintedAt    *time.Time `json:"printed_at,omitempty"`
	PrintedByID  int64      `json:"printed_by_id,omitempty"`
	Card         *CardView  `json:"card,omitempty"`
}

type PrintResponse struct {
	JobID        string         `json:"job_id"`
	FileName     string         `json:"file_name"`
	DocumentURL  string         `json:"document_url"`
	CompletedAt  time.Time      `json:"completed_at"`
	BlankRegions []string       `json:"blank_regions,omitempty"`
	Recorded     bool           `json:"recorded"`
	RecordError  string         `json:"record_error,omitempty"`
	Dialog       DialogResponse `json:"dialog"`
	Toasts       []notify.Toast `json:"toasts"`
}

type ErrorResponse struct {
	Error  string         `json:"error"`
	Toasts []notify.Toast `json:"toasts,omitempty"`
}

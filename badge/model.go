package badge

import (
	"fmt"
	"strings"

	"golang.org/x/text/unicode/norm"
)

// DefaultExpiryDate is printed on every card. It is a fixed value of the
// physical card series, not derived from the record.
const DefaultExpiryDate = "10.10.2025"

// ExpiryLabel is the first of the two expiry lines on the front face.
const ExpiryLabel = "Date d'expiration"

// InvalidRecordError reports a record that lacks a structurally required member.
type InvalidRecordError struct {
	Field string
}

func (e *InvalidRecordError) Error() string {
	return fmt.Sprintf("invalid card record: %s is missing", e.Field)
}

// CardModel is the render-ready projection of a CardRecord.
type CardModel struct {
	RecordID          int64
	LastName          string
	FirstName         string
	Role              string
	Nationality       string
	PrimaryActivity   string
	ExpiryLabel       string
	ExpiryDate        string
	ProfilePhotoRef   *string
	SignaturePhotoRef *string
}

// BuildCardModel normalizes a record into the fields the card shows.
// An empty expiry falls back to DefaultExpiryDate.
func BuildCardModel(record CardRecord, expiry string) (CardModel, error) {
	if record.ID <= 0 {
		return CardModel{}, &InvalidRecordError{Field: "id"}
	}
	if record.Person == nil {
		return CardModel{}, &InvalidRecordError{Field: "person"}
	}
	if expiry == "" {
		expiry = DefaultExpiryDate
	}

	var activity string
	if len(record.Activities) > 0 {
		activity = record.Activities[0]
	}

	return CardModel{
		RecordID:          record.ID,
		LastName:          clean(record.Person.LastName),
		FirstName:         clean(record.Person.FirstName),
		Role:              clean(record.Role),
		Nationality:       clean(record.Nationality),
		PrimaryActivity:   clean(activity),
		ExpiryLabel:       ExpiryLabel,
		ExpiryDate:        expiry,
		ProfilePhotoRef:   imageRef(record.ProfilePhotoRef),
		SignaturePhotoRef: imageRef(record.SignaturePhotoRef),
	}, nil
}

// Text returns the value printed for a text field.
func (m CardModel) Text(f Field) string {
	switch f {
	case FieldLastName:
		return m.LastName
	case FieldFirstName:
		return m.FirstName
	case FieldRole:
		return m.Role
	case FieldNationality:
		return m.Nationality
	case FieldActivity:
		return m.PrimaryActivity
	case FieldExpiryLabel:
		return m.ExpiryLabel
	case FieldExpiryDate:
		return m.ExpiryDate
	}
	return ""
}

func clean(s string) string {
	return norm.NFC.String(strings.TrimSpace(s))
}

func imageRef(ref *string) *string {
	if ref == nil {
		return nil
	}
	v := strings.TrimSpace(*ref)
	if v == "" {
		return nil
	}
	return &v
}

package badge

import (
	"encoding/json"
	"fmt"
)

// Person holds the display names of the badge holder.
type Person struct {
	LastName  string `json:"last_name"`
	FirstName string `json:"first_name"`
}

// CardRecord is the merchant record as served by the data layer.
// Members the badge does not use are kept in Raw so the record can be
// sent back unchanged when it is marked as printed.
type CardRecord struct {
	ID                int64    `json:"id"`
	Person            *Person  `json:"person"`
	Role              string   `json:"role,omitempty"`
	Nationality       string   `json:"nationality,omitempty"`
	Activities        []string `json:"activities,omitempty"`
	ProfilePhotoRef   *string  `json:"profile_photo,omitempty"`
	SignaturePhotoRef *string  `json:"signature_photo,omitempty"`
	Printed           bool     `json:"printed"`

	Raw map[string]json.RawMessage `json:"-"`
}

type cardRecordAlias CardRecord

func (r *CardRecord) UnmarshalJSON(data []byte) error {
	var alias cardRecordAlias
	if err := json.Unmarshal(data, &alias); err != nil {
		return err
	}
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*r = CardRecord(alias)
	r.Raw = raw
	return nil
}

// MarshalJSON writes the preserved members first and the typed fields over them.
func (r CardRecord) MarshalJSON() ([]byte, error) {
	fields, err := r.Fields()
	if err != nil {
		return nil, err
	}
	return json.Marshal(fields)
}

// Fields returns the record as a flat member map, typed fields taking precedence
// over the preserved raw members.
func (r CardRecord) Fields() (map[string]any, error) {
	out := make(map[string]any, len(r.Raw)+8)
	for k, v := range r.Raw {
		out[k] = v
	}

	typed, err := json.Marshal(cardRecordAlias(r))
	if err != nil {
		return nil, fmt.Errorf("marshal card record: %w", err)
	}
	var typedMap map[string]json.RawMessage
	if err := json.Unmarshal(typed, &typedMap); err != nil {
		return nil, fmt.Errorf("flatten card record: %w", err)
	}
	for k, v := range typedMap {
		out[k] = v
	}
	return out, nil
}

package types

import (
	"encoding/json"
	"fmt"
)

// Stripe event type constants prevent magic strings in webhook routing.
const (
	EventCheckoutSessionCompleted = "checkout.session.completed"
)

// WebhookEvent is a verified provider event. Object holds the raw
// data.object payload, decoded only once the event type is known.
type WebhookEvent struct {
	ID     string
	Type   string
	Object json.RawMessage
}

// Fixed leading columns of every spectator sheet, in order.
const (
	ColumnID       = "id"
	ColumnName     = "name"
	ColumnEmail    = "email"
	ColumnQuantity = "quantity"
)

// CustomFieldType is the type tag Stripe attaches to a checkout custom field.
type CustomFieldType string

const (
	CustomFieldText     CustomFieldType = "text"
	CustomFieldNumeric  CustomFieldType = "numeric"
	CustomFieldDropdown CustomFieldType = "dropdown"
)

// CustomFieldValue is the typed payload of a checkout custom field. The set of
// implementations is closed: TextValue, NumericValue and DropdownValue.
type CustomFieldValue interface {
	FieldType() CustomFieldType
	isCustomFieldValue()
}

// TextValue is the payload of a free-text custom field.
type TextValue struct {
	Value string
}

// NumericValue is the payload of a numeric custom field. Stripe sends the
// digits as a string; they are kept verbatim.
type NumericValue struct {
	Value string
}

// DropdownValue is the payload of a dropdown custom field: the selected option's value.
type DropdownValue struct {
	Value string
}

func (TextValue) FieldType() CustomFieldType     { return CustomFieldText }
func (NumericValue) FieldType() CustomFieldType  { return CustomFieldNumeric }
func (DropdownValue) FieldType() CustomFieldType { return CustomFieldDropdown }

func (TextValue) isCustomFieldValue()     {}
func (NumericValue) isCustomFieldValue()  {}
func (DropdownValue) isCustomFieldValue() {}

// Scalar unwraps a custom field payload to the value written into a sheet cell.
// A nil payload (field left blank at checkout) yields an empty cell.
func Scalar(v CustomFieldValue) (any, error) {
	switch fv := v.(type) {
	case nil:
		return "", nil
	case TextValue:
		return fv.Value, nil
	case NumericValue:
		return fv.Value, nil
	case DropdownValue:
		return fv.Value, nil
	default:
		return nil, fmt.Errorf("unsupported custom field payload %T", v)
	}
}

// CustomField is one merchant-defined input collected at checkout.
type CustomField struct {
	Key   string
	Value CustomFieldValue
}

// CheckoutSession is the subset of a completed Stripe checkout session needed
// to build spectator rows.
type CheckoutSession struct {
	ID            string
	CustomerName  string
	CustomerEmail string
	CustomFields  []CustomField
}

// HeaderValues returns the header row for a sheet created from this session:
// the fixed columns followed by the custom field keys in checkout order.
// Header names are unique: a key equal to a fixed column or to an earlier key
// is skipped.
func (s *CheckoutSession) HeaderValues() []string {
	headers := make([]string, 0, 4+len(s.CustomFields))
	headers = append(headers, ColumnID, ColumnName, ColumnEmail, ColumnQuantity)
	seen := map[string]struct{}{
		ColumnID: {}, ColumnName: {}, ColumnEmail: {}, ColumnQuantity: {},
	}
	for _, f := range s.CustomFields {
		if _, dup := seen[f.Key]; dup {
			continue
		}
		seen[f.Key] = struct{}{}
		headers = append(headers, f.Key)
	}
	return headers
}

// LineItem is one purchased product of a checkout session.
type LineItem struct {
	SessionID   string
	Description string
	Quantity    int64
}

// SheetRow is a spectator row keyed by column name.
type SheetRow struct {
	ID       string
	Name     string
	Email    string
	Quantity int64
	Custom   map[string]any
}

// NewSheetRow builds the row for one line item of a session. Custom field
// payloads are unwrapped to their scalar value.
func NewSheetRow(session *CheckoutSession, item LineItem) (SheetRow, error) {
	row := SheetRow{
		ID:       session.ID,
		Name:     session.CustomerName,
		Email:    session.CustomerEmail,
		Quantity: item.Quantity,
		Custom:   make(map[string]any, len(session.CustomFields)),
	}
	for _, f := range session.CustomFields {
		if _, dup := row.Custom[f.Key]; dup {
			continue
		}
		v, err := Scalar(f.Value)
		if err != nil {
			return SheetRow{}, fmt.Errorf("custom field %q: %w", f.Key, err)
		}
		row.Custom[f.Key] = v
	}
	return row, nil
}

// Cell returns the value for the named column. Fixed columns always win over
// a custom field with the same key, so the id cell is the session ID.
func (r SheetRow) Cell(column string) (any, bool) {
	switch column {
	case ColumnID:
		return r.ID, true
	case ColumnName:
		return r.Name, true
	case ColumnEmail:
		return r.Email, true
	case ColumnQuantity:
		return r.Quantity, true
	}
	v, ok := r.Custom[column]
	return v, ok
}

// Project lays the row out along a header row. Columns the row does not know
// about are left empty and row fields without a column are dropped.
func (r SheetRow) Project(headers []string) []any {
	values := make([]any, len(headers))
	for i, h := range headers {
		if v, ok := r.Cell(h); ok {
			values[i] = v
		} else {
			values[i] = ""
		}
	}
	return values
}

// Package security holds the shared list of field names that must never reach
// spans or logs in clear text, and the masking built on it.
package security

import (
	"encoding/json"
	"strings"

	cn "github.com/LerianStudio/claims-telemetry/commons/constants"
)

var defaultSensitiveFields = []string{
	"password",
	"token",
	"secret",
	"authorization",
	"credential",
	"apikey",
	"api_key",
	"private_key",
	"ssn",
	"tax_id",
	"taxid",
	"document_number",
	"card_number",
	"cardnumber",
	"cvv",
	"iban",
	"bank_account",
	"account_number",
	"date_of_birth",
	"birthdate",
	"email",
	"phone",
}

var defaultMasker = NewMasker()

// DefaultSensitiveFields returns the field names masked by default.
func DefaultSensitiveFields() []string {
	fields := make([]string, len(defaultSensitiveFields))
	copy(fields, defaultSensitiveFields)

	return fields
}

// IsSensitiveField reports whether fieldName is masked by default, either
// exactly or as part of a longer name such as "policyholder_ssn".
func IsSensitiveField(fieldName string) bool {
	return defaultMasker.Sensitive(fieldName)
}

// Masker replaces the values of sensitive fields with cn.ObfuscatedValue.
// Field names match case-insensitively, as substrings.
type Masker struct {
	fields []string
}

// NewMasker masks the default fields plus extra.
func NewMasker(extra ...string) *Masker {
	fields := DefaultSensitiveFields()
	for _, field := range extra {
		fields = append(fields, strings.ToLower(field))
	}

	return &Masker{fields: fields}
}

// Default returns the masker over the default field list.
func Default() *Masker {
	return defaultMasker
}

// Sensitive reports whether values under fieldName are masked.
func (m *Masker) Sensitive(fieldName string) bool {
	lower := strings.ToLower(fieldName)

	for _, field := range m.fields {
		if strings.Contains(lower, field) {
			return true
		}
	}

	return false
}

// Mask returns a copy of a decoded JSON value with sensitive keys masked at
// any depth. Values of other types come back unchanged.
func (m *Masker) Mask(v any) any {
	switch typed := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(typed))

		for key, value := range typed {
			if m.Sensitive(key) {
				out[key] = cn.ObfuscatedValue
				continue
			}

			out[key] = m.Mask(value)
		}

		return out
	case []any:
		out := make([]any, len(typed))
		for i, item := range typed {
			out[i] = m.Mask(item)
		}

		return out
	default:
		return v
	}
}

// MaskJSON masks a JSON document. Input that is not JSON comes back as is
// with ok false.
func (m *Masker) MaskJSON(body []byte) (masked []byte, ok bool) {
	var decoded any
	if err := json.Unmarshal(body, &decoded); err != nil {
		return body, false
	}

	masked, err := json.Marshal(m.Mask(decoded))
	if err != nil {
		return body, false
	}

	return masked, true
}

// MaskValue marshals v to JSON and masks the result.
func (m *Masker) MaskValue(v any) ([]byte, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}

	masked, _ := m.MaskJSON(raw)

	return masked, nil
}

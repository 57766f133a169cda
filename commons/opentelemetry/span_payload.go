package opentelemetry

import (
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/LerianStudio/claims-telemetry/commons/security"
)

// SetPayloadAttribute records v on span as one JSON string attribute with
// sensitive fields masked. A nil masker uses the default field list.
func SetPayloadAttribute(span trace.Span, key string, v any, masker *security.Masker) error {
	if masker == nil {
		masker = security.Default()
	}

	masked, err := masker.MaskValue(v)
	if err != nil {
		return err
	}

	span.SetAttributes(attribute.String(key, string(masked)))

	return nil
}

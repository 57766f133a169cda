package constant

const (
	// MetadataID represents the metadata identifier key.
	MetadataID = "metadata_id"
	// MetadataTraceparent represents the traceparent metadata key.
	MetadataTraceparent = "traceparent"
	// MetadataTracestate represents the tracestate metadata key.
	MetadataTracestate = "tracestate"
	// MetadataBaggage represents the baggage metadata key.
	MetadataBaggage = "baggage"
	// MetadataAuthorization represents the authorization metadata key.
	MetadataAuthorization = "authorization"

	// TelemetrySDKName is reported as telemetry.sdk.name on every resource.
	TelemetrySDKName = "claims-telemetry/opentelemetry"

	// ObfuscatedValue replaces sensitive values in spans and request logs.
	ObfuscatedValue = "********"
)

package constant

const (
	HeaderUserAgent     = "User-Agent"
	HeaderRealIP        = "X-Real-Ip"
	HeaderForwardedFor  = "X-Forwarded-For"
	HeaderForwardedHost = "X-Forwarded-Host"
	HeaderHost          = "Host"
	HeaderID            = "X-Request-Id"
	HeaderCorrelationID = "X-Correlation-Id"
	HeaderMessageID     = "X-Message-Id"
	HeaderContentType   = "Content-Type"
	Authorization       = "Authorization"

	// W3C trace context headers, always lowercase on the wire.
	HeaderTraceparent = "traceparent"
	HeaderTracestate  = "tracestate"
	HeaderBaggage     = "baggage"
)

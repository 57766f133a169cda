package http

import (
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/LerianStudio/claims-telemetry/commons"
	cn "github.com/LerianStudio/claims-telemetry/commons/constants"
	"github.com/LerianStudio/claims-telemetry/commons/log"
	"github.com/LerianStudio/claims-telemetry/commons/requestid"
	"github.com/LerianStudio/claims-telemetry/commons/security"
)

// AccessEntry is one access log line.
type AccessEntry struct {
	RemoteAddress string
	User          string
	Protocol      string
	Method        string
	URI           string
	Status        int
	Size          int
	Referer       string
	UserAgent     string
	RequestID     string
	Started       time.Time
	Elapsed       time.Duration
}

func newAccessEntry(c *fiber.Ctx, requestID string) *AccessEntry {
	return &AccessEntry{
		RemoteAddress: c.IP(),
		User:          orDash(string(c.Request().URI().Username())),
		Protocol:      c.Protocol(),
		Method:        c.Method(),
		URI:           c.OriginalURL(),
		Referer:       orDash(c.Get(fiber.HeaderReferer)),
		UserAgent:     orDash(c.Get(cn.HeaderUserAgent)),
		RequestID:     requestID,
		Started:       time.Now(),
	}
}

func (e *AccessEntry) finish(c *fiber.Ctx, status int) {
	e.Status = status
	e.Size = len(c.Response().Body())
	e.Elapsed = time.Since(e.Started)
}

// String renders the entry in Common Log Format, with the protocol, referer
// and user agent appended.
func (e *AccessEntry) String() string {
	return strings.Join([]string{
		e.RemoteAddress,
		"-",
		e.User,
		e.Protocol,
		strconv.Quote(e.Method + " " + e.URI),
		strconv.Itoa(e.Status),
		strconv.Itoa(e.Size),
		e.Referer,
		e.UserAgent,
	}, " ")
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}

	return s
}

// MaskedBody renders a request body for logging with sensitive fields masked.
// JSON and form bodies are masked field by field; other bodies are kept whole.
func MaskedBody(contentType string, body []byte, masker *security.Masker) string {
	switch {
	case strings.Contains(contentType, fiber.MIMEApplicationJSON):
		masked, _ := masker.MaskJSON(body)
		return string(masked)
	case strings.Contains(contentType, fiber.MIMEApplicationForm):
		values, err := url.ParseQuery(string(body))
		if err != nil {
			return string(body)
		}

		for key := range values {
			if masker.Sensitive(key) {
				values.Set(key, cn.ObfuscatedValue)
			}
		}

		return values.Encode()
	default:
		return string(body)
	}
}

type accessLog struct {
	fallback log.Logger
	logBody  bool
	skip     []string
	masker   *security.Masker
}

// LogMiddlewareOption configures WithHTTPLogging.
type LogMiddlewareOption func(*accessLog)

// WithCustomLogger sets the logger used when the request context carries none.
func WithCustomLogger(logger log.Logger) LogMiddlewareOption {
	return func(a *accessLog) { a.fallback = logger }
}

// WithRequestBody logs the masked request body at debug level.
func WithRequestBody(enabled bool) LogMiddlewareOption {
	return func(a *accessLog) { a.logBody = enabled }
}

// WithSkipPaths replaces the path prefixes that are never logged.
func WithSkipPaths(prefixes ...string) LogMiddlewareOption {
	return func(a *accessLog) { a.skip = prefixes }
}

// WithMasker replaces the masker applied to logged bodies.
func WithMasker(masker *security.Masker) LogMiddlewareOption {
	return func(a *accessLog) { a.masker = masker }
}

// WithHTTPLogging writes one access log line per request at a level following
// the response status: error for 5xx, warn for 4xx, info otherwise. The line
// goes through the logger found in the request context, so when
// WithTelemetry runs first it carries the trace and request enrichment.
func WithHTTPLogging(opts ...LogMiddlewareOption) fiber.Handler {
	a := &accessLog{
		fallback: &log.NoneLogger{},
		skip:     []string{"/health"},
		masker:   security.Default(),
	}

	for _, opt := range opts {
		opt(a)
	}

	return func(c *fiber.Ctx) error {
		if a.skipped(c.Path()) {
			return c.Next()
		}

		entry := newAccessEntry(c, requestid.Resolve(c, cn.HeaderID))

		logger := a.logger(c).Named("http")

		if a.logBody && len(c.Body()) > 0 {
			logger.Debugf("request body: %s", MaskedBody(c.Get(cn.HeaderContentType), c.Body(), a.masker))
		}

		err := c.Next()

		entry.finish(c, responseStatus(c, err))

		line := logger.WithFields(
			"http.response.status_code", entry.Status,
			"http.elapsed_ms", float64(entry.Elapsed)/float64(time.Millisecond),
		)

		switch {
		case entry.Status >= fiber.StatusInternalServerError:
			line.Error(entry.String())
		case entry.Status >= fiber.StatusBadRequest:
			line.Warn(entry.String())
		default:
			line.Info(entry.String())
		}

		return err
	}
}

func (a *accessLog) skipped(path string) bool {
	for _, prefix := range a.skip {
		if strings.HasPrefix(path, prefix) {
			return true
		}
	}

	return false
}

//nolint:ireturn
func (a *accessLog) logger(c *fiber.Ctx) log.Logger {
	ctx := c.UserContext()

	logger := commons.NewLoggerFromContext(ctx)
	if _, none := logger.(*log.NoneLogger); none {
		logger = a.fallback
	}

	return logger.WithContext(ctx)
}

package requestid

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/LerianStudio/claims-telemetry/commons"
	cn "github.com/LerianStudio/claims-telemetry/commons/constants"
	"github.com/LerianStudio/claims-telemetry/commons/correlation"
)

func TestContext(t *testing.T) {
	assert.Empty(t, FromContext(context.Background()))

	ctx := NewContext(context.Background(), "req-1")

	assert.Equal(t, "req-1", FromContext(ctx))
	assert.Equal(t, "req-1", commons.NewHeaderIDFromContext(ctx))
	assert.Equal(t, "req-1", correlation.ScopeProperties(ctx)[Key])
}

func TestAdopt(t *testing.T) {
	base := NewContext(context.Background(), "req-1")

	assert.Equal(t, "req-1", FromContext(Adopt(base, "")))
	assert.Equal(t, "msg-7", FromContext(Adopt(base, "msg-7")))
}

func TestEnsureContext(t *testing.T) {
	ctx, id := EnsureContext(context.Background())
	assert.Len(t, id, 36)
	assert.Equal(t, id, FromContext(ctx))

	_, id = EnsureContext(NewContext(context.Background(), "existing"))
	assert.Equal(t, "existing", id)
}

func TestResolve(t *testing.T) {
	app := fiber.New()
	app.Get("/", func(c *fiber.Ctx) error {
		first := Resolve(c, cn.HeaderID)
		again := Resolve(c, cn.HeaderID)

		return c.SendString(first + "|" + again + "|" + FromContext(c.UserContext()))
	})

	tests := []struct {
		name    string
		headers map[string]string
		want    string
	}{
		{name: "request id wins", headers: map[string]string{cn.HeaderID: "req-in", cn.HeaderCorrelationID: "corr-in"}, want: "req-in"},
		{name: "correlation id fallback", headers: map[string]string{cn.HeaderCorrelationID: "corr-in"}, want: "corr-in"},
		{name: "generated"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			for k, v := range tt.headers {
				req.Header.Set(k, v)
			}

			resp, err := app.Test(req)
			require.NoError(t, err)
			defer resp.Body.Close()

			body, err := io.ReadAll(resp.Body)
			require.NoError(t, err)

			echoed := resp.Header.Get(cn.HeaderID)
			if tt.want == "" {
				assert.Len(t, echoed, 36)
			} else {
				assert.Equal(t, tt.want, echoed)
			}

			assert.Equal(t, echoed+"|"+echoed+"|"+echoed, string(body))
		})
	}
}

package claim

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/LerianStudio/claims-telemetry/commons"
	"github.com/LerianStudio/claims-telemetry/commons/circuitbreaker"
	cn "github.com/LerianStudio/claims-telemetry/commons/constants"
	"github.com/LerianStudio/claims-telemetry/commons/jobs"
	libHTTP "github.com/LerianStudio/claims-telemetry/commons/net/http"
	"github.com/LerianStudio/claims-telemetry/internal/events"
)

var submittedAt = time.Date(2026, 3, 10, 9, 30, 0, 0, time.UTC)

type reply func(in any) (any, error)

func answer(body any) reply {
	return func(any) (any, error) { return body, nil }
}

func fail(err error) reply {
	return func(any) (any, error) { return nil, err }
}

func businessFailure(status int, code, entity string) reply {
	body, _ := json.Marshal(commons.Response{Code: code, EntityType: entity, Title: "rejected"})
	return fail(&libHTTP.StatusError{StatusCode: status, Body: body})
}

type fakeDownstream struct {
	policy, finance reply
	calls           []string
}

func (d *fakeDownstream) PostJSON(_ context.Context, url string, in, out any) error {
	d.calls = append(d.calls, url)

	var r reply

	switch {
	case strings.HasSuffix(url, "/policies/validate"):
		r = d.policy
	case strings.HasSuffix(url, "/payments"):
		r = d.finance
	default:
		return errors.New("unexpected url " + url)
	}

	body, err := r(in)
	if err != nil {
		return err
	}

	b, err := json.Marshal(body)
	if err != nil {
		return err
	}

	return json.Unmarshal(b, out)
}

type fakeEvents struct {
	mu   sync.Mutex
	sent []events.ClaimProcessed
	keys []string
	err  error
}

func (e *fakeEvents) Publish(_ context.Context, topic, key string, value []byte) (int32, int64, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.err != nil {
		return 0, 0, e.err
	}

	var evt events.ClaimProcessed
	if err := json.Unmarshal(value, &evt); err != nil {
		return 0, 0, err
	}

	e.sent = append(e.sent, evt)
	e.keys = append(e.keys, topic+"/"+key)

	return 0, int64(len(e.sent)), nil
}

type fakeJobs struct {
	names    []string
	payloads []events.ClaimAudit
	err      error
}

func (j *fakeJobs) Enqueue(_ context.Context, name string, payload any) (string, error) {
	if j.err != nil {
		return "", j.err
	}

	j.names = append(j.names, name)
	j.payloads = append(j.payloads, payload.(events.ClaimAudit))

	return "job-1", nil
}

func newTestService(d Downstream, ev EventPublisher, jq JobEnqueuer) *Service {
	svc := NewService(Config{PolicyURL: "http://policy", FinanceURL: "http://finance"}, d, ev, jq, nil, nil)
	svc.now = func() time.Time { return submittedAt }

	return svc
}

func validRequest() Request {
	return Request{PolicyNumber: "POL-001", Amount: 25_000, Currency: "USD", Description: "hail damage"}
}

func TestSubmit(t *testing.T) {
	coverage := answer(policyCoverage{Holder: "Ana Souza", Remaining: 5_000_000, Valid: true})
	paid := answer(paymentReceipt{PaymentID: "PAY-1", Status: "COMPLETED"})

	tests := []struct {
		name        string
		policy      reply
		finance     reply
		wantStatus  string
		wantCode    string
		unavailable bool
		wantCause   error
		wantCalls   int
	}{
		{name: "paid", policy: coverage, finance: paid, wantStatus: cn.ClaimStatusPaid, wantCalls: 2},
		{
			name:       "policy not found",
			policy:     businessFailure(http.StatusNotFound, cn.ErrPolicyNotFound.Error(), "Policy"),
			wantStatus: cn.ClaimStatusRejected,
			wantCode:   cn.ErrPolicyNotFound.Error(),
			wantCalls:  1,
		},
		{
			name:       "payment rejected",
			policy:     coverage,
			finance:    businessFailure(http.StatusUnprocessableEntity, cn.ErrPaymentRejected.Error(), "Payment"),
			wantStatus: cn.ClaimStatusRejected,
			wantCode:   cn.ErrPaymentRejected.Error(),
			wantCalls:  2,
		},
		{
			name:        "policy service failing",
			policy:      fail(&libHTTP.StatusError{StatusCode: http.StatusServiceUnavailable}),
			unavailable: true,
			wantCalls:   1,
		},
		{
			name:        "finance circuit open",
			policy:      coverage,
			finance:     fail(circuitbreaker.ErrServiceUnavailable),
			unavailable: true,
			wantCause:   circuitbreaker.ErrServiceUnavailable,
			wantCalls:   2,
		},
		{
			name:        "transport error",
			policy:      fail(errors.New("connection refused")),
			unavailable: true,
			wantCalls:   1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := &fakeDownstream{policy: tt.policy, finance: tt.finance}
			ev := &fakeEvents{}
			jq := &fakeJobs{}
			svc := newTestService(d, ev, jq)

			claim, err := svc.Submit(context.Background(), validRequest())
			assert.Len(t, d.calls, tt.wantCalls)

			if tt.unavailable {
				assert.ErrorIs(t, err, cn.ErrDownstreamUnavailable)
				if tt.wantCause != nil {
					assert.ErrorIs(t, err, tt.wantCause)
				}
				assert.Empty(t, ev.sent)
				assert.Empty(t, jq.names)

				_, findErr := svc.Get(context.Background(), claim.ID)
				assert.ErrorIs(t, findErr, cn.ErrClaimNotFound)

				return
			}

			if tt.wantCode != "" {
				var response commons.Response
				require.True(t, errors.As(err, &response))
				assert.Equal(t, tt.wantCode, response.Code)
			} else {
				require.NoError(t, err)
				assert.Equal(t, "PAY-1", claim.PaymentID)
			}

			assert.Equal(t, tt.wantStatus, claim.Status)
			assert.Equal(t, submittedAt, claim.SubmittedAt)

			stored, findErr := svc.Get(context.Background(), claim.ID)
			require.NoError(t, findErr)
			assert.Equal(t, claim, stored)

			require.Len(t, ev.sent, 1)
			assert.Equal(t, cn.TopicClaimsProcessed+"/"+claim.ID, ev.keys[0])
			assert.Equal(t, tt.wantStatus, ev.sent[0].Status)

			assert.Equal(t, []string{cn.JobNameClaimAudit}, jq.names)
			assert.Equal(t, claim.ID, jq.payloads[0].ClaimID)
			assert.Equal(t, tt.wantStatus, jq.payloads[0].Status)
		})
	}
}

func TestSubmitSurvivesPublishAndEnqueueFailures(t *testing.T) {
	d := &fakeDownstream{
		policy:  answer(policyCoverage{Valid: true}),
		finance: answer(paymentReceipt{PaymentID: "PAY-2"}),
	}
	svc := newTestService(d, &fakeEvents{err: errors.New("broker down")}, &fakeJobs{err: errors.New("redis down")})

	claim, err := svc.Submit(context.Background(), validRequest())
	require.NoError(t, err)
	assert.Equal(t, cn.ClaimStatusPaid, claim.Status)
}

func TestSubmitWithoutOptionalSinks(t *testing.T) {
	d := &fakeDownstream{
		policy:  answer(policyCoverage{Valid: true}),
		finance: answer(paymentReceipt{PaymentID: "PAY-3"}),
	}
	svc := NewService(Config{}, d, nil, nil, nil, nil)

	claim, err := svc.Submit(context.Background(), validRequest())
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(claim.ID, "CLM-"))
	assert.Equal(t, []string{"/policies/validate", "/payments"}, d.calls)
}

func TestClaimEndpoints(t *testing.T) {
	d := &fakeDownstream{
		policy:  answer(policyCoverage{Valid: true}),
		finance: answer(paymentReceipt{PaymentID: "PAY-4"}),
	}
	svc := newTestService(d, nil, nil)

	app := fiber.New(fiber.Config{ErrorHandler: libHTTP.WithError})
	RegisterRoutes(app, &Handler{Service: svc})

	post := func(body string) *http.Response {
		req := httptest.NewRequest(http.MethodPost, "/claims", strings.NewReader(body))
		req.Header.Set(cn.HeaderContentType, "application/json")

		resp, err := app.Test(req)
		require.NoError(t, err)

		return resp
	}

	resp := post(`{"policy_number":"POL-001","amount":100,"currency":"USD"}`)
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	var created Claim
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&created))
	resp.Body.Close()
	assert.Equal(t, cn.ClaimStatusPaid, created.Status)

	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/claims/"+created.ID, nil))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = app.Test(httptest.NewRequest(http.MethodGet, "/claims/CLM-missing", nil))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp = post(`{"policy_number":"POL-001","amount":-5,"currency":"USD","claimant_email":"nope"}`)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	var invalid libHTTP.ValidationResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&invalid))
	assert.Contains(t, invalid.Fields, "amount")
	assert.Contains(t, invalid.Fields, "claimant_email")

	d.policy = fail(errors.New("connection refused"))
	resp = post(`{"policy_number":"POL-001","amount":100,"currency":"USD"}`)
	resp.Body.Close()
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)

	d.policy = businessFailure(http.StatusNotFound, cn.ErrPolicyNotFound.Error(), "Policy")
	resp = post(`{"policy_number":"POL-009","amount":100,"currency":"USD"}`)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	var rejected commons.Response
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&rejected))
	assert.Equal(t, "Policy", rejected.EntityType)
	assert.Equal(t, cn.ErrPolicyNotFound.Error(), rejected.Code)
}

func TestListener(t *testing.T) {
	l := NewListener(nil)

	payload, err := json.Marshal(events.ClaimAudit{ClaimID: "CLM-1", Status: cn.ClaimStatusPaid})
	require.NoError(t, err)

	require.NoError(t, l.HandleAudit(context.Background(), jobs.Envelope{Name: cn.JobNameClaimAudit, Attempt: 1, Payload: payload}))
	assert.ErrorIs(t, l.HandleAudit(context.Background(), jobs.Envelope{Payload: json.RawMessage(`"oops"`)}), cn.ErrJobPayloadInvalid)
	require.Len(t, l.Audits(), 1)
	assert.Equal(t, "CLM-1", l.Audits()[0].ClaimID)

	require.NoError(t, l.HandlePaymentCompleted(context.Background(), amqp.Delivery{Body: []byte(`{"payment_id":"PAY-1","claim_id":"CLM-1","amount":10}`)}))
	assert.Error(t, l.HandlePaymentCompleted(context.Background(), amqp.Delivery{Body: []byte(`{`)}))
	require.Len(t, l.Payouts(), 1)
	assert.Equal(t, "PAY-1", l.Payouts()[0].PaymentID)
}

package api

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/Cr0nia/Cronia/internal/app"
	"github.com/Cr0nia/Cronia/internal/store"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testSecret      = "test-secret"
	testInternalKey = "internal-key"
)

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	svc := app.NewService(store.NewMemoryStore(), app.DefaultSettings(), logger)
	server := httptest.NewServer(NewRouter(NewHandler(svc, logger), testSecret, testInternalKey))
	t.Cleanup(server.Close)
	return server
}

func signToken(t *testing.T, secret, subject string) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   subject,
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	})
	signed, err := token.SignedString([]byte(secret))
	require.NoError(t, err)
	return signed
}

func doRequest(t *testing.T, method, url string, headers map[string]string, body string) (*http.Response, map[string]interface{}) {
	t.Helper()
	req, err := http.NewRequest(method, url, bytes.NewBufferString(body))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	var decoded map[string]interface{}
	_ = json.Unmarshal(raw, &decoded)
	return resp, decoded
}

func bearer(t *testing.T, consumerID string) map[string]string {
	return map[string]string{"Authorization": "Bearer " + signToken(t, testSecret, consumerID)}
}

var internalHeaders = map[string]string{"X-Internal-API-Key": testInternalKey}

func TestHealth(t *testing.T) {
	server := newTestServer(t)

	resp, err := http.Get(server.URL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestConsumerRoutesRequireValidToken(t *testing.T) {
	server := newTestServer(t)

	tests := []struct {
		name    string
		headers map[string]string
	}{
		{name: "missing header", headers: nil},
		{name: "not bearer", headers: map[string]string{"Authorization": "Token abc"}},
		{name: "wrong secret", headers: map[string]string{"Authorization": "Bearer " + signToken(t, "other", "consumer-1")}},
		{name: "garbage", headers: map[string]string{"Authorization": "Bearer not.a.jwt"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, body := doRequest(t, http.MethodGet, server.URL+"/accounts/me", tt.headers, "")
			assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
			assert.Equal(t, "unauthorized", body["kind"])
		})
	}
}

func TestInternalRoutesRequireKey(t *testing.T) {
	server := newTestServer(t)

	resp, _ := doRequest(t, http.MethodPost, server.URL+"/internal/jobs/risk/run", map[string]string{"X-Internal-API-Key": "wrong"}, "")
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp, body := doRequest(t, http.MethodPost, server.URL+"/internal/jobs/risk/run", internalHeaders, "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, float64(0), body["evaluated"])
}

func TestDrawFlowOverHTTP(t *testing.T) {
	server := newTestServer(t)
	consumer := bearer(t, "consumer-1")

	resp, body := doRequest(t, http.MethodGet, server.URL+"/accounts/me", consumer, "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Equal(t, "not_found", body["kind"])

	resp, body = doRequest(t, http.MethodPost, server.URL+"/collateral/deposits", consumer,
		`{"token_mint":"So11111111111111111111111111111111111111112","amount":"10","value_usd":"250","ltv":"0.8"}`)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	account := body["account"].(map[string]interface{})
	assert.Equal(t, "200", account["credit_limit"])

	resp, body = doRequest(t, http.MethodPost, server.URL+"/internal/draws", internalHeaders,
		`{"merchant_id":"merchant-1","amount":"150","currency":"usdc"}`)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	firstSession := body["id"].(string)

	resp, body = doRequest(t, http.MethodPost, server.URL+"/draws/"+firstSession+"/approve", consumer, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	account = body["account"].(map[string]interface{})
	assert.Equal(t, "50", account["available_credit"])
	assert.Equal(t, "1.66666667", account["health_factor"])

	resp, body = doRequest(t, http.MethodPost, server.URL+"/internal/draws", internalHeaders,
		`{"merchant_id":"merchant-1","amount":"100"}`)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	secondSession := body["id"].(string)

	resp, body = doRequest(t, http.MethodPost, server.URL+"/draws/"+secondSession+"/approve", consumer, "")
	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
	assert.Equal(t, "insufficient_credit", body["kind"])

	resp, body = doRequest(t, http.MethodPost, server.URL+"/internal/draws/"+secondSession+"/reject", internalHeaders, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "rejected", body["status"])

	resp, body = doRequest(t, http.MethodPost, server.URL+"/draws/"+secondSession+"/approve", consumer, "")
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	assert.Equal(t, "invalid_state", body["kind"])
}

func TestDepositRejectsBadBody(t *testing.T) {
	server := newTestServer(t)

	resp, body := doRequest(t, http.MethodPost, server.URL+"/collateral/deposits", bearer(t, "consumer-1"), `{"unknown":true}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "invalid_request", body["kind"])

	resp, body = doRequest(t, http.MethodPost, server.URL+"/collateral/deposits", bearer(t, "consumer-1"),
		`{"token_mint":"mint","amount":"1","value_usd":"0","ltv":"0.5"}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "invalid_amount", body["kind"])
}

func TestStatusForKind(t *testing.T) {
	tests := []struct {
		kind string
		want int
	}{
		{kind: "invalid_request", want: http.StatusBadRequest},
		{kind: "invalid_amount", want: http.StatusBadRequest},
		{kind: "unauthorized", want: http.StatusForbidden},
		{kind: "not_found", want: http.StatusNotFound},
		{kind: "invalid_state", want: http.StatusConflict},
		{kind: "already_paid", want: http.StatusConflict},
		{kind: "no_active_account", want: http.StatusConflict},
		{kind: "expired", want: http.StatusGone},
		{kind: "insufficient_credit", want: http.StatusUnprocessableEntity},
		{kind: "exceeds_balance", want: http.StatusUnprocessableEntity},
		{kind: "withdrawal_rejected", want: http.StatusUnprocessableEntity},
		{kind: "rate_limited", want: http.StatusTooManyRequests},
		{kind: "internal", want: http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.kind, func(t *testing.T) {
			if got := statusForKind(tt.kind); got != tt.want {
				t.Fatalf("statusForKind(%q) = %d, want %d", tt.kind, got, tt.want)
			}
		})
	}
}

func TestReceivableSettlementOverHTTP(t *testing.T) {
	server := newTestServer(t)
	consumer := bearer(t, "consumer-1")

	resp, _ := doRequest(t, http.MethodPost, server.URL+"/collateral/deposits", consumer,
		`{"token_mint":"So11111111111111111111111111111111111111112","amount":"10","value_usd":"250","ltv":"0.8"}`)
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	resp, body := doRequest(t, http.MethodPost, server.URL+"/internal/draws", internalHeaders,
		`{"merchant_id":"merchant-1","amount":"150","currency":"usdc"}`)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	sessionID := body["id"].(string)

	resp, body = doRequest(t, http.MethodPost, server.URL+"/draws/"+sessionID+"/approve", consumer, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	receivable := body["receivable"].(map[string]interface{})
	receivableID := receivable["id"].(string)
	assert.Equal(t, "processing", receivable["status"])
	assert.Equal(t, sessionID, receivable["draw_session_id"])

	resp, body = doRequest(t, http.MethodGet, server.URL+"/internal/receivables/"+receivableID, consumer, "")
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp, body = doRequest(t, http.MethodGet, server.URL+"/internal/receivables/"+receivableID, internalHeaders, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "merchant-1", body["merchant_id"])
	assert.Equal(t, "150", body["amount"])

	resp, body = doRequest(t, http.MethodGet, server.URL+"/internal/receivables?status=unknown", internalHeaders, "")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "invalid_request", body["kind"])

	resp, body = doRequest(t, http.MethodPost, server.URL+"/internal/receivables/"+receivableID+"/settle", internalHeaders, `{"settlement_ref":""}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "invalid_request", body["kind"])

	resp, body = doRequest(t, http.MethodPost, server.URL+"/internal/receivables/"+receivableID+"/settle", internalHeaders, `{"settlement_ref":"payout-42"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "settled", body["status"])
	assert.Equal(t, "payout-42", body["settlement_ref"])

	resp, body = doRequest(t, http.MethodPost, server.URL+"/internal/receivables/"+receivableID+"/settle", internalHeaders, `{"settlement_ref":"payout-43"}`)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	assert.Equal(t, "invalid_state", body["kind"])

	req, err := http.NewRequest(http.MethodGet, server.URL+"/internal/receivables?merchant_id=merchant-1&status=settled", nil)
	require.NoError(t, err)
	req.Header.Set("X-Internal-API-Key", testInternalKey)
	listResp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer listResp.Body.Close()
	require.Equal(t, http.StatusOK, listResp.StatusCode)
	var listed []map[string]interface{}
	require.NoError(t, json.NewDecoder(listResp.Body).Decode(&listed))
	require.Len(t, listed, 1)
	assert.Equal(t, receivableID, listed[0]["id"])
}

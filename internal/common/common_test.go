package common

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	redis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/backend-billing/internal/errs"
)

func TestClientIP(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "10.0.0.9:5000"
	require.Equal(t, "10.0.0.9", ClientIP(req))

	req.Header.Set("X-Real-IP", "192.0.2.7")
	require.Equal(t, "192.0.2.7", ClientIP(req))

	req.Header.Set("X-Forwarded-For", "203.0.113.5, 10.0.0.1")
	require.Equal(t, "203.0.113.5", ClientIP(req))

	req.Header.Set("X-Forwarded-For", "garbage")
	require.Equal(t, "192.0.2.7", ClientIP(req))
}

func TestDecodeJSON(t *testing.T) {
	var dst struct {
		Name string `json:"name"`
	}
	require.NoError(t, DecodeJSON(strings.NewReader(`{"name":"a"}`), &dst))
	require.Equal(t, "a", dst.Name)

	for _, body := range []string{``, `{"name":"a","extra":1}`, `{"name":"a"}{}`, `{`} {
		err := DecodeJSON(strings.NewReader(body), &dst)
		appErr, ok := AsAppError(err)
		require.True(t, ok, body)
		require.Equal(t, http.StatusBadRequest, appErr.HTTPStatus, body)
	}
}

type strictAmount string

func (a *strictAmount) UnmarshalJSON(data []byte) error {
	if string(data) != `"1.00"` {
		return errs.Validation("", "invalid amount %s", data)
	}
	*a = strictAmount(data)
	return nil
}

func TestDecodeJSONKeepsFieldValidationErrors(t *testing.T) {
	var dst struct {
		UnitPrice strictAmount `json:"unitPrice"`
	}
	require.NoError(t, DecodeJSON(strings.NewReader(`{"unitPrice":"1.00"}`), &dst))

	err := DecodeJSON(strings.NewReader(`{"unitPrice":"abc"}`), &dst)
	var verr *errs.ValidationError
	require.ErrorAs(t, err, &verr)
	require.ErrorIs(t, err, errs.ErrValidation)
	_, ok := AsAppError(err)
	require.False(t, ok)
}

func TestWriteAppError(t *testing.T) {
	rec := httptest.NewRecorder()
	WriteAppError(rec, Conflict(CodeOverpayment, "too much", nil).WithDetails(map[string]string{"maxAcceptable": "600.00"}))
	require.Equal(t, http.StatusConflict, rec.Code)
	require.JSONEq(t, `{"error":{"code":"OVERPAYMENT","message":"too much","details":{"maxAcceptable":"600.00"}}}`, rec.Body.String())

	rec = httptest.NewRecorder()
	WriteAppError(rec, errors.New("boom"))
	require.Equal(t, http.StatusInternalServerError, rec.Code)
	require.NotContains(t, rec.Body.String(), "boom")
}

func TestAtoiBounded(t *testing.T) {
	require.Equal(t, 50, AtoiBounded("", 50, 1, 200))
	require.Equal(t, 1, AtoiBounded("-3", 50, 1, 200))
	require.Equal(t, 200, AtoiBounded("1000", 50, 1, 200))
	require.Equal(t, 7, AtoiBounded(" 7 ", 50, 1, 200))
}

func TestIdemRejectsReplayAndReleasesFailures(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	status := http.StatusCreated
	calls := 0
	h := Idem{R: client, TTL: time.Minute}.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(status)
	}))

	do := func() int {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/invoices/inv-1/payments", nil)
		req.Header.Set(IdempotencyHeader, "key-1")
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		return rec.Code
	}

	status = http.StatusConflict
	require.Equal(t, http.StatusConflict, do())
	status = http.StatusCreated
	require.Equal(t, http.StatusCreated, do())
	require.Equal(t, http.StatusConflict, do())
	require.Equal(t, 2, calls)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/invoices/inv-1/payments", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	require.Equal(t, http.StatusCreated, rec.Code)
	require.Equal(t, 3, calls)
}

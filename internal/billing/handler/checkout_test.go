package handler

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	stripe "github.com/stripe/stripe-go/v82"

	"github.com/calebmartin/applywise/internal/billing/model"
	billingstripe "github.com/calebmartin/applywise/internal/billing/stripe"
)

const testBaseURL = "https://applywise.example.com"

var testPlanPrices = map[string]string{
	model.PlanWeekly:    "price_weekly",
	model.PlanMonthly:   "price_monthly",
	model.PlanQuarterly: "price_quarterly",
}

type mockPaymentClient struct {
	getPriceCalls int
	createCalls   int
	price         *stripe.Price
	priceErr      error
	session       *stripe.CheckoutSession
	sessionErr    error
	lastRequest   billingstripe.SessionRequest
}

func (m *mockPaymentClient) GetPrice(id string) (*stripe.Price, error) {
	m.getPriceCalls++
	return m.price, m.priceErr
}

func (m *mockPaymentClient) CreateCheckoutSession(req billingstripe.SessionRequest) (*stripe.CheckoutSession, error) {
	m.createCalls++
	m.lastRequest = req
	return m.session, m.sessionErr
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func validCheckoutBody() map[string]any {
	return map[string]any{
		"priceId":          "price_monthly",
		"planId":           "monthly",
		"planName":         "Monthly",
		"amount":           9.99,
		"userId":           "user_1",
		"stripeCustomerId": "cus_1",
	}
}

func postCheckout(t *testing.T, h *CheckoutHandler, origin string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	switch b := body.(type) {
	case string:
		buf.WriteString(b)
	default:
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest("POST", "/api/create-checkout-session", &buf)
	req.Header.Set("Origin", origin)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.CreateCheckoutSession(rec, req)
	return rec
}

func TestCheckoutRejectsBadOrigin(t *testing.T) {
	mock := &mockPaymentClient{}
	h := NewCheckoutHandler(mock, testPlanPrices, testBaseURL, testLogger())

	rec := postCheckout(t, h, "https://evil.example.com", validCheckoutBody())

	if rec.Code != http.StatusForbidden {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusForbidden)
	}
	if mock.getPriceCalls != 0 || mock.createCalls != 0 {
		t.Errorf("processor called despite rejected origin: %d price, %d session",
			mock.getPriceCalls, mock.createCalls)
	}
}

func TestCheckoutRejectsMissingOrigin(t *testing.T) {
	mock := &mockPaymentClient{}
	h := NewCheckoutHandler(mock, testPlanPrices, testBaseURL, testLogger())

	rec := postCheckout(t, h, "", validCheckoutBody())

	if rec.Code != http.StatusForbidden {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusForbidden)
	}
}

func TestCheckoutRejectsMalformedJSON(t *testing.T) {
	mock := &mockPaymentClient{}
	h := NewCheckoutHandler(mock, testPlanPrices, testBaseURL, testLogger())

	rec := postCheckout(t, h, testBaseURL, "{not json")

	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusBadRequest)
	}
}

func TestCheckoutRejectsUnknownPlan(t *testing.T) {
	mock := &mockPaymentClient{}
	h := NewCheckoutHandler(mock, testPlanPrices, testBaseURL, testLogger())

	body := validCheckoutBody()
	body["planId"] = "yearly"
	rec := postCheckout(t, h, testBaseURL, body)

	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusBadRequest)
	}
	if mock.getPriceCalls != 0 {
		t.Error("price lookup should not happen for unknown plan")
	}
}

func TestCheckoutRejectsEmptyFields(t *testing.T) {
	for _, field := range []string{"priceId", "planName", "userId", "stripeCustomerId"} {
		t.Run(field, func(t *testing.T) {
			mock := &mockPaymentClient{}
			h := NewCheckoutHandler(mock, testPlanPrices, testBaseURL, testLogger())

			body := validCheckoutBody()
			body[field] = ""
			rec := postCheckout(t, h, testBaseURL, body)

			if rec.Code != http.StatusBadRequest {
				t.Errorf("status = %d, want %d", rec.Code, http.StatusBadRequest)
			}
		})
	}
}

func TestCheckoutRejectsNonPositiveAmount(t *testing.T) {
	for _, amount := range []float64{0, -9.99} {
		mock := &mockPaymentClient{}
		h := NewCheckoutHandler(mock, testPlanPrices, testBaseURL, testLogger())

		body := validCheckoutBody()
		body["amount"] = amount
		rec := postCheckout(t, h, testBaseURL, body)

		if rec.Code != http.StatusBadRequest {
			t.Errorf("amount %v: status = %d, want %d", amount, rec.Code, http.StatusBadRequest)
		}
	}
}

func TestCheckoutRejectsPriceIDMismatch(t *testing.T) {
	mock := &mockPaymentClient{}
	h := NewCheckoutHandler(mock, testPlanPrices, testBaseURL, testLogger())

	body := validCheckoutBody()
	body["priceId"] = "price_weekly" // valid price, wrong plan
	rec := postCheckout(t, h, testBaseURL, body)

	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusBadRequest)
	}
	if mock.getPriceCalls != 0 {
		t.Error("price lookup should not happen when price id does not match the plan")
	}
}

func TestCheckoutRejectsAmountMismatch(t *testing.T) {
	mock := &mockPaymentClient{
		price: &stripe.Price{ID: "price_monthly", UnitAmount: 999},
	}
	h := NewCheckoutHandler(mock, testPlanPrices, testBaseURL, testLogger())

	body := validCheckoutBody()
	body["amount"] = 4.99
	rec := postCheckout(t, h, testBaseURL, body)

	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusBadRequest)
	}
	if mock.getPriceCalls != 1 {
		t.Errorf("price lookups = %d, want 1", mock.getPriceCalls)
	}
	if mock.createCalls != 0 {
		t.Error("session created despite amount mismatch")
	}
}

func TestCheckoutRejectsPriceWithoutUnitAmount(t *testing.T) {
	mock := &mockPaymentClient{
		price: &stripe.Price{ID: "price_monthly"},
	}
	h := NewCheckoutHandler(mock, testPlanPrices, testBaseURL, testLogger())

	rec := postCheckout(t, h, testBaseURL, validCheckoutBody())

	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusBadRequest)
	}
	if mock.createCalls != 0 {
		t.Error("session created for unverifiable price")
	}
}

func TestCheckoutPriceLookupFailure(t *testing.T) {
	mock := &mockPaymentClient{
		priceErr: io.ErrUnexpectedEOF,
	}
	h := NewCheckoutHandler(mock, testPlanPrices, testBaseURL, testLogger())

	rec := postCheckout(t, h, testBaseURL, validCheckoutBody())

	if rec.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusInternalServerError)
	}
	if strings.Contains(rec.Body.String(), "EOF") {
		t.Error("upstream error detail leaked to client")
	}
}

func TestCheckoutSuccess(t *testing.T) {
	mock := &mockPaymentClient{
		price: &stripe.Price{ID: "price_monthly", UnitAmount: 999},
		session: &stripe.CheckoutSession{
			ID:  "cs_123",
			URL: "https://checkout.stripe.com/c/pay/cs_123",
		},
	}
	h := NewCheckoutHandler(mock, testPlanPrices, testBaseURL, testLogger())

	rec := postCheckout(t, h, testBaseURL, validCheckoutBody())

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d; body: %s", rec.Code, http.StatusOK, rec.Body.String())
	}

	var resp map[string]string
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp["url"] == "" || resp["sessionId"] != "cs_123" {
		t.Errorf("response = %v", resp)
	}

	if mock.createCalls != 1 {
		t.Fatalf("session creations = %d, want 1", mock.createCalls)
	}
	if mock.lastRequest.PriceID != "price_monthly" {
		t.Errorf("session price = %q, want server-resolved %q", mock.lastRequest.PriceID, "price_monthly")
	}
	if mock.lastRequest.CustomerID != "cus_1" || mock.lastRequest.UserID != "user_1" {
		t.Errorf("session request = %+v", mock.lastRequest)
	}
}

func TestCheckoutSessionCreationFailure(t *testing.T) {
	mock := &mockPaymentClient{
		price:      &stripe.Price{ID: "price_monthly", UnitAmount: 999},
		sessionErr: io.ErrUnexpectedEOF,
	}
	h := NewCheckoutHandler(mock, testPlanPrices, testBaseURL, testLogger())

	rec := postCheckout(t, h, testBaseURL, validCheckoutBody())

	if rec.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusInternalServerError)
	}
}

package webhook

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/orderping/orderping/internal/db"
)

const testSecret = "whsec_test"

type fakeBillingRepo struct {
	subs map[string]*db.Subscription

	updatedWorkspace uuid.UUID
	updatedStatus    string
	updatedPeriodEnd *time.Time
	invoices         []*db.Invoice
}

func newFakeBillingRepo() *fakeBillingRepo {
	return &fakeBillingRepo{subs: make(map[string]*db.Subscription)}
}

func (r *fakeBillingRepo) FindSubscriptionByRazorpayCustomer(ctx context.Context, razorpayCustomerID string) (*db.Subscription, error) {
	sub, ok := r.subs[razorpayCustomerID]
	if !ok {
		return nil, db.ErrNotFound
	}
	return sub, nil
}

func (r *fakeBillingRepo) UpdateSubscription(ctx context.Context, workspaceID uuid.UUID, status string, currentPeriodEnd *time.Time) error {
	r.updatedWorkspace = workspaceID
	r.updatedStatus = status
	r.updatedPeriodEnd = currentPeriodEnd
	return nil
}

func (r *fakeBillingRepo) UpsertInvoice(ctx context.Context, inv *db.Invoice) error {
	r.invoices = append(r.invoices, inv)
	return nil
}

func sign(body string) string {
	mac := hmac.New(sha256.New, []byte(testSecret))
	mac.Write([]byte(body))
	return hex.EncodeToString(mac.Sum(nil))
}

func postRazorpay(t *testing.T, h *RazorpayHandler, body, signature string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/v1/webhooks/razorpay", bytes.NewBufferString(body))
	if signature != "" {
		req.Header.Set("x-razorpay-signature", signature)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestRazorpayRejectsBadSignature(t *testing.T) {
	repo := newFakeBillingRepo()
	workspaceID := uuid.New()
	repo.subs["cust_1"] = &db.Subscription{WorkspaceID: workspaceID}
	h := NewRazorpayHandler(zap.NewNop(), repo, testSecret)

	body := `{"event":"subscription.activated","payload":{"subscription":{"entity":{"customer_id":"cust_1","status":"active","current_end":1735689600}}}}`

	cases := []struct {
		name      string
		signature string
	}{
		{"missing", ""},
		{"wrong", "deadbeef"},
		{"signed with other secret", func() string {
			mac := hmac.New(sha256.New, []byte("other"))
			mac.Write([]byte(body))
			return hex.EncodeToString(mac.Sum(nil))
		}()},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := postRazorpay(t, h, body, tc.signature)
			if rec.Code != http.StatusUnauthorized {
				t.Errorf("expected 401, got %d", rec.Code)
			}
			if repo.updatedStatus != "" {
				t.Error("rejected webhook must not mutate state")
			}
		})
	}
}

func TestRazorpaySubscriptionEventUpdatesWorkspace(t *testing.T) {
	repo := newFakeBillingRepo()
	workspaceID := uuid.New()
	repo.subs["cust_1"] = &db.Subscription{WorkspaceID: workspaceID}
	h := NewRazorpayHandler(zap.NewNop(), repo, testSecret)

	body := `{"event":"subscription.charged","payload":{"subscription":{"entity":{"customer_id":"cust_1","status":"active","current_end":1735689600}}}}`
	rec := postRazorpay(t, h, body, sign(body))

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if repo.updatedWorkspace != workspaceID {
		t.Error("expected the mapped workspace to be updated")
	}
	if repo.updatedStatus != "active" {
		t.Errorf("expected status active, got %q", repo.updatedStatus)
	}
	if repo.updatedPeriodEnd == nil {
		t.Fatal("expected a period end")
	}
	want := time.Unix(1735689600, 0).UTC()
	if !repo.updatedPeriodEnd.Equal(want) {
		t.Errorf("expected period end %v, got %v", want, repo.updatedPeriodEnd)
	}
}

func TestRazorpaySubscriptionUnknownCustomerIsNoOp(t *testing.T) {
	repo := newFakeBillingRepo()
	h := NewRazorpayHandler(zap.NewNop(), repo, testSecret)

	body := `{"event":"subscription.cancelled","payload":{"subscription":{"entity":{"customer_id":"cust_missing","status":"cancelled"}}}}`
	rec := postRazorpay(t, h, body, sign(body))

	if rec.Code != http.StatusOK {
		t.Errorf("unknown customer must still be acknowledged, got %d", rec.Code)
	}
	if repo.updatedStatus != "" {
		t.Error("expected no subscription update")
	}
}

func TestRazorpayInvoiceEventUpserts(t *testing.T) {
	repo := newFakeBillingRepo()
	workspaceID := uuid.New()
	repo.subs["cust_1"] = &db.Subscription{WorkspaceID: workspaceID}
	h := NewRazorpayHandler(zap.NewNop(), repo, testSecret)

	body := `{"event":"invoice.paid","payload":{"invoice":{"entity":{"id":"inv_42","customer_id":"cust_1","amount":49900,"status":"paid","short_url":"https://rzp.io/i/abc","issued_at":1735689600}}}}`
	rec := postRazorpay(t, h, body, sign(body))

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if len(repo.invoices) != 1 {
		t.Fatalf("expected one invoice, got %d", len(repo.invoices))
	}

	inv := repo.invoices[0]
	if inv.WorkspaceID != workspaceID {
		t.Error("invoice mapped to wrong workspace")
	}
	if inv.RazorpayInvoiceID == nil || *inv.RazorpayInvoiceID != "inv_42" {
		t.Error("expected razorpay invoice id recorded")
	}
	if inv.AmountPaise != 49900 {
		t.Errorf("expected amount 49900, got %d", inv.AmountPaise)
	}
	if inv.Status == nil || *inv.Status != "paid" {
		t.Error("expected status paid")
	}
	if inv.PDFURL == nil || *inv.PDFURL != "https://rzp.io/i/abc" {
		t.Error("expected pdf url recorded")
	}
}

func TestRazorpayUnknownEventAcknowledged(t *testing.T) {
	repo := newFakeBillingRepo()
	h := NewRazorpayHandler(zap.NewNop(), repo, testSecret)

	body := `{"event":"payment.captured","payload":{}}`
	rec := postRazorpay(t, h, body, sign(body))

	if rec.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rec.Code)
	}
}

func TestRazorpayMalformedBodyRejected(t *testing.T) {
	repo := newFakeBillingRepo()
	h := NewRazorpayHandler(zap.NewNop(), repo, testSecret)

	body := `{"event":`
	rec := postRazorpay(t, h, body, sign(body))

	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", rec.Code)
	}
}

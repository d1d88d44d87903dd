package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"go.uber.org/zap"
)

type fakeGupshupRepo struct {
	delivered map[string]int64
	optedOut  []string
}

func newFakeGupshupRepo() *fakeGupshupRepo {
	return &fakeGupshupRepo{delivered: make(map[string]int64)}
}

func (r *fakeGupshupRepo) MarkDelivered(ctx context.Context, providerMessageID string) (int64, error) {
	n, ok := r.delivered[providerMessageID]
	if !ok {
		return 0, nil
	}
	return n, nil
}

func (r *fakeGupshupRepo) OptOutCustomersByNumber(ctx context.Context, number string) (int64, error) {
	r.optedOut = append(r.optedOut, number)
	return 1, nil
}

func postGupshup(t *testing.T, h *GupshupHandler, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/v1/webhooks/gupshup", bytes.NewBufferString(body))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestGupshupDeliveryReceipt(t *testing.T) {
	repo := newFakeGupshupRepo()
	repo.delivered["gs-123"] = 1
	h := NewGupshupHandler(zap.NewNop(), repo)

	rec := postGupshup(t, h, `{"type":"message-event","payload":{"type":"delivered","id":"gs-123"}}`)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var resp map[string]bool
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if !resp["success"] {
		t.Error("expected success ack")
	}
}

func TestGupshupDeliveryUnknownIDIsNoOp(t *testing.T) {
	repo := newFakeGupshupRepo()
	h := NewGupshupHandler(zap.NewNop(), repo)

	rec := postGupshup(t, h, `{"type":"message-event","payload":{"type":"delivered","id":"never-seen"}}`)

	if rec.Code != http.StatusOK {
		t.Errorf("unknown receipt must still be acknowledged, got %d", rec.Code)
	}
}

func TestGupshupInboundStopOptsOut(t *testing.T) {
	cases := []struct {
		name string
		text string
	}{
		{"uppercase stop", "STOP"},
		{"stop in sentence", "please stop messaging me"},
		{"unsubscribe", "Unsubscribe me"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			repo := newFakeGupshupRepo()
			h := NewGupshupHandler(zap.NewNop(), repo)

			body, _ := json.Marshal(map[string]interface{}{
				"type": "message",
				"payload": map[string]string{
					"type":   "text",
					"text":   tc.text,
					"source": "919876543210",
				},
			})
			rec := postGupshup(t, h, string(body))

			if rec.Code != http.StatusOK {
				t.Fatalf("expected 200, got %d", rec.Code)
			}
			if len(repo.optedOut) != 1 {
				t.Fatalf("expected one opt-out, got %d", len(repo.optedOut))
			}
			if repo.optedOut[0] != "+919876543210" {
				t.Errorf("expected normalized number, got %s", repo.optedOut[0])
			}
		})
	}
}

func TestGupshupInboundChitchatIgnored(t *testing.T) {
	repo := newFakeGupshupRepo()
	h := NewGupshupHandler(zap.NewNop(), repo)

	rec := postGupshup(t, h, `{"type":"message","payload":{"type":"text","text":"where is my order?","source":"919876543210"}}`)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if len(repo.optedOut) != 0 {
		t.Error("expected no opt-out for a normal message")
	}
}

func TestGupshupUnknownEventAcknowledged(t *testing.T) {
	repo := newFakeGupshupRepo()
	h := NewGupshupHandler(zap.NewNop(), repo)

	rec := postGupshup(t, h, `{"type":"billing-event","payload":{"type":"other"}}`)

	if rec.Code != http.StatusOK {
		t.Errorf("unknown callbacks must be acknowledged, got %d", rec.Code)
	}
}

func TestGupshupMalformedBodyRejected(t *testing.T) {
	repo := newFakeGupshupRepo()
	h := NewGupshupHandler(zap.NewNop(), repo)

	rec := postGupshup(t, h, `{"type":`)

	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", rec.Code)
	}
}

func TestParseGupshupEvent(t *testing.T) {
	cases := []struct {
		name string
		body string
		want Event
	}{
		{
			name: "delivery receipt",
			body: `{"type":"message-event","payload":{"type":"delivered","id":"gs-1"}}`,
			want: DeliveryEvent{ProviderMessageID: "gs-1"},
		},
		{
			name: "inbound text",
			body: `{"type":"message","payload":{"type":"text","text":"hi","source":"919876543210"}}`,
			want: InboundTextEvent{From: "919876543210", Text: "hi"},
		},
		{
			name: "read receipt ignored",
			body: `{"type":"message-event","payload":{"type":"read","id":"gs-1"}}`,
			want: UnknownEvent{Type: "message-event"},
		},
		{
			name: "image message ignored",
			body: `{"type":"message","payload":{"type":"image"}}`,
			want: UnknownEvent{Type: "message"},
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := ParseGupshupEvent([]byte(tc.body))
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tc.want {
				t.Errorf("expected %#v, got %#v", tc.want, got)
			}
		})
	}
}

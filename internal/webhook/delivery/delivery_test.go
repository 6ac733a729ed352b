package delivery

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/open-apime/apime-gateway/internal/storage/model"
	"github.com/open-apime/apime-gateway/internal/webhook/signature"
)

func TestAttemptSignsBody(t *testing.T) {
	var (
		gotBody    []byte
		gotHeaders http.Header
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotBody, _ = io.ReadAll(r.Body)
		gotHeaders = r.Header.Clone()
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	d := NewDelivery("segredo", time.Second, zap.NewNop())
	event := model.WebhookEvent{
		ID:         "evt-1",
		Type:       model.EventMessage,
		InstanceID: "bot-1",
		Timestamp:  1700000000000,
		Payload:    map[string]any{"text": "oi"},
	}

	res := d.Attempt(context.Background(), srv.URL, event, 2)
	if !res.Delivered() {
		t.Fatalf("esperava entrega, got %+v", res)
	}

	var body Body
	if err := json.Unmarshal(gotBody, &body); err != nil {
		t.Fatalf("body inválido: %v", err)
	}
	if body.Event != "message" || body.InstanceID != "bot-1" || body.Data["text"] != "oi" {
		t.Fatalf("body = %+v", body)
	}

	ts, err := strconv.ParseInt(gotHeaders.Get(HeaderTimestamp), 10, 64)
	if err != nil {
		t.Fatalf("timestamp: %v", err)
	}
	if !signature.Verify(gotBody, ts, gotHeaders.Get(HeaderSignature), "segredo", time.Now()) {
		t.Fatal("assinatura não confere")
	}
	if gotHeaders.Get(HeaderDelivery) != "2" || gotHeaders.Get(HeaderEvent) != "message" {
		t.Fatalf("headers = %v", gotHeaders)
	}
	if gotHeaders.Get("Content-Type") != "application/json" {
		t.Fatalf("content-type = %q", gotHeaders.Get("Content-Type"))
	}
}

func TestAttemptNon2xxAndTimeout(t *testing.T) {
	fail := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer fail.Close()

	d := NewDelivery("s", time.Second, zap.NewNop())
	res := d.Attempt(context.Background(), fail.URL, model.WebhookEvent{Type: "qr"}, 1)
	if res.Delivered() || res.StatusCode != http.StatusBadGateway || res.Error() != "status 502" {
		t.Fatalf("got %+v", res)
	}

	slow := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer slow.Close()

	d = NewDelivery("s", 50*time.Millisecond, zap.NewNop())
	res = d.Attempt(context.Background(), slow.URL, model.WebhookEvent{Type: "qr"}, 1)
	if res.Delivered() || res.Err == nil {
		t.Fatalf("esperava timeout, got %+v", res)
	}
}

package webhook

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/open-apime/apime-gateway/internal/pkg/queue/memory"
	"github.com/open-apime/apime-gateway/internal/storage/model"
	"github.com/open-apime/apime-gateway/internal/webhook/delivery"
	"github.com/open-apime/apime-gateway/internal/webhook/signature"
)

// scriptedAttempter falha as primeiras failures[eventID] tentativas de cada evento.
type scriptedAttempter struct {
	mu       sync.Mutex
	failures map[string]int
	always   bool
	calls    []string
	urls     []string
}

func (s *scriptedAttempter) Attempt(ctx context.Context, url string, event model.WebhookEvent, attempt int) delivery.Result {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, event.ID+"#"+strconv.Itoa(attempt))
	s.urls = append(s.urls, url)
	if s.always || attempt <= s.failures[event.ID] {
		return delivery.Result{StatusCode: http.StatusInternalServerError}
	}
	return delivery.Result{StatusCode: http.StatusOK}
}

func (s *scriptedAttempter) snapshot() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.calls...)
}

func newTestDispatcher(t *testing.T, att Attempter, opts Options) *Dispatcher {
	t.Helper()
	q := memory.NewQueue(0)
	if opts.PollInterval == 0 {
		opts.PollInterval = 20 * time.Millisecond
	}
	d := NewDispatcher(q, att, NewStats(), opts, zap.NewNop())
	t.Cleanup(func() {
		d.Stop()
		q.Close()
	})
	return d
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timeout aguardando: %s", what)
}

func event(id string) model.WebhookEvent {
	return model.WebhookEvent{ID: id, Type: model.EventMessage, InstanceID: "bot-1"}
}

func TestDispatcherPreservesOrderAcrossRetries(t *testing.T) {
	att := &scriptedAttempter{failures: map[string]int{"A": 2}}
	d := newTestDispatcher(t, att, Options{MaxRetries: 6, RetryDelay: time.Millisecond, BackoffFactor: 2})
	d.Register("bot-1", "http://hook", nil)

	for _, id := range []string{"A", "B", "C"} {
		d.Enqueue("bot-1", event(id))
	}

	waitFor(t, "5 tentativas", func() bool { return len(att.snapshot()) == 5 })
	want := []string{"A#1", "A#2", "A#3", "B#1", "C#1"}
	got := att.snapshot()
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("ordem = %v, want %v", got, want)
		}
	}

	st, _ := d.Status(context.Background(), "bot-1")
	if st.Stats.Queued != 3 || st.Stats.Delivered != 3 || st.Stats.Failed != 2 {
		t.Fatalf("stats = %+v", st.Stats)
	}
}

func TestDispatcherRetryBound(t *testing.T) {
	att := &scriptedAttempter{always: true}
	d := newTestDispatcher(t, att, Options{MaxRetries: 3, RetryDelay: time.Millisecond, BackoffFactor: 1})
	d.Register("bot-1", "http://hook", nil)

	d.Enqueue("bot-1", event("X"))
	waitFor(t, "failed=3", func() bool {
		st, _ := d.Status(context.Background(), "bot-1")
		return st.Stats.Failed == 3
	})
	time.Sleep(50 * time.Millisecond)

	if n := len(att.snapshot()); n != 3 {
		t.Fatalf("tentativas = %d, want 3", n)
	}
	st, _ := d.Status(context.Background(), "bot-1")
	if st.Stats.Delivered != 0 || st.Stats.Queued != 1 {
		t.Fatalf("stats = %+v", st.Stats)
	}
}

func TestDispatcherFiltersBySubscription(t *testing.T) {
	att := &scriptedAttempter{}
	d := newTestDispatcher(t, att, Options{})
	d.Register("bot-1", "http://hook", []string{model.EventMessage})
	d.Register("silent", "", nil)

	d.Enqueue("bot-1", model.WebhookEvent{ID: "q", Type: model.EventQR, InstanceID: "bot-1"})
	d.Enqueue("silent", model.WebhookEvent{ID: "s", Type: model.EventMessage, InstanceID: "silent"})
	d.Enqueue("ghost", model.WebhookEvent{ID: "g", Type: model.EventMessage, InstanceID: "ghost"})
	d.Enqueue("bot-1", event("m"))

	waitFor(t, "entrega de m", func() bool { return len(att.snapshot()) == 1 })
	if got := att.snapshot()[0]; got != "m#1" {
		t.Fatalf("entregue = %s", got)
	}
	if st, _ := d.Status(context.Background(), "bot-1"); st.Stats.Queued != 1 {
		t.Fatalf("queued = %d", st.Stats.Queued)
	}
	if st, _ := d.Status(context.Background(), "silent"); st.Stats.Queued != 0 || st.WebhookURL != nil {
		t.Fatalf("silent = %+v", st)
	}
}

func TestDispatcherUsesCurrentURL(t *testing.T) {
	att := &scriptedAttempter{failures: map[string]int{"A": 1}}
	d := newTestDispatcher(t, att, Options{MaxRetries: 3, RetryDelay: 100 * time.Millisecond, BackoffFactor: 1})
	d.Register("bot-1", "http://old", nil)

	d.Enqueue("bot-1", event("A"))
	waitFor(t, "primeira tentativa", func() bool { return len(att.snapshot()) == 1 })
	if err := d.Configure("bot-1", "http://new", nil); err != nil {
		t.Fatal(err)
	}
	waitFor(t, "retry", func() bool { return len(att.snapshot()) == 2 })

	att.mu.Lock()
	defer att.mu.Unlock()
	if att.urls[0] != "http://old" || att.urls[1] != "http://new" {
		t.Fatalf("urls = %v", att.urls)
	}
}

func TestDispatcherCancelDiscardsPending(t *testing.T) {
	att := &scriptedAttempter{always: true}
	d := newTestDispatcher(t, att, Options{MaxRetries: 6, RetryDelay: time.Hour})
	d.Register("bot-1", "http://hook", nil)

	d.Enqueue("bot-1", event("A"))
	d.Enqueue("bot-1", event("B"))
	waitFor(t, "primeira tentativa", func() bool { return len(att.snapshot()) == 1 })

	start := time.Now()
	d.Cancel(context.Background(), "bot-1")
	if time.Since(start) > time.Second {
		t.Fatal("Cancel deveria interromper a espera de retry")
	}

	st, _ := d.Status(context.Background(), "bot-1")
	if st.Pending != 0 {
		t.Fatalf("pending = %d", st.Pending)
	}
	time.Sleep(50 * time.Millisecond)
	if n := len(att.snapshot()); n != 1 {
		t.Fatalf("nenhuma tentativa deveria ocorrer após Cancel, got %d", n)
	}

	att.mu.Lock()
	att.always = false
	att.mu.Unlock()
	d.Enqueue("bot-1", event("C"))
	waitFor(t, "worker reiniciado", func() bool { return len(att.snapshot()) == 2 })
}

func TestDispatcherRemove(t *testing.T) {
	d := newTestDispatcher(t, &scriptedAttempter{}, Options{})
	d.Register("bot-1", "http://hook", nil)
	d.Remove(context.Background(), "bot-1")

	if _, err := d.Status(context.Background(), "bot-1"); !errors.Is(err, ErrUnknownInstance) {
		t.Fatalf("got %v", err)
	}
	if _, err := d.TestDelivery("bot-1", ""); !errors.Is(err, ErrUnknownInstance) {
		t.Fatalf("got %v", err)
	}
}

func TestTestDeliveryValidation(t *testing.T) {
	d := newTestDispatcher(t, &scriptedAttempter{}, Options{})
	d.Register("nohook", "", nil)
	d.Register("bot-1", "http://hook", []string{model.EventMessage})

	if _, err := d.TestDelivery("nohook", ""); !errors.Is(err, ErrNoWebhook) {
		t.Fatalf("got %v", err)
	}
	if _, err := d.TestDelivery("bot-1", "bogus"); !errors.Is(err, ErrUnknownEvent) {
		t.Fatalf("got %v", err)
	}
	ev, err := d.TestDelivery("bot-1", model.EventQR)
	if err != nil {
		t.Fatalf("TestDelivery: %v", err)
	}
	if ev.Type != model.EventQR || ev.ID == "" || ev.InstanceID != "bot-1" {
		t.Fatalf("evento = %+v", ev)
	}
}

func TestBackoff(t *testing.T) {
	d := NewDispatcher(memory.NewQueue(0), &scriptedAttempter{}, NewStats(),
		Options{RetryDelay: time.Minute, BackoffFactor: 2}, zap.NewNop())
	want := []time.Duration{time.Minute, 2 * time.Minute, 4 * time.Minute, 8 * time.Minute}
	for i, w := range want {
		if got := d.backoff(i + 1); got != w {
			t.Errorf("backoff(%d) = %v, want %v", i+1, got, w)
		}
	}
}

func TestNewEventTimestampsAreMonotonic(t *testing.T) {
	d := NewDispatcher(memory.NewQueue(0), &scriptedAttempter{}, NewStats(), Options{}, zap.NewNop())
	base := time.UnixMilli(1_700_000_000_000)
	d.now = func() time.Time { return base }
	first := d.NewEvent("a", model.EventQR, nil)
	d.now = func() time.Time { return base.Add(-time.Second) }
	second := d.NewEvent("a", model.EventReady, nil)
	if second.Timestamp < first.Timestamp {
		t.Fatalf("timestamp regrediu: %d < %d", second.Timestamp, first.Timestamp)
	}
	if first.ID == second.ID {
		t.Fatal("ids devem ser únicos")
	}
}

// Cenário ponta a ponta: evento de teste chega assinado ao endpoint.
func TestTestDeliveryReachesEndpointSigned(t *testing.T) {
	type hit struct {
		body []byte
		sig  string
		ts   string
	}
	hits := make(chan hit, 4)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		hits <- hit{body: b, sig: r.Header.Get(delivery.HeaderSignature), ts: r.Header.Get(delivery.HeaderTimestamp)}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	d := newTestDispatcher(t, delivery.NewDelivery("topsecret", time.Second, zap.NewNop()), Options{})
	d.Register("bot-1", srv.URL+"/hook", []string{model.EventMessage})

	if _, err := d.TestDelivery("bot-1", model.EventMessage); err != nil {
		t.Fatal(err)
	}

	select {
	case h := <-hits:
		ts, _ := strconv.ParseInt(h.ts, 10, 64)
		if !signature.Verify(h.body, ts, h.sig, "topsecret", time.Now()) {
			t.Fatal("assinatura inválida")
		}
	case <-time.After(3 * time.Second):
		t.Fatal("webhook não recebido")
	}

	select {
	case <-hits:
		t.Fatal("esperava exatamente um POST")
	case <-time.After(100 * time.Millisecond):
	}
}

package app

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/open-apime/apime-gateway/internal/config"
	"github.com/open-apime/apime-gateway/internal/pkg/apperror"
	"github.com/open-apime/apime-gateway/internal/pkg/response"
	"github.com/open-apime/apime-gateway/internal/session/stub"
	"github.com/open-apime/apime-gateway/internal/webhook/delivery"
	"github.com/open-apime/apime-gateway/internal/webhook/signature"
)

const (
	testAPIKey = "chave-de-teste"
	testSecret = "segredo-de-teste"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func testConfig(t *testing.T) config.Config {
	t.Helper()
	dir := t.TempDir()
	cfg, err := config.Parse(map[string]string{
		"API_KEY":                testAPIKey,
		"WEBHOOK_SECRET":         testSecret,
		"WEBHOOK_RETRY_DELAY_MS": "10",
		"WEBHOOK_TIMEOUT_MS":     "2000",
		"DB_DRIVER":              "memory",
		"PROVIDER":               "stub",
		"DATA_DIR":               dir,
		"SESSION_DIR":            dir + "/sessions",
	})
	if err != nil {
		t.Fatalf("config: %v", err)
	}
	return cfg
}

func build(t *testing.T, opts ...Option) *Container {
	t.Helper()
	c, err := Build(context.Background(), testConfig(t), zap.NewNop(), opts...)
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	t.Cleanup(func() { _ = c.Close(context.Background()) })
	return c
}

type client struct {
	t *testing.T
	h http.Handler
}

func (c client) do(method, path string, body any, auth bool) *httptest.ResponseRecorder {
	c.t.Helper()
	var rd io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			c.t.Fatal(err)
		}
		rd = bytes.NewReader(b)
	}
	req := httptest.NewRequest(method, path, rd)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if auth {
		req.Header.Set("Authorization", "Bearer "+testAPIKey)
	}
	w := httptest.NewRecorder()
	c.h.ServeHTTP(w, req)
	return w
}

func errorCode(t *testing.T, w *httptest.ResponseRecorder) string {
	t.Helper()
	var env response.ErrorEnvelope
	if err := json.Unmarshal(w.Body.Bytes(), &env); err != nil {
		t.Fatalf("corpo não é envelope de erro: %s", w.Body.String())
	}
	if env.Error.CorrelationID == "" {
		t.Fatal("correlationId vazio")
	}
	return env.Error.Code
}

func expect(t *testing.T, w *httptest.ResponseRecorder, status int) {
	t.Helper()
	if w.Code != status {
		t.Fatalf("esperado %d, obtido %d: %s", status, w.Code, w.Body.String())
	}
}

func waitStatus(t *testing.T, c client, id, want string) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		w := c.do(http.MethodGet, "/instances/"+id+"/status", nil, true)
		var body struct {
			Status string `json:"status"`
		}
		_ = json.Unmarshal(w.Body.Bytes(), &body)
		if body.Status == want {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("instância %s não chegou em %s", id, want)
}

func TestBuildUsesStubProvider(t *testing.T) {
	c := build(t)
	if _, ok := c.Sessions.(*stub.Factory); !ok {
		t.Fatalf("esperava stub.Factory, obtido %T", c.Sessions)
	}
	if c.Repos.RedisClient != nil {
		t.Fatal("Redis não deveria estar habilitado")
	}
	if err := c.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
}

func TestPublicAndProtectedRoutes(t *testing.T) {
	c := client{t: t, h: build(t).Router}

	expect(t, c.do(http.MethodGet, "/healthz", nil, false), http.StatusOK)
	expect(t, c.do(http.MethodGet, "/", nil, false), http.StatusOK)
	expect(t, c.do(http.MethodGet, "/metrics", nil, false), http.StatusOK)

	w := c.do(http.MethodGet, "/instances", nil, false)
	expect(t, w, http.StatusUnauthorized)
	if code := errorCode(t, w); code != apperror.CodeUnauthorized {
		t.Fatalf("código %s", code)
	}
	if w.Header().Get(response.HeaderCorrelationID) == "" {
		t.Fatal("header de correlação ausente")
	}

	w = c.do(http.MethodGet, "/nao-existe", nil, true)
	expect(t, w, http.StatusNotFound)
	if code := errorCode(t, w); code != apperror.CodeNotFound {
		t.Fatalf("código %s", code)
	}
}

func TestInstanceCreateErrors(t *testing.T) {
	c := client{t: t, h: build(t).Router}

	w := c.do(http.MethodPost, "/instances", map[string]any{"instanceId": "bot-1"}, true)
	expect(t, w, http.StatusCreated)

	w = c.do(http.MethodPost, "/instances", map[string]any{"instanceId": "bot-1"}, true)
	expect(t, w, http.StatusConflict)
	if code := errorCode(t, w); code != apperror.CodeConflict {
		t.Fatalf("código %s", code)
	}

	w = c.do(http.MethodPost, "/instances", map[string]any{"instanceId": "com espaço"}, true)
	expect(t, w, http.StatusBadRequest)
	if code := errorCode(t, w); code != apperror.CodeInvalidRequest {
		t.Fatalf("código %s", code)
	}

	w = c.do(http.MethodPost, "/instances", map[string]any{"webhookUrl": "https://example.com"}, true)
	expect(t, w, http.StatusBadRequest)
	if code := errorCode(t, w); code != apperror.CodeValidation {
		t.Fatalf("código %s", code)
	}

	w = c.do(http.MethodGet, "/instances/fantasma", nil, true)
	expect(t, w, http.StatusNotFound)
}

func TestInstanceLifecycleOverHTTP(t *testing.T) {
	c := client{t: t, h: build(t).Router}

	expect(t, c.do(http.MethodPost, "/instances", map[string]any{"instanceId": "bot-1"}, true), http.StatusCreated)

	send := map[string]any{"to": "5511999999999", "text": "olá"}
	w := c.do(http.MethodPost, "/instances/bot-1/messages/text", send, true)
	expect(t, w, http.StatusServiceUnavailable)
	if code := errorCode(t, w); code != apperror.CodeServiceUnavailable {
		t.Fatalf("código %s", code)
	}
	expect(t, c.do(http.MethodPost, "/instances/bot-1/logout", nil, true), http.StatusServiceUnavailable)

	expect(t, c.do(http.MethodPost, "/instances/bot-1/connect", nil, true), http.StatusOK)
	waitStatus(t, c, "bot-1", "connected")

	w = c.do(http.MethodPost, "/instances/bot-1/messages/text", send, true)
	expect(t, w, http.StatusOK)
	if !strings.Contains(w.Body.String(), "messageId") {
		t.Fatalf("resposta sem messageId: %s", w.Body.String())
	}
	expect(t, c.do(http.MethodPost, "/instances/bot-1/presence", map[string]any{"presence": "available"}, true), http.StatusOK)
	expect(t, c.do(http.MethodPost, "/instances/bot-1/contacts/check", map[string]any{"phones": []string{"5511999999999"}}, true), http.StatusOK)

	expect(t, c.do(http.MethodPost, "/instances/bot-1/disconnect", nil, true), http.StatusOK)
	expect(t, c.do(http.MethodPost, "/instances/bot-1/disconnect", nil, true), http.StatusOK)
	waitStatus(t, c, "bot-1", "disconnected")

	expect(t, c.do(http.MethodDelete, "/instances/bot-1", nil, true), http.StatusOK)
	expect(t, c.do(http.MethodGet, "/instances/bot-1", nil, true), http.StatusNotFound)
	expect(t, c.do(http.MethodDelete, "/instances/bot-1", nil, true), http.StatusNotFound)
}

func TestWebhookTestOverHTTP(t *testing.T) {
	type hit struct {
		body []byte
		sig  string
		ts   string
	}
	hits := make(chan hit, 8)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		hits <- hit{body: b, sig: r.Header.Get(delivery.HeaderSignature), ts: r.Header.Get(delivery.HeaderTimestamp)}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c := client{t: t, h: build(t).Router}

	expect(t, c.do(http.MethodPost, "/instances", map[string]any{"instanceId": "sem-hook"}, true), http.StatusCreated)
	w := c.do(http.MethodPost, "/instances/sem-hook/webhook/test", nil, true)
	expect(t, w, http.StatusBadRequest)

	expect(t, c.do(http.MethodPost, "/instances", map[string]any{
		"instanceId":    "com-hook",
		"webhookUrl":    srv.URL,
		"webhookEvents": []string{"message"},
	}, true), http.StatusCreated)

	w = c.do(http.MethodPost, "/instances/com-hook/webhook/test", nil, true)
	expect(t, w, http.StatusOK)
	var synthesized struct {
		Queued     bool           `json:"queued"`
		EventID    string         `json:"eventId"`
		Event      string         `json:"event"`
		InstanceID string         `json:"instanceId"`
		Timestamp  int64          `json:"timestamp"`
		Data       map[string]any `json:"data"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &synthesized); err != nil {
		t.Fatal(err)
	}
	if !synthesized.Queued || synthesized.EventID == "" || synthesized.Event != "test" ||
		synthesized.InstanceID != "com-hook" || synthesized.Timestamp == 0 || synthesized.Data["test"] != true {
		t.Fatalf("evento sintetizado incompleto: %s", w.Body.String())
	}

	select {
	case h := <-hits:
		ts, _ := strconv.ParseInt(h.ts, 10, 64)
		if !signature.Verify(h.body, ts, h.sig, testSecret, time.Now()) {
			t.Fatal("assinatura inválida")
		}
		var body delivery.Body
		if err := json.Unmarshal(h.body, &body); err != nil {
			t.Fatal(err)
		}
		if body.InstanceID != "com-hook" {
			t.Fatalf("instanceId %q", body.InstanceID)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("webhook de teste não recebido")
	}

	deadline := time.Now().Add(2 * time.Second)
	for {
		w = c.do(http.MethodGet, "/instances/com-hook/webhook/status", nil, true)
		expect(t, w, http.StatusOK)
		if strings.Contains(w.Body.String(), `"delivered":1`) {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("status sem entrega registrada: %s", w.Body.String())
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestWithSessionFactoryOverridesDriver(t *testing.T) {
	f := stub.NewFactory()
	c := build(t, WithSessionFactory(f))
	if c.Sessions != f {
		t.Fatal("factory injetada não foi usada")
	}
}

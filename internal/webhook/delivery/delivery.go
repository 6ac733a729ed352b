package delivery

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/open-apime/apime-gateway/internal/logger"
	"github.com/open-apime/apime-gateway/internal/storage/model"
	"github.com/open-apime/apime-gateway/internal/webhook/signature"
)

const (
	HeaderSignature = "X-ApiMe-Signature"
	HeaderTimestamp = "X-ApiMe-Timestamp"
	HeaderEvent     = "X-ApiMe-Event"
	HeaderDelivery  = "X-ApiMe-Delivery"
	HeaderEventID   = "X-ApiMe-Event-Id"

	userAgent = "ApiMe/1.0"
)

// Body é o formato enviado no POST do webhook.
type Body struct {
	Event      string         `json:"event"`
	InstanceID string         `json:"instanceId"`
	Timestamp  int64          `json:"timestamp"`
	Data       map[string]any `json:"data"`
}

func BodyFor(event model.WebhookEvent) Body {
	data := event.Payload
	if data == nil {
		data = map[string]any{}
	}
	return Body{
		Event:      event.Type,
		InstanceID: event.InstanceID,
		Timestamp:  event.Timestamp,
		Data:       data,
	}
}

// Result descreve uma única tentativa.
type Result struct {
	StatusCode int
	Duration   time.Duration
	Err        error
}

func (r Result) Delivered() bool {
	return r.Err == nil && r.StatusCode >= 200 && r.StatusCode < 300
}

// Error resume a falha para logs e para DeliveryAttempt.LastError.
func (r Result) Error() string {
	if r.Err != nil {
		return r.Err.Error()
	}
	if r.Delivered() {
		return ""
	}
	return fmt.Sprintf("status %d", r.StatusCode)
}

type Delivery struct {
	client  *http.Client
	secret  string
	timeout time.Duration
	now     func() time.Time
	log     *zap.Logger
}

func NewDelivery(secret string, timeout time.Duration, log *zap.Logger) *Delivery {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Delivery{
		client:  &http.Client{},
		secret:  secret,
		timeout: timeout,
		now:     time.Now,
		log:     log,
	}
}

// Attempt faz um único POST assinado. O timestamp assinado é o do momento da
// tentativa, para que retentativas tardias continuem dentro da janela de replay.
func (d *Delivery) Attempt(ctx context.Context, url string, event model.WebhookEvent, attempt int) Result {
	start := d.now()

	payload, err := json.Marshal(BodyFor(event))
	if err != nil {
		return Result{Err: fmt.Errorf("delivery: marshal: %w", err)}
	}

	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return Result{Err: fmt.Errorf("delivery: new request: %w", err)}
	}

	ts := start.UnixMilli()
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set(HeaderSignature, signature.Sign(payload, ts, d.secret))
	req.Header.Set(HeaderTimestamp, strconv.FormatInt(ts, 10))
	req.Header.Set(HeaderEvent, event.Type)
	req.Header.Set(HeaderDelivery, strconv.Itoa(attempt))
	req.Header.Set(HeaderEventID, event.ID)

	resp, err := d.client.Do(req)
	if err != nil {
		return Result{Duration: time.Since(start), Err: fmt.Errorf("delivery: request: %w", err)}
	}
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
	resp.Body.Close()

	res := Result{StatusCode: resp.StatusCode, Duration: time.Since(start)}
	d.log.Debug("delivery: resposta recebida",
		logger.InstanceID(event.InstanceID),
		logger.EventID(event.ID),
		logger.Attempt(attempt),
		zap.Int("status", resp.StatusCode),
		zap.Duration("duration", res.Duration),
	)
	return res
}

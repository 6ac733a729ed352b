package message

import (
	"context"
	"testing"

	"go.uber.org/zap"

	"github.com/open-apime/apime-gateway/internal/pkg/apperror"
	"github.com/open-apime/apime-gateway/internal/session"
)

type fakeGateway struct {
	sent      []string
	presence  *bool
	connected bool
}

func (f *fakeGateway) SendText(ctx context.Context, id, to, text string) (string, error) {
	if !f.connected {
		return "", apperror.ServiceUnavailable("instância não conectada", nil)
	}
	f.sent = append(f.sent, to+":"+text)
	return "MSG1", nil
}

func (f *fakeGateway) SendPresence(ctx context.Context, id string, available bool) error {
	f.presence = &available
	return nil
}

func (f *fakeGateway) CheckNumbers(ctx context.Context, id string, phones []string) ([]session.NumberStatus, error) {
	out := make([]session.NumberStatus, len(phones))
	for i, p := range phones {
		out[i] = session.NumberStatus{Phone: p, Exists: true}
	}
	return out, nil
}

func TestSendTextValidatesInput(t *testing.T) {
	gw := &fakeGateway{connected: true}
	svc := NewService(gw, zap.NewNop())
	ctx := context.Background()

	cases := []SendTextInput{
		{InstanceID: "bot", To: "abc", Text: "oi"},
		{InstanceID: "bot", To: "123", Text: "oi"},
		{InstanceID: "bot", To: "5511999998888", Text: "   "},
		{InstanceID: "bot", To: "@s.whatsapp.net", Text: "oi"},
	}
	for _, in := range cases {
		if _, err := svc.SendText(ctx, in); !apperror.Is(err, apperror.CodeInvalidRequest) {
			t.Fatalf("%+v: esperado INVALID_REQUEST, obtido %v", in, err)
		}
	}
	if len(gw.sent) != 0 {
		t.Fatal("nada deveria ser enviado")
	}

	res, err := svc.SendText(ctx, SendTextInput{InstanceID: "bot", To: "+5511999998888", Text: "oi"})
	if err != nil {
		t.Fatalf("SendText: %v", err)
	}
	if res.MessageID != "MSG1" {
		t.Fatalf("messageId inesperado: %s", res.MessageID)
	}
	if _, err := svc.SendText(ctx, SendTextInput{InstanceID: "bot", To: "120363000000000000@g.us", Text: "grupo"}); err != nil {
		t.Fatalf("JID de grupo deveria ser aceito: %v", err)
	}
}

func TestSendTextPropagatesServiceUnavailable(t *testing.T) {
	svc := NewService(&fakeGateway{}, zap.NewNop())
	_, err := svc.SendText(context.Background(), SendTextInput{InstanceID: "bot", To: "5511999998888", Text: "oi"})
	if !apperror.Is(err, apperror.CodeServiceUnavailable) {
		t.Fatalf("esperado SERVICE_UNAVAILABLE, obtido %v", err)
	}
}

func TestSetPresence(t *testing.T) {
	gw := &fakeGateway{connected: true}
	svc := NewService(gw, zap.NewNop())
	if err := svc.SetPresence(context.Background(), "bot", "available"); err != nil {
		t.Fatalf("SetPresence: %v", err)
	}
	if gw.presence == nil || !*gw.presence {
		t.Fatal("presence available não aplicado")
	}
	if err := svc.SetPresence(context.Background(), "bot", "typing"); !apperror.Is(err, apperror.CodeInvalidRequest) {
		t.Fatalf("esperado INVALID_REQUEST, obtido %v", err)
	}
}

func TestCheckNumbersLimits(t *testing.T) {
	svc := NewService(&fakeGateway{connected: true}, zap.NewNop())
	ctx := context.Background()
	if _, err := svc.CheckNumbers(ctx, "bot", nil); !apperror.Is(err, apperror.CodeInvalidRequest) {
		t.Fatalf("lista vazia: esperado INVALID_REQUEST, obtido %v", err)
	}
	if _, err := svc.CheckNumbers(ctx, "bot", []string{"55119x"}); !apperror.Is(err, apperror.CodeInvalidRequest) {
		t.Fatalf("número inválido: esperado INVALID_REQUEST, obtido %v", err)
	}
	res, err := svc.CheckNumbers(ctx, "bot", []string{"+5511999998888"})
	if err != nil {
		t.Fatalf("CheckNumbers: %v", err)
	}
	if res[0].Phone != "5511999998888" {
		t.Fatalf("número deveria ser normalizado sem +, obtido %s", res[0].Phone)
	}
}

package whatsmeow

import (
	"testing"
	"time"

	"go.mau.fi/whatsmeow/proto/waCommon"
	"go.mau.fi/whatsmeow/proto/waE2E"
	"go.mau.fi/whatsmeow/types"
	"go.mau.fi/whatsmeow/types/events"
	"google.golang.org/protobuf/proto"

	"github.com/open-apime/apime-gateway/internal/session"
)

func incoming(msg *waE2E.Message) *events.Message {
	return &events.Message{
		Info: types.MessageInfo{
			MessageSource: types.MessageSource{
				Chat:   types.NewJID("5511988887777", types.DefaultUserServer),
				Sender: types.NewJID("5511988887777", types.DefaultUserServer),
			},
			ID:        "MSG1",
			PushName:  "Ana",
			Timestamp: time.UnixMilli(1700000000000),
		},
		Message: msg,
	}
}

func TestNormalizeText(t *testing.T) {
	evt := normalizeMessage(incoming(&waE2E.Message{Conversation: proto.String("olá")}))
	if evt.Type != session.EventMessage {
		t.Fatalf("type = %s", evt.Type)
	}
	if evt.Data["text"] != "olá" || evt.Data["messageId"] != "MSG1" || evt.Data["pushName"] != "Ana" {
		t.Fatalf("data = %v", evt.Data)
	}
	if evt.Data["from"] != "5511988887777@s.whatsapp.net" {
		t.Fatalf("from = %v", evt.Data["from"])
	}
}

func TestNormalizeReaction(t *testing.T) {
	evt := normalizeMessage(incoming(&waE2E.Message{
		ReactionMessage: &waE2E.ReactionMessage{
			Key:  &waCommon.MessageKey{ID: proto.String("TARGET")},
			Text: proto.String("👍"),
		},
	}))
	if evt.Type != session.EventMessageReaction || evt.Data["targetId"] != "TARGET" || evt.Data["reaction"] != "👍" {
		t.Fatalf("evt = %+v", evt)
	}
}

func TestNormalizeRevokeAndEdit(t *testing.T) {
	revoke := normalizeMessage(incoming(&waE2E.Message{
		ProtocolMessage: &waE2E.ProtocolMessage{
			Key:  &waCommon.MessageKey{ID: proto.String("GONE")},
			Type: waE2E.ProtocolMessage_REVOKE.Enum(),
		},
	}))
	if revoke.Type != session.EventMessageDelete || revoke.Data["targetId"] != "GONE" {
		t.Fatalf("revoke = %+v", revoke)
	}

	edit := normalizeMessage(incoming(&waE2E.Message{
		ProtocolMessage: &waE2E.ProtocolMessage{
			Key:           &waCommon.MessageKey{ID: proto.String("OLD")},
			Type:          waE2E.ProtocolMessage_MESSAGE_EDIT.Enum(),
			EditedMessage: &waE2E.Message{Conversation: proto.String("corrigido")},
		},
	}))
	if edit.Type != session.EventMessageEdit || edit.Data["text"] != "corrigido" || edit.Data["targetId"] != "OLD" {
		t.Fatalf("edit = %+v", edit)
	}
}

func TestToJID(t *testing.T) {
	jid, err := toJID("+55 (11) 98888-7777")
	if err != nil || jid.String() != "5511988887777@s.whatsapp.net" {
		t.Fatalf("jid = %v, %v", jid, err)
	}
	group, err := toJID("123456789-987654@g.us")
	if err != nil || group.Server != types.GroupServer {
		t.Fatalf("group = %v, %v", group, err)
	}
	if _, err := toJID("abc"); err == nil {
		t.Fatal("esperava erro para destinatário sem dígitos")
	}
}

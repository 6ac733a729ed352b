package whatsmeow

import (
	"strings"

	"go.mau.fi/whatsmeow/proto/waE2E"
	"go.mau.fi/whatsmeow/types"
	"go.mau.fi/whatsmeow/types/events"

	"github.com/open-apime/apime-gateway/internal/session"
)

// normalizeMessage converte uma mensagem recebida em evento de webhook.
// Reações, edições e revogações chegam como mensagens e viram eventos próprios.
func normalizeMessage(evt *events.Message) session.Event {
	data := map[string]any{
		"messageId": evt.Info.ID,
		"from":      senderJID(evt.Info),
		"chat":      chatJID(evt.Info),
		"isFromMe":  evt.Info.IsFromMe,
		"isGroup":   evt.Info.IsGroup,
		"timestamp": evt.Info.Timestamp.UnixMilli(),
	}
	if evt.Info.PushName != "" {
		data["pushName"] = evt.Info.PushName
	}

	msg := evt.Message
	if reaction := msg.GetReactionMessage(); reaction != nil {
		data["targetId"] = reaction.GetKey().GetID()
		data["reaction"] = reaction.GetText()
		data["removed"] = reaction.GetText() == ""
		return session.Event{Type: session.EventMessageReaction, Data: data}
	}

	if pm := msg.GetProtocolMessage(); pm != nil {
		switch pm.GetType() {
		case waE2E.ProtocolMessage_REVOKE:
			data["targetId"] = pm.GetKey().GetID()
			return session.Event{Type: session.EventMessageDelete, Data: data}
		case waE2E.ProtocolMessage_MESSAGE_EDIT:
			data["targetId"] = pm.GetKey().GetID()
			data["text"] = textOf(pm.GetEditedMessage())
			return session.Event{Type: session.EventMessageEdit, Data: data}
		}
	}

	if text := textOf(msg); text != "" {
		data["text"] = text
	}
	if kind, extra := mediaOf(msg); kind != "" {
		data["mediaType"] = kind
		for k, v := range extra {
			data[k] = v
		}
	}
	return session.Event{Type: session.EventMessage, Data: data}
}

func textOf(msg *waE2E.Message) string {
	if msg == nil {
		return ""
	}
	if text := msg.GetConversation(); text != "" {
		return text
	}
	if ext := msg.GetExtendedTextMessage(); ext != nil {
		return ext.GetText()
	}
	return ""
}

// mediaOf descreve a mídia sem baixá-la; conteúdo de mensagens não é persistido.
func mediaOf(msg *waE2E.Message) (string, map[string]any) {
	switch {
	case msg.GetImageMessage() != nil:
		img := msg.GetImageMessage()
		return "image", map[string]any{"caption": img.GetCaption(), "mimetype": img.GetMimetype(), "fileSize": img.GetFileLength()}
	case msg.GetVideoMessage() != nil:
		vid := msg.GetVideoMessage()
		return "video", map[string]any{"caption": vid.GetCaption(), "mimetype": vid.GetMimetype(), "fileSize": vid.GetFileLength(), "duration": vid.GetSeconds()}
	case msg.GetAudioMessage() != nil:
		aud := msg.GetAudioMessage()
		return "audio", map[string]any{"mimetype": aud.GetMimetype(), "fileSize": aud.GetFileLength(), "duration": aud.GetSeconds(), "ptt": aud.GetPTT()}
	case msg.GetDocumentMessage() != nil:
		doc := msg.GetDocumentMessage()
		return "document", map[string]any{"fileName": doc.GetTitle(), "mimetype": doc.GetMimetype(), "fileSize": doc.GetFileLength()}
	case msg.GetLocationMessage() != nil:
		loc := msg.GetLocationMessage()
		return "location", map[string]any{"latitude": loc.GetDegreesLatitude(), "longitude": loc.GetDegreesLongitude(), "address": loc.GetAddress()}
	case msg.GetContactMessage() != nil:
		con := msg.GetContactMessage()
		return "contact", map[string]any{"contactName": con.GetDisplayName(), "vcard": con.GetVcard()}
	case msg.GetStickerMessage() != nil:
		return "sticker", map[string]any{"mimetype": msg.GetStickerMessage().GetMimetype()}
	}
	return "", nil
}

// senderJID prefere o número real quando o remetente vem como LID.
func senderJID(info types.MessageInfo) string {
	sender := info.Sender.String()
	if strings.HasSuffix(sender, "@lid") && !info.SenderAlt.IsEmpty() {
		return info.SenderAlt.String()
	}
	return sender
}

// chatJID resolve LIDs para o JID estável da conversa quando possível.
func chatJID(info types.MessageInfo) string {
	chat := info.Chat.String()
	if !strings.HasSuffix(chat, "@lid") {
		return chat
	}
	if info.IsFromMe && info.RecipientAlt.Server == types.DefaultUserServer {
		return info.RecipientAlt.String()
	}
	if !info.IsFromMe && info.SenderAlt.Server == types.DefaultUserServer {
		return info.SenderAlt.String()
	}
	return chat
}

// toJID aceita número (com ou sem formatação) ou JID completo.
func toJID(to string) (types.JID, error) {
	to = strings.TrimSpace(to)
	if strings.Contains(to, "@") {
		return types.ParseJID(to)
	}
	digits := onlyDigits(to)
	if digits == "" {
		return types.EmptyJID, session.ErrInvalidRecipient
	}
	return types.NewJID(digits, types.DefaultUserServer), nil
}

func onlyDigits(s string) string {
	return strings.Map(func(r rune) rune {
		if r >= '0' && r <= '9' {
			return r
		}
		return -1
	}, s)
}

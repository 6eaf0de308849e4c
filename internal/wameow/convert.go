// ABOUTME: Conversion helpers between whatsmeow event types and gateway shapes
// ABOUTME: Pure functions, no client state, covered by unit tests

package wameow

import (
	"strings"

	"go.mau.fi/whatsmeow/proto/waE2E"
	"go.mau.fi/whatsmeow/types"
	"go.mau.fi/whatsmeow/types/events"

	"github.com/warelay/warelay/internal/adapter"
)

// convertMessage normalizes a backend message event. Returns false for
// message kinds that are not relayable (reactions, protocol messages,
// unknown payloads).
func convertMessage(evt *events.Message) (adapter.Message, bool) {
	msg := adapter.Message{
		ID:        string(evt.Info.ID),
		ChatID:    evt.Info.Chat.String(),
		SenderID:  evt.Info.Sender.ToNonAD().String(),
		Timestamp: evt.Info.Timestamp,
		FromMe:    evt.Info.IsFromMe,
	}

	content := evt.Message
	if content == nil {
		return adapter.Message{}, false
	}

	switch {
	case content.GetConversation() != "":
		msg.Body = content.GetConversation()
	case content.ExtendedTextMessage != nil:
		msg.Body = content.ExtendedTextMessage.GetText()
	case content.ImageMessage != nil:
		msg.Body = content.ImageMessage.GetCaption()
		msg.HasMedia = true
		msg.MediaType = "image"
		msg.MimeType = content.ImageMessage.GetMimetype()
	case content.VideoMessage != nil:
		msg.Body = content.VideoMessage.GetCaption()
		msg.HasMedia = true
		msg.MediaType = "video"
		msg.MimeType = content.VideoMessage.GetMimetype()
	case content.AudioMessage != nil:
		msg.HasMedia = true
		msg.MediaType = "audio"
		msg.MimeType = content.AudioMessage.GetMimetype()
	case content.DocumentMessage != nil:
		msg.Body = content.DocumentMessage.GetCaption()
		msg.HasMedia = true
		msg.MediaType = "document"
		msg.MimeType = content.DocumentMessage.GetMimetype()
	case content.StickerMessage != nil:
		msg.HasMedia = true
		msg.MediaType = "sticker"
		msg.MimeType = content.StickerMessage.GetMimetype()
	default:
		return adapter.Message{}, false
	}

	return msg, true
}

// downloadablePart returns the media section of a message, or nil when the
// message carries none.
func downloadablePart(content *waE2E.Message) whatsmeowDownloadable {
	if content == nil {
		return nil
	}
	switch {
	case content.ImageMessage != nil:
		return content.ImageMessage
	case content.VideoMessage != nil:
		return content.VideoMessage
	case content.AudioMessage != nil:
		return content.AudioMessage
	case content.DocumentMessage != nil:
		return content.DocumentMessage
	case content.StickerMessage != nil:
		return content.StickerMessage
	}
	return nil
}

// partMimeType extracts the declared content type of a media section.
func partMimeType(content *waE2E.Message) string {
	switch {
	case content.ImageMessage != nil:
		return content.ImageMessage.GetMimetype()
	case content.VideoMessage != nil:
		return content.VideoMessage.GetMimetype()
	case content.AudioMessage != nil:
		return content.AudioMessage.GetMimetype()
	case content.DocumentMessage != nil:
		return content.DocumentMessage.GetMimetype()
	case content.StickerMessage != nil:
		return content.StickerMessage.GetMimetype()
	}
	return ""
}

// chatDisplayName picks a listing name for a contact chat, falling back to
// the JID user part the way chat clients render unnamed contacts.
func chatDisplayName(jid types.JID, info types.ContactInfo) string {
	switch {
	case info.FullName != "":
		return info.FullName
	case info.FirstName != "":
		return info.FirstName
	case info.PushName != "":
		return info.PushName
	case info.BusinessName != "":
		return info.BusinessName
	}
	return jid.User
}

// isNoPictureError reports whether a profile-picture error means the chat
// simply has no picture set, as opposed to a backend failure.
func isNoPictureError(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "item-not-found") ||
		strings.Contains(msg, "not-authorized") ||
		strings.Contains(msg, "profile picture")
}

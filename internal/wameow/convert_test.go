// ABOUTME: Unit tests for whatsmeow conversion helpers
// ABOUTME: Covers message kinds, naming fallbacks and error classification

package wameow

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mau.fi/whatsmeow/proto/waE2E"
	"go.mau.fi/whatsmeow/types"
	"go.mau.fi/whatsmeow/types/events"
	"google.golang.org/protobuf/proto"
)

func messageEvent(content *waE2E.Message) *events.Message {
	return &events.Message{
		Info: types.MessageInfo{
			MessageSource: types.MessageSource{
				Chat:     types.NewJID("123456789", types.DefaultUserServer),
				Sender:   types.NewJID("987654321", types.DefaultUserServer),
				IsFromMe: false,
			},
			ID:        "MSG-1",
			Timestamp: time.Unix(1700000000, 0),
		},
		Message: content,
	}
}

func TestConvertMessage_Conversation(t *testing.T) {
	evt := messageEvent(&waE2E.Message{Conversation: proto.String("hello there")})

	msg, ok := convertMessage(evt)
	require.True(t, ok)
	assert.Equal(t, "MSG-1", msg.ID)
	assert.Equal(t, "hello there", msg.Body)
	assert.Equal(t, "123456789@s.whatsapp.net", msg.ChatID)
	assert.False(t, msg.HasMedia)
}

func TestConvertMessage_ExtendedText(t *testing.T) {
	evt := messageEvent(&waE2E.Message{
		ExtendedTextMessage: &waE2E.ExtendedTextMessage{Text: proto.String("linked text")},
	})

	msg, ok := convertMessage(evt)
	require.True(t, ok)
	assert.Equal(t, "linked text", msg.Body)
	assert.False(t, msg.HasMedia)
}

func TestConvertMessage_Image(t *testing.T) {
	evt := messageEvent(&waE2E.Message{
		ImageMessage: &waE2E.ImageMessage{
			Caption:  proto.String("look at this"),
			Mimetype: proto.String("image/jpeg"),
		},
	})

	msg, ok := convertMessage(evt)
	require.True(t, ok)
	assert.Equal(t, "look at this", msg.Body)
	assert.True(t, msg.HasMedia)
	assert.Equal(t, "image", msg.MediaType)
	assert.Equal(t, "image/jpeg", msg.MimeType)
}

func TestConvertMessage_Document(t *testing.T) {
	evt := messageEvent(&waE2E.Message{
		DocumentMessage: &waE2E.DocumentMessage{
			Mimetype: proto.String("application/pdf"),
		},
	})

	msg, ok := convertMessage(evt)
	require.True(t, ok)
	assert.True(t, msg.HasMedia)
	assert.Equal(t, "document", msg.MediaType)
}

func TestConvertMessage_UnsupportedKindsSkipped(t *testing.T) {
	tests := []struct {
		name    string
		content *waE2E.Message
	}{
		{name: "nil content", content: nil},
		{name: "empty content", content: &waE2E.Message{}},
		{
			name: "reaction",
			content: &waE2E.Message{
				ReactionMessage: &waE2E.ReactionMessage{Text: proto.String("👍")},
			},
		},
		{
			name: "protocol",
			content: &waE2E.Message{
				ProtocolMessage: &waE2E.ProtocolMessage{},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, ok := convertMessage(messageEvent(tt.content))
			assert.False(t, ok)
		})
	}
}

func TestDownloadablePart(t *testing.T) {
	video := &waE2E.Message{VideoMessage: &waE2E.VideoMessage{Mimetype: proto.String("video/mp4")}}
	assert.NotNil(t, downloadablePart(video))
	assert.Equal(t, "video/mp4", partMimeType(video))

	text := &waE2E.Message{Conversation: proto.String("plain")}
	assert.Nil(t, downloadablePart(text))
}

func TestChatDisplayName_Fallbacks(t *testing.T) {
	jid := types.NewJID("555123", types.DefaultUserServer)

	tests := []struct {
		name string
		info types.ContactInfo
		want string
	}{
		{name: "full name wins", info: types.ContactInfo{FullName: "Ada Lovelace", PushName: "ada"}, want: "Ada Lovelace"},
		{name: "first name next", info: types.ContactInfo{FirstName: "Ada"}, want: "Ada"},
		{name: "push name next", info: types.ContactInfo{PushName: "ada"}, want: "ada"},
		{name: "business name next", info: types.ContactInfo{BusinessName: "Ada Inc"}, want: "Ada Inc"},
		{name: "jid user part last", info: types.ContactInfo{}, want: "555123"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, chatDisplayName(jid, tt.info))
		})
	}
}

func TestIsNoPictureError(t *testing.T) {
	assert.True(t, isNoPictureError(errors.New("<error code=404 text=item-not-found>")))
	assert.True(t, isNoPictureError(errors.New("not-authorized")))
	assert.False(t, isNoPictureError(errors.New("websocket closed")))
	assert.False(t, isNoPictureError(nil))
}

func TestEncodeQRDataURL(t *testing.T) {
	dataURL, err := encodeQRDataURL("2@abcdefg,hijklmn,opqrstu")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(dataURL, "data:image/png;base64,"))
	assert.Greater(t, len(dataURL), len("data:image/png;base64,"))
}

// ABOUTME: HTTP API handlers for the session, conversation and media routes
// ABOUTME: Maps adapter errors onto the gateway's HTTP status taxonomy

package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/warelay/warelay/internal/adapter"
	"github.com/warelay/warelay/internal/relay"
	"github.com/warelay/warelay/internal/session"
)

// maxUploadBytes bounds media uploads (32 MiB, multipart memory + disk).
const maxUploadBytes = 32 << 20

// defaultMessageLimit is the page size for chat history reads.
const defaultMessageLimit = 50

// loginResponse reports session status to pairing clients.
type loginResponse struct {
	Status string `json:"status"` // connected | waiting | qr
	QRCode string `json:"qrCode,omitempty"`
}

// conversationSummary is one chat in the conversations listing.
type conversationSummary struct {
	ID            string       `json:"id"`
	Name          string       `json:"name"`
	IsGroup       bool         `json:"isGroup"`
	UnreadCount   int          `json:"unreadCount"`
	LastMessage   *lastMessage `json:"lastMessage,omitempty"`
	ProfilePicURL *string      `json:"profilePicUrl"`
}

type lastMessage struct {
	Body      string    `json:"body"`
	Timestamp time.Time `json:"timestamp"`
}

// messageSummary is one message in a chat history read.
type messageSummary struct {
	ID        string    `json:"id"`
	ChatID    string    `json:"chatId"`
	SenderID  string    `json:"senderId"`
	Body      string    `json:"body"`
	Timestamp time.Time `json:"timestamp"`
	FromMe    bool      `json:"fromMe"`
	MediaURL  *string   `json:"mediaUrl,omitempty"`
	MediaType string    `json:"mediaType,omitempty"`
}

type sendMessageRequest struct {
	Message string `json:"message"`
}

type sendResponse struct {
	Success   bool   `json:"success"`
	MessageID string `json:"messageId,omitempty"`
}

// sendJSON writes a JSON response with the given status.
func (g *Gateway) sendJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		g.logger.Error("encoding response", "error", err)
	}
}

// sendJSONError writes a JSON error response.
func (g *Gateway) sendJSONError(w http.ResponseWriter, status int, msg string) {
	g.sendJSON(w, status, map[string]string{"error": msg})
}

// sendAdapterError maps the error taxonomy onto HTTP statuses.
func (g *Gateway) sendAdapterError(w http.ResponseWriter, r *http.Request, err error) {
	tenant := r.PathValue("tenant")
	switch {
	case errors.Is(err, adapter.ErrNotConnected):
		g.sendJSONError(w, http.StatusUnauthorized, "not connected")
	case errors.Is(err, adapter.ErrNotFound):
		g.sendJSONError(w, http.StatusNotFound, "not found")
	case errors.Is(err, adapter.ErrInvalidRequest):
		g.sendJSONError(w, http.StatusBadRequest, "invalid request")
	default:
		g.logger.Error("backend operation failed", "tenant", tenant, "path", r.URL.Path, "error", err)
		g.sendJSONError(w, http.StatusInternalServerError, "internal error")
	}
}

// readySession returns the tenant's session when it can serve backend
// operations, or ErrNotConnected.
func (g *Gateway) readySession(tenantID string) (*session.Session, error) {
	s, ok := g.registry.Get(tenantID)
	if !ok || !s.IsReady() {
		return nil, adapter.ErrNotConnected
	}
	return s, nil
}

// handleLogin creates the tenant's session on first contact and reports its
// pairing status. Repeated calls are cheap; creation is single-flighted.
func (g *Gateway) handleLogin(w http.ResponseWriter, r *http.Request) {
	tenant := r.PathValue("tenant")

	s, err := g.registry.GetOrCreate(r.Context(), tenant)
	if err != nil {
		g.sendAdapterError(w, r, err)
		return
	}

	switch s.State() {
	case session.StateReady:
		g.sendJSON(w, http.StatusOK, loginResponse{Status: "connected"})
	case session.StateAwaitingQR:
		g.sendJSON(w, http.StatusOK, loginResponse{Status: "qr", QRCode: s.CurrentQR()})
	default:
		g.sendJSON(w, http.StatusOK, loginResponse{Status: "waiting"})
	}
}

// handleRemoveSession logs the tenant out and discards its credentials.
func (g *Gateway) handleRemoveSession(w http.ResponseWriter, r *http.Request) {
	tenant := r.PathValue("tenant")

	if err := g.registry.Remove(r.Context(), tenant); err != nil {
		g.sendAdapterError(w, r, err)
		return
	}
	g.sendJSON(w, http.StatusOK, sendResponse{Success: true})
}

// handleConversations lists the tenant's chats, enriched with profile
// pictures in batches.
func (g *Gateway) handleConversations(w http.ResponseWriter, r *http.Request) {
	tenant := r.PathValue("tenant")

	s, err := g.readySession(tenant)
	if err != nil {
		g.sendAdapterError(w, r, err)
		return
	}

	chats, err := s.Adapter().Chats(r.Context())
	if err != nil {
		g.sendAdapterError(w, r, err)
		return
	}

	chatIDs := make([]string, len(chats))
	for i, chat := range chats {
		chatIDs[i] = chat.ID
	}
	pictures := g.enrich.Pictures(r.Context(), tenant, s.Adapter(), chatIDs)

	out := make([]conversationSummary, len(chats))
	for i, chat := range chats {
		summary := conversationSummary{
			ID:            chat.ID,
			Name:          chat.Name,
			IsGroup:       chat.IsGroup,
			UnreadCount:   chat.UnreadCount,
			ProfilePicURL: pictures[i],
		}
		if chat.LastMessage != nil {
			summary.LastMessage = &lastMessage{
				Body:      chat.LastMessage.Body,
				Timestamp: chat.LastMessage.Timestamp,
			}
		}
		out[i] = summary
	}

	g.sendJSON(w, http.StatusOK, out)
}

// handleGetMessages reads recent messages of one chat.
func (g *Gateway) handleGetMessages(w http.ResponseWriter, r *http.Request) {
	tenant := r.PathValue("tenant")
	chatID := r.PathValue("chatID")

	s, err := g.readySession(tenant)
	if err != nil {
		g.sendAdapterError(w, r, err)
		return
	}

	limit := defaultMessageLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			g.sendJSONError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		limit = parsed
	}

	msgs, err := s.Adapter().ChatMessages(r.Context(), chatID, limit)
	if err != nil {
		g.sendAdapterError(w, r, err)
		return
	}

	out := make([]messageSummary, len(msgs))
	for i, msg := range msgs {
		out[i] = toMessageSummary(tenant, msg)
	}
	g.sendJSON(w, http.StatusOK, out)
}

func toMessageSummary(tenantID string, msg adapter.Message) messageSummary {
	summary := messageSummary{
		ID:        msg.ID,
		ChatID:    msg.ChatID,
		SenderID:  msg.SenderID,
		Body:      msg.Body,
		Timestamp: msg.Timestamp,
		FromMe:    msg.FromMe,
		MediaType: msg.MediaType,
	}
	if msg.HasMedia {
		url := relay.MediaURL(tenantID, msg.ID)
		summary.MediaURL = &url
	}
	return summary
}

// handleSendMessage sends a text message into a chat.
func (g *Gateway) handleSendMessage(w http.ResponseWriter, r *http.Request) {
	tenant := r.PathValue("tenant")
	chatID := r.PathValue("chatID")

	s, err := g.readySession(tenant)
	if err != nil {
		g.sendAdapterError(w, r, err)
		return
	}

	var req sendMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		g.sendJSONError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Message == "" {
		g.sendJSONError(w, http.StatusBadRequest, "message is required")
		return
	}

	result, err := s.Adapter().SendText(r.Context(), chatID, req.Message)
	if err != nil {
		g.sendAdapterError(w, r, err)
		return
	}

	g.sendJSON(w, http.StatusOK, sendResponse{Success: true, MessageID: result.MessageID})
}

// handleSendMedia sends a multipart upload into a chat and caches the sent
// bytes so the media reference resolves without a backend round trip.
func (g *Gateway) handleSendMedia(w http.ResponseWriter, r *http.Request) {
	tenant := r.PathValue("tenant")
	chatID := r.PathValue("chatID")

	s, err := g.readySession(tenant)
	if err != nil {
		g.sendAdapterError(w, r, err)
		return
	}

	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		g.sendJSONError(w, http.StatusBadRequest, "invalid multipart form")
		return
	}
	defer func() {
		// Temp upload buffers are discarded once the send completes.
		_ = r.MultipartForm.RemoveAll()
	}()

	file, header, err := r.FormFile("file")
	if err != nil {
		g.sendJSONError(w, http.StatusBadRequest, "file field is required")
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		g.sendJSONError(w, http.StatusBadRequest, "reading upload")
		return
	}

	mimeType := header.Header.Get("Content-Type")
	if mimeType == "" {
		mimeType = http.DetectContentType(data)
	}

	outgoing := &adapter.OutgoingMedia{
		Data:     data,
		MimeType: mimeType,
		FileName: header.Filename,
		Caption:  r.FormValue("caption"),
	}

	result, err := s.Adapter().SendMedia(r.Context(), chatID, outgoing)
	if err != nil {
		g.sendAdapterError(w, r, err)
		return
	}

	blob := &adapter.MediaBlob{Data: data, MimeType: mimeType}
	if err := g.media.Save(r.Context(), tenant, result.MessageID, blob); err != nil {
		g.logger.Warn("caching sent media failed",
			"tenant", tenant, "message_id", result.MessageID, "error", err)
	}

	g.sendJSON(w, http.StatusOK, sendResponse{Success: true, MessageID: result.MessageID})
}

// handleGetMedia serves a message's media bytes. Cache hits never touch the
// backend; misses are fetched once even under concurrent demand.
func (g *Gateway) handleGetMedia(w http.ResponseWriter, r *http.Request) {
	tenant := r.PathValue("tenant")
	messageID := r.PathValue("messageID")

	blob, err := g.media.Resolve(r.Context(), tenant, messageID, func(ctx context.Context) (*adapter.MediaBlob, error) {
		s, err := g.readySession(tenant)
		if err != nil {
			return nil, err
		}
		return s.Adapter().DownloadMedia(ctx, messageID)
	})
	if err != nil {
		g.sendAdapterError(w, r, err)
		return
	}

	w.Header().Set("Content-Type", blob.MimeType)
	w.Header().Set("Content-Length", strconv.Itoa(len(blob.Data)))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(blob.Data)
}

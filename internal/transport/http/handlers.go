package http

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"

	"securechat/internal/domain"
	"securechat/internal/observability/metrics"
	"securechat/internal/observability/middleware"
	"securechat/internal/service"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
)

type storeKeysRequest struct {
	PublicKey           string `json:"publicKey"`
	EncryptedPrivateKey string `json:"encryptedPrivateKey"`
}

type keyRecordResponse struct {
	ID                  string `json:"id"`
	PublicKey           string `json:"publicKey"`
	EncryptedPrivateKey string `json:"encryptedPrivateKey,omitempty"`
	CreatedAt           string `json:"createdAt"`
}

func (h *Handler) storeKeys(w http.ResponseWriter, r *http.Request) {
	session := sessionFrom(r.Context())
	reqID := middleware.RequestIDFromContext(r.Context())

	var req storeKeysRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		metrics.KeyRegistrationsTotal.WithLabelValues("failure").Inc()
		return
	}
	record, err := h.svc.StoreKeys(r.Context(), session.UserID, req.PublicKey, req.EncryptedPrivateKey)
	if err != nil {
		writeError(w, err)
		metrics.KeyRegistrationsTotal.WithLabelValues("failure").Inc()
		slog.Warn("key registration failed", "error", err, "request_id", reqID)
		return
	}
	metrics.KeyRegistrationsTotal.WithLabelValues("success").Inc()
	slog.Info("keys registered", "user_id", session.UserID, "request_id", reqID)
	writeJSON(w, http.StatusCreated, keyRecordResponse{
		ID:        record.UserID.String(),
		PublicKey: record.PublicKey,
		CreatedAt: record.CreatedAt.UTC().Format("2006-01-02T15:04:05.000Z07:00"),
	})
}

func (h *Handler) ownKeys(w http.ResponseWriter, r *http.Request) {
	session := sessionFrom(r.Context())
	record, err := h.svc.OwnKeys(r.Context(), session.UserID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, keyRecordResponse{
		ID:                  record.UserID.String(),
		PublicKey:           record.PublicKey,
		EncryptedPrivateKey: record.EncryptedPrivateKey,
		CreatedAt:           record.CreatedAt.UTC().Format("2006-01-02T15:04:05.000Z07:00"),
	})
}

func (h *Handler) publicKey(w http.ResponseWriter, r *http.Request) {
	userID, err := uuid.Parse(chi.URLParam(r, "userId"))
	if err != nil {
		http.Error(w, "invalid userId", http.StatusBadRequest)
		return
	}
	key, err := h.svc.PublicKey(r.Context(), userID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"publicKey": key})
}

type createThreadRequest struct {
	FriendID string `json:"friendId"`
}

type threadResponse struct {
	ID           string   `json:"id"`
	Participants []string `json:"participants"`
	CreatedAt    string   `json:"createdAt"`
}

func threadToResponse(t *domain.Thread) threadResponse {
	return threadResponse{
		ID:           t.ID.String(),
		Participants: []string{t.UserLow.String(), t.UserHigh.String()},
		CreatedAt:    t.CreatedAt.UTC().Format("2006-01-02T15:04:05.000Z07:00"),
	}
}

func (h *Handler) getOrCreateThread(w http.ResponseWriter, r *http.Request) {
	session := sessionFrom(r.Context())

	var req createThreadRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}
	friendID, err := uuid.Parse(req.FriendID)
	if err != nil {
		http.Error(w, "invalid friendId", http.StatusBadRequest)
		return
	}
	thread, err := h.svc.GetOrCreateDirectThread(r.Context(), session.UserID, friendID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]threadResponse{"thread": threadToResponse(thread)})
}

func (h *Handler) listThreads(w http.ResponseWriter, r *http.Request) {
	session := sessionFrom(r.Context())
	threads, err := h.svc.Threads(r.Context(), session.UserID)
	if err != nil {
		writeError(w, err)
		return
	}
	out := make([]threadResponse, 0, len(threads))
	for i := range threads {
		out = append(out, threadToResponse(&threads[i]))
	}
	writeJSON(w, http.StatusOK, map[string][]threadResponse{"threads": out})
}

func (h *Handler) history(w http.ResponseWriter, r *http.Request) {
	session := sessionFrom(r.Context())

	threadID, err := uuid.Parse(r.URL.Query().Get("threadId"))
	if err != nil {
		http.Error(w, "invalid threadId", http.StatusBadRequest)
		metrics.MessageHistoryFetchedTotal.WithLabelValues("failure").Inc()
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))

	views, err := h.svc.History(r.Context(), threadID, session.UserID, limit, offset)
	if err != nil {
		writeError(w, err)
		metrics.MessageHistoryFetchedTotal.WithLabelValues("failure").Inc()
		return
	}
	metrics.MessageHistoryFetchedTotal.WithLabelValues("success").Inc()
	writeJSON(w, http.StatusOK, map[string][]service.MessageView{"messages": views})
}

func (h *Handler) unreadCount(w http.ResponseWriter, r *http.Request) {
	session := sessionFrom(r.Context())

	threadID, err := uuid.Parse(r.URL.Query().Get("threadId"))
	if err != nil {
		http.Error(w, "invalid threadId", http.StatusBadRequest)
		return
	}
	count, err := h.svc.UnreadCount(r.Context(), threadID, session.UserID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int64{"unread": count})
}

type encryptionMetaPayload struct {
	WrappedKey string `json:"wrappedKey"`
	IV         string `json:"iv"`
	Algorithm  string `json:"algorithm"`
}

type sendEncryptedRequest struct {
	ThreadID string `json:"threadId"`
	Content  string `json:"content"`
	Metadata struct {
		Encryption *encryptionMetaPayload `json:"encryption"`
		Type       string                 `json:"type"`
		FileID     string                 `json:"fileId"`
	} `json:"metadata"`
}

func (h *Handler) sendEncrypted(w http.ResponseWriter, r *http.Request) {
	session := sessionFrom(r.Context())
	reqID := middleware.RequestIDFromContext(r.Context())

	var req sendEncryptedRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}
	threadID, err := uuid.Parse(req.ThreadID)
	if err != nil {
		http.Error(w, "invalid threadId", http.StatusBadRequest)
		return
	}

	in := service.SendMessageInput{
		ThreadID: threadID,
		SenderID: session.UserID,
		Content:  req.Content,
		Type:     domain.MessageType(req.Metadata.Type),
	}
	if req.Metadata.Encryption != nil {
		in.Encryption = &service.EncryptionMeta{
			WrappedKey: req.Metadata.Encryption.WrappedKey,
			IV:         req.Metadata.Encryption.IV,
			Algorithm:  req.Metadata.Encryption.Algorithm,
		}
	}
	if req.Metadata.FileID != "" {
		fileID, err := uuid.Parse(req.Metadata.FileID)
		if err != nil {
			http.Error(w, "invalid fileId", http.StatusBadRequest)
			return
		}
		in.FileID = &fileID
	}

	msg, err := h.svc.SendMessage(r.Context(), in)
	if err != nil {
		writeError(w, err)
		slog.Warn("send failed", "error", err, "thread_id", threadID, "request_id", reqID)
		return
	}
	metrics.MessagesStoredTotal.WithLabelValues(string(msg.MessageType)).Inc()
	metrics.MessagesCiphertextBytes.WithLabelValues(string(msg.MessageType)).Observe(float64(len(msg.Ciphertext)))
	slog.Info("message stored", "message_id", msg.ID, "thread_id", msg.ThreadID, "type", msg.MessageType, "request_id", reqID)

	writeJSON(w, http.StatusCreated, service.MessageView{
		ID:          msg.ID,
		ThreadID:    msg.ThreadID,
		SenderID:    msg.SenderID,
		Content:     string(msg.Ciphertext),
		WrappedKey:  msg.WrappedKey,
		IV:          msg.IV,
		Algorithm:   msg.Algorithm,
		MessageType: msg.MessageType,
		FileID:      msg.FileID,
		CreatedAt:   msg.CreatedAt,
	})
}

func (h *Handler) deleteMessage(w http.ResponseWriter, r *http.Request) {
	session := sessionFrom(r.Context())

	messageID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		http.Error(w, "invalid message id", http.StatusBadRequest)
		return
	}
	forEveryone, _ := strconv.ParseBool(r.URL.Query().Get("forEveryone"))

	if err := h.svc.DeleteMessage(r.Context(), messageID, session.UserID, forEveryone); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

type uploadFileRequest struct {
	Filename         string `json:"filename"`
	OriginalName     string `json:"originalName"`
	EncryptedContent string `json:"encryptedContent"`
	EncryptionKey    string `json:"encryptionKey"`
	IV               string `json:"iv"`
	MimeType         string `json:"mimeType"`
	Size             int64  `json:"size"`
}

type fileDescriptorResponse struct {
	ID           string `json:"id"`
	Filename     string `json:"filename"`
	OriginalName string `json:"originalName"`
	MimeType     string `json:"mimeType"`
	Size         int64  `json:"size"`
	CreatedAt    string `json:"createdAt"`
}

func (h *Handler) uploadFile(w http.ResponseWriter, r *http.Request) {
	session := sessionFrom(r.Context())
	reqID := middleware.RequestIDFromContext(r.Context())

	// Cap the body read itself; the JSON wrapper adds a little overhead on
	// top of the encoded payload bound.
	r.Body = http.MaxBytesReader(w, r.Body, service.MaxEncodedFileBytes+1<<20)

	var req uploadFileRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "payload too large or malformed", http.StatusBadRequest)
		metrics.FileUploadsTotal.WithLabelValues("failure").Inc()
		return
	}
	file, err := h.svc.UploadFile(r.Context(), service.UploadFileInput{
		Filename:     req.Filename,
		OriginalName: req.OriginalName,
		Content:      req.EncryptedContent,
		WrappedKey:   req.EncryptionKey,
		IV:           req.IV,
		MimeType:     req.MimeType,
		Size:         req.Size,
	}, session.UserID)
	if err != nil {
		writeError(w, err)
		metrics.FileUploadsTotal.WithLabelValues("failure").Inc()
		slog.Warn("file upload rejected", "error", err, "request_id", reqID)
		return
	}
	metrics.FileUploadsTotal.WithLabelValues("success").Inc()
	slog.Info("file stored", "file_id", file.ID, "size", file.Size, "request_id", reqID)
	writeJSON(w, http.StatusCreated, fileDescriptorResponse{
		ID:           file.ID.String(),
		Filename:     file.Filename,
		OriginalName: file.OriginalName,
		MimeType:     file.MimeType,
		Size:         file.Size,
		CreatedAt:    file.CreatedAt.UTC().Format("2006-01-02T15:04:05.000Z07:00"),
	})
}

type fileContentResponse struct {
	ID               string `json:"id"`
	EncryptedContent string `json:"encryptedContent"`
	EncryptionKey    string `json:"encryptionKey"`
	IV               string `json:"iv"`
	MimeType         string `json:"mimeType"`
	OriginalName     string `json:"originalName"`
	Size             int64  `json:"size"`
}

func (h *Handler) getFile(w http.ResponseWriter, r *http.Request) {
	session := sessionFrom(r.Context())

	fileID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		http.Error(w, "invalid file id", http.StatusBadRequest)
		return
	}
	file, err := h.svc.GetFile(r.Context(), fileID, session.UserID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, fileContentResponse{
		ID:               file.ID.String(),
		EncryptedContent: string(file.Ciphertext),
		EncryptionKey:    file.WrappedKey,
		IV:               file.IV,
		MimeType:         file.MimeType,
		OriginalName:     file.OriginalName,
		Size:             file.Size,
	})
}

type typingRequest struct {
	ThreadID string `json:"threadId"`
	IsTyping bool   `json:"isTyping"`
}

func (h *Handler) typing(w http.ResponseWriter, r *http.Request) {
	session := sessionFrom(r.Context())

	var req typingRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}
	threadID, err := uuid.Parse(req.ThreadID)
	if err != nil {
		http.Error(w, "invalid threadId", http.StatusBadRequest)
		return
	}
	if err := h.svc.UpdateTyping(r.Context(), threadID, session.UserID, req.IsTyping); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

type readReceiptRequest struct {
	MessageID string `json:"messageId"`
}

func (h *Handler) readReceipt(w http.ResponseWriter, r *http.Request) {
	session := sessionFrom(r.Context())

	var req readReceiptRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}
	messageID, err := uuid.Parse(req.MessageID)
	if err != nil {
		http.Error(w, "invalid messageId", http.StatusBadRequest)
		return
	}
	if err := h.svc.MarkAsRead(r.Context(), messageID, session.UserID); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

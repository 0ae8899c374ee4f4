package httpserver

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/VisoroGroup/Voice-to-text/internal/pipeline"
	"github.com/VisoroGroup/Voice-to-text/internal/store"
	"github.com/VisoroGroup/Voice-to-text/internal/whatsapp"
	"github.com/VisoroGroup/Voice-to-text/internal/whisper"
)

func (s *Server) HandleHealth(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, map[string]any{"ok": true})
}

// HandleWebhookVerify answers the platform's subscription handshake.
func (s *Server) HandleWebhookVerify(w http.ResponseWriter, r *http.Request) {
	mode := r.URL.Query().Get("hub.mode")
	token := r.URL.Query().Get("hub.verify_token")
	challenge := r.URL.Query().Get("hub.challenge")

	if mode != "subscribe" || token != s.opts.VerifyToken {
		s.log.Warn("Webhook verification rejected", "mode", mode)
		w.WriteHeader(http.StatusForbidden)
		return
	}

	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(challenge))
}

// HandleWebhookEvent accepts a webhook delivery and hands its messages to
// the queue. Receipt is acked before any handoff happens; a delivery we
// cannot parse is logged and dropped, not retried forever.
func (s *Server) HandleWebhookEvent(w http.ResponseWriter, r *http.Request) {
	var payload whatsapp.WebhookPayload
	decodeErr := json.NewDecoder(r.Body).Decode(&payload)

	s.respondJSON(w, http.StatusOK, map[string]string{"status": "received"})

	if decodeErr != nil {
		s.log.Warn("Failed to decode webhook payload", "error", decodeErr)
		return
	}

	messages, names := payload.Messages()
	for _, msg := range messages {
		if s.dedup != nil && msg.ID != "" {
			first, err := s.dedup.MarkProcessed(r.Context(), msg.ID)
			if err != nil {
				// Dedup is advisory. Process anyway rather than drop mail.
				s.log.Warn("Dedup check failed", "message_id", msg.ID, "error", err)
			} else if !first {
				s.log.Debug("Dropping redelivered message", "message_id", msg.ID)
				continue
			}
		}

		s.queue.Enqueue(pipeline.Item{
			Message:    msg,
			Sender:     msg.From,
			SenderName: names[msg.From],
			EnqueuedAt: time.Now().UnixMilli(),
		})
	}
}

// HandleManualUpload transcribes an uploaded audio file synchronously,
// bypassing the queue, and persists it with the manual source tag.
func (s *Server) HandleManualUpload(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(whisper.MaxAudioBytes + 1024); err != nil {
		s.handleError(w, NewValidationError("Invalid multipart form: "+err.Error()))
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		s.handleError(w, NewValidationError("Missing audio file"))
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		s.handleError(w, fmt.Errorf("read uploaded file: %w", err))
		return
	}
	if len(data) > whisper.MaxAudioBytes {
		s.respondError(w, http.StatusRequestEntityTooLarge, "Audio exceeds the 25 MB limit")
		return
	}

	mimeType := header.Header.Get("Content-Type")
	if mimeType == "" {
		mimeType = whatsapp.DefaultAudioMimeType
	}

	language := ""
	if configured := s.store.GetSetting(store.SettingDefaultLanguage); configured != "" && configured != "auto" {
		language = configured
	}

	result, err := s.transcriber.Transcribe(r.Context(), data, mimeType, language)
	if err != nil {
		s.log.Error("Manual upload transcription failed", "file", header.Filename, "error", err)
		s.respondError(w, http.StatusBadGateway, "Transcription failed")
		return
	}

	senderName := r.FormValue("sender_name")
	if senderName == "" {
		senderName = header.Filename
	}

	lang := result.Language
	rec, err := s.store.Create(store.TranscriptionRecord{
		Sender:     "manual",
		SenderName: senderName,
		Timestamp:  time.Now().Unix(),
		Text:       result.Text,
		Language:   &lang,
		Duration:   result.Duration,
		Source:     store.SourceManual,
	})
	if err != nil {
		s.handleError(w, err)
		return
	}

	s.respondJSON(w, http.StatusCreated, rec)
}

func (s *Server) HandleListTranscriptions(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()

	page, _ := strconv.Atoi(query.Get("page"))
	limit, _ := strconv.Atoi(query.Get("limit"))

	records, total := s.store.List(store.ListFilter{
		Page:   page,
		Limit:  limit,
		Source: query.Get("source"),
		Search: query.Get("search"),
	})

	s.respondJSON(w, http.StatusOK, map[string]any{
		"records": records,
		"total":   total,
	})
}

func (s *Server) HandleGetTranscription(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(chi.URLParam(r, "id"))
	if err != nil {
		s.handleError(w, err)
		return
	}

	rec, ok := s.store.Get(id)
	if !ok {
		s.handleError(w, NewNotFoundError("Transcription not found"))
		return
	}
	s.respondJSON(w, http.StatusOK, rec)
}

func (s *Server) HandleUpdateTranscription(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(chi.URLParam(r, "id"))
	if err != nil {
		s.handleError(w, err)
		return
	}

	var payload struct {
		Text string `json:"text"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		s.handleError(w, NewValidationError("Invalid JSON format: "+err.Error()))
		return
	}

	updated, err := s.store.UpdateText(id, payload.Text)
	if err != nil {
		s.handleError(w, err)
		return
	}
	if !updated {
		s.handleError(w, NewNotFoundError("Transcription not found"))
		return
	}

	rec, _ := s.store.Get(id)
	s.respondJSON(w, http.StatusOK, rec)
}

func (s *Server) HandleDeleteTranscription(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(chi.URLParam(r, "id"))
	if err != nil {
		s.handleError(w, err)
		return
	}

	rec, _ := s.store.Get(id)

	deleted, err := s.store.Delete(id)
	if err != nil {
		s.handleError(w, err)
		return
	}
	if !deleted {
		s.handleError(w, NewNotFoundError("Transcription not found"))
		return
	}

	// Best-effort cleanup of the archived original.
	if s.archive != nil && rec.AudioObject != "" {
		if err := s.archive.DeleteVoiceNote(r.Context(), rec.AudioObject); err != nil {
			s.log.Warn("Failed to delete archived audio", "object", rec.AudioObject, "error", err)
		}
	}

	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) HandleDeleteAllTranscriptions(w http.ResponseWriter, r *http.Request) {
	if err := s.store.DeleteAll(); err != nil {
		s.handleError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// audioLinkExpiry bounds how long a replay link stays valid.
const audioLinkExpiry = 15 * time.Minute

// HandleTranscriptionAudio returns a short-lived download link for the
// archived original audio of a transcription.
func (s *Server) HandleTranscriptionAudio(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(chi.URLParam(r, "id"))
	if err != nil {
		s.handleError(w, err)
		return
	}

	rec, ok := s.store.Get(id)
	if !ok {
		s.handleError(w, NewNotFoundError("Transcription not found"))
		return
	}
	if s.archive == nil || rec.AudioObject == "" {
		s.handleError(w, NewNotFoundError("No archived audio for this transcription"))
		return
	}

	url, err := s.archive.GetPresignedURL(r.Context(), rec.AudioObject, audioLinkExpiry)
	if err != nil {
		s.log.Error("Failed to presign archived audio", "object", rec.AudioObject, "error", err)
		s.handleError(w, err)
		return
	}

	s.respondJSON(w, http.StatusOK, map[string]string{"url": url})
}

func (s *Server) HandleStats(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, s.store.Stats())
}

func (s *Server) HandleGetSettings(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, s.store.Settings())
}

func (s *Server) HandleUpdateSettings(w http.ResponseWriter, r *http.Request) {
	var payload map[string]string
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		s.handleError(w, NewValidationError("Invalid JSON format: "+err.Error()))
		return
	}

	if err := s.store.UpdateSettings(payload); err != nil {
		s.handleError(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, s.store.Settings())
}

// HandleEvents streams newly persisted transcriptions as server-sent
// events until the client disconnects.
func (s *Server) HandleEvents(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		s.respondError(w, http.StatusInternalServerError, "Streaming unsupported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	id, events := s.hub.Subscribe()
	defer s.hub.Unsubscribe(id)

	s.log.Debug("Event subscriber attached", "subscriber", id)

	for {
		select {
		case <-r.Context().Done():
			return
		case rec, open := <-events:
			if !open {
				return
			}
			data, err := json.Marshal(rec)
			if err != nil {
				s.log.Error("Failed to encode event", "error", err)
				continue
			}
			fmt.Fprintf(w, "data: %s\n\n", data)
			flusher.Flush()
		}
	}
}

func parseID(raw string) (int64, error) {
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id < 1 {
		return 0, NewValidationError("Invalid transcription id")
	}
	return id, nil
}

package httpserver

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/charmbracelet/log"

	"github.com/VisoroGroup/Voice-to-text/internal/notify"
	"github.com/VisoroGroup/Voice-to-text/internal/pipeline"
	"github.com/VisoroGroup/Voice-to-text/internal/store"
	"github.com/VisoroGroup/Voice-to-text/internal/whisper"
	"github.com/VisoroGroup/Voice-to-text/pkg/jwt"
	"github.com/VisoroGroup/Voice-to-text/pkg/password"
)

type fakeTranscriber struct {
	result whisper.Result
	err    error
}

func (f *fakeTranscriber) Transcribe(ctx context.Context, audio []byte, mimeType, language string) (whisper.Result, error) {
	if f.err != nil {
		return whisper.Result{}, f.err
	}
	return f.result, nil
}

type fakeArchive struct {
	url     string
	deleted []string
}

func (f *fakeArchive) GetPresignedURL(ctx context.Context, objectName string, expiry time.Duration) (string, error) {
	return f.url + objectName, nil
}

func (f *fakeArchive) DeleteVoiceNote(ctx context.Context, objectName string) error {
	f.deleted = append(f.deleted, objectName)
	return nil
}

type fixture struct {
	server   *Server
	store    *store.Store
	enqueued chan pipeline.Item
}

func newFixture(t *testing.T, opts Options) *fixture {
	t.Helper()

	recordStore, err := store.New(filepath.Join(t.TempDir(), "transcriptions.json"))
	if err != nil {
		t.Fatalf("new store: %v", err)
	}

	hub := notify.NewHub()
	recordStore.SetNotifier(hub.Publish)

	fx := &fixture{
		store:    recordStore,
		enqueued: make(chan pipeline.Item, 16),
	}

	queue := pipeline.NewQueue(func(ctx context.Context, item pipeline.Item) error {
		fx.enqueued <- item
		return nil
	}, log.New(io.Discard))

	fx.server = New(
		opts,
		recordStore,
		hub,
		queue,
		&fakeTranscriber{result: whisper.Result{Text: "uploaded text", Language: "en"}},
		nil,
		nil,
		jwt.NewService("test-secret", time.Hour),
		log.New(io.Discard),
	)
	return fx
}

func (fx *fixture) do(t *testing.T, method, target string, body io.Reader, header http.Header) *httptest.ResponseRecorder {
	t.Helper()

	req := httptest.NewRequest(method, target, body)
	for key, values := range header {
		for _, v := range values {
			req.Header.Add(key, v)
		}
	}
	rec := httptest.NewRecorder()
	fx.server.httpServer.Handler.ServeHTTP(rec, req)
	return rec
}

func jsonHeader() http.Header {
	h := http.Header{}
	h.Set("Content-Type", "application/json")
	return h
}

// TestWebhookVerify covers the subscription handshake.
func TestWebhookVerify(t *testing.T) {
	fx := newFixture(t, Options{VerifyToken: "secret-token"})

	rec := fx.do(t, http.MethodGet, "/webhook?hub.mode=subscribe&hub.verify_token=secret-token&hub.challenge=12345", nil, nil)
	if rec.Code != http.StatusOK || rec.Body.String() != "12345" {
		t.Fatalf("status=%d body=%q", rec.Code, rec.Body.String())
	}

	rec = fx.do(t, http.MethodGet, "/webhook?hub.mode=subscribe&hub.verify_token=wrong&hub.challenge=12345", nil, nil)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("status = %d, want 403", rec.Code)
	}
}

// TestWebhookEventEnqueues verifies delivery parsing and queue handoff.
func TestWebhookEventEnqueues(t *testing.T) {
	fx := newFixture(t, Options{VerifyToken: "secret-token"})

	payload := `{
		"entry": [{"changes": [{"value": {
			"contacts": [{"wa_id": "111", "profile": {"name": "Alice"}}],
			"messages": [{"id": "m1", "from": "111", "type": "audio", "audio": {"id": "media-1"}}]
		}}]}]
	}`
	rec := fx.do(t, http.MethodPost, "/webhook", strings.NewReader(payload), jsonHeader())
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}

	select {
	case item := <-fx.enqueued:
		if item.Sender != "111" || item.SenderName != "Alice" {
			t.Fatalf("item = %+v", item)
		}
		if item.Message.Audio == nil || item.Message.Audio.ID != "media-1" {
			t.Fatalf("audio = %+v", item.Message.Audio)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("nothing enqueued")
	}
}

// TestWebhookEventBadPayloadStillAcks verifies unparseable deliveries
// are acked so the platform stops retrying them.
func TestWebhookEventBadPayloadStillAcks(t *testing.T) {
	fx := newFixture(t, Options{VerifyToken: "secret-token"})

	rec := fx.do(t, http.MethodPost, "/webhook", strings.NewReader("{not json"), jsonHeader())
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
}

// ackRecorder flags when the response status has been written.
type ackRecorder struct {
	*httptest.ResponseRecorder
	acked *atomic.Bool
}

func (a *ackRecorder) WriteHeader(code int) {
	a.acked.Store(true)
	a.ResponseRecorder.WriteHeader(code)
}

// TestWebhookAcksBeforeHandoff verifies the 200 reaches the platform
// before any message is handed to the queue.
func TestWebhookAcksBeforeHandoff(t *testing.T) {
	recordStore, err := store.New(filepath.Join(t.TempDir(), "transcriptions.json"))
	if err != nil {
		t.Fatalf("new store: %v", err)
	}

	var acked atomic.Bool
	observed := make(chan bool, 1)
	queue := pipeline.NewQueue(func(ctx context.Context, item pipeline.Item) error {
		observed <- acked.Load()
		return nil
	}, log.New(io.Discard))

	server := New(
		Options{VerifyToken: "secret-token"},
		recordStore,
		notify.NewHub(),
		queue,
		&fakeTranscriber{},
		nil,
		nil,
		jwt.NewService("test-secret", time.Hour),
		log.New(io.Discard),
	)

	payload := `{
		"entry": [{"changes": [{"value": {
			"messages": [{"id": "m1", "from": "111", "type": "text", "text": {"body": "hi"}}]
		}}]}]
	}`
	req := httptest.NewRequest(http.MethodPost, "/webhook", strings.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	rec := &ackRecorder{ResponseRecorder: httptest.NewRecorder(), acked: &acked}
	server.httpServer.Handler.ServeHTTP(rec, req)

	select {
	case sawAck := <-observed:
		if !sawAck {
			t.Fatal("message handed to the queue before the delivery was acked")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("nothing enqueued")
	}
}

// TestTranscriptionAudioLink covers the replay link endpoint with and
// without archived audio.
func TestTranscriptionAudioLink(t *testing.T) {
	fx := newFixture(t, Options{})
	fx.server.archive = &fakeArchive{url: "https://archive.example/"}

	archived, err := fx.store.Create(store.TranscriptionRecord{
		Text: "with audio", Source: store.SourceWhatsApp,
		AudioObject: "voice-notes/2026/08/28/abc.ogg",
	})
	if err != nil {
		t.Fatalf("seed: %v", err)
	}
	plain, err := fx.store.Create(store.TranscriptionRecord{
		Text: "no audio", Source: store.SourceManual,
	})
	if err != nil {
		t.Fatalf("seed: %v", err)
	}

	rec := fx.do(t, http.MethodGet, fmt.Sprintf("/api/transcriptions/%d/audio", archived.ID), nil, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d body=%s", rec.Code, rec.Body.String())
	}
	var link struct {
		URL string `json:"url"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &link); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if link.URL != "https://archive.example/voice-notes/2026/08/28/abc.ogg" {
		t.Fatalf("url = %q", link.URL)
	}

	rec = fx.do(t, http.MethodGet, fmt.Sprintf("/api/transcriptions/%d/audio", plain.ID), nil, nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("no-audio status = %d, want 404", rec.Code)
	}

	// With the archive disabled the link is gone even for archived records.
	fx.server.archive = nil
	rec = fx.do(t, http.MethodGet, fmt.Sprintf("/api/transcriptions/%d/audio", archived.ID), nil, nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("disabled-archive status = %d, want 404", rec.Code)
	}
}

// TestDeleteCleansUpArchivedAudio verifies the archived object is
// removed together with its record.
func TestDeleteCleansUpArchivedAudio(t *testing.T) {
	fx := newFixture(t, Options{})
	archive := &fakeArchive{}
	fx.server.archive = archive

	created, err := fx.store.Create(store.TranscriptionRecord{
		Text: "bye", Source: store.SourceWhatsApp,
		AudioObject: "voice-notes/2026/08/28/abc.ogg",
	})
	if err != nil {
		t.Fatalf("seed: %v", err)
	}

	rec := fx.do(t, http.MethodDelete, fmt.Sprintf("/api/transcriptions/%d", created.ID), nil, nil)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("status = %d", rec.Code)
	}

	if len(archive.deleted) != 1 || archive.deleted[0] != created.AudioObject {
		t.Fatalf("deleted objects = %v", archive.deleted)
	}
}

// TestTranscriptionCRUD exercises list, get, patch and delete.
func TestTranscriptionCRUD(t *testing.T) {
	fx := newFixture(t, Options{})

	created, err := fx.store.Create(store.TranscriptionRecord{
		Text: "original", Sender: "111", SenderName: "Alice", Source: store.SourceWhatsApp,
	})
	if err != nil {
		t.Fatalf("seed: %v", err)
	}

	rec := fx.do(t, http.MethodGet, "/api/transcriptions", nil, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("list status = %d", rec.Code)
	}
	var listed struct {
		Records []store.TranscriptionRecord `json:"records"`
		Total   int                         `json:"total"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &listed); err != nil {
		t.Fatalf("decode list: %v", err)
	}
	if listed.Total != 1 || listed.Records[0].Text != "original" {
		t.Fatalf("listed = %+v", listed)
	}

	rec = fx.do(t, http.MethodPatch, "/api/transcriptions/1", strings.NewReader(`{"text":"edited"}`), jsonHeader())
	if rec.Code != http.StatusOK {
		t.Fatalf("patch status = %d body=%s", rec.Code, rec.Body.String())
	}

	got, _ := fx.store.Get(created.ID)
	if got.Text != "edited" {
		t.Fatalf("text = %q, want edited", got.Text)
	}

	rec = fx.do(t, http.MethodDelete, "/api/transcriptions/1", nil, nil)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("delete status = %d", rec.Code)
	}

	// Deleting again reports not found.
	rec = fx.do(t, http.MethodDelete, "/api/transcriptions/1", nil, nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("second delete status = %d, want 404", rec.Code)
	}

	rec = fx.do(t, http.MethodGet, "/api/transcriptions/999", nil, nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("missing get status = %d, want 404", rec.Code)
	}
}

// TestSettingsEndpoint verifies the allow-list behavior end to end.
func TestSettingsEndpoint(t *testing.T) {
	fx := newFixture(t, Options{})

	body := `{"auto_reply": "true", "mystery": "value"}`
	rec := fx.do(t, http.MethodPut, "/api/settings", strings.NewReader(body), jsonHeader())
	if rec.Code != http.StatusOK {
		t.Fatalf("put status = %d", rec.Code)
	}

	var settings map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &settings); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if settings["auto_reply"] != "true" {
		t.Fatalf("auto_reply = %q", settings["auto_reply"])
	}
	if _, ok := settings["mystery"]; ok {
		t.Fatal("unknown key was stored")
	}
}

// TestManualUpload verifies the queue-bypassing upload path.
func TestManualUpload(t *testing.T) {
	fx := newFixture(t, Options{})

	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)
	part, err := writer.CreateFormFile("file", "note.ogg")
	if err != nil {
		t.Fatalf("form file: %v", err)
	}
	_, _ = part.Write([]byte("fake-audio"))
	_ = writer.WriteField("sender_name", "Dictaphone")
	_ = writer.Close()

	header := http.Header{}
	header.Set("Content-Type", writer.FormDataContentType())

	rec := fx.do(t, http.MethodPost, "/api/transcriptions", body, header)
	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d body=%s", rec.Code, rec.Body.String())
	}

	var created store.TranscriptionRecord
	if err := json.Unmarshal(rec.Body.Bytes(), &created); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if created.Source != store.SourceManual || created.Text != "uploaded text" {
		t.Fatalf("record = %+v", created)
	}
	if created.SenderName != "Dictaphone" {
		t.Fatalf("sender name = %q", created.SenderName)
	}
}

// TestAuthProtectsMutations verifies the login flow and the bearer
// requirement on mutating routes when a password is configured.
func TestAuthProtectsMutations(t *testing.T) {
	hash, err := password.Hash("hunter2")
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	fx := newFixture(t, Options{AdminPasswordHash: hash})

	// No token: rejected.
	rec := fx.do(t, http.MethodDelete, "/api/transcriptions", nil, nil)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rec.Code)
	}

	// Wrong password: rejected.
	rec = fx.do(t, http.MethodPost, "/api/auth/login", strings.NewReader(`{"password":"nope"}`), jsonHeader())
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("login status = %d, want 401", rec.Code)
	}

	// Correct password: token issued and accepted.
	rec = fx.do(t, http.MethodPost, "/api/auth/login", strings.NewReader(`{"password":"hunter2"}`), jsonHeader())
	if rec.Code != http.StatusOK {
		t.Fatalf("login status = %d", rec.Code)
	}
	var login struct {
		Token string `json:"token"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &login); err != nil {
		t.Fatalf("decode login: %v", err)
	}

	header := http.Header{}
	header.Set("Authorization", "Bearer "+login.Token)
	rec = fx.do(t, http.MethodDelete, "/api/transcriptions", nil, header)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("authed delete status = %d", rec.Code)
	}

	// Reads stay open.
	rec = fx.do(t, http.MethodGet, "/api/transcriptions", nil, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("read status = %d", rec.Code)
	}
}

// TestStatsEndpoint smoke-checks the aggregate response shape.
func TestStatsEndpoint(t *testing.T) {
	fx := newFixture(t, Options{})

	if _, err := fx.store.Create(store.TranscriptionRecord{Text: "x", Source: store.SourceWhatsApp}); err != nil {
		t.Fatalf("seed: %v", err)
	}

	rec := fx.do(t, http.MethodGet, "/api/stats", nil, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}

	var stats store.Stats
	if err := json.Unmarshal(rec.Body.Bytes(), &stats); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if stats.Total != 1 || stats.BySource[store.SourceWhatsApp] != 1 {
		t.Fatalf("stats = %+v", stats)
	}
}

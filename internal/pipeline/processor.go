package pipeline

import (
	"context"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/log"

	"github.com/VisoroGroup/Voice-to-text/internal/store"
	"github.com/VisoroGroup/Voice-to-text/internal/whatsapp"
	"github.com/VisoroGroup/Voice-to-text/internal/whisper"
)

// downloadRetryDelay is the fixed wait before the single download retry.
const downloadRetryDelay = 2 * time.Second

// helpKeywords trigger the static help reply, in the two supported
// languages.
var helpKeywords = map[string]struct{}{
	"help":  {},
	"ayuda": {},
}

const (
	helpMessage = "Send me a voice message and I will reply with its transcription.\n" +
		"Envíame un mensaje de voz y te responderé con su transcripción."
	downloadFailedNotice = "Sorry, I couldn't download your voice message. Please try sending it again."
	tooLargeNotice       = "Sorry, that voice message is too large to transcribe (the limit is 25 MB)."
)

// MediaFetcher resolves a media id to its bytes and mime type.
type MediaFetcher interface {
	DownloadMedia(ctx context.Context, mediaID string) ([]byte, string, error)
}

// Transcriber turns audio bytes into a transcription result.
type Transcriber interface {
	Transcribe(ctx context.Context, audio []byte, mimeType, language string) (whisper.Result, error)
}

// Sender delivers outbound messages to the platform.
type Sender interface {
	SendText(ctx context.Context, to, body string) error
	SendTemplate(ctx context.Context, to, templateName, languageCode string, params ...string) error
}

// RecordStore is the slice of the persistence store the processor needs.
type RecordStore interface {
	Create(rec store.TranscriptionRecord) (store.TranscriptionRecord, error)
	GetSetting(key string) string
}

// Archiver stores original voice-note bytes for later replay.
type Archiver interface {
	ArchiveVoiceNote(ctx context.Context, data []byte, mimeType string) (string, error)
}

// Processor runs the per-item procedure: classify, download, transcribe,
// persist, reply, forward.
type Processor struct {
	fetcher      MediaFetcher
	transcriber  Transcriber
	sender       Sender
	store        RecordStore
	archiver     Archiver        // optional
	forwardTo    func() []string // re-read per item
	templateName string
	templateLang string
	sleep        func(time.Duration)
	logger       *log.Logger
}

// NewProcessor wires the per-item procedure. archiver may be nil;
// forwardTo is consulted once per audio item so config changes apply to
// the next message.
func NewProcessor(
	fetcher MediaFetcher,
	transcriber Transcriber,
	sender Sender,
	recordStore RecordStore,
	archiver Archiver,
	forwardTo func() []string,
	templateName string,
	templateLang string,
	logger *log.Logger,
) *Processor {
	return &Processor{
		fetcher:      fetcher,
		transcriber:  transcriber,
		sender:       sender,
		store:        recordStore,
		archiver:     archiver,
		forwardTo:    forwardTo,
		templateName: templateName,
		templateLang: templateLang,
		sleep:        time.Sleep,
		logger:       logger,
	}
}

// Process classifies the message by type and routes it. Unknown types
// are ignored.
func (p *Processor) Process(ctx context.Context, item Item) error {
	switch item.Message.Type {
	case whatsapp.MessageTypeAudio:
		return p.handleAudio(ctx, item)
	case whatsapp.MessageTypeText:
		return p.handleText(ctx, item)
	default:
		return nil
	}
}

// handleText answers help requests and ignores everything else.
func (p *Processor) handleText(ctx context.Context, item Item) error {
	if item.Message.Text == nil {
		return nil
	}

	body := strings.ToLower(strings.TrimSpace(item.Message.Text.Body))
	if _, ok := helpKeywords[body]; !ok {
		return nil
	}
	return p.sender.SendText(ctx, item.Sender, helpMessage)
}

// handleAudio is the full audio procedure. Download and size failures
// notify the user best-effort and abort without a record; transcription
// and persistence failures propagate to the queue's isolation layer.
func (p *Processor) handleAudio(ctx context.Context, item Item) error {
	audio := item.Message.Audio
	if audio == nil {
		return nil
	}

	mimeType := audio.MimeType
	if mimeType == "" {
		mimeType = whatsapp.DefaultAudioMimeType
	}

	data, downloadedMime, err := p.fetcher.DownloadMedia(ctx, audio.ID)
	if err != nil {
		p.logger.Warn(
			"Media download failed, retrying once",
			"sender", item.Sender,
			"media_id", audio.ID,
			"error", err,
		)
		p.sleep(downloadRetryDelay)

		data, downloadedMime, err = p.fetcher.DownloadMedia(ctx, audio.ID)
		if err != nil {
			p.logger.Error(
				"Media download failed after retry",
				"sender", item.Sender,
				"media_id", audio.ID,
				"error", err,
			)
			p.notifyBestEffort(ctx, item.Sender, downloadFailedNotice)
			return nil
		}
	}
	if downloadedMime != "" {
		mimeType = downloadedMime
	}

	if len(data) > whisper.MaxAudioBytes {
		p.logger.Warn(
			"Voice message exceeds size limit",
			"sender", item.Sender,
			"size", len(data),
		)
		p.notifyBestEffort(ctx, item.Sender, tooLargeNotice)
		return nil
	}

	audioObject := ""
	if p.archiver != nil {
		object, err := p.archiver.ArchiveVoiceNote(ctx, data, mimeType)
		if err != nil {
			p.logger.Warn("Failed to archive voice note", "sender", item.Sender, "error", err)
		} else {
			audioObject = object
		}
	}

	language := ""
	if configured := p.store.GetSetting(store.SettingDefaultLanguage); configured != "" && configured != "auto" {
		language = configured
	}

	result, err := p.transcriber.Transcribe(ctx, data, mimeType, language)
	if err != nil {
		return fmt.Errorf("transcribe voice message from %s: %w", item.Sender, err)
	}

	duration := result.Duration
	if duration == nil {
		duration = audio.Duration
	}

	lang := result.Language
	rec, err := p.store.Create(store.TranscriptionRecord{
		Sender:      item.Sender,
		SenderName:  item.SenderName,
		Timestamp:   messageTimestamp(item),
		Text:        result.Text,
		Language:    &lang,
		Duration:    duration,
		Source:      store.SourceWhatsApp,
		AudioObject: audioObject,
	})
	if err != nil {
		return fmt.Errorf("persist transcription for %s: %w", item.Sender, err)
	}

	p.logger.Info(
		"Transcription persisted",
		"id", rec.ID,
		"sender", item.Sender,
		"language", result.Language,
	)

	if p.store.GetSetting(store.SettingAutoReply) == "true" {
		// Send failures here propagate on purpose.
		if err := p.sender.SendText(ctx, item.Sender, formatReply(result, duration)); err != nil {
			return fmt.Errorf("send transcription reply to %s: %w", item.Sender, err)
		}
	}

	p.forward(ctx, item, rec)
	return nil
}

// forward delivers the new transcription to every configured destination
// except the original sender. Templates go first since they bypass the
// session window; on template failure a plain text is tried. Failures
// never abort the item and never affect other destinations.
func (p *Processor) forward(ctx context.Context, item Item, rec store.TranscriptionRecord) {
	destinations := p.forwardTo()
	if len(destinations) == 0 {
		return
	}

	name := item.SenderName
	if name == "" {
		name = item.Sender
	}
	fallback := fmt.Sprintf("New voice message from %s:\n\n%s", name, rec.Text)

	for _, dest := range destinations {
		if dest == item.Sender {
			continue
		}

		err := p.sender.SendTemplate(ctx, dest, p.templateName, p.templateLang, name, rec.Text)
		if err == nil {
			continue
		}
		p.logger.Warn(
			"Template forward failed, falling back to text",
			"destination", dest,
			"error", err,
		)

		if err := p.sender.SendText(ctx, dest, fallback); err != nil {
			p.logger.Error(
				"Forward failed",
				"destination", dest,
				"error", err,
			)
		}
	}
}

// notifyBestEffort sends a user-facing notice and swallows send failures.
func (p *Processor) notifyBestEffort(ctx context.Context, to, body string) {
	if err := p.sender.SendText(ctx, to, body); err != nil {
		p.logger.Warn("Failed to send notice", "to", to, "error", err)
	}
}

// formatReply renders the transcription with language and rounded
// duration for the auto-reply.
func formatReply(result whisper.Result, duration *float64) string {
	meta := result.Language
	if duration != nil {
		meta = fmt.Sprintf("%s, %ds", meta, int(math.Round(*duration)))
	}
	return fmt.Sprintf("📝 Transcription (%s):\n\n%s", meta, result.Text)
}

// messageTimestamp prefers the platform's message timestamp and falls
// back to the enqueue time.
func messageTimestamp(item Item) int64 {
	if ts, err := strconv.ParseInt(item.Message.Timestamp, 10, 64); err == nil && ts > 0 {
		return ts
	}
	return item.EnqueuedAt / 1000
}

package whisper

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"github.com/charmbracelet/log"
)

const (
	defaultBaseURL = "https://api.openai.com/v1"
	defaultModel   = "whisper-1"

	// MaxAudioBytes is the API's upload ceiling. Checked before any
	// network call happens.
	MaxAudioBytes = 25 << 20

	// DefaultMaxRetries bounds attempts for retryable failures.
	DefaultMaxRetries = 3
)

// ErrAudioTooLarge is returned when the audio exceeds MaxAudioBytes.
var ErrAudioTooLarge = errors.New("audio exceeds 25 MiB upload limit")

// APIError is a transcription API failure carrying the HTTP status.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("whisper api error: status %d", e.StatusCode)
	}
	return fmt.Sprintf("whisper api error: status %d message %s", e.StatusCode, e.Message)
}

// Retryable reports whether the failure is worth another attempt:
// rate limiting and server-side errors are, other client errors are not.
func (e *APIError) Retryable() bool {
	switch e.StatusCode {
	case http.StatusTooManyRequests,
		http.StatusInternalServerError,
		http.StatusBadGateway,
		http.StatusServiceUnavailable:
		return true
	default:
		return false
	}
}

// Result is a normalized transcription response.
type Result struct {
	Text     string
	Language string
	Duration *float64
	Segments []json.RawMessage
}

// Client submits audio to the transcription API with bounded retries and
// exponential backoff between attempts.
type Client struct {
	httpClient *http.Client
	baseURL    string
	apiKey     string
	model      string
	maxRetries int
	sleep      func(time.Duration)
	logger     *log.Logger
}

// NewClient creates a transcription client. Empty baseURL, model, and a
// non-positive maxRetries select the defaults.
func NewClient(baseURL, apiKey, model string, maxRetries int, logger *log.Logger) *Client {
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	if model == "" {
		model = defaultModel
	}
	if maxRetries <= 0 {
		maxRetries = DefaultMaxRetries
	}
	return &Client{
		httpClient: &http.Client{
			Timeout: 5 * time.Minute,
		},
		baseURL:    baseURL,
		apiKey:     apiKey,
		model:      model,
		maxRetries: maxRetries,
		sleep:      time.Sleep,
		logger:     logger,
	}
}

// Transcribe sends the audio and returns the normalized result. Language
// forces transcription into the given code when non-empty. Retryable
// failures are attempted up to maxRetries times with 2^attempt seconds
// between attempts; the last observed error is returned when attempts
// run out. Terminal failures return immediately.
func (c *Client) Transcribe(ctx context.Context, audio []byte, mimeType, language string) (Result, error) {
	if len(audio) > MaxAudioBytes {
		return Result{}, ErrAudioTooLarge
	}

	var lastErr error
	for attempt := 1; attempt <= c.maxRetries; attempt++ {
		result, err := c.attempt(ctx, audio, mimeType, language)
		if err == nil {
			return result, nil
		}
		lastErr = err

		var apiErr *APIError
		if errors.As(err, &apiErr) && !apiErr.Retryable() {
			return Result{}, err
		}

		if attempt < c.maxRetries {
			delay := time.Duration(1<<attempt) * time.Second
			c.logger.Warn(
				"Transcription attempt failed, backing off",
				"attempt", attempt,
				"delay", delay,
				"error", err,
			)
			c.sleep(delay)
		}
	}
	return Result{}, fmt.Errorf("transcription failed after %d attempts: %w", c.maxRetries, lastErr)
}

// attempt performs a single API call.
func (c *Client) attempt(ctx context.Context, audio []byte, mimeType, language string) (Result, error) {
	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)

	part, err := writer.CreateFormFile("file", "audio"+extensionForMime(mimeType))
	if err != nil {
		return Result{}, fmt.Errorf("create multipart file: %w", err)
	}
	if _, err := part.Write(audio); err != nil {
		return Result{}, fmt.Errorf("write audio data: %w", err)
	}

	if err := writer.WriteField("model", c.model); err != nil {
		return Result{}, fmt.Errorf("write model field: %w", err)
	}
	if err := writer.WriteField("response_format", "verbose_json"); err != nil {
		return Result{}, fmt.Errorf("write response_format field: %w", err)
	}
	if language != "" {
		if err := writer.WriteField("language", language); err != nil {
			return Result{}, fmt.Errorf("write language field: %w", err)
		}
	}
	if err := writer.Close(); err != nil {
		return Result{}, fmt.Errorf("close multipart writer: %w", err)
	}

	url := c.baseURL + "/audio/transcriptions"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, body)
	if err != nil {
		return Result{}, fmt.Errorf("create transcription request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", writer.FormDataContentType())

	resp, err := c.httpClient.Do(req)
	if err != nil {
		// Transport failure, treated as retryable by the caller.
		return Result{}, fmt.Errorf("transcription request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		return Result{}, decodeAPIError(resp)
	}

	var payload struct {
		Text     string            `json:"text"`
		Language string            `json:"language"`
		Duration *float64          `json:"duration"`
		Segments []json.RawMessage `json:"segments"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return Result{}, fmt.Errorf("decode transcription response: %w", err)
	}

	result := Result{
		Text:     strings.TrimSpace(payload.Text),
		Language: payload.Language,
		Duration: payload.Duration,
		Segments: payload.Segments,
	}
	if result.Language == "" {
		result.Language = "unknown"
	}
	if result.Segments == nil {
		result.Segments = []json.RawMessage{}
	}
	return result, nil
}

// decodeAPIError extracts the API error message when the body carries one.
func decodeAPIError(resp *http.Response) error {
	apiErr := &APIError{StatusCode: resp.StatusCode}

	var payload struct {
		Error struct {
			Message string `json:"message"`
		} `json:"error"`
	}
	body, _ := io.ReadAll(resp.Body)
	if err := json.Unmarshal(body, &payload); err == nil {
		apiErr.Message = payload.Error.Message
	}
	return apiErr
}

// extensionForMime picks an upload filename extension the API accepts.
func extensionForMime(mimeType string) string {
	base := mimeType
	if i := strings.Index(base, ";"); i >= 0 {
		base = base[:i]
	}
	switch strings.TrimSpace(strings.ToLower(base)) {
	case "audio/mpeg", "audio/mp3":
		return ".mp3"
	case "audio/mp4", "audio/x-m4a", "audio/m4a":
		return ".m4a"
	case "audio/wav", "audio/x-wav":
		return ".wav"
	case "audio/webm":
		return ".webm"
	case "audio/flac":
		return ".flac"
	default:
		return ".ogg"
	}
}

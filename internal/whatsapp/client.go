package whatsapp

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/charmbracelet/log"
)

const defaultAPIBaseURL = "https://graph.facebook.com/v19.0"

// FetchError is returned when a media resolve or download call comes back
// with a non-success status. The status lets callers classify the failure.
type FetchError struct {
	Operation  string
	StatusCode int
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("whatsapp %s failed with status %d", e.Operation, e.StatusCode)
}

// Client talks to the WhatsApp Cloud API: media lookup and download plus
// outbound text and template messages.
type Client struct {
	httpClient    *http.Client
	baseURL       string
	token         string
	phoneNumberID string
	logger        *log.Logger
}

// NewClient creates a WhatsApp Cloud API client. An empty baseURL selects
// the production Graph API endpoint.
func NewClient(baseURL, token, phoneNumberID string, logger *log.Logger) *Client {
	if baseURL == "" {
		baseURL = defaultAPIBaseURL
	}
	return &Client{
		httpClient: &http.Client{
			Timeout: 60 * time.Second,
		},
		baseURL:       baseURL,
		token:         token,
		phoneNumberID: phoneNumberID,
		logger:        logger,
	}
}

// mediaInfo is the resolve response for a media id.
type mediaInfo struct {
	URL      string `json:"url"`
	MimeType string `json:"mime_type"`
}

// resolveMedia exchanges a media id for a short-lived download URL.
func (c *Client) resolveMedia(ctx context.Context, mediaID string) (mediaInfo, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fmt.Sprintf("%s/%s", c.baseURL, mediaID), nil)
	if err != nil {
		return mediaInfo{}, fmt.Errorf("create media resolve request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return mediaInfo{}, fmt.Errorf("media resolve request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return mediaInfo{}, &FetchError{Operation: "media resolve", StatusCode: resp.StatusCode}
	}

	var info mediaInfo
	if err := json.NewDecoder(resp.Body).Decode(&info); err != nil {
		return mediaInfo{}, fmt.Errorf("decode media resolve response: %w", err)
	}
	return info, nil
}

// DownloadMedia resolves a media id and fetches its bytes. Both calls use
// the same bearer credential. There is no retry here, retrying is the
// caller's job.
func (c *Client) DownloadMedia(ctx context.Context, mediaID string) ([]byte, string, error) {
	info, err := c.resolveMedia(ctx, mediaID)
	if err != nil {
		return nil, "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, info.URL, nil)
	if err != nil {
		return nil, "", fmt.Errorf("create media download request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("media download request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, "", &FetchError{Operation: "media download", StatusCode: resp.StatusCode}
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, "", fmt.Errorf("read media body: %w", err)
	}
	return data, info.MimeType, nil
}

// SendText sends a plain text message. Free-form texts are subject to the
// platform's 24h session window.
func (c *Client) SendText(ctx context.Context, to, body string) error {
	payload := map[string]any{
		"messaging_product": "whatsapp",
		"to":                to,
		"type":              "text",
		"text": map[string]any{
			"body": body,
		},
	}
	return c.sendMessage(ctx, payload)
}

// SendTemplate sends a pre-approved template message. Templates bypass
// the session window, so they reach recipients who never wrote first.
func (c *Client) SendTemplate(ctx context.Context, to, templateName, languageCode string, params ...string) error {
	template := map[string]any{
		"name": templateName,
		"language": map[string]any{
			"code": languageCode,
		},
	}

	if len(params) > 0 {
		parameters := make([]map[string]any, 0, len(params))
		for _, p := range params {
			parameters = append(parameters, map[string]any{
				"type": "text",
				"text": p,
			})
		}
		template["components"] = []map[string]any{
			{
				"type":       "body",
				"parameters": parameters,
			},
		}
	}

	payload := map[string]any{
		"messaging_product": "whatsapp",
		"to":                to,
		"type":              "template",
		"template":          template,
	}
	return c.sendMessage(ctx, payload)
}

func (c *Client) sendMessage(ctx context.Context, payload map[string]any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode message payload: %w", err)
	}

	url := fmt.Sprintf("%s/%s/messages", c.baseURL, c.phoneNumberID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create send request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("send request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		c.logger.Debug(
			"Send rejected by API",
			"status", resp.StatusCode,
			"body", string(respBody),
		)
		return fmt.Errorf("send failed with status %d", resp.StatusCode)
	}
	return nil
}

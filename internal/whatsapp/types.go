package whatsapp

// Message types the pipeline cares about. Everything else is ignored.
const (
	MessageTypeAudio = "audio"
	MessageTypeText  = "text"
)

// DefaultAudioMimeType is applied when the platform omits the mime type.
const DefaultAudioMimeType = "audio/ogg"

// Message is one inbound message from the webhook payload.
type Message struct {
	ID        string `json:"id"`
	From      string `json:"from"`
	Timestamp string `json:"timestamp"`
	Type      string `json:"type"`
	Audio     *Audio `json:"audio,omitempty"`
	Text      *Text  `json:"text,omitempty"`
}

// Audio is the media payload of an audio message.
type Audio struct {
	ID       string   `json:"id"`
	MimeType string   `json:"mime_type"`
	Duration *float64 `json:"duration,omitempty"`
}

// Text is the payload of a plain text message.
type Text struct {
	Body string `json:"body"`
}

// Contact carries the sender profile attached to a webhook delivery.
type Contact struct {
	WaID    string `json:"wa_id"`
	Profile struct {
		Name string `json:"name"`
	} `json:"profile"`
}

// WebhookPayload is the envelope the platform posts to the webhook.
type WebhookPayload struct {
	Object string `json:"object"`
	Entry  []struct {
		ID      string `json:"id"`
		Changes []struct {
			Field string `json:"field"`
			Value struct {
				MessagingProduct string    `json:"messaging_product"`
				Contacts         []Contact `json:"contacts"`
				Messages         []Message `json:"messages"`
			} `json:"value"`
		} `json:"changes"`
	} `json:"entry"`
}

// Messages flattens all inbound messages of the payload together with a
// lookup of sender display names by phone number.
func (p *WebhookPayload) Messages() ([]Message, map[string]string) {
	var messages []Message
	names := make(map[string]string)

	for _, entry := range p.Entry {
		for _, change := range entry.Changes {
			for _, contact := range change.Value.Contacts {
				if contact.Profile.Name != "" {
					names[contact.WaID] = contact.Profile.Name
				}
			}
			messages = append(messages, change.Value.Messages...)
		}
	}
	return messages, names
}

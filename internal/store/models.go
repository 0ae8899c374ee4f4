package store

// Source tags recorded on each transcription.
const (
	SourceWhatsApp = "whatsapp"
	SourceManual   = "manual"
)

// Settings keys accepted by UpdateSettings. Anything else is ignored.
const (
	SettingAutoReply       = "auto_reply"
	SettingDefaultLanguage = "default_language"
)

// TranscriptionRecord is a persisted transcription of one voice message.
type TranscriptionRecord struct {
	ID          int64    `json:"id"`
	Sender      string   `json:"sender"`
	SenderName  string   `json:"sender_name"`
	Timestamp   int64    `json:"timestamp"` // message time, epoch seconds
	Text        string   `json:"text"`
	Language    *string  `json:"language,omitempty"`
	Duration    *float64 `json:"duration_seconds,omitempty"`
	Source      string   `json:"source"`
	AudioObject string   `json:"audio_object,omitempty"` // archive object key, empty when not archived
	CreatedAt   int64    `json:"created_at"`             // store-assigned, epoch seconds
}

// ListFilter narrows and pages List results.
type ListFilter struct {
	Page   int
	Limit  int
	Source string // empty matches all sources
	Search string // case-insensitive substring over text and sender name
}

// LanguageCount is one entry of the per-language stats breakdown.
type LanguageCount struct {
	Language string `json:"language"`
	Count    int    `json:"count"`
}

// Stats aggregates the stored transcriptions.
type Stats struct {
	Total         int            `json:"total"`
	TotalDuration float64        `json:"total_duration_seconds"`
	Last24h       int            `json:"last_24h"`
	BySource      map[string]int `json:"by_source"`
	ByLanguage    []LanguageCount `json:"by_language"`
	FileSizeBytes int64          `json:"file_size_bytes"`
}

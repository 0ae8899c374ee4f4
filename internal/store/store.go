package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"
)

// MaxPageSize is the hard cap on List page sizes.
const MaxPageSize = 100

const defaultPageSize = 20

// allowedSettings is the write allow-list for settings keys.
var allowedSettings = map[string]struct{}{
	SettingAutoReply:       {},
	SettingDefaultLanguage: {},
}

// snapshot is the full on-disk state. Every mutation rewrites it whole.
type snapshot struct {
	NextID   int64                 `json:"next_id"`
	Records  []TranscriptionRecord `json:"records"`
	Settings map[string]string     `json:"settings"`
}

// Store keeps all transcriptions and settings in memory and snapshots
// them to a single JSON file on every mutation. A mutating call does not
// return until the snapshot write completed, so readers never observe
// state that is ahead of disk.
type Store struct {
	mu     sync.RWMutex
	path   string
	data   snapshot
	notify func(TranscriptionRecord)
	now    func() time.Time
}

// New opens the store at path, creating parent directories and seeding
// default settings when the file does not exist yet.
func New(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create data directory: %w", err)
	}

	s := &Store{
		path: path,
		now:  time.Now,
	}
	if err := s.load(); err != nil {
		return nil, err
	}
	return s, nil
}

// SetNotifier registers the callback invoked with every newly created
// record. Must be called before the store is handed to writers.
func (s *Store) SetNotifier(fn func(TranscriptionRecord)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.notify = fn
}

func (s *Store) load() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.data = snapshot{
		NextID:   1,
		Records:  []TranscriptionRecord{},
		Settings: map[string]string{},
	}

	file, err := os.Open(s.path)
	if errors.Is(err, os.ErrNotExist) {
		s.seedDefaults()
		return s.saveLocked()
	}
	if err != nil {
		return fmt.Errorf("open store file: %w", err)
	}
	defer file.Close()

	if err := json.NewDecoder(file).Decode(&s.data); err != nil {
		if errors.Is(err, io.EOF) {
			s.seedDefaults()
			return s.saveLocked()
		}
		return fmt.Errorf("decode store file: %w", err)
	}

	if s.data.Records == nil {
		s.data.Records = []TranscriptionRecord{}
	}
	if s.data.Settings == nil {
		s.data.Settings = map[string]string{}
	}
	if s.data.NextID < 1 {
		s.data.NextID = 1
	}
	s.seedDefaults()
	return nil
}

// seedDefaults fills in settings that are missing. Existing values win.
func (s *Store) seedDefaults() {
	if _, ok := s.data.Settings[SettingAutoReply]; !ok {
		s.data.Settings[SettingAutoReply] = "false"
	}
	if _, ok := s.data.Settings[SettingDefaultLanguage]; !ok {
		s.data.Settings[SettingDefaultLanguage] = "auto"
	}
}

// saveLocked writes the full snapshot to disk. Callers must hold mu.
func (s *Store) saveLocked() error {
	data, err := json.MarshalIndent(s.data, "", "  ")
	if err != nil {
		return fmt.Errorf("encode store snapshot: %w", err)
	}

	if err := os.WriteFile(s.path, data, 0o644); err != nil {
		return fmt.Errorf("write store snapshot: %w", err)
	}
	return nil
}

// Create assigns an id and creation time, persists the record, and
// notifies subscribers after the snapshot reached disk.
func (s *Store) Create(rec TranscriptionRecord) (TranscriptionRecord, error) {
	s.mu.Lock()

	rec.ID = s.data.NextID
	s.data.NextID++
	rec.CreatedAt = s.now().Unix()
	s.data.Records = append(s.data.Records, rec)

	if err := s.saveLocked(); err != nil {
		// Roll back so a failed snapshot does not leave a phantom record.
		s.data.Records = s.data.Records[:len(s.data.Records)-1]
		s.data.NextID--
		s.mu.Unlock()
		return TranscriptionRecord{}, err
	}

	notify := s.notify
	s.mu.Unlock()

	if notify != nil {
		notify(rec)
	}
	return rec, nil
}

// Get returns the record with the given id.
func (s *Store) Get(id int64) (TranscriptionRecord, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, rec := range s.data.Records {
		if rec.ID == id {
			return rec, true
		}
	}
	return TranscriptionRecord{}, false
}

// List returns one page of records newest-first, plus the total count of
// records matching the filter.
func (s *Store) List(filter ListFilter) ([]TranscriptionRecord, int) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	matched := make([]TranscriptionRecord, 0, len(s.data.Records))
	search := strings.ToLower(strings.TrimSpace(filter.Search))
	for _, rec := range s.data.Records {
		if filter.Source != "" && rec.Source != filter.Source {
			continue
		}
		if search != "" &&
			!strings.Contains(strings.ToLower(rec.Text), search) &&
			!strings.Contains(strings.ToLower(rec.SenderName), search) {
			continue
		}
		matched = append(matched, rec)
	}

	sort.Slice(matched, func(i, j int) bool {
		if matched[i].CreatedAt != matched[j].CreatedAt {
			return matched[i].CreatedAt > matched[j].CreatedAt
		}
		return matched[i].ID > matched[j].ID
	})

	limit := filter.Limit
	if limit <= 0 {
		limit = defaultPageSize
	}
	if limit > MaxPageSize {
		limit = MaxPageSize
	}
	page := filter.Page
	if page < 1 {
		page = 1
	}

	total := len(matched)
	start := (page - 1) * limit
	if start >= total {
		return []TranscriptionRecord{}, total
	}
	end := start + limit
	if end > total {
		end = total
	}

	out := make([]TranscriptionRecord, end-start)
	copy(out, matched[start:end])
	return out, total
}

// UpdateText replaces the text of the record with the given id. Returns
// false when no such record exists; the store is left untouched then.
func (s *Store) UpdateText(id int64, text string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i := range s.data.Records {
		if s.data.Records[i].ID != id {
			continue
		}
		prev := s.data.Records[i].Text
		s.data.Records[i].Text = text
		if err := s.saveLocked(); err != nil {
			s.data.Records[i].Text = prev
			return false, err
		}
		return true, nil
	}
	return false, nil
}

// Delete removes the record with the given id. Returns false when absent.
func (s *Store) Delete(id int64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i := range s.data.Records {
		if s.data.Records[i].ID != id {
			continue
		}
		removed := s.data.Records[i]
		s.data.Records = append(s.data.Records[:i], s.data.Records[i+1:]...)
		if err := s.saveLocked(); err != nil {
			// Re-insert so memory keeps matching the snapshot on disk.
			s.data.Records = append(s.data.Records, TranscriptionRecord{})
			copy(s.data.Records[i+1:], s.data.Records[i:])
			s.data.Records[i] = removed
			return false, err
		}
		return true, nil
	}
	return false, nil
}

// DeleteAll removes every record. Assigned ids are not reused.
func (s *Store) DeleteAll() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	prev := s.data.Records
	s.data.Records = []TranscriptionRecord{}
	if err := s.saveLocked(); err != nil {
		s.data.Records = prev
		return err
	}
	return nil
}

// Stats aggregates counts, durations and breakdowns over all records.
func (s *Store) Stats() Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := Stats{
		Total:    len(s.data.Records),
		BySource: map[string]int{},
	}

	cutoff := s.now().Add(-24 * time.Hour).Unix()
	byLanguage := map[string]int{}
	for _, rec := range s.data.Records {
		if rec.Duration != nil {
			stats.TotalDuration += *rec.Duration
		}
		if rec.CreatedAt >= cutoff {
			stats.Last24h++
		}
		stats.BySource[rec.Source]++

		lang := "unknown"
		if rec.Language != nil && *rec.Language != "" {
			lang = *rec.Language
		}
		byLanguage[lang]++
	}

	stats.ByLanguage = topLanguages(byLanguage, 10)

	if info, err := os.Stat(s.path); err == nil {
		stats.FileSizeBytes = info.Size()
	}
	return stats
}

// topLanguages returns the n most frequent languages, ties broken by name
// for stable output.
func topLanguages(counts map[string]int, n int) []LanguageCount {
	out := make([]LanguageCount, 0, len(counts))
	for lang, count := range counts {
		out = append(out, LanguageCount{Language: lang, Count: count})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Language < out[j].Language
	})
	if len(out) > n {
		out = out[:n]
	}
	return out
}

// GetSetting returns the stored value for key, or empty when unset.
func (s *Store) GetSetting(key string) string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.data.Settings[key]
}

// Settings returns a copy of all stored settings.
func (s *Store) Settings() map[string]string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[string]string, len(s.data.Settings))
	for k, v := range s.data.Settings {
		out[k] = v
	}
	return out
}

// UpdateSettings upserts the allow-listed keys from values. Unknown keys
// are silently ignored. Nothing is written when no key survives the
// allow-list.
func (s *Store) UpdateSettings(values map[string]string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	changed := false
	for key, value := range values {
		if _, ok := allowedSettings[key]; !ok {
			continue
		}
		s.data.Settings[key] = value
		changed = true
	}
	if !changed {
		return nil
	}
	return s.saveLocked()
}

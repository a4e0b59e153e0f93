package timeline

import (
	"encoding/json"
	"strings"
	"time"
)

// Stage is one step of a job application's lifecycle.
type Stage string

const (
	StageApplied     Stage = "applied"
	StageShortlisted Stage = "shortlisted"
	StageInterviewed Stage = "interviewed"
	StageOffered     Stage = "offered"
	StageRejected    Stage = "rejected"
)

// CanonicalOrder is the forward progress of an application.
var CanonicalOrder = []Stage{
	StageApplied,
	StageShortlisted,
	StageInterviewed,
	StageOffered,
	StageRejected,
}

// ParseStage trims and lower-cases a literal. Unknown literals are kept as-is.
func ParseStage(value string) Stage {
	return Stage(strings.ToLower(strings.TrimSpace(value)))
}

// Index returns the position in CanonicalOrder, or -1.
func (s Stage) Index() int {
	for i, stage := range CanonicalOrder {
		if stage == s {
			return i
		}
	}
	return -1
}

func (s Stage) Known() bool {
	return s.Index() >= 0
}

// StageRecord is one append-only entry of an application timeline.
// A record is identified by (Stage, CreatedAt).
type StageRecord struct {
	Stage     Stage     `json:"stage"`
	CreatedAt time.Time `json:"created_at"`
	Remarks   string    `json:"remarks,omitempty"`
}

// timestampLayouts are tried in order when a record's timestamp is decoded.
var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// UnmarshalJSON reads the backend's `createdAt` (or `created_at`). A
// timestamp in no known format decodes as the zero time instead of failing
// the whole record, so the record sorts as the oldest one.
func (r *StageRecord) UnmarshalJSON(data []byte) error {
	var raw struct {
		Stage          Stage           `json:"stage"`
		CreatedAt      json.RawMessage `json:"createdAt"`
		CreatedAtSnake json.RawMessage `json:"created_at"`
		Remarks        string          `json:"remarks"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	at := raw.CreatedAt
	if len(at) == 0 {
		at = raw.CreatedAtSnake
	}
	*r = StageRecord{Stage: raw.Stage, CreatedAt: parseTimestamp(at), Remarks: raw.Remarks}
	return nil
}

// parseTimestamp accepts a string in one of timestampLayouts or a number of
// milliseconds since the epoch.
func parseTimestamp(data json.RawMessage) time.Time {
	var text string
	if err := json.Unmarshal(data, &text); err == nil {
		text = strings.TrimSpace(text)
		for _, layout := range timestampLayouts {
			if t, err := time.Parse(layout, text); err == nil {
				return t
			}
		}
		return time.Time{}
	}
	var millis int64
	if err := json.Unmarshal(data, &millis); err == nil && millis > 0 {
		return time.UnixMilli(millis).UTC()
	}
	return time.Time{}
}

// Entry is the representative record of a stage in a normalized timeline.
type Entry struct {
	Stage     Stage     `json:"stage"`
	CreatedAt time.Time `json:"created_at"`
	Remarks   string    `json:"remarks,omitempty"`
	Current   bool      `json:"current"`
}

// View bundles everything a timeline renderer needs.
type View struct {
	Entries []Entry `json:"entries"`
	Current Stage   `json:"current_stage,omitempty"`
	Visible []Stage `json:"visible_stages"`
}

// Current returns the record with the greatest CreatedAt. On equal timestamps
// the record appearing later wins, as it was appended later.
func Current(records []StageRecord) (StageRecord, bool) {
	if len(records) == 0 {
		return StageRecord{}, false
	}
	latest := records[0]
	for _, r := range records[1:] {
		if !r.CreatedAt.Before(latest.CreatedAt) {
			latest = r
		}
	}
	return latest, true
}

// Visible returns the prefix of CanonicalOrder ending at current. An unknown
// current stage shows the whole order; an empty one, meaning no records,
// shows nothing.
func Visible(current Stage) []Stage {
	if current == "" {
		return []Stage{}
	}
	cutoff := cutoffIndex(current)
	out := make([]Stage, cutoff+1)
	copy(out, CanonicalOrder[:cutoff+1])
	return out
}

// Normalize collapses raw records into at most one entry per stage, in
// canonical order, never past the current stage. Stages without records are
// omitted. Records with unknown stages never appear in the output.
func Normalize(records []StageRecord) []Entry {
	current, ok := Current(records)
	if !ok {
		return []Entry{}
	}
	cutoff := cutoffIndex(current.Stage)

	latest := make(map[Stage]StageRecord, len(CanonicalOrder))
	for _, r := range records {
		stage := ParseStage(string(r.Stage))
		idx := stage.Index()
		if idx < 0 || idx > cutoff {
			continue
		}
		r.Stage = stage
		if prev, seen := latest[stage]; seen && r.CreatedAt.Before(prev.CreatedAt) {
			continue
		}
		latest[stage] = r
	}

	currentStage := ParseStage(string(current.Stage))
	entries := make([]Entry, 0, len(latest))
	for _, stage := range CanonicalOrder[:cutoff+1] {
		r, found := latest[stage]
		if !found {
			continue
		}
		entries = append(entries, Entry{
			Stage:     stage,
			CreatedAt: r.CreatedAt,
			Remarks:   r.Remarks,
			Current:   stage == currentStage,
		})
	}
	return entries
}

// Build normalizes records and derives the current and visible stages.
func Build(records []StageRecord) View {
	view := View{Entries: Normalize(records), Visible: []Stage{}}
	if current, ok := Current(records); ok {
		view.Current = ParseStage(string(current.Stage))
		view.Visible = Visible(view.Current)
		if view.Current == "" {
			// a blank literal is an unknown stage, like Normalize treats it
			view.Visible = Visible(StageRejected)
		}
	}
	return view
}

func cutoffIndex(stage Stage) int {
	idx := ParseStage(string(stage)).Index()
	if idx < 0 {
		return len(CanonicalOrder) - 1
	}
	return idx
}

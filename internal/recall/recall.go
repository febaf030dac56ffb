// Package recall persists self-testing sessions and derives per-palace
// performance statistics from them. History lives in the meta store as
// one JSON document, bounded to the most recent sessions.
package recall

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/kalambet/memorium/internal/meta"
	"github.com/kalambet/memorium/internal/palace"
)

const (
	sessionsKey = "recall_sessions"

	// maxSessions bounds the stored history. Older sessions fall off;
	// stats are computed from what remains.
	maxSessions = 100

	// trendWindow is how many recent sessions the improvement trend
	// compares against the ones before them.
	trendWindow = 5

	// performanceLimit caps the weakest/strongest annotation lists.
	performanceLimit = 5
)

// Selection modes for a recall run: annotations presented in document
// order, shuffled, or ordered by historical accuracy, worst first.
const (
	ModeSequential = "sequential"
	ModeRandom     = "random"
	ModeWeakest    = "weakest"
)

// ErrUnknownMode is returned when a session names a selection mode
// other than sequential, random, or weakest.
var ErrUnknownMode = errors.New("unknown recall mode")

// Trend labels for Stats.ImprovementTrend.
const (
	TrendImproving = "improving"
	TrendDeclining = "declining"
	TrendStable    = "stable"
)

// AnnotationResult records the outcome for one annotation in a session:
// whether it was remembered or skipped, how many attempts it took, and
// how long the user spent on it.
type AnnotationResult struct {
	AnnotationID string `json:"annotationId"`
	Text         string `json:"text"`
	Remembered   bool   `json:"remembered"`
	Skipped      bool   `json:"skipped,omitempty"`
	Attempts     int    `json:"attempts,omitempty"`
	TimeSpentMS  int64  `json:"timeSpentMs,omitempty"`
}

// Session is one recall run through a palace. A nil EndTime marks a
// session still in progress; Record fills it in when finalizing.
type Session struct {
	ID               string             `json:"id"`
	PalaceID         string             `json:"palaceId"`
	PalaceName       string             `json:"palaceName"`
	Mode             string             `json:"mode"`
	StartTime        time.Time          `json:"startTime"`
	EndTime          *time.Time         `json:"endTime,omitempty"`
	DurationMS       int64              `json:"durationMs"`
	TotalAnnotations int                `json:"totalAnnotations"`
	RememberedCount  int                `json:"rememberedCount"`
	ForgottenCount   int                `json:"forgottenCount"`
	SkippedCount     int                `json:"skippedCount"`
	Results          []AnnotationResult `json:"results"`
}

// Completed reports whether the session has ended.
func (s Session) Completed() bool {
	return s.EndTime != nil
}

// Score returns the session's recall percentage over the annotations
// actually studied, 0 to 100. Skipped annotations count toward neither
// side.
func (s Session) Score() float64 {
	studied := s.RememberedCount + s.ForgottenCount
	if studied == 0 {
		return 0
	}
	return float64(s.RememberedCount) / float64(studied) * 100
}

// AnnotationPerformance aggregates one annotation's outcomes across a
// palace's history.
type AnnotationPerformance struct {
	AnnotationID string  `json:"annotationId"`
	Text         string  `json:"text"`
	TimesStudied int     `json:"timesStudied"`
	Accuracy     float64 `json:"accuracy"`
}

// Stats summarizes a palace's recall history.
type Stats struct {
	PalaceID                string                  `json:"palaceId"`
	TotalSessions           int                     `json:"totalSessions"`
	TotalAnnotationsStudied int                     `json:"totalAnnotationsStudied"`
	AverageScore            float64                 `json:"averageScore"`
	BestScore               float64                 `json:"bestScore"`
	LastSessionDate         time.Time               `json:"lastSessionDate,omitempty"`
	ImprovementTrend        string                  `json:"improvementTrend"`
	WeakestAnnotations      []AnnotationPerformance `json:"weakestAnnotations"`
	StrongestAnnotations    []AnnotationPerformance `json:"strongestAnnotations"`
}

// Manager stores and queries recall history.
type Manager struct {
	kv *meta.KV
}

// NewManager creates a Manager over the given meta store.
func NewManager(kv *meta.KV) *Manager {
	return &Manager{kv: kv}
}

func (m *Manager) load() ([]Session, error) {
	raw, err := m.kv.Get(sessionsKey)
	if errors.Is(err, meta.ErrNotFound) {
		return []Session{}, nil
	}
	if err != nil {
		return nil, err
	}
	var sessions []Session
	if err := json.Unmarshal([]byte(raw), &sessions); err != nil {
		return nil, fmt.Errorf("parsing recall history: %w", err)
	}
	return sessions, nil
}

func (m *Manager) save(sessions []Session) error {
	data, err := json.Marshal(sessions)
	if err != nil {
		return fmt.Errorf("serializing recall history: %w", err)
	}
	return m.kv.Set(sessionsKey, string(data))
}

// Record finalizes and appends a session, then trims history beyond the
// retention bound. The id, palace fields, and the outcome counters are
// always derived here; callers fill in the mode, timing, and results.
// Missing timing defaults to now, a missing mode to sequential. Returns
// the stored session.
func (m *Manager) Record(palaceID, palaceName string, draft Session) (Session, error) {
	session := draft
	session.ID = palace.NewID("session")
	session.PalaceID = palaceID
	session.PalaceName = palaceName

	if session.Mode == "" {
		session.Mode = ModeSequential
	}
	switch session.Mode {
	case ModeSequential, ModeRandom, ModeWeakest:
	default:
		return Session{}, fmt.Errorf("%w: %q", ErrUnknownMode, session.Mode)
	}

	if session.Results == nil {
		session.Results = []AnnotationResult{}
	}
	session.TotalAnnotations = len(session.Results)
	session.RememberedCount = 0
	session.ForgottenCount = 0
	session.SkippedCount = 0
	for _, r := range session.Results {
		switch {
		case r.Skipped:
			session.SkippedCount++
		case r.Remembered:
			session.RememberedCount++
		default:
			session.ForgottenCount++
		}
	}

	now := time.Now().UTC()
	if session.StartTime.IsZero() {
		session.StartTime = now
	}
	if session.EndTime == nil {
		end := now
		session.EndTime = &end
	}
	if session.DurationMS == 0 {
		session.DurationMS = session.EndTime.Sub(session.StartTime).Milliseconds()
	}

	sessions, err := m.load()
	if err != nil {
		return Session{}, err
	}
	sessions = append(sessions, session)
	if len(sessions) > maxSessions {
		sessions = sessions[len(sessions)-maxSessions:]
	}
	if err := m.save(sessions); err != nil {
		return Session{}, err
	}
	return session, nil
}

// Sessions returns the stored history for one palace, newest first.
// Empty palaceID returns everything.
func (m *Manager) Sessions(palaceID string) ([]Session, error) {
	sessions, err := m.load()
	if err != nil {
		return nil, err
	}
	var out []Session
	for _, s := range sessions {
		if palaceID == "" || s.PalaceID == palaceID {
			out = append(out, s)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].StartTime.After(out[j].StartTime) })
	if out == nil {
		out = []Session{}
	}
	return out, nil
}

// StatsFor computes summary statistics for one palace. A palace with no
// history yields zeroed stats with a stable trend.
func (m *Manager) StatsFor(palaceID string) (Stats, error) {
	sessions, err := m.Sessions(palaceID)
	if err != nil {
		return Stats{}, err
	}
	stats := Stats{
		PalaceID:             palaceID,
		ImprovementTrend:     TrendStable,
		WeakestAnnotations:   []AnnotationPerformance{},
		StrongestAnnotations: []AnnotationPerformance{},
	}
	if len(sessions) == 0 {
		return stats, nil
	}

	stats.TotalSessions = len(sessions)
	stats.LastSessionDate = sessions[0].StartTime

	var sum float64
	for _, s := range sessions {
		stats.TotalAnnotationsStudied += s.RememberedCount + s.ForgottenCount
		score := s.Score()
		sum += score
		if score > stats.BestScore {
			stats.BestScore = score
		}
	}
	stats.AverageScore = sum / float64(len(sessions))
	stats.ImprovementTrend = trend(sessions)
	stats.WeakestAnnotations, stats.StrongestAnnotations = rankAnnotations(sessions)
	return stats, nil
}

// rankAnnotations aggregates per-annotation accuracy across sessions
// and returns the lowest and highest performers, up to the limit each.
// Skipped results do not count as studied.
func rankAnnotations(sessions []Session) (weakest, strongest []AnnotationPerformance) {
	studied := map[string]*AnnotationPerformance{}
	remembered := map[string]int{}
	for _, s := range sessions {
		for _, r := range s.Results {
			if r.Skipped {
				continue
			}
			perf, ok := studied[r.AnnotationID]
			if !ok {
				perf = &AnnotationPerformance{AnnotationID: r.AnnotationID, Text: r.Text}
				studied[r.AnnotationID] = perf
			}
			perf.TimesStudied++
			if r.Remembered {
				remembered[r.AnnotationID]++
			}
		}
	}

	ranked := make([]AnnotationPerformance, 0, len(studied))
	for id, perf := range studied {
		perf.Accuracy = float64(remembered[id]) / float64(perf.TimesStudied) * 100
		ranked = append(ranked, *perf)
	}
	// Accuracy ascending, id as tie-break for a deterministic order.
	sort.Slice(ranked, func(i, j int) bool {
		if ranked[i].Accuracy != ranked[j].Accuracy {
			return ranked[i].Accuracy < ranked[j].Accuracy
		}
		return ranked[i].AnnotationID < ranked[j].AnnotationID
	})

	n := len(ranked)
	low := n
	if low > performanceLimit {
		low = performanceLimit
	}
	weakest = append([]AnnotationPerformance{}, ranked[:low]...)

	strongest = []AnnotationPerformance{}
	for i := n - 1; i >= 0 && len(strongest) < performanceLimit; i-- {
		strongest = append(strongest, ranked[i])
	}
	return weakest, strongest
}

// DeleteFor removes every stored session for a palace. Called from the
// palace delete cascade.
func (m *Manager) DeleteFor(palaceID string) error {
	sessions, err := m.load()
	if err != nil {
		return err
	}
	kept := sessions[:0]
	for _, s := range sessions {
		if s.PalaceID != palaceID {
			kept = append(kept, s)
		}
	}
	if len(kept) == len(sessions) {
		return nil
	}
	return m.save(kept)
}

// Clear removes all recall history.
func (m *Manager) Clear() error {
	return m.kv.Delete(sessionsKey)
}

// trend compares the average score of the newest sessions against the
// window preceding them. Sessions arrive newest first. Fewer than two
// windows' worth of data is reported as stable.
func trend(newestFirst []Session) string {
	if len(newestFirst) < 2 {
		return TrendStable
	}
	recent := newestFirst
	if len(recent) > trendWindow {
		recent = recent[:trendWindow]
	}
	previous := newestFirst[len(recent):]
	if len(previous) > trendWindow {
		previous = previous[:trendWindow]
	}
	if len(previous) == 0 {
		// Not enough history for a baseline; compare within the recent
		// window instead: first half vs second half of the run.
		half := len(recent) / 2
		previous = recent[half:]
		recent = recent[:half]
		if len(recent) == 0 || len(previous) == 0 {
			return TrendStable
		}
	}

	avg := func(ss []Session) float64 {
		var sum float64
		for _, s := range ss {
			sum += s.Score()
		}
		return sum / float64(len(ss))
	}
	diff := avg(recent) - avg(previous)
	switch {
	case diff > 5:
		return TrendImproving
	case diff < -5:
		return TrendDeclining
	default:
		return TrendStable
	}
}

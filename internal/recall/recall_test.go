package recall

import (
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/kalambet/memorium/internal/meta"
)

func newTestManager(t *testing.T) *Manager {
	t.Helper()
	kv := meta.NewKV(":memory:")
	t.Cleanup(func() { kv.Close() })
	return NewManager(kv)
}

func results(outcomes ...bool) []AnnotationResult {
	out := make([]AnnotationResult, len(outcomes))
	for i, ok := range outcomes {
		out[i] = AnnotationResult{AnnotationID: "ann_x", Text: "item", Remembered: ok}
	}
	return out
}

// record with a fixed remembered/total ratio, n times, spacing the
// start times a minute apart so ordering is deterministic. Returns the
// base for a subsequent batch.
func recordRuns(t *testing.T, m *Manager, palaceID string, base time.Time, n, remembered, total int) time.Time {
	t.Helper()
	for i := 0; i < n; i++ {
		rs := make([]AnnotationResult, total)
		for j := range rs {
			rs[j] = AnnotationResult{AnnotationID: "ann_x", Remembered: j < remembered}
		}
		start := base.Add(time.Duration(i) * time.Minute)
		end := start.Add(30 * time.Second)
		if _, err := m.Record(palaceID, "P", Session{StartTime: start, EndTime: &end, Results: rs}); err != nil {
			t.Fatalf("record error: %v", err)
		}
	}
	return base.Add(time.Duration(n) * time.Minute)
}

var testBase = time.Date(2026, 8, 1, 9, 0, 0, 0, time.UTC)

func TestRecordDerivesCounters(t *testing.T) {
	m := newTestManager(t)

	rs := results(true, false, true)
	rs = append(rs, AnnotationResult{AnnotationID: "ann_s", Text: "skipped one", Skipped: true})
	session, err := m.Record("palace_1", "Library", Session{Results: rs})
	if err != nil {
		t.Fatalf("record error: %v", err)
	}
	if !strings.HasPrefix(session.ID, "session_") {
		t.Errorf("id = %q", session.ID)
	}
	if session.TotalAnnotations != 4 {
		t.Errorf("total = %d, want 4", session.TotalAnnotations)
	}
	if session.RememberedCount != 2 || session.ForgottenCount != 1 || session.SkippedCount != 1 {
		t.Errorf("counters = %d/%d/%d, want 2/1/1",
			session.RememberedCount, session.ForgottenCount, session.SkippedCount)
	}
	// Skipped annotations do not dilute the score: 2 of 3 studied.
	if got := session.Score(); got < 66 || got > 67 {
		t.Errorf("score = %v", got)
	}
	if session.Mode != ModeSequential {
		t.Errorf("mode = %q, want sequential default", session.Mode)
	}
	if session.StartTime.IsZero() || !session.Completed() {
		t.Errorf("timing not defaulted: start=%v end=%v", session.StartTime, session.EndTime)
	}
}

func TestRecordRoundTrip(t *testing.T) {
	m := newTestManager(t)

	start := testBase
	end := start.Add(95 * time.Second)
	draft := Session{
		Mode:      ModeWeakest,
		StartTime: start,
		EndTime:   &end,
		Results: []AnnotationResult{
			{AnnotationID: "ann_1", Text: "fireplace", Remembered: true, Attempts: 2, TimeSpentMS: 4200},
			{AnnotationID: "ann_2", Text: "staircase", Skipped: true, TimeSpentMS: 800},
		},
	}
	recorded, err := m.Record("palace_1", "Library", draft)
	if err != nil {
		t.Fatalf("record error: %v", err)
	}
	if recorded.DurationMS != 95000 {
		t.Errorf("duration = %d, want 95000", recorded.DurationMS)
	}

	sessions, err := m.Sessions("palace_1")
	if err != nil {
		t.Fatalf("sessions error: %v", err)
	}
	if len(sessions) != 1 {
		t.Fatalf("got %d sessions, want 1", len(sessions))
	}
	got := sessions[0]
	if got.Mode != ModeWeakest {
		t.Errorf("mode = %q, want weakest", got.Mode)
	}
	if !got.StartTime.Equal(start) || got.EndTime == nil || !got.EndTime.Equal(end) {
		t.Errorf("timing = %v..%v, want %v..%v", got.StartTime, got.EndTime, start, end)
	}
	if got.DurationMS != 95000 {
		t.Errorf("duration = %d, want 95000", got.DurationMS)
	}
	if len(got.Results) != 2 {
		t.Fatalf("got %d results, want 2", len(got.Results))
	}
	if got.Results[0].Attempts != 2 || got.Results[0].TimeSpentMS != 4200 {
		t.Errorf("result detail lost: %+v", got.Results[0])
	}
	if !got.Results[1].Skipped {
		t.Error("skipped flag lost")
	}
	if got.SkippedCount != 1 || got.RememberedCount != 1 || got.ForgottenCount != 0 {
		t.Errorf("counters = %d/%d/%d", got.RememberedCount, got.ForgottenCount, got.SkippedCount)
	}
}

func TestRecordUnknownMode(t *testing.T) {
	m := newTestManager(t)

	_, err := m.Record("palace_1", "A", Session{Mode: "psychic", Results: results(true)})
	if !errors.Is(err, ErrUnknownMode) {
		t.Errorf("got %v, want ErrUnknownMode", err)
	}
}

func TestScoreEmptySession(t *testing.T) {
	if got := (Session{}).Score(); got != 0 {
		t.Errorf("score = %v, want 0", got)
	}
}

func TestScoreAllSkipped(t *testing.T) {
	m := newTestManager(t)

	session, err := m.Record("palace_1", "A", Session{Results: []AnnotationResult{
		{AnnotationID: "ann_1", Skipped: true},
		{AnnotationID: "ann_2", Skipped: true},
	}})
	if err != nil {
		t.Fatalf("record error: %v", err)
	}
	if got := session.Score(); got != 0 {
		t.Errorf("score = %v, want 0 when nothing was studied", got)
	}
}

func TestSessionsNewestFirstAndFiltered(t *testing.T) {
	m := newTestManager(t)

	base := testBase
	base = recordRuns(t, m, "palace_1", base, 1, 1, 1)
	base = recordRuns(t, m, "palace_2", base, 1, 0, 1)
	recordRuns(t, m, "palace_1", base, 1, 2, 2)

	all, err := m.Sessions("")
	if err != nil {
		t.Fatalf("sessions error: %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("got %d sessions, want 3", len(all))
	}
	for i := 1; i < len(all); i++ {
		if all[i].StartTime.After(all[i-1].StartTime) {
			t.Error("sessions not newest first")
		}
	}

	only, err := m.Sessions("palace_1")
	if err != nil {
		t.Fatalf("sessions error: %v", err)
	}
	if len(only) != 2 {
		t.Errorf("got %d sessions for palace_1, want 2", len(only))
	}

	none, err := m.Sessions("palace_unknown")
	if err != nil {
		t.Fatalf("sessions error: %v", err)
	}
	if none == nil || len(none) != 0 {
		t.Errorf("got %v, want empty non-nil slice", none)
	}
}

func TestHistoryBounded(t *testing.T) {
	m := newTestManager(t)

	recordRuns(t, m, "palace_1", testBase, maxSessions+10, 1, 1)
	sessions, err := m.Sessions("palace_1")
	if err != nil {
		t.Fatalf("sessions error: %v", err)
	}
	if len(sessions) != maxSessions {
		t.Errorf("got %d sessions, want %d", len(sessions), maxSessions)
	}
}

func TestStatsForEmpty(t *testing.T) {
	m := newTestManager(t)

	stats, err := m.StatsFor("palace_1")
	if err != nil {
		t.Fatalf("stats error: %v", err)
	}
	if stats.TotalSessions != 0 || stats.ImprovementTrend != TrendStable {
		t.Errorf("stats = %+v", stats)
	}
	if stats.WeakestAnnotations == nil || stats.StrongestAnnotations == nil {
		t.Error("annotation rankings should be empty non-nil slices")
	}
}

func TestStatsAveragesAndBest(t *testing.T) {
	m := newTestManager(t)

	base := testBase
	base = recordRuns(t, m, "palace_1", base, 1, 2, 4) // 50%
	base = recordRuns(t, m, "palace_1", base, 1, 4, 4) // 100%
	recordRuns(t, m, "palace_2", base, 1, 0, 4)        // other palace, ignored

	stats, err := m.StatsFor("palace_1")
	if err != nil {
		t.Fatalf("stats error: %v", err)
	}
	if stats.TotalSessions != 2 {
		t.Errorf("sessions = %d, want 2", stats.TotalSessions)
	}
	if stats.TotalAnnotationsStudied != 8 {
		t.Errorf("studied = %d, want 8", stats.TotalAnnotationsStudied)
	}
	if stats.AverageScore != 75 {
		t.Errorf("average = %v, want 75", stats.AverageScore)
	}
	if stats.BestScore != 100 {
		t.Errorf("best = %v, want 100", stats.BestScore)
	}
	if stats.LastSessionDate.IsZero() {
		t.Error("last session date missing")
	}
}

func TestStatsRankAnnotations(t *testing.T) {
	m := newTestManager(t)

	// Seven annotations over two runs: ann_0 never remembered, ann_1
	// remembered once, the rest every time. A skipped result for ann_0
	// must not count against it.
	base := testBase
	for run := 0; run < 2; run++ {
		rs := make([]AnnotationResult, 0, 8)
		for i := 0; i < 7; i++ {
			rs = append(rs, AnnotationResult{
				AnnotationID: fmt.Sprintf("ann_%d", i),
				Text:         fmt.Sprintf("item %d", i),
				Remembered:   run < i,
			})
		}
		rs = append(rs, AnnotationResult{AnnotationID: "ann_0", Skipped: true})
		start := base.Add(time.Duration(run) * time.Minute)
		if _, err := m.Record("palace_1", "P", Session{StartTime: start, Results: rs}); err != nil {
			t.Fatalf("record error: %v", err)
		}
	}

	stats, err := m.StatsFor("palace_1")
	if err != nil {
		t.Fatalf("stats error: %v", err)
	}
	if len(stats.WeakestAnnotations) != performanceLimit {
		t.Fatalf("got %d weakest, want %d", len(stats.WeakestAnnotations), performanceLimit)
	}
	if len(stats.StrongestAnnotations) != performanceLimit {
		t.Fatalf("got %d strongest, want %d", len(stats.StrongestAnnotations), performanceLimit)
	}
	if stats.WeakestAnnotations[0].AnnotationID != "ann_0" {
		t.Errorf("weakest = %q, want ann_0", stats.WeakestAnnotations[0].AnnotationID)
	}
	if stats.WeakestAnnotations[0].Accuracy != 0 {
		t.Errorf("weakest accuracy = %v, want 0", stats.WeakestAnnotations[0].Accuracy)
	}
	if stats.WeakestAnnotations[0].TimesStudied != 2 {
		t.Errorf("weakest studied %d times, want 2 (skips excluded)",
			stats.WeakestAnnotations[0].TimesStudied)
	}
	if stats.StrongestAnnotations[0].AnnotationID != "ann_6" {
		t.Errorf("strongest = %q, want ann_6", stats.StrongestAnnotations[0].AnnotationID)
	}
	if stats.StrongestAnnotations[0].Accuracy != 100 {
		t.Errorf("strongest accuracy = %v, want 100", stats.StrongestAnnotations[0].Accuracy)
	}
	for i := 1; i < len(stats.WeakestAnnotations); i++ {
		if stats.WeakestAnnotations[i].Accuracy < stats.WeakestAnnotations[i-1].Accuracy {
			t.Error("weakest list not in ascending accuracy order")
		}
	}
}

func TestTrendImproving(t *testing.T) {
	m := newTestManager(t)

	// Five poor runs followed by five strong runs.
	base := testBase
	base = recordRuns(t, m, "palace_1", base, trendWindow, 1, 4)
	recordRuns(t, m, "palace_1", base, trendWindow, 4, 4)

	stats, err := m.StatsFor("palace_1")
	if err != nil {
		t.Fatalf("stats error: %v", err)
	}
	if stats.ImprovementTrend != TrendImproving {
		t.Errorf("trend = %q, want improving", stats.ImprovementTrend)
	}
}

func TestTrendDeclining(t *testing.T) {
	m := newTestManager(t)

	base := testBase
	base = recordRuns(t, m, "palace_1", base, trendWindow, 4, 4)
	recordRuns(t, m, "palace_1", base, trendWindow, 1, 4)

	stats, err := m.StatsFor("palace_1")
	if err != nil {
		t.Fatalf("stats error: %v", err)
	}
	if stats.ImprovementTrend != TrendDeclining {
		t.Errorf("trend = %q, want declining", stats.ImprovementTrend)
	}
}

func TestTrendStableWithinThreshold(t *testing.T) {
	m := newTestManager(t)

	recordRuns(t, m, "palace_1", testBase, trendWindow*2, 3, 4)
	stats, err := m.StatsFor("palace_1")
	if err != nil {
		t.Fatalf("stats error: %v", err)
	}
	if stats.ImprovementTrend != TrendStable {
		t.Errorf("trend = %q, want stable", stats.ImprovementTrend)
	}
}

func TestDeleteFor(t *testing.T) {
	m := newTestManager(t)

	m.Record("palace_1", "A", Session{Results: results(true)})
	m.Record("palace_2", "B", Session{Results: results(true)})

	if err := m.DeleteFor("palace_1"); err != nil {
		t.Fatalf("delete error: %v", err)
	}
	gone, _ := m.Sessions("palace_1")
	if len(gone) != 0 {
		t.Error("palace_1 sessions survived delete")
	}
	kept, _ := m.Sessions("palace_2")
	if len(kept) != 1 {
		t.Error("palace_2 sessions lost")
	}

	// Deleting an absent palace is a no-op.
	if err := m.DeleteFor("palace_unknown"); err != nil {
		t.Errorf("delete of unknown palace: %v", err)
	}
}

func TestClear(t *testing.T) {
	m := newTestManager(t)

	m.Record("palace_1", "A", Session{Results: results(true)})
	if err := m.Clear(); err != nil {
		t.Fatalf("clear error: %v", err)
	}
	sessions, err := m.Sessions("")
	if err != nil {
		t.Fatalf("sessions error: %v", err)
	}
	if len(sessions) != 0 {
		t.Error("history survived clear")
	}
}

package usage

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/nugget/farmlink/internal/llamafarm"
)

func testStore(t *testing.T) *Store {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "usage_test.db")
	s, err := Open(dbPath)
	if err != nil {
		t.Fatalf("Open(%q): %v", dbPath, err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestRecordAndSummary(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	recs := []Record{
		{Timestamp: now, Namespace: "moltbot", Project: "agent", Model: "qwen3-8b", PromptTokens: 100, CompletionTokens: 40},
		{Timestamp: now, Namespace: "moltbot", Project: "agent", Model: "qwen3-8b", PromptTokens: 10, CompletionTokens: 5, Streamed: true},
		{Timestamp: now, Namespace: "moltbot", Project: "agent", Model: "llama3", PromptTokens: 7, CompletionTokens: 3},
		{Timestamp: now.Add(-48 * time.Hour), Namespace: "moltbot", Project: "agent", Model: "qwen3-8b", PromptTokens: 999, CompletionTokens: 999},
	}
	for _, r := range recs {
		if err := s.Record(ctx, r); err != nil {
			t.Fatalf("Record: %v", err)
		}
	}

	sum, err := s.Summary(ctx, now.Add(-time.Hour), now.Add(time.Hour))
	if err != nil {
		t.Fatalf("Summary: %v", err)
	}
	if sum.Requests != 3 || sum.PromptTokens != 117 || sum.CompletionTokens != 48 {
		t.Errorf("Summary = %+v", sum)
	}
	if sum.TotalTokens() != 165 {
		t.Errorf("TotalTokens = %d", sum.TotalTokens())
	}

	byModel, err := s.SummaryByModel(ctx, now.Add(-time.Hour), now.Add(time.Hour))
	if err != nil {
		t.Fatalf("SummaryByModel: %v", err)
	}
	if len(byModel) != 2 || byModel["qwen3-8b"].Requests != 2 || byModel["llama3"].PromptTokens != 7 {
		t.Errorf("SummaryByModel = %+v", byModel)
	}
}

func TestDay(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	zone := time.FixedZone("UTC-5", -5*60*60)

	for _, ts := range []time.Time{
		time.Date(2026, 4, 1, 0, 30, 0, 0, zone),
		time.Date(2026, 4, 1, 23, 30, 0, 0, zone),
		time.Date(2026, 4, 2, 0, 10, 0, 0, zone),
		time.Date(2026, 3, 31, 23, 59, 0, 0, zone),
	} {
		if err := s.Record(ctx, Record{Timestamp: ts, Model: "m", PromptTokens: 2, CompletionTokens: 1}); err != nil {
			t.Fatal(err)
		}
	}

	sum, err := s.Day(ctx, time.Date(2026, 4, 1, 12, 0, 0, 0, zone))
	if err != nil {
		t.Fatalf("Day: %v", err)
	}
	if sum.Requests != 2 || sum.TotalTokens() != 6 {
		t.Errorf("Day = %+v", sum)
	}
}

func TestSummary_Empty(t *testing.T) {
	s := testStore(t)
	sum, err := s.Summary(context.Background(), time.Now().Add(-time.Hour), time.Now())
	if err != nil {
		t.Fatal(err)
	}
	if sum != (Summary{}) {
		t.Errorf("empty Summary = %+v", sum)
	}
}

func TestSummary_SubSecondOrdering(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	base := time.Date(2026, 4, 1, 12, 0, 0, 0, time.UTC)

	for _, offset := range []time.Duration{0, 500 * time.Millisecond, time.Second} {
		if err := s.Record(ctx, Record{Timestamp: base.Add(offset), Model: "m", PromptTokens: 1}); err != nil {
			t.Fatal(err)
		}
	}
	sum, err := s.Summary(ctx, base, base.Add(time.Second))
	if err != nil {
		t.Fatal(err)
	}
	if sum.Requests != 2 {
		t.Errorf("records in [base, base+1s) = %d, want 2", sum.Requests)
	}
}

func TestRecent(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	base := time.Date(2026, 4, 1, 12, 0, 0, 0, time.UTC)

	for i := range 5 {
		if err := s.Record(ctx, Record{
			Timestamp:    base.Add(time.Duration(i) * time.Minute),
			CompletionID: "chatcmpl-" + string(rune('a'+i)),
			Model:        "qwen3-8b",
			Duration:     1500 * time.Millisecond,
			Streamed:     i%2 == 0,
		}); err != nil {
			t.Fatal(err)
		}
	}

	recent, err := s.Recent(ctx, 2)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(recent) != 2 {
		t.Fatalf("len = %d", len(recent))
	}
	if recent[0].CompletionID != "chatcmpl-e" || recent[1].CompletionID != "chatcmpl-d" {
		t.Errorf("order = %s, %s", recent[0].CompletionID, recent[1].CompletionID)
	}
	if !recent[0].Timestamp.Equal(base.Add(4*time.Minute)) {
		t.Errorf("timestamp = %v", recent[0].Timestamp)
	}
	if recent[0].Duration != 1500*time.Millisecond || !recent[0].Streamed || recent[1].Streamed {
		t.Errorf("records = %+v", recent)
	}
	if recent[0].ID == "" {
		t.Error("ID not generated")
	}
}

func TestFromChat(t *testing.T) {
	id := llamafarm.Identity{Namespace: "moltbot", Project: "agent"}
	resp := &llamafarm.ChatResponse{
		ID:    "chatcmpl-1",
		Model: "qwen3-8b",
		Usage: &llamafarm.Usage{PromptTokens: 12, CompletionTokens: 5, TotalTokens: 17},
	}

	rec := FromChat(id, resp, 2*time.Second, true)
	if rec.Namespace != "moltbot" || rec.Project != "agent" || rec.Model != "qwen3-8b" || rec.CompletionID != "chatcmpl-1" {
		t.Errorf("rec = %+v", rec)
	}
	if rec.PromptTokens != 12 || rec.CompletionTokens != 5 || rec.Duration != 2*time.Second || !rec.Streamed {
		t.Errorf("rec = %+v", rec)
	}

	resp.Usage = nil
	if rec := FromChat(id, resp, 0, false); rec.PromptTokens != 0 || rec.CompletionTokens != 0 {
		t.Errorf("missing usage = %+v", rec)
	}
	if rec := FromChat(id, nil, 0, false); rec.Model != "" {
		t.Errorf("nil response = %+v", rec)
	}
}

package usecase

import (
	"context"
	"testing"
	"time"

	"github.com/threadsight/threadsight/internal/domain/entity"
	"github.com/threadsight/threadsight/internal/domain/repository"
)

func TestParseWindow(t *testing.T) {
	cases := []struct {
		spec string
		want time.Duration
	}{
		{"7d", 7 * 24 * time.Hour},
		{"1d", 24 * time.Hour},
		{"24h", 24 * time.Hour},
		{"48H", 48 * time.Hour},
		{"", DefaultTrendWindow},
		{"0d", DefaultTrendWindow},
		{"-3d", DefaultTrendWindow},
		{"weekly", DefaultTrendWindow},
		{"7", DefaultTrendWindow},
	}
	for _, tc := range cases {
		if got := ParseWindow(tc.spec); got != tc.want {
			t.Errorf("ParseWindow(%q) = %v, want %v", tc.spec, got, tc.want)
		}
	}
}

type fixedInsightRepo struct {
	repository.InsightRepository
	insights []*entity.Insight
}

func (r *fixedInsightRepo) ListSince(ctx context.Context, since time.Time) ([]*entity.Insight, error) {
	return r.insights, nil
}

func TestTrends_Aggregation(t *testing.T) {
	now := time.Now().UTC()
	yesterday := now.AddDate(0, 0, -1)
	repo := &fixedInsightRepo{insights: []*entity.Insight{
		{ConversationID: "a", Sentiment: "negative", Topics: []string{"billing", "delay"}, Gaps: []string{"no ETA"}, CreatedAt: yesterday},
		{ConversationID: "b", Sentiment: "negative", Topics: []string{"billing"}, CreatedAt: yesterday},
		{ConversationID: "c", Sentiment: "positive", Topics: []string{"praise"}, CreatedAt: now},
		{ConversationID: "d", Sentiment: "mixed", CreatedAt: now},
	}}

	report, err := NewTrendsUseCase(repo).Trends(context.Background(), "7d")
	if err != nil {
		t.Fatalf("Trends: %v", err)
	}

	if report.Total != 4 {
		t.Errorf("total = %d, want 4", report.Total)
	}
	if report.Sentiment["negative"] != 2 || report.Sentiment["positive"] != 1 || report.Sentiment["other"] != 1 {
		t.Errorf("sentiment = %v", report.Sentiment)
	}
	if len(report.Volume) != 7 {
		t.Fatalf("volume points = %d, want 7 (zero-filled)", len(report.Volume))
	}
	if report.Volume[6].Date != now.Format("2006-01-02") || report.Volume[6].Count != 2 {
		t.Errorf("today's volume = %+v", report.Volume[6])
	}
	if report.Volume[5].Count != 2 {
		t.Errorf("yesterday's volume = %+v", report.Volume[5])
	}
	if report.Volume[0].Count != 0 {
		t.Errorf("window start volume = %+v, want zero-filled", report.Volume[0])
	}
	if report.TopTopics[0].Name != "billing" || report.TopTopics[0].Count != 2 {
		t.Errorf("top topics = %v", report.TopTopics)
	}
	if len(report.TopGaps) != 1 || report.TopGaps[0].Name != "no ETA" {
		t.Errorf("top gaps = %v", report.TopGaps)
	}
}

func TestTopCounts_StableOrderAndLimit(t *testing.T) {
	counts := map[string]int{"c": 2, "a": 2, "b": 5, "d": 1}

	top := topCounts(counts, 3)
	if len(top) != 3 {
		t.Fatalf("len = %d, want 3", len(top))
	}
	want := []NamedCount{{"b", 5}, {"a", 2}, {"c", 2}}
	for i := range want {
		if top[i] != want[i] {
			t.Errorf("top[%d] = %v, want %v", i, top[i], want[i])
		}
	}
}

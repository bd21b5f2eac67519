package usecase

import (
	"context"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/threadsight/threadsight/internal/domain/entity"
	"github.com/threadsight/threadsight/internal/domain/repository"
)

// DefaultTrendWindow is used when the requested window string does not parse.
const DefaultTrendWindow = 7 * 24 * time.Hour

const topItemLimit = 20

// VolumePoint is the insight count for one UTC day.
type VolumePoint struct {
	Date  string `json:"date"` // YYYY-MM-DD
	Count int    `json:"count"`
}

// NamedCount pairs a topic or gap string with its occurrence count.
type NamedCount struct {
	Name  string `json:"name"`
	Count int    `json:"count"`
}

// TrendsReport aggregates insights over a trailing window.
type TrendsReport struct {
	Window    string         `json:"window"`
	Since     time.Time      `json:"since"`
	Total     int            `json:"total_insights"`
	Volume    []VolumePoint  `json:"volume_per_day"`
	Sentiment map[string]int `json:"sentiment_histogram"`
	TopTopics []NamedCount   `json:"top_topics"`
	TopGaps   []NamedCount   `json:"top_gaps"`
}

// TrendsUseCase computes trend aggregates from stored insights.
type TrendsUseCase struct {
	insights repository.InsightRepository
}

// NewTrendsUseCase creates the use case.
func NewTrendsUseCase(insights repository.InsightRepository) *TrendsUseCase {
	return &TrendsUseCase{insights: insights}
}

// ParseWindow parses a trailing-window spec like "7d" or "24h". Anything that
// does not parse, including zero or negative values, falls back to 7 days.
func ParseWindow(spec string) time.Duration {
	spec = strings.TrimSpace(strings.ToLower(spec))
	if len(spec) < 2 {
		return DefaultTrendWindow
	}
	n, err := strconv.Atoi(spec[:len(spec)-1])
	if err != nil || n <= 0 {
		return DefaultTrendWindow
	}
	switch spec[len(spec)-1] {
	case 'd':
		return time.Duration(n) * 24 * time.Hour
	case 'h':
		return time.Duration(n) * time.Hour
	}
	return DefaultTrendWindow
}

// windowDays returns N for a "<N>d" spec, 7 for anything unparseable, and 0
// for hour windows.
func windowDays(spec string) int {
	spec = strings.TrimSpace(strings.ToLower(spec))
	if len(spec) >= 2 {
		if n, err := strconv.Atoi(spec[:len(spec)-1]); err == nil && n > 0 {
			switch spec[len(spec)-1] {
			case 'd':
				return n
			case 'h':
				return 0
			}
		}
	}
	return 7
}

// Trends aggregates the insights of the trailing window: per-day volume,
// sentiment histogram, and the most frequent topics and gaps. Day windows
// cover whole UTC calendar days ending today, so "7d" yields exactly seven
// volume points, zero-filled.
func (u *TrendsUseCase) Trends(ctx context.Context, windowSpec string) (*TrendsReport, error) {
	now := time.Now().UTC()
	days := windowDays(windowSpec)
	var since time.Time
	if days > 0 {
		since = now.Truncate(24 * time.Hour).AddDate(0, 0, -(days - 1))
	} else {
		since = now.Add(-ParseWindow(windowSpec))
	}

	insights, err := u.insights.ListSince(ctx, since)
	if err != nil {
		return nil, err
	}

	report := &TrendsReport{
		Window:    windowSpec,
		Since:     since,
		Total:     len(insights),
		Sentiment: map[string]int{"positive": 0, "negative": 0, "neutral": 0, "other": 0},
	}
	if report.Window == "" {
		report.Window = "7d"
	}

	perDay := make(map[string]int)
	topics := make(map[string]int)
	gaps := make(map[string]int)
	for _, insight := range insights {
		perDay[insight.CreatedAt.UTC().Format("2006-01-02")]++
		switch insight.Sentiment {
		case entity.SentimentPositive, entity.SentimentNegative, entity.SentimentNeutral:
			report.Sentiment[insight.Sentiment]++
		default:
			report.Sentiment["other"]++
		}
		for _, topic := range insight.Topics {
			topics[topic]++
		}
		for _, gap := range insight.Gaps {
			gaps[gap]++
		}
	}

	if days > 0 {
		report.Volume = filledVolume(perDay, since, days)
	} else {
		report.Volume = sortedVolume(perDay)
	}
	report.TopTopics = topCounts(topics, topItemLimit)
	report.TopGaps = topCounts(gaps, topItemLimit)
	return report, nil
}

// filledVolume emits one point per calendar day of the window, zero for days
// without insights.
func filledVolume(perDay map[string]int, since time.Time, days int) []VolumePoint {
	points := make([]VolumePoint, 0, days)
	for i := 0; i < days; i++ {
		date := since.AddDate(0, 0, i).Format("2006-01-02")
		points = append(points, VolumePoint{Date: date, Count: perDay[date]})
	}
	return points
}

func sortedVolume(perDay map[string]int) []VolumePoint {
	points := make([]VolumePoint, 0, len(perDay))
	for date, count := range perDay {
		points = append(points, VolumePoint{Date: date, Count: count})
	}
	sort.Slice(points, func(i, j int) bool { return points[i].Date < points[j].Date })
	return points
}

// topCounts returns the n most frequent entries, count descending with name
// as the tie-break so output is stable.
func topCounts(counts map[string]int, n int) []NamedCount {
	items := make([]NamedCount, 0, len(counts))
	for name, count := range counts {
		items = append(items, NamedCount{Name: name, Count: count})
	}
	sort.Slice(items, func(i, j int) bool {
		if items[i].Count != items[j].Count {
			return items[i].Count > items[j].Count
		}
		return items[i].Name < items[j].Name
	})
	if len(items) > n {
		items = items[:n]
	}
	return items
}

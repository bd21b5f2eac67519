package persistence

import (
	"context"
	"strings"
	"testing"
	"time"

	"gorm.io/gorm"

	"github.com/threadsight/threadsight/internal/domain/entity"
	"github.com/threadsight/threadsight/internal/domain/repository"
	"github.com/threadsight/threadsight/internal/infrastructure/config"
	"github.com/threadsight/threadsight/internal/infrastructure/persistence/models"
	apperrors "github.com/threadsight/threadsight/pkg/errors"
)

func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	name := strings.ReplaceAll(t.Name(), "/", "_")
	db, err := NewDatabase(config.DatabaseConfig{
		URL: "file:" + name + "?mode=memory&cache=shared",
	})
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	return db
}

func ts(t *testing.T, value string) *time.Time {
	t.Helper()
	parsed, err := time.Parse(time.RFC3339, value)
	if err != nil {
		t.Fatalf("parse time %q: %v", value, err)
	}
	return &parsed
}

func TestSchema_MessageColumnsAndCascade(t *testing.T) {
	db := openTestDB(t)
	migrator := db.Migrator()

	if !migrator.HasColumn(&models.MessageModel{}, "in_reply_to_id") {
		t.Error("tweets table missing in_reply_to_id column")
	}
	if migrator.HasColumn(&models.MessageModel{}, "reply_parent_id") {
		t.Error("tweets table still carries the old reply column name")
	}
	if !migrator.HasConstraint(&models.ConversationModel{}, "Messages") {
		t.Error("conversations to tweets cascade constraint not created")
	}
}

// === Conversations ===

func TestConversationRepository_UpsertCreatesAndReuses(t *testing.T) {
	db := openTestDB(t)
	repo := NewGormConversationRepository(db)
	ctx := context.Background()

	msgs := []entity.Message{
		{ExternalID: "1", AuthorID: "cust", Text: "my order is late", Inbound: true, Timestamp: ts(t, "2026-08-01T10:00:00Z")},
		{ExternalID: "2", AuthorID: "brand", Text: "looking into it", ReplyParentID: "1", Timestamp: ts(t, "2026-08-01T10:05:00Z")},
	}

	conv, err := repo.Upsert(ctx, msgs, "1")
	if err != nil {
		t.Fatalf("Upsert: %v", err)
	}
	if conv.ID == "" || conv.RootExternalID != "1" {
		t.Fatalf("conversation = %+v", conv)
	}

	again, err := repo.Upsert(ctx, msgs, "1")
	if err != nil {
		t.Fatalf("second Upsert: %v", err)
	}
	if again.ID != conv.ID {
		t.Errorf("second upsert returned id %s, want %s", again.ID, conv.ID)
	}

	var count int64
	db.Model(&models.MessageModel{}).Count(&count)
	if count != 2 {
		t.Errorf("message rows = %d, want 2 (no duplicates)", count)
	}
}

func TestConversationRepository_ExistingMessagesNotRewritten(t *testing.T) {
	db := openTestDB(t)
	repo := NewGormConversationRepository(db)
	ctx := context.Background()

	orig := []entity.Message{{ExternalID: "1", Text: "original", Inbound: true, Timestamp: ts(t, "2026-08-01T10:00:00Z")}}
	if _, err := repo.Upsert(ctx, orig, "1"); err != nil {
		t.Fatalf("Upsert: %v", err)
	}

	changed := []entity.Message{
		{ExternalID: "1", Text: "rewritten", Inbound: true, Timestamp: ts(t, "2026-08-01T10:00:00Z")},
		{ExternalID: "2", Text: "new reply", ReplyParentID: "1", Timestamp: ts(t, "2026-08-01T10:10:00Z")},
	}
	if _, err := repo.Upsert(ctx, changed, "1"); err != nil {
		t.Fatalf("second Upsert: %v", err)
	}

	var row models.MessageModel
	if err := db.Where("external_id = ?", "1").First(&row).Error; err != nil {
		t.Fatalf("load message: %v", err)
	}
	if row.Text != "original" {
		t.Errorf("text = %q, want first-write preserved", row.Text)
	}

	var count int64
	db.Model(&models.MessageModel{}).Count(&count)
	if count != 2 {
		t.Errorf("message rows = %d, want 2 (new reply added)", count)
	}
}

func TestConversationRepository_UpsertEmptyRootRejected(t *testing.T) {
	db := openTestDB(t)
	repo := NewGormConversationRepository(db)

	_, err := repo.Upsert(context.Background(), nil, "")
	if !apperrors.IsInvalidInput(err) {
		t.Fatalf("err = %v, want invalid input", err)
	}
}

func TestConversationRepository_LoadThreadOrder(t *testing.T) {
	db := openTestDB(t)
	repo := NewGormConversationRepository(db)
	ctx := context.Background()

	same := ts(t, "2026-08-01T10:05:00Z")
	msgs := []entity.Message{
		{ExternalID: "30", Text: "third", Timestamp: ts(t, "2026-08-01T10:06:00Z")},
		{ExternalID: "12", Text: "second", Timestamp: same},
		{ExternalID: "11", Text: "first tie", Timestamp: same},
		{ExternalID: "10", Text: "root", Inbound: true, Timestamp: ts(t, "2026-08-01T10:00:00Z")},
	}
	conv, err := repo.Upsert(ctx, msgs, "10")
	if err != nil {
		t.Fatalf("Upsert: %v", err)
	}

	texts, root, err := repo.LoadThread(ctx, conv.ID)
	if err != nil {
		t.Fatalf("LoadThread: %v", err)
	}
	if root != "10" {
		t.Errorf("root = %q, want 10", root)
	}
	want := []string{"root", "first tie", "second", "third"}
	if len(texts) != len(want) {
		t.Fatalf("texts = %v", texts)
	}
	for i := range want {
		if texts[i] != want[i] {
			t.Errorf("texts[%d] = %q, want %q", i, texts[i], want[i])
		}
	}
}

func TestConversationRepository_LoadThreadMissing(t *testing.T) {
	db := openTestDB(t)
	repo := NewGormConversationRepository(db)

	texts, root, err := repo.LoadThread(context.Background(), "no-such-id")
	if err != nil {
		t.Fatalf("LoadThread: %v", err)
	}
	if len(texts) != 0 || root != "" {
		t.Errorf("missing conversation = %v/%q, want empty", texts, root)
	}
}

// === Insights ===

func intPtr(v int) *int          { return &v }
func floatPtr(v float64) *float64 { return &v }

func storeInsight(t *testing.T, repo repository.InsightRepository, insight *entity.Insight) {
	t.Helper()
	if err := repo.Insert(context.Background(), insight); err != nil {
		t.Fatalf("Insert %s: %v", insight.ConversationID, err)
	}
}

func TestInsightRepository_RoundTrip(t *testing.T) {
	db := openTestDB(t)
	repo := NewGormInsightRepository(db)

	in := &entity.Insight{
		ConversationID:   "conv-1",
		RawOutput:        map[string]any{"sentiment": "negative", "summary": "late order"},
		Sentiment:        "negative",
		Topics:           []string{"delivery", "delay"},
		Gaps:             []string{"no ETA"},
		PromptTokens:     intPtr(100),
		CompletionTokens: intPtr(20),
		CostEstimate:     floatPtr(0.0025),
	}
	storeInsight(t, repo, in)

	got, err := repo.FindByConversationID(context.Background(), "conv-1")
	if err != nil {
		t.Fatalf("Find: %v", err)
	}
	if got.Sentiment != "negative" || got.RawOutput["summary"] != "late order" {
		t.Errorf("got = %+v", got)
	}
	if len(got.Topics) != 2 || got.Topics[0] != "delivery" {
		t.Errorf("topics = %v", got.Topics)
	}
	if got.PromptTokens == nil || *got.PromptTokens != 100 {
		t.Errorf("prompt tokens = %v", got.PromptTokens)
	}
	if got.CostEstimate == nil || *got.CostEstimate != 0.0025 {
		t.Errorf("cost = %v", got.CostEstimate)
	}
	if got.Skipped() {
		t.Error("insight should not be skipped")
	}
}

func TestInsightRepository_DuplicateConversation(t *testing.T) {
	db := openTestDB(t)
	repo := NewGormInsightRepository(db)

	storeInsight(t, repo, &entity.Insight{ConversationID: "conv-1", Sentiment: "neutral"})
	err := repo.Insert(context.Background(), &entity.Insight{ConversationID: "conv-1", Sentiment: "positive"})
	if !apperrors.IsAlreadyExists(err) {
		t.Fatalf("err = %v, want already exists", err)
	}

	got, err := repo.FindByConversationID(context.Background(), "conv-1")
	if err != nil {
		t.Fatalf("Find: %v", err)
	}
	if got.Sentiment != "neutral" {
		t.Errorf("sentiment = %q, want first insert kept", got.Sentiment)
	}
}

func TestInsightRepository_FindMissing(t *testing.T) {
	db := openTestDB(t)
	repo := NewGormInsightRepository(db)

	_, err := repo.FindByConversationID(context.Background(), "nope")
	if !apperrors.IsNotFound(err) {
		t.Fatalf("err = %v, want not found", err)
	}
}

func TestInsightRepository_ListFiltersAndSkips(t *testing.T) {
	db := openTestDB(t)
	repo := NewGormInsightRepository(db)
	ctx := context.Background()

	storeInsight(t, repo, &entity.Insight{ConversationID: "a", Sentiment: "negative", Topics: []string{"billing"}})
	storeInsight(t, repo, &entity.Insight{ConversationID: "b", Sentiment: "positive", Topics: []string{"bill"}})
	storeInsight(t, repo, &entity.Insight{ConversationID: "c", SkippedReason: "message_count_1_lt_2"})

	all, total, err := repo.List(ctx, repository.InsightFilter{})
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if total != 2 || len(all) != 2 {
		t.Fatalf("list = %d rows / total %d, want 2/2 (skips excluded)", len(all), total)
	}

	neg, _, err := repo.List(ctx, repository.InsightFilter{Sentiment: "negative"})
	if err != nil {
		t.Fatalf("List sentiment: %v", err)
	}
	if len(neg) != 1 || neg[0].ConversationID != "a" {
		t.Errorf("sentiment filter = %+v", neg)
	}

	// "bill" must not match the "billing" topic.
	bill, _, err := repo.List(ctx, repository.InsightFilter{Topic: "bill"})
	if err != nil {
		t.Fatalf("List topic: %v", err)
	}
	if len(bill) != 1 || bill[0].ConversationID != "b" {
		t.Errorf("topic filter = %+v", bill)
	}
}

func TestInsightRepository_ListPagination(t *testing.T) {
	db := openTestDB(t)
	repo := NewGormInsightRepository(db)
	ctx := context.Background()

	for _, id := range []string{"a", "b", "c"} {
		storeInsight(t, repo, &entity.Insight{ConversationID: id, Sentiment: "neutral"})
	}

	page, total, err := repo.List(ctx, repository.InsightFilter{Limit: 2, Offset: 2})
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if total != 3 {
		t.Errorf("total = %d, want 3", total)
	}
	if len(page) != 1 {
		t.Errorf("page = %d rows, want 1", len(page))
	}
}

func TestInsightRepository_ListSince(t *testing.T) {
	db := openTestDB(t)
	repo := NewGormInsightRepository(db)
	ctx := context.Background()

	storeInsight(t, repo, &entity.Insight{ConversationID: "old", Sentiment: "neutral"})
	// Backdate past the cutoff.
	db.Model(&models.InsightModel{}).
		Where("conversation_id = ?", "old").
		Update("created_at", time.Now().UTC().Add(-48*time.Hour))
	storeInsight(t, repo, &entity.Insight{ConversationID: "new", Sentiment: "negative"})

	got, err := repo.ListSince(ctx, time.Now().UTC().Add(-24*time.Hour))
	if err != nil {
		t.Fatalf("ListSince: %v", err)
	}
	if len(got) != 1 || got[0].ConversationID != "new" {
		t.Errorf("since = %+v, want only the recent insight", got)
	}
}

// === Analysis cache ===

func TestAnalysisCacheRepository_SetAndGet(t *testing.T) {
	db := openTestDB(t)
	repo := NewGormAnalysisCacheRepository(db)
	ctx := context.Background()

	hash := strings.Repeat("ab", 32)
	if _, err := repo.Get(ctx, hash); !apperrors.IsNotFound(err) {
		t.Fatalf("Get on empty cache = %v, want not found", err)
	}

	if err := repo.Set(ctx, hash, "conv-1"); err != nil {
		t.Fatalf("Set: %v", err)
	}
	got, err := repo.Get(ctx, hash)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got != "conv-1" {
		t.Errorf("Get = %q, want conv-1", got)
	}
}

func TestAnalysisCacheRepository_FirstWriterWins(t *testing.T) {
	db := openTestDB(t)
	repo := NewGormAnalysisCacheRepository(db)
	ctx := context.Background()

	hash := strings.Repeat("cd", 32)
	if err := repo.Set(ctx, hash, "conv-1"); err != nil {
		t.Fatalf("first Set: %v", err)
	}
	if err := repo.Set(ctx, hash, "conv-2"); err != nil {
		t.Fatalf("second Set: %v", err)
	}

	got, err := repo.Get(ctx, hash)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got != "conv-1" {
		t.Errorf("Get = %q, want first mapping kept", got)
	}
}

package workflow

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/mmdatafocus/pos_backend/config"
	"github.com/mmdatafocus/pos_backend/models"
	"github.com/mmdatafocus/pos_backend/utils"
	"github.com/sirupsen/logrus"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

type fakePublisher struct {
	mu   sync.Mutex
	fail error
	sent []config.PosEventMessage
}

func (p *fakePublisher) publish(_ context.Context, msg config.PosEventMessage) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.fail != nil {
		return "", p.fail
	}
	p.sent = append(p.sent, msg)
	return fmt.Sprintf("msg-%d", len(p.sent)), nil
}

func openOutboxDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:outbox_%s?mode=memory&cache=shared", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	sqlDB, _ := db.DB()
	sqlDB.SetMaxOpenConns(1)
	if err := models.MigrateTable(db); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	prev := config.GetDB()
	config.SetDB(db)
	t.Cleanup(func() {
		config.SetDB(prev)
		_ = sqlDB.Close()
	})
	return db
}

func newTestDispatcher(db *gorm.DB, pub *fakePublisher) *OutboxDispatcher {
	l := logrus.New()
	l.SetOutput(io.Discard)
	d := NewOutboxDispatcher(db, l)
	d.Locker = nil
	d.Publish = pub.publish
	d.InitialBackoff = time.Hour
	d.MaxAttempts = 3
	return d
}

func queue(t *testing.T, db *gorm.DB, eventType string, refId int) models.PubSubMessageRecord {
	t.Helper()
	rec := models.PubSubMessageRecord{
		BusinessId:    "biz-a",
		EventType:     eventType,
		ReferenceType: models.ReferenceTypeSale,
		ReferenceId:   refId,
		Action:        models.PubSubMessageActionCreate,
		Payload:       []byte(`{"id":1}`),
		PublishStatus: models.OutboxPublishStatusPending,
		CorrelationId: "corr-1",
	}
	if err := db.Create(&rec).Error; err != nil {
		t.Fatalf("queue: %v", err)
	}
	return rec
}

func reload(t *testing.T, db *gorm.DB, id int) models.PubSubMessageRecord {
	t.Helper()
	var rec models.PubSubMessageRecord
	if err := db.First(&rec, id).Error; err != nil {
		t.Fatalf("reload %d: %v", id, err)
	}
	return rec
}

func TestDispatchOncePublishesPendingInOrder(t *testing.T) {
	db := openOutboxDB(t)
	first := queue(t, db, models.EventSaleCreated, 1)
	second := queue(t, db, models.EventSaleDeleted, 1)
	pub := &fakePublisher{}
	d := newTestDispatcher(db, pub)

	n, err := d.DispatchOnce(context.Background())
	if err != nil || n != 2 {
		t.Fatalf("DispatchOnce = %d, %v; want 2, nil", n, err)
	}
	if pub.sent[0].EventType != models.EventSaleCreated || pub.sent[1].EventType != models.EventSaleDeleted {
		t.Fatalf("unexpected publish order: %+v", pub.sent)
	}
	if pub.sent[0].CorrelationId != "corr-1" || pub.sent[0].BusinessId != "biz-a" {
		t.Fatalf("message lost its metadata: %+v", pub.sent[0])
	}

	for i, id := range []int{first.ID, second.ID} {
		rec := reload(t, db, id)
		if rec.PublishStatus != models.OutboxPublishStatusSent {
			t.Fatalf("record %d status = %s", id, rec.PublishStatus)
		}
		if rec.PubSubMessageId == nil || *rec.PubSubMessageId != fmt.Sprintf("msg-%d", i+1) {
			t.Fatalf("record %d message id = %v", id, rec.PubSubMessageId)
		}
		if rec.PublishAttempts != 1 || rec.LockedBy != nil {
			t.Fatalf("record %d attempts=%d lockedBy=%v", id, rec.PublishAttempts, rec.LockedBy)
		}
	}

	n, err = d.DispatchOnce(context.Background())
	if err != nil || n != 0 {
		t.Fatalf("second DispatchOnce = %d, %v; want 0, nil", n, err)
	}
}

func TestDispatchOnceBacksOffAfterFailure(t *testing.T) {
	db := openOutboxDB(t)
	rec := queue(t, db, models.EventStockMoved, 4)
	pub := &fakePublisher{fail: errors.New("broker down")}
	d := newTestDispatcher(db, pub)

	if n, err := d.DispatchOnce(context.Background()); err != nil || n != 0 {
		t.Fatalf("DispatchOnce = %d, %v", n, err)
	}
	got := reload(t, db, rec.ID)
	if got.PublishStatus != models.OutboxPublishStatusFailed {
		t.Fatalf("status = %s, want FAILED", got.PublishStatus)
	}
	if got.LastPublishError == nil || *got.LastPublishError != "broker down" {
		t.Fatalf("last error = %v", got.LastPublishError)
	}
	if got.NextAttemptAt == nil || !got.NextAttemptAt.After(time.Now().Add(30*time.Minute)) {
		t.Fatalf("next attempt not pushed back: %v", got.NextAttemptAt)
	}

	// not due yet
	pub.fail = nil
	if n, _ := d.DispatchOnce(context.Background()); n != 0 {
		t.Fatalf("published %d records before they were due", n)
	}

	past := time.Now().UTC().Add(-time.Minute)
	if err := db.Model(&models.PubSubMessageRecord{}).Where("id = ?", rec.ID).Update("next_attempt_at", &past).Error; err != nil {
		t.Fatal(err)
	}
	if n, err := d.DispatchOnce(context.Background()); err != nil || n != 1 {
		t.Fatalf("retry DispatchOnce = %d, %v; want 1", n, err)
	}
	if got := reload(t, db, rec.ID); got.PublishStatus != models.OutboxPublishStatusSent || got.PublishAttempts != 2 {
		t.Fatalf("after retry status=%s attempts=%d", got.PublishStatus, got.PublishAttempts)
	}
}

func TestDispatchOnceMarksDeadAfterMaxAttempts(t *testing.T) {
	db := openOutboxDB(t)
	rec := queue(t, db, models.EventItemReturned, 9)
	if err := db.Model(&models.PubSubMessageRecord{}).Where("id = ?", rec.ID).Updates(map[string]interface{}{
		"publish_status":   models.OutboxPublishStatusFailed,
		"publish_attempts": 3,
	}).Error; err != nil {
		t.Fatal(err)
	}
	pub := &fakePublisher{}
	d := newTestDispatcher(db, pub)

	if n, err := d.DispatchOnce(context.Background()); err != nil || n != 0 {
		t.Fatalf("DispatchOnce = %d, %v", n, err)
	}
	if len(pub.sent) != 0 {
		t.Fatalf("dead record was published")
	}
	if got := reload(t, db, rec.ID); got.PublishStatus != models.OutboxPublishStatusDead {
		t.Fatalf("status = %s, want DEAD", got.PublishStatus)
	}

	// an operator replays it
	ctx := utils.SetIsAdminInContext(utils.SetBusinessIdInContext(context.Background(), "ops"), true)
	if _, err := models.ReplayOutboxMessage(ctx, "biz-a", rec.ID); err != nil {
		t.Fatalf("replay: %v", err)
	}
	if n, err := d.DispatchOnce(context.Background()); err != nil || n != 1 {
		t.Fatalf("DispatchOnce after replay = %d, %v; want 1", n, err)
	}
}

func TestReplayOutboxMessageRequiresSuperAdmin(t *testing.T) {
	db := openOutboxDB(t)
	rec := queue(t, db, models.EventSaleCreated, 2)

	ctx := utils.SetBusinessIdInContext(context.Background(), "biz-a")
	if _, err := models.ReplayOutboxMessage(ctx, "biz-a", rec.ID); !errors.Is(err, models.ErrForbidden) {
		t.Fatalf("err = %v, want ErrForbidden", err)
	}
	admin := utils.SetIsAdminInContext(ctx, true)
	if _, err := models.ReplayOutboxMessage(admin, "biz-a", rec.ID); !errors.Is(err, models.ErrInvalidInput) {
		t.Fatalf("replaying a PENDING record: err = %v, want invalid input", err)
	}
}

func TestBackoff(t *testing.T) {
	d := &OutboxDispatcher{InitialBackoff: 5 * time.Second, MaxBackoff: time.Minute}
	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{1, 5 * time.Second},
		{2, 10 * time.Second},
		{3, 20 * time.Second},
		{4, 40 * time.Second},
		{5, time.Minute},
		{12, time.Minute},
	}
	for _, tt := range tests {
		if got := d.backoff(tt.attempt); got != tt.want {
			t.Errorf("backoff(%d) = %s, want %s", tt.attempt, got, tt.want)
		}
	}
}

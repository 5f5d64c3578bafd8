package models

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/mmdatafocus/pos_backend/config"
	"github.com/mmdatafocus/pos_backend/utils"
	"gorm.io/gorm"
)

// Outbox publish statuses for PubSubMessageRecord.PublishStatus.
const (
	OutboxPublishStatusPending    = "PENDING"
	OutboxPublishStatusProcessing = "PROCESSING"
	OutboxPublishStatusSent       = "SENT"
	OutboxPublishStatusFailed     = "FAILED"
	OutboxPublishStatusDead       = "DEAD"
)

// Event types carried on the topic.
const (
	EventSaleCreated   = "sale.created"
	EventSaleUpdated   = "sale.updated"
	EventSaleDeleted   = "sale.deleted"
	EventItemReturned  = "sale.item_returned"
	EventStockAdjusted = "stock.adjusted"
	EventStockMoved    = "stock.moved"
)

// PubSubMessageRecord is the transactional outbox. Rows are written in the same
// transaction as the change they describe and published after commit by the dispatcher.
type PubSubMessageRecord struct {
	ID               int                 `gorm:"primary_key;index:idx_outbox_dispatch,priority:3" json:"id"`
	BusinessId       string              `gorm:"size:64;not null;index" json:"business_id"`
	EventType        string              `gorm:"size:50;not null" json:"event_type"`
	ReferenceType    ReferenceType       `gorm:"size:20;not null" json:"reference_type"`
	ReferenceId      int                 `gorm:"index" json:"reference_id"`
	Action           PubSubMessageAction `gorm:"size:1;not null" json:"action"`
	Payload          []byte              `gorm:"type:blob" json:"payload"`
	PublishStatus    string              `gorm:"size:20;not null;default:'PENDING';index:idx_outbox_dispatch,priority:1" json:"publish_status"`
	PublishAttempts  int                 `gorm:"not null;default:0" json:"publish_attempts"`
	NextAttemptAt    *time.Time          `gorm:"index:idx_outbox_dispatch,priority:2" json:"next_attempt_at"`
	LockedAt         *time.Time          `json:"locked_at"`
	LockedBy         *string             `gorm:"size:100" json:"locked_by"`
	PublishedAt      *time.Time          `json:"published_at"`
	PubSubMessageId  *string             `gorm:"size:255" json:"pubsub_message_id"`
	LastPublishError *string             `gorm:"type:text" json:"last_publish_error"`
	CorrelationId    string              `gorm:"size:64;index" json:"correlation_id"`
	CreatedAt        time.Time           `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt        time.Time           `gorm:"autoUpdateTime" json:"updated_at"`
}

func ConvertToPubSubMessage(record PubSubMessageRecord) config.PosEventMessage {
	return config.PosEventMessage{
		ID:            record.ID,
		BusinessId:    record.BusinessId,
		EventType:     record.EventType,
		ReferenceType: string(record.ReferenceType),
		ReferenceId:   record.ReferenceId,
		Action:        string(record.Action),
		OccurredAt:    record.CreatedAt,
		Payload:       record.Payload,
		CorrelationId: record.CorrelationId,
	}
}

// publishPosEvent queues an event in the outbox inside tx. Failing to queue fails the
// transaction, so the event and the change commit together.
func publishPosEvent(ctx context.Context, tx *gorm.DB, businessId string, eventType string,
	refType ReferenceType, refId int, action PubSubMessageAction, payload interface{}) error {

	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	record := PubSubMessageRecord{
		BusinessId:    businessId,
		EventType:     eventType,
		ReferenceType: refType,
		ReferenceId:   refId,
		Action:        action,
		Payload:       data,
		PublishStatus: OutboxPublishStatusPending,
		CorrelationId: utils.CorrelationId(ctx),
	}
	return tx.Create(&record).Error
}

// ReplayOutboxMessage puts a FAILED or DEAD record back in the dispatch queue.
// Super-admin only.
func ReplayOutboxMessage(ctx context.Context, businessId string, recordId int) (*PubSubMessageRecord, error) {
	caller, err := CallerFromContext(ctx)
	if err != nil {
		return nil, err
	}
	if !caller.IsSuperAdmin {
		return nil, ErrForbidden
	}
	if businessId == "" || recordId <= 0 {
		return nil, invalid("record_id", "business_id and record_id are required")
	}

	db := config.GetDB().WithContext(ctx)
	var record PubSubMessageRecord
	err = db.Where("id = ? AND business_id = ?", recordId, businessId).First(&record).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if record.PublishStatus != OutboxPublishStatusFailed && record.PublishStatus != OutboxPublishStatusDead {
		return nil, invalid("record_id", fmt.Sprintf("record is %s, only FAILED or DEAD records can be replayed", record.PublishStatus))
	}

	now := time.Now().UTC()
	if err := db.Model(&PubSubMessageRecord{}).
		Where("id = ? AND business_id = ?", recordId, businessId).
		Updates(map[string]interface{}{
			"publish_status":     OutboxPublishStatusFailed,
			"publish_attempts":   0,
			"next_attempt_at":    &now,
			"locked_at":          nil,
			"locked_by":          nil,
			"last_publish_error": nil,
		}).Error; err != nil {
		return nil, err
	}
	record.PublishStatus = OutboxPublishStatusFailed
	record.PublishAttempts = 0
	record.NextAttemptAt = &now
	record.LockedAt, record.LockedBy, record.LastPublishError = nil, nil, nil
	return &record, nil
}

package models

import (
	"context"
	"encoding/json"
	"time"

	"bitbucket.org/mmdatafocus/catalog_backend/config"
	"gorm.io/gorm"
)

type CatalogEntityType string

const (
	CatalogEntityCategory CatalogEntityType = "CAT"
	CatalogEntityUnit     CatalogEntityType = "UNT"
	CatalogEntityProduct  CatalogEntityType = "PRD"
)

type CatalogEventAction string

const (
	CatalogEventActionCreate CatalogEventAction = "C"
	CatalogEventActionUpdate CatalogEventAction = "U"
	CatalogEventActionDelete CatalogEventAction = "D"
)

const (
	OutboxPublishStatusPending    = "PENDING"
	OutboxPublishStatusProcessing = "PROCESSING"
	OutboxPublishStatusSent       = "SENT"
	OutboxPublishStatusFailed     = "FAILED"
	OutboxPublishStatusDead       = "DEAD"
)

// CatalogEventRecord is the transactional outbox row: written inside the
// mutation's transaction, published to Pub/Sub by the dispatcher after
// commit. A rolled-back mutation therefore never emits an event.
type CatalogEventRecord struct {
	ID            int                `gorm:"primary_key;index:idx_catalog_outbox_dispatch,priority:3" json:"id"`
	ClientId      string             `gorm:"size:64;not null;index" json:"client_id"`
	OccurredAt    time.Time          `gorm:"index;not null" json:"occurred_at"`
	ReferenceId   int                `json:"reference_id"`
	ReferenceType CatalogEntityType  `gorm:"type:enum('CAT','UNT','PRD')" json:"reference_type"`
	Action        CatalogEventAction `gorm:"type:enum('C','U','D')" json:"action"`
	OldObj        []byte             `gorm:"type:blob" json:"old_obj"`
	NewObj        []byte             `gorm:"type:blob" json:"new_obj"`

	PublishStatus    string     `gorm:"size:20;index;not null;default:'PENDING';index:idx_catalog_outbox_dispatch,priority:1" json:"publish_status"` // PENDING|PROCESSING|SENT|FAILED|DEAD
	PublishedAt      *time.Time `gorm:"index" json:"published_at"`
	PubSubMessageId  *string    `gorm:"size:255" json:"pubsub_message_id"`
	PublishAttempts  int        `gorm:"not null;default:0" json:"publish_attempts"`
	NextAttemptAt    *time.Time `gorm:"index;index:idx_catalog_outbox_dispatch,priority:2" json:"next_attempt_at"`
	LockedAt         *time.Time `gorm:"index" json:"locked_at"`
	LockedBy         *string    `gorm:"size:100" json:"locked_by"`
	LastPublishError *string    `gorm:"type:text" json:"last_publish_error"`
	CorrelationId    string     `gorm:"size:64;index" json:"correlation_id"`
	CreatedAt        time.Time  `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt        time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}

func ConvertToPubSubMessage(record CatalogEventRecord) config.PubSubMessage {
	return config.PubSubMessage{
		ID:            record.ID,
		ClientId:      record.ClientId,
		OccurredAt:    record.OccurredAt,
		ReferenceId:   record.ReferenceId,
		ReferenceType: string(record.ReferenceType),
		Action:        string(record.Action),
		OldObj:        record.OldObj,
		NewObj:        record.NewObj,
		CorrelationId: record.CorrelationId,
	}
}

// AppendCatalogEvent writes the event record on the given handle. Callers
// inside a transaction pass the tx so the record commits or rolls back with
// the mutation it describes. Publishing happens later in the dispatcher.
func AppendCatalogEvent(ctx context.Context, db *gorm.DB, clientId string, refId int, refType CatalogEntityType, action CatalogEventAction, oldObj interface{}, newObj interface{}) error {

	var oldObjInByte []byte
	var newObjInByte []byte
	var err error

	if action == CatalogEventActionUpdate || action == CatalogEventActionDelete {
		oldObjInByte, err = json.Marshal(oldObj)
		if err != nil {
			return err
		}
	}
	if action == CatalogEventActionCreate || action == CatalogEventActionUpdate {
		newObjInByte, err = json.Marshal(newObj)
		if err != nil {
			return err
		}
	}

	record := CatalogEventRecord{
		ClientId:      clientId,
		OccurredAt:    time.Now().UTC(),
		ReferenceId:   refId,
		ReferenceType: refType,
		Action:        action,
		OldObj:        oldObjInByte,
		NewObj:        newObjInByte,
		PublishStatus: OutboxPublishStatusPending,
		CorrelationId: correlationIdFromContextOrNew(ctx),
	}
	return db.Create(&record).Error
}

package models

import (
	"encoding/json"
	"time"

	"github.com/mmdatafocus/pos_backend/config"
	"github.com/mmdatafocus/pos_backend/utils"
	"gorm.io/gorm"
)

// History is the activity log shown on a sale's timeline.
type History struct {
	ID            int           `gorm:"primary_key" json:"id"`
	BusinessId    string        `gorm:"size:64;index;not null" json:"business_id"`
	ActionType    string        `gorm:"size:10;not null" json:"action_type"`
	Before        string        `gorm:"type:text" json:"before"`
	After         string        `gorm:"type:text" json:"after"`
	Description   string        `gorm:"type:text;not null" json:"description"`
	ReferenceID   int           `gorm:"index" json:"reference_id"`
	ReferenceType ReferenceType `gorm:"size:20" json:"reference_type"`
	UserId        int           `gorm:"index;not null" json:"user_id"`
	UserName      string        `gorm:"size:100" json:"user_name"`
	CreatedAt     time.Time     `gorm:"autoCreateTime" json:"created_at"`
}

const (
	HistoryActionCreate = "CREATE"
	HistoryActionUpdate = "UPDATE"
	HistoryActionDelete = "DELETE"
	HistoryActionReturn = "RETURN"
)

const historySavePoint = "activity_history"

// createHistory records an activity row. Errors are logged, never returned.
func createHistory(tx *gorm.DB, businessId string, actionType string, referenceId int, referenceType ReferenceType,
	before interface{}, after interface{}, description string) {

	ctx := tx.Statement.Context
	history := History{
		BusinessId:    businessId,
		ActionType:    actionType,
		Description:   description,
		ReferenceID:   referenceId,
		ReferenceType: referenceType,
	}
	if before != nil {
		b, _ := json.Marshal(before)
		history.Before = string(b)
	}
	if after != nil {
		a, _ := json.Marshal(after)
		history.After = string(a)
	}
	if ctx != nil {
		history.UserId, _ = utils.GetUserIdFromContext(ctx)
		history.UserName, _ = utils.GetUserNameFromContext(ctx)
	}

	logger := config.GetLogger()
	sp := tx.Session(&gorm.Session{})
	if err := sp.SavePoint(historySavePoint).Error; err != nil {
		config.LogWarn(logger, "models", "createHistory", "savepoint", referenceId, err)
		return
	}
	if err := sp.Create(&history).Error; err != nil {
		_ = tx.Session(&gorm.Session{}).RollbackTo(historySavePoint).Error
		config.LogWarn(logger, "models", "createHistory", "history write failed", history, err)
	}
}

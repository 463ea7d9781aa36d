package entity

import (
	"time"

	"github.com/lib/pq"
	"gorm.io/datatypes"
)

// SettingHistory 已保存的设定树快照
type SettingHistory struct {
	ID          string         `json:"id" gorm:"type:uuid;primaryKey;default:gen_random_uuid()"`
	UserID      string         `json:"user_id" gorm:"type:varchar(64);index;not null"`
	NovelID     string         `json:"novel_id" gorm:"type:varchar(64);index;not null"`
	SessionID   string         `json:"session_id" gorm:"type:uuid;index;not null"`
	Prompt      string         `json:"prompt" gorm:"type:text"`
	NodeCount   int            `json:"node_count" gorm:"not null;default:0"`
	RootNodeIDs pq.StringArray `json:"root_node_ids" gorm:"type:text[]"`
	Nodes       datatypes.JSON `json:"nodes" gorm:"type:jsonb;not null"`
	CreatedAt   time.Time      `json:"created_at" gorm:"autoCreateTime"`
	UpdatedAt   time.Time      `json:"updated_at" gorm:"autoUpdateTime"`
}

func (SettingHistory) TableName() string {
	return "setting_histories"
}

package entity

import "time"

// UserModelConfig 用户自带密钥的模型配置
type UserModelConfig struct {
	ID          string    `json:"id" gorm:"type:uuid;primaryKey;default:gen_random_uuid()"`
	UserID      string    `json:"user_id" gorm:"type:varchar(64);index;not null"`
	Provider    string    `json:"provider" gorm:"type:varchar(32);not null"`
	Model       string    `json:"model" gorm:"type:varchar(128);not null"`
	BaseURL     string    `json:"base_url" gorm:"type:varchar(512)"`
	APIKey      string    `json:"-" gorm:"type:text;not null"`
	MaxTokens   int       `json:"max_tokens"`
	Temperature float64   `json:"temperature"`
	Enabled     bool      `json:"enabled" gorm:"not null;default:true"`
	CreatedAt   time.Time `json:"created_at" gorm:"autoCreateTime"`
	UpdatedAt   time.Time `json:"updated_at" gorm:"autoUpdateTime"`
}

func (UserModelConfig) TableName() string {
	return "user_model_configs"
}

// UserCreditAccount 用户积分账户
type UserCreditAccount struct {
	UserID    string    `json:"user_id" gorm:"type:varchar(64);primaryKey"`
	Balance   int64     `json:"balance" gorm:"not null;default:0"`
	Frozen    int64     `json:"frozen" gorm:"not null;default:0"`
	UpdatedAt time.Time `json:"updated_at" gorm:"autoUpdateTime"`
}

func (UserCreditAccount) TableName() string {
	return "user_credit_accounts"
}

// Available 可用余额
func (a *UserCreditAccount) Available() int64 {
	if a == nil {
		return 0
	}
	v := a.Balance - a.Frozen
	if v < 0 {
		return 0
	}
	return v
}

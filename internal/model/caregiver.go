package model

// CaregiverLinkStatus 监护关系状态
type CaregiverLinkStatus string

const (
	CaregiverLinkPending CaregiverLinkStatus = "pending"
	CaregiverLinkActive  CaregiverLinkStatus = "active"
	CaregiverLinkRevoked CaregiverLinkStatus = "revoked"
)

// CaregiverLink 老人与监护人的关联，由 App 侧维护，这里只读
type CaregiverLink struct {
	BaseModel
	SeniorID    int64               `gorm:"not null;index:idx_caregiver_links_senior_status" json:"senior_id"`
	CaregiverID int64               `gorm:"not null;index" json:"caregiver_id"`
	Status      CaregiverLinkStatus `gorm:"type:varchar(16);not null;default:'pending';index:idx_caregiver_links_senior_status" json:"status"`
	DisplayName string              `gorm:"type:varchar(64);not null;default:''" json:"display_name"`
	PhoneCipher string              `gorm:"type:text;not null;default:''" json:"-"` // base64(nonce+密文)
	Priority    int                 `gorm:"not null;default:1" json:"priority"`
}

func (CaregiverLink) TableName() string {
	return "caregiver_links"
}

// DeviceToken FCM 设备 token
type DeviceToken struct {
	BaseModel
	UserID   int64  `gorm:"not null;index" json:"user_id"`
	Token    string `gorm:"type:varchar(512);not null;uniqueIndex" json:"token"`
	Platform string `gorm:"type:varchar(16);not null;default:''" json:"platform"`
}

func (DeviceToken) TableName() string {
	return "device_tokens"
}

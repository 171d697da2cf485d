package jobs

import "time"

// Status 表示任务记录的生命周期阶段。
type Status string

const (
	// StatusPending 任务已接收，尚未开始执行
	StatusPending Status = "pending"

	// StatusRunning 任务正在执行
	StatusRunning Status = "running"

	// StatusSucceeded 至少一条文本生成成功，归档已发布
	StatusSucceeded Status = "succeeded"

	// StatusFailed 所有文本均失败，不发布归档
	StatusFailed Status = "failed"
)

// Terminal 报告该状态是否为终态。
func (s Status) Terminal() bool {
	return s == StatusSucceeded || s == StatusFailed
}

// Job 是一条任务记录，字段与 internal/migration 下的 jobs 表结构一一对应。
// 归档存在与否和任务成败是两个独立事实：下载端点看文件系统，
// 状态端点看这条记录。
type Job struct {
	ID         uint       `gorm:"primaryKey" json:"id" bson:"-"`
	Ref        string     `gorm:"not null;uniqueIndex:idx_jobs_ref" json:"ref" bson:"ref"`
	ArchiveRef string     `gorm:"not null;uniqueIndex:idx_jobs_archive_ref" json:"archive_ref" bson:"archive_ref"`
	Status     Status     `gorm:"not null;default:pending;index:idx_jobs_status" json:"status" bson:"status"`
	Items      int        `gorm:"not null;default:0" json:"items" bson:"items"`
	Error      string     `json:"error,omitempty" bson:"error,omitempty"`
	CreatedAt  time.Time  `gorm:"not null;index:idx_jobs_created_at" json:"created_at" bson:"created_at"`
	UpdatedAt  time.Time  `gorm:"not null" json:"updated_at" bson:"updated_at"`
	StartedAt  *time.Time `json:"started_at,omitempty" bson:"started_at,omitempty"`
	FinishedAt *time.Time `json:"finished_at,omitempty" bson:"finished_at,omitempty"`

	// 归档元数据，发布成功后回填
	ArchivePath string `json:"archive_path,omitempty" bson:"archive_path,omitempty"`
	ArchiveSize int64  `gorm:"not null;default:0" json:"archive_size" bson:"archive_size"`
}

// TableName 指定 GORM 表名，与迁移脚本保持一致。
func (Job) TableName() string {
	return "jobs"
}

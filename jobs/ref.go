package jobs

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Ref 是一次提交的产物标识对。下载地址同时携带两个 id，
// 归档发布前该地址是弱引用，指向的文件可以尚不存在。
type Ref struct {
	// WorkID 工作目录标识，generated_code/<WorkID>/ 存放生成的文件
	WorkID string `json:"work_id"`

	// ArchiveID 归档目录标识，final_zip/<ArchiveID>/ 存放最终 zip
	ArchiveID string `json:"archive_id"`
}

// idPattern 约束 id 形状：14 位日期时间 + 6 位微秒 + 连字符 + 8 位十六进制。
var idPattern = regexp.MustCompile(`^[0-9]{20}-[0-9a-f]{8}$`)

// NewRef 以当前时刻铸造一对新标识。
func NewRef() Ref {
	return NewRefAt(time.Now())
}

// NewRefAt 以给定时刻铸造一对新标识。两个 id 共享时间基底、
// 随机后缀各自独立，同一微秒内的并发提交互不冲突。
func NewRefAt(now time.Time) Ref {
	return Ref{WorkID: newID(now), ArchiveID: newID(now)}
}

func newID(now time.Time) string {
	suffix := strings.ReplaceAll(uuid.New().String(), "-", "")[:8]
	return fmt.Sprintf("%s%06d-%s", now.Format("20060102150405"), now.Nanosecond()/1000, suffix)
}

// ValidID 报告 s 是否具有本服务铸造的标识形状。
func ValidID(s string) bool {
	return idPattern.MatchString(s)
}

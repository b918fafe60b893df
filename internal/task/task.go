package task

import (
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	xerrors "TaskPulse/internal/errors"
)

// Status 表示任务在生命周期中的状态。
type Status string

const (
	StatusPending  Status = "pending"
	StatusFinished Status = "finished"
)

const (
	// MinPriority 与 MaxPriority 限定优先级的取值范围。
	MinPriority = 1
	MaxPriority = 5
	// MaxTitleLength 是标题允许的最大字符数。
	MaxTitleLength = 512
)

// Task 描述了一个用户拥有的、带有起止时间的任务。
type Task struct {
	ID        string    `json:"_id"`
	Title     string    `json:"title"`
	StartTime time.Time `json:"startTime"`
	EndTime   time.Time `json:"endTime"`
	Priority  int       `json:"priority"`
	Status    Status    `json:"status"`
	Owner     string    `json:"user"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Draft 是创建任务时调用方提供的字段。
type Draft struct {
	Title     string    `json:"title"`
	StartTime time.Time `json:"startTime"`
	EndTime   time.Time `json:"endTime"`
	Priority  int       `json:"priority"`
	Status    Status    `json:"status"`
}

// Patch 描述一次部分更新，nil 字段保持原值。
type Patch struct {
	Title     *string    `json:"title,omitempty"`
	StartTime *time.Time `json:"startTime,omitempty"`
	EndTime   *time.Time `json:"endTime,omitempty"`
	Priority  *int       `json:"priority,omitempty"`
	Status    *Status    `json:"status,omitempty"`
}

// IsEmpty 判断更新是否不包含任何字段。
func (p Patch) IsEmpty() bool {
	return p.Title == nil && p.StartTime == nil && p.EndTime == nil && p.Priority == nil && p.Status == nil
}

const (
	CodeTaskNotFound   xerrors.Code = "TASK_NOT_FOUND"
	CodeTaskValidation xerrors.Code = "TASK_VALIDATION_FAILED"
	CodeOwnerRequired  xerrors.Code = "TASK_OWNER_REQUIRED"
)

var (
	// ErrTaskNotFound 表示任务不存在或不属于当前用户，两者对外不做区分。
	ErrTaskNotFound = xerrors.New(CodeTaskNotFound, "Task not found")
	// ErrOwnerRequired 表示存储访问缺少所属用户。
	ErrOwnerRequired = xerrors.New(CodeOwnerRequired, "task owner is required")
)

func init() {
	xerrors.Register(CodeTaskNotFound, xerrors.Attributes{
		Message:    "Task not found",
		Severity:   xerrors.SeverityInfo,
		HTTPStatus: http.StatusNotFound,
		Expose:     true,
	})
	xerrors.Register(CodeTaskValidation, xerrors.Attributes{
		Message:    "Invalid task data",
		Severity:   xerrors.SeverityInfo,
		HTTPStatus: http.StatusBadRequest,
		Expose:     true,
	})
	xerrors.Register(CodeOwnerRequired, xerrors.Attributes{
		Message:    "server error",
		Severity:   xerrors.SeverityCritical,
		HTTPStatus: http.StatusInternalServerError,
	})
}

// IsValidStatus 检查给定的任务状态是否为支持的枚举值。
func IsValidStatus(status Status) bool {
	switch status {
	case StatusPending, StatusFinished:
		return true
	default:
		return false
	}
}

// IsValidPriority 检查优先级是否位于 [1,5]。
func IsValidPriority(priority int) bool {
	return priority >= MinPriority && priority <= MaxPriority
}

// Validate 校验任务的字段取值与时间顺序。
func (t *Task) Validate() error {
	if t == nil {
		return xerrors.New(CodeTaskValidation, "task is required")
	}
	if strings.TrimSpace(t.Title) == "" {
		return xerrors.New(CodeTaskValidation, "title is required")
	}
	if utf8.RuneCountInString(t.Title) > MaxTitleLength {
		return xerrors.New(CodeTaskValidation, "title must be at most 512 characters")
	}
	if t.StartTime.IsZero() {
		return xerrors.New(CodeTaskValidation, "startTime is required")
	}
	if t.EndTime.IsZero() {
		return xerrors.New(CodeTaskValidation, "endTime is required")
	}
	if t.EndTime.Before(t.StartTime) {
		return xerrors.New(CodeTaskValidation, "End time must be greater than or equal to start time")
	}
	if !IsValidPriority(t.Priority) {
		return xerrors.New(CodeTaskValidation, "priority must be between 1 and 5")
	}
	if !IsValidStatus(t.Status) {
		return xerrors.New(CodeTaskValidation, "status must be pending or finished")
	}
	return nil
}

// Apply 将部分更新合并到任务副本上并返回结果，原任务保持不变。
// 当状态由 pending 变为 finished 时，EndTime 以 now 为准，覆盖请求中的值。
func (t Task) Apply(p Patch, now time.Time) Task {
	previous := t.Status
	if p.Title != nil {
		t.Title = strings.TrimSpace(*p.Title)
	}
	if p.StartTime != nil {
		t.StartTime = *p.StartTime
	}
	if p.EndTime != nil {
		t.EndTime = *p.EndTime
	}
	if p.Priority != nil {
		t.Priority = *p.Priority
	}
	if p.Status != nil {
		t.Status = *p.Status
		if t.Status == StatusFinished && previous == StatusPending {
			t.EndTime = now
		}
	}
	return t
}

// Clone 返回任务的副本。
func (t *Task) Clone() *Task {
	if t == nil {
		return nil
	}
	clone := *t
	return &clone
}

// RequireOwner 校验存储访问携带了所属用户，所有存储实现共用。
func RequireOwner(owner string) error {
	if strings.TrimSpace(owner) == "" {
		return ErrOwnerRequired
	}
	return nil
}

package task

import (
	"math"
	"strconv"
	"strings"

	xerrors "TaskPulse/internal/errors"
)

// SortField defines how results should be ordered when listing tasks.
type SortField string

const (
	// SortNatural keeps the store's insertion order.
	SortNatural SortField = ""
	// SortByStartTime orders tasks by StartTime ascending.
	SortByStartTime SortField = "startTime"
	// SortByEndTime orders tasks by EndTime ascending.
	SortByEndTime SortField = "endTime"
)

const (
	DefaultPage  = 1
	DefaultLimit = 10
)

// ListOptions controls how tasks are selected when querying the store.
type ListOptions struct {
	Page     int
	Limit    int
	Priority *int
	Status   *Status
	SortBy   SortField
}

// Skip returns the number of matching tasks that precede the requested page.
// It saturates at math.MaxInt64, so an enormous page is simply beyond range.
func (opts ListOptions) Skip() int64 {
	if opts.Page <= 1 || opts.Limit <= 0 {
		return 0
	}
	pages, limit := int64(opts.Page-1), int64(opts.Limit)
	if pages > math.MaxInt64/limit {
		return math.MaxInt64
	}
	return pages * limit
}

// PageLen returns how many of total matching tasks fall on the requested page.
func (opts ListOptions) PageLen(total int64) int64 {
	remaining := total - opts.Skip()
	if remaining <= 0 {
		return 0
	}
	if limit := int64(opts.Limit); limit < remaining {
		return limit
	}
	return remaining
}

// applyDefaults sanitizes the options and fills in default values.
func (opts *ListOptions) applyDefaults() {
	if opts.Page < 1 {
		opts.Page = DefaultPage
	}
	if opts.Limit < 1 {
		opts.Limit = DefaultLimit
	}
	switch opts.SortBy {
	case SortByStartTime, SortByEndTime:
	default:
		opts.SortBy = SortNatural
	}
}

// Normalize returns a copy with defaults applied, for store implementations
// outside this package.
func (opts ListOptions) Normalize() ListOptions {
	opts.applyDefaults()
	return opts
}

// ListOption mutates ListOptions.
type ListOption func(*ListOptions)

// WithPage selects the 1-based page to return.
func WithPage(page int) ListOption {
	return func(opts *ListOptions) {
		opts.Page = page
	}
}

// WithLimit sets the page size.
func WithLimit(limit int) ListOption {
	return func(opts *ListOptions) {
		opts.Limit = limit
	}
}

// WithPriority filters tasks by exact priority.
func WithPriority(priority int) ListOption {
	return func(opts *ListOptions) {
		opts.Priority = &priority
	}
}

// WithStatus filters tasks by exact status.
func WithStatus(status Status) ListOption {
	return func(opts *ListOptions) {
		opts.Status = &status
	}
}

// WithSortBy orders the result by the given field.
func WithSortBy(field SortField) ListOption {
	return func(opts *ListOptions) {
		opts.SortBy = field
	}
}

// buildListOptions applies option functions on top of defaults.
func buildListOptions(opts []ListOption) ListOptions {
	options := ListOptions{}
	for _, opt := range opts {
		if opt != nil {
			opt(&options)
		}
	}
	options.applyDefaults()
	return options
}

// ParseListQuery 将查询字符串参数转换为 ListOption，非法取值返回校验错误。
// get 通常为 url.Values.Get。
func ParseListQuery(get func(string) string) ([]ListOption, error) {
	var opts []ListOption

	if raw := strings.TrimSpace(get("priority")); raw != "" {
		priority, err := strconv.Atoi(raw)
		if err != nil || !IsValidPriority(priority) {
			return nil, xerrors.New(CodeTaskValidation, "priority must be an integer between 1 and 5")
		}
		opts = append(opts, WithPriority(priority))
	}
	if raw := strings.TrimSpace(get("status")); raw != "" {
		status := Status(raw)
		if !IsValidStatus(status) {
			return nil, xerrors.New(CodeTaskValidation, "status must be pending or finished")
		}
		opts = append(opts, WithStatus(status))
	}
	if raw := strings.TrimSpace(get("sortBy")); raw != "" {
		opts = append(opts, WithSortBy(SortField(raw)))
	}
	if raw := strings.TrimSpace(get("page")); raw != "" {
		page, err := strconv.Atoi(raw)
		if err != nil || page < 1 {
			return nil, xerrors.New(CodeTaskValidation, "page must be a positive integer")
		}
		opts = append(opts, WithPage(page))
	}
	if raw := strings.TrimSpace(get("limit")); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit < 1 {
			return nil, xerrors.New(CodeTaskValidation, "limit must be a positive integer")
		}
		opts = append(opts, WithLimit(limit))
	}
	return opts, nil
}

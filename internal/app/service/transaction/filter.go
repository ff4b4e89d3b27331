package transaction

import (
	"metalink/internal/app/apperr"
	"metalink/internal/app/model"
	"net/url"
	"strconv"
	"time"
)

const (
	DefaultPage     = 1
	DefaultPageSize = 10
	MaxPageSize     = 100
	MaxPage         = 1000000
)

// Sort orders of a history query.
const (
	SortNewest = "newest"
	SortOldest = "oldest"
)

// Filter of a transaction history query. Use DefaultFilter as the base,
// a zero Filter fails validation.
type Filter struct {
	Page      int             `json:"page" validate:"gte=1,lte=1000000"`
	PageSize  int             `json:"pageSize" validate:"gte=1,lte=100"`
	Status    model.Status    `json:"status" validate:"omitempty,status"`
	Currency  model.Currency  `json:"currency" validate:"omitempty,currency"`
	Type      model.Direction `json:"type" validate:"omitempty,direction"`
	Hash      string          `json:"hash" validate:"max=128"`
	Sort      string          `json:"sort" validate:"omitempty,oneof=newest oldest"`
	StartDate *time.Time      `json:"startDate"`
	EndDate   *time.Time      `json:"endDate"`
}

func DefaultFilter() Filter {
	return Filter{
		Page:     DefaultPage,
		PageSize: DefaultPageSize,
	}
}

// ParseFilter reads filter options from query parameters. Malformed values
// are reported together; range checks happen in Service.List.
func ParseFilter(q url.Values) (Filter, error) {
	f := DefaultFilter()
	ve := &apperr.ValidationError{}

	readInt := func(name string, dst *int) bool {
		raw := q.Get(name)
		if raw == "" {
			return false
		}
		n, err := strconv.Atoi(raw)
		if err != nil {
			ve.Add(name, "must be an integer", raw)
			return true
		}
		*dst = n
		return true
	}

	readInt("page", &f.Page)
	if !readInt("pageSize", &f.PageSize) {
		readInt("limit", &f.PageSize)
	}

	f.Status = model.Status(q.Get("status"))
	f.Currency = model.Currency(q.Get("currency"))
	f.Type = model.Direction(q.Get("type"))
	f.Hash = q.Get("hash")
	f.Sort = q.Get("sort")

	if raw := q.Get("startDate"); raw != "" {
		if t, err := parseDate(raw, false); err != nil {
			ve.Add("startDate", "must be an RFC 3339 timestamp or YYYY-MM-DD date", raw)
		} else {
			f.StartDate = &t
		}
	}
	if raw := q.Get("endDate"); raw != "" {
		if t, err := parseDate(raw, true); err != nil {
			ve.Add("endDate", "must be an RFC 3339 timestamp or YYYY-MM-DD date", raw)
		} else {
			f.EndDate = &t
		}
	}

	return f, ve.OrNil()
}

// parseDate accepts RFC 3339 or a bare date. A bare end date covers the whole day.
func parseDate(raw string, endOfDay bool) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339Nano, raw); err == nil {
		return t.UTC(), nil
	}
	t, err := time.Parse("2006-01-02", raw)
	if err != nil {
		return time.Time{}, err
	}
	if endOfDay {
		t = t.Add(24*time.Hour - time.Nanosecond)
	}
	return t, nil
}

package audit

import "time"

// TimelineFilters narrows the audit timeline. Zero values disable a filter.
type TimelineFilters struct {
	From     time.Time
	To       time.Time
	Entity   string
	EntityID string
	Action   string
	Page     int
	PageSize int
}

// TimelineRow is one recorded mutation.
type TimelineRow struct {
	At       time.Time      `json:"at"`
	ActorID  int64          `json:"actor_id,omitempty"`
	Action   string         `json:"action"`
	Entity   string         `json:"entity"`
	EntityID string         `json:"entity_id"`
	Meta     map[string]any `json:"meta,omitempty"`
}

// PagingInfo carries simple next/prev paging.
type PagingInfo struct {
	Page     int  `json:"page"`
	PageSize int  `json:"page_size"`
	HasNext  bool `json:"has_next"`
	PrevPage int  `json:"prev_page,omitempty"`
	NextPage int  `json:"next_page,omitempty"`
}

// Result wraps one page of the timeline.
type Result struct {
	Rows   []TimelineRow `json:"rows"`
	Paging PagingInfo    `json:"paging"`
}

func (f TimelineFilters) matches(row TimelineRow) bool {
	if !f.From.IsZero() && row.At.Before(f.From) {
		return false
	}
	if !f.To.IsZero() && !row.At.Before(f.To) {
		return false
	}
	if f.Entity != "" && row.Entity != f.Entity {
		return false
	}
	if f.EntityID != "" && row.EntityID != f.EntityID {
		return false
	}
	if f.Action != "" && row.Action != f.Action {
		return false
	}
	return true
}

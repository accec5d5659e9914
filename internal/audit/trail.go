package audit

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
)

// Filters narrows a trail query. Zero values match everything.
type Filters struct {
	Kind     string
	UserID   int64
	Page     int
	PageSize int
}

// PagingInfo describes the window returned by Trail.
type PagingInfo struct {
	Page     int  `json:"page"`
	PageSize int  `json:"page_size"`
	HasNext  bool `json:"has_next"`
	PrevPage int  `json:"prev_page,omitempty"`
	NextPage int  `json:"next_page,omitempty"`
}

// Result bundles trail rows with paging information.
type Result struct {
	Rows   []Entry    `json:"rows"`
	Paging PagingInfo `json:"paging"`
}

// Trail returns audit entries newest first, with paging.
func (r *Recorder) Trail(ctx context.Context, filters Filters) (Result, error) {
	pageSize := filters.PageSize
	if pageSize <= 0 {
		pageSize = 20
	}
	if pageSize > 50 {
		pageSize = 50
	}
	page := filters.Page
	if page <= 0 {
		page = 1
	}
	offset := (page - 1) * pageSize

	rows, err := r.pool.Query(ctx, `
		SELECT id, kind, user_id, email, auth_type, remote_ip, occurred_at
		FROM security_events
		WHERE ($1 = '' OR kind = $1)
		  AND ($2 = 0 OR user_id = $2)
		ORDER BY occurred_at DESC, id DESC
		OFFSET $3 LIMIT $4`,
		filters.Kind, filters.UserID, offset, pageSize+1)
	if err != nil {
		return Result{}, err
	}
	entries, err := scanEntries(rows)
	if err != nil {
		return Result{}, err
	}

	hasNext := len(entries) > pageSize
	if hasNext {
		entries = entries[:pageSize]
	}
	paging := PagingInfo{Page: page, PageSize: pageSize, HasNext: hasNext}
	if page > 1 {
		paging.PrevPage = page - 1
	}
	if hasNext {
		paging.NextPage = page + 1
	}
	return Result{Rows: entries, Paging: paging}, nil
}

func scanEntries(rows pgx.Rows) ([]Entry, error) {
	defer rows.Close()
	var entries []Entry
	for rows.Next() {
		var (
			entry    Entry
			email    pgtype.Text
			authType pgtype.Text
			remoteIP pgtype.Text
		)
		if err := rows.Scan(&entry.ID, &entry.Kind, &entry.UserID,
			&email, &authType, &remoteIP, &entry.At); err != nil {
			return nil, err
		}
		entry.Email = email.String
		entry.AuthType = authType.String
		entry.RemoteIP = remoteIP.String
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}

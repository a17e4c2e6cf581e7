package pagination

import (
	"encoding/base64"
	"encoding/json"
)

// MaxPageSize bounds a single list request. Larger asks are clamped, not
// rejected.
const MaxPageSize = 250

// Pagination carries cursor paging inputs as bound from the query string.
type Pagination struct {
	PageToken string `form:"page_token"`
	PageSize  int    `form:"page_size,default=10"`
}

// Clamp normalizes a requested page size into [1, MaxPageSize]. A zero or
// negative ask falls back to the caller's default.
func Clamp(size, fallback int) int {
	if size <= 0 {
		size = fallback
	}
	if size <= 0 {
		size = 10
	}
	if size > MaxPageSize {
		size = MaxPageSize
	}
	return size
}

// Cursor is the decoded form of a page token. Rows page by creation time
// with the row id as tiebreaker.
type Cursor struct {
	ID        string `json:"id,omitempty"`
	CreatedAt string `json:"created_at,omitempty"`
}

// PageInfo tells the caller whether more rows exist and where to resume.
type PageInfo struct {
	NextPageToken string `json:"next_page_token"`
	HasMore       bool   `json:"has_more"`
}

// EncodeCursor serializes a cursor into an opaque page token.
func EncodeCursor(data Cursor) (string, error) {
	b, err := json.Marshal(data)
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(b), nil
}

// DecodeCursor parses a token produced by EncodeCursor.
func DecodeCursor(data string) (*Cursor, error) {
	b, err := base64.StdEncoding.DecodeString(data)
	if err != nil {
		return nil, err
	}

	var cursor Cursor
	if err := json.Unmarshal(b, &cursor); err != nil {
		return nil, err
	}

	return &cursor, nil
}

// BuildCursorPageInfo derives page info from a result fetched with one row
// of overflow. The token always points at the last row of the kept page.
func BuildCursorPageInfo[T any](data []*T, limit int, extractCursor func(*T) string) *PageInfo {
	if len(data) == 0 {
		return &PageInfo{HasMore: false}
	}

	hasMore := false
	if limit > 0 && len(data) > limit {
		hasMore = true
		data = data[:limit]
	}

	return &PageInfo{
		HasMore:       hasMore,
		NextPageToken: extractCursor(data[len(data)-1]),
	}
}

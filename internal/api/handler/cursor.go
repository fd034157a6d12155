package handler

import (
	"encoding/base64"
	"fmt"
	"strings"
)

// ItemCursor marks where the previous page of queue items ended
type ItemCursor struct {
	Offset int
	LastID string
}

func DecodeItemCursor(cursorStr string) (*ItemCursor, error) {
	if cursorStr == "" {
		return nil, nil
	}

	decoded, err := base64.URLEncoding.DecodeString(cursorStr)
	if err != nil {
		return nil, err
	}

	parts := strings.SplitN(string(decoded), "|", 2)
	if len(parts) != 2 || parts[1] == "" {
		return nil, fmt.Errorf("invalid cursor format")
	}

	var offset int
	if _, err := fmt.Sscanf(parts[0], "%d", &offset); err != nil || offset < 0 {
		return nil, fmt.Errorf("invalid offset in cursor")
	}

	return &ItemCursor{Offset: offset, LastID: parts[1]}, nil
}

func EncodeItemCursor(cursor *ItemCursor) string {
	cs := fmt.Sprintf("%d|%s", cursor.Offset, cursor.LastID)
	return base64.URLEncoding.EncodeToString([]byte(cs))
}

// resume returns the index the next page starts at. The item named by the
// cursor wins over the offset when the listing has shifted since.
func (c *ItemCursor) resume(ids []string) int {
	if c == nil {
		return 0
	}
	for i, id := range ids {
		if id == c.LastID {
			return i + 1
		}
	}
	return min(c.Offset, len(ids))
}

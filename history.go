package carexpert

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
)

// ============================================================================
// Chat History Loader
// ============================================================================

// historyPayload is decoded loosely: the backend has drifted between
// camelCase and snake_case field names over time, so each message record is
// normalized before it leaves this package.
type historyPayload struct {
	Messages []map[string]any `json:"messages"`
	Page     int              `json:"page"`
	Limit    int              `json:"limit"`
	Total    int              `json:"total"`
}

// LoadHistory fetches one page of past messages for a conversation surface.
// page is 1-indexed. The caller owns any retry policy; a backend failure is
// surfaced as-is.
func (c *Client) LoadHistory(ctx context.Context, kind SurfaceKind, id string, page, limit int) (*HistoryPage, error) {
	switch kind {
	case SurfaceDirect, SurfaceCity, SurfaceCommunity:
	default:
		return nil, fmt.Errorf("client.LoadHistory: unknown surface %q", kind)
	}
	if page < 1 {
		return nil, fmt.Errorf("client.LoadHistory: page must be >= 1, got %d", page)
	}
	if limit < 1 {
		return nil, fmt.Errorf("client.LoadHistory: limit must be >= 1, got %d", limit)
	}

	path := fmt.Sprintf("/api/v1/chat/history/%s/%s", kind, url.PathEscape(id))
	query := url.Values{}
	query.Set("page", strconv.Itoa(page))
	query.Set("limit", strconv.Itoa(limit))

	var payload historyPayload
	if err := c.do(ctx, "GET", path, nil, query, &payload); err != nil {
		return nil, fmt.Errorf("client.LoadHistory: %w", err)
	}

	out := &HistoryPage{
		Messages: make([]ChatMessage, 0, len(payload.Messages)),
		Page:     page,
		Limit:    limit,
		Total:    payload.Total,
	}
	if payload.Page > 0 {
		out.Page = payload.Page
	}
	if payload.Limit > 0 {
		out.Limit = payload.Limit
	}
	for _, raw := range payload.Messages {
		out.Messages = append(out.Messages, normalizeMessage(raw))
	}
	return out, nil
}

// normalizeMessage maps one loosely-typed backend record onto the canonical
// ChatMessage, accepting both camelCase and snake_case variants for every
// field. Neither variant leaks past this boundary.
func normalizeMessage(raw map[string]any) ChatMessage {
	return ChatMessage{
		ID:         firstString(raw, "id", "_id", "messageId", "message_id"),
		RoomID:     firstString(raw, "roomId", "room_id", "room"),
		SenderID:   firstString(raw, "senderId", "sender_id", "sender"),
		SenderName: firstString(raw, "senderName", "sender_name"),
		Content:    firstString(raw, "content", "message", "text"),
		CreatedAt:  firstString(raw, "createdAt", "created_at", "timestamp"),
	}
}

// firstString returns the first key present in raw with a non-empty string
// value.
func firstString(raw map[string]any, keys ...string) string {
	for _, key := range keys {
		if v, ok := raw[key].(string); ok && v != "" {
			return v
		}
	}
	return ""
}

package onebot

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"time"

	"github.com/aomori/sobriquet/internal/identity"
	"github.com/aomori/sobriquet/internal/sobriquet"
)

// event is the subset of a OneBot v11 payload the connector cares
// about. Numeric ids arrive as numbers on the wire; json.Number keeps
// them lossless when rendered back to strings.
type event struct {
	PostType    string      `json:"post_type"`
	MessageType string      `json:"message_type"`
	Time        int64       `json:"time"`
	SelfID      json.Number `json:"self_id"`
	UserID      json.Number `json:"user_id"`
	GroupID     json.Number `json:"group_id"`
	RawMessage  string      `json:"raw_message"`
	Sender      sender      `json:"sender"`
}

type sender struct {
	Nickname string `json:"nickname"`
	Card     string `json:"card"`
}

// displayName prefers the group card over the account nickname, the
// same precedence QQ clients render.
func (s sender) displayName() string {
	if card := strings.TrimSpace(s.Card); card != "" {
		return card
	}
	return strings.TrimSpace(s.Nickname)
}

func (c *Connector) handleEvent(ctx context.Context, data []byte) {
	var e event
	if err := json.Unmarshal(data, &e); err != nil {
		c.logger.Debug("undecodable event skipped", "error", err)
		return
	}
	if e.PostType != "message" && e.PostType != "message_sent" {
		return
	}
	if e.MessageType != "group" || e.GroupID.String() == "" || e.UserID.String() == "" {
		return
	}

	uid := e.UserID.String()
	name := e.Sender.displayName()
	if name != "" {
		c.mu.Lock()
		c.names[uid] = name
		c.mu.Unlock()
	}

	stream := sobriquet.Stream{Platform: platform, GroupID: e.GroupID.String()}
	timestamp := time.Time{}
	if e.Time > 0 {
		timestamp = time.Unix(e.Time, 0).UTC()
	}
	if c.recorder != nil {
		c.recorder.Append(stream.Key(), identity.Message{
			UserID:      uid,
			DisplayName: name,
			Text:        e.RawMessage,
			Timestamp:   timestamp,
		})
	}

	if c.trigger == nil || !c.isSelf(e) {
		return
	}
	if err := c.trigger.TriggerAnalysis(ctx, stream, e.RawMessage); err != nil {
		c.logger.Warn("analysis trigger failed",
			slog.String("stream", stream.Key()), slog.Any("error", err))
	}
}

// isSelf reports whether the event is the bot's own outgoing reply,
// either flagged by post type or matching the configured account id.
func (c *Connector) isSelf(e event) bool {
	if e.PostType == "message_sent" {
		return true
	}
	if c.selfID != "" && e.UserID.String() == c.selfID {
		return true
	}
	return c.selfID == "" && e.SelfID.String() != "" && e.UserID.String() == e.SelfID.String()
}

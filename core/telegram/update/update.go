// Package update decodes inbound Telegram webhook payloads into the fields the
// relay needs: the destination chat and the message text.
package update

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
)

var (
	// ErrMalformed is returned when the body is not a JSON object or
	// message is not an object.
	ErrMalformed = errors.New("update: malformed payload")
	// ErrMissingChatID is returned when a message is present without chat.id.
	ErrMissingChatID = errors.New("update: message without chat.id")
)

// ChatID is an opaque chat identifier. It holds the literal JSON value from the
// inbound update (a number or a string) and marshals back to the exact same bytes.
type ChatID struct {
	raw json.RawMessage
}

// ParseChatID builds a ChatID from literal JSON; it only checks that the
// value is valid JSON and not null.
func ParseChatID(raw []byte) (ChatID, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return ChatID{}, ErrMissingChatID
	}
	if !json.Valid(raw) {
		return ChatID{}, ErrMalformed
	}
	return ChatID{raw: append(json.RawMessage(nil), raw...)}, nil
}

// IsZero reports whether the id is unset.
func (c ChatID) IsZero() bool { return len(c.raw) == 0 }

// MarshalJSON returns the original JSON bytes unchanged.
func (c ChatID) MarshalJSON() ([]byte, error) {
	if c.IsZero() {
		return []byte("null"), nil
	}
	return c.raw, nil
}

// String renders the id for logs: numbers as-is, strings unquoted.
func (c ChatID) String() string {
	if c.IsZero() {
		return ""
	}
	if c.raw[0] == '"' {
		if s, err := strconv.Unquote(string(c.raw)); err == nil {
			return s
		}
	}
	return string(c.raw)
}

// Update carries the fields extracted from a message update.
type Update struct {
	// UpdateID is the Telegram update_id when present; used for log correlation only.
	UpdateID int64
	ChatID   ChatID
	Text     string
}

type message struct {
	Chat json.RawMessage `json:"chat"`
	Text json.RawMessage `json:"text"`
}

type chat struct {
	ID json.RawMessage `json:"id"`
}

// Decode extracts the chat and text of a message update.
//
// It reports ok=false with a nil error when the payload has no "message" key,
// which covers the other update kinds Telegram posts to the same endpoint.
func Decode(raw []byte) (Update, bool, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || raw[0] != '{' {
		return Update{}, false, ErrMalformed
	}

	var top map[string]json.RawMessage
	if err := json.Unmarshal(raw, &top); err != nil {
		return Update{}, false, fmt.Errorf("%w: %v", ErrMalformed, err)
	}

	var u Update
	if id, ok := top["update_id"]; ok {
		// update_id is informational; an unexpected type is ignored.
		_ = json.Unmarshal(id, &u.UpdateID)
	}

	msgRaw, present := top["message"]
	if !present {
		return u, false, nil
	}
	msgRaw = bytes.TrimSpace(msgRaw)
	if bytes.Equal(msgRaw, []byte("null")) {
		return u, false, ErrMissingChatID
	}
	if len(msgRaw) == 0 || msgRaw[0] != '{' {
		return u, false, ErrMalformed
	}

	var msg message
	if err := json.Unmarshal(msgRaw, &msg); err != nil {
		return u, false, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	// A chat that is null or not an object carries no id either.
	chatRaw := bytes.TrimSpace(msg.Chat)
	if len(chatRaw) == 0 || chatRaw[0] != '{' {
		return u, false, ErrMissingChatID
	}
	var c chat
	if err := json.Unmarshal(chatRaw, &c); err != nil {
		return u, false, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	chatID, err := ParseChatID(c.ID)
	if err != nil {
		return u, false, err
	}
	u.ChatID = chatID
	u.Text = decodeText(msg.Text)
	return u, true, nil
}

// decodeText renders message.text. Strings are unquoted; any other JSON value
// (number, bool, array, object) is echoed as its compact JSON text so a
// message with a chat id always gets a reply.
func decodeText(raw json.RawMessage) string {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return ""
	}
	if raw[0] == '"' {
		var s string
		if err := json.Unmarshal(raw, &s); err == nil {
			return s
		}
	}
	var buf bytes.Buffer
	if err := json.Compact(&buf, raw); err != nil {
		return string(raw)
	}
	return buf.String()
}

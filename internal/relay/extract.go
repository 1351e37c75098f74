package relay

import "encoding/json"

// replyKeys are the candidate fields probed, in order, to locate the reply
// text inside an arbitrary response payload. The order is part of the wire
// contract with existing webhook backends; do not reorder.
var replyKeys = []string{"reply", "message", "text", "answer", "output", "response", "data"}

// ExtractReply locates the reply string inside a webhook response body.
// Recognized shapes, first match wins: a raw JSON string; an object holding
// a non-empty string under one of replyKeys; an array whose first element
// has "reply" or nested "json.reply". Anything else, including bodies that
// do not decode as JSON, is ErrEmptyReply.
func ExtractReply(body []byte) (string, error) {
	var payload any
	if err := json.Unmarshal(body, &payload); err != nil {
		return "", ErrEmptyReply
	}
	if reply, ok := probe(payload); ok {
		return reply, nil
	}
	return "", ErrEmptyReply
}

func probe(payload any) (string, bool) {
	switch v := payload.(type) {
	case string:
		if v != "" {
			return v, true
		}
	case map[string]any:
		for _, key := range replyKeys {
			if s, ok := v[key].(string); ok && s != "" {
				return s, true
			}
		}
	case []any:
		if len(v) == 0 {
			return "", false
		}
		first, ok := v[0].(map[string]any)
		if !ok {
			return "", false
		}
		if s, ok := first["reply"].(string); ok && s != "" {
			return s, true
		}
		if nested, ok := first["json"].(map[string]any); ok {
			if s, ok := nested["reply"].(string); ok && s != "" {
				return s, true
			}
		}
	}
	return "", false
}

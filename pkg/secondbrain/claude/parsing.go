package claude

import (
	"encoding/json"
	"strings"
)

// maxRawTextLen bounds the text returned when output is not JSON at all.
const maxRawTextLen = 2000

// Candidate field names per logical attribute, in resolution order. The CLI
// has shifted key names across releases, so each attribute is resolved
// against an ordered list rather than a single key.
var (
	textFields    = []string{"result", "text"}
	costFields    = []string{"total_cost_usd", "cost_usd"}
	sessionFields = []string{"session_id"}
)

// parseOutput normalizes raw CLI output into a Response. The output is not
// fully under our control, so the parse tolerates prose around the JSON and
// degrades to plain text when no JSON can be recovered.
func parseOutput(raw, fallbackSessionID string) Response {
	if strings.TrimSpace(raw) == "" {
		return Response{
			Text:      "(No response from Claude)",
			SessionID: fallbackSessionID,
			IsError:   true,
		}
	}

	data, ok := decodeObject(raw)
	if !ok {
		// Plain-text output is a degraded success, not an error.
		return Response{
			Text:      truncate(raw, maxRawTextLen),
			SessionID: fallbackSessionID,
		}
	}

	text, ok := firstString(data, textFields)
	if !ok {
		// No recognizable text field: fall back to the whole object.
		if encoded, err := json.Marshal(data); err == nil {
			text = string(encoded)
		}
	}

	sessionID, ok := firstString(data, sessionFields)
	if !ok || sessionID == "" {
		sessionID = fallbackSessionID
	}

	cost := firstNumber(data, costFields)
	if cost < 0 {
		cost = 0
	}

	durationMs := firstNumber(data, []string{"duration_ms"})

	isError, _ := data["is_error"].(bool)

	return Response{
		Text:         text,
		SessionID:    sessionID,
		CostUSD:      cost,
		DurationSecs: durationMs / 1000.0,
		IsError:      isError,
	}
}

// decodeObject parses raw as a JSON object, retrying on the substring
// between the first '{' and the last '}' when the whole document fails —
// the CLI sometimes wraps its payload in log lines or prose.
func decodeObject(raw string) (map[string]any, bool) {
	var data map[string]any
	if err := json.Unmarshal([]byte(raw), &data); err == nil {
		return data, true
	}

	start := strings.Index(raw, "{")
	end := strings.LastIndex(raw, "}")
	if start < 0 || end <= start {
		return nil, false
	}
	if err := json.Unmarshal([]byte(raw[start:end+1]), &data); err != nil {
		return nil, false
	}
	return data, true
}

// firstString resolves the first present string-valued key from candidates.
func firstString(data map[string]any, candidates []string) (string, bool) {
	for _, key := range candidates {
		if v, ok := data[key]; ok {
			if s, ok := v.(string); ok {
				return s, true
			}
		}
	}
	return "", false
}

// firstNumber resolves the first present numeric key from candidates.
// Missing keys and JSON nulls resolve to 0.
func firstNumber(data map[string]any, candidates []string) float64 {
	for _, key := range candidates {
		v, ok := data[key]
		if !ok || v == nil {
			continue
		}
		if f, ok := v.(float64); ok {
			return f
		}
	}
	return 0
}

// truncate shortens s to n characters on a rune boundary.
func truncate(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n])
}

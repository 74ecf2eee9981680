package claude

import (
	"strings"
	"testing"
	"unicode/utf8"
)

func TestParseOutput_FullJSON(t *testing.T) {
	t.Parallel()

	raw := `{"result":"hi there","session_id":"s1","total_cost_usd":0.05,"duration_ms":1500,"is_error":false}`
	resp := parseOutput(raw, "")

	if resp.Text != "hi there" {
		t.Errorf("Text = %q, want %q", resp.Text, "hi there")
	}
	if resp.SessionID != "s1" {
		t.Errorf("SessionID = %q, want %q", resp.SessionID, "s1")
	}
	if resp.CostUSD != 0.05 {
		t.Errorf("CostUSD = %v, want 0.05", resp.CostUSD)
	}
	if resp.DurationSecs != 1.5 {
		t.Errorf("DurationSecs = %v, want 1.5", resp.DurationSecs)
	}
	if resp.IsError {
		t.Error("IsError = true, want false")
	}
}

func TestParseOutput_EmbeddedJSON(t *testing.T) {
	t.Parallel()

	raw := "some log line\n{\"result\":\"recovered\",\"session_id\":\"s2\"}\ntrailing noise"
	resp := parseOutput(raw, "")

	if resp.Text != "recovered" {
		t.Errorf("Text = %q, want %q", resp.Text, "recovered")
	}
	if resp.SessionID != "s2" {
		t.Errorf("SessionID = %q, want %q", resp.SessionID, "s2")
	}
	if resp.IsError {
		t.Error("embedded-object recovery should not be an error")
	}
}

func TestParseOutput_PlainTextIsDegradedSuccess(t *testing.T) {
	t.Parallel()

	raw := "just some prose with no braces at all"
	resp := parseOutput(raw, "fallback")

	if resp.IsError {
		t.Error("plain text output must not be treated as an error")
	}
	if resp.Text != raw {
		t.Errorf("Text = %q, want raw output", resp.Text)
	}
	if resp.SessionID != "fallback" {
		t.Errorf("SessionID = %q, want fallback", resp.SessionID)
	}
	if resp.CostUSD != 0 || resp.DurationSecs != 0 {
		t.Errorf("cost/duration = %v/%v, want zero", resp.CostUSD, resp.DurationSecs)
	}
}

func TestParseOutput_PlainTextTruncatedTo2000(t *testing.T) {
	t.Parallel()

	raw := strings.Repeat("x", 5000)
	resp := parseOutput(raw, "")
	if len(resp.Text) != 2000 {
		t.Errorf("Text length = %d, want 2000", len(resp.Text))
	}
	if resp.IsError {
		t.Error("truncated plain text must not be an error")
	}
}

func TestParseOutput_TruncationKeepsValidUTF8(t *testing.T) {
	t.Parallel()

	raw := strings.Repeat("도", 3000)
	resp := parseOutput(raw, "")
	if !utf8.ValidString(resp.Text) {
		t.Fatal("truncated text is not valid UTF-8")
	}
	if n := utf8.RuneCountInString(resp.Text); n != 2000 {
		t.Errorf("Text rune count = %d, want 2000", n)
	}
}

func TestParseOutput_UnparseableBracesFallBackToRaw(t *testing.T) {
	t.Parallel()

	raw := "prefix {not valid json at all} suffix"
	resp := parseOutput(raw, "")
	if resp.IsError {
		t.Error("unparseable braces should degrade to raw text, not error")
	}
	if resp.Text != raw {
		t.Errorf("Text = %q, want raw output", resp.Text)
	}
}

func TestParseOutput_EmptyOutputIsError(t *testing.T) {
	t.Parallel()

	for _, raw := range []string{"", "   ", "\n\t\n"} {
		resp := parseOutput(raw, "keep-me")
		if !resp.IsError {
			t.Errorf("parseOutput(%q) should be an error", raw)
		}
		if resp.SessionID != "keep-me" {
			t.Errorf("SessionID = %q, want the fallback", resp.SessionID)
		}
		if resp.Text != "(No response from Claude)" {
			t.Errorf("Text = %q, want the no-response marker", resp.Text)
		}
	}
}

func TestParseOutput_FieldFallbacks(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name        string
		raw         string
		fallbackSID string
		wantText    string
		wantSID     string
		wantCost    float64
	}{
		{
			name:     "text field instead of result",
			raw:      `{"text":"from text field"}`,
			wantText: "from text field",
		},
		{
			name:     "cost_usd instead of total_cost_usd",
			raw:      `{"result":"ok","cost_usd":0.25}`,
			wantText: "ok",
			wantCost: 0.25,
		},
		{
			name:        "session id falls back to request",
			raw:         `{"result":"ok"}`,
			fallbackSID: "prev",
			wantText:    "ok",
			wantSID:     "prev",
		},
		{
			name:     "null cost treated as zero",
			raw:      `{"result":"ok","total_cost_usd":null}`,
			wantText: "ok",
		},
		{
			name:     "negative cost clamped to zero",
			raw:      `{"result":"ok","total_cost_usd":-0.5}`,
			wantText: "ok",
		},
		{
			name:     "payload session id wins over request",
			raw:      `{"result":"ok","session_id":"new"}`,
			wantText: "ok",
			wantSID:  "new",
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			resp := parseOutput(tt.raw, tt.fallbackSID)
			if resp.Text != tt.wantText {
				t.Errorf("Text = %q, want %q", resp.Text, tt.wantText)
			}
			if resp.SessionID != tt.wantSID {
				t.Errorf("SessionID = %q, want %q", resp.SessionID, tt.wantSID)
			}
			if resp.CostUSD != tt.wantCost {
				t.Errorf("CostUSD = %v, want %v", resp.CostUSD, tt.wantCost)
			}
		})
	}
}

func TestParseOutput_NoTextFieldStringifiesObject(t *testing.T) {
	t.Parallel()

	resp := parseOutput(`{"status":"done","session_id":"s9"}`, "")
	if !strings.Contains(resp.Text, `"status":"done"`) {
		t.Errorf("Text = %q, want the re-marshalled object", resp.Text)
	}
	if resp.SessionID != "s9" {
		t.Errorf("SessionID = %q, want %q", resp.SessionID, "s9")
	}
}

func TestParseOutput_IsErrorFlag(t *testing.T) {
	t.Parallel()

	resp := parseOutput(`{"result":"boom","is_error":true}`, "")
	if !resp.IsError {
		t.Error("is_error=true in the payload should set IsError")
	}
}

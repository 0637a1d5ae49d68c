package correlator

import "testing"

func TestParseProgress(t *testing.T) {
	tests := []struct {
		content string
		want    string
	}{
		{"**a cat** - <@123> (31%) (fast)", "31%"},
		{"**a cat** - <@123> (100%)", "100%"},
		{"**a cat** - <@123> (Waiting to start)", ""},
		{"no progress here", ""},
		{"(0%)", "0%"},
	}
	for _, tt := range tests {
		if got := ParseProgress(tt.content); got != tt.want {
			t.Errorf("ParseProgress(%q) = %q, want %q", tt.content, got, tt.want)
		}
	}
}

func TestInProgress(t *testing.T) {
	tests := []struct {
		content string
		want    bool
	}{
		{"**a cat** - <@123> (Waiting to start)", true},
		{"**a cat** - <@123> (Stopped)", true},
		{"**a cat** - <@123> (Paused)", true},
		{"**a cat** - <@123> (64%) (fast)", true},
		{"**a cat** - <@123> (fast)", false},
	}
	for _, tt := range tests {
		if got := InProgress(tt.content); got != tt.want {
			t.Errorf("InProgress(%q) = %v, want %v", tt.content, got, tt.want)
		}
	}
}

func TestParseContentPrompt(t *testing.T) {
	tests := []struct {
		content    string
		wantPrompt string
		wantStatus string
		wantOK     bool
	}{
		{
			content:    "**a red fox, watercolor --v 6** - <@111222333> (Waiting to start)",
			wantPrompt: "a red fox, watercolor --v 6",
			wantStatus: "Waiting to start",
			wantOK:     true,
		},
		{
			content:    "**a red fox** - Image #2 <@111222333> (fast)",
			wantPrompt: "a red fox",
			wantStatus: "fast",
			wantOK:     true,
		},
		{
			content:    "**a red fox** - Variations (Strong) by <@111222333> (relaxed)",
			wantPrompt: "a red fox",
			wantStatus: "relaxed",
			wantOK:     true,
		},
		{
			content: "plain message with no header",
			wantOK:  false,
		},
	}
	for _, tt := range tests {
		prompt, status, ok := ParseContentPrompt(tt.content)
		if ok != tt.wantOK || prompt != tt.wantPrompt || status != tt.wantStatus {
			t.Errorf("ParseContentPrompt(%q) = (%q, %q, %v), want (%q, %q, %v)",
				tt.content, prompt, status, ok, tt.wantPrompt, tt.wantStatus, tt.wantOK)
		}
	}
}

func TestParseMessageHash(t *testing.T) {
	tests := []struct {
		url  string
		want string
	}{
		{"https://cdn.discordapp.com/attachments/1/2/user_a_red_fox_0b0b4b7a-1111-2222-3333-444455556666.png", "0b0b4b7a-1111-2222-3333-444455556666"},
		{"https://cdn.discordapp.com/attachments/1/2/user_x_abc.png?ex=1&is=2", "abc"},
		{"https://cdn.discordapp.com/attachments/1/2/nounderscore.png", ""},
		{"", ""},
	}
	for _, tt := range tests {
		if got := ParseMessageHash(tt.url); got != tt.want {
			t.Errorf("ParseMessageHash(%q) = %q, want %q", tt.url, got, tt.want)
		}
	}
}

func TestPromptsMatch(t *testing.T) {
	tests := []struct {
		task, content string
		want          bool
	}{
		{"a red fox, watercolor", "a red fox, watercolor", true},
		{"A Red  Fox, watercolor", "a red fox, watercolor", true},
		{"https://example.com/ref.png a red fox", "a red fox", true},
		{"a red fox", "a red fox --v 6 --ar 2:3", true},
		{"a red fox", "a blue whale", false},
		{"", "a red fox", false},
		{"a red fox", "", false},
	}
	for _, tt := range tests {
		if got := PromptsMatch(tt.task, tt.content); got != tt.want {
			t.Errorf("PromptsMatch(%q, %q) = %v, want %v", tt.task, tt.content, got, tt.want)
		}
	}
}

func TestDedupKey(t *testing.T) {
	a := &EventData{ID: "m1", Type: EventUpdate, Content: "(10%)"}
	b := &EventData{ID: "m1", Type: EventUpdate, Content: "(10%)"}
	c := &EventData{ID: "m1", Type: EventUpdate, Content: "(20%)"}
	d := &EventData{ID: "m1", Type: EventCreate, Content: "(10%)"}
	if a.DedupKey() != b.DedupKey() {
		t.Error("identical events should share a dedup key")
	}
	if a.DedupKey() == c.DedupKey() {
		t.Error("successive edits must produce distinct keys")
	}
	if a.DedupKey() == d.DedupKey() {
		t.Error("event type must be part of the key")
	}
}

func TestFirstImageURL(t *testing.T) {
	e := &EventData{}
	if got := e.FirstImageURL(); got != "" {
		t.Errorf("empty attachments: got %q", got)
	}
	e.Attachments = []Attachment{{URL: "u1"}, {URL: "u2"}}
	if got := e.FirstImageURL(); got != "u1" {
		t.Errorf("got %q, want u1", got)
	}
}

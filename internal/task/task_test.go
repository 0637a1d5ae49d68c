package task

import (
	"strings"
	"testing"
)

func TestCanTransition(t *testing.T) {
	tests := []struct {
		from, to Status
		want     bool
	}{
		{StatusNotStart, StatusSubmitted, true},
		{StatusNotStart, StatusModal, true},
		{StatusModal, StatusNotStart, true},
		{StatusModal, StatusSubmitted, true},
		{StatusSubmitted, StatusInProgress, true},
		{StatusSubmitted, StatusModal, false},
		{StatusInProgress, StatusSuccess, true},
		{StatusInProgress, StatusFailure, true},
		{StatusInProgress, StatusSubmitted, false},
		{StatusInProgress, StatusNotStart, false},
		{StatusNotStart, StatusFailure, true},
		{StatusSuccess, StatusFailure, false},
		{StatusFailure, StatusSubmitted, false},
		{StatusCancel, StatusSuccess, false},
	}
	for _, tt := range tests {
		if got := CanTransition(tt.from, tt.to); got != tt.want {
			t.Errorf("CanTransition(%s, %s) = %v, want %v", tt.from, tt.to, got, tt.want)
		}
	}
}

func TestTransitionRejectsIllegalMove(t *testing.T) {
	tk := &Task{ID: "t1", Status: StatusInProgress}
	if err := tk.Transition(StatusSubmitted); err == nil {
		t.Fatal("expected error on IN_PROGRESS -> SUBMITTED")
	}
	if tk.Status != StatusInProgress {
		t.Errorf("status changed on rejected transition: %s", tk.Status)
	}
	if err := tk.Transition(StatusSuccess); err != nil {
		t.Fatalf("legal transition rejected: %v", err)
	}
}

func TestTerminal(t *testing.T) {
	for _, s := range []Status{StatusSuccess, StatusFailure, StatusCancel} {
		if !s.Terminal() {
			t.Errorf("%s should be terminal", s)
		}
	}
	for _, s := range []Status{StatusNotStart, StatusModal, StatusSubmitted, StatusInProgress} {
		if s.Terminal() {
			t.Errorf("%s should not be terminal", s)
		}
	}
}

func TestAppendImageURLDedup(t *testing.T) {
	tk := &Task{}
	tk.AppendImageURL("https://cdn.example/a.png")
	tk.AppendImageURL("https://cdn.example/b.png")
	tk.AppendImageURL("https://cdn.example/a.png")
	tk.AppendImageURL("")
	if len(tk.ImageURLs) != 2 {
		t.Fatalf("got %d urls, want 2: %v", len(tk.ImageURLs), tk.ImageURLs)
	}
	if tk.ImageURL != "https://cdn.example/a.png" {
		t.Errorf("ImageURL = %q, want last non-empty append", tk.ImageURL)
	}
}

func TestCloneDetachesSlices(t *testing.T) {
	tk := &Task{
		ID:        "t1",
		Status:    StatusInProgress,
		ImageURLs: []string{"a"},
		Buttons:   []Button{{CustomID: "MJ::JOB::upsample::1::h"}},
	}
	c := tk.Clone()
	c.ImageURLs[0] = "changed"
	c.Buttons[0].CustomID = "changed"
	if tk.ImageURLs[0] != "a" || tk.Buttons[0].CustomID == "changed" {
		t.Error("clone shares backing arrays with original")
	}
}

func TestNewIDMonotonicWithinProcess(t *testing.T) {
	a := NewID()
	b := NewID()
	if len(a) != 16 {
		t.Errorf("id length = %d, want 16 (%q)", len(a), a)
	}
	if a >= b {
		t.Errorf("ids not increasing: %q then %q", a, b)
	}
}

func TestNewNonceUnique(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		n := NewNonce()
		if n == "" || strings.HasPrefix(n, "-") {
			t.Fatalf("bad nonce %q", n)
		}
		if seen[n] {
			t.Fatalf("duplicate nonce %q", n)
		}
		seen[n] = true
	}
}

func TestSubmitResultOk(t *testing.T) {
	tests := []struct {
		code int
		want bool
	}{
		{CodeSuccess, true},
		{CodeInQueue, true},
		{CodeExisted, true},
		{CodeFailure, false},
		{CodeBannedPrompt, false},
		{CodeValidationError, false},
		{CodeNotFound, false},
	}
	for _, tt := range tests {
		r := NewSubmitResult(tt.code, "x")
		if got := r.Ok(); got != tt.want {
			t.Errorf("code %d: Ok() = %v, want %v", tt.code, got, tt.want)
		}
	}
}

func TestWithProperty(t *testing.T) {
	r := SubmitSuccess("t1").WithProperty("finalPrompt", "a cat").WithProperty("remix", true)
	if r.Properties["finalPrompt"] != "a cat" || r.Properties["remix"] != true {
		t.Errorf("properties not attached: %v", r.Properties)
	}
	if r.Result != "t1" {
		t.Errorf("Result = %q, want t1", r.Result)
	}
}

package orchestrator

import (
	"testing"

	"github.com/WGwuzhi/midjourney-proxy/internal/task"
)

func TestParseCustomID(t *testing.T) {
	tests := []struct {
		raw  string
		want ParsedCustomID
	}{
		{
			raw:  "MJ::JOB::upsample::2::aaa-bbb",
			want: ParsedCustomID{Kind: KindUpsample, Index: 2, Hash: "aaa-bbb"},
		},
		{
			raw:  "MJ::JOB::upsample_v6_2x_subtle::1::aaa-bbb",
			want: ParsedCustomID{Kind: KindUpsample, Index: 1, Hash: "aaa-bbb"},
		},
		{
			raw:  "MJ::JOB::variation::3::aaa-bbb",
			want: ParsedCustomID{Kind: KindVariation, Index: 3, Hash: "aaa-bbb"},
		},
		{
			raw:  "MJ::JOB::low_variation::1::aaa-bbb::SOLO",
			want: ParsedCustomID{Kind: KindLowVariation, Index: 1, Hash: "aaa-bbb", Solo: true},
		},
		{
			raw:  "MJ::JOB::high_variation::1::aaa-bbb",
			want: ParsedCustomID{Kind: KindHighVariation, Index: 1, Hash: "aaa-bbb"},
		},
		{
			raw:  "MJ::JOB::reroll::0::aaa-bbb::SOLO",
			want: ParsedCustomID{Kind: KindReroll, Index: 0, Hash: "aaa-bbb", Solo: true},
		},
		{
			raw:  "MJ::JOB::pan_left::2::aaa-bbb",
			want: ParsedCustomID{Kind: KindPan, Index: 2, Hash: "aaa-bbb", Dir: "left"},
		},
		{
			raw:  "MJ::JOB::PicReader::3",
			want: ParsedCustomID{Kind: KindPicReader, Index: 3},
		},
		{
			raw:  "MJ::JOB::PicReader::all",
			want: ParsedCustomID{Kind: KindPicReaderAll},
		},
		{
			raw:  "MJ::PromptAnalyzer::2",
			want: ParsedCustomID{Kind: KindPromptAnalyzer, Index: 2},
		},
		{
			raw:  "MJ::JOB::animate_high_motion::1::aaa-bbb",
			want: ParsedCustomID{Kind: KindVideo, Index: 1, Hash: "aaa-bbb"},
		},
		{
			raw:  "MJ::CustomZoom::aaa-bbb",
			want: ParsedCustomID{Kind: KindCustomZoom, Hash: "aaa-bbb"},
		},
		{
			raw:  "MJ::Outpaint::50::1::aaa-bbb::SOLO",
			want: ParsedCustomID{Kind: KindZoomOut, Hash: "aaa-bbb", Solo: true},
		},
		{
			raw:  "MJ::Inpaint::1::aaa-bbb::SOLO",
			want: ParsedCustomID{Kind: KindInpaint, Hash: "aaa-bbb", Solo: true},
		},
		{
			raw:  "MJ::BOOKMARK::aaa-bbb",
			want: ParsedCustomID{Kind: KindBookmark},
		},
		{
			raw:  "MJ::RemixModal::aaa-bbb::2::1",
			want: ParsedCustomID{Kind: KindRemixModal, Hash: "aaa-bbb", Index: 2},
		},
		{
			raw:  "MJ::PanModal::left::aaa-bbb::3",
			want: ParsedCustomID{Kind: KindPanModal, Dir: "left", Hash: "aaa-bbb", Index: 3},
		},
		{
			raw:  "MJ::ImagineModal::1234567890",
			want: ParsedCustomID{Kind: KindImagineModal},
		},
		{
			raw:  "not a custom id",
			want: ParsedCustomID{Kind: KindUnknown},
		},
		{
			raw:  "DISCORD::something",
			want: ParsedCustomID{Kind: KindUnknown},
		},
	}
	for _, tt := range tests {
		got := ParseCustomID(tt.raw)
		tt.want.Raw = tt.raw
		if got != tt.want {
			t.Errorf("ParseCustomID(%q) = %+v, want %+v", tt.raw, got, tt.want)
		}
	}
}

func TestChildAction(t *testing.T) {
	tests := []struct {
		raw  string
		want task.Action
	}{
		{"MJ::JOB::upsample::1::h", task.ActionUpscale},
		{"MJ::JOB::variation::1::h", task.ActionVariation},
		{"MJ::JOB::reroll::0::h::SOLO", task.ActionReroll},
		{"MJ::JOB::pan_down::1::h", task.ActionPan},
		{"MJ::JOB::PicReader::1", task.ActionShorten},
		{"MJ::CustomZoom::h", task.ActionZoom},
		{"MJ::Inpaint::1::h::SOLO", task.ActionInpaint},
		{"MJ::JOB::animate_low_motion::1::h", task.ActionVideo},
		{"MJ::BOOKMARK::h", task.ActionAction},
	}
	for _, tt := range tests {
		if got := ParseCustomID(tt.raw).ChildAction(); got != tt.want {
			t.Errorf("ChildAction(%q) = %s, want %s", tt.raw, got, tt.want)
		}
	}
}

func TestRemixCustomID(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		task    *task.Task
		highVar bool
		want    string
		wantErr bool
	}{
		{
			name: "pan rewrites to pan modal",
			raw:  "MJ::JOB::pan_left::3::aaa",
			task: &task.Task{},
			want: "MJ::PanModal::left::aaa::3",
		},
		{
			name: "variation default suffix",
			raw:  "MJ::JOB::variation::2::aaa",
			task: &task.Task{},
			want: "MJ::RemixModal::aaa::2::0",
		},
		{
			name:    "variation under high variability",
			raw:     "MJ::JOB::variation::2::aaa",
			task:    &task.Task{},
			highVar: true,
			want:    "MJ::RemixModal::aaa::2::1",
		},
		{
			name:    "low variation pins suffix regardless of setting",
			raw:     "MJ::JOB::low_variation::1::aaa",
			task:    &task.Task{},
			highVar: true,
			want:    "MJ::RemixModal::aaa::1::0",
		},
		{
			name: "high variation pins suffix",
			raw:  "MJ::JOB::high_variation::4::aaa",
			want: "MJ::RemixModal::aaa::4::1",
			task: &task.Task{},
		},
		{
			name: "first reroll uses imagine modal",
			raw:  "MJ::JOB::reroll::0::aaa::SOLO",
			task: &task.Task{Properties: task.Properties{MessageID: "msg1"}},
			want: "MJ::ImagineModal::msg1",
		},
		{
			name: "repeat reroll reuses recorded custom id",
			raw:  "MJ::JOB::reroll::0::aaa::SOLO",
			task: &task.Task{Properties: task.Properties{
				MessageID:     "msg1",
				RemixCustomID: "MJ::RemixModal::aaa::2::0",
			}},
			want: "MJ::RemixModal::aaa::2::0",
		},
		{
			name: "reroll after pan synthesizes from upsample button",
			raw:  "MJ::JOB::reroll::0::aaa::SOLO",
			task: &task.Task{Properties: task.Properties{
				RemixCustomID:  "MJ::PanModal::up::old::1",
				RemixUCustomID: "MJ::JOB::upsample::3::bbb",
			}},
			want: "MJ::PanModal::up::bbb::3",
		},
		{
			name: "reroll after pan without upsample lineage fails",
			raw:  "MJ::JOB::reroll::0::aaa::SOLO",
			task: &task.Task{Properties: task.Properties{
				RemixCustomID: "MJ::PanModal::up::old::1",
			}},
			wantErr: true,
		},
		{
			name:    "reroll without message id fails",
			raw:     "MJ::JOB::reroll::0::aaa::SOLO",
			task:    &task.Task{},
			wantErr: true,
		},
		{
			name:    "upsample has no remix rewrite",
			raw:     "MJ::JOB::upsample::1::aaa",
			task:    &task.Task{},
			wantErr: true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := remixCustomID(tt.task, ParseCustomID(tt.raw), tt.highVar)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("expected error, got %q", got)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tt.want {
				t.Errorf("got %q, want %q", got, tt.want)
			}
		})
	}
}

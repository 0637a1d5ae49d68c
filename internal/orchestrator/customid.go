package orchestrator

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/WGwuzhi/midjourney-proxy/internal/task"
)

// ButtonKind classifies a parsed button custom id.
type ButtonKind int

const (
	KindUnknown ButtonKind = iota
	KindUpsample
	KindVariation
	KindLowVariation
	KindHighVariation
	KindReroll
	KindPan
	KindPicReader
	KindPicReaderAll
	KindPromptAnalyzer
	KindCustomZoom
	KindZoomOut
	KindInpaint
	KindBookmark
	KindRemixModal
	KindPanModal
	KindImagineModal
	KindVideo
)

// ParsedCustomID is the decomposed button custom id grammar.
type ParsedCustomID struct {
	Raw   string
	Kind  ButtonKind
	Index int    // 1..4 where applicable
	Hash  string // grid image hash
	Dir   string // pan direction: left/right/up/down
	Solo  bool
}

// ParseCustomID decodes the button custom id grammar bit-exactly.
func ParseCustomID(raw string) ParsedCustomID {
	p := ParsedCustomID{Raw: raw, Kind: KindUnknown}
	parts := strings.Split(raw, "::")
	if len(parts) < 2 || parts[0] != "MJ" {
		return p
	}
	p.Solo = parts[len(parts)-1] == "SOLO"

	switch parts[1] {
	case "JOB", "Job":
		if len(parts) < 3 {
			return p
		}
		op := parts[2]
		switch {
		case op == "upsample" || strings.HasPrefix(op, "upsample_"):
			p.Kind = KindUpsample
			p.Index, p.Hash = indexHash(parts)
		case op == "variation":
			p.Kind = KindVariation
			p.Index, p.Hash = indexHash(parts)
		case op == "low_variation":
			p.Kind = KindLowVariation
			p.Index, p.Hash = indexHash(parts)
		case op == "high_variation":
			p.Kind = KindHighVariation
			p.Index, p.Hash = indexHash(parts)
		case op == "reroll":
			p.Kind = KindReroll
			p.Index, p.Hash = indexHash(parts)
		case strings.HasPrefix(op, "pan_"):
			p.Kind = KindPan
			p.Dir = strings.TrimPrefix(op, "pan_")
			p.Index, p.Hash = indexHash(parts)
		case op == "PicReader":
			if len(parts) > 3 && parts[3] == "all" {
				p.Kind = KindPicReaderAll
			} else {
				p.Kind = KindPicReader
				if len(parts) > 3 {
					p.Index, _ = strconv.Atoi(parts[3])
				}
			}
		case op == "PromptAnalyzer":
			p.Kind = KindPromptAnalyzer
			if len(parts) > 3 {
				p.Index, _ = strconv.Atoi(parts[3])
			}
		case strings.HasPrefix(op, "animate_"):
			p.Kind = KindVideo
			p.Index, p.Hash = indexHash(parts)
		}
	case "PromptAnalyzer":
		// MJ::PromptAnalyzer::{N} without the Job segment (shorten grids).
		p.Kind = KindPromptAnalyzer
		if len(parts) > 2 {
			p.Index, _ = strconv.Atoi(parts[2])
		}
	case "CustomZoom":
		p.Kind = KindCustomZoom
		if len(parts) > 2 {
			p.Hash = parts[2]
		}
	case "Outpaint":
		p.Kind = KindZoomOut
		if len(parts) > 4 {
			p.Hash = parts[4]
		}
	case "Inpaint":
		p.Kind = KindInpaint
		last := len(parts) - 1
		if p.Solo {
			last--
		}
		if last >= 2 {
			p.Hash = parts[last]
		}
	case "BOOKMARK":
		p.Kind = KindBookmark
	case "RemixModal":
		p.Kind = KindRemixModal
		if len(parts) > 3 {
			p.Hash = parts[2]
			p.Index, _ = strconv.Atoi(parts[3])
		}
	case "PanModal":
		p.Kind = KindPanModal
		if len(parts) > 4 {
			p.Dir = parts[2]
			p.Hash = parts[3]
			p.Index, _ = strconv.Atoi(parts[4])
		}
	case "ImagineModal":
		p.Kind = KindImagineModal
	}
	return p
}

// indexHash reads {index}::{hash} from positions 3 and 4 of a JOB custom id.
func indexHash(parts []string) (int, string) {
	var idx int
	var hash string
	if len(parts) > 3 {
		idx, _ = strconv.Atoi(parts[3])
	}
	if len(parts) > 4 {
		hash = parts[4]
	}
	return idx, hash
}

// Modal reports whether the button opens a confirm window.
func (p ParsedCustomID) Modal() bool {
	switch p.Kind {
	case KindCustomZoom, KindInpaint, KindPicReader, KindPicReaderAll, KindPromptAnalyzer:
		return true
	}
	return false
}

// ChildAction maps the parsed button to the follow-up task action.
func (p ParsedCustomID) ChildAction() task.Action {
	switch p.Kind {
	case KindUpsample:
		return task.ActionUpscale
	case KindVariation, KindLowVariation, KindHighVariation, KindRemixModal:
		return task.ActionVariation
	case KindReroll, KindImagineModal:
		return task.ActionReroll
	case KindPan, KindPanModal:
		return task.ActionPan
	case KindPicReader, KindPicReaderAll, KindPromptAnalyzer:
		return task.ActionShorten
	case KindCustomZoom, KindZoomOut:
		return task.ActionZoom
	case KindInpaint:
		return task.ActionInpaint
	case KindVideo:
		return task.ActionVideo
	default:
		return task.ActionAction
	}
}

// remixCustomID rewrites the stored button custom id into the second-phase
// modal custom id, rule-based per action.
//
//   - REROLL first time: MJ::ImagineModal::{messageId}; afterwards reuse the
//     recorded remix custom id; a previous PanModal synthesizes a fresh
//     MJ::PanModal from the parent's U-button custom id.
//   - VARIATION: MJ::RemixModal::{hash}::{index}::{suffix}; suffix is 1 when
//     High Variability is active; low/high variation buttons override it.
//   - PAN: MJ::PanModal::{dir}::{hash}::{index} from the button parts.
func remixCustomID(t *task.Task, parsed ParsedCustomID, highVariability bool) (string, error) {
	switch parsed.Kind {
	case KindPan:
		return fmt.Sprintf("MJ::PanModal::%s::%s::%d", parsed.Dir, parsed.Hash, parsed.Index), nil

	case KindLowVariation:
		return fmt.Sprintf("MJ::RemixModal::%s::%d::0", parsed.Hash, parsed.Index), nil
	case KindHighVariation:
		return fmt.Sprintf("MJ::RemixModal::%s::%d::1", parsed.Hash, parsed.Index), nil
	case KindVariation:
		suffix := 0
		if highVariability {
			suffix = 1
		}
		return fmt.Sprintf("MJ::RemixModal::%s::%d::%d", parsed.Hash, parsed.Index, suffix), nil

	case KindReroll:
		if prev := t.Properties.RemixCustomID; prev != "" {
			prevParsed := ParseCustomID(prev)
			if prevParsed.Kind == KindPanModal {
				u := ParseCustomID(t.Properties.RemixUCustomID)
				if u.Hash == "" {
					return "", fmt.Errorf("reroll after pan: missing upsample custom id")
				}
				return fmt.Sprintf("MJ::PanModal::%s::%s::%d", prevParsed.Dir, u.Hash, u.Index), nil
			}
			return prev, nil
		}
		if t.Properties.MessageID == "" {
			return "", fmt.Errorf("reroll remix: missing message id")
		}
		return "MJ::ImagineModal::" + t.Properties.MessageID, nil

	default:
		return "", fmt.Errorf("no remix rewrite for custom id %q", parsed.Raw)
	}
}

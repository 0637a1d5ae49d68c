// Package selector picks an eligible upstream instance for a submission,
// honoring capability, bot family, whitelist, backend and domain filters,
// then applying the configured account-choose rule.
package selector

import (
	"math/rand"
	"sort"

	"github.com/WGwuzhi/midjourney-proxy/internal/account"
	"github.com/WGwuzhi/midjourney-proxy/internal/instance"
	"github.com/WGwuzhi/midjourney-proxy/internal/task"
)

// Rule is the account selection policy.
type Rule string

const (
	RuleBestWaitIdle Rule = "BestWaitIdle"
	RuleRandom       Rule = "Random"
	RuleWeight       Rule = "Weight"
	RulePolling      Rule = "Polling"
)

// Capability names an optional account feature a submission needs.
type Capability string

const (
	CapNone     Capability = ""
	CapBlend    Capability = "blend"
	CapDescribe Capability = "describe"
	CapShorten  Capability = "shorten"
)

// Requirements describes what the submission needs from an account.
type Requirements struct {
	IsNewTask  bool
	Bot        task.BotFamily
	Capability Capability
	PreferMode task.Mode
	IsDomain   bool
	DomainIDs  []string
	Whitelist  []string           // allowed instance (channel) ids, empty = all
	Backend    task.BackendFamily // required backend family, "" = any
}

// Selector applies the configured rule over the instance manager.
type Selector struct {
	rule     Rule
	registry *account.Registry
	idleBias float64
}

// New builds a selector. idleBias weights coreSize headroom in BestWaitIdle;
// zero uses the default of 1.
func New(rule Rule, registry *account.Registry, idleBias float64) *Selector {
	if idleBias == 0 {
		idleBias = 1
	}
	return &Selector{rule: rule, registry: registry, idleBias: idleBias}
}

// Choose returns an eligible instance or nil when none qualifies.
func (s *Selector) Choose(mgr *instance.Manager, req Requirements) *instance.Instance {
	survivors := s.filter(mgr, req)
	if len(survivors) == 0 {
		return nil
	}

	switch s.rule {
	case RuleRandom:
		return survivors[rand.Intn(len(survivors))]
	case RuleWeight:
		return chooseWeighted(survivors)
	case RulePolling:
		// Round-robin needs a stable ordering; All() iterates a map.
		sort.Slice(survivors, func(x, y int) bool {
			return survivors[x].ChannelID() < survivors[y].ChannelID()
		})
		return survivors[int(s.registry.NextPoll())%len(survivors)]
	default:
		return chooseBestWaitIdle(survivors, s.idleBias)
	}
}

func (s *Selector) filter(mgr *instance.Manager, req Requirements) []*instance.Instance {
	var out []*instance.Instance
	for _, inst := range mgr.All() {
		a := inst.Account()
		if req.IsNewTask && !inst.IsAcceptNewTask() {
			continue
		}
		if req.Bot != "" && !a.SupportsBot(req.Bot) {
			continue
		}
		if !capabilityOK(a, req.Capability) {
			continue
		}
		if req.Backend != "" && a.BackendFamily != req.Backend {
			continue
		}
		if len(req.Whitelist) > 0 && !inList(req.Whitelist, a.ChannelID) {
			continue
		}
		if req.PreferMode != "" && !a.AllowsMode(req.PreferMode) {
			continue
		}
		if req.IsDomain && len(req.DomainIDs) > 0 && !a.HasVerticalDomain(req.DomainIDs) {
			continue
		}
		out = append(out, inst)
	}
	return out
}

func capabilityOK(a *account.Account, c Capability) bool {
	switch c {
	case CapBlend:
		return a.IsBlend
	case CapDescribe:
		return a.IsDescribe
	case CapShorten:
		return a.IsShorten
	default:
		return true
	}
}

func inList(list []string, v string) bool {
	for _, x := range list {
		if x == v {
			return true
		}
	}
	return false
}

// chooseBestWaitIdle minimizes (queued + running − coreSize × idleBias);
// ties break by (−weight, sort, channelId) for determinism.
func chooseBestWaitIdle(survivors []*instance.Instance, idleBias float64) *instance.Instance {
	sort.SliceStable(survivors, func(x, y int) bool {
		a, b := survivors[x], survivors[y]
		sa := score(a, idleBias)
		sb := score(b, idleBias)
		if sa != sb {
			return sa < sb
		}
		if a.Account().Weight != b.Account().Weight {
			return a.Account().Weight > b.Account().Weight
		}
		if a.Account().Sort != b.Account().Sort {
			return a.Account().Sort < b.Account().Sort
		}
		return a.ChannelID() < b.ChannelID()
	})
	return survivors[0]
}

func score(inst *instance.Instance, idleBias float64) float64 {
	return float64(inst.TotalLoad()) - float64(inst.Account().CoreSize)*idleBias
}

func chooseWeighted(survivors []*instance.Instance) *instance.Instance {
	total := 0
	for _, inst := range survivors {
		w := inst.Account().Weight
		if w <= 0 {
			w = 1
		}
		total += w
	}
	n := rand.Intn(total)
	for _, inst := range survivors {
		w := inst.Account().Weight
		if w <= 0 {
			w = 1
		}
		if n < w {
			return inst
		}
		n -= w
	}
	return survivors[len(survivors)-1]
}

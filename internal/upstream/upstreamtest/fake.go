// Package upstreamtest provides a scriptable Sender for tests.
package upstreamtest

import (
	"context"
	"sync"

	"github.com/WGwuzhi/midjourney-proxy/internal/task"
	"github.com/WGwuzhi/midjourney-proxy/internal/upstream"
)

// Call records one invocation of a send primitive.
type Call struct {
	Method   string
	Prompt   string
	CustomID string
	Nonce    string
	Value    string
	Bot      task.BotFamily
}

// Fake is an in-memory Sender. Every primitive returns Reply (success by
// default) unless a per-method override is registered with Script.
type Fake struct {
	mu      sync.Mutex
	calls   []Call
	Reply   task.Message
	scripts map[string]func(Call) task.Message

	// UploadName is returned by UploadFile; URL by SendImageMessage.
	UploadName string
	URL        string
}

var _ upstream.Sender = (*Fake)(nil)

// NewFake returns a Fake whose primitives all succeed.
func NewFake() *Fake {
	return &Fake{
		Reply:      task.MessageSuccess(),
		scripts:    make(map[string]func(Call) task.Message),
		UploadName: "upload/0/file.png",
		URL:        "https://cdn.example/file.png",
	}
}

// Script overrides the reply for one method name.
func (f *Fake) Script(method string, fn func(Call) task.Message) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.scripts[method] = fn
}

// Calls returns a snapshot of recorded invocations.
func (f *Fake) Calls() []Call {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Call(nil), f.calls...)
}

// CallsTo returns the recorded invocations of one method.
func (f *Fake) CallsTo(method string) []Call {
	var out []Call
	for _, c := range f.Calls() {
		if c.Method == method {
			out = append(out, c)
		}
	}
	return out
}

func (f *Fake) record(c Call) task.Message {
	f.mu.Lock()
	f.calls = append(f.calls, c)
	fn := f.scripts[c.Method]
	reply := f.Reply
	f.mu.Unlock()
	if fn != nil {
		return fn(c)
	}
	return reply
}

func (f *Fake) Imagine(_ context.Context, prompt, nonce string, bot task.BotFamily) task.Message {
	return f.record(Call{Method: "Imagine", Prompt: prompt, Nonce: nonce, Bot: bot})
}

func (f *Fake) Upscale(_ context.Context, messageID string, index int, hash string, _ int64, nonce string, bot task.BotFamily) task.Message {
	return f.record(Call{Method: "Upscale", Value: messageID, CustomID: hash, Nonce: nonce, Bot: bot})
}

func (f *Fake) Variation(_ context.Context, messageID string, index int, hash string, _ int64, nonce string, bot task.BotFamily) task.Message {
	return f.record(Call{Method: "Variation", Value: messageID, CustomID: hash, Nonce: nonce, Bot: bot})
}

func (f *Fake) Reroll(_ context.Context, messageID, hash string, _ int64, nonce string, bot task.BotFamily) task.Message {
	return f.record(Call{Method: "Reroll", Value: messageID, CustomID: hash, Nonce: nonce, Bot: bot})
}

func (f *Fake) Action(_ context.Context, messageID, customID string, _ int64, nonce string, bot task.BotFamily) task.Message {
	return f.record(Call{Method: "Action", Value: messageID, CustomID: customID, Nonce: nonce, Bot: bot})
}

func (f *Fake) Modal(_ context.Context, req upstream.ModalRequest) task.Message {
	return f.record(Call{Method: "Modal", Value: req.MessageID, CustomID: req.CustomID, Prompt: req.Prompt, Nonce: req.Nonce, Bot: req.Bot})
}

func (f *Fake) InpaintModal(_ context.Context, req upstream.ModalRequest) task.Message {
	return f.record(Call{Method: "InpaintModal", Value: req.MessageID, CustomID: req.CustomID, Prompt: req.Prompt, Nonce: req.Nonce, Bot: req.Bot})
}

func (f *Fake) Describe(_ context.Context, uploadName, nonce string, bot task.BotFamily) task.Message {
	return f.record(Call{Method: "Describe", Value: uploadName, Nonce: nonce, Bot: bot})
}

func (f *Fake) DescribeByLink(_ context.Context, link, nonce string, bot task.BotFamily) task.Message {
	return f.record(Call{Method: "DescribeByLink", Value: link, Nonce: nonce, Bot: bot})
}

func (f *Fake) Blend(_ context.Context, uploadNames []string, dimensions, nonce string, bot task.BotFamily) task.Message {
	return f.record(Call{Method: "Blend", Value: dimensions, Nonce: nonce, Bot: bot})
}

func (f *Fake) Shorten(_ context.Context, prompt, nonce string, bot task.BotFamily) task.Message {
	return f.record(Call{Method: "Shorten", Prompt: prompt, Nonce: nonce, Bot: bot})
}

func (f *Fake) Edit(_ context.Context, prompt, nonce string, bot task.BotFamily) task.Message {
	return f.record(Call{Method: "Edit", Prompt: prompt, Nonce: nonce, Bot: bot})
}

func (f *Fake) Retexture(_ context.Context, prompt, nonce string, bot task.BotFamily) task.Message {
	return f.record(Call{Method: "Retexture", Prompt: prompt, Nonce: nonce, Bot: bot})
}

func (f *Fake) Settings(_ context.Context, channelID, nonce string, bot task.BotFamily) task.Message {
	return f.record(Call{Method: "Settings", Value: channelID, Nonce: nonce, Bot: bot})
}

func (f *Fake) Info(_ context.Context, channelID, nonce string, bot task.BotFamily) task.Message {
	return f.record(Call{Method: "Info", Value: channelID, Nonce: nonce, Bot: bot})
}

func (f *Fake) SettingSelect(_ context.Context, messageID, customID, value, nonce string, bot task.BotFamily) task.Message {
	return f.record(Call{Method: "SettingSelect", Value: value, CustomID: customID, Nonce: nonce, Bot: bot})
}

func (f *Fake) SettingButton(_ context.Context, messageID, customID, nonce string, bot task.BotFamily) task.Message {
	return f.record(Call{Method: "SettingButton", Value: messageID, CustomID: customID, Nonce: nonce, Bot: bot})
}

func (f *Fake) ShowJob(_ context.Context, channelID, jobID, nonce string, bot task.BotFamily) task.Message {
	return f.record(Call{Method: "ShowJob", Value: jobID, Nonce: nonce, Bot: bot})
}

func (f *Fake) SeedReact(_ context.Context, channelID, messageID string) task.Message {
	return f.record(Call{Method: "SeedReact", Value: messageID})
}

func (f *Fake) UploadFile(_ context.Context, fileName string, data []byte) (string, error) {
	f.record(Call{Method: "UploadFile", Value: fileName})
	return f.UploadName, nil
}

func (f *Fake) SendImageMessage(_ context.Context, content, uploadName string) (string, error) {
	f.record(Call{Method: "SendImageMessage", Value: uploadName})
	return f.URL, nil
}

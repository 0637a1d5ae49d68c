// Package relay implements the partner and official cloud backends: commands
// become HTTP JSON calls against the account's api base, and a poller folds
// the remote task state back into the correlator.
package relay

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/WGwuzhi/midjourney-proxy/internal/account"
	"github.com/WGwuzhi/midjourney-proxy/internal/task"
	"github.com/WGwuzhi/midjourney-proxy/internal/upstream"
)

// Client sends commands for one partner or official account.
type Client struct {
	account *account.Account
	http    *http.Client
	pending *Pending
}

// New builds a relay client. The pending table is shared with the poller.
func New(a *account.Account, pending *Pending) *Client {
	return &Client{
		account: a,
		http:    &http.Client{Timeout: 60 * time.Second},
		pending: pending,
	}
}

// submitResponse is the remote submit envelope; codes match ours.
type submitResponse struct {
	Code        int    `json:"code"`
	Description string `json:"description"`
	Result      string `json:"result"`
}

// call posts a JSON body and decodes the submit envelope.
func (c *Client) call(ctx context.Context, path string, body any) (*submitResponse, error) {
	raw, err := json.Marshal(body)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.account.APIURL+path, bytes.NewReader(raw))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.account.APISecret != "" {
		req.Header.Set("mj-api-secret", c.account.APISecret)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("post %s: %w", path, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return nil, fmt.Errorf("post %s: status %d", path, resp.StatusCode)
	}
	var out submitResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode %s response: %w", path, err)
	}
	return &out, nil
}

// submit runs a remote submit and registers the returned remote task id
// against the local nonce for the poller.
func (c *Client) submit(ctx context.Context, path, nonce string, body any) task.Message {
	resp, err := c.call(ctx, path, body)
	if err != nil {
		return task.MessageFailure(err.Error())
	}
	if resp.Code == task.CodeSuccess || resp.Code == task.CodeExisted || resp.Code == task.CodeInQueue {
		c.pending.Add(resp.Result, c.account.ChannelID, nonce)
	}
	return task.Message{Code: resp.Code, Description: resp.Description}
}

func (c *Client) Imagine(ctx context.Context, prompt, nonce string, bot task.BotFamily) task.Message {
	return c.submit(ctx, "/mj/submit/imagine", nonce, map[string]any{
		"prompt": prompt, "botType": bot,
	})
}

func (c *Client) Upscale(ctx context.Context, messageID string, index int, hash string, flags int64, nonce string, bot task.BotFamily) task.Message {
	return c.Action(ctx, messageID, fmt.Sprintf("MJ::JOB::upsample::%d::%s", index, hash), flags, nonce, bot)
}

func (c *Client) Variation(ctx context.Context, messageID string, index int, hash string, flags int64, nonce string, bot task.BotFamily) task.Message {
	return c.Action(ctx, messageID, fmt.Sprintf("MJ::JOB::variation::%d::%s", index, hash), flags, nonce, bot)
}

func (c *Client) Reroll(ctx context.Context, messageID, hash string, flags int64, nonce string, bot task.BotFamily) task.Message {
	return c.Action(ctx, messageID, fmt.Sprintf("MJ::JOB::reroll::0::%s::SOLO", hash), flags, nonce, bot)
}

func (c *Client) Action(ctx context.Context, messageID, customID string, flags int64, nonce string, bot task.BotFamily) task.Message {
	return c.submit(ctx, "/mj/submit/action", nonce, map[string]any{
		"messageId": messageID, "customId": customID, "flags": flags, "botType": bot,
	})
}

func (c *Client) Modal(ctx context.Context, req upstream.ModalRequest) task.Message {
	return c.submit(ctx, "/mj/submit/modal", req.Nonce, map[string]any{
		"messageId": req.MessageID, "customId": req.CustomID,
		"prompt": req.Prompt, "botType": req.Bot,
	})
}

func (c *Client) InpaintModal(ctx context.Context, req upstream.ModalRequest) task.Message {
	return c.submit(ctx, "/mj/submit/modal", req.Nonce, map[string]any{
		"messageId": req.MessageID, "customId": req.CustomID,
		"prompt": req.Prompt, "maskBase64": req.MaskBase64, "botType": req.Bot,
	})
}

func (c *Client) Describe(ctx context.Context, uploadName, nonce string, bot task.BotFamily) task.Message {
	return c.submit(ctx, "/mj/submit/describe", nonce, map[string]any{
		"image": uploadName, "botType": bot,
	})
}

func (c *Client) DescribeByLink(ctx context.Context, link, nonce string, bot task.BotFamily) task.Message {
	return c.submit(ctx, "/mj/submit/describe", nonce, map[string]any{
		"link": link, "botType": bot,
	})
}

func (c *Client) Blend(ctx context.Context, uploadNames []string, dimensions, nonce string, bot task.BotFamily) task.Message {
	return c.submit(ctx, "/mj/submit/blend", nonce, map[string]any{
		"images": uploadNames, "dimensions": dimensions, "botType": bot,
	})
}

func (c *Client) Shorten(ctx context.Context, prompt, nonce string, bot task.BotFamily) task.Message {
	return c.submit(ctx, "/mj/submit/shorten", nonce, map[string]any{
		"prompt": prompt, "botType": bot,
	})
}

func (c *Client) Edit(ctx context.Context, prompt, nonce string, bot task.BotFamily) task.Message {
	return c.submit(ctx, "/mj/submit/edit", nonce, map[string]any{
		"prompt": prompt, "botType": bot,
	})
}

func (c *Client) Retexture(ctx context.Context, prompt, nonce string, bot task.BotFamily) task.Message {
	return c.submit(ctx, "/mj/submit/retexture", nonce, map[string]any{
		"prompt": prompt, "botType": bot,
	})
}

func (c *Client) Settings(ctx context.Context, channelID, nonce string, bot task.BotFamily) task.Message {
	return c.submit(ctx, "/mj/account/settings", nonce, map[string]any{
		"channelId": channelID, "botType": bot,
	})
}

func (c *Client) Info(ctx context.Context, channelID, nonce string, bot task.BotFamily) task.Message {
	return c.submit(ctx, "/mj/account/info", nonce, map[string]any{
		"channelId": channelID, "botType": bot,
	})
}

func (c *Client) SettingSelect(ctx context.Context, messageID, customID, value, nonce string, bot task.BotFamily) task.Message {
	return c.submit(ctx, "/mj/account/setting-select", nonce, map[string]any{
		"messageId": messageID, "customId": customID, "value": value, "botType": bot,
	})
}

func (c *Client) SettingButton(ctx context.Context, messageID, customID, nonce string, bot task.BotFamily) task.Message {
	return c.submit(ctx, "/mj/account/setting-button", nonce, map[string]any{
		"messageId": messageID, "customId": customID, "botType": bot,
	})
}

func (c *Client) ShowJob(ctx context.Context, channelID, jobID, nonce string, bot task.BotFamily) task.Message {
	return c.submit(ctx, "/mj/submit/show", nonce, map[string]any{
		"channelId": channelID, "jobId": jobID, "botType": bot,
	})
}

func (c *Client) SeedReact(ctx context.Context, channelID, messageID string) task.Message {
	resp, err := c.call(ctx, "/mj/submit/seed-react", map[string]any{
		"channelId": channelID, "messageId": messageID,
	})
	if err != nil {
		return task.MessageFailure(err.Error())
	}
	return task.Message{Code: resp.Code, Description: resp.Description}
}

// UploadFile re-hosts the bytes through the remote upload endpoint, which
// answers with an http URL.
func (c *Client) UploadFile(ctx context.Context, fileName string, data []byte) (string, error) {
	url := fmt.Sprintf("%s/mj/upload?filename=%s", c.account.APIURL, fileName)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(data))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/octet-stream")
	if c.account.APISecret != "" {
		req.Header.Set("mj-api-secret", c.account.APISecret)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("upload %s: %w", fileName, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return "", fmt.Errorf("upload %s: status %d", fileName, resp.StatusCode)
	}
	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", err
	}
	var out submitResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return "", fmt.Errorf("decode upload response: %w", err)
	}
	if out.Code != task.CodeSuccess {
		return "", fmt.Errorf("upload %s: %s", fileName, out.Description)
	}
	return out.Result, nil
}

// SendImageMessage is a no-op for relay backends: UploadFile already returns
// a public URL, so the instance never needs a second hop.
func (c *Client) SendImageMessage(_ context.Context, _, uploadName string) (string, error) {
	return uploadName, nil
}

package discord

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"path"

	"github.com/bwmarrin/discordgo"
)

// attachmentSlot is one pre-signed upload slot issued by the attachments
// endpoint.
type attachmentSlot struct {
	UploadURL      string `json:"upload_url"`
	UploadFilename string `json:"upload_filename"`
}

type attachmentSlotsResponse struct {
	Attachments []attachmentSlot `json:"attachments"`
}

// UploadFile reserves an upload slot, PUTs the bytes to the signed URL and
// returns the upload handle for use in command attachments.
func (c *Client) UploadFile(ctx context.Context, fileName string, data []byte) (string, error) {
	endpoint := discordgo.EndpointChannel(c.account.ChannelID) + "/attachments"
	payload := map[string]any{
		"files": []map[string]any{{
			"filename":  fileName,
			"file_size": len(data),
			"id":        "0",
		}},
	}
	raw, err := c.session.RequestWithBucketID(http.MethodPost, endpoint, payload, endpoint)
	if err != nil {
		return "", fmt.Errorf("reserve upload slot: %w", err)
	}
	var slots attachmentSlotsResponse
	if err := json.Unmarshal(raw, &slots); err != nil {
		return "", fmt.Errorf("decode upload slot: %w", err)
	}
	if len(slots.Attachments) == 0 {
		return "", fmt.Errorf("no upload slot granted for %s", fileName)
	}
	slot := slots.Attachments[0]

	req, err := http.NewRequestWithContext(ctx, http.MethodPut, slot.UploadURL, bytes.NewReader(data))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/octet-stream")
	resp, err := c.rest.Do(req)
	if err != nil {
		return "", fmt.Errorf("put upload bytes: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return "", fmt.Errorf("put upload bytes: status %d", resp.StatusCode)
	}
	return slot.UploadFilename, nil
}

// SendImageMessage posts the uploaded file into the channel and returns the
// resulting CDN attachment URL.
func (c *Client) SendImageMessage(_ context.Context, content, uploadName string) (string, error) {
	endpoint := discordgo.EndpointChannelMessages(c.account.ChannelID)
	payload := map[string]any{
		"content": content,
		"attachments": []map[string]any{{
			"id":                "0",
			"filename":          path.Base(uploadName),
			"uploaded_filename": uploadName,
		}},
	}
	raw, err := c.session.RequestWithBucketID(http.MethodPost, endpoint, payload, endpoint)
	if err != nil {
		return "", fmt.Errorf("send image message: %w", err)
	}
	var msg struct {
		Attachments []struct {
			URL string `json:"url"`
		} `json:"attachments"`
	}
	if err := json.Unmarshal(raw, &msg); err != nil {
		return "", fmt.Errorf("decode image message: %w", err)
	}
	if len(msg.Attachments) == 0 {
		return "", fmt.Errorf("image message has no attachment")
	}
	return msg.Attachments[0].URL, nil
}

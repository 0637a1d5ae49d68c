package orchestrator

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/disintegration/imaging"
	"github.com/google/uuid"

	"github.com/WGwuzhi/midjourney-proxy/internal/config"
	"github.com/WGwuzhi/midjourney-proxy/internal/instance"
	"github.com/WGwuzhi/midjourney-proxy/internal/task"
)

// uploader implements the per-image upload sub-protocol: http(s) links pass
// through or get re-hosted; data URLs decode and upload through the backend
// primitive, falling back to send-image for backends that return bare
// upload handles.
type uploader struct {
	cfg    *config.Config
	client *http.Client
}

func newUploader(cfg *config.Config) *uploader {
	timeout := time.Duration(cfg.Proxy.FetchTimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &uploader{cfg: cfg, client: &http.Client{Timeout: timeout}}
}

// uploadAll resolves every entry to an http(s) URL, preserving order.
func (u *uploader) uploadAll(ctx context.Context, inst *instance.Instance, images []string) ([]string, error) {
	urls := make([]string, 0, len(images))
	for _, img := range images {
		var (
			url string
			err error
		)
		if isHTTPURL(img) {
			url, err = u.resolveLink(ctx, inst, img)
		} else {
			url, err = u.uploadAndLink(ctx, inst, img)
		}
		if err != nil {
			return nil, err
		}
		urls = append(urls, url)
	}
	return urls, nil
}

// resolveLink handles http(s) inputs. Partner accounts re-host by refetching
// the bytes and uploading; chat accounts pass the link through unless the
// config forces re-hosting.
func (u *uploader) resolveLink(ctx context.Context, inst *instance.Instance, link string) (string, error) {
	rehost := inst.Account().BackendFamily == task.BackendPartner
	if u.cfg.EnableSaveUserUploadLink {
		rehost = true
	}
	if !rehost {
		return link, nil
	}

	data, contentType, err := u.fetch(ctx, link)
	if err != nil {
		// Re-hosting is best effort for links; fall back to the original.
		return link, nil
	}
	name, err := inst.Sender().UploadFile(ctx, uploadFileName(contentType), data)
	if err != nil {
		return "", fmt.Errorf("rehost %s: %w", link, err)
	}
	if isHTTPURL(name) {
		return name, nil
	}
	return inst.Sender().SendImageMessage(ctx, "upload image", name)
}

// uploadAndLink decodes a data URL, uploads, and resolves to an http URL.
func (u *uploader) uploadAndLink(ctx context.Context, inst *instance.Instance, dataURL string) (string, error) {
	name, err := u.uploadDataURL(ctx, inst, dataURL)
	if err != nil {
		return "", err
	}
	if isHTTPURL(name) {
		return name, nil
	}
	return inst.Sender().SendImageMessage(ctx, "upload image", name)
}

// uploadDataURL decodes the base64 body and calls the backend upload
// primitive, returning the upload handle (or URL for re-hosting backends).
func (u *uploader) uploadDataURL(ctx context.Context, inst *instance.Instance, dataURL string) (string, error) {
	if isHTTPURL(dataURL) {
		data, contentType, err := u.fetch(ctx, dataURL)
		if err != nil {
			return "", err
		}
		return inst.Sender().UploadFile(ctx, uploadFileName(contentType), data)
	}

	if !u.cfg.EnableUserCustomUploadBase64 {
		return "", fmt.Errorf("base64 uploads are disabled")
	}
	mime, data, err := decodeDataURL(dataURL)
	if err != nil {
		return "", err
	}
	return inst.Sender().UploadFile(ctx, uploadFileName(mime), data)
}

func (u *uploader) fetch(ctx context.Context, link string) ([]byte, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, link, nil)
	if err != nil {
		return nil, "", err
	}
	resp, err := u.client.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("fetch %s: %w", link, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, "", fmt.Errorf("fetch %s: status %d", link, resp.StatusCode)
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, 32<<20))
	if err != nil {
		return nil, "", err
	}
	return data, resp.Header.Get("Content-Type"), nil
}

// decodeDataURL splits "data:image/png;base64,...." into MIME and bytes.
func decodeDataURL(dataURL string) (mime string, data []byte, err error) {
	if !strings.HasPrefix(dataURL, "data:") {
		return "", nil, fmt.Errorf("not a data URL")
	}
	comma := strings.IndexByte(dataURL, ',')
	if comma < 0 {
		return "", nil, fmt.Errorf("malformed data URL")
	}
	meta := dataURL[len("data:"):comma]
	mime = strings.TrimSuffix(meta, ";base64")
	data, err = base64.StdEncoding.DecodeString(dataURL[comma+1:])
	if err != nil {
		return "", nil, fmt.Errorf("decode base64 body: %w", err)
	}
	return mime, data, nil
}

// uploadFileName builds a random file name with a suffix guessed from MIME.
func uploadFileName(mime string) string {
	suffix := "png"
	if i := strings.IndexByte(mime, '/'); i >= 0 {
		s := mime[i+1:]
		if j := strings.IndexByte(s, ';'); j >= 0 {
			s = s[:j]
		}
		switch s {
		case "jpeg":
			suffix = "jpg"
		case "":
		default:
			suffix = s
		}
	}
	return uuid.NewString() + "." + suffix
}

// detectDimensions picks the blend dimension from the first image's aspect
// ratio. Undecodable input defaults to SQUARE.
func (u *uploader) detectDimensions(dataURL string) string {
	_, data, err := decodeDataURL(dataURL)
	if err != nil {
		return "SQUARE"
	}
	img, err := imaging.Decode(bytes.NewReader(data))
	if err != nil {
		return "SQUARE"
	}
	b := img.Bounds()
	switch {
	case b.Dy() > b.Dx()*5/4:
		return "PORTRAIT"
	case b.Dx() > b.Dy()*5/4:
		return "LANDSCAPE"
	default:
		return "SQUARE"
	}
}

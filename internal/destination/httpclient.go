package destination

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const defaultUploadTimeout = 5 * time.Minute

// HTTPClient implements Client against a platform upload gateway speaking
// JSON. The gateway owns the platform's native upload protocol; this side
// only hands over the video reference and the mapped fields.
type HTTPClient struct {
	baseURL string
	httpc   *http.Client
}

func NewHTTPClient(baseURL string, timeout time.Duration) *HTTPClient {
	if timeout <= 0 {
		timeout = defaultUploadTimeout
	}

	return &HTTPClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpc:   &http.Client{Timeout: timeout},
	}
}

type uploadPayload struct {
	VideoID   string            `json:"video_id"`
	Title     string            `json:"title"`
	SizeBytes int64             `json:"size_bytes"`
	Fields    map[string]string `json:"fields,omitempty"`
}

type uploadResponse struct {
	ID string `json:"id"`
}

type statusResponse struct {
	ID     string `json:"id"`
	Status string `json:"status"`
}

func (c *HTTPClient) Upload(ctx context.Context, accessToken string, req *UploadRequest) (string, error) {
	payload, err := json.Marshal(uploadPayload{
		VideoID:   req.VideoID,
		Title:     req.Title,
		SizeBytes: req.SizeBytes,
		Fields:    req.Fields,
	})
	if err != nil {
		return "", fmt.Errorf("failed to encode upload request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/uploads", bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("failed to build upload request: %w", err)
	}
	httpReq.Header.Set("Authorization", "Bearer "+accessToken)
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpc.Do(httpReq)
	if err != nil {
		return "", &TransientError{Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", &TransientError{Err: fmt.Errorf("failed to read upload response: %w", err)}
	}

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		var out uploadResponse
		if err := json.Unmarshal(body, &out); err != nil {
			return "", fmt.Errorf("failed to decode upload response: %w", err)
		}
		if out.ID == "" {
			return "", fmt.Errorf("upload response carries no id")
		}
		return out.ID, nil

	case resp.StatusCode == http.StatusUnauthorized:
		return "", &AuthError{Err: fmt.Errorf("upload rejected: %s", strings.TrimSpace(string(body)))}

	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return "", &TransientError{Err: fmt.Errorf("upload failed with status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))}

	default:
		return "", fmt.Errorf("upload failed with status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
}

// Status queries the gateway for the platform's processing state of an
// accepted upload.
func (c *HTTPClient) Status(ctx context.Context, accessToken, externalID string) (string, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/uploads/"+externalID, nil)
	if err != nil {
		return "", fmt.Errorf("failed to build status request: %w", err)
	}
	httpReq.Header.Set("Authorization", "Bearer "+accessToken)

	resp, err := c.httpc.Do(httpReq)
	if err != nil {
		return "", &TransientError{Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", &TransientError{Err: fmt.Errorf("failed to read status response: %w", err)}
	}

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		var out statusResponse
		if err := json.Unmarshal(body, &out); err != nil {
			return "", fmt.Errorf("failed to decode status response: %w", err)
		}
		if out.Status == "" {
			return "", fmt.Errorf("status response carries no status")
		}
		return out.Status, nil

	case resp.StatusCode == http.StatusUnauthorized:
		return "", &AuthError{Err: fmt.Errorf("status rejected: %s", strings.TrimSpace(string(body)))}

	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return "", &TransientError{Err: fmt.Errorf("status failed with status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))}

	default:
		return "", fmt.Errorf("status failed with status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
}

package room

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

// LifecycleClient talks to the external session-lifecycle endpoints.
// Only the end-session operation matters to the room; start/booking happen
// before a room ever exists.
type LifecycleClient struct {
	logger     *slog.Logger
	baseURL    string
	httpClient *http.Client
}

func NewLifecycleClient(baseURL string, httpClient *http.Client, logger *slog.Logger) *LifecycleClient {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 15 * time.Second}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &LifecycleClient{
		logger:     logger,
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: httpClient,
	}
}

// EndSession asks the lifecycle service to end the session server-side.
// A non-2xx response is an error: the caller surfaces it and aborts
// teardown, leaving room state unchanged.
func (c *LifecycleClient) EndSession(ctx context.Context, sessionID, token string) error {
	url := fmt.Sprintf("%s/sessions/%s/end/", c.baseURL, sessionID)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, nil)
	if err != nil {
		c.logger.Error(
			"error while creating end-session request",
			"url", url,
			"err", err,
		)
		return err
	}
	if token != "" {
		req.Header.Set("Authorization", "Token "+token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Error(
			"error while posting end-session request",
			"url", url,
			"err", err,
		)
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		c.logger.Warn(
			"end-session request rejected",
			"url", url,
			"status", resp.StatusCode,
		)
		return fmt.Errorf("end session rejected with status %d", resp.StatusCode)
	}
	return nil
}

package scan

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/cenkalti/backoff"
)

// HTTPStatusClient polls the scan service's job status endpoint. Transient
// transport failures are retried with exponential backoff, bounded so a
// single poll stays well under the poll interval.
type HTTPStatusClient struct {
	baseURL    string
	httpClient *http.Client
	maxElapsed time.Duration
}

// NewHTTPStatusClient constructs a client for the given base URL
// (e.g. "http://localhost:8080").
func NewHTTPStatusClient(baseURL string, httpClient *http.Client) *HTTPStatusClient {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 2 * time.Second}
	}
	return &HTTPStatusClient{
		baseURL:    baseURL,
		httpClient: httpClient,
		maxElapsed: 500 * time.Millisecond,
	}
}

type jobStatusWire struct {
	JobID     string `json:"job_id"`
	State     string `json:"state"`
	AvatarURL string `json:"avatar_url"`
	Message   string `json:"message"`
}

// PollStatus performs one status check. Unknown jobs and failed jobs are
// unrecoverable; queued and running jobs report still-processing.
func (c *HTTPStatusClient) PollStatus(ctx context.Context, scanID string) (PollResult, error) {
	var wire jobStatusWire

	op := func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/jobs/"+scanID, nil)
		if err != nil {
			return backoff.Permanent(err)
		}
		resp, err := c.httpClient.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		switch {
		case resp.StatusCode == http.StatusNotFound:
			return backoff.Permanent(fmt.Errorf("scan %s not found", scanID))
		case resp.StatusCode >= 500:
			return fmt.Errorf("scan service unavailable: %s", resp.Status)
		case resp.StatusCode != http.StatusOK:
			return backoff.Permanent(fmt.Errorf("unexpected status %s", resp.Status))
		}

		if err := json.NewDecoder(resp.Body).Decode(&wire); err != nil {
			return backoff.Permanent(fmt.Errorf("decode status: %w", err))
		}
		return nil
	}

	expBackoff := backoff.NewExponentialBackOff()
	expBackoff.InitialInterval = 50 * time.Millisecond
	expBackoff.MaxElapsedTime = c.maxElapsed

	if err := backoff.Retry(op, backoff.WithContext(expBackoff, ctx)); err != nil {
		return PollResult{}, err
	}

	switch wire.State {
	case "succeeded":
		return PollResult{Done: true, AvatarURL: wire.AvatarURL}, nil
	case "failed":
		return PollResult{Err: failureMessage(wire.Message)}, nil
	default:
		return PollResult{}, nil
	}
}

func failureMessage(msg string) string {
	if msg == "" {
		return "scan failed"
	}
	return msg
}

// InstrumentedClient invokes OnTick before every poll. Used to feed the
// poll-tick counter without coupling the monitor to metrics.
type InstrumentedClient struct {
	Base   StatusClient
	OnTick func()
}

func (c InstrumentedClient) PollStatus(ctx context.Context, scanID string) (PollResult, error) {
	if c.OnTick != nil {
		c.OnTick()
	}
	return c.Base.PollStatus(ctx, scanID)
}

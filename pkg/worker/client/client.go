// Package client implements the coordinator side of the worker protocol
// (C8): an HTTP transport to a single worker process, plus a
// scheduler.NodeExecutor adapter that drives the submit/poll/result
// sequence to completion. Modeled on the teacher SDK's internal/httpclient
// transport (baseURL + *http.Client, auth headers, JSON bodies) but
// generalized from a single-request call shape to the worker protocol's
// submit-then-poll lifecycle.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/flowkit/fctl/pkg/worker/proto"
)

// Config configures a Client's HTTP transport to one worker.
type Config struct {
	BaseURL    string
	Timeout    time.Duration
	HTTPClient *http.Client

	// PollMinInterval and PollMaxInterval bound the /status backoff the
	// coordinator uses while waiting on a submitted task (spec: 100ms -> 2s).
	PollMinInterval time.Duration
	PollMaxInterval time.Duration
}

// Client is a thin HTTP transport to one worker process. It does not
// interpret plan_blob; it only moves bytes and JSON envelopes.
type Client struct {
	baseURL string
	http    *http.Client
	pollMin time.Duration
	pollMax time.Duration
}

// New creates a Client targeting baseURL (e.g. "http://worker-1:9090").
func New(baseURL string, cfg Config) *Client {
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		timeout := cfg.Timeout
		if timeout == 0 {
			timeout = 30 * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	}
	pollMin := cfg.PollMinInterval
	if pollMin == 0 {
		pollMin = 100 * time.Millisecond
	}
	pollMax := cfg.PollMaxInterval
	if pollMax == 0 {
		pollMax = 2 * time.Second
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    httpClient,
		pollMin: pollMin,
		pollMax: pollMax,
	}
}

func (c *Client) do(ctx context.Context, method, path string, query url.Values, body, out interface{}) (int, error) {
	full := c.baseURL + path
	if len(query) > 0 {
		full += "?" + query.Encode()
	}

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return 0, fmt.Errorf("marshal request body: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, full, reader)
	if err != nil {
		return 0, fmt.Errorf("create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return 0, fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp.StatusCode, fmt.Errorf("read response body: %w", err)
	}

	if resp.StatusCode >= 300 {
		var errBody proto.ErrorBody
		if json.Unmarshal(data, &errBody) == nil && errBody.Error != "" {
			return resp.StatusCode, fmt.Errorf("worker returned %d: %s", resp.StatusCode, errBody.Error)
		}
		return resp.StatusCode, fmt.Errorf("worker returned %d", resp.StatusCode)
	}

	if out != nil && len(data) > 0 {
		if err := json.Unmarshal(data, out); err != nil {
			return resp.StatusCode, fmt.Errorf("decode response: %w", err)
		}
	}
	return resp.StatusCode, nil
}

// Submit sends a task to the worker. A false Accepted with Reason
// "duplicate" is not an error — the caller decides how to react.
func (c *Client) Submit(ctx context.Context, req proto.SubmitRequest) (proto.SubmitResponse, error) {
	var resp proto.SubmitResponse
	_, err := c.do(ctx, http.MethodPost, "/submit", nil, req, &resp)
	return resp, err
}

// Status polls the task's current state.
func (c *Client) Status(ctx context.Context, taskID string) (proto.StatusResponse, error) {
	var resp proto.StatusResponse
	_, err := c.do(ctx, http.MethodGet, "/status/"+url.PathEscape(taskID), nil, nil, &resp)
	return resp, err
}

// Result fetches the completed task's schema, row count, and payload
// location. Only meaningful once Status reports TaskDone.
func (c *Client) Result(ctx context.Context, taskID string) (proto.ResultResponse, error) {
	var resp proto.ResultResponse
	_, err := c.do(ctx, http.MethodGet, "/result/"+url.PathEscape(taskID), nil, nil, &resp)
	return resp, err
}

// Sample fetches up to rows rows of the task's result for preview.
func (c *Client) Sample(ctx context.Context, taskID string, rows int) (proto.SampleResponse, error) {
	var resp proto.SampleResponse
	q := url.Values{"rows": {strconv.Itoa(rows)}}
	_, err := c.do(ctx, http.MethodGet, "/sample/"+url.PathEscape(taskID), q, nil, &resp)
	return resp, err
}

// Cancel requests the worker abandon an in-flight task.
func (c *Client) Cancel(ctx context.Context, taskID string) (proto.CancelResponse, error) {
	var resp proto.CancelResponse
	_, err := c.do(ctx, http.MethodPost, "/cancel/"+url.PathEscape(taskID), nil, nil, &resp)
	return resp, err
}

// Health reports the worker's current back-pressure signals.
func (c *Client) Health(ctx context.Context) (proto.HealthResponse, error) {
	var resp proto.HealthResponse
	_, err := c.do(ctx, http.MethodGet, "/healthz", nil, nil, &resp)
	return resp, err
}

// waitForTerminal polls /status with exponential backoff (capped at
// pollMax) until the task reaches done/failed/cancelled or ctx is done.
func (c *Client) waitForTerminal(ctx context.Context, taskID string) (proto.StatusResponse, error) {
	delay := c.pollMin
	for {
		status, err := c.Status(ctx, taskID)
		if err != nil {
			return status, err
		}
		switch status.State {
		case proto.TaskDone, proto.TaskFailed, proto.TaskCancelled:
			return status, nil
		}

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return status, ctx.Err()
		case <-timer.C:
		}
		delay *= 2
		if delay > c.pollMax {
			delay = c.pollMax
		}
	}
}

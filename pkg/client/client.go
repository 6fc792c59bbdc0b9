package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"

	"github.com/testground/sequencer/pkg/api"
	"github.com/testground/sequencer/pkg/task"
)

// Client is the API client that performs all operations against a sequencer
// daemon.
type Client struct {
	// client used to send and receive http requests.
	client   *http.Client
	endpoint string
}

// New initializes a new API client for the daemon at endpoint, e.g.
// "http://localhost:8020".
func New(endpoint string) *Client {
	return &Client{
		client:   &http.Client{},
		endpoint: endpoint,
	}
}

// Close the transport used by the client.
func (c *Client) Close() error {
	if t, ok := c.client.Transport.(*http.Transport); ok {
		t.CloseIdleConnections()
	}
	return nil
}

// Run submits a sequence run and returns the task ID assigned to it.
func (c *Client) Run(ctx context.Context, r *api.RunRequest) (string, error) {
	var body bytes.Buffer
	if err := json.NewEncoder(&body).Encode(r); err != nil {
		return "", err
	}

	var resp api.RunResponse
	if err := c.request(ctx, "POST", "/runs", &body, &resp); err != nil {
		return "", err
	}
	return resp.TaskID, nil
}

// Status fetches a task by ID, in any scheduling state.
func (c *Client) Status(ctx context.Context, id string) (*task.Task, error) {
	tsk := new(task.Task)
	if err := c.request(ctx, "GET", "/runs/"+url.PathEscape(id), nil, tsk); err != nil {
		return nil, err
	}
	return tsk, nil
}

// Cancel asks the daemon to cancel a task being processed.
func (c *Client) Cancel(ctx context.Context, id string) error {
	return c.request(ctx, "POST", "/runs/"+url.PathEscape(id)+"/cancel", nil, nil)
}

// Tasks lists tasks. Both arguments are optional; see the daemon for their
// semantics.
func (c *Client) Tasks(ctx context.Context, states string, window string) ([]*task.Task, error) {
	q := url.Values{}
	if states != "" {
		q.Set("states", states)
	}
	if window != "" {
		q.Set("window", window)
	}

	path := "/tasks"
	if len(q) > 0 {
		path += "?" + q.Encode()
	}

	var tsks []*task.Task
	if err := c.request(ctx, "GET", path, nil, &tsks); err != nil {
		return nil, err
	}
	return tsks, nil
}

func (c *Client) request(ctx context.Context, method, path string, body io.Reader, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, method, c.endpoint+path, body)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		var e struct {
			Error string `json:"error"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&e); err == nil && e.Error != "" {
			return fmt.Errorf("daemon returned %d: %s", resp.StatusCode, e.Error)
		}
		return fmt.Errorf("daemon returned %d", resp.StatusCode)
	}

	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// Package client talks to diskfmtd over its unix socket.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/go-retryablehttp"

	"github.com/osbuild/diskfmt/internal/api"
	"github.com/osbuild/diskfmt/internal/disk"
	"github.com/osbuild/diskfmt/internal/jobs"
)

type Client struct {
	client *http.Client
	// only used for requests that are safe to repeat
	retry  *retryablehttp.Client
	server *url.URL
}

func NewClientUnix(path string) *Client {
	client := &http.Client{
		Transport: &http.Transport{
			DialContext: func(ctx context.Context, _, _ string) (net.Conn, error) {
				var d net.Dialer
				return d.DialContext(ctx, "unix", path)
			},
		},
	}

	server, err := url.Parse("http://localhost")
	if err != nil {
		panic(err)
	}

	retry := retryablehttp.NewClient()
	retry.HTTPClient = client
	retry.Logger = NewRHLeveledLogger(nil)
	retry.RetryMax = 3
	retry.RetryWaitMin = 100 * time.Millisecond
	retry.RetryWaitMax = time.Second
	retry.ErrorHandler = retryablehttp.PassthroughErrorHandler

	return &Client{client, retry, server}
}

func (c *Client) createURL(path string) string {
	return c.server.String() + api.BasePath + path
}

func decodeError(response *http.Response) error {
	e := &Error{StatusCode: response.StatusCode}
	body, _ := io.ReadAll(response.Body)
	if err := json.Unmarshal(body, &e.Response); err != nil || e.Response.Code == "" {
		e.Response.Reason = http.StatusText(response.StatusCode)
		e.Response.Details = string(bytes.TrimSpace(body))
	}
	return e
}

func (c *Client) get(ctx context.Context, path string, v interface{}) error {
	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, c.createURL(path), nil)
	if err != nil {
		return err
	}
	response, err := c.retry.Do(req)
	if err != nil {
		return err
	}
	defer response.Body.Close()

	if response.StatusCode != http.StatusOK {
		return decodeError(response)
	}
	return json.NewDecoder(response.Body).Decode(v)
}

func (c *Client) post(ctx context.Context, path string, body interface{}, expected int, v interface{}) error {
	var b bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&b).Encode(body); err != nil {
			return err
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.createURL(path), &b)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	response, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer response.Body.Close()

	if response.StatusCode != expected {
		return decodeError(response)
	}
	return json.NewDecoder(response.Body).Decode(v)
}

func (c *Client) Status(ctx context.Context) (api.StatusResponse, error) {
	var status api.StatusResponse
	err := c.get(ctx, "/status", &status)
	return status, err
}

func (c *Client) ListDevices(ctx context.Context) ([]disk.Device, error) {
	var list api.DeviceList
	if err := c.get(ctx, "/devices", &list); err != nil {
		return nil, err
	}
	return list.Devices, nil
}

func (c *Client) Resolve(ctx context.Context, ref string) (disk.Device, error) {
	var device disk.Device
	err := c.get(ctx, "/device?ref="+url.QueryEscape(ref), &device)
	return device, err
}

// Format starts a job. It is never retried: a request that timed out may
// still have started one.
func (c *Client) Format(ctx context.Context, req api.FormatRequest) (uuid.UUID, error) {
	var ref api.ObjectReference
	if err := c.post(ctx, "/jobs", req, http.StatusCreated, &ref); err != nil {
		return uuid.Nil, err
	}

	id, err := uuid.Parse(ref.Id)
	if err != nil {
		return uuid.Nil, fmt.Errorf("daemon returned an invalid job id %q: %w", ref.Id, err)
	}
	return id, nil
}

func (c *Client) Jobs(ctx context.Context) ([]jobs.Status, error) {
	var list api.JobList
	if err := c.get(ctx, "/jobs", &list); err != nil {
		return nil, err
	}
	return list.Jobs, nil
}

func (c *Client) Job(ctx context.Context, id uuid.UUID) (jobs.Status, error) {
	var status jobs.Status
	err := c.get(ctx, "/jobs/"+id.String(), &status)
	return status, err
}

func (c *Client) Cancel(ctx context.Context, id uuid.UUID) (jobs.Status, error) {
	var status jobs.Status
	err := c.post(ctx, "/jobs/"+id.String()+"/cancel", nil, http.StatusOK, &status)
	return status, err
}

// Wait polls a job until it is in a terminal state. Every status seen is
// passed to progress, which may be nil.
func (c *Client) Wait(ctx context.Context, id uuid.UUID, interval time.Duration, progress func(jobs.Status)) (jobs.Status, error) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		status, err := c.Job(ctx, id)
		if err != nil {
			return status, err
		}
		if progress != nil {
			progress(status)
		}
		if status.State.Terminal() {
			return status, nil
		}

		select {
		case <-ctx.Done():
			return status, ctx.Err()
		case <-ticker.C:
		}
	}
}

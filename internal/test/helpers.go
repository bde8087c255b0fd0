// Package test contains helpers for exercising the diskfmt HTTP API, either
// in-process or against a running daemon.
package test

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestExternal holds the socket of a running diskfmtd. When set, requests
// marked as external are sent there instead of to the in-process handler.
var TestExternal = os.Getenv("DISKFMT_TEST_EXTERNAL")

// externalClient dials TestExternal whatever host a request names.
var externalClient = &http.Client{
	Transport: &http.Transport{
		DialContext: func(ctx context.Context, _, _ string) (net.Conn, error) {
			var d net.Dialer
			return d.DialContext(ctx, "unix", TestExternal)
		},
	},
}

func externalRequest(method, path, body string) *http.Response {
	req, err := http.NewRequest(method, "http://diskfmtd"+path, bytes.NewReader([]byte(body)))
	if err != nil {
		panic(err)
	}
	if method == http.MethodPost {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := externalClient.Do(req)
	if err != nil {
		panic(err)
	}
	return resp
}

func internalRequest(api http.Handler, method, path, body string) *http.Response {
	req := httptest.NewRequest(method, path, bytes.NewReader([]byte(body)))
	req.Header.Set("Content-Type", "application/json")
	resp := httptest.NewRecorder()
	api.ServeHTTP(resp, req)

	return resp.Result()
}

func SendHTTP(api http.Handler, external bool, method, path, body string) *http.Response {
	if len(TestExternal) > 0 {
		if !external {
			return nil
		}
		return externalRequest(method, path, body)
	}
	return internalRequest(api, method, path, body)
}

// this function serves to drop fields that shouldn't be tested from the unmarshalled json objects
func dropFields(obj interface{}, fields ...string) {
	switch v := obj.(type) {
	case map[string]interface{}:
		for _, field := range fields {
			delete(v, field)
		}
		for _, val := range v {
			dropFields(val, fields...)
		}
	case []interface{}:
		for _, element := range v {
			dropFields(element, fields...)
		}
	default:
		return
	}
}

type TestingT interface {
	Errorf(format string, args ...any)
	FailNow()
	Skip(args ...any)
	Helper()
}

func TestRoute(t TestingT, api http.Handler, external bool, method, path, body string, expectedStatus int, expectedJSON string, ignoreFields ...string) {
	t.Helper()
	_ = TestRouteWithReply(t, api, external, method, path, body, expectedStatus, expectedJSON, ignoreFields...)
}

// TestRouteWithReply tests the given API endpoint and if the test passes, it returns the raw JSON reply.
//
// expectedJSON may be "" for an empty body, "?" to skip looking at the body
// and "*" to accept any valid JSON.
func TestRouteWithReply(t TestingT, api http.Handler, external bool, method, path, body string, expectedStatus int, expectedJSON string, ignoreFields ...string) (replyJSON []byte) {
	t.Helper()

	resp := SendHTTP(api, external, method, path, body)
	if resp == nil {
		t.Skip("This test is for internal testing only")
		return
	}
	defer resp.Body.Close()

	var err error
	replyJSON, err = io.ReadAll(resp.Body)
	require.NoErrorf(t, err, "%s: could not read response body", path)

	assert.Equalf(t, expectedStatus, resp.StatusCode, "SendHTTP failed for path %s: %v", path, string(replyJSON))

	if expectedJSON == "" {
		require.Lenf(t, replyJSON, 0, "%s: expected no response body, but got:\n%s", path, replyJSON)
		return
	}

	if expectedJSON == "?" {
		return
	}

	var reply, expected interface{}
	err = json.Unmarshal(replyJSON, &reply)
	require.NoErrorf(t, err, "%s: json.Unmarshal failed for\n%s", path, string(replyJSON))

	if expectedJSON == "*" {
		return
	}

	err = json.Unmarshal([]byte(expectedJSON), &expected)
	require.NoErrorf(t, err, "%s: expected JSON is invalid", path)

	if len(ignoreFields) > 0 {
		dropFields(reply, ignoreFields...)
		dropFields(expected, ignoreFields...)
	}

	require.Equal(t, expected, reply)

	return
}

// IgnoreDates makes cmp treat all timestamps as equal, for comparing job
// statuses whose timing is not under test.
func IgnoreDates() cmp.Option {
	return cmp.Comparer(func(a, b time.Time) bool { return true })
}

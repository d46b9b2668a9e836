package abb

import (
	"context"
	"io"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// mockRoundTripper serves canned responses per path with an optional
// artificial delay.
type mockRoundTripper struct {
	responses map[string]mockResponse
	delay     time.Duration
}

type mockResponse struct {
	status int
	body   string
}

func (m *mockRoundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	if m.delay > 0 {
		time.Sleep(m.delay)
	}
	resp, ok := m.responses[req.URL.Path]
	if !ok {
		resp = mockResponse{status: http.StatusNotFound, body: "not found"}
	}
	return &http.Response{
		StatusCode: resp.status,
		Body:       io.NopCloser(strings.NewReader(resp.body)),
		Header:     make(http.Header),
		Request:    req,
	}, nil
}

func probeClient(rt http.RoundTripper) *http.Client {
	return &http.Client{Transport: rt}
}

func TestValidateURL_SchemeAndParse(t *testing.T) {
	client := probeClient(&mockRoundTripper{})

	res := validateURL(context.Background(), client, Payload{URL: "http://example.com"}, &URLCriteria{RequireHTTPS: true})
	assert.False(t, res.passed)
	assert.Contains(t, res.errMsg, "not https")

	res = validateURL(context.Background(), client, Payload{URL: ""}, &URLCriteria{})
	assert.False(t, res.passed)

	res = validateURL(context.Background(), client, Payload{URL: "https://example.com"}, &URLCriteria{RequireHTTPS: true})
	assert.True(t, res.passed, "no probes declared, scheme check alone decides")
}

func TestValidateURL_ProbeStatusAndBody(t *testing.T) {
	client := probeClient(&mockRoundTripper{
		responses: map[string]mockResponse{
			"/health": {status: 200, body: `{"status":"ok"}`},
			"/api":    {status: 500, body: "boom"},
		},
	})
	criteria := &URLCriteria{
		RequireHTTPS: true,
		Probes: []EndpointProbe{
			{Path: "/health", ExpectedStatus: 200, BodyContains: `"ok"`},
			{Path: "/api", ExpectedStatus: 200},
		},
	}

	res := validateURL(context.Background(), client, Payload{URL: "https://svc.example.com"}, criteria)
	require.False(t, res.passed)
	assert.True(t, findCheck(t, res.checks, "probe GET /health status").Passed)
	assert.True(t, findCheck(t, res.checks, "probe GET /health body").Passed)

	apiCheck := findCheck(t, res.checks, "probe GET /api status")
	assert.False(t, apiCheck.Passed)
	assert.Contains(t, apiCheck.Message, "returned status 500")

	// One of two probes failed.
	assert.Equal(t, 50, res.score)
}

func TestValidateURL_LatencyCeiling(t *testing.T) {
	responses := map[string]mockResponse{"/health": {status: 200, body: "ok"}}
	criteria := &URLCriteria{
		Probes: []EndpointProbe{{Path: "/health", ExpectedStatus: 200, MaxLatencyMs: 50}},
	}
	payload := Payload{URL: "https://svc.example.com"}

	fast := probeClient(&mockRoundTripper{responses: responses})
	res := validateURL(context.Background(), fast, payload, criteria)
	assert.True(t, res.passed)

	slow := probeClient(&mockRoundTripper{responses: responses, delay: 120 * time.Millisecond})
	res = validateURL(context.Background(), slow, payload, criteria)
	require.False(t, res.passed)
	// Status still passes; only the latency check fails.
	assert.True(t, findCheck(t, res.checks, "probe GET /health status").Passed)
	latency := findCheck(t, res.checks, "probe GET /health latency")
	assert.False(t, latency.Passed)
	assert.Contains(t, latency.Message, "ceiling")
}

func TestValidateURL_AllProbesRecorded(t *testing.T) {
	client := probeClient(&mockRoundTripper{
		responses: map[string]mockResponse{
			"/a": {status: 200, body: "a"},
		},
	})
	criteria := &URLCriteria{
		Probes: []EndpointProbe{
			{Path: "/a", ExpectedStatus: 200},
			{Path: "/b", ExpectedStatus: 200},
			{Path: "/c", ExpectedStatus: 200},
		},
	}
	res := validateURL(context.Background(), client, Payload{URL: "https://svc.example.com"}, criteria)
	assert.False(t, res.passed)
	assert.True(t, findCheck(t, res.checks, "probe GET /a status").Passed)
	assert.False(t, findCheck(t, res.checks, "probe GET /b status").Passed)
	assert.False(t, findCheck(t, res.checks, "probe GET /c status").Passed)
}

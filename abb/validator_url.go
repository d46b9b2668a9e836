package abb

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const maxProbeBodyBytes = 1 << 20

// validateURL probes the submitted deployment. Every declared endpoint is
// probed and recorded individually; the submission fails if any probe
// fails.
func validateURL(ctx context.Context, client *http.Client, payload Payload, criteria *URLCriteria) mechanicalResult {
	raw := strings.TrimSpace(payload.URL)
	if raw == "" {
		return structuralFailure("url_present", "submission contains no URL")
	}
	base, err := url.Parse(raw)
	if err != nil || base.Host == "" {
		return structuralFailure("url_present", fmt.Sprintf("submission URL %q is not valid", raw))
	}
	if criteria.RequireHTTPS && base.Scheme != "https" {
		return structuralFailure("https", fmt.Sprintf("URL scheme %q is not https", base.Scheme))
	}

	checks := []ValidationCheck{
		{Name: "url_present", Passed: true, Message: "submission URL parses"},
	}
	if criteria.RequireHTTPS {
		checks = append(checks, ValidationCheck{Name: "https", Passed: true, Message: "URL uses https"})
	}

	failed := 0
	total := len(criteria.Probes)
	for _, probe := range criteria.Probes {
		probeChecks := runProbe(ctx, client, base, probe)
		for _, c := range probeChecks {
			checks = append(checks, c)
		}
		for _, c := range probeChecks {
			if !c.Passed {
				failed++
				break
			}
		}
	}

	score := 100
	if total > 0 {
		score = 100 * (total - failed) / total
	}
	return mechanicalResult{
		passed: failed == 0,
		score:  clampScore(score),
		checks: checks,
	}
}

// runProbe issues one HTTP request and returns the status check plus any
// declared body and latency checks. Latency is judged independently of
// status so a fast wrong answer and a slow right answer fail differently.
func runProbe(ctx context.Context, client *http.Client, base *url.URL, probe EndpointProbe) []ValidationCheck {
	method := probe.Method
	if method == "" {
		method = http.MethodGet
	}
	target := base.ResolveReference(&url.URL{Path: probe.Path})
	name := fmt.Sprintf("probe %s %s", method, probe.Path)

	req, err := http.NewRequestWithContext(ctx, method, target.String(), nil)
	if err != nil {
		return []ValidationCheck{{Name: name + " status", Passed: false, Message: fmt.Sprintf("invalid probe request: %v", err)}}
	}

	start := time.Now()
	resp, err := client.Do(req)
	latency := time.Since(start)
	if err != nil {
		return []ValidationCheck{{
			Name:    name + " status",
			Passed:  false,
			Message: fmt.Sprintf("request failed: %v", err),
		}}
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxProbeBodyBytes))

	var checks []ValidationCheck

	if resp.StatusCode == probe.ExpectedStatus {
		checks = append(checks, ValidationCheck{
			Name:    name + " status",
			Passed:  true,
			Message: fmt.Sprintf("returned expected status %d", resp.StatusCode),
		})
	} else {
		checks = append(checks, ValidationCheck{
			Name:    name + " status",
			Passed:  false,
			Message: fmt.Sprintf("returned status %d, expected %d", resp.StatusCode, probe.ExpectedStatus),
		})
	}

	if probe.BodyContains != "" {
		if strings.Contains(string(body), probe.BodyContains) {
			checks = append(checks, ValidationCheck{
				Name:    name + " body",
				Passed:  true,
				Message: "response body contains expected content",
			})
		} else {
			checks = append(checks, ValidationCheck{
				Name:    name + " body",
				Passed:  false,
				Message: fmt.Sprintf("response body does not contain %q", probe.BodyContains),
			})
		}
	}

	if probe.MaxLatencyMs > 0 {
		ms := latency.Milliseconds()
		if ms <= probe.MaxLatencyMs {
			checks = append(checks, ValidationCheck{
				Name:    name + " latency",
				Passed:  true,
				Message: fmt.Sprintf("responded in %dms", ms),
			})
		} else {
			checks = append(checks, ValidationCheck{
				Name:    name + " latency",
				Passed:  false,
				Message: fmt.Sprintf("responded in %dms, ceiling is %dms", ms, probe.MaxLatencyMs),
			})
		}
	}

	return checks
}

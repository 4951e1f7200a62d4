/*
 * Copyright (c) 2025 SECOM CO., LTD. All Rights reserved.
 *
 * SPDX-License-Identifier: BSD-2-Clause
 */

// Package transport holds the HTTP plumbing shared by the node, authority
// and IP lookup clients. Every failure it returns wraps domain.ErrTransport.
package transport

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/kentakayama/evo-auth/internal/domain"
)

const (
	maxResponseBodyBytes = 1 << 20
	userAgent            = "evo-auth/1.0"
)

// NewHTTPClient returns a client whose dial is bounded by connect and whose
// response (headers and body) is bounded by read.
func NewHTTPClient(connect, read time.Duration) *http.Client {
	dialer := &net.Dialer{Timeout: connect}
	transport := &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           dialer.DialContext,
		TLSHandshakeTimeout:   connect,
		ResponseHeaderTimeout: read,
		MaxIdleConnsPerHost:   2,
		IdleConnTimeout:       30 * time.Second,
	}
	return &http.Client{
		Timeout:   connect + read,
		Transport: transport,
	}
}

// Get performs a GET and returns the body of a 2xx response.
func Get(ctx context.Context, client *http.Client, rawURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: create request: %v", domain.ErrTransport, err)
	}
	req.Header.Set("Accept", "*/*")
	req.Header.Set("User-Agent", userAgent)

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: perform request: %v", domain.ErrTransport, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("%w: unexpected status %s: %s", domain.ErrTransport, resp.Status, bytes.TrimSpace(body))
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("%w: read response body: %v", domain.ErrTransport, err)
	}
	return body, nil
}

// FirstLine returns the first line of body without its line terminator and
// whether body had any content at all.
func FirstLine(body []byte) (string, bool) {
	if len(body) == 0 {
		return "", false
	}
	line, _, _ := bytes.Cut(body, []byte("\n"))
	return string(bytes.TrimRight(line, "\r")), true
}

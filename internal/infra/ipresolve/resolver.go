/*
 * Copyright (c) 2025 SECOM CO., LTD. All Rights reserved.
 *
 * SPDX-License-Identifier: BSD-2-Clause
 */

package ipresolve

import (
	"context"
	"fmt"
	"log"
	"net"
	"net/http"
	"strings"

	"github.com/kentakayama/evo-auth/internal/config"
	"github.com/kentakayama/evo-auth/internal/domain"
	"github.com/kentakayama/evo-auth/internal/infra/transport"
)

// Resolver discovers the caller's public address by asking plain-text
// lookup services in priority order.
type Resolver struct {
	sources    []string
	httpClient *http.Client
	logger     *log.Logger
}

func NewResolver(cfg config.VerifierConfig) *Resolver {
	cfg = cfg.WithDefaults()
	return &Resolver{
		sources:    cfg.IPSources,
		httpClient: transport.NewHTTPClient(cfg.ConnectTimeout, cfg.ReadTimeout),
		logger:     cfg.DiagnosticLogger(),
	}
}

// Resolve returns the first address any source reports. ok is false when
// every source failed.
func (r *Resolver) Resolve(ctx context.Context) (string, bool) {
	for _, source := range r.sources {
		ip, err := r.fromSource(ctx, source)
		if err != nil {
			r.logger.Printf("Failed to get IP from %s, your internet is probably down: %v", source, err)
			continue
		}
		return ip, true
	}
	return "", false
}

func (r *Resolver) fromSource(ctx context.Context, source string) (string, error) {
	body, err := transport.Get(ctx, r.httpClient, source)
	if err != nil {
		return "", err
	}
	line, ok := transport.FirstLine(body)
	if !ok {
		return "", fmt.Errorf("%w: empty body", domain.ErrMalformedResponse)
	}
	ip := strings.TrimSpace(line)
	if net.ParseIP(ip) == nil {
		return "", fmt.Errorf("%w: %q is not an IP address", domain.ErrMalformedResponse, ip)
	}
	return ip, nil
}

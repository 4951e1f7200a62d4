/*
 * Copyright (c) 2025 SECOM CO., LTD. All Rights reserved.
 *
 * SPDX-License-Identifier: BSD-2-Clause
 */

package authority

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"strings"
	"unicode/utf8"

	"github.com/kentakayama/evo-auth/internal/config"
	"github.com/kentakayama/evo-auth/internal/domain"
	"github.com/kentakayama/evo-auth/internal/domain/model"
	"github.com/kentakayama/evo-auth/internal/infra/transport"
)

// Client asks the session service whether a session token may join the
// server identified by a node-issued challenge.
type Client struct {
	endpoint   *url.URL
	httpClient *http.Client
	logger     *log.Logger
}

func NewClient(cfg config.VerifierConfig) (*Client, error) {
	cfg = cfg.WithDefaults()

	endpoint, err := url.Parse(cfg.AuthorityURL)
	if err != nil {
		return nil, fmt.Errorf("parse authority URL: %w", err)
	}
	if endpoint.Scheme != "http" && endpoint.Scheme != "https" {
		return nil, fmt.Errorf("authority URL %q: scheme must be http or https", cfg.AuthorityURL)
	}

	return &Client{
		endpoint:   endpoint,
		httpClient: transport.NewHTTPClient(cfg.ConnectTimeout, cfg.ReadTimeout),
		logger:     cfg.DiagnosticLogger(),
	}, nil
}

// Confirm returns OutcomeVerified when the service answers "ok" (in any
// case), OutcomeRejected for any other answer and OutcomeIndeterminate when
// no answer could be obtained. The error explains anything but Verified.
func (c *Client) Confirm(ctx context.Context, username, sessionToken, challenge string) (model.Outcome, error) {
	joinURL, err := c.joinURL(username, sessionToken, challenge)
	if err != nil {
		c.logger.Printf("An error occurred encoding the session request: %v", err)
		return model.OutcomeIndeterminate, err
	}

	body, err := transport.Get(ctx, c.httpClient, joinURL)
	if err != nil {
		c.logger.Printf("An error occurred contacting the session service: %v", err)
		return model.OutcomeIndeterminate, err
	}

	line, ok := transport.FirstLine(body)
	if !ok {
		err := fmt.Errorf("%w: empty session service response", domain.ErrMalformedResponse)
		c.logger.Printf("An error occurred contacting the session service: %v", err)
		return model.OutcomeIndeterminate, err
	}
	if strings.EqualFold(line, "ok") {
		return model.OutcomeVerified, nil
	}
	return model.OutcomeRejected, fmt.Errorf("%w: session service answered %q", domain.ErrRejected, line)
}

func (c *Client) joinURL(username, sessionToken, challenge string) (string, error) {
	for name, value := range map[string]string{"user": username, "sessionId": sessionToken, "serverId": challenge} {
		if !utf8.ValidString(value) {
			return "", fmt.Errorf("%w: %s is not valid UTF-8", domain.ErrEncoding, name)
		}
	}

	u := *c.endpoint
	query := u.Query()
	query.Set("user", username)
	query.Set("sessionId", sessionToken)
	query.Set("serverId", challenge)
	u.RawQuery = query.Encode()
	return u.String(), nil
}

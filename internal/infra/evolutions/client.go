/*
 * Copyright (c) 2025 SECOM CO., LTD. All Rights reserved.
 *
 * SPDX-License-Identifier: BSD-2-Clause
 */

package evolutions

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"unicode/utf8"

	"github.com/kentakayama/evo-auth/internal/config"
	"github.com/kentakayama/evo-auth/internal/domain"
	"github.com/kentakayama/evo-auth/internal/domain/model"
	"github.com/kentakayama/evo-auth/internal/infra/transport"
)

// Authority confirms a session token against a node-issued challenge.
type Authority interface {
	Confirm(ctx context.Context, username, sessionToken, challenge string) (model.Outcome, error)
}

// Client runs the node side of the verification protocol against a single
// trust node per call. It holds no per-attempt state.
type Client struct {
	authority  Authority
	httpClient *http.Client
	logger     *log.Logger
}

func NewClient(cfg config.VerifierConfig, authority Authority) *Client {
	cfg = cfg.WithDefaults()
	return &Client{
		authority:  authority,
		httpClient: transport.NewHTTPClient(cfg.ConnectTimeout, cfg.ReadTimeout),
		logger:     cfg.DiagnosticLogger(),
	}
}

// Verify proves to node that username holds sessionToken:
//
//  1. the node issues a challenge for username connecting from callerIP,
//  2. the session service confirms the token against the challenge,
//  3. the node checks with the session service and reports the result.
//
// A nil error means OutcomeVerified. Rejections wrap domain.ErrRejected;
// anything that prevented a conclusion yields OutcomeIndeterminate.
func (c *Client) Verify(ctx context.Context, username string, node model.NodeEndpoint, sessionToken, callerIP string) (model.Outcome, error) {
	outcome, err := c.verify(ctx, username, node, sessionToken, callerIP)
	if err != nil {
		c.logger.Printf("Authentication with node: %s has failed: %v", node.BaseURL, err)
	} else {
		c.logger.Printf("Node: %s has returned the result: %s", node.BaseURL, outcome)
	}
	return outcome, err
}

func (c *Client) verify(ctx context.Context, username string, node model.NodeEndpoint, sessionToken, callerIP string) (model.Outcome, error) {
	proto, err := protocolFor(node.Version)
	if err != nil {
		return model.OutcomeIndeterminate, err
	}
	if err := checkEncodable(username, callerIP); err != nil {
		return model.OutcomeIndeterminate, err
	}

	params := stageParams{username: username, userIP: callerIP}

	// Stage 1: obtain the challenge
	fields, err := c.fetch(ctx, node, proto.challenge, params)
	if err != nil {
		return model.OutcomeIndeterminate, fmt.Errorf("challenge request: %w", err)
	}
	challenge, err := fields.String(proto.challenge.value)
	if err != nil {
		return model.OutcomeIndeterminate, fmt.Errorf("challenge request: %w", err)
	}
	params.challenge = challenge

	// Stage 2: the session service vouches for the token
	switch outcome, err := c.authority.Confirm(ctx, username, sessionToken, challenge); outcome {
	case model.OutcomeVerified:
	case model.OutcomeRejected:
		if err == nil {
			err = domain.ErrRejected
		}
		return model.OutcomeRejected, fmt.Errorf("token is probably incorrect, or user is cracked: %w", err)
	default:
		if err == nil {
			err = domain.ErrTransport
		}
		return model.OutcomeIndeterminate, fmt.Errorf("session service: %w", demote(err))
	}

	// Stage 3: the node confirms
	fields, err = c.fetch(ctx, node, proto.result, params)
	if err != nil {
		return model.OutcomeIndeterminate, fmt.Errorf("result confirmation: %w", err)
	}
	return decide(fields, proto.result.value)
}

// Lookup asks node whether username has recently verified from userIP.
// This is the check a game server performs when a player connects.
func (c *Client) Lookup(ctx context.Context, username, userIP string, node model.NodeEndpoint) (model.Outcome, error) {
	outcome, err := c.lookup(ctx, username, userIP, node)
	if err != nil {
		c.logger.Printf("Verification lookup with node: %s has failed: %v", node.BaseURL, err)
	}
	return outcome, err
}

func (c *Client) lookup(ctx context.Context, username, userIP string, node model.NodeEndpoint) (model.Outcome, error) {
	proto, err := protocolFor(node.Version)
	if err != nil {
		return model.OutcomeIndeterminate, err
	}
	if err := checkEncodable(username, userIP); err != nil {
		return model.OutcomeIndeterminate, err
	}

	fields, err := c.fetch(ctx, node, proto.lookup, stageParams{username: username, userIP: userIP})
	if err != nil {
		return model.OutcomeIndeterminate, fmt.Errorf("verification lookup: %w", err)
	}
	return decide(fields, proto.lookup.value)
}

func (c *Client) fetch(ctx context.Context, node model.NodeEndpoint, s stage, p stageParams) (Fields, error) {
	stageURL, err := s.stageURL(node.BaseURL, p)
	if err != nil {
		return nil, err
	}
	body, err := transport.Get(ctx, c.httpClient, stageURL)
	if err != nil {
		return nil, err
	}
	return DecodeFields(body, s.required...)
}

// decide turns a boolean answer field into an outcome.
func decide(fields Fields, key string) (model.Outcome, error) {
	ok, err := fields.Bool(key)
	if err != nil {
		return model.OutcomeIndeterminate, err
	}
	if !ok {
		return model.OutcomeRejected, fmt.Errorf("%w: node answered %s=false", domain.ErrRejected, key)
	}
	return model.OutcomeVerified, nil
}

// demote keeps an indeterminate authority answer from being classified as
// a rejection further up.
func demote(err error) error {
	if errors.Is(err, domain.ErrRejected) {
		return fmt.Errorf("%w: %v", domain.ErrTransport, err)
	}
	return err
}

func checkEncodable(values ...string) error {
	for _, v := range values {
		if !utf8.ValidString(v) {
			return fmt.Errorf("%w: %q is not valid UTF-8", domain.ErrEncoding, v)
		}
	}
	return nil
}

/*
 * Copyright (c) 2025 SECOM CO., LTD. All Rights reserved.
 *
 * SPDX-License-Identifier: BSD-2-Clause
 */

package config

import (
	"io"
	"log"
	"time"

	"github.com/kentakayama/evo-auth/internal/domain/model"
)

const (
	DefaultAuthorityURL   = "https://session.minecraft.net/game/joinserver.jsp"
	DefaultConnectTimeout = 5 * time.Second
	DefaultReadTimeout    = 5 * time.Second
	DefaultServerAddr     = ":8080"
)

// DefaultIPSources are tried in order until one returns an address.
var DefaultIPSources = []string{
	"https://checkip.amazonaws.com",
	"https://icanhazip.com/",
}

// VerifierConfig captures everything a verification run needs.
type VerifierConfig struct {
	Nodes          []model.NodeEndpoint
	AuthorityURL   string
	IPSources      []string
	ConnectTimeout time.Duration
	ReadTimeout    time.Duration
	Verbose        bool
	Logger         *log.Logger
}

// WithDefaults fills every unset field.
func (c VerifierConfig) WithDefaults() VerifierConfig {
	if c.AuthorityURL == "" {
		c.AuthorityURL = DefaultAuthorityURL
	}
	if len(c.IPSources) == 0 {
		c.IPSources = append([]string(nil), DefaultIPSources...)
	}
	if c.ConnectTimeout <= 0 {
		c.ConnectTimeout = DefaultConnectTimeout
	}
	if c.ReadTimeout <= 0 {
		c.ReadTimeout = DefaultReadTimeout
	}
	if c.Logger == nil {
		c.Logger = log.Default()
	}
	return c
}

// RunBudget bounds the wall time of one run: every IP source may be tried in
// turn, then each node makes up to three calls. Nodes run in parallel, so the
// node count does not enter into it.
func (c VerifierConfig) RunBudget() time.Duration {
	c = c.WithDefaults()
	perCall := c.ConnectTimeout + c.ReadTimeout
	return time.Duration(len(c.IPSources)+3) * perCall
}

// DiagnosticLogger returns the logger for per-failure diagnostics, which are
// only emitted in verbose mode.
func (c VerifierConfig) DiagnosticLogger() *log.Logger {
	if !c.Verbose {
		return log.New(io.Discard, "", 0)
	}
	if c.Logger == nil {
		return log.Default()
	}
	return c.Logger
}

// ServerConfig captures the tunables required to start the HTTP API.
type ServerConfig struct {
	Addr           string
	SigningKeyPath string
	Verifier       VerifierConfig
	Logger         *log.Logger
}

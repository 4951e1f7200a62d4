/*
 * Copyright (c) 2025 SECOM CO., LTD. All Rights reserved.
 *
 * SPDX-License-Identifier: BSD-2-Clause
 */

package server

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/kentakayama/evo-auth/internal/config"
	"github.com/kentakayama/evo-auth/internal/report"
	"github.com/kentakayama/evo-auth/internal/verify"
)

const writeSlack = 5 * time.Second

// Server wires the HTTP listener and request handling stack.
type Server struct {
	cfg     config.ServerConfig
	handler *handler
	http    *http.Server
	logger  *log.Logger
}

// New constructs a Server using the provided configuration.
func New(cfg config.ServerConfig) (*Server, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = log.Default()
	}
	if cfg.Addr == "" {
		cfg.Addr = config.DefaultServerAddr
	}
	if cfg.Verifier.Logger == nil {
		cfg.Verifier.Logger = logger
	}

	verifier, err := verify.New(cfg.Verifier)
	if err != nil {
		return nil, err
	}

	key, err := report.LoadOrGenerateSigningKey(cfg.SigningKeyPath)
	if err != nil {
		return nil, fmt.Errorf("report signing key: %w", err)
	}
	signer, err := report.NewSigner(key)
	if err != nil {
		return nil, err
	}

	h := newHandler(verifier, signer, logger)

	httpSrv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           h.routes(),
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      cfg.Verifier.RunBudget() + writeSlack,
	}

	return &Server{
		cfg:     cfg,
		handler: h,
		http:    httpSrv,
		logger:  logger,
	}, nil
}

// ListenAndServe starts the HTTP server and blocks until it stops.
func (s *Server) ListenAndServe() error {
	s.logger.Printf("Run verification server on %s with %d nodes.", s.http.Addr, len(s.handler.service.Nodes()))

	err := s.http.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Shutdown gracefully takes down the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}

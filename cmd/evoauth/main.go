/*
 * Copyright (c) 2025 SECOM CO., LTD. All Rights reserved.
 *
 * SPDX-License-Identifier: BSD-2-Clause
 */

// Command evoauth proves a player's session to the trust nodes, asks them
// whether a player has verified, or serves both operations over HTTP.
//
// # Usage
//
//	evoauth -username Notch -session <token>
//	evoauth -username Notch -session <token> -interval 24h
//	evoauth -username Notch -lookup-ip 203.0.113.7 -format json
//	evoauth -serve -config evoauth.yaml -db nodes.db
//	evoauth -db nodes.db -add-node https://auth.example.com,v2 -list-nodes
//	evoauth -db nodes.db -disable-node https://auth.example.com
//	evoauth -verify-report run.cose -report-key report-key.pem
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/kentakayama/evo-auth/internal/config"
	"github.com/kentakayama/evo-auth/internal/logger"
	"github.com/kentakayama/evo-auth/internal/report"
	"github.com/kentakayama/evo-auth/internal/server"
	"github.com/kentakayama/evo-auth/internal/verify"
	"go.uber.org/zap"
)

type options struct {
	configPath string
	dbPath     string
	username   string
	session    string
	interval   time.Duration
	lookupIP   string
	serve      bool
	addr       string
	signingKey string
	format     string
	verbose    bool

	nodes        registryOps
	verifyReport string
	reportKey    string
}

func main() {
	opts, err := parseFlags(os.Args[1:], os.Stderr, os.Getenv)
	if errors.Is(err, flag.ErrHelp) {
		return
	}
	if err != nil {
		os.Exit(2)
	}

	if err := run(opts); err != nil {
		fmt.Fprintf(os.Stderr, "evoauth: %v\n", err)
		os.Exit(1)
	}
}

// parseFlags reads args; the session token falls back to $EVOAUTH_SESSION
// after parsing so that -h never prints it.
func parseFlags(args []string, output io.Writer, getenv func(string) string) (options, error) {
	var opts options
	fs := flag.NewFlagSet("evoauth", flag.ContinueOnError)
	fs.SetOutput(output)
	fs.StringVar(&opts.configPath, "config", "", "path to evoauth.yaml")
	fs.StringVar(&opts.dbPath, "db", "", "sqlite node registry (overrides database.path)")
	fs.StringVar(&opts.username, "username", "", "player name")
	fs.StringVar(&opts.session, "session", "", "session token (default $EVOAUTH_SESSION)")
	fs.DurationVar(&opts.interval, "interval", 0, "repeat verification every interval; 0 runs once")
	fs.StringVar(&opts.lookupIP, "lookup-ip", "", "ask the nodes whether -username verified from this IP")
	fs.BoolVar(&opts.serve, "serve", false, "run the HTTP API")
	fs.StringVar(&opts.addr, "addr", "", "HTTP listen address (overrides server.addr)")
	fs.StringVar(&opts.signingKey, "signing-key", "", "PEM EC key for signed reports; created if missing")
	fs.StringVar(&opts.format, "format", "text", "output format: text, json or cbor")
	fs.BoolVar(&opts.verbose, "verbose", false, "log every node failure")
	fs.BoolVar(&opts.nodes.list, "list-nodes", false, "print every node in the -db registry")
	fs.StringVar(&opts.nodes.add, "add-node", "", "register a node in the -db registry, given as url,version")
	fs.StringVar(&opts.nodes.enable, "enable-node", "", "include a registered node in future runs")
	fs.StringVar(&opts.nodes.disable, "disable-node", "", "exclude a registered node from future runs")
	fs.StringVar(&opts.verifyReport, "verify-report", "", "check a signed report file and print it")
	fs.StringVar(&opts.reportKey, "report-key", "", "PEM public key for -verify-report, as served by /report-key")
	if err := fs.Parse(args); err != nil {
		return options{}, err
	}

	if opts.session == "" {
		opts.session = getenv("EVOAUTH_SESSION")
	}
	return opts, nil
}

func run(opts options) error {
	switch opts.format {
	case "text", "json", "cbor":
	default:
		return fmt.Errorf("unknown format %q", opts.format)
	}

	f, err := config.Load(opts.configPath)
	if err != nil {
		return err
	}
	if opts.verbose {
		f.Verbose = true
	}

	zl, err := logger.New(f.LogLevel, f.Verbose)
	if err != nil {
		return err
	}
	defer zl.Sync()
	stdLogger := logger.Std(zl, "evoauth")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	dbPath := f.Database.Path
	if opts.dbPath != "" {
		dbPath = opts.dbPath
	}
	if opts.verifyReport != "" {
		return verifyReportFile(os.Stdout, opts.format, opts.verifyReport, opts.reportKey)
	}
	if opts.nodes.requested() {
		return manageNodes(ctx, f, dbPath, opts.nodes, os.Stdout, stdLogger)
	}

	nodes, err := loadNodes(ctx, f, dbPath, stdLogger)
	if err != nil {
		return err
	}

	zl.Info("Loaded trust nodes", zap.Int("count", len(nodes)), zap.String("registry", dbPath))

	verifierCfg := f.VerifierConfig(nodes, stdLogger)

	if opts.serve {
		return serve(ctx, opts, f, verifierCfg, stdLogger)
	}

	if opts.username == "" {
		return errors.New("-username is required")
	}
	verifier, err := verify.New(verifierCfg)
	if err != nil {
		return err
	}

	if opts.lookupIP != "" {
		return printResult(os.Stdout, opts.format, verifier.VerifyUser(ctx, opts.username, opts.lookupIP))
	}

	if opts.session == "" {
		return errors.New("-session or $EVOAUTH_SESSION is required")
	}
	interval := opts.interval
	if interval == 0 {
		interval = f.Poll.Interval
	}
	return poll(ctx, interval, func() error {
		res := verifier.Run(ctx, opts.username, opts.session)
		zl.Info("Verification finished",
			zap.String("run", res.RunID.String()),
			zap.Int("successful", res.Tally.Successful),
			zap.Int("failed", res.Tally.Failed),
			zap.Int("errored", res.Tally.Errored))
		return printResult(os.Stdout, opts.format, res)
	})
}

// poll calls once immediately and, when interval is positive, again on
// every tick until ctx is done.
func poll(ctx context.Context, interval time.Duration, once func() error) error {
	if err := once(); err != nil {
		return err
	}
	if interval <= 0 {
		return nil
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := once(); err != nil {
				return err
			}
		}
	}
}

func serve(ctx context.Context, opts options, f *config.File, verifierCfg config.VerifierConfig, logger *log.Logger) error {
	addr := f.Server.Addr
	if opts.addr != "" {
		addr = opts.addr
	}
	keyPath := f.Server.SigningKey
	if opts.signingKey != "" {
		keyPath = opts.signingKey
	}

	srv, err := server.New(config.ServerConfig{
		Addr:           addr,
		SigningKeyPath: keyPath,
		Verifier:       verifierCfg,
		Logger:         logger,
	})
	if err != nil {
		return err
	}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func printResult(w io.Writer, format string, res *verify.Result) error {
	return printReport(w, format, report.FromResult(res))
}

// verifyReportFile checks a COSE_Sign1 report against the PEM public key at
// keyPath and prints the report it carries.
func verifyReportFile(w io.Writer, format, reportPath, keyPath string) error {
	if keyPath == "" {
		return errors.New("-verify-report needs -report-key")
	}
	keyPEM, err := os.ReadFile(keyPath)
	if err != nil {
		return fmt.Errorf("read report key: %w", err)
	}
	pub, err := report.ParsePublicKey(keyPEM)
	if err != nil {
		return err
	}
	signed, err := os.ReadFile(reportPath)
	if err != nil {
		return fmt.Errorf("read report: %w", err)
	}
	rep, err := report.Verify(signed, pub)
	if err != nil {
		return err
	}
	return printReport(w, format, rep)
}

func printReport(w io.Writer, format string, rep *report.Report) error {
	switch format {
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(rep)
	case "cbor":
		pretty, err := rep.Pretty()
		if err != nil {
			return err
		}
		_, err = fmt.Fprintln(w, pretty)
		return err
	case "text":
		for _, n := range rep.Nodes {
			if n.Detail != "" {
				fmt.Fprintf(w, "%-45s %-13s %s\n", n.Node.BaseURL, n.Outcome, n.Detail)
			} else {
				fmt.Fprintf(w, "%-45s %s\n", n.Node.BaseURL, n.Outcome)
			}
		}
		if rep.Offline {
			fmt.Fprintln(w, "Offline: no node was contacted")
		}
		_, err := fmt.Fprintln(w, rep.Tally)
		return err
	default:
		return fmt.Errorf("unknown format %q", format)
	}
}

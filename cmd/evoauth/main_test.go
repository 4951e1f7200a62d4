/*
 * Copyright (c) 2025 SECOM CO., LTD. All Rights reserved.
 *
 * SPDX-License-Identifier: BSD-2-Clause
 */

package main

import (
	"bytes"
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"encoding/json"
	"errors"
	"flag"
	"io"
	"log"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/kentakayama/evo-auth/internal/config"
	"github.com/kentakayama/evo-auth/internal/domain"
	"github.com/kentakayama/evo-auth/internal/domain/model"
	"github.com/kentakayama/evo-auth/internal/report"
	"github.com/kentakayama/evo-auth/internal/verify"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var discard = log.New(io.Discard, "", 0)

func TestLoadNodes_DefaultsWithoutConfig(t *testing.T) {
	nodes, err := loadNodes(context.Background(), &config.File{}, "", discard)
	require.Nil(t, err)
	assert.Len(t, nodes, 4)
}

func TestLoadNodes_ConfigFile(t *testing.T) {
	f := &config.File{Nodes: []config.NodeEntry{{URL: "https://node.example.com/", Version: "v2"}}}

	nodes, err := loadNodes(context.Background(), f, "", discard)
	require.Nil(t, err)
	require.Len(t, nodes, 1)
	assert.Equal(t, "https://node.example.com", nodes[0].BaseURL)

	f.Nodes = append(f.Nodes, config.NodeEntry{URL: "https://node.example.com", Version: "v3"})
	_, err = loadNodes(context.Background(), f, "", discard)
	assert.NotNil(t, err)
}

func TestLoadNodes_RegistrySeededOnce(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "nodes.db")
	f := &config.File{Nodes: []config.NodeEntry{
		{URL: "https://a.example.com", Version: "v1"},
		{URL: "https://b.example.com", Version: "v2"},
	}}

	nodes, err := loadNodes(context.Background(), f, dbPath, discard)
	require.Nil(t, err)
	require.Len(t, nodes, 2)
	assert.NotZero(t, nodes[0].ID)
	assert.Equal(t, model.ProtocolV1, nodes[0].Version)

	// the registry wins over the file once populated
	f.Nodes = f.Nodes[:1]
	nodes, err = loadNodes(context.Background(), f, dbPath, discard)
	require.Nil(t, err)
	assert.Len(t, nodes, 2)
}

func TestPoll_SingleRun(t *testing.T) {
	calls := 0
	err := poll(context.Background(), 0, func() error { calls++; return nil })
	require.Nil(t, err)
	assert.Equal(t, 1, calls)
}

func TestPoll_RepeatsUntilCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	err := poll(ctx, 5*time.Millisecond, func() error {
		calls++
		if calls == 3 {
			cancel()
		}
		return nil
	})
	require.Nil(t, err)
	assert.GreaterOrEqual(t, calls, 3)
}

func sampleResult() *verify.Result {
	nodes := []model.NodeResult{
		{Node: model.NodeEndpoint{BaseURL: "https://auth1.example.com", Version: model.ProtocolV2}, Outcome: model.OutcomeVerified},
		{Node: model.NodeEndpoint{BaseURL: "https://auth2.example.com", Version: model.ProtocolV2}, Outcome: model.OutcomeRejected, Detail: "definite rejection"},
	}
	return &verify.Result{RunID: uuid.New(), Mode: verify.ModeSession, Username: "Notch", Tally: model.TallyOf(nodes), Nodes: nodes}
}

func TestPrintResult(t *testing.T) {
	var text bytes.Buffer
	require.Nil(t, printResult(&text, "text", sampleResult()))
	assert.Contains(t, text.String(), "Successful: 1, Failed: 1, Errored: 0, Total: 2")
	assert.Contains(t, text.String(), "definite rejection")

	var js bytes.Buffer
	require.Nil(t, printResult(&js, "json", sampleResult()))
	var decoded map[string]any
	require.Nil(t, json.Unmarshal(js.Bytes(), &decoded))
	assert.Equal(t, float64(2), decoded["total"])

	var pretty bytes.Buffer
	require.Nil(t, printResult(&pretty, "cbor", sampleResult()))
	assert.Contains(t, pretty.String(), `"mode": "session"`)

	offline := &verify.Result{Offline: true, Tally: model.OfflineTally(3)}
	var off bytes.Buffer
	require.Nil(t, printResult(&off, "text", offline))
	assert.Contains(t, off.String(), "Errored: 3, Total: 3")

	assert.NotNil(t, printResult(io.Discard, "xml", sampleResult()))
}

func TestParseFlags_SessionFromEnvironment(t *testing.T) {
	getenv := func(key string) string {
		if key == "EVOAUTH_SESSION" {
			return "secret-token"
		}
		return ""
	}

	opts, err := parseFlags([]string{"-username", "Notch"}, io.Discard, getenv)
	require.Nil(t, err)
	assert.Equal(t, "secret-token", opts.session)
	assert.Equal(t, "text", opts.format)

	opts, err = parseFlags([]string{"-session", "explicit"}, io.Discard, getenv)
	require.Nil(t, err)
	assert.Equal(t, "explicit", opts.session)

	var help bytes.Buffer
	_, err = parseFlags([]string{"-h"}, &help, getenv)
	assert.True(t, errors.Is(err, flag.ErrHelp))
	assert.Contains(t, help.String(), "-session")
	assert.NotContains(t, help.String(), "secret-token")
}

func TestParseFlags_RegistryOps(t *testing.T) {
	opts, err := parseFlags([]string{"-db", "n.db", "-add-node", "https://c.example.com,v2", "-list-nodes"}, io.Discard, func(string) string { return "" })
	require.Nil(t, err)
	assert.True(t, opts.nodes.requested())
	assert.Equal(t, "https://c.example.com,v2", opts.nodes.add)
	assert.False(t, registryOps{}.requested())
}

func TestManageNodes(t *testing.T) {
	ctx := context.Background()
	dbPath := filepath.Join(t.TempDir(), "nodes.db")
	f := &config.File{Nodes: []config.NodeEntry{
		{URL: "https://a.example.com", Version: "v1"},
		{URL: "https://b.example.com", Version: "v2"},
	}}

	var out bytes.Buffer
	err := manageNodes(ctx, f, dbPath, registryOps{
		add:     "https://c.example.com/,v2",
		disable: "https://a.example.com",
		list:    true,
	}, &out, discard)
	require.Nil(t, err)

	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	require.Len(t, lines, 3)
	assert.Contains(t, lines[0], "https://a.example.com")
	assert.Contains(t, lines[0], "disabled")
	assert.Contains(t, lines[2], "https://c.example.com")
	assert.Contains(t, lines[2], "enabled")

	nodes, err := loadNodes(ctx, f, dbPath, discard)
	require.Nil(t, err)
	require.Len(t, nodes, 2)
	assert.Equal(t, "https://b.example.com", nodes[0].BaseURL)
	assert.Equal(t, "https://c.example.com", nodes[1].BaseURL)

	require.Nil(t, manageNodes(ctx, f, dbPath, registryOps{enable: "https://a.example.com"}, io.Discard, discard))
	nodes, err = loadNodes(ctx, f, dbPath, discard)
	require.Nil(t, err)
	require.Len(t, nodes, 3)
	assert.Equal(t, "https://a.example.com", nodes[0].BaseURL)
}

func TestManageNodes_Errors(t *testing.T) {
	ctx := context.Background()
	dbPath := filepath.Join(t.TempDir(), "nodes.db")
	f := &config.File{Nodes: []config.NodeEntry{{URL: "https://a.example.com", Version: "v1"}}}

	err := manageNodes(ctx, f, "", registryOps{list: true}, io.Discard, discard)
	assert.NotNil(t, err)

	err = manageNodes(ctx, f, dbPath, registryOps{add: "https://a.example.com,v2"}, io.Discard, discard)
	assert.ErrorContains(t, err, "already registered")

	err = manageNodes(ctx, f, dbPath, registryOps{add: "https://d.example.com"}, io.Discard, discard)
	assert.ErrorContains(t, err, "url,version")

	err = manageNodes(ctx, f, dbPath, registryOps{add: "https://d.example.com,v9"}, io.Discard, discard)
	assert.NotNil(t, err)

	err = manageNodes(ctx, f, dbPath, registryOps{disable: "https://unknown.example.com"}, io.Discard, discard)
	assert.True(t, errors.Is(err, domain.ErrNotFound))
}

func TestVerifyReportFile(t *testing.T) {
	dir := t.TempDir()
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.Nil(t, err)
	signer, err := report.NewSigner(key)
	require.Nil(t, err)

	signed, err := signer.Sign(report.FromResult(sampleResult()))
	require.Nil(t, err)
	reportPath := filepath.Join(dir, "run.cose")
	require.Nil(t, os.WriteFile(reportPath, signed, 0o600))

	pubPEM, err := report.EncodePublicKey(signer.PublicKey())
	require.Nil(t, err)
	keyPath := filepath.Join(dir, "report-key.pem")
	require.Nil(t, os.WriteFile(keyPath, pubPEM, 0o600))

	var out bytes.Buffer
	require.Nil(t, verifyReportFile(&out, "text", reportPath, keyPath))
	assert.Contains(t, out.String(), "Successful: 1, Failed: 1, Errored: 0, Total: 2")

	assert.NotNil(t, verifyReportFile(io.Discard, "text", reportPath, ""))

	other, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.Nil(t, err)
	otherPEM, err := report.EncodePublicKey(&other.PublicKey)
	require.Nil(t, err)
	otherPath := filepath.Join(dir, "other.pem")
	require.Nil(t, os.WriteFile(otherPath, otherPEM, 0o600))
	err = verifyReportFile(io.Discard, "text", reportPath, otherPath)
	assert.True(t, errors.Is(err, report.ErrKeyMismatch))
}

/*
 * Copyright (c) 2025 SECOM CO., LTD. All Rights reserved.
 *
 * SPDX-License-Identifier: BSD-2-Clause
 */

// Package testutil provides in-process fakes of the remote parties the
// verifier talks to: trust nodes, the session service and IP lookup
// services. They are httptest servers with call counters so tests can
// assert which stages were reached.
package testutil

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"testing"

	"github.com/kentakayama/evo-auth/internal/domain/model"
)

// Stage names used by FakeNode.Calls.
const (
	StageChallenge = "challenge"
	StageResult    = "result"
	StageLookup    = "lookup"
)

// FakeNode answers both node protocol versions.
type FakeNode struct {
	*httptest.Server

	mu      sync.Mutex
	version model.ProtocolVersion
	calls   map[string]int
	queries map[string]url.Values

	challenge       string
	challengeFields map[string]any
	result          any
	resultRaw       string
	verified        any
	failing         map[string]int
	stalled         map[string]bool
}

// NodeOption adjusts a FakeNode.
type NodeOption func(*FakeNode)

// WithChallenge sets the challenge the node issues.
func WithChallenge(challenge string) NodeOption {
	return func(n *FakeNode) { n.challenge = challenge }
}

// WithChallengeFields replaces the whole stage 1 response object.
func WithChallengeFields(fields map[string]any) NodeOption {
	return func(n *FakeNode) { n.challengeFields = fields }
}

// WithResult sets the value of the "result" field in stage 3.
func WithResult(result any) NodeOption {
	return func(n *FakeNode) { n.result = result }
}

// WithRawResult makes stage 3 answer with body verbatim.
func WithRawResult(body string) NodeOption {
	return func(n *FakeNode) { n.resultRaw = body }
}

// WithVerified sets the lookup answer.
func WithVerified(verified any) NodeOption {
	return func(n *FakeNode) { n.verified = verified }
}

// WithFailingStage makes stage answer with status.
func WithFailingStage(stage string, status int) NodeOption {
	return func(n *FakeNode) { n.failing[stage] = status }
}

// WithStalledStage makes stage block until the client gives up.
func WithStalledStage(stage string) NodeOption {
	return func(n *FakeNode) { n.stalled[stage] = true }
}

// NewFakeNode starts a node that, by default, issues a challenge and
// confirms the player.
func NewFakeNode(tb testing.TB, version model.ProtocolVersion, opts ...NodeOption) *FakeNode {
	tb.Helper()
	n := &FakeNode{
		version:   version,
		calls:     map[string]int{},
		queries:   map[string]url.Values{},
		challenge: "3f1c9a6d",
		result:    true,
		verified:  true,
		failing:   map[string]int{},
		stalled:   map[string]bool{},
	}
	for _, opt := range opts {
		opt(n)
	}
	n.Server = httptest.NewServer(http.HandlerFunc(n.serveHTTP))
	tb.Cleanup(n.Server.Close)
	return n
}

// Endpoint describes the fake as a configured node.
func (n *FakeNode) Endpoint() model.NodeEndpoint {
	return model.NodeEndpoint{BaseURL: n.URL, Version: n.version, Enabled: true}
}

// Calls returns how often stage was requested.
func (n *FakeNode) Calls(stage string) int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.calls[stage]
}

// TotalCalls returns the number of requests of any kind.
func (n *FakeNode) TotalCalls() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	total := 0
	for _, c := range n.calls {
		total += c
	}
	return total
}

// LastQuery returns the query of the latest request for stage.
func (n *FakeNode) LastQuery(stage string) url.Values {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.queries[stage]
}

func (n *FakeNode) stageOf(r *http.Request) string {
	q := r.URL.Query()
	switch n.version {
	case model.ProtocolV1:
		switch {
		case r.URL.Path == "/userAuth.php" && q.Get("method") == "1":
			return StageChallenge
		case r.URL.Path == "/userAuth.php" && q.Get("method") == "2":
			return StageResult
		case r.URL.Path == "/serverAuth.php" && q.Get("method") == "1":
			return StageLookup
		}
	case model.ProtocolV2:
		switch r.URL.Path {
		case "/user/getServerID":
			return StageChallenge
		case "/user/successfulAuth":
			return StageResult
		case "/server/getVerification":
			return StageLookup
		}
	}
	return ""
}

func (n *FakeNode) serveHTTP(w http.ResponseWriter, r *http.Request) {
	stage := n.stageOf(r)
	if stage == "" {
		http.NotFound(w, r)
		return
	}

	n.mu.Lock()
	n.calls[stage]++
	n.queries[stage] = r.URL.Query()
	status, failing := n.failing[stage]
	stalled := n.stalled[stage]
	n.mu.Unlock()

	if stalled {
		<-r.Context().Done()
		return
	}
	if failing {
		http.Error(w, http.StatusText(status), status)
		return
	}

	q := r.URL.Query()
	switch stage {
	case StageChallenge:
		writeJSON(w, n.challengeBody(q))
	case StageResult:
		if n.resultRaw != "" {
			w.Header().Set("Content-Type", "application/json")
			w.Write([]byte(n.resultRaw))
			return
		}
		writeJSON(w, map[string]any{"result": n.result})
	case StageLookup:
		if n.version == model.ProtocolV1 {
			writeJSON(w, map[string]any{"result": true, "verified": n.verified})
		} else {
			writeJSON(w, map[string]any{"verified": n.verified, "error": false})
		}
	}
}

func (n *FakeNode) challengeBody(q url.Values) map[string]any {
	if n.challengeFields != nil {
		return n.challengeFields
	}
	if n.version == model.ProtocolV1 {
		return map[string]any{
			"result":   true,
			"username": q.Get("username"),
			"userip":   "",
			"serverId": n.challenge,
		}
	}
	return map[string]any{
		"userIP":   q.Get("userip"),
		"error":    false,
		"serverID": n.challenge,
		"username": q.Get("username"),
	}
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}

// FakeAuthority stands in for the session service.
type FakeAuthority struct {
	*httptest.Server

	mu         sync.Mutex
	body       string
	status     int
	stalled    bool
	calls      int
	challenges []string
}

// NewFakeAuthority starts a session service answering body with status.
func NewFakeAuthority(tb testing.TB, body string, status int) *FakeAuthority {
	tb.Helper()
	a := &FakeAuthority{body: body, status: status}
	a.Server = httptest.NewServer(http.HandlerFunc(a.serveHTTP))
	tb.Cleanup(a.Server.Close)
	return a
}

// Stall makes every following request block until the client gives up.
func (a *FakeAuthority) Stall() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.stalled = true
}

// JoinURL is the session service endpoint to configure.
func (a *FakeAuthority) JoinURL() string {
	return a.URL + "/game/joinserver.jsp"
}

func (a *FakeAuthority) Calls() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.calls
}

// Challenges returns every serverId the service was asked about.
func (a *FakeAuthority) Challenges() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]string(nil), a.challenges...)
}

func (a *FakeAuthority) serveHTTP(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/game/joinserver.jsp" {
		http.NotFound(w, r)
		return
	}
	a.mu.Lock()
	a.calls++
	a.challenges = append(a.challenges, r.URL.Query().Get("serverId"))
	body, status, stalled := a.body, a.status, a.stalled
	a.mu.Unlock()

	if stalled {
		<-r.Context().Done()
		return
	}
	w.Header().Set("Content-Type", "text/plain")
	w.WriteHeader(status)
	w.Write([]byte(body))
}

// FakeIPSource is a plain-text IP lookup service.
type FakeIPSource struct {
	*httptest.Server

	mu    sync.Mutex
	calls int
}

// NewFakeIPSource starts a lookup service answering body with status.
func NewFakeIPSource(tb testing.TB, body string, status int) *FakeIPSource {
	tb.Helper()
	s := &FakeIPSource{}
	s.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		s.calls++
		s.mu.Unlock()
		w.WriteHeader(status)
		w.Write([]byte(body))
	}))
	tb.Cleanup(s.Server.Close)
	return s
}

func (s *FakeIPSource) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

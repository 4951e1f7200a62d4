/*
 * Copyright (c) 2025 SECOM CO., LTD. All Rights reserved.
 *
 * SPDX-License-Identifier: BSD-2-Clause
 */

package evolutions

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/kentakayama/evo-auth/internal/config"
	"github.com/kentakayama/evo-auth/internal/domain"
	"github.com/kentakayama/evo-auth/internal/domain/model"
	"github.com/kentakayama/evo-auth/internal/infra/authority"
	"github.com/kentakayama/evo-auth/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testUser  = "Notch"
	testToken = "token-123"
	testIP    = "203.0.113.7"
)

func testConfig(authorityURL string) config.VerifierConfig {
	return config.VerifierConfig{
		AuthorityURL:   authorityURL,
		ConnectTimeout: time.Second,
		ReadTimeout:    200 * time.Millisecond,
	}
}

func newClient(t *testing.T, auth *testutil.FakeAuthority) *Client {
	t.Helper()
	cfg := testConfig(auth.JoinURL())
	a, err := authority.NewClient(cfg)
	require.Nil(t, err)
	return NewClient(cfg, a)
}

func TestVerify_V2Verified(t *testing.T) {
	auth := testutil.NewFakeAuthority(t, "OK", http.StatusOK)
	node := testutil.NewFakeNode(t, model.ProtocolV2, testutil.WithChallenge("c0ffee"))
	c := newClient(t, auth)

	outcome, err := c.Verify(context.Background(), testUser, node.Endpoint(), testToken, testIP)
	require.Nil(t, err)
	assert.Equal(t, model.OutcomeVerified, outcome)

	assert.Equal(t, testUser, node.LastQuery(testutil.StageChallenge).Get("username"))
	assert.Equal(t, testIP, node.LastQuery(testutil.StageChallenge).Get("userip"))
	assert.Equal(t, []string{"c0ffee"}, auth.Challenges())
	assert.Equal(t, "c0ffee", node.LastQuery(testutil.StageResult).Get("serverid"))
	assert.Equal(t, testIP, node.LastQuery(testutil.StageResult).Get("userip"))
}

func TestVerify_MixedCaseOK(t *testing.T) {
	for _, body := range []string{"ok", "Ok", "oK\n"} {
		auth := testutil.NewFakeAuthority(t, body, http.StatusOK)
		node := testutil.NewFakeNode(t, model.ProtocolV2)
		c := newClient(t, auth)

		outcome, err := c.Verify(context.Background(), testUser, node.Endpoint(), testToken, testIP)
		require.Nil(t, err, body)
		assert.Equal(t, model.OutcomeVerified, outcome, body)
	}
}

func TestVerify_V1Verified(t *testing.T) {
	auth := testutil.NewFakeAuthority(t, "OK", http.StatusOK)
	node := testutil.NewFakeNode(t, model.ProtocolV1, testutil.WithChallenge("v1chal"))
	c := newClient(t, auth)

	outcome, err := c.Verify(context.Background(), testUser, node.Endpoint(), testToken, testIP)
	require.Nil(t, err)
	assert.Equal(t, model.OutcomeVerified, outcome)
	assert.Equal(t, "1", node.LastQuery(testutil.StageChallenge).Get("method"))
	assert.Equal(t, "2", node.LastQuery(testutil.StageResult).Get("method"))
	assert.Equal(t, "v1chal", node.LastQuery(testutil.StageResult).Get("serverId"))
}

func TestVerify_AuthorityRejectionSkipsResultStage(t *testing.T) {
	auth := testutil.NewFakeAuthority(t, "Bad login", http.StatusOK)
	node := testutil.NewFakeNode(t, model.ProtocolV2)
	c := newClient(t, auth)

	outcome, err := c.Verify(context.Background(), testUser, node.Endpoint(), testToken, testIP)
	assert.Equal(t, model.OutcomeRejected, outcome)
	assert.True(t, errors.Is(err, domain.ErrRejected))
	assert.Equal(t, model.OutcomeRejected, model.Classify(err))
	assert.Equal(t, 1, node.Calls(testutil.StageChallenge))
	assert.Equal(t, 0, node.Calls(testutil.StageResult))
}

func TestVerify_NodeRejects(t *testing.T) {
	for _, result := range []any{false, "false", "FALSE"} {
		auth := testutil.NewFakeAuthority(t, "OK", http.StatusOK)
		node := testutil.NewFakeNode(t, model.ProtocolV2, testutil.WithResult(result))
		c := newClient(t, auth)

		outcome, err := c.Verify(context.Background(), testUser, node.Endpoint(), testToken, testIP)
		assert.Equal(t, model.OutcomeRejected, outcome, result)
		assert.True(t, errors.Is(err, domain.ErrRejected), result)
	}
}

func TestVerify_MissingServerIDIsIndeterminate(t *testing.T) {
	auth := testutil.NewFakeAuthority(t, "OK", http.StatusOK)
	node := testutil.NewFakeNode(t, model.ProtocolV2, testutil.WithChallengeFields(map[string]any{
		"userIP":   testIP,
		"error":    false,
		"username": testUser,
	}))
	c := newClient(t, auth)

	outcome, err := c.Verify(context.Background(), testUser, node.Endpoint(), testToken, testIP)
	assert.Equal(t, model.OutcomeIndeterminate, outcome)
	assert.True(t, errors.Is(err, domain.ErrMalformedResponse))

	var malformed *MalformedError
	require.True(t, errors.As(err, &malformed))
	assert.Equal(t, []string{"serverID"}, malformed.Missing)
	assert.Equal(t, 0, auth.Calls())
	assert.Equal(t, 0, node.Calls(testutil.StageResult))
}

func TestVerify_MissingFieldsAreAllReported(t *testing.T) {
	auth := testutil.NewFakeAuthority(t, "OK", http.StatusOK)
	node := testutil.NewFakeNode(t, model.ProtocolV2, testutil.WithChallengeFields(map[string]any{"error": false}))
	c := newClient(t, auth)

	_, err := c.Verify(context.Background(), testUser, node.Endpoint(), testToken, testIP)
	var malformed *MalformedError
	require.True(t, errors.As(err, &malformed))
	assert.Equal(t, []string{"userIP", "serverID", "username"}, malformed.Missing)
}

func TestVerify_ResultOfWrongTypeIsIndeterminate(t *testing.T) {
	for _, raw := range []string{`{"result":1}`, `{"result":null}`, `{"result":"maybe"}`, `{}`, `not json`} {
		auth := testutil.NewFakeAuthority(t, "OK", http.StatusOK)
		node := testutil.NewFakeNode(t, model.ProtocolV2, testutil.WithRawResult(raw))
		c := newClient(t, auth)

		outcome, err := c.Verify(context.Background(), testUser, node.Endpoint(), testToken, testIP)
		assert.Equal(t, model.OutcomeIndeterminate, outcome, raw)
		assert.True(t, errors.Is(err, domain.ErrMalformedResponse), raw)
	}
}

func TestVerify_TimeoutAtAnyStageIsIndeterminate(t *testing.T) {
	cases := map[string]func(t *testing.T) (*testutil.FakeAuthority, *testutil.FakeNode){
		"challenge": func(t *testing.T) (*testutil.FakeAuthority, *testutil.FakeNode) {
			return testutil.NewFakeAuthority(t, "OK", http.StatusOK),
				testutil.NewFakeNode(t, model.ProtocolV2, testutil.WithStalledStage(testutil.StageChallenge))
		},
		"authority": func(t *testing.T) (*testutil.FakeAuthority, *testutil.FakeNode) {
			auth := testutil.NewFakeAuthority(t, "OK", http.StatusOK)
			auth.Stall()
			return auth, testutil.NewFakeNode(t, model.ProtocolV2)
		},
		"result": func(t *testing.T) (*testutil.FakeAuthority, *testutil.FakeNode) {
			return testutil.NewFakeAuthority(t, "OK", http.StatusOK),
				testutil.NewFakeNode(t, model.ProtocolV2, testutil.WithStalledStage(testutil.StageResult))
		},
	}

	for name, setup := range cases {
		t.Run(name, func(t *testing.T) {
			auth, node := setup(t)
			c := newClient(t, auth)

			// repeated attempts classify the same way
			for range 2 {
				outcome, err := c.Verify(context.Background(), testUser, node.Endpoint(), testToken, testIP)
				assert.Equal(t, model.OutcomeIndeterminate, outcome)
				assert.True(t, errors.Is(err, domain.ErrTransport))
				assert.Equal(t, model.OutcomeIndeterminate, model.Classify(err))
			}
		})
	}
}

func TestVerify_NodeErrorStatusIsIndeterminate(t *testing.T) {
	auth := testutil.NewFakeAuthority(t, "OK", http.StatusOK)
	node := testutil.NewFakeNode(t, model.ProtocolV2, testutil.WithFailingStage(testutil.StageResult, http.StatusBadGateway))
	c := newClient(t, auth)

	outcome, err := c.Verify(context.Background(), testUser, node.Endpoint(), testToken, testIP)
	assert.Equal(t, model.OutcomeIndeterminate, outcome)
	assert.True(t, errors.Is(err, domain.ErrTransport))
}

func TestVerify_AuthorityFailureIsNeverRejection(t *testing.T) {
	auth := testutil.NewFakeAuthority(t, "", http.StatusServiceUnavailable)
	node := testutil.NewFakeNode(t, model.ProtocolV2)
	c := newClient(t, auth)

	outcome, err := c.Verify(context.Background(), testUser, node.Endpoint(), testToken, testIP)
	assert.Equal(t, model.OutcomeIndeterminate, outcome)
	assert.False(t, errors.Is(err, domain.ErrRejected))
	assert.Equal(t, 0, node.Calls(testutil.StageResult))
}

func TestVerify_InvalidUTF8IsIndeterminate(t *testing.T) {
	auth := testutil.NewFakeAuthority(t, "OK", http.StatusOK)
	node := testutil.NewFakeNode(t, model.ProtocolV2)
	c := newClient(t, auth)

	outcome, err := c.Verify(context.Background(), "bad\xff", node.Endpoint(), testToken, testIP)
	assert.Equal(t, model.OutcomeIndeterminate, outcome)
	assert.True(t, errors.Is(err, domain.ErrEncoding))
	assert.Equal(t, 0, node.TotalCalls())
}

func TestVerify_UnknownVersion(t *testing.T) {
	auth := testutil.NewFakeAuthority(t, "OK", http.StatusOK)
	c := newClient(t, auth)

	outcome, err := c.Verify(context.Background(), testUser, model.NodeEndpoint{BaseURL: "http://127.0.0.1:1"}, testToken, testIP)
	assert.Equal(t, model.OutcomeIndeterminate, outcome)
	assert.True(t, errors.Is(err, domain.ErrUnsupportedVersion))
}

func TestLookup(t *testing.T) {
	auth := testutil.NewFakeAuthority(t, "OK", http.StatusOK)
	c := newClient(t, auth)

	for _, version := range []model.ProtocolVersion{model.ProtocolV1, model.ProtocolV2} {
		yes := testutil.NewFakeNode(t, version, testutil.WithVerified(true))
		outcome, err := c.Lookup(context.Background(), testUser, testIP, yes.Endpoint())
		require.Nil(t, err, version)
		assert.Equal(t, model.OutcomeVerified, outcome, version)
		assert.Equal(t, testIP, yes.LastQuery(testutil.StageLookup).Get("userip"), version)

		no := testutil.NewFakeNode(t, version, testutil.WithVerified("false"))
		outcome, err = c.Lookup(context.Background(), testUser, testIP, no.Endpoint())
		assert.Equal(t, model.OutcomeRejected, outcome, version)
		assert.True(t, errors.Is(err, domain.ErrRejected), version)

		down := testutil.NewFakeNode(t, version, testutil.WithFailingStage(testutil.StageLookup, http.StatusInternalServerError))
		outcome, _ = c.Lookup(context.Background(), testUser, testIP, down.Endpoint())
		assert.Equal(t, model.OutcomeIndeterminate, outcome, version)
	}
	assert.Equal(t, 0, auth.Calls())
}

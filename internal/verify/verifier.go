/*
 * Copyright (c) 2025 SECOM CO., LTD. All Rights reserved.
 *
 * SPDX-License-Identifier: BSD-2-Clause
 */

package verify

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/kentakayama/evo-auth/internal/config"
	"github.com/kentakayama/evo-auth/internal/domain/model"
	"github.com/kentakayama/evo-auth/internal/infra/authority"
	"github.com/kentakayama/evo-auth/internal/infra/evolutions"
	"github.com/kentakayama/evo-auth/internal/infra/ipresolve"
)

// IPResolver discovers the public address of this host.
type IPResolver interface {
	Resolve(ctx context.Context) (string, bool)
}

// NodeClient talks to a single trust node.
type NodeClient interface {
	Verify(ctx context.Context, username string, node model.NodeEndpoint, sessionToken, callerIP string) (model.Outcome, error)
	Lookup(ctx context.Context, username, userIP string, node model.NodeEndpoint) (model.Outcome, error)
}

type Mode string

const (
	ModeSession Mode = "session"
	ModeLookup  Mode = "lookup"
)

// Result is the detailed outcome of one run over every configured node.
type Result struct {
	RunID      uuid.UUID
	Mode       Mode
	Username   string
	CallerIP   string
	Offline    bool
	Tally      model.Tally
	Nodes      []model.NodeResult
	StartedAt  time.Time
	FinishedAt time.Time
}

// Verifier fans a verification out to every configured node and folds the
// per-node outcomes into a tally. The node list is read-only after
// construction, so one Verifier may serve concurrent runs.
type Verifier struct {
	nodes    []model.NodeEndpoint
	resolver IPResolver
	client   NodeClient
	logger   *log.Logger
}

// New wires the production clients from cfg.
func New(cfg config.VerifierConfig) (*Verifier, error) {
	cfg = cfg.WithDefaults()

	auth, err := authority.NewClient(cfg)
	if err != nil {
		return nil, fmt.Errorf("session service client: %w", err)
	}
	return NewWithClients(cfg.Nodes, ipresolve.NewResolver(cfg), evolutions.NewClient(cfg, auth), cfg.Logger), nil
}

func NewWithClients(nodes []model.NodeEndpoint, resolver IPResolver, client NodeClient, logger *log.Logger) *Verifier {
	if logger == nil {
		logger = log.Default()
	}
	return &Verifier{
		nodes:    append([]model.NodeEndpoint(nil), nodes...),
		resolver: resolver,
		client:   client,
		logger:   logger,
	}
}

// Nodes returns a copy of the configured node list.
func (v *Verifier) Nodes() []model.NodeEndpoint {
	return append([]model.NodeEndpoint(nil), v.nodes...)
}

// RunVerification verifies username's session with every node and returns
// the tally. Node failures are counted, never returned.
func (v *Verifier) RunVerification(ctx context.Context, username, sessionToken string) model.Tally {
	return v.Run(ctx, username, sessionToken).Tally
}

// Run is RunVerification with per-node detail. When the public address
// cannot be determined no node is contacted and every node counts as
// errored.
func (v *Verifier) Run(ctx context.Context, username, sessionToken string) *Result {
	res := v.newResult(ModeSession, username)

	callerIP, ok := v.resolver.Resolve(ctx)
	if !ok {
		v.logger.Printf("Unable to determine the public IP address, %d nodes were not contacted", len(v.nodes))
		res.Offline = true
		res.Tally = model.OfflineTally(len(v.nodes))
		res.FinishedAt = time.Now()
		return res
	}
	res.CallerIP = callerIP

	v.fanOut(res, func(node model.NodeEndpoint) (model.Outcome, error) {
		return v.client.Verify(ctx, username, node, sessionToken, callerIP)
	})
	return res
}

// VerifyUser asks every node whether username verified from userIP. This
// is the server-side half of the protocol and needs no address lookup.
func (v *Verifier) VerifyUser(ctx context.Context, username, userIP string) *Result {
	res := v.newResult(ModeLookup, username)
	res.CallerIP = userIP

	v.fanOut(res, func(node model.NodeEndpoint) (model.Outcome, error) {
		return v.client.Lookup(ctx, username, userIP, node)
	})
	return res
}

func (v *Verifier) newResult(mode Mode, username string) *Result {
	return &Result{
		RunID:     uuid.New(),
		Mode:      mode,
		Username:  username,
		StartedAt: time.Now(),
	}
}

// fanOut runs attempt against every node concurrently. Each goroutine owns
// one slot of the result slice; the tally is folded after all return.
func (v *Verifier) fanOut(res *Result, attempt func(model.NodeEndpoint) (model.Outcome, error)) {
	results := make([]model.NodeResult, len(v.nodes))

	var wg sync.WaitGroup
	for i, node := range v.nodes {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results[i] = v.attemptNode(node, attempt)
		}()
	}
	wg.Wait()

	res.Nodes = results
	res.Tally = model.TallyOf(results)
	res.FinishedAt = time.Now()
}

func (v *Verifier) attemptNode(node model.NodeEndpoint, attempt func(model.NodeEndpoint) (model.Outcome, error)) (result model.NodeResult) {
	result = model.NodeResult{Node: node, Outcome: model.OutcomeIndeterminate}
	defer func() {
		if r := recover(); r != nil {
			v.logger.Printf("node %s: attempt panicked: %v", node.BaseURL, r)
			result.Outcome = model.OutcomeIndeterminate
			result.Detail = fmt.Sprint(r)
		}
	}()

	outcome, err := attempt(node)
	result.Outcome = outcome
	if err != nil {
		result.Detail = err.Error()
		// a client must never report success alongside an error
		if outcome == model.OutcomeVerified {
			result.Outcome = model.Classify(err)
		}
	}
	return result
}

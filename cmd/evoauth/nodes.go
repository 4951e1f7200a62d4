/*
 * Copyright (c) 2025 SECOM CO., LTD. All Rights reserved.
 *
 * SPDX-License-Identifier: BSD-2-Clause
 */

package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"strings"

	"github.com/kentakayama/evo-auth/internal/config"
	"github.com/kentakayama/evo-auth/internal/domain/model"
	"github.com/kentakayama/evo-auth/internal/domain/service"
	"github.com/kentakayama/evo-auth/internal/infra/sqlite"
)

// registryOps are the node registry edits requested on the command line.
type registryOps struct {
	add     string // url,version
	enable  string
	disable string
	list    bool
}

func (o registryOps) requested() bool {
	return o.add != "" || o.enable != "" || o.disable != "" || o.list
}

// configuredNodes returns the config file nodes, or the built-in list when
// the file names none.
func configuredNodes(f *config.File) ([]model.NodeEndpoint, error) {
	nodes, err := config.ParseNodes(f.Nodes)
	if err != nil {
		return nil, fmt.Errorf("config nodes: %w", err)
	}
	if len(nodes) == 0 {
		return config.DefaultNodes()
	}
	return nodes, nil
}

// loadNodes picks the node list: the database when one is configured
// (seeded from the config file or the built-in list on first use), else the
// config file, else the built-in list.
func loadNodes(ctx context.Context, f *config.File, dbPath string, logger *log.Logger) ([]model.NodeEndpoint, error) {
	configured, err := configuredNodes(f)
	if err != nil {
		return nil, err
	}
	if dbPath == "" {
		return configured, nil
	}

	db, err := sqlite.InitDB(ctx, dbPath)
	if err != nil {
		return nil, err
	}
	defer sqlite.CloseDB(db)

	return nodesFromRegistry(ctx, sqlite.NewNodeRepository(db), configured, logger)
}

func nodesFromRegistry(ctx context.Context, repo service.NodeRepository, seed []model.NodeEndpoint, logger *log.Logger) ([]model.NodeEndpoint, error) {
	if err := seedRegistry(ctx, repo, seed, logger); err != nil {
		return nil, err
	}
	return repo.ListEnabled(ctx)
}

func seedRegistry(ctx context.Context, repo service.NodeRepository, seed []model.NodeEndpoint, logger *log.Logger) error {
	seeded, err := repo.SeedIfEmpty(ctx, seed)
	if err != nil {
		return err
	}
	if seeded {
		logger.Printf("Node registry was empty, stored %d nodes", len(seed))
	}
	return nil
}

// manageNodes applies ops to the registry at dbPath and writes the listing
// to w when asked for.
func manageNodes(ctx context.Context, f *config.File, dbPath string, ops registryOps, w io.Writer, logger *log.Logger) error {
	if dbPath == "" {
		return errors.New("managing nodes needs -db or database.path")
	}
	seed, err := configuredNodes(f)
	if err != nil {
		return err
	}

	db, err := sqlite.InitDB(ctx, dbPath)
	if err != nil {
		return err
	}
	defer sqlite.CloseDB(db)

	return editRegistry(ctx, sqlite.NewNodeRepository(db), seed, ops, w, logger)
}

func editRegistry(ctx context.Context, repo service.NodeRepository, seed []model.NodeEndpoint, ops registryOps, w io.Writer, logger *log.Logger) error {
	if err := seedRegistry(ctx, repo, seed, logger); err != nil {
		return err
	}

	if ops.add != "" {
		if err := addNode(ctx, repo, ops.add, logger); err != nil {
			return err
		}
	}
	toggles := []struct {
		url     string
		enabled bool
	}{{ops.enable, true}, {ops.disable, false}}
	for _, tg := range toggles {
		if tg.url == "" {
			continue
		}
		base, err := config.NormalizeBaseURL(tg.url)
		if err != nil {
			return err
		}
		if err := repo.SetEnabled(ctx, base, tg.enabled); err != nil {
			return err
		}
		logger.Printf("Node %s enabled=%t", base, tg.enabled)
	}

	if !ops.list {
		return nil
	}
	nodes, err := repo.ListAll(ctx)
	if err != nil {
		return err
	}
	for _, n := range nodes {
		state := "enabled"
		if !n.Enabled {
			state = "disabled"
		}
		fmt.Fprintf(w, "%-4d %-45s %-3s %s\n", n.ID, n.BaseURL, n.Version, state)
	}
	return nil
}

func addNode(ctx context.Context, repo service.NodeRepository, spec string, logger *log.Logger) error {
	rawURL, version, ok := strings.Cut(spec, ",")
	if !ok {
		return fmt.Errorf("-add-node %q: want url,version", spec)
	}
	parsed, err := config.ParseNodes([]config.NodeEntry{{URL: rawURL, Version: strings.TrimSpace(version)}})
	if err != nil {
		return err
	}
	node := parsed[0]

	existing, err := repo.FindByBaseURL(ctx, node.BaseURL)
	if err != nil {
		return err
	}
	if existing != nil {
		return fmt.Errorf("node %s is already registered as id %d", node.BaseURL, existing.ID)
	}

	id, err := repo.Create(ctx, &node)
	if err != nil {
		return err
	}
	logger.Printf("Added node %s (%s) as id %d", node.BaseURL, node.Version, id)
	return nil
}

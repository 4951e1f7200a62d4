/*
 * Copyright (c) 2025 SECOM CO., LTD. All Rights reserved.
 *
 * SPDX-License-Identifier: BSD-2-Clause
 */

package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/kentakayama/evo-auth/internal/domain"
	"github.com/kentakayama/evo-auth/internal/domain/model"
)

// NodeRepository handles trust node persistence.
type NodeRepository struct {
	db *sql.DB
}

func NewNodeRepository(db *sql.DB) *NodeRepository {
	return &NodeRepository{db: db}
}

// Create appends a node to the end of the list and returns the inserted id.
func (r *NodeRepository) Create(ctx context.Context, n *model.NodeEndpoint) (int64, error) {
	const q = `
		INSERT INTO nodes (base_url, version, enabled, position, created_at)
		VALUES (?, ?, ?, (SELECT COALESCE(MAX(position), 0) + 1 FROM nodes), ?)
	`
	createdAt := n.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	res, err := r.db.ExecContext(ctx, q, n.BaseURL, n.Version.String(), n.Enabled, createdAt)
	if err != nil {
		return 0, fmt.Errorf("insert node: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, err
	}
	return id, nil
}

// ListEnabled returns the nodes to verify with, in insertion order.
func (r *NodeRepository) ListEnabled(ctx context.Context) ([]model.NodeEndpoint, error) {
	return r.list(ctx, `
		SELECT id, base_url, version, enabled, created_at
		FROM nodes
		WHERE enabled = 1
		ORDER BY position, id
	`)
}

// ListAll returns every node, including disabled ones.
func (r *NodeRepository) ListAll(ctx context.Context) ([]model.NodeEndpoint, error) {
	return r.list(ctx, `
		SELECT id, base_url, version, enabled, created_at
		FROM nodes
		ORDER BY position, id
	`)
}

func (r *NodeRepository) list(ctx context.Context, q string) ([]model.NodeEndpoint, error) {
	rows, err := r.db.QueryContext(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("query nodes: %w", err)
	}
	defer rows.Close()

	var nodes []model.NodeEndpoint
	for rows.Next() {
		n, err := scanNode(rows)
		if err != nil {
			return nil, err
		}
		nodes = append(nodes, *n)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate nodes: %w", err)
	}
	return nodes, nil
}

// FindByBaseURL returns the node registered under baseURL, or nil.
func (r *NodeRepository) FindByBaseURL(ctx context.Context, baseURL string) (*model.NodeEndpoint, error) {
	const q = `
		SELECT id, base_url, version, enabled, created_at
		FROM nodes
		WHERE base_url = ?
		LIMIT 1
	`
	n, err := scanNode(r.db.QueryRowContext(ctx, q, baseURL))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return n, err
}

// SetEnabled includes or excludes a node from future runs.
func (r *NodeRepository) SetEnabled(ctx context.Context, baseURL string, enabled bool) error {
	res, err := r.db.ExecContext(ctx, `UPDATE nodes SET enabled = ? WHERE base_url = ?`, enabled, baseURL)
	if err != nil {
		return fmt.Errorf("update node: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return fmt.Errorf("node %s: %w", baseURL, domain.ErrNotFound)
	}
	return nil
}

// SeedIfEmpty stores nodes when the table holds no node at all, so a fresh
// database starts from the default list. It reports whether it inserted.
func (r *NodeRepository) SeedIfEmpty(ctx context.Context, nodes []model.NodeEndpoint) (bool, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var count int
	if err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM nodes`).Scan(&count); err != nil {
		return false, fmt.Errorf("count nodes: %w", err)
	}
	if count > 0 {
		return false, nil
	}

	now := time.Now().UTC()
	for i, n := range nodes {
		const q = `INSERT INTO nodes (base_url, version, enabled, position, created_at) VALUES (?, ?, 1, ?, ?)`
		if _, err := tx.ExecContext(ctx, q, n.BaseURL, n.Version.String(), i+1, now); err != nil {
			return false, fmt.Errorf("insert node %s: %w", n.BaseURL, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("failed to commit transaction: %w", err)
	}
	return true, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanNode(row rowScanner) (*model.NodeEndpoint, error) {
	var (
		n       model.NodeEndpoint
		version string
	)
	if err := row.Scan(&n.ID, &n.BaseURL, &version, &n.Enabled, &n.CreatedAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("scan node: %w", err)
	}
	v, err := model.ParseProtocolVersion(version)
	if err != nil {
		return nil, fmt.Errorf("node %s: %w", n.BaseURL, err)
	}
	n.Version = v
	return &n, nil
}

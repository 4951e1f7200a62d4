/*
 * Copyright (c) 2025 SECOM CO., LTD. All Rights reserved.
 *
 * SPDX-License-Identifier: BSD-2-Clause
 */

package service

import (
	"context"

	"github.com/kentakayama/evo-auth/internal/domain/model"
)

// NodeRepository defines the interface for trust node persistence.
type NodeRepository interface {
	Create(ctx context.Context, n *model.NodeEndpoint) (int64, error)
	ListEnabled(ctx context.Context) ([]model.NodeEndpoint, error)
	ListAll(ctx context.Context) ([]model.NodeEndpoint, error)
	FindByBaseURL(ctx context.Context, baseURL string) (*model.NodeEndpoint, error)
	SetEnabled(ctx context.Context, baseURL string, enabled bool) error
	SeedIfEmpty(ctx context.Context, nodes []model.NodeEndpoint) (bool, error)
}

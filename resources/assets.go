/*
 * Copyright (c) 2025 SECOM CO., LTD. All Rights reserved.
 *
 * SPDX-License-Identifier: BSD-2-Clause
 */

package resources

import (
	_ "embed"
)

var (
	// DefaultNodesYAML lists the public trust nodes used when no config file
	// or registry database provides any.
	//go:embed default_nodes.yaml
	DefaultNodesYAML []byte
)

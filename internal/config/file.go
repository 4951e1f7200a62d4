/*
 * Copyright (c) 2025 SECOM CO., LTD. All Rights reserved.
 *
 * SPDX-License-Identifier: BSD-2-Clause
 */

package config

import (
	"bytes"
	"errors"
	"fmt"
	"log"
	"net/url"
	"strings"
	"time"

	"github.com/kentakayama/evo-auth/internal/domain/model"
	"github.com/kentakayama/evo-auth/internal/util"
	"github.com/kentakayama/evo-auth/resources"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

const envPrefix = "EVOAUTH"

// NodeEntry is a node as written in a config file.
type NodeEntry struct {
	URL     string `mapstructure:"url" yaml:"url"`
	Version string `mapstructure:"version" yaml:"version"`
}

// File mirrors evoauth.yaml. Every key can be overridden from the
// environment, e.g. EVOAUTH_AUTHORITY_URL or EVOAUTH_SERVER_ADDR.
type File struct {
	Verbose  bool   `mapstructure:"verbose"`
	LogLevel string `mapstructure:"log_level"`

	Authority struct {
		URL string `mapstructure:"url"`
	} `mapstructure:"authority"`

	IPSources []string `mapstructure:"ip_sources"`

	Timeouts struct {
		Connect time.Duration `mapstructure:"connect"`
		Read    time.Duration `mapstructure:"read"`
	} `mapstructure:"timeouts"`

	Nodes []NodeEntry `mapstructure:"nodes"`

	Database struct {
		Path string `mapstructure:"path"`
	} `mapstructure:"database"`

	Server struct {
		Addr       string `mapstructure:"addr"`
		SigningKey string `mapstructure:"signing_key"`
	} `mapstructure:"server"`

	Poll struct {
		Interval time.Duration `mapstructure:"interval"`
	} `mapstructure:"poll"`
}

func newViper() *viper.Viper {
	v := viper.New()
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("verbose", false)
	v.SetDefault("log_level", "info")
	v.SetDefault("authority.url", DefaultAuthorityURL)
	v.SetDefault("ip_sources", DefaultIPSources)
	v.SetDefault("timeouts.connect", DefaultConnectTimeout)
	v.SetDefault("timeouts.read", DefaultReadTimeout)
	v.SetDefault("database.path", "")
	v.SetDefault("server.addr", DefaultServerAddr)
	v.SetDefault("server.signing_key", "")
	v.SetDefault("poll.interval", time.Duration(0))
	return v
}

// Load reads a YAML config file. An empty path yields the defaults plus any
// environment overrides.
func Load(path string) (*File, error) {
	v := newViper()
	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	var f File
	if err := v.Unmarshal(&f); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	return &f, nil
}

// VerifierConfig converts the file into a VerifierConfig carrying nodes.
func (f *File) VerifierConfig(nodes []model.NodeEndpoint, logger *log.Logger) VerifierConfig {
	return VerifierConfig{
		Nodes:          nodes,
		AuthorityURL:   f.Authority.URL,
		IPSources:      f.IPSources,
		ConnectTimeout: f.Timeouts.Connect,
		ReadTimeout:    f.Timeouts.Read,
		Verbose:        f.Verbose,
		Logger:         logger,
	}.WithDefaults()
}

// ParseNodes validates node entries: every URL must be absolute http(s),
// every version known, and no base URL may appear twice.
func ParseNodes(entries []NodeEntry) ([]model.NodeEndpoint, error) {
	seen := util.NewSet[string]()
	nodes := make([]model.NodeEndpoint, 0, len(entries))
	var errs []error
	for i, e := range entries {
		base, err := NormalizeBaseURL(e.URL)
		if err != nil {
			errs = append(errs, fmt.Errorf("node %d: %w", i, err))
			continue
		}
		version, err := model.ParseProtocolVersion(e.Version)
		if err != nil {
			errs = append(errs, fmt.Errorf("node %d (%s): %w", i, base, err))
			continue
		}
		if seen.Has(base) {
			errs = append(errs, fmt.Errorf("node %d: duplicate url %s", i, base))
			continue
		}
		seen.Add(base)
		nodes = append(nodes, model.NodeEndpoint{BaseURL: base, Version: version, Enabled: true})
	}
	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	return nodes, nil
}

// NormalizeBaseURL checks that raw is an absolute http(s) URL and strips a
// trailing slash so stage paths can be appended.
func NormalizeBaseURL(raw string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return "", fmt.Errorf("parse node url %q: %w", raw, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return "", fmt.Errorf("node url %q: scheme must be http or https", raw)
	}
	if u.Host == "" {
		return "", fmt.Errorf("node url %q: missing host", raw)
	}
	if u.RawQuery != "" || u.Fragment != "" {
		return "", fmt.Errorf("node url %q: must not carry a query or fragment", raw)
	}
	return strings.TrimRight(u.String(), "/"), nil
}

// DefaultNodes returns the embedded public node list.
func DefaultNodes() ([]model.NodeEndpoint, error) {
	var doc struct {
		Nodes []NodeEntry `yaml:"nodes"`
	}
	dec := yaml.NewDecoder(bytes.NewReader(resources.DefaultNodesYAML))
	dec.KnownFields(true)
	if err := dec.Decode(&doc); err != nil {
		return nil, fmt.Errorf("decode embedded node list: %w", err)
	}
	return ParseNodes(doc.Nodes)
}

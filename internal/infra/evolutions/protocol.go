/*
 * Copyright (c) 2025 SECOM CO., LTD. All Rights reserved.
 *
 * SPDX-License-Identifier: BSD-2-Clause
 */

package evolutions

import (
	"fmt"
	"net/url"

	"github.com/kentakayama/evo-auth/internal/domain"
	"github.com/kentakayama/evo-auth/internal/domain/model"
)

// stage describes one GET a node answers with a flat JSON object.
type stage struct {
	path     string
	query    func(p stageParams) url.Values
	required []string
	// value names the field the stage's answer is read from
	value string
}

type stageParams struct {
	username  string
	userIP    string
	challenge string
}

// protocol is the closed description of one node protocol version. The
// three-stage control flow in Client never branches on version; it only
// reads this table.
type protocol struct {
	challenge stage
	result    stage
	lookup    stage
}

var protocols = map[model.ProtocolVersion]protocol{
	model.ProtocolV1: {
		challenge: stage{
			path: "/userAuth.php",
			query: func(p stageParams) url.Values {
				return url.Values{"method": {"1"}, "username": {p.username}}
			},
			required: []string{"result", "username", "userip", "serverId"},
			value:    "serverId",
		},
		result: stage{
			path: "/userAuth.php",
			query: func(p stageParams) url.Values {
				return url.Values{"method": {"2"}, "username": {p.username}, "serverId": {p.challenge}}
			},
			required: []string{"result"},
			value:    "result",
		},
		lookup: stage{
			path: "/serverAuth.php",
			query: func(p stageParams) url.Values {
				return url.Values{"method": {"1"}, "username": {p.username}, "userip": {p.userIP}}
			},
			required: []string{"result", "verified"},
			value:    "verified",
		},
	},
	model.ProtocolV2: {
		challenge: stage{
			path: "/user/getServerID",
			query: func(p stageParams) url.Values {
				return url.Values{"username": {p.username}, "userip": {p.userIP}}
			},
			required: []string{"userIP", "error", "serverID", "username"},
			value:    "serverID",
		},
		result: stage{
			path: "/user/successfulAuth",
			query: func(p stageParams) url.Values {
				return url.Values{"username": {p.username}, "serverid": {p.challenge}, "userip": {p.userIP}}
			},
			required: []string{"result"},
			value:    "result",
		},
		lookup: stage{
			path: "/server/getVerification",
			query: func(p stageParams) url.Values {
				return url.Values{"username": {p.username}, "userip": {p.userIP}}
			},
			required: []string{"verified", "error"},
			value:    "verified",
		},
	},
}

func protocolFor(v model.ProtocolVersion) (protocol, error) {
	p, ok := protocols[v]
	if !ok {
		return protocol{}, fmt.Errorf("%w: %s", domain.ErrUnsupportedVersion, v)
	}
	return p, nil
}

// stageURL joins the node base URL with the stage path and encoded query.
func (s stage) stageURL(baseURL string, p stageParams) (string, error) {
	base, err := url.Parse(baseURL)
	if err != nil {
		return "", fmt.Errorf("%w: node url %q: %v", domain.ErrEncoding, baseURL, err)
	}
	base.Path = base.Path + s.path
	base.RawQuery = s.query(p).Encode()
	return base.String(), nil
}

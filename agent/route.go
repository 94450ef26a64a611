// Copyright (c) Skyfleet Robotics
// SPDX-License-Identifier: MPL-2.0

package agent

import (
	"strings"

	"github.com/skyfleet/latticebridge/structs"
)

// Route maps a specification URL keyword to an executor kind. Routes
// are matched in order; the first keyword contained in the URL wins.
type Route struct {
	Keyword string
	Kind    structs.TaskKind
}

// RouteTable resolves specification URLs to task kinds.
type RouteTable []Route

// DefaultRoutes covers the advertised catalog plus the explicit task
// families. Surveillance taskings all ride the mapping executor.
func DefaultRoutes() RouteTable {
	return RouteTable{
		{Keyword: "VisualId", Kind: structs.TaskKindMapping},
		{Keyword: "Investigate", Kind: structs.TaskKindMapping},
		{Keyword: "Monitor", Kind: structs.TaskKindMapping},
		{Keyword: "Mapping", Kind: structs.TaskKindMapping},
		{Keyword: "Relay", Kind: structs.TaskKindRelay},
		{Keyword: "Dropping", Kind: structs.TaskKindDropping},
	}
}

// Resolve returns the kind for a specification URL. Unrecognized URLs
// fall back to mapping so an unknown surveillance tasking still flies.
func (rt RouteTable) Resolve(specURL string) structs.TaskKind {
	for _, r := range rt {
		if strings.Contains(specURL, r.Keyword) {
			return r.Kind
		}
	}
	return structs.TaskKindMapping
}

package pkg

import (
	"MPTestbed/api"
	"strings"

	"golang.org/x/exp/slices"
)

// MPTCPCCs are the multipath capable congestion control algorithms of the
// MPTCP kernel.
var MPTCPCCs = []string{"lia", "olia", "balia", "wvegas"}

// Resolver derives pairings from host properties.
type Resolver struct {
	// Multipath lists the algorithms treated as multipath capable.
	Multipath []string
}

func NewResolver() *Resolver {
	return &Resolver{Multipath: slices.Clone(MPTCPCCs)}
}

func (r *Resolver) IsMultipath(cc string) bool {
	return slices.Contains(r.Multipath, cc)
}

// ResolvePairings returns the (client, server, cc) triples of cfg sorted by
// client then server. Every host must take part in a pairing, all
// algorithms must be multipath or all single path, and every algorithm must
// be in available. It has no side effects.
func (r *Resolver) ResolvePairings(cfg *api.TopoConfig, available []string) ([]api.Pairing, error) {
	pairings := make([]api.Pairing, 0)
	var missingCC []string
	for _, n := range cfg.Nodes {
		if n.Kind != api.Host || n.Properties.Server == "" {
			continue
		}
		if n.Properties.CC == "" {
			missingCC = append(missingCC, n.ID)
			continue
		}
		pairings = append(pairings, api.Pairing{Client: n.ID, Server: n.Properties.Server, CC: n.Properties.CC})
	}
	if len(missingCC) > 0 {
		slices.Sort(missingCC)
		return nil, &api.ConfigValidationError{Reason: "client without congestion control", Nodes: missingCC}
	}

	slices.SortFunc(pairings, func(a, b api.Pairing) int {
		if c := strings.Compare(a.Client, b.Client); c != 0 {
			return c
		}
		return strings.Compare(a.Server, b.Server)
	})

	covered := make(map[string]bool)
	for _, p := range pairings {
		covered[p.Client] = true
		covered[p.Server] = true
	}
	var orphans []string
	for _, h := range cfg.Hosts() {
		if !covered[h] {
			orphans = append(orphans, h)
		}
	}
	if len(orphans) > 0 {
		return nil, &api.ConfigValidationError{Reason: "host not contained in any pairing", Nodes: orphans}
	}

	if r.Mixed(pairings) {
		return nil, &api.PreconditionError{
			Reason: "running multipath and single path congestion control simultaneously is not supported",
			Names:  CCSet(pairings),
			Err:    &api.ConfigValidationError{Reason: "mixed multipath and single path congestion control"},
		}
	}

	var unavailable []string
	for _, cc := range CCSet(pairings) {
		if !slices.Contains(available, cc) {
			unavailable = append(unavailable, cc)
		}
	}
	if len(unavailable) > 0 {
		return nil, &api.PreconditionError{Reason: "congestion control not available", Names: unavailable}
	}
	return pairings, nil
}

// ResolvePairings uses the default multipath table.
func ResolvePairings(cfg *api.TopoConfig, available []string) ([]api.Pairing, error) {
	return NewResolver().ResolvePairings(cfg, available)
}

// AnyMultipath reports whether any pairing uses a multipath algorithm.
func (r *Resolver) AnyMultipath(pairings []api.Pairing) bool {
	for _, p := range pairings {
		if r.IsMultipath(p.CC) {
			return true
		}
	}
	return false
}

// Mixed reports whether some, but not all, pairings are multipath.
func (r *Resolver) Mixed(pairings []api.Pairing) bool {
	flags := make([]bool, len(pairings))
	for i, p := range pairings {
		flags[i] = r.IsMultipath(p.CC)
	}
	return slices.Contains(flags, true) && slices.Contains(flags, false)
}

// CCSet returns the distinct algorithms of pairings, sorted.
func CCSet(pairings []api.Pairing) []string {
	ccs := make([]string, 0, len(pairings))
	for _, p := range pairings {
		ccs = append(ccs, p.CC)
	}
	slices.Sort(ccs)
	return slices.Compact(ccs)
}

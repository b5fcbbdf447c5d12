package api

import "golang.org/x/exp/slices"

// TopoConfig is the static description of one experiment network.
type TopoConfig struct {
	TopologyID string `json:"topology_id" yaml:"topology_id"`
	Nodes      []Node `json:"nodes" yaml:"nodes"`
	Links      []Link `json:"links" yaml:"links"`
}

// Clone returns a deep copy, safe to mutate per sweep point.
func (t *TopoConfig) Clone() *TopoConfig {
	c := &TopoConfig{TopologyID: t.TopologyID}
	c.Nodes = slices.Clone(t.Nodes)
	c.Links = slices.Clone(t.Links)
	return c
}

func (t *TopoConfig) Node(id string) (Node, bool) {
	for _, n := range t.Nodes {
		if n.ID == id {
			return n, true
		}
	}
	return Node{}, false
}

// Hosts returns the sorted host ids.
func (t *TopoConfig) Hosts() []string {
	return t.idsOf(Host)
}

// Switches returns the sorted switch ids.
func (t *TopoConfig) Switches() []string {
	return t.idsOf(Switch)
}

func (t *TopoConfig) idsOf(kind NodeKind) []string {
	ids := make([]string, 0, len(t.Nodes))
	for _, n := range t.Nodes {
		if n.Kind == kind {
			ids = append(ids, n.ID)
		}
	}
	slices.Sort(ids)
	return ids
}

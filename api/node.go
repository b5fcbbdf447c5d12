package api

import "strings"

const (
	HostTag   = "h"
	SwitchTag = "s"
)

type NodeKind int

const (
	Host NodeKind = iota
	Switch
)

func (k NodeKind) String() string {
	if k == Switch {
		return "switch"
	}
	return "host"
}

// KindOf derives the node kind from the id tag. ok is false for ids
// carrying neither the host nor the switch tag.
func KindOf(id string) (kind NodeKind, ok bool) {
	switch {
	case strings.HasPrefix(id, HostTag):
		return Host, true
	case strings.HasPrefix(id, SwitchTag):
		return Switch, true
	}
	return Host, false
}

type Node struct {
	ID         string         `json:"id" yaml:"id"`
	Properties NodeProperties `json:"properties" yaml:"properties"`

	Kind NodeKind `json:"-" yaml:"-"`
}

// NodeProperties are only meaningful on client hosts; servers carry none.
type NodeProperties struct {
	Server string `json:"server,omitempty" yaml:"server,omitempty"`
	CC     string `json:"cc,omitempty" yaml:"cc,omitempty"`
}

// NodeInterface describes one endpoint of a link once the fabric is up.
type NodeInterface struct {
	Index    int // per node, in link order
	Name     string
	Mac      string
	Ipv4     string // with prefix, e.g. 10.0.1.2/24
	NetNs    string // empty for interfaces living in the root namespace
	NodeName string
	BrName   string // set on switch-side interfaces
}

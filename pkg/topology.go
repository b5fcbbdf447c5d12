package pkg

import (
	"MPTestbed/api"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/pkg/errors"
	"golang.org/x/exp/slices"
	"gopkg.in/yaml.v3"
)

const (
	FieldLatency   = "latency"
	FieldBandwidth = "bandwidth"

	// MaxGroups is the number of independently configurable path segments.
	MaxGroups = 2
	// MaxHostNumber bounds host ids, the number is the last address octet.
	MaxHostNumber = 254
)

// GroupValue is the single value shared by every link of a group.
type GroupValue struct {
	Group string
	Value float64
}

// ReadTopoConfig reads a topology description from a file. YAML is used for
// .yaml and .yml files, JSON otherwise. The returned config is validated and
// every link carries its derived queue size.
func ReadTopoConfig(filename string) (*api.TopoConfig, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, errors.Wrapf(err, "error reading topology file %s", filename)
	}
	ext := strings.ToLower(filepath.Ext(filename))
	return ParseTopoConfig(data, ext == ".yaml" || ext == ".yml")
}

// ParseTopoConfig decodes and validates a topology description.
func ParseTopoConfig(data []byte, useYAML bool) (*api.TopoConfig, error) {
	var cfg api.TopoConfig
	var err error
	if useYAML {
		err = yaml.Unmarshal(data, &cfg)
	} else {
		err = json.Unmarshal(data, &cfg)
	}
	if err != nil {
		return nil, &api.ConfigValidationError{Reason: "malformed description: " + err.Error()}
	}

	if err = ValidateTopoConfig(&cfg); err != nil {
		return nil, err
	}
	NewCalculator().ApplyQueueSizes(&cfg)
	return &cfg, nil
}

// ValidateTopoConfig checks ids, link endpoints, link properties, host
// properties and groups. It sets the node kinds and coerces zero latencies
// to api.MinLatency.
func ValidateTopoConfig(cfg *api.TopoConfig) error {
	if cfg.TopologyID == "" {
		return &api.ConfigValidationError{Reason: "missing topology_id"}
	}

	seen := make(map[string]bool)
	var unknown, duplicate, badHost []string
	for i := range cfg.Nodes {
		n := &cfg.Nodes[i]
		kind, ok := api.KindOf(n.ID)
		if !ok {
			unknown = append(unknown, n.ID)
			continue
		}
		n.Kind = kind
		if seen[n.ID] {
			duplicate = append(duplicate, n.ID)
		}
		seen[n.ID] = true
		if kind == api.Host {
			if _, err := HostNumber(n.ID); err != nil {
				badHost = append(badHost, n.ID)
			}
		}
	}
	if len(unknown) > 0 {
		return &api.ConfigValidationError{Reason: "node id is neither host nor switch", Nodes: unknown}
	}
	if len(duplicate) > 0 {
		return &api.ConfigValidationError{Reason: "duplicate node id", Nodes: duplicate}
	}
	if len(badHost) > 0 {
		return &api.ConfigValidationError{
			Reason: fmt.Sprintf("host id must be %s<1..%d>", api.HostTag, MaxHostNumber),
			Nodes:  badHost,
		}
	}

	for i := range cfg.Links {
		l := &cfg.Links[i]
		var missing []string
		for _, id := range []string{l.Source, l.Target} {
			if !seen[id] {
				missing = append(missing, id)
			}
		}
		if len(missing) > 0 {
			return &api.ConfigValidationError{
				Reason: fmt.Sprintf("link %s<->%s references unknown node", l.Source, l.Target),
				Nodes:  missing,
			}
		}
		if l.Source == l.Target {
			return &api.ConfigValidationError{Reason: "link connects a node to itself", Nodes: []string{l.Source}}
		}
		if l.Properties.Latency < 0 {
			return &api.ConfigValidationError{Reason: fmt.Sprintf("link %s<->%s has negative latency", l.Source, l.Target)}
		}
		if l.Properties.Latency == 0 {
			l.Properties.Latency = api.MinLatency
		}
		if l.Properties.Bandwidth <= 0 {
			return &api.ConfigValidationError{Reason: fmt.Sprintf("link %s<->%s needs a positive bandwidth", l.Source, l.Target)}
		}
	}

	for _, n := range cfg.Nodes {
		server := n.Properties.Server
		if server == "" {
			continue
		}
		if n.Kind != api.Host {
			return &api.ConfigValidationError{Reason: "only hosts may name a server", Nodes: []string{n.ID}}
		}
		target, ok := cfg.Node(server)
		if !ok || target.Kind != api.Host || server == n.ID {
			return &api.ConfigValidationError{
				Reason: fmt.Sprintf("host %s names an invalid server", n.ID),
				Nodes:  []string{server},
			}
		}
	}

	for _, field := range []string{FieldLatency, FieldBandwidth} {
		if _, err := Groups(cfg, field); err != nil {
			return err
		}
	}
	return nil
}

// HostNumber returns the numeric part of a host id such as h12.
func HostNumber(id string) (int, error) {
	num, err := strconv.Atoi(strings.TrimPrefix(id, api.HostTag))
	if err != nil || num < 1 || num > MaxHostNumber {
		return 0, fmt.Errorf("host id %s has no number in 1..%d", id, MaxHostNumber)
	}
	return num, nil
}

func groupOf(l api.Link, field string) (group string, value float64) {
	if field == FieldLatency {
		return l.Properties.LatencyGroup, l.Properties.Latency
	}
	return l.Properties.BandwidthGroup, l.Properties.Bandwidth
}

func checkField(field string) error {
	if field != FieldLatency && field != FieldBandwidth {
		return &api.ConfigValidationError{Reason: fmt.Sprintf("only latency and bandwidth groups are supported, got %q", field)}
	}
	return nil
}

// Groups returns every group of field with its value, sorted by group name.
// A group mapping to more than one value, or more than MaxGroups groups,
// is a validation error.
func Groups(cfg *api.TopoConfig, field string) ([]GroupValue, error) {
	if err := checkField(field); err != nil {
		return nil, err
	}
	values := make(map[string]float64)
	var ambiguous []string
	for _, l := range cfg.Links {
		group, value := groupOf(l, field)
		if group == "" {
			continue
		}
		if prev, ok := values[group]; ok && prev != value && !slices.Contains(ambiguous, group) {
			ambiguous = append(ambiguous, group)
		}
		values[group] = value
	}
	if len(ambiguous) > 0 {
		slices.Sort(ambiguous)
		return nil, &api.ConfigValidationError{
			Reason: fmt.Sprintf("%s groups with multiple values, only one value allowed per group: %s",
				field, strings.Join(ambiguous, ", ")),
		}
	}
	if len(values) > MaxGroups {
		return nil, &api.ConfigValidationError{
			Reason: fmt.Sprintf("at most %d %s groups are supported, got %d", MaxGroups, field, len(values)),
		}
	}

	groups := make([]GroupValue, 0, len(values))
	for g, v := range values {
		groups = append(groups, GroupValue{Group: g, Value: v})
	}
	slices.SortFunc(groups, func(a, b GroupValue) int {
		return strings.Compare(a.Group, b.Group)
	})
	return groups, nil
}

// GroupedValue returns the value shared by the links of group.
func GroupedValue(cfg *api.TopoConfig, field, group string) (float64, error) {
	groups, err := Groups(cfg, field)
	if err != nil {
		return 0, err
	}
	for _, g := range groups {
		if g.Group == group {
			return g.Value, nil
		}
	}
	return 0, &api.ConfigValidationError{Reason: fmt.Sprintf("no links in %s group %q", field, group)}
}

// SetGroupValue assigns value to every link of group. Queue sizes are not
// re-derived here.
func SetGroupValue(cfg *api.TopoConfig, field, group string, value float64) error {
	if err := checkField(field); err != nil {
		return err
	}
	if field == FieldLatency {
		if value < 0 {
			return &api.ConfigValidationError{Reason: fmt.Sprintf("negative latency %v for group %q", value, group)}
		}
		if value == 0 {
			value = api.MinLatency
		}
	} else if value <= 0 {
		return &api.ConfigValidationError{Reason: fmt.Sprintf("non-positive bandwidth %v for group %q", value, group)}
	}

	found := false
	for i := range cfg.Links {
		p := &cfg.Links[i].Properties
		if field == FieldLatency && p.LatencyGroup == group {
			p.Latency = value
			found = true
		} else if field == FieldBandwidth && p.BandwidthGroup == group {
			p.Bandwidth = value
			found = true
		}
	}
	if !found {
		return &api.ConfigValidationError{Reason: fmt.Sprintf("no links in %s group %q", field, group)}
	}
	return nil
}

// ValueSet returns the values of field that name an experiment: the group
// values in group order when groups exist, otherwise the distinct link
// values in ascending order.
func ValueSet(cfg *api.TopoConfig, field string) ([]float64, error) {
	groups, err := Groups(cfg, field)
	if err != nil {
		return nil, err
	}
	values := make([]float64, 0, len(cfg.Links))
	if len(groups) > 0 {
		for _, g := range groups {
			values = append(values, g.Value)
		}
		return values, nil
	}
	for _, l := range cfg.Links {
		_, v := groupOf(l, field)
		values = append(values, v)
	}
	slices.Sort(values)
	return slices.Compact(values), nil
}

package config

import (
	"fmt"

	"gopkg.in/yaml.v3"
)

// BetfairGroup is the field group holding side-dataset columns.
const BetfairGroup = "betfair"

// Field is one output column toggle.
type Field struct {
	Name    string
	Enabled bool
}

// FieldGroup is a named, ordered set of column toggles.
type FieldGroup struct {
	Name   string
	Fields []Field
}

// FieldGroups keeps groups and fields in document order so the CSV column
// order matches the settings file.
type FieldGroups []FieldGroup

// UnmarshalYAML decodes a mapping of group -> (field -> bool) preserving order.
func (g *FieldGroups) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.MappingNode {
		return fmt.Errorf("fields: expected mapping, got %s", nodeKind(node))
	}
	groups := make(FieldGroups, 0, len(node.Content)/2)
	for i := 0; i+1 < len(node.Content); i += 2 {
		name := node.Content[i].Value
		body := node.Content[i+1]
		if body.Kind != yaml.MappingNode {
			return fmt.Errorf("fields.%s: expected mapping, got %s", name, nodeKind(body))
		}
		group := FieldGroup{Name: name}
		for j := 0; j+1 < len(body.Content); j += 2 {
			var enabled bool
			if err := body.Content[j+1].Decode(&enabled); err != nil {
				return fmt.Errorf("fields.%s.%s: %w", name, body.Content[j].Value, err)
			}
			group.Fields = append(group.Fields, Field{Name: body.Content[j].Value, Enabled: enabled})
		}
		groups = append(groups, group)
	}
	*g = groups
	return nil
}

// Enabled returns the enabled field names in order. The betfair group is
// skipped unless includeBetfair is set.
func (g FieldGroups) Enabled(includeBetfair bool) []string {
	var out []string
	for _, group := range g {
		if group.Name == BetfairGroup && !includeBetfair {
			continue
		}
		for _, f := range group.Fields {
			if f.Enabled {
				out = append(out, f.Name)
			}
		}
	}
	return out
}

// Group returns every field name of the named group, enabled or not.
func (g FieldGroups) Group(name string) []string {
	for _, group := range g {
		if group.Name != name {
			continue
		}
		names := make([]string, 0, len(group.Fields))
		for _, f := range group.Fields {
			names = append(names, f.Name)
		}
		return names
	}
	return nil
}

// EnabledIn returns the enabled field names of the named group.
func (g FieldGroups) EnabledIn(name string) []string {
	var out []string
	for _, group := range g {
		if group.Name != name {
			continue
		}
		for _, f := range group.Fields {
			if f.Enabled {
				out = append(out, f.Name)
			}
		}
	}
	return out
}

// Header returns the run's output columns.
func (c Config) Header(includeBetfair bool) []string {
	return c.Fields.Enabled(includeBetfair)
}

func nodeKind(n *yaml.Node) string {
	switch n.Kind {
	case yaml.ScalarNode:
		return "scalar"
	case yaml.SequenceNode:
		return "sequence"
	case yaml.MappingNode:
		return "mapping"
	default:
		return "node"
	}
}

// DefaultFields mirrors the shipped settings file.
func DefaultFields() FieldGroups {
	on := func(names ...string) []Field {
		fields := make([]Field, 0, len(names))
		for _, n := range names {
			fields = append(fields, Field{Name: n, Enabled: true})
		}
		return fields
	}
	return FieldGroups{
		{Name: "race", Fields: on("date", "region", "course_id", "course", "race_id", "off", "race_name", "type", "class", "dist", "going", "ran")},
		{Name: "runner", Fields: on("num", "pos", "draw", "ovr_btn", "btn", "horse", "age", "lbs", "sp", "jockey", "trainer", "or", "rpr")},
		{Name: BetfairGroup, Fields: on("bsp", "wap", "morning_wap", "pre_min", "pre_max", "ip_min", "ip_max", "morning_vol", "pre_vol", "ip_vol")},
	}
}

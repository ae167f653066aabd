package phase

import (
	"fmt"

	"gopkg.in/yaml.v3"
)

var permissionNames = map[Permission]string{
	NoAccess:            "NoAccess",
	ReadOnly:            "ReadOnly",
	ReadWriteOwned:      "ReadWriteOwned",
	ReadWriteRemoteOnly: "ReadWriteRemoteOnly",
	ReadWriteAll:        "ReadWriteAll",
}

var permissionValues = map[string]Permission{
	"NoAccess":            NoAccess,
	"ReadOnly":            ReadOnly,
	"ReadWriteOwned":      ReadWriteOwned,
	"ReadWriteRemoteOnly": ReadWriteRemoteOnly,
	"ReadWriteAll":        ReadWriteAll,
}

// document is the on-disk shape of a [Config] for operator-authored
// custom phase configurations.
type document struct {
	ValidTransitions map[string][]string `yaml:"valid_transitions"`
	Permissions      map[string]string   `yaml:"permissions"`
}

// MarshalYAML renders cfg in the operator-facing document shape.
func (cfg Config) MarshalYAML() (any, error) {
	doc := document{
		ValidTransitions: make(map[string][]string, len(cfg.ValidTransitions)),
		Permissions:      make(map[string]string, len(cfg.Permissions)),
	}

	for from, tos := range cfg.ValidTransitions {
		var list []string
		for to := range tos {
			list = append(list, to)
		}

		doc.ValidTransitions[from] = list
	}

	for phase, perm := range cfg.Permissions {
		name, ok := permissionNames[perm]
		if !ok {
			return nil, fmt.Errorf("phase %s: unknown permission value %d", phase, perm)
		}

		doc.Permissions[phase] = name
	}

	return doc, nil
}

// UnmarshalYAML parses the operator-facing document shape into cfg.
func (cfg *Config) UnmarshalYAML(node *yaml.Node) error {
	var doc document
	if err := node.Decode(&doc); err != nil {
		return fmt.Errorf("decode phase config: %w", err)
	}

	cfg.ValidTransitions = make(map[string]map[string]bool, len(doc.ValidTransitions))
	for from, tos := range doc.ValidTransitions {
		set := make(map[string]bool, len(tos))
		for _, to := range tos {
			set[to] = true
		}

		cfg.ValidTransitions[from] = set
	}

	cfg.Permissions = make(map[string]Permission, len(doc.Permissions))

	for phaseName, name := range doc.Permissions {
		perm, ok := permissionValues[name]
		if !ok {
			return fmt.Errorf("phase %s: unknown permission name %q", phaseName, name)
		}

		cfg.Permissions[phaseName] = perm
	}

	return nil
}

package seeds

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// fileEntry is one line of an operator-supplied seeds.yaml.
type fileEntry struct {
	NodeID  string `yaml:"nodeId"`
	Address string `yaml:"address"`
}

type fileDocument struct {
	Seeds []fileEntry `yaml:"seeds"`
}

// LoadFile reads a local seeds.yaml, the operator-editable counterpart to
// the signed on-chain Registry: useful for a private devnet or an emergency
// override when governance can't be reached. Entries are returned in
// Registry.Static's ResolvedSeed shape so callers merge the two sources
// uniformly.
func LoadFile(path string) ([]ResolvedSeed, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var doc fileDocument
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("seeds: parse %s: %w", path, err)
	}
	out := make([]ResolvedSeed, 0, len(doc.Seeds))
	for i, e := range doc.Seeds {
		nodeID := normalizeNodeID(e.NodeID)
		addr := strings.TrimSpace(e.Address)
		if nodeID == "" || addr == "" {
			return nil, fmt.Errorf("seeds: entry #%d: nodeId and address are required", i+1)
		}
		out = append(out, ResolvedSeed{NodeID: nodeID, Address: addr, Source: "file:" + path})
	}
	return dedupeSeeds(out), nil
}

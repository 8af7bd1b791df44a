package modelcache

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
)

//go:embed models.json
var registryJSON []byte

// Info describes one known model file.
type Info struct {
	Filename     string   `json:"filename"`
	Name         string   `json:"name"`
	Architecture string   `json:"architecture"`
	// Stems lists the engine's output labels in filename sort order.
	Stems []string `json:"stems"`
	// SizeBytes is the advertised download size, used for display only.
	SizeBytes int64  `json:"size_bytes"`
	URL       string `json:"url"`
}

type registry struct {
	byFilename map[string]Info
	ordered    []Info
}

func loadRegistry() (*registry, error) {
	var infos []Info
	if err := json.Unmarshal(registryJSON, &infos); err != nil {
		return nil, fmt.Errorf("parse model registry: %w", err)
	}
	reg := &registry{byFilename: make(map[string]Info, len(infos))}
	for _, info := range infos {
		name := strings.TrimSpace(info.Filename)
		if name == "" {
			continue
		}
		if _, dup := reg.byFilename[name]; dup {
			return nil, fmt.Errorf("duplicate model registry entry %q", name)
		}
		reg.byFilename[name] = info
		reg.ordered = append(reg.ordered, info)
	}
	sort.Slice(reg.ordered, func(i, j int) bool {
		return reg.ordered[i].Filename < reg.ordered[j].Filename
	})
	return reg, nil
}

func (r *registry) find(filename string) (Info, bool) {
	info, ok := r.byFilename[strings.TrimSpace(filename)]
	return info, ok
}

func (r *registry) all() []Info {
	out := make([]Info, len(r.ordered))
	copy(out, r.ordered)
	return out
}

package catalog

import (
	"encoding/json"
	"fmt"
	"strings"
)

// headAlias maps a set of advertised-name prefixes to a known model's
// head name.
type headAlias struct {
	prefixes         []string // normalized
	mapModelHeadName string
}

// matchLength returns the length of the longest prefix that matches
// the normalized device name, or 0.
func (a headAlias) matchLength(normalizedName string) int {
	longest := 0
	for _, prefix := range a.prefixes {
		if strings.HasPrefix(normalizedName, prefix) && len(prefix) > longest {
			longest = len(prefix)
		}
	}
	return longest
}

// macAlias maps a set of address suffixes to a known model's head
// name. It overrides a head-name alias when both match.
type macAlias struct {
	suffixes         []string // uppercased
	mapModelHeadName string
}

func (a macAlias) matches(address string) bool {
	if address == "" {
		return false
	}
	candidates := []string{strings.ToUpper(strings.TrimSpace(address))}
	if normalized := normalizeMacCandidate(address); normalized != "" && normalized != candidates[0] {
		candidates = append(candidates, normalized)
	}
	for _, suffix := range a.suffixes {
		for _, candidate := range candidates {
			if strings.HasSuffix(candidate, suffix) {
				return true
			}
		}
	}
	return false
}

// AliasMatch is the outcome of alias resolution: the head name to map
// back to a model, and which alias kind decided it.
type AliasMatch struct {
	TargetHeadName string
	Kind           AliasKind
}

// AliasRegistry holds the parsed alias table.
type AliasRegistry struct {
	headAliases []headAlias
	macAliases  []macAlias
}

// rawAliasEntry mirrors one JSON alias table entry. Exactly one of
// HeadName or Mac must be present.
type rawAliasEntry struct {
	HeadName         *rawAliasRule `json:"head_name"`
	Mac              *rawAliasRule `json:"mac"`
	MapModelHeadName string        `json:"map_model_head_name"`
}

type rawAliasRule struct {
	Prefix           string   `json:"prefix"`
	Prefixes         []string `json:"prefixes"`
	Suffix           string   `json:"suffix"`
	Suffixes         []string `json:"suffixes"`
	MapModelHeadName string   `json:"map_model_head_name"`
}

// parseAliases decodes the alias table. Any malformed entry is a hard
// error so a broken data file cannot silently disable aliases.
func parseAliases(data []byte) (*AliasRegistry, error) {
	var entries []rawAliasEntry
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("alias file must contain a JSON list of objects: %w", err)
	}

	registry := &AliasRegistry{}
	for i, entry := range entries {
		switch {
		case entry.HeadName != nil:
			prefixes := entry.HeadName.Prefixes
			if prefixes == nil {
				if entry.HeadName.Prefix == "" {
					return nil, fmt.Errorf("alias entry %d: head_name missing prefix", i)
				}
				prefixes = []string{entry.HeadName.Prefix}
			}
			target := entry.MapModelHeadName
			if target == "" {
				target = entry.HeadName.MapModelHeadName
			}
			if target == "" {
				return nil, fmt.Errorf("alias entry %d: missing map_model_head_name", i)
			}
			normalized := make([]string, len(prefixes))
			for j, prefix := range prefixes {
				normalized[j] = normalizeAliasName(prefix)
			}
			registry.headAliases = append(registry.headAliases, headAlias{
				prefixes:         normalized,
				mapModelHeadName: target,
			})

		case entry.Mac != nil:
			suffixes := entry.Mac.Suffixes
			if suffixes == nil {
				if entry.Mac.Suffix == "" {
					return nil, fmt.Errorf("alias entry %d: mac missing suffix", i)
				}
				suffixes = []string{entry.Mac.Suffix}
			}
			target := entry.MapModelHeadName
			if target == "" {
				target = entry.Mac.MapModelHeadName
			}
			if target == "" {
				return nil, fmt.Errorf("alias entry %d: missing map_model_head_name", i)
			}
			normalized := make([]string, len(suffixes))
			for j, suffix := range suffixes {
				normalized[j] = strings.ToUpper(suffix)
			}
			registry.macAliases = append(registry.macAliases, macAlias{
				suffixes:         normalized,
				mapModelHeadName: target,
			})

		default:
			return nil, fmt.Errorf("alias entry %d: must include head_name or mac", i)
		}
	}
	return registry, nil
}

// Resolve finds the head-name alias with the longest matching prefix
// for the device name. When a MAC alias's suffix also matches the
// address, its target overrides the head-name alias's target. No
// head-name alias match means no alias resolution at all.
func (r *AliasRegistry) Resolve(name, address string) (AliasMatch, bool) {
	if name == "" || len(r.headAliases) == 0 {
		return AliasMatch{}, false
	}

	normalizedName := normalizeAliasName(name)
	target := ""
	longest := 0
	for _, alias := range r.headAliases {
		if length := alias.matchLength(normalizedName); length > longest {
			target = alias.mapModelHeadName
			longest = length
		}
	}
	if longest == 0 {
		return AliasMatch{}, false
	}

	kind := AliasHeadName
	for _, alias := range r.macAliases {
		if alias.matches(address) {
			target = alias.mapModelHeadName
			kind = AliasMac
			break
		}
	}
	return AliasMatch{TargetHeadName: target, Kind: kind}, true
}

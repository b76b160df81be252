package catalog

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// DefaultAliasFileName sits next to the model catalog file.
const DefaultAliasFileName = "printer_model_aliases.json"

// Registry holds the loaded model catalog plus its alias table. It is
// read-only after Load.
type Registry struct {
	models  []PrinterModel
	aliases *AliasRegistry
}

var (
	cacheMu sync.Mutex
	cache   = map[[2]string]*Registry{}
)

// Load reads the model catalog at dataPath and the alias table next to
// it. Registries are cached process-wide per (data, alias) path pair,
// so repeated loads of the same files return the same instance. A
// missing alias file yields an empty alias table; a malformed one is a
// hard error.
func Load(dataPath string) (*Registry, error) {
	aliasPath := filepath.Join(filepath.Dir(dataPath), DefaultAliasFileName)

	key := [2]string{absPath(dataPath), absPath(aliasPath)}
	cacheMu.Lock()
	defer cacheMu.Unlock()
	if registry, ok := cache[key]; ok {
		return registry, nil
	}

	data, err := os.ReadFile(dataPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read model catalog: %w", err)
	}
	var models []PrinterModel
	if err := json.Unmarshal(data, &models); err != nil {
		return nil, fmt.Errorf("failed to parse model catalog %s: %w", dataPath, err)
	}

	aliases := &AliasRegistry{}
	if aliasData, err := os.ReadFile(aliasPath); err == nil {
		aliases, err = parseAliases(aliasData)
		if err != nil {
			return nil, fmt.Errorf("failed to parse alias table %s: %w", aliasPath, err)
		}
	} else if !os.IsNotExist(err) {
		return nil, fmt.Errorf("failed to read alias table: %w", err)
	}

	registry := &Registry{models: models, aliases: aliases}
	cache[key] = registry
	return registry, nil
}

func absPath(path string) string {
	if abs, err := filepath.Abs(path); err == nil {
		return abs
	}
	return path
}

// Models returns a copy of the catalog.
func (r *Registry) Models() []PrinterModel {
	return append([]PrinterModel(nil), r.models...)
}

// Get looks a model up by exact model number.
func (r *Registry) Get(modelNo string) (PrinterModel, bool) {
	for _, model := range r.models {
		if model.ModelNo == modelNo {
			return model, true
		}
	}
	return PrinterModel{}, false
}

// GetByHeadName looks a model up by head name, falling back to the
// model number when no head name matches.
func (r *Registry) GetByHeadName(headName string) (PrinterModel, bool) {
	if headName == "" {
		return PrinterModel{}, false
	}
	target := strings.ToLower(headName)
	for _, model := range r.models {
		if model.HeadName != "" && strings.ToLower(model.HeadName) == target {
			return model, true
		}
	}
	for _, model := range r.models {
		if strings.ToLower(model.ModelNo) == target {
			return model, true
		}
	}
	return PrinterModel{}, false
}

// Detect resolves a device name to a model, discarding provenance.
func (r *Registry) Detect(name, address string) (PrinterModel, bool) {
	match, ok := r.DetectWithOrigin(name, address)
	if !ok {
		return PrinterModel{}, false
	}
	return match.Model, true
}

// DetectWithOrigin resolves a device name (and optionally its address)
// to a model. Lookup order: longest head-name prefix of the device
// name, then longest model-number prefix, then the alias table. Ties
// on prefix length keep the longer head name.
func (r *Registry) DetectWithOrigin(name, address string) (Match, bool) {
	if name == "" {
		return Match{}, false
	}
	nameLower := strings.ToLower(name)

	var best *PrinterModel
	for i, model := range r.models {
		if model.HeadName == "" || !strings.HasPrefix(nameLower, strings.ToLower(model.HeadName)) {
			continue
		}
		if best == nil || len(model.HeadName) > len(best.HeadName) {
			best = &r.models[i]
		}
	}
	if best != nil {
		return Match{Model: *best, Source: SourceHeadName}, true
	}

	for i, model := range r.models {
		if !strings.HasPrefix(nameLower, strings.ToLower(model.ModelNo)) {
			continue
		}
		if best == nil || len(model.ModelNo) > len(best.ModelNo) {
			best = &r.models[i]
		}
	}
	if best != nil {
		return Match{Model: *best, Source: SourceModelNo}, true
	}

	return r.detectFromAlias(name, address)
}

func (r *Registry) detectFromAlias(name, address string) (Match, bool) {
	aliasMatch, ok := r.aliases.Resolve(name, address)
	if !ok {
		return Match{}, false
	}
	model, ok := r.GetByHeadName(aliasMatch.TargetHeadName)
	if !ok {
		return Match{}, false
	}
	return Match{Model: model, Source: SourceAlias, AliasKind: aliasMatch.Kind}, true
}

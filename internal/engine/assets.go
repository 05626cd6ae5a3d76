package engine

import (
	_ "embed"
	"fmt"
	"os"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"
)

//go:embed reference_assets.yaml
var defaultReferenceAssets []byte

type assetEntry struct {
	Symbol    string   `yaml:"symbol"`
	Addresses []string `yaml:"addresses"`
}

type referenceAssetsFile struct {
	Stablecoins []assetEntry `yaml:"stablecoins"`
	BlueChips   []assetEntry `yaml:"bluechips"`
}

// ReferenceAssets - списки стейблкоинов и blue-chip токенов
//
// Правила читают списки при каждом выполнении, поэтому Reload сразу
// меняет эффективную область действия политик.
type ReferenceAssets struct {
	mu               sync.RWMutex
	path             string
	stableSymbols    map[string]struct{}
	stableAddresses  map[string]struct{}
	blueChipAddresses map[string]struct{}
}

// DefaultReferenceAssets возвращает встроенные списки
func DefaultReferenceAssets() *ReferenceAssets {
	r := &ReferenceAssets{}
	if err := r.Replace(defaultReferenceAssets); err != nil {
		panic(fmt.Sprintf("embedded reference assets: %v", err))
	}
	return r
}

// LoadReferenceAssets читает списки из YAML файла. Пустой path - встроенные списки.
func LoadReferenceAssets(path string) (*ReferenceAssets, error) {
	r := DefaultReferenceAssets()
	if path == "" {
		return r, nil
	}
	r.path = path
	if err := r.Reload(); err != nil {
		return nil, err
	}
	return r, nil
}

// Reload перечитывает файл. Без файла ничего не делает.
func (r *ReferenceAssets) Reload() error {
	if r.path == "" {
		return nil
	}
	data, err := os.ReadFile(r.path)
	if err != nil {
		return fmt.Errorf("read reference assets: %w", err)
	}
	return r.Replace(data)
}

// Replace атомарно заменяет списки содержимым YAML документа
func (r *ReferenceAssets) Replace(data []byte) error {
	var file referenceAssetsFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return fmt.Errorf("parse reference assets: %w", err)
	}
	if len(file.Stablecoins) == 0 {
		return fmt.Errorf("reference assets: stablecoins list is empty")
	}

	symbols := make(map[string]struct{})
	stable := make(map[string]struct{})
	blue := make(map[string]struct{})
	for _, e := range file.Stablecoins {
		symbols[strings.ToUpper(e.Symbol)] = struct{}{}
		for _, a := range e.Addresses {
			stable[strings.ToLower(a)] = struct{}{}
		}
	}
	for _, e := range file.BlueChips {
		for _, a := range e.Addresses {
			blue[strings.ToLower(a)] = struct{}{}
		}
	}

	r.mu.Lock()
	r.stableSymbols = symbols
	r.stableAddresses = stable
	r.blueChipAddresses = blue
	r.mu.Unlock()
	return nil
}

// IsStablecoinSymbol проверяет символ без учета регистра
func (r *ReferenceAssets) IsStablecoinSymbol(symbol string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.stableSymbols[strings.ToUpper(symbol)]
	return ok
}

// AllowedAddresses возвращает адреса, автоматически разрешенные режимом проверки.
// ALLOW_BLUECHIP включает и стейблкоины.
func (r *ReferenceAssets) AllowedAddresses(checkMode string) map[string]struct{} {
	r.mu.RLock()
	defer r.mu.RUnlock()

	allowed := make(map[string]struct{})
	if checkMode == CheckModeAllowStablecoins || checkMode == CheckModeAllowBlueChip {
		for a := range r.stableAddresses {
			allowed[a] = struct{}{}
		}
	}
	if checkMode == CheckModeAllowBlueChip {
		for a := range r.blueChipAddresses {
			allowed[a] = struct{}{}
		}
	}
	return allowed
}

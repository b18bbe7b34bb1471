package microfw

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

// ManifestFormat identifies the serialization of a module manifest.
type ManifestFormat int

const (
	// ManifestJSON is a JSON object manifest.
	ManifestJSON ManifestFormat = iota + 1

	// ManifestYAML is a YAML mapping manifest.
	ManifestYAML

	// ManifestTOML is a TOML table manifest.
	ManifestTOML
)

func (f ManifestFormat) String() string {
	switch f {
	case ManifestJSON:
		return "json"
	case ManifestYAML:
		return "yaml"
	case ManifestTOML:
		return "toml"
	}
	return fmt.Sprintf("ManifestFormat(%d)", int(f))
}

// ManifestFormatForPath picks the manifest format from a file
// extension. The second result is false for unrecognized extensions.
func ManifestFormatForPath(path string) (ManifestFormat, bool) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		return ManifestJSON, true
	case ".yaml", ".yml":
		return ManifestYAML, true
	case ".toml":
		return ManifestTOML, true
	}
	return 0, false
}

// ParseManifest decodes manifest data into a property map. Manifest
// keys are case-sensitive; nested tables stay nested maps.
func ParseManifest(data []byte, format ManifestFormat) (map[string]any, error) {
	manifest := make(map[string]any)
	switch format {
	case ManifestJSON:
		if err := json.Unmarshal(data, &manifest); err != nil {
			return nil, fmt.Errorf("failed to parse json manifest: %w", err)
		}
	case ManifestYAML:
		if err := yaml.Unmarshal(data, &manifest); err != nil {
			return nil, fmt.Errorf("failed to parse yaml manifest: %w", err)
		}
	case ManifestTOML:
		if err := toml.Unmarshal(data, &manifest); err != nil {
			return nil, fmt.Errorf("failed to parse toml manifest: %w", err)
		}
	default:
		return nil, fmt.Errorf("%w: %v", ErrUnknownManifestFormat, format)
	}
	return manifest, nil
}

// ParseManifestFile decodes a manifest file, picking the format from
// the file extension.
func ParseManifestFile(path string, data []byte) (map[string]any, error) {
	format, ok := ManifestFormatForPath(path)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownManifestFormat, path)
	}
	return ParseManifest(data, format)
}

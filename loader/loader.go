// Package loader reads scenario and server definitions from YAML files into
// engine.Scenario / engine.Server values, then hands them to config.Prepare*
// before returning — the external loading step spec.md §6 says the engine
// itself must not contain.
package loader

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"scenarioflow/config"
	"scenarioflow/engine"
)

// LoadScenario reads one YAML file and decodes it into a ready-to-execute
// Scenario, with defaults applied and cross-references validated.
func LoadScenario(path string) (*engine.Scenario, error) {
	raw, err := readYAMLDocument(path)
	if err != nil {
		return nil, err
	}

	var scenario engine.Scenario
	if err := decodeInto(raw, &scenario); err != nil {
		return nil, fmt.Errorf("error decoding scenario %s: %w", path, err)
	}

	if err := config.PrepareScenario(&scenario); err != nil {
		return nil, fmt.Errorf("scenario %s failed validation: %w", path, err)
	}
	return &scenario, nil
}

// LoadServers reads one YAML file containing a map of server id to server
// definition.
func LoadServers(path string) (map[string]engine.Server, error) {
	raw, err := readYAMLDocument(path)
	if err != nil {
		return nil, err
	}

	rawMap, ok := raw.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("servers file %s: expected a top-level mapping of server id to definition", path)
	}

	servers := make(map[string]engine.Server, len(rawMap))
	for id, entry := range rawMap {
		var server engine.Server
		if err := decodeInto(entry, &server); err != nil {
			return nil, fmt.Errorf("error decoding server %q in %s: %w", id, path, err)
		}
		if server.ID == "" {
			server.ID = id
		}
		servers[id] = server
	}

	if err := config.PrepareServers(servers); err != nil {
		return nil, fmt.Errorf("servers file %s failed validation: %w", path, err)
	}
	return servers, nil
}

// readYAMLDocument reads a file and unmarshals it generically, the way the
// teacher's readFlow does for Flow documents.
func readYAMLDocument(path string) (any, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("error reading YAML file %s: %w", path, err)
	}

	var raw any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("error unmarshalling YAML file %s: %w", path, err)
	}
	return normalizeYAMLMaps(raw), nil
}

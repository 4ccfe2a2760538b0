package attrsync

import (
	"fmt"
	"os"

	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"
)

type yamlBackend struct {
	Name     string `yaml:"name"`
	Endpoint string `yaml:"endpoint"`
}

type yamlRegistry struct {
	Backends []yamlBackend `yaml:"backends"`
}

// LoadBackends reads a YAML backend registry and registers an HTTP backend
// per entry. Duplicate names in the file fail the load.
func LoadBackends(engine *Engine, filePath string, logger *logrus.Logger) error {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return fmt.Errorf("failed to read backend registry: %w", err)
	}

	var registry yamlRegistry
	if err := yaml.Unmarshal(data, &registry); err != nil {
		return fmt.Errorf("failed to parse backend registry: %w", err)
	}

	for _, b := range registry.Backends {
		if b.Name == "" || b.Endpoint == "" {
			return fmt.Errorf("backend registry entries need both name and endpoint, got %+v", b)
		}
		if err := engine.Register(NewHTTPBackend(b.Name, b.Endpoint, logger), false); err != nil {
			return fmt.Errorf("failed to register backend %s: %w", b.Name, err)
		}
	}
	return nil
}

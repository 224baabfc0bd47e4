package config

import (
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/ajitpratap0/dataprep/pkg/errors"
)

// LoadBundle loads the four job payloads from one YAML or JSON file,
// substituting ${VAR_NAME} references first.
func LoadBundle(filePath string) (*Payloads, error) {
	data, err := os.ReadFile(filePath) //nolint:gosec // G304: File path is controlled by caller
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConfig, "failed to read job bundle")
	}

	content := substituteEnvVars(string(data))

	var p Payloads
	if err := yaml.Unmarshal([]byte(content), &p); err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConfig, "failed to parse job bundle")
	}
	p.Normalize()
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return &p, nil
}

// substituteEnvVars replaces ${VAR_NAME} with environment variable values
func substituteEnvVars(content string) string {
	for {
		start := strings.Index(content, "${")
		if start == -1 {
			break
		}
		end := strings.Index(content[start:], "}")
		if end == -1 {
			break
		}
		end += start

		varName := content[start+2 : end]
		envValue := os.Getenv(varName)
		content = content[:start] + envValue + content[end+1:]
	}
	return content
}

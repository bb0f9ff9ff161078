package config

import (
	"fmt"
	"os"
	"regexp"

	"gopkg.in/yaml.v3"

	plerrors "github.com/puppetline/puppetline/pkg/errors"
)

var yamlLineRegex = regexp.MustCompile(`line (\d+)`)

// ParseRequest loads a provisioning request from disk, applies defaults,
// validates it, and returns the resulting model.
func ParseRequest(path string) (*Request, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, plerrors.NewParseError(path, 0, err)
	}

	var req Request
	if err := yaml.Unmarshal(data, &req); err != nil {
		return nil, plerrors.NewParseError(path, extractLine(err), err)
	}

	req.ApplyDefaults()

	if err := ValidateRequest(&req); err != nil {
		return nil, err
	}

	return &req, nil
}

func extractLine(err error) int {
	if err == nil {
		return 0
	}

	matches := yamlLineRegex.FindStringSubmatch(err.Error())
	if len(matches) != 2 {
		return 0
	}

	var line int
	if _, scanErr := fmt.Sscanf(matches[1], "%d", &line); scanErr != nil {
		return 0
	}

	return line
}

package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"maps"
	"os"
	"path/filepath"
	"strings"

	"github.com/tonimelisma/liftoff/internal/deployapi"
)

// EnvDeployMode is injected into every descriptor's environment so the
// application can tell preview and development deploys apart.
const EnvDeployMode = "DEPLOY_MODE"

const maxNameLen = 63

// packageManifest is the subset of package.json liftoff reads.
type packageManifest struct {
	Name string `json:"name"`
}

// BuildDescriptor assembles the immutable deployment descriptor for the
// project at root. The name comes from the config (already merged with
// flags), then package.json, then the directory name.
func BuildDescriptor(cfg *Config, root string) (*deployapi.Descriptor, error) {
	name := cfg.Deployment.Name
	if name == "" {
		var err error
		if name, err = projectName(root); err != nil {
			return nil, err
		}
	}

	if !ValidDeploymentName(name) {
		return nil, fmt.Errorf("config: cannot derive a valid deployment name for %s, set --name", root)
	}

	env := make(map[string]string, len(cfg.Deployment.Env)+1)
	maps.Copy(env, cfg.Deployment.Env)
	env[EnvDeployMode] = cfg.Deployment.Mode

	return &deployapi.Descriptor{
		Name:       name,
		Domain:     cfg.Deployment.Domain,
		CustomerID: cfg.API.CustomerID,
		Framework:  cfg.Deployment.Framework,
		Resources: deployapi.Resources{
			Memory: cfg.Deployment.Memory,
			CPU:    cfg.Deployment.CPU,
		},
		Env:  env,
		Mode: deployapi.Mode(cfg.Deployment.Mode),
	}, nil
}

// projectName reads the name from root/package.json, falling back to the
// directory's base name. Either source is normalized to a DNS label.
func projectName(root string) (string, error) {
	data, err := os.ReadFile(filepath.Join(root, "package.json"))

	switch {
	case err == nil:
		var m packageManifest
		if err := json.Unmarshal(data, &m); err != nil {
			return "", fmt.Errorf("config: parsing package.json: %w", err)
		}

		if n := SanitizeName(m.Name); n != "" {
			return n, nil
		}
	case !errors.Is(err, os.ErrNotExist):
		return "", fmt.Errorf("config: reading package.json: %w", err)
	}

	abs, err := filepath.Abs(root)
	if err != nil {
		return "", fmt.Errorf("config: resolving %s: %w", root, err)
	}

	return SanitizeName(filepath.Base(abs)), nil
}

// SanitizeName lowercases s, drops an npm scope, and replaces every run of
// characters outside [a-z0-9] with a single hyphen.
func SanitizeName(s string) string {
	if strings.HasPrefix(s, "@") {
		if _, rest, ok := strings.Cut(s, "/"); ok {
			s = rest
		}
	}

	var b strings.Builder

	hyphen := false

	for _, r := range strings.ToLower(s) {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
			hyphen = false

			continue
		}

		if !hyphen && b.Len() > 0 {
			b.WriteByte('-')
			hyphen = true
		}
	}

	out := b.String()
	if len(out) > maxNameLen {
		out = out[:maxNameLen]
	}

	return strings.Trim(out, "-")
}

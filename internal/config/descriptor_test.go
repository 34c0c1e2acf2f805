package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tonimelisma/liftoff/internal/deployapi"
)

func projectDir(t *testing.T, name, manifest string) string {
	t.Helper()

	dir := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.MkdirAll(dir, 0o700))

	if manifest != "" {
		require.NoError(t, os.WriteFile(filepath.Join(dir, "package.json"), []byte(manifest), 0o600))
	}

	return dir
}

func TestBuildDescriptor_FromConfig(t *testing.T) {
	cfg := DefaultConfig()
	cfg.API.CustomerID = "cust-1"
	cfg.Deployment.Name = "shop"
	cfg.Deployment.Domain = "shop.example.com"
	cfg.Deployment.Framework = "nextjs"
	cfg.Deployment.Mode = "development"
	cfg.Deployment.Env = map[string]string{"PORT": "3000"}

	d, err := BuildDescriptor(cfg, projectDir(t, "ignored", `{"name":"from-package"}`))
	require.NoError(t, err)

	assert.Equal(t, &deployapi.Descriptor{
		Name:       "shop",
		Domain:     "shop.example.com",
		CustomerID: "cust-1",
		Framework:  "nextjs",
		Resources:  deployapi.Resources{Memory: "512Mi", CPU: "0.5"},
		Env:        map[string]string{"PORT": "3000", "DEPLOY_MODE": "development"},
		Mode:       deployapi.ModeDevelopment,
	}, d)

	assert.NotContains(t, cfg.Deployment.Env, EnvDeployMode, "config env is not mutated")
}

func TestBuildDescriptor_NameFromPackageJSON(t *testing.T) {
	d, err := BuildDescriptor(DefaultConfig(), projectDir(t, "dir", `{"name":"@acme/Storefront_App","version":"1.0.0"}`))
	require.NoError(t, err)
	assert.Equal(t, "storefront-app", d.Name)
	assert.Equal(t, "preview", d.Env[EnvDeployMode])
}

func TestBuildDescriptor_NameFromDirectory(t *testing.T) {
	d, err := BuildDescriptor(DefaultConfig(), projectDir(t, "My Site", ""))
	require.NoError(t, err)
	assert.Equal(t, "my-site", d.Name)

	d, err = BuildDescriptor(DefaultConfig(), projectDir(t, "blog", `{"version":"1.0.0"}`))
	require.NoError(t, err)
	assert.Equal(t, "blog", d.Name, "package.json without a name falls back to the directory")
}

func TestBuildDescriptor_MalformedPackageJSON(t *testing.T) {
	_, err := BuildDescriptor(DefaultConfig(), projectDir(t, "app", `{"name":`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "package.json")
}

func TestBuildDescriptor_UnusableName(t *testing.T) {
	_, err := BuildDescriptor(DefaultConfig(), projectDir(t, "___", ""))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "--name")
}

func TestSanitizeName(t *testing.T) {
	tests := map[string]string{
		"my-app":        "my-app",
		"My App!!":      "my-app",
		"@scope/pkg":    "pkg",
		"--lead--trail": "lead-trail",
		"a__b..c":       "a-b-c",
		"":              "",
	}

	for in, want := range tests {
		assert.Equal(t, want, SanitizeName(in), in)
	}

	long := SanitizeName("abcdefghij-abcdefghij-abcdefghij-abcdefghij-abcdefghij-abcdefghij-xyz")
	assert.LessOrEqual(t, len(long), 63)
	assert.True(t, ValidDeploymentName(long))
}

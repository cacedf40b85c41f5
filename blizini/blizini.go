// Package blizini parses the key=value configuration files served from
// the /config namespace of the patch CDN, and provides typed views over
// the build, CDN and patch config variants.
package blizini

import (
	"strings"
)

// Load decodes config-file text into its key/value form. Lines are
// "key = value"; blank lines and "#" comments are skipped; a repeated
// key overrides the earlier value.
func Load(data string) map[string]string {
	values := make(map[string]string)
	for _, line := range strings.Split(data, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		key, value, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		values[strings.TrimSpace(key)] = strings.TrimSpace(value)
	}
	return values
}

// fields splits a space-separated config value, returning nil for "".
func fields(value string) []string {
	if value == "" {
		return nil
	}
	return strings.Fields(value)
}

// BuildConfig is the typed view over a build config blob.
type BuildConfig struct {
	Root        string
	Install     string
	Download    string
	Encoding    []string // content key, then encoded key
	BuildName   string
	BuildUID    string
	Patch       string
	PatchConfig string

	// Values retains the full decoded map for keys without a typed field.
	Values map[string]string
}

// NewBuildConfig views decoded config values as a build config.
func NewBuildConfig(values map[string]string) *BuildConfig {
	return &BuildConfig{
		Root:        values["root"],
		Install:     values["install"],
		Download:    values["download"],
		Encoding:    fields(values["encoding"]),
		BuildName:   values["build-name"],
		BuildUID:    values["build-uid"],
		Patch:       values["patch"],
		PatchConfig: values["patch-config"],
		Values:      values,
	}
}

// CDNConfig is the typed view over a CDN config blob.
type CDNConfig struct {
	Archives          []string
	ArchiveGroup      string
	PatchArchives     []string
	PatchArchiveGroup string
	FileIndex         string

	Values map[string]string
}

// NewCDNConfig views decoded config values as a CDN config.
func NewCDNConfig(values map[string]string) *CDNConfig {
	return &CDNConfig{
		Archives:          fields(values["archives"]),
		ArchiveGroup:      values["archive-group"],
		PatchArchives:     fields(values["patch-archives"]),
		PatchArchiveGroup: values["patch-archive-group"],
		FileIndex:         values["file-index"],
		Values:            values,
	}
}

// PatchConfig is the typed view over a patch config blob.
type PatchConfig struct {
	Patch        string
	PatchEntries []string

	Values map[string]string
}

// NewPatchConfig views decoded config values as a patch config.
func NewPatchConfig(values map[string]string) *PatchConfig {
	return &PatchConfig{
		Patch:        values["patch"],
		PatchEntries: fields(values["patch-entry"]),
		Values:       values,
	}
}

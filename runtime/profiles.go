package runtime

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Profile describes how to run one language: which image to use and the
// command template the sandbox executes. {file} in the command is
// replaced with the source file name.
type Profile struct {
	Image         string   `yaml:"image"`
	Command       []string `yaml:"command"`
	FileExtension string   `yaml:"file_extension"`
	WorkDir       string   `yaml:"work_dir"`
}

// Profiles maps language names to their run profiles.
type Profiles map[string]Profile

// DefaultProfiles returns the built-in language profiles.
func DefaultProfiles() Profiles {
	return Profiles{
		"python": {
			Image:         "python:3.11-slim",
			Command:       []string{"python", "{file}"},
			FileExtension: ".py",
			WorkDir:       "/workdir",
		},
		// The workdir holds the mounted source and may be read-only, so
		// compiled languages write their binary to /tmp.
		"cpp": {
			Image:         "gcc:13",
			Command:       []string{"sh", "-c", "g++ -std=c++17 -O2 -o /tmp/app {file} && /tmp/app"},
			FileExtension: ".cpp",
			WorkDir:       "/workdir",
		},
		"rust": {
			Image:         "rust:1.83-slim",
			Command:       []string{"sh", "-c", "rustc -O -o /tmp/app {file} && /tmp/app"},
			FileExtension: ".rs",
			WorkDir:       "/workdir",
		},
	}
}

// LoadProfiles reads language profiles from a YAML file. An empty path
// returns the defaults.
func LoadProfiles(path string) (Profiles, error) {
	if path == "" {
		return DefaultProfiles(), nil
	}

	data, err := os.ReadFile(path) //nolint:gosec // path comes from the operator's config
	if err != nil {
		return nil, fmt.Errorf("read profiles: %w", err)
	}

	var profiles Profiles
	if err := yaml.Unmarshal(data, &profiles); err != nil {
		return nil, fmt.Errorf("parse profiles: %w", err)
	}

	for name, profile := range profiles {
		if profile.Image == "" {
			return nil, fmt.Errorf("profile %s: image is required", name)
		}
		if len(profile.Command) == 0 {
			return nil, fmt.Errorf("profile %s: command is required", name)
		}
	}
	return profiles, nil
}

// Get returns the profile for a language.
func (p Profiles) Get(language string) (Profile, error) {
	profile, ok := p[language]
	if !ok {
		return Profile{}, fmt.Errorf("unsupported language: %s", language)
	}
	return profile, nil
}

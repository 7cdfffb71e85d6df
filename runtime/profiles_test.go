package runtime

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultProfiles(t *testing.T) {
	profiles := DefaultProfiles()

	for _, language := range []string{"python", "cpp", "rust"} {
		profile, err := profiles.Get(language)
		require.NoError(t, err, language)
		assert.NotEmpty(t, profile.Image)
		assert.NotEmpty(t, profile.Command)
		assert.NotEmpty(t, profile.FileExtension)
	}

	_, err := profiles.Get("cobol")
	assert.Error(t, err)
}

func TestDefaultProfilesCompileOutsideWorkDir(t *testing.T) {
	// The source directory is mounted read-only at the workdir, so the
	// compiled binary must land somewhere else.
	profiles := DefaultProfiles()

	for _, language := range []string{"cpp", "rust"} {
		t.Run(language, func(t *testing.T) {
			profile, err := profiles.Get(language)
			require.NoError(t, err)

			script := profile.Command[len(profile.Command)-1]
			assert.Contains(t, script, "-o /tmp/app")
			assert.NotContains(t, script, "-o app")
			assert.NotContains(t, script, "./app")
		})
	}
}

func TestLoadProfiles(t *testing.T) {
	t.Run("empty path returns defaults", func(t *testing.T) {
		profiles, err := LoadProfiles("")
		require.NoError(t, err)
		assert.Equal(t, DefaultProfiles(), profiles)
	})

	t.Run("reads yaml file", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "profiles.yaml")
		content := `
go:
  image: golang:1.25
  command: ["go", "run", "{file}"]
  file_extension: .go
  work_dir: /src
`
		require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

		profiles, err := LoadProfiles(path)
		require.NoError(t, err)

		profile, err := profiles.Get("go")
		require.NoError(t, err)
		assert.Equal(t, "golang:1.25", profile.Image)
		assert.Equal(t, []string{"go", "run", "{file}"}, profile.Command)
		assert.Equal(t, ".go", profile.FileExtension)
		assert.Equal(t, "/src", profile.WorkDir)
	})

	t.Run("missing file", func(t *testing.T) {
		_, err := LoadProfiles(filepath.Join(t.TempDir(), "nope.yaml"))
		assert.Error(t, err)
	})

	t.Run("invalid yaml", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "profiles.yaml")
		require.NoError(t, os.WriteFile(path, []byte("{not yaml"), 0o600))

		_, err := LoadProfiles(path)
		assert.Error(t, err)
	})

	t.Run("profile without image is rejected", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "profiles.yaml")
		content := `
go:
  command: ["go", "run", "{file}"]
`
		require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

		_, err := LoadProfiles(path)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "image is required")
	})
}

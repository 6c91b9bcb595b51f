package auth

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func clearTokenEnv(t *testing.T) {
	t.Helper()
	t.Setenv("GITHUB_TOKEN", "")
	t.Setenv("GH_TOKEN", "")
	t.Setenv("PLATFORM_API_TOKEN", "")
	// Point the gh CLI config lookup at an empty directory.
	t.Setenv("GH_CONFIG_DIR", t.TempDir())
	t.Setenv("HOME", t.TempDir())
}

func TestResolveGitHubToken(t *testing.T) {
	t.Run("flag wins over environment", func(t *testing.T) {
		clearTokenEnv(t)
		t.Setenv("GITHUB_TOKEN", "from-env")

		token, source, err := ResolveGitHubToken("from-flag")
		require.NoError(t, err)
		assert.Equal(t, "from-flag", token)
		assert.Equal(t, TokenSourceFlag, source)
	})

	t.Run("GITHUB_TOKEN wins over GH_TOKEN", func(t *testing.T) {
		clearTokenEnv(t)
		t.Setenv("GITHUB_TOKEN", "primary")
		t.Setenv("GH_TOKEN", "secondary")

		token, source, err := ResolveGitHubToken("")
		require.NoError(t, err)
		assert.Equal(t, "primary", token)
		assert.Equal(t, TokenSourceEnvGitHub, source)
	})

	t.Run("GH_TOKEN fallback", func(t *testing.T) {
		clearTokenEnv(t)
		t.Setenv("GH_TOKEN", "secondary")

		token, source, err := ResolveGitHubToken("")
		require.NoError(t, err)
		assert.Equal(t, "secondary", token)
		assert.Equal(t, TokenSourceEnvGH, source)
	})

	t.Run("nothing configured", func(t *testing.T) {
		clearTokenEnv(t)

		_, source, err := ResolveGitHubToken("")
		require.Error(t, err)
		assert.Equal(t, TokenSourceNone, source)
		assert.Contains(t, err.Error(), "GitHub token required")
	})
}

func TestResolvePlatformToken(t *testing.T) {
	t.Run("flag wins", func(t *testing.T) {
		clearTokenEnv(t)

		token, source, err := ResolvePlatformToken("from-flag")
		require.NoError(t, err)
		assert.Equal(t, "from-flag", token)
		assert.Equal(t, TokenSourceFlag, source)
	})

	t.Run("environment variable", func(t *testing.T) {
		clearTokenEnv(t)
		t.Setenv("PLATFORM_API_TOKEN", "env-token")

		token, source, err := ResolvePlatformToken("")
		require.NoError(t, err)
		assert.Equal(t, "env-token", token)
		assert.Equal(t, TokenSourceEnvPlatform, source)
	})

	t.Run("token file", func(t *testing.T) {
		clearTokenEnv(t)
		home := os.Getenv("HOME")
		require.NoError(t, os.MkdirAll(filepath.Join(home, ".patchrun"), 0o700))
		require.NoError(t, os.WriteFile(filepath.Join(home, ".patchrun", "token.txt"), []byte("  file-token\n"), 0o600))

		token, source, err := ResolvePlatformToken("")
		require.NoError(t, err)
		assert.Equal(t, "file-token", token)
		assert.Equal(t, TokenSourceTokenFile, source)
	})

	t.Run("empty token file", func(t *testing.T) {
		clearTokenEnv(t)
		home := os.Getenv("HOME")
		require.NoError(t, os.MkdirAll(filepath.Join(home, ".patchrun"), 0o700))
		require.NoError(t, os.WriteFile(filepath.Join(home, ".patchrun", "token.txt"), []byte("\n"), 0o600))

		_, _, err := ResolvePlatformToken("")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "empty")
	})

	t.Run("nothing configured", func(t *testing.T) {
		clearTokenEnv(t)

		_, source, err := ResolvePlatformToken("")
		require.Error(t, err)
		assert.Equal(t, TokenSourceNone, source)
	})
}

func TestLoadGPGKeyConfig(t *testing.T) {
	t.Run("all variables set", func(t *testing.T) {
		t.Setenv("GPG_KEY_PRIVATE_KEY", "private")
		t.Setenv("GPG_KEY_PUBLIC_KEY", "public")
		t.Setenv("GPG_KEY_PASSPHRASE", "secret")

		cfg, err := LoadGPGKeyConfig()
		require.NoError(t, err)
		assert.Equal(t, "private", cfg.PrivateKey)
		assert.Equal(t, "public", cfg.PublicKey)
		assert.Equal(t, "secret", cfg.Passphrase)
	})

	t.Run("missing keys are named", func(t *testing.T) {
		t.Setenv("GPG_KEY_PRIVATE_KEY", "")
		t.Setenv("GPG_KEY_PUBLIC_KEY", "")
		t.Setenv("GPG_KEY_PASSPHRASE", "")

		_, err := LoadGPGKeyConfig()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "GPG_KEY_PRIVATE_KEY")
		assert.Contains(t, err.Error(), "GPG_KEY_PUBLIC_KEY")
	})
}

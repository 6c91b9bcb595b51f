// Package auth resolves the credentials the campaign engine needs: the
// platform API token, the GitHub token used for publishing, and the GPG key
// material used for commit signing.
package auth

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/cli/go-gh/v2/pkg/auth"
	"golang.org/x/term"
)

// TokenSource indicates where a token was found.
type TokenSource string

const (
	TokenSourceFlag        TokenSource = "flag"
	TokenSourceEnvGitHub   TokenSource = "GITHUB_TOKEN"
	TokenSourceEnvGH       TokenSource = "GH_TOKEN"
	TokenSourceGHCLI       TokenSource = "gh-cli"
	TokenSourceEnvPlatform TokenSource = "PLATFORM_API_TOKEN"
	TokenSourceTokenFile   TokenSource = "token-file"
	TokenSourceNone        TokenSource = "none"
)

// ResolveGitHubToken finds a GitHub token.
// Priority order:
//  1. flagToken (explicit --github-token flag)
//  2. GITHUB_TOKEN environment variable
//  3. GH_TOKEN environment variable
//  4. gh CLI auth (config file)
func ResolveGitHubToken(flagToken string) (token string, source TokenSource, err error) {
	if flagToken != "" {
		return flagToken, TokenSourceFlag, nil
	}

	if token = os.Getenv("GITHUB_TOKEN"); token != "" {
		return token, TokenSourceEnvGitHub, nil
	}

	if token = os.Getenv("GH_TOKEN"); token != "" {
		return token, TokenSourceEnvGH, nil
	}

	if token, _ = auth.TokenForHost("github.com"); token != "" {
		return token, TokenSourceGHCLI, nil
	}

	return "", TokenSourceNone, fmt.Errorf(`GitHub token required

Provide a token via one of:
  * GITHUB_TOKEN env var
  * gh auth login             (auto-detected from gh CLI)
  * --github-token flag

Create a token at: https://github.com/settings/tokens`)
}

// ResolvePlatformToken finds the transformation platform API token.
// Priority order:
//  1. flagToken (explicit --platform-token flag)
//  2. PLATFORM_API_TOKEN environment variable
//  3. ~/.patchrun/token.txt
func ResolvePlatformToken(flagToken string) (token string, source TokenSource, err error) {
	if flagToken != "" {
		return flagToken, TokenSourceFlag, nil
	}

	if token = os.Getenv("PLATFORM_API_TOKEN"); token != "" {
		return token, TokenSourceEnvPlatform, nil
	}

	home, err := os.UserHomeDir()
	if err == nil {
		path := filepath.Join(home, ".patchrun", "token.txt")
		if data, err := os.ReadFile(path); err == nil {
			token = strings.TrimSpace(string(data))
			if token == "" {
				return "", TokenSourceNone, fmt.Errorf("token file %s is empty", path)
			}
			return token, TokenSourceTokenFile, nil
		}
	}

	return "", TokenSourceNone, fmt.Errorf(
		"no platform token found: set PLATFORM_API_TOKEN or create ~/.patchrun/token.txt")
}

// GPGKeyConfig is the key material used for commit signing.
type GPGKeyConfig struct {
	Passphrase string
	PrivateKey string
	PublicKey  string
}

// LoadGPGKeyConfig reads the signing key from GPG_KEY_PRIVATE_KEY,
// GPG_KEY_PUBLIC_KEY and GPG_KEY_PASSPHRASE. When the passphrase variable is
// unset and stdin is a terminal, it prompts for one instead of failing.
func LoadGPGKeyConfig() (*GPGKeyConfig, error) {
	privateKey := os.Getenv("GPG_KEY_PRIVATE_KEY")
	publicKey := os.Getenv("GPG_KEY_PUBLIC_KEY")

	var missing []string
	if privateKey == "" {
		missing = append(missing, "GPG_KEY_PRIVATE_KEY")
	}
	if publicKey == "" {
		missing = append(missing, "GPG_KEY_PUBLIC_KEY")
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("environment variables %s are not set", strings.Join(missing, ", "))
	}

	passphrase := os.Getenv("GPG_KEY_PASSPHRASE")
	if passphrase == "" {
		prompted, err := promptPassphrase()
		if err != nil {
			return nil, err
		}
		passphrase = prompted
	}

	return &GPGKeyConfig{
		Passphrase: passphrase,
		PrivateKey: privateKey,
		PublicKey:  publicKey,
	}, nil
}

func promptPassphrase() (string, error) {
	fd := int(syscall.Stdin)
	if !term.IsTerminal(fd) {
		return "", fmt.Errorf("GPG_KEY_PASSPHRASE is not set and stdin is not a terminal")
	}

	fmt.Fprint(os.Stderr, "GPG key passphrase: ")
	raw, err := term.ReadPassword(fd)
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", fmt.Errorf("failed to read passphrase: %w", err)
	}
	return string(raw), nil
}

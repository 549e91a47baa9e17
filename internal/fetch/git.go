package fetch

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"net/url"
	"os"
	"os/exec"
	"strings"

	"github.com/rs/zerolog/log"
)

// maxStderr bounds how much git output is carried into an error.
const maxStderr = 512

// Git clones repositories with the git command line.
type Git struct {
	// Binary is the git executable; "git" from PATH when empty.
	Binary string
}

// Fetch shallow-clones a single branch of repoURL into dest. A non-empty
// token is handed to git through GIT_CONFIG_* environment variables as an
// HTTP Authorization header, so it never appears in argv, .git/config, logs
// or the returned error.
func (g *Git) Fetch(ctx context.Context, repoURL, dest, token string) error {
	if strings.TrimSpace(repoURL) == "" {
		return errors.New("git clone: empty repository URL")
	}
	bin := g.Binary
	if bin == "" {
		bin = "git"
	}

	// #nosec G204 - URL is passed after "--" and cannot be read as an option
	cmd := exec.CommandContext(ctx, bin, cloneArgs(repoURL, dest)...)
	cmd.Env = append(os.Environ(), cloneEnv(token)...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	logURL := redactURL(repoURL)
	log.Info().Str("url", logURL).Bool("authenticated", token != "").Msg("cloning repository")

	if err := cmd.Run(); err != nil {
		msg := scrub(strings.TrimSpace(stderr.String()), token)
		if len(msg) > maxStderr {
			msg = msg[len(msg)-maxStderr:]
		}
		if msg != "" {
			return fmt.Errorf("git clone %s: %w: %s", logURL, err, msg)
		}
		return fmt.Errorf("git clone %s: %w", logURL, err)
	}
	return nil
}

func cloneArgs(repoURL, dest string) []string {
	return []string{"clone", "--depth", "1", "--single-branch", "--quiet", "--", repoURL, dest}
}

func cloneEnv(token string) []string {
	env := []string{"GIT_TERMINAL_PROMPT=0"}
	if token == "" {
		return env
	}
	basic := base64.StdEncoding.EncodeToString([]byte("x-access-token:" + token))
	return append(env,
		"GIT_CONFIG_COUNT=1",
		"GIT_CONFIG_KEY_0=http.extraHeader",
		"GIT_CONFIG_VALUE_0=Authorization: Basic "+basic,
	)
}

// redactURL drops userinfo and query parameters before a URL is logged.
func redactURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return "<invalid url>"
	}
	if u.User != nil {
		u.User = url.User("***")
	}
	u.RawQuery = ""
	return u.String()
}

func scrub(s, token string) string {
	if token == "" {
		return s
	}
	s = strings.ReplaceAll(s, token, "***")
	basic := base64.StdEncoding.EncodeToString([]byte("x-access-token:" + token))
	return strings.ReplaceAll(s, basic, "***")
}

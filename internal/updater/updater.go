// Package updater watches the project's continuous release and swaps
// the running binary when a newer build lands.
package updater

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os/exec"
	"regexp"
	"time"

	"github.com/sony/gobreaker"
)

const (
	releaseURL    = "https://api.github.com/repos/Zangetsu38/v3kn/releases/tags/continuous"
	checkInterval = 5 * time.Minute
)

// ErrRestarting signals that the update script has started; the caller
// shuts down and lets the script replace the process.
var ErrRestarting = errors.New("update started, restarting")

// Quiescer drains in-flight requests before the binary is swapped.
type Quiescer interface {
	Quiesce()
}

// Updater polls the release feed and triggers the update script when
// the published commit moves past the one this build was stamped with.
type Updater struct {
	commit  string
	script  string
	gate    Quiescer
	client  *http.Client
	breaker *gobreaker.CircuitBreaker
	feedURL string
}

func New(commit, script string, gate Quiescer) *Updater {
	return &Updater{
		commit:  commit,
		script:  script,
		gate:    gate,
		client:  &http.Client{Timeout: 30 * time.Second},
		feedURL: releaseURL,
		breaker: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:    "github-releases",
			Timeout: 10 * time.Minute,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= 3
			},
		}),
	}
}

type release struct {
	Body string `json:"body"`
}

// LatestCommit extracts the published commit from the release notes.
// The notes carry a "Corresponding commit: <hash>" line; the match
// length follows whatever length this build was stamped with.
func LatestCommit(notes, current string) string {
	re, err := regexp.Compile(fmt.Sprintf(`Corresponding commit:\s*([a-f0-9]{%d})`, len(current)))
	if err != nil {
		return ""
	}
	m := re.FindStringSubmatch(notes)
	if m == nil {
		return ""
	}
	return m[1]
}

// Check reports the commit an update should move to, or "" when the
// notes hold nothing newer than the running build.
func (u *Updater) Check(notes string) string {
	latest := LatestCommit(notes, u.commit)
	if latest == "" || latest == u.commit {
		return ""
	}
	return latest
}

func (u *Updater) fetchNotes(ctx context.Context) (string, error) {
	body, err := u.breaker.Execute(func() (any, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.feedURL, nil)
		if err != nil {
			return nil, err
		}
		req.Header.Set("Accept", "application/vnd.github+json")

		resp, err := u.client.Do(req)
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			return nil, fmt.Errorf("release fetch: status %d", resp.StatusCode)
		}
		data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
		if err != nil {
			return nil, err
		}

		var rel release
		if err := json.Unmarshal(data, &rel); err != nil {
			return nil, fmt.Errorf("parse release: %w", err)
		}
		return rel.Body, nil
	})
	if err != nil {
		return "", err
	}
	return body.(string), nil
}

// Run polls the release feed until ctx is done or an update starts.
// Builds without a stamped commit never update themselves.
func (u *Updater) Run(ctx context.Context) error {
	if u.commit == "" || u.commit == "none" {
		slog.Info("updater idle: no build commit stamped")
		return nil
	}
	slog.Info("updater watching releases", "commit", u.commit, "interval", checkInterval)

	ticker := time.NewTicker(checkInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}

		notes, err := u.fetchNotes(ctx)
		if err != nil {
			slog.Warn("release check failed", "error", err)
			continue
		}
		latest := u.Check(notes)
		if latest == "" {
			continue
		}

		slog.Info("update available", "current", u.commit, "latest", latest)
		u.gate.Quiesce()
		slog.Info("all requests finished, starting update")

		// Start detached; the script outlives this process.
		if err := exec.Command(u.script).Start(); err != nil {
			return fmt.Errorf("start update script: %w", err)
		}
		return ErrRestarting
	}
}

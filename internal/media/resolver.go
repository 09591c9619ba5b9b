package media

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	// ErrUnsupportedSource covers private, removed, geo-blocked, and
	// plainly unsupported URLs: resubmitting the same URL will not help.
	ErrUnsupportedSource = errors.New("source not supported")
	// ErrResolveTimeout means the extraction tool did not answer in time.
	ErrResolveTimeout = errors.New("resolve timed out")
)

// ResolvedMedia is what the extraction tool reports about a source URL.
type ResolvedMedia struct {
	MediaURL string
	Title    string
	Duration float64 // seconds, as reported by the source
	Rotation int     // degrees, 0 when the source reports none
}

// Resolver turns a user-submitted URL into a directly fetchable media URL
// plus descriptive metadata, via yt-dlp.
type Resolver struct {
	bin     string
	timeout time.Duration
	runner  commandRunner
}

func NewResolver(bin string, timeout time.Duration) *Resolver {
	if bin == "" {
		bin = "yt-dlp"
	}
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &Resolver{bin: bin, timeout: timeout, runner: &execRunner{}}
}

type ytdlpOutput struct {
	URL      string  `json:"url"`
	Title    string  `json:"title"`
	Duration float64 `json:"duration"`
	Rotation float64 `json:"rotation"`
}

func (r *Resolver) Resolve(ctx context.Context, sourceURL string) (ResolvedMedia, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	args := []string{
		"-j",
		"--no-playlist",
		"-f", "best[ext=mp4]/best",
		sourceURL,
	}

	res, runErr := r.runner.Run(ctx, r.bin, args...)
	if runErr != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return ResolvedMedia{}, fmt.Errorf("%s after %s: %w", r.bin, r.timeout, ErrResolveTimeout)
		}
		if reason, ok := classifyStderr(res.Stderr); ok {
			return ResolvedMedia{}, fmt.Errorf("%s: %w", reason, ErrUnsupportedSource)
		}
		return ResolvedMedia{}, fmt.Errorf("%s exit %d: %w", r.bin, res.ExitCode, runErr)
	}

	var out ytdlpOutput
	if err := json.Unmarshal([]byte(res.Stdout), &out); err != nil {
		return ResolvedMedia{}, fmt.Errorf("parse %s output: %w", r.bin, err)
	}
	if out.URL == "" {
		return ResolvedMedia{}, fmt.Errorf("no media url in metadata: %w", ErrUnsupportedSource)
	}

	return ResolvedMedia{
		MediaURL: out.URL,
		Title:    out.Title,
		Duration: out.Duration,
		Rotation: normalizeRotation(out.Rotation),
	}, nil
}

// classifyStderr recognizes the tool's non-retryable refusals.
func classifyStderr(stderr string) (string, bool) {
	lower := strings.ToLower(stderr)
	for _, marker := range []string{
		"private video",
		"video unavailable",
		"unsupported url",
		"not available in your country",
		"sign in to confirm",
		"members-only",
		"has been removed",
	} {
		if strings.Contains(lower, marker) {
			return marker, true
		}
	}
	return "", false
}

func normalizeRotation(deg float64) int {
	r := int(deg) % 360
	if r < 0 {
		r += 360
	}
	// Only quarter turns are correctable with a simple transpose chain.
	if r%90 != 0 {
		return 0
	}
	return r
}

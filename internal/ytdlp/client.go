// Package ytdlp drives the yt-dlp binary as the media engine behind the
// prober and the fetch worker.
package ytdlp

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	"github.com/JakeFAU/fetchgate/internal/media"
)

// Runner executes a command and returns its captured output.
type Runner interface {
	Run(ctx context.Context, name string, args ...string) (stdout, stderr []byte, err error)
}

type execRunner struct{}

func (execRunner) Run(ctx context.Context, name string, args ...string) ([]byte, []byte, error) {
	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	err := cmd.Run()
	return stdout.Bytes(), stderr.Bytes(), err
}

// Config controls how yt-dlp is invoked.
type Config struct {
	Binary            string
	DownloadDir       string
	Format            string
	MergeOutputFormat string
	GeoBypassCountry  string
}

// Client implements media.Extractor and media.Fetcher on top of yt-dlp.
type Client struct {
	cfg    Config
	runner Runner
	logger *zap.Logger
}

// New constructs a Client. A nil runner uses os/exec.
func New(cfg Config, runner Runner, logger *zap.Logger) *Client {
	if cfg.Binary == "" {
		cfg.Binary = "yt-dlp"
	}
	if cfg.Format == "" {
		cfg.Format = "bestvideo+bestaudio/best"
	}
	if cfg.MergeOutputFormat == "" {
		cfg.MergeOutputFormat = "mp4"
	}
	if runner == nil {
		runner = execRunner{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{cfg: cfg, runner: runner, logger: logger}
}

// Extract dumps the metadata of url as JSON without downloading it.
func (c *Client) Extract(ctx context.Context, url string, auth media.AuthContext) (map[string]any, error) {
	args := []string{"-J", "--skip-download", "--playlist-items", "1", "--no-warnings"}
	args = append(args, c.commonArgs(auth)...)
	args = append(args, "--", url)

	stdout, stderr, err := c.runner.Run(ctx, c.cfg.Binary, args...)
	if err != nil {
		return nil, engineError(err, stderr)
	}

	var raw map[string]any
	if err := json.Unmarshal(stdout, &raw); err != nil {
		return nil, fmt.Errorf("decode yt-dlp metadata: %w", err)
	}
	return raw, nil
}

// Fetch downloads job.URL into the download directory. The file is named
// after the job id so partial leftovers can be found by prefix.
func (c *Client) Fetch(ctx context.Context, job media.FetchJob) (media.Artifact, error) {
	template := filepath.Join(c.cfg.DownloadDir, job.ID+".%(ext)s")
	args := []string{
		"-f", c.cfg.Format,
		"--merge-output-format", c.cfg.MergeOutputFormat,
		"--no-playlist",
		"--playlist-items", "1",
		"--no-progress",
		"--quiet",
		"--no-warnings",
		"-o", template,
		"--print", "after_move:filepath",
	}
	args = append(args, c.commonArgs(job.Auth)...)
	args = append(args, "--", job.URL)

	c.logger.Debug("running yt-dlp", zap.String("job_id", job.ID), zap.String("url", job.URL))
	stdout, stderr, err := c.runner.Run(ctx, c.cfg.Binary, args...)
	if err != nil {
		return media.Artifact{}, &media.FetchError{JobID: job.ID, Err: engineError(err, stderr)}
	}

	path := lastLine(stdout)
	if path == "" {
		path, err = c.findByPrefix(job.ID)
		if err != nil {
			return media.Artifact{}, &media.FetchError{JobID: job.ID, Err: err}
		}
	}

	info, err := os.Stat(path)
	if err != nil {
		return media.Artifact{}, &media.FetchError{JobID: job.ID, Err: fmt.Errorf("stat artifact: %w", err)}
	}
	return media.Artifact{Path: path, SizeBytes: info.Size(), OwningJob: job.ID}, nil
}

func (c *Client) commonArgs(auth media.AuthContext) []string {
	args := []string{"--geo-bypass"}
	if c.cfg.GeoBypassCountry != "" {
		args = append(args, "--geo-bypass-country", c.cfg.GeoBypassCountry)
	}
	if !auth.Empty() {
		args = append(args, "--cookies", auth.CookieFile)
	}
	return args
}

func (c *Client) findByPrefix(jobID string) (string, error) {
	matches, err := filepath.Glob(filepath.Join(c.cfg.DownloadDir, jobID+".*"))
	if err != nil {
		return "", fmt.Errorf("glob artifact: %w", err)
	}
	for _, m := range matches {
		if !strings.HasSuffix(m, ".part") && !strings.HasSuffix(m, ".ytdl") {
			return m, nil
		}
	}
	return "", media.ErrArtifactMissing
}

// engineError keeps the engine's own failure text, which the prober classifies.
func engineError(err error, stderr []byte) error {
	msg := errorLine(stderr)
	if msg == "" {
		return fmt.Errorf("yt-dlp: %w", err)
	}
	return fmt.Errorf("%s: %w", msg, err)
}

func errorLine(stderr []byte) string {
	lines := strings.Split(strings.TrimSpace(string(stderr)), "\n")
	for i := len(lines) - 1; i >= 0; i-- {
		if strings.HasPrefix(lines[i], "ERROR:") {
			return strings.TrimSpace(lines[i])
		}
	}
	return strings.TrimSpace(lines[len(lines)-1])
}

func lastLine(out []byte) string {
	lines := strings.Split(strings.TrimSpace(string(out)), "\n")
	return strings.TrimSpace(lines[len(lines)-1])
}

var (
	_ media.Extractor = (*Client)(nil)
	_ media.Fetcher   = (*Client)(nil)
)

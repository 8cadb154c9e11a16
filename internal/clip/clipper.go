package clip

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"time"

	"github.com/google/uuid"

	"vigil/internal/buffer"
)

// ErrNoFootage is returned when a clip is requested from an empty snapshot.
var ErrNoFootage = errors.New("no footage available")

// Clipper encodes a frame sequence into a playable video using ffmpeg.
// Frames are piped to stdin as an MJPEG stream (image2pipe), the same
// transport used for frame capture, just reversed.
type Clipper struct {
	scratchDir string
	fps        int
	binary     string
}

// Config holds clipper configuration.
type Config struct {
	ScratchDir string // where in-progress clips are written
	FPS        int    // playback rate of the produced clip
	Binary     string // ffmpeg binary, defaults to "ffmpeg" on PATH
}

// New creates a clipper, creating the scratch directory if needed.
func New(cfg Config) (*Clipper, error) {
	if cfg.FPS <= 0 {
		cfg.FPS = 10
	}
	if cfg.Binary == "" {
		cfg.Binary = "ffmpeg"
	}
	if cfg.ScratchDir == "" {
		cfg.ScratchDir = os.TempDir()
	}
	if err := os.MkdirAll(cfg.ScratchDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create scratch directory: %w", err)
	}
	return &Clipper{scratchDir: cfg.ScratchDir, fps: cfg.FPS, binary: cfg.Binary}, nil
}

// Encode turns the frame sequence into an mp4 at a scratch path and
// returns that path. The caller owns the file and must remove it when
// done. On failure any partial output is removed.
func (c *Clipper) Encode(ctx context.Context, frames []buffer.Frame) (string, error) {
	if len(frames) == 0 {
		return "", ErrNoFootage
	}

	outPath := filepath.Join(c.scratchDir, uuid.NewString()+".mp4")

	cmd := exec.CommandContext(ctx, c.binary, c.encodeArgs(outPath)...)

	var payload bytes.Buffer
	for _, f := range frames {
		payload.Write(f.Payload)
	}
	cmd.Stdin = &payload

	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		os.Remove(outPath)
		return "", fmt.Errorf("ffmpeg encode failed: %w (stderr: %s)", err, stderr.String())
	}

	return outPath, nil
}

// encodeArgs builds the ffmpeg argument list for an MJPEG-on-stdin to
// mp4 encode.
func (c *Clipper) encodeArgs(outPath string) []string {
	return []string{
		"-y",
		"-f", "image2pipe",
		"-vcodec", "mjpeg",
		"-framerate", strconv.Itoa(c.fps),
		"-i", "-",
		"-c:v", "libx264",
		"-pix_fmt", "yuv420p",
		"-movflags", "+faststart",
		outPath,
	}
}

// Cleanup removes a scratch artifact. Best effort: failures are logged,
// never propagated.
func Cleanup(path string) {
	if path == "" {
		return
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		log.Printf("[Clipper] Failed to remove scratch artifact %s: %v", path, err)
	}
}

// Duration estimates the clip duration from frame timestamps.
func Duration(frames []buffer.Frame) time.Duration {
	if len(frames) < 2 {
		return 0
	}
	return frames[len(frames)-1].CapturedAt.Sub(frames[0].CapturedAt)
}

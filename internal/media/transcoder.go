package media

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"strings"
)

// ErrBadOutput means ffmpeg exited zero but the result is missing or
// implausibly small — some tool versions silently produce empty files when
// a filter no-ops.
var ErrBadOutput = errors.New("transcode produced unusable output")

// minPlausibleOutput is the smallest artifact size accepted as a real clip.
const minPlausibleOutput = 1024

type TranscodeRequest struct {
	Input      string  // resolved media URL or local path
	Start, End float64 // seconds
	Format     string  // "mp4" (default) or "mp3"
	Rotation   int     // quarter turns to correct, in degrees
	OutputPath string

	// OnProgress receives a 0..1 fraction of the clip transcoded.
	OnProgress func(float64)
}

// Transcoder trims and re-encodes media via ffmpeg.
type Transcoder struct {
	bin string
}

func NewTranscoder(bin string) *Transcoder {
	if bin == "" {
		bin = "ffmpeg"
	}
	return &Transcoder{bin: bin}
}

// Transcode runs ffmpeg and streams its -progress output to report
// completion fractions. A non-zero exit or an unusable output file is an
// error; the caller owns scratch cleanup.
func (t *Transcoder) Transcode(ctx context.Context, req TranscodeRequest) error {
	args := buildFFmpegArgs(req)

	cmd := exec.CommandContext(ctx, t.bin, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("ffmpeg stdout pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start ffmpeg: %w", err)
	}

	clipDur := req.End - req.Start
	scanner := bufio.NewScanner(stdout)
	for scanner.Scan() {
		reportProgress(scanner.Text(), clipDur, req.OnProgress)
	}

	if err := cmd.Wait(); err != nil {
		return fmt.Errorf("ffmpeg: %w (stderr: %s)", err, lastLines(stderr.String(), 5))
	}

	info, err := os.Stat(req.OutputPath)
	if err != nil {
		return fmt.Errorf("output missing: %w", ErrBadOutput)
	}
	if info.Size() < minPlausibleOutput {
		return fmt.Errorf("output is %d bytes: %w", info.Size(), ErrBadOutput)
	}
	return nil
}

func buildFFmpegArgs(req TranscodeRequest) []string {
	args := []string{
		"-y",
		"-hide_banner",
		"-loglevel", "error",
		"-ss", formatSeconds(req.Start),
		"-to", formatSeconds(req.End),
		"-i", req.Input,
	}

	switch strings.ToLower(req.Format) {
	case "mp3":
		args = append(args, "-vn", "-c:a", "libmp3lame", "-q:a", "2")
	default:
		if vf := rotationFilter(req.Rotation); vf != "" {
			args = append(args, "-vf", vf)
		}
		args = append(args,
			"-c:v", "libx264",
			"-preset", "veryfast",
			"-c:a", "aac",
			"-movflags", "+faststart",
		)
	}

	args = append(args, "-progress", "pipe:1", req.OutputPath)
	return args
}

// rotationFilter corrects quarter-turn rotation with plain transpose
// chains. Transpose works the same across every ffmpeg build in use; the
// fancier rotate= expression silently no-ops on some versions and yields
// blank output.
func rotationFilter(deg int) string {
	switch deg {
	case 90:
		return "transpose=1"
	case 180:
		return "transpose=1,transpose=1"
	case 270:
		return "transpose=2"
	default:
		return ""
	}
}

func reportProgress(line string, clipDur float64, onProgress func(float64)) {
	if onProgress == nil || clipDur <= 0 {
		return
	}
	val, ok := strings.CutPrefix(line, "out_time_us=")
	if !ok {
		return
	}
	us, err := strconv.ParseInt(strings.TrimSpace(val), 10, 64)
	if err != nil {
		return
	}
	frac := float64(us) / 1e6 / clipDur
	if frac > 1 {
		frac = 1
	}
	if frac >= 0 {
		onProgress(frac)
	}
}

func formatSeconds(s float64) string {
	return strconv.FormatFloat(s, 'f', 3, 64)
}

func lastLines(s string, n int) string {
	lines := strings.Split(strings.TrimSpace(s), "\n")
	if len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	return strings.Join(lines, " | ")
}

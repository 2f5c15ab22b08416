package ai

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"Painter/core"
	"Painter/lib/sl"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"
)

const (
	imageName = "image"
	waitDelay = 10 * time.Second
)

// ProcessGenerator runs an external text-to-image program once per prompt.
// The program is expected to write <filename>.png and exit 0.
type ProcessGenerator struct {
	command   []string
	outputDir string
	timeout   time.Duration
	slots     *semaphore.Weighted
	log       *slog.Logger
}

func NewProcessGenerator(conf *core.Config, log *slog.Logger) *ProcessGenerator {
	return &ProcessGenerator{
		command:   conf.Generator.Command,
		outputDir: conf.Generator.OutputDir,
		timeout:   conf.Generator.Timeout,
		slots:     semaphore.NewWeighted(maxConcurrent(conf)),
		log:       log.With(sl.Module("process-generator")),
	}
}

func (g *ProcessGenerator) Generate(ctx context.Context, userId int64, prompt string, prefs core.Preferences) (string, error) {
	if len(g.command) == 0 {
		return "", fmt.Errorf("%w: no generator command configured", core.ErrGeneration)
	}
	if err := g.slots.Acquire(ctx, 1); err != nil {
		return "", fmt.Errorf("%w: waiting for a free slot: %v", core.ErrGeneration, err)
	}
	defer g.slots.Release(1)

	base, err := prepareOutput(g.outputDir, userId)
	if err != nil {
		return "", err
	}

	if g.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.timeout)
		defer cancel()
	}

	ratio := prefs.Ratio()
	args := append([]string{}, g.command[1:]...)
	args = append(args,
		argValue(SanitizePrompt(prompt)),
		"--filename", base,
		"--width", strconv.Itoa(ratio.Width),
		"--height", strconv.Itoa(ratio.Height),
		"--negative", argValue(prefs.NegativePrompt),
	)

	log := g.log.With(sl.User(userId), slog.String("job", uuid.NewString()), slog.String("ratio", ratio.Label))
	log.Info("starting generation")
	started := time.Now()

	cmd := exec.CommandContext(ctx, g.command[0], args...)
	cmd.WaitDelay = waitDelay
	output, runErr := cmd.CombinedOutput()
	logOutput(log, output)

	if runErr != nil {
		log.With(slog.Duration("elapsed", time.Since(started))).Error("generation process failed", sl.Err(runErr))
		return "", fmt.Errorf("%w: %v", core.ErrGeneration, runErr)
	}

	path := base + ".png"
	if _, err := os.Stat(path); err != nil {
		return "", fmt.Errorf("%w: no image at %s: %v", core.ErrGeneration, path, err)
	}
	log.With(slog.Duration("elapsed", time.Since(started))).Info("image generated")
	return path, nil
}

// SanitizePrompt strips double quotes; they are removed, not escaped.
func SanitizePrompt(prompt string) string {
	return strings.ReplaceAll(prompt, `"`, "")
}

// argValue keeps user text from being parsed as an option by the
// generator's argument parser: a leading dash gets a space in front.
func argValue(s string) string {
	if strings.HasPrefix(s, "-") {
		return " " + s
	}
	return s
}

// ImagePath is where a user's latest image is written.
func ImagePath(outputDir string, userId int64) string {
	return filepath.Join(outputDir, strconv.FormatInt(userId, 10), imageName) + ".png"
}

// prepareOutput creates the user directory, removes any previous image and
// returns the path without extension.
func prepareOutput(outputDir string, userId int64) (string, error) {
	dir := filepath.Join(outputDir, strconv.FormatInt(userId, 10))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("%w: creating output dir: %v", core.ErrGeneration, err)
	}
	base := filepath.Join(dir, imageName)
	if err := os.Remove(base + ".png"); err != nil && !errors.Is(err, os.ErrNotExist) {
		return "", fmt.Errorf("%w: removing previous image: %v", core.ErrGeneration, err)
	}
	return base, nil
}

func logOutput(log *slog.Logger, output []byte) {
	scanner := bufio.NewScanner(bytes.NewReader(output))
	for scanner.Scan() {
		log.Debug("generator output", slog.String("line", scanner.Text()))
	}
}

func maxConcurrent(conf *core.Config) int64 {
	if conf.Generator.MaxConcurrent <= 0 {
		return 1
	}
	return conf.Generator.MaxConcurrent
}

package ai

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"Painter/core"
	"Painter/lib/sl"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"
)

const txt2imgPath = "/sdapi/v1/txt2img"

// WebUIGenerator talks to a Stable Diffusion WebUI instance directly instead
// of going through a helper process.
type WebUIGenerator struct {
	baseURL    string
	outputDir  string
	timeout    time.Duration
	opts       txt2imgOptions
	httpClient *http.Client
	slots      *semaphore.Weighted
	log        *slog.Logger
}

func NewWebUIGenerator(conf *core.Config, log *slog.Logger) *WebUIGenerator {
	return &WebUIGenerator{
		baseURL:   strings.TrimRight(conf.Generator.WebUIURL, "/"),
		outputDir: conf.Generator.OutputDir,
		timeout:   conf.Generator.Timeout,
		opts: txt2imgOptions{
			model:    conf.Generator.Model,
			steps:    conf.Generator.Steps,
			cfgScale: conf.Generator.CfgScale,
			sampler:  conf.Generator.Sampler,
		},
		httpClient: &http.Client{},
		slots:      semaphore.NewWeighted(maxConcurrent(conf)),
		log:        log.With(sl.Module("webui-generator")),
	}
}

func (g *WebUIGenerator) Generate(ctx context.Context, userId int64, prompt string, prefs core.Preferences) (string, error) {
	if err := g.slots.Acquire(ctx, 1); err != nil {
		return "", fmt.Errorf("%w: waiting for a free slot: %v", core.ErrGeneration, err)
	}
	defer g.slots.Release(1)

	if g.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.timeout)
		defer cancel()
	}

	ratio := prefs.Ratio()
	log := g.log.With(sl.User(userId), slog.String("job", uuid.NewString()), slog.String("ratio", ratio.Label))

	request := newTxt2ImgRequest(SanitizePrompt(prompt), prefs.NegativePrompt, ratio.Width, ratio.Height, g.opts)
	image, err := g.txt2img(ctx, request)
	if err != nil {
		log.Error("webui request failed", sl.Err(err))
		return "", fmt.Errorf("%w: %v", core.ErrGeneration, err)
	}

	base, err := prepareOutput(g.outputDir, userId)
	if err != nil {
		return "", err
	}
	path := base + ".png"
	if err := writeAtomic(path, image); err != nil {
		return "", fmt.Errorf("%w: %v", core.ErrGeneration, err)
	}
	log.With(slog.Int("bytes", len(image))).Info("image generated")
	return path, nil
}

func (g *WebUIGenerator) txt2img(ctx context.Context, request *Txt2ImgRequest) ([]byte, error) {
	jsonBytes, err := json.Marshal(request)
	if err != nil {
		return nil, fmt.Errorf("marshalling request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.baseURL+txt2imgPath, bytes.NewReader(jsonBytes))
	if err != nil {
		return nil, fmt.Errorf("making request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := g.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("getting response: %w", err)
	}
	defer func(Body io.ReadCloser) {
		if err := Body.Close(); err != nil {
			g.log.Warn("closing response body", sl.Err(err))
		}
	}(resp.Body)

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading response body: %w", err)
	}

	var result Txt2ImgResponse
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, fmt.Errorf("decoding response (status %d): %w", resp.StatusCode, err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("status %d: %s%s", resp.StatusCode, result.Error, result.Detail)
	}
	if len(result.Images) == 0 {
		return nil, fmt.Errorf("empty images in response")
	}

	image, err := base64.StdEncoding.DecodeString(result.Images[0])
	if err != nil {
		return nil, fmt.Errorf("decoding image: %w", err)
	}
	return image, nil
}

func writeAtomic(path string, content []byte) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp.*")
	if err != nil {
		return fmt.Errorf("create temp for %s: %w", path, err)
	}
	tmpPath := tmp.Name()
	defer func() {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)
	}()

	if _, err := tmp.Write(content); err != nil {
		return fmt.Errorf("write temp for %s: %w", path, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp for %s: %w", path, err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("rename temp for %s: %w", path, err)
	}
	return nil
}

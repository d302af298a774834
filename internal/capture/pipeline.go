package capture

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"time"

	"waytrack/internal/compositor"
	"waytrack/internal/config"
	"waytrack/internal/models"

	"go.uber.org/zap"
)

const (
	screenshotTool = "grim"
	ocrTool        = "tesseract"

	// ModeWindow captures the focused window region, ModeScreen the
	// focused output
	ModeWindow = "window"
	ModeScreen = "screen"
)

var unsafeNameChars = regexp.MustCompile(`[^a-zA-Z0-9._-]+`)

// Pipeline captures a screenshot of the focused window or output, extracts
// on-screen text with OCR, and persists both the image and a metadata index
// entry. Every external call carries a timeout and an output ceiling.
type Pipeline struct {
	introspector *compositor.Introspector
	store        *Store
	logger       *zap.Logger

	mode               string
	quality            int
	screenshotTimeout  time.Duration
	screenshotMaxBytes int64
	ocrEnabled         bool
	ocrTimeout         time.Duration
	ocrMaxBytes        int64
	ocrMaxChars        int
	fastDatasetFile    string
}

// NewPipeline creates a capture pipeline storing under cfg.BaseDir
func NewPipeline(introspector *compositor.Introspector, store *Store, cfg config.CaptureConfig, logger *zap.Logger) *Pipeline {
	return &Pipeline{
		introspector:       introspector,
		store:              store,
		logger:             logger,
		mode:               cfg.Mode,
		quality:            cfg.Quality,
		screenshotTimeout:  cfg.ScreenshotTimeout,
		screenshotMaxBytes: cfg.ScreenshotMaxBytes,
		ocrEnabled:         cfg.OCREnabled,
		ocrTimeout:         cfg.OCRTimeout,
		ocrMaxBytes:        cfg.OCRMaxBytes,
		ocrMaxChars:        cfg.OCRMaxChars,
		fastDatasetFile:    cfg.FastDatasetFile,
	}
}

// Store exposes the underlying screenshot store for listing and pruning
func (p *Pipeline) Store() *Store { return p.store }

// CaptureAndExtractText runs one full capture cycle for the given activity.
// Success refers to the screenshot: an OCR failure leaves Text nil but the
// result successful. No error escapes as a panic or unhandled fault.
func (p *Pipeline) CaptureAndExtractText(ctx context.Context, appName, title string) models.CaptureResult {
	target, err := p.resolveTarget(ctx)
	if err != nil {
		p.logger.Warn("Failed to resolve capture target", zap.Error(err))
		return models.CaptureResult{Error: err.Error()}
	}

	image, err := p.screenshot(ctx, target)
	if err != nil {
		p.logger.Warn("Screenshot failed", zap.Error(err))
		return models.CaptureResult{Error: err.Error()}
	}

	now := time.Now()
	imagePath, err := p.persist(image, appName, now)
	if err != nil {
		p.logger.Warn("Failed to persist screenshot", zap.Error(err))
		return models.CaptureResult{Error: err.Error()}
	}

	result := models.CaptureResult{Success: true, ImagePath: &imagePath}

	if p.ocrEnabled {
		text, err := p.extractText(ctx, imagePath)
		if err != nil {
			p.logger.Warn("OCR failed, keeping screenshot without text", zap.Error(err))
		} else if text != "" {
			result.Text = &text
		}
	}

	date := now.Format("2006-01-02")
	entry := models.ScreenshotEntry{
		Timestamp: now.UnixMilli(),
		Filepath:  imagePath,
		Filename:  filepath.Base(imagePath),
		AppName:   appName,
		Title:     title,
	}
	if err := p.store.AppendEntry(date, entry); err != nil {
		p.logger.Warn("Failed to update metadata index", zap.Error(err))
	}

	return result
}

// resolveTarget queries the compositor for the focused window geometry or
// the focused output name, depending on the capture mode
func (p *Pipeline) resolveTarget(ctx context.Context) ([]string, error) {
	if p.mode == ModeScreen {
		output, err := p.introspector.FocusedOutput(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to resolve focused output: %w", err)
		}
		return []string{"-o", output}, nil
	}

	win, err := p.introspector.ActiveWindow(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve window geometry: %w", err)
	}
	if win == nil {
		return nil, fmt.Errorf("no focused window to capture")
	}
	return []string{"-g", win.Region()}, nil
}

func (p *Pipeline) screenshot(ctx context.Context, target []string) ([]byte, error) {
	sctx, cancel := context.WithTimeout(ctx, p.screenshotTimeout)
	defer cancel()

	args := append(target, "-t", "jpeg", "-q", strconv.Itoa(p.quality), "-")
	return runBounded(sctx, p.screenshotMaxBytes, nil, screenshotTool, args...)
}

// persist writes the image under <base>/<date>/<HH-MM-SS>_<app>_<epoch-ms>.jpg
func (p *Pipeline) persist(image []byte, appName string, now time.Time) (string, error) {
	dir, err := p.store.DateDir(now.Format("2006-01-02"))
	if err != nil {
		return "", err
	}

	name := fmt.Sprintf("%s_%s_%d.jpg",
		now.Format("15-04-05"),
		sanitizeAppName(appName),
		now.UnixMilli(),
	)
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, image, 0o644); err != nil {
		return "", fmt.Errorf("failed to write screenshot: %w", err)
	}
	return path, nil
}

func sanitizeAppName(name string) string {
	clean := unsafeNameChars.ReplaceAllString(name, "_")
	if clean == "" {
		clean = "unknown"
	}
	return clean
}

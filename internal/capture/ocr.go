package capture

import (
	"context"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"
)

const tessdataPrefixEnv = "TESSDATA_PREFIX"

// selectDataset probes the fast trained-data file and returns the
// environment override for the OCR process. The probe runs once per call;
// when the fast file is absent or unreadable no override is set at all, so
// the tool falls back to its own default ("best") dataset.
func (p *Pipeline) selectDataset() []string {
	if p.fastDatasetFile == "" {
		return nil
	}
	f, err := os.Open(p.fastDatasetFile)
	if err != nil {
		p.logger.Debug("Fast OCR dataset unavailable, using tool default",
			zap.String("file", p.fastDatasetFile),
			zap.Error(err),
		)
		return nil
	}
	f.Close()
	return []string{tessdataPrefixEnv + "=" + filepath.Dir(p.fastDatasetFile)}
}

// extractText runs the OCR tool against a saved image. Failures yield
// ("", error) and are treated by the caller as missing text, not as a
// pipeline failure.
func (p *Pipeline) extractText(ctx context.Context, imagePath string) (string, error) {
	octx, cancel := context.WithTimeout(ctx, p.ocrTimeout)
	defer cancel()

	out, err := runBounded(octx, p.ocrMaxBytes, p.selectDataset(), ocrTool, imagePath, "stdout")
	if err != nil {
		return "", err
	}

	text := strings.TrimSpace(string(out))
	if runes := []rune(text); len(runes) > p.ocrMaxChars {
		text = string(runes[:p.ocrMaxChars])
	}
	return text, nil
}

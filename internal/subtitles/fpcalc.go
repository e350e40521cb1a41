package subtitles

import (
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
)

// AudioFingerprint is a chromaprint of an audio file, used to detect that a
// previously generated subtitle still matches the media after a re-rip.
type AudioFingerprint struct {
	Duration    float64 `json:"duration"`
	Fingerprint string  `json:"fingerprint"`
}

// Fingerprint runs fpcalc over an audio file. Returns nil without error
// when fpcalc is not installed; fingerprinting is optional.
func Fingerprint(ctx context.Context, fpcalcPath, audioPath string) (*AudioFingerprint, error) {
	if _, err := exec.LookPath(fpcalcPath); err != nil {
		return nil, nil
	}

	cmd := commandContext(ctx, fpcalcPath, "-json", audioPath)
	out, err := cmd.Output()
	if err != nil {
		return nil, fmt.Errorf("fpcalc failed on %s: %w", audioPath, err)
	}

	var fp AudioFingerprint
	if err := json.Unmarshal(out, &fp); err != nil {
		return nil, fmt.Errorf("malformed fpcalc output: %w", err)
	}
	return &fp, nil
}

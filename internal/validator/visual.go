package validator

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/png"
	"math"

	"golang.org/x/image/draw"

	"github.com/xkilldash9x/stepdriver/api/schemas"
	"github.com/xkilldash9x/stepdriver/internal/contextstore"
)

const (
	defaultCompareSize = 64
	defaultThreshold   = 0.95
)

// visual compares a capture of the target (or the viewport) against the
// baseline stored under the same name. The first capture becomes the baseline.
func (v *Validator) visual(ctx context.Context, req Request) schemas.Verdict {
	name := baselineName(req.Intent)
	if v.store == nil || !v.store.Exists(req.SessionID) {
		return schemas.Verdict{Err: fmt.Errorf("visual check %q: %w", name, schemas.ErrSessionNotFound)}
	}
	if req.Locator == nil && req.Intent.HasTarget() {
		return fail("baseline "+name, "absent", "no element matches "+req.Intent.Target.String())
	}

	shot, err := req.Browser.CaptureRegion(ctx, req.Locator)
	if err != nil {
		return schemas.Verdict{Err: fmt.Errorf("failed to capture %q: %w", name, err)}
	}

	baseline, ok := v.store.Baseline(req.SessionID, name)
	if !ok {
		if err := v.store.SetBaseline(req.SessionID, name, shot); err != nil {
			return schemas.Verdict{Err: err}
		}
		verdict := pass("baseline "+name, "recorded", "no baseline existed; this capture is now the baseline")
		verdict.Score = 1
		return verdict
	}

	size := v.cfg.VisualCompareSize
	if size <= 0 {
		size = defaultCompareSize
	}
	score, err := Similarity(baseline, shot, size)
	if err != nil {
		return schemas.Verdict{Err: err}
	}
	threshold := v.cfg.VisualSimilarityThreshold
	if threshold <= 0 {
		threshold = defaultThreshold
	}

	expected := fmt.Sprintf("similarity >= %.2f", threshold)
	actual := fmt.Sprintf("%.4f", score)
	verdict := fail(expected, actual, "differs from baseline "+name)
	if score >= threshold {
		verdict = pass(expected, actual, "matches baseline "+name)
	}
	verdict.Score = score
	return verdict
}

func baselineName(intent schemas.Intent) string {
	if name := intent.Parameters.Value(schemas.ParamName); name != "" {
		return name
	}
	if phrase := contextstore.NormalizePhrase(intent.Target.String()); phrase != "" {
		return phrase
	}
	return "page"
}

// Similarity scales two PNG images to size x size grayscale and returns one
// minus their mean absolute pixel difference, so identical images score 1.
func Similarity(a, b []byte, size int) (float64, error) {
	ia, err := png.Decode(bytes.NewReader(a))
	if err != nil {
		return 0, fmt.Errorf("failed to decode baseline image: %w", err)
	}
	ib, err := png.Decode(bytes.NewReader(b))
	if err != nil {
		return 0, fmt.Errorf("failed to decode captured image: %w", err)
	}
	ga, gb := scale(ia, size), scale(ib, size)

	var diff float64
	for i := range ga.Pix {
		diff += math.Abs(float64(ga.Pix[i]) - float64(gb.Pix[i]))
	}
	score := 1 - diff/(255*float64(len(ga.Pix)))
	return math.Round(score*1e4) / 1e4, nil
}

func scale(img image.Image, size int) *image.Gray {
	dst := image.NewGray(image.Rect(0, 0, size, size))
	draw.CatmullRom.Scale(dst, dst.Bounds(), img, img.Bounds(), draw.Src, nil)
	return dst
}

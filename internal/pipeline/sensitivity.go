package pipeline

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"io"
	"os"

	"github.com/mediavault/mediavault/internal/job"
)

// Detail text attached to each verdict band.
const (
	detailsSafe    = "No sensitive content detected. Video appears appropriate for all audiences."
	detailsReview  = "Minor concerns detected but content is generally appropriate. Review recommended."
	detailsFlagged = "Potentially sensitive content detected. Manual review required before publication."
)

// Bytes of the asset hashed by the content classifier. Enough to make the
// score content-dependent without reading multi-gigabyte files in full.
const classifierSampleBytes = 1 << 20

// ThresholdPolicy maps a raw classifier score in [0, 1] to a verdict. The
// policy is a replaceable decision function; the default bands are:
// below 0.3 safe, below 0.7 safe with a review recommendation, and 0.7 or
// above flagged.
type ThresholdPolicy func(score float64) (job.SensitivityStatus, string)

func DefaultThresholdPolicy(score float64) (job.SensitivityStatus, string) {
	switch {
	case score < 0.3:
		return job.SensitivitySafe, detailsSafe
	case score < 0.7:
		return job.SensitivitySafe, detailsReview
	default:
		return job.SensitivityFlagged, detailsFlagged
	}
}

// ContentClassifier is the built-in sensitivity classifier. It derives a
// deterministic score from a digest of the asset's leading bytes - the
// same asset always scores identically across retries - and applies the
// configured threshold policy to reach a verdict. Production deployments
// are expected to substitute an implementation backed by a real analysis
// capability; anything satisfying the Classifier contract slots in.
type ContentClassifier struct {
	policy ThresholdPolicy
}

func NewContentClassifier(policy ThresholdPolicy) *ContentClassifier {
	if policy == nil {
		policy = DefaultThresholdPolicy
	}

	return &ContentClassifier{policy: policy}
}

func (classifier *ContentClassifier) Classify(ctx context.Context, target *job.Job) (job.Sensitivity, error) {
	if err := ctx.Err(); err != nil {
		return job.Sensitivity{}, err
	}

	score, err := classifier.scoreAsset(target.SourcePath)
	if err != nil {
		return job.Sensitivity{}, fmt.Errorf("failed to score asset %s: %w", target.SourcePath, err)
	}

	status, details := classifier.policy(score)
	return job.Sensitivity{Status: status, Score: score, Details: details}, nil
}

func (classifier *ContentClassifier) scoreAsset(path string) (float64, error) {
	file, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer file.Close()

	digest := sha256.New()
	if _, err := io.Copy(digest, io.LimitReader(file, classifierSampleBytes)); err != nil {
		return 0, err
	}

	// Fold the first digest bytes in to a score in [0, 1), truncated to
	// two decimal places to match the precision stored on the job.
	sum := digest.Sum(nil)
	raw := binary.BigEndian.Uint32(sum[:4])
	score := float64(raw%10000) / 10000

	return float64(int(score*100)) / 100, nil
}

package ai

import (
	"context"
	"errors"
	"fmt"

	"github.com/kiranshivaraju/casebridge/pkg/models"
)

// Describe turns an analysis failure into the text recorded on a failed
// job. The text says whether resubmitting the same case may succeed.
func Describe(err error) string {
	var aerr *models.AnalysisError
	if errors.As(err, &aerr) {
		if aerr.Retryable() {
			return fmt.Sprintf("analysis failed (%s, retryable: resubmit the case to try again): %s", aerr.Kind, aerr.Error())
		}
		return fmt.Sprintf("analysis failed (%s, not retryable: resubmitting the same case will fail again): %s", aerr.Kind, aerr.Error())
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Sprintf("analysis failed (%s, retryable: resubmit the case to try again): %v", models.AnalysisTimeout, err)
	}
	return fmt.Sprintf("analysis failed: %v", err)
}

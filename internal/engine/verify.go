package engine

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/harborline/steward/internal/model"
)

// Verification audits a run's outcome against its plan: every step
// accounted for, completed steps carrying a usable result, and the
// run's terminal status consistent with its steps. The report is also
// written to the audit trail.
func (s *Service) Verification(ctx context.Context, caller model.User, runID uuid.UUID) (model.VerificationReport, error) {
	run, err := s.authorizeRun(ctx, caller, runID)
	if err != nil {
		return model.VerificationReport{}, err
	}
	steps, err := s.store.ListSteps(ctx, runID)
	if err != nil {
		return model.VerificationReport{}, err
	}

	report := model.VerificationReport{RunID: runID}
	for _, st := range steps {
		switch st.Status {
		case model.StepStatusCompleted:
			report.Completed++
			if len(st.Result) == 0 {
				report.Issues = append(report.Issues,
					fmt.Sprintf("step %d completed without a result payload", st.Seq))
			}
		case model.StepStatusFailed:
			report.Failed++
			if st.Error == nil || *st.Error == "" {
				report.Issues = append(report.Issues,
					fmt.Sprintf("step %d failed without a recorded reason", st.Seq))
			}
		default:
			report.NotExecuted++
			report.Issues = append(report.Issues,
				fmt.Sprintf("step %d was never executed", st.Seq))
		}
	}

	switch {
	case run.Status == model.RunStatusFailed && report.Failed == 0:
		report.Issues = append(report.Issues, "run is failed but no step failed")
	case run.Status == model.RunStatusCompleted && report.Failed > 0:
		report.Issues = append(report.Issues, "run is completed but steps failed")
	}

	report.Verified = run.Status == model.RunStatusCompleted &&
		report.Failed == 0 && report.NotExecuted == 0 && len(report.Issues) == 0

	s.recordAudit(ctx, newAudit(runID, nil, model.ActorVerifier, model.AuditVerifierReport,
		fmt.Sprintf("verified=%t completed=%d failed=%d not_executed=%d",
			report.Verified, report.Completed, report.Failed, report.NotExecuted),
		map[string]any{
			"verified":     report.Verified,
			"completed":    report.Completed,
			"failed":       report.Failed,
			"not_executed": report.NotExecuted,
			"issues":       report.Issues,
		}))
	return report, nil
}

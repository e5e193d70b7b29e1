package ingest

import "github.com/radvis/radvis-backend/internal/types"

type Outcome int

const (
	// OutcomeSucceeded: records persisted, patient and xray populated.
	OutcomeSucceeded Outcome = iota
	// OutcomeRejected: expected, user-facing decline (unsupported kind,
	// no target anatomy). Nothing persisted.
	OutcomeRejected
	// OutcomeFailed: hard error at Stage. Nothing persisted for this file
	// beyond what Stage already committed.
	OutcomeFailed
)

// Stage names retained on failures for diagnostics.
const (
	StageDispatch  = "dispatch"
	StageNormalize = "normalize"
	StageUpload    = "upload"
	StageConvert   = "convert"
	StageInfer     = "infer"
	StagePersist   = "persist"
	StageAnnotate  = "annotate"
)

// Result is the terminal state of one job.
type Result struct {
	Outcome Outcome

	// Succeeded
	Patient *types.Patient
	Xray    *types.Xray

	// Rejected
	Reason string

	// Failed
	Stage string
	Err   error
}

func Succeeded(patient *types.Patient, xray *types.Xray) Result {
	return Result{Outcome: OutcomeSucceeded, Patient: patient, Xray: xray}
}

func Rejected(reason string) Result {
	return Result{Outcome: OutcomeRejected, Reason: reason}
}

func Failed(stage string, err error) Result {
	return Result{Outcome: OutcomeFailed, Stage: stage, Err: err}
}

package trigger

import "fmt"

// Outcome of a single trigger installation attempt.
type Outcome string

const (
	OutcomeInstalled Outcome = "installed"
	OutcomeExisted   Outcome = "existed"
	OutcomeFailed    Outcome = "failed"
)

// InstallResult reports what happened to one trigger type.
type InstallResult struct {
	Type    Type    `json:"type"`
	Outcome Outcome `json:"outcome"`
	Error   string  `json:"error,omitempty"`
}

// InstallationSummary aggregates a batch of install results.
type InstallationSummary struct {
	Installed int      `json:"installed"`
	Existed   int      `json:"existed"`
	Failed    int      `json:"failed"`
	Details   []string `json:"details"`
}

// BuildInstallationSummary counts outcomes and renders one detail line per result.
func BuildInstallationSummary(results []InstallResult) InstallationSummary {
	summary := InstallationSummary{Details: make([]string, 0, len(results))}
	for _, r := range results {
		switch r.Outcome {
		case OutcomeInstalled:
			summary.Installed++
			summary.Details = append(summary.Details, fmt.Sprintf("%s: installed", r.Type))
		case OutcomeExisted:
			summary.Existed++
			summary.Details = append(summary.Details, fmt.Sprintf("%s: already installed", r.Type))
		default:
			summary.Failed++
			msg := r.Error
			if msg == "" {
				msg = "unknown error"
			}
			summary.Details = append(summary.Details, fmt.Sprintf("%s: failed (%s)", r.Type, msg))
		}
	}
	return summary
}

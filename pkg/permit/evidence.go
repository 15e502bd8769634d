package permit

import (
	"strings"
	"time"
)

// EvidencePolicy states what a receipt must carry before it is accepted
// for a given job_type: which evidence classes its artifacts must
// include, whether retention beyond the default is required, and
// whether corroboration (more than one independent artifact of the same
// class) is expected.
type EvidencePolicy struct {
	JobType               string
	RequiredEvidenceClass []string
	CorroborationThreshold int
	RetentionPeriod       time.Duration
}

// DefaultEvidencePolicies seeds the evidence table for the job types in
// DefaultJobPolicies. A job_type without an entry here has no evidence
// requirement beyond the receipt shape itself.
var DefaultEvidencePolicies = map[string]EvidencePolicy{
	"write_scratch": {
		JobType:               "write_scratch",
		RequiredEvidenceClass: []string{"content_hash"},
		RetentionPeriod:       90 * 24 * time.Hour,
	},
	"send_notification": {
		JobType:               "send_notification",
		RequiredEvidenceClass: []string{"message_hash"},
		RetentionPeriod:       30 * 24 * time.Hour,
	},
	"deploy_staging": {
		JobType:               "deploy_staging",
		RequiredEvidenceClass: []string{"container_hash", "attestation"},
		RetentionPeriod:       365 * 24 * time.Hour,
	},
	"deploy_production": {
		JobType:                "deploy_production",
		RequiredEvidenceClass:  []string{"SLSA", "container_hash", "attestation"},
		CorroborationThreshold: 2,
		RetentionPeriod:        365 * 24 * time.Hour,
	},
	"external_api_call": {
		JobType:               "external_api_call",
		RequiredEvidenceClass: []string{"request_hash", "response_hash"},
		RetentionPeriod:       90 * 24 * time.Hour,
	},
	"rotate_signing_key": {
		JobType:                "rotate_signing_key",
		RequiredEvidenceClass:  []string{"approver_id", "permission_diff"},
		CorroborationThreshold: 2,
		RetentionPeriod:        5 * 365 * 24 * time.Hour,
	},
	"modify_tenant_admin": {
		JobType:                "modify_tenant_admin",
		RequiredEvidenceClass:  []string{"approver_id", "permission_diff"},
		CorroborationThreshold: 2,
		RetentionPeriod:        5 * 365 * 24 * time.Hour,
	},
}

// EvidenceTable classifies artifact evidence requirements by job_type,
// mirroring the way RiskClassifier classifies tier by job_type.
type EvidenceTable struct {
	Policies map[string]EvidencePolicy
}

// NewEvidenceTable builds an EvidenceTable seeded with policies.
func NewEvidenceTable(policies map[string]EvidencePolicy) *EvidenceTable {
	return &EvidenceTable{Policies: policies}
}

// Check reports whether artifacts (each expected in "class:value" form,
// e.g. "content_hash:abc123") satisfy jobType's evidence policy. A
// job_type with no policy entry always passes. Corroboration requires
// at least CorroborationThreshold distinct artifacts for each of the
// required classes, not just one per class.
func (t *EvidenceTable) Check(jobType string, artifacts []string) error {
	policy, ok := t.Policies[jobType]
	if !ok {
		return nil
	}

	values := make(map[string]map[string]struct{}, len(policy.RequiredEvidenceClass))
	for _, a := range artifacts {
		class, value, found := strings.Cut(a, ":")
		if !found {
			continue
		}
		if values[class] == nil {
			values[class] = make(map[string]struct{})
		}
		values[class][value] = struct{}{}
	}

	threshold := policy.CorroborationThreshold
	if threshold < 1 {
		threshold = 1
	}

	var missing []string
	for _, class := range policy.RequiredEvidenceClass {
		if len(values[class]) < threshold {
			missing = append(missing, class)
		}
	}
	if len(missing) > 0 {
		return evidenceError{jobType: jobType, missing: missing}
	}
	return nil
}

type evidenceError struct {
	jobType string
	missing []string
}

func (e evidenceError) Error() string {
	return "permit: receipt for job_type " + e.jobType + " is missing required evidence classes: " + strings.Join(e.missing, ", ")
}

package permit

import "github.com/Mindburn-Labs/helm/core/pkg/contracts"

// JobPolicy is the per-job_type entry in the risk table: the job type and
// the level it is pinned to. DefaultJobPolicies is the seed table used
// when nothing else is configured.
type JobPolicy struct {
	JobType string
	Risk    contracts.RiskLevel
}

// DefaultJobPolicies pins a representative set of job types to their risk
// tier. Unlisted job types fall back to RiskL3, requiring approval rather
// than silently under-classifying an unrecognized action.
var DefaultJobPolicies = map[string]contracts.RiskLevel{
	"read_file":           contracts.RiskL0,
	"list_containers":     contracts.RiskL0,
	"run_lint":            contracts.RiskL1,
	"run_tests":           contracts.RiskL1,
	"write_scratch":       contracts.RiskL2,
	"send_notification":   contracts.RiskL2,
	"deploy_staging":      contracts.RiskL3,
	"external_api_call":   contracts.RiskL3,
	"deploy_production":   contracts.RiskL4,
	"rotate_signing_key":  contracts.RiskL5,
	"modify_tenant_admin": contracts.RiskL5,
}

// RiskClassifier derives a deterministic risk tier from a job's type,
// target, and arguments (§4.11 step 2). Implementations must be pure:
// the same (job_type, target, args) always yields the same tier, since
// the tier gates TTL and the approval/step-up requirement.
type RiskClassifier interface {
	Classify(jobType, target string, args map[string]any) contracts.RiskLevel
}

// TableClassifier classifies by a static job_type lookup table, the
// simplest deterministic rule that satisfies §4.11. target and args are
// accepted for interface conformance and for subclassifiers that need
// them (e.g. a funds-transfer amount threshold) but are unused here.
type TableClassifier struct {
	Policies map[string]contracts.RiskLevel
	Fallback contracts.RiskLevel
}

// NewTableClassifier builds a TableClassifier seeded with policies,
// falling back to RiskL3 (requires approval) for unrecognized job types.
func NewTableClassifier(policies map[string]contracts.RiskLevel) *TableClassifier {
	return &TableClassifier{Policies: policies, Fallback: contracts.RiskL3}
}

func (c *TableClassifier) Classify(jobType, target string, args map[string]any) contracts.RiskLevel {
	if risk, ok := c.Policies[jobType]; ok {
		return risk
	}
	return c.Fallback
}

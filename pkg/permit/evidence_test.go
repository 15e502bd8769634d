package permit_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Mindburn-Labs/helm/core/pkg/permit"
)

func TestEvidenceTable_JobTypeWithNoPolicyAlwaysPasses(t *testing.T) {
	table := permit.NewEvidenceTable(permit.DefaultEvidencePolicies)
	assert.NoError(t, table.Check("run_tests", nil))
}

func TestEvidenceTable_RejectsMissingRequiredClass(t *testing.T) {
	table := permit.NewEvidenceTable(permit.DefaultEvidencePolicies)
	err := table.Check("write_scratch", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "content_hash")
}

func TestEvidenceTable_AcceptsSingleArtifactWhenNoCorroborationRequired(t *testing.T) {
	table := permit.NewEvidenceTable(permit.DefaultEvidencePolicies)
	err := table.Check("write_scratch", []string{"content_hash:abc123"})
	assert.NoError(t, err)
}

func TestEvidenceTable_RequiresCorroborationThreshold(t *testing.T) {
	table := permit.NewEvidenceTable(permit.DefaultEvidencePolicies)

	err := table.Check("deploy_production", []string{
		"SLSA:x", "container_hash:x", "attestation:x",
	})
	require.Error(t, err, "each required class has only one artifact but threshold is 2")

	err = table.Check("deploy_production", []string{
		"SLSA:x", "SLSA:y",
		"container_hash:x", "container_hash:y",
		"attestation:x", "attestation:y",
	})
	assert.NoError(t, err)
}

func TestEvidenceTable_IgnoresArtifactsWithoutClassPrefix(t *testing.T) {
	table := permit.NewEvidenceTable(permit.DefaultEvidencePolicies)
	err := table.Check("write_scratch", []string{"abc123"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "content_hash")
}

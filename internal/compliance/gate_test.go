package compliance_test

import (
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"caseline/internal/compliance"
	"caseline/internal/domain"
	"caseline/internal/stage"
)

func requiredItem(key, requiredStage string, status domain.ChecklistStatus) domain.ChecklistItem {
	return domain.ChecklistItem{ID: key, ItemKey: key, Category: "intake", RequiredStage: requiredStage, IsRequired: true, Status: status}
}

// An item required at S is due for target T exactly when S is not later
// than T in the lifecycle.
func TestGateOrdinalProperty(t *testing.T) {
	all := stage.All()
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	properties.Property("pending required item blocks iff ordinal(S) <= ordinal(T)", prop.ForAll(
		func(si, ti int) bool {
			s, tgt := all[si], all[ti]
			res := compliance.Evaluate(tgt, []domain.ChecklistItem{requiredItem("k", string(s), domain.ChecklistPending)}, nil)
			blocked := len(res.BlockingChecklist) == 1
			return blocked == (stage.Ordinal(s) <= stage.Ordinal(tgt)) && res.Passed == !blocked
		},
		gen.IntRange(0, len(all)-1),
		gen.IntRange(0, len(all)-1),
	))

	properties.Property("ANY is due at every target", prop.ForAll(
		func(ti int) bool {
			due, known := compliance.StageDue(stage.Any, all[ti])
			return due && known
		},
		gen.IntRange(0, len(all)-1),
	))

	properties.TestingRun(t)
}

func TestEvaluateGatePassesWhenChecklistComplete(t *testing.T) {
	items := []domain.ChecklistItem{
		requiredItem("family_contact", "INTAKE", domain.ChecklistCompleted),
		requiredItem("id_verified", "DOCUMENTS", domain.ChecklistCompleted),
		requiredItem("any_note", "any", domain.ChecklistCompleted),
	}
	res := compliance.Evaluate(stage.Quote, items, nil)
	assert.True(t, res.Passed)
	assert.Empty(t, res.BlockingChecklist)
	assert.NotNil(t, res.BlockingChecklist)
	assert.Empty(t, res.BlockingDocuments)
}

func TestEvaluateGateBlocking(t *testing.T) {
	optional := requiredItem("optional", "INTAKE", domain.ChecklistPending)
	optional.IsRequired = false
	items := []domain.ChecklistItem{
		requiredItem("due_pending", "INTAKE", domain.ChecklistInProgress),
		requiredItem("later", "SCHEDULED", domain.ChecklistPending),
		optional,
	}
	docs := []domain.DocumentRequirement{
		{ID: "d1", DocumentType: "death_certificate", RequiredStage: "DOCUMENTS", IsRequired: true, Status: domain.DocumentSubmitted},
		{ID: "d2", DocumentType: "removal_authorization", RequiredStage: "INTAKE", IsRequired: true, Status: domain.DocumentRejected},
		{ID: "d3", DocumentType: "id_copy", RequiredStage: "INTAKE", IsRequired: true, Status: domain.DocumentVerified},
	}
	res := compliance.Evaluate(stage.Documents, items, docs)
	require.False(t, res.Passed)
	require.Len(t, res.BlockingChecklist, 1)
	assert.Equal(t, "due_pending", res.BlockingChecklist[0].ItemKey)
	require.Len(t, res.BlockingDocuments, 2)
	assert.Equal(t, "d1", res.BlockingDocuments[0].ID)
	assert.Equal(t, "d2", res.BlockingDocuments[1].ID)
}

func TestEvaluateGateUnmappedStageNeverBlocks(t *testing.T) {
	items := []domain.ChecklistItem{requiredItem("legacy", "EMBALMING", domain.ChecklistPending)}
	docs := []domain.DocumentRequirement{{ID: "d", DocumentType: "x", RequiredStage: "", IsRequired: true, Status: domain.DocumentPending}}
	res := compliance.Evaluate(stage.Completed, items, docs)
	assert.True(t, res.Passed)
	assert.Len(t, res.Unmapped, 2)
}

func TestEvaluateGateMetadataWaiver(t *testing.T) {
	it := requiredItem("legacy_waived", "INTAKE", domain.ChecklistPending)
	it.Metadata = map[string]any{"waived": true}
	doc := domain.DocumentRequirement{ID: "d", DocumentType: "permit", RequiredStage: "INTAKE", IsRequired: true,
		Status: domain.DocumentPending, Metadata: map[string]any{"waived": "true"}}
	res := compliance.Evaluate(stage.Scheduled, []domain.ChecklistItem{it}, []domain.DocumentRequirement{doc})
	assert.True(t, res.Passed)

	it.Metadata = map[string]any{"waived": false}
	res = compliance.Evaluate(stage.Scheduled, []domain.ChecklistItem{it}, nil)
	assert.False(t, res.Passed)
}

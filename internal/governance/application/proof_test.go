package application

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	storeapp "github.com/ramxx/tminus/internal/store/application"
)

func TestAssembleProof_EventsOrderedByStart(t *testing.T) {
	commitment := testCommitment(t, 20, 1)
	billable := []storeapp.AllocatedEvent{
		billableEvent(testNow.Add(-12*time.Hour), 2),
		billableEvent(testNow.Add(-48*time.Hour), 2),
		billableEvent(testNow.Add(-24*time.Hour), 2),
	}

	proof := AssembleProof(commitment, billable, testNow)

	require.Len(t, proof.Events, 3)
	for i := 1; i < len(proof.Events); i++ {
		assert.LessOrEqual(t, proof.Events[i-1].StartTS, proof.Events[i].StartTS)
	}
	assert.Equal(t, StatusUnder, proof.Status)
	assert.InDelta(t, 6.0, proof.ActualHours, 0.001)
}

func TestProofHash_Deterministic(t *testing.T) {
	commitment := testCommitment(t, 20, 1)
	billable := []storeapp.AllocatedEvent{
		billableEvent(testNow.Add(-24*time.Hour), 4.5),
		billableEvent(testNow.Add(-48*time.Hour), 4.5),
	}

	first := AssembleProof(commitment, billable, testNow)
	second := AssembleProof(commitment, billable, testNow)

	hashA, err := ProofHash(first)
	require.NoError(t, err)
	hashB, err := ProofHash(second)
	require.NoError(t, err)
	assert.Equal(t, hashA, hashB)

	// The hash is the SHA-256 of the canonical bytes.
	canonical, err := CanonicalJSON(first)
	require.NoError(t, err)
	sum := sha256.Sum256(canonical)
	assert.Equal(t, hex.EncodeToString(sum[:]), hashA)
}

func TestProofHash_SensitiveToContent(t *testing.T) {
	commitment := testCommitment(t, 20, 1)
	base := AssembleProof(commitment, []storeapp.AllocatedEvent{billableEvent(testNow.Add(-24*time.Hour), 4)}, testNow)
	changed := base
	changed.ActualHours = base.ActualHours + 1

	hashA, err := ProofHash(base)
	require.NoError(t, err)
	hashB, err := ProofHash(changed)
	require.NoError(t, err)
	assert.NotEqual(t, hashA, hashB)
}

func TestCanonicalJSON_SortedKeysNoHTMLEscaping(t *testing.T) {
	commitment := testCommitment(t, 20, 1)
	proof := AssembleProof(commitment, nil, testNow)

	canonical, err := CanonicalJSON(proof)
	require.NoError(t, err)

	text := string(canonical)
	assert.Less(t, strings.Index(text, `"actual_hours"`), strings.Index(text, `"commitment_id"`))
	assert.Less(t, strings.Index(text, `"commitment_id"`), strings.Index(text, `"window_start"`))
	assert.NotContains(t, text, `<`)
	assert.False(t, strings.HasSuffix(text, "\n"))
}

func TestRenderCSV_EmbedsHash(t *testing.T) {
	commitment := testCommitment(t, 20, 1)
	proof := AssembleProof(commitment, []storeapp.AllocatedEvent{billableEvent(testNow.Add(-24*time.Hour), 4)}, testNow)
	hash, err := ProofHash(proof)
	require.NoError(t, err)

	rendered, err := RenderCSV(proof, hash)
	require.NoError(t, err)
	assert.Contains(t, string(rendered), hash)
	assert.Contains(t, string(rendered), "Acme Corp")
}

func TestRenderPDF_WellFormedAndDeterministic(t *testing.T) {
	commitment := testCommitment(t, 20, 1)
	proof := AssembleProof(commitment, []storeapp.AllocatedEvent{billableEvent(testNow.Add(-24*time.Hour), 4)}, testNow)
	hash, err := ProofHash(proof)
	require.NoError(t, err)

	first, err := RenderPDF(proof, hash)
	require.NoError(t, err)
	second, err := RenderPDF(proof, hash)
	require.NoError(t, err)

	assert.True(t, strings.HasPrefix(string(first), "%PDF-1.4"))
	assert.True(t, strings.HasSuffix(string(first), "%%EOF\n"))
	assert.Contains(t, string(first), hash)
	assert.Equal(t, first, second)
}

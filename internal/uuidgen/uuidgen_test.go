package uuidgen

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewForEntityUsesV7ForHighVolumeTypes(t *testing.T) {
	for _, entityType := range []EntityType{EntityTypeOperation, EntityTypeRequest} {
		id, err := NewForEntity(entityType)
		require.NoError(t, err)
		assert.Equal(t, uuid.Version(7), id.Version(), "entity type %s", entityType)
	}
}

func TestNewForEntityUsesV4Otherwise(t *testing.T) {
	for _, entityType := range []EntityType{EntityTypeSession, EntityTypeDiagram} {
		id, err := NewForEntity(entityType)
		require.NoError(t, err)
		assert.Equal(t, uuid.Version(4), id.Version(), "entity type %s", entityType)
	}
}

func TestV7IDsSortChronologically(t *testing.T) {
	first := MustNewForEntity(EntityTypeOperation)
	second := MustNewForEntity(EntityTypeOperation)
	assert.LessOrEqual(t, first.String(), second.String())
}

func TestMustNewV4(t *testing.T) {
	id := MustNewV4()
	assert.Equal(t, uuid.Version(4), id.Version())
	assert.NotEqual(t, id, MustNewV4())
}

package coa

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func account(code string, parent *uuid.UUID) Account {
	return Account{ID: uuid.New(), Code: code, Name: "Account " + code, Type: AccountTypeAsset, ParentID: parent, IsActive: true}
}

func TestBuildForest(t *testing.T) {
	assets := account("1000", nil)
	receivables := account("1100", &assets.ID)
	inventory := account("1200", &assets.ID)
	used := account("1210", &inventory.ID)
	liabilities := account("2000", nil)

	forest := BuildForest([]Account{used, liabilities, inventory, assets, receivables})

	require.Len(t, forest, 2)
	assert.Equal(t, "1000", forest[0].Code)
	assert.Equal(t, "2000", forest[1].Code)

	require.Len(t, forest[0].Children, 2)
	assert.Equal(t, "1100", forest[0].Children[0].Code)
	assert.Equal(t, "1200", forest[0].Children[1].Code)
	require.Len(t, forest[0].Children[1].Children, 1)
	assert.Equal(t, "1210", forest[0].Children[1].Children[0].Code)
}

func TestBuildForestOmitsOrphanedSubtree(t *testing.T) {
	missingParent := uuid.New()
	orphan := account("1100", &missingParent)
	root := account("1000", nil)

	forest := BuildForest([]Account{root, orphan})

	require.Len(t, forest, 1)
	assert.Equal(t, "1000", forest[0].Code)
	assert.Empty(t, forest[0].Children)
}

func TestBuildForestSurvivesCycle(t *testing.T) {
	// Two accounts pointing at each other never reach a root; they must be
	// dropped, not looped over.
	a := account("1000", nil)
	b := account("1100", nil)
	a.ParentID = &b.ID
	b.ParentID = &a.ID
	root := account("2000", nil)

	forest := BuildForest([]Account{a, b, root})

	require.Len(t, forest, 1)
	assert.Equal(t, "2000", forest[0].Code)
}

func TestBuildForestEmpty(t *testing.T) {
	assert.Empty(t, BuildForest(nil))
}

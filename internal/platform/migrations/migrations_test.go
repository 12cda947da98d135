package migrations

import (
	"io/fs"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLedgerMigrationsEmbedded(t *testing.T) {
	entries, err := fs.ReadDir(ledgerFiles, "sql/ledger")
	require.NoError(t, err)
	assert.NotEmpty(t, entries)
}

func TestDocumentStoreMigrationsEmbedded(t *testing.T) {
	entries, err := fs.ReadDir(docstoreFiles, "sql/docstore")
	require.NoError(t, err)

	var upCount int
	for _, e := range entries {
		if !e.IsDir() {
			upCount++
		}
	}
	// four tables, each with an up and a down migration
	assert.Equal(t, 8, upCount)
}

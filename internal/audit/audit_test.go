package audit

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecordAndRead(t *testing.T) {
	log := NewLog(filepath.Join(t.TempDir(), "audit.jsonl"))

	entries, err := log.Entries()
	require.NoError(t, err)
	assert.Empty(t, entries)

	log.Record(Entry{Operation: OpUnlock, Outcome: OutcomeFail, Method: "pin", Attempts: 3})
	log.Record(Entry{Operation: OpLock, Outcome: OutcomeOK})

	entries, err = log.Entries()
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, OpUnlock, entries[0].Operation)
	assert.Equal(t, 3, entries[0].Attempts)
	assert.NotEmpty(t, entries[0].Timestamp)
	assert.Equal(t, OpLock, entries[1].Operation)

	info, err := os.Stat(log.Path())
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0600), info.Mode().Perm())
}

func TestMalformedLinesSkipped(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit.jsonl")
	require.NoError(t, os.WriteFile(path, []byte("{\"op\":\"lock\"}\nnot json\n\n{\"op\":\"unlock\"}\n"), 0600))

	entries, err := NewLog(path).Entries()
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "unlock", entries[1].Operation)
}

func TestRecordSwallowsErrors(t *testing.T) {
	log := NewLog(filepath.Join(t.TempDir(), "missing-dir", "audit.jsonl"))
	assert.NotPanics(t, func() { log.Record(Entry{Operation: OpExport}) })
}

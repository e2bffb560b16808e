package audit

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestAppendAndAll(t *testing.T) {
	dir := t.TempDir()
	j, err := Open(filepath.Join(dir, "audit.db"))
	require.NoError(t, err)
	defer j.Close()

	r := Record{JobID: "abc", Username: "alice", EventName: "/a", Status: "done", Timestamp: time.Unix(0, 0)}
	require.NoError(t, j.Append(r))

	all, err := j.All()
	require.NoError(t, err)
	require.Len(t, all, 1)
	require.Equal(t, "abc", all[0].JobID)
}

func TestAppendOverwritesSameJobID(t *testing.T) {
	dir := t.TempDir()
	j, err := Open(filepath.Join(dir, "audit.db"))
	require.NoError(t, err)
	defer j.Close()

	require.NoError(t, j.Append(Record{JobID: "x", Status: "done"}))
	require.NoError(t, j.Append(Record{JobID: "x", Status: "expire"}))

	all, err := j.All()
	require.NoError(t, err)
	require.Len(t, all, 1)
	require.Equal(t, "expire", all[0].Status)
}

func TestDumpWritesJSON(t *testing.T) {
	dir := t.TempDir()
	j, err := Open(filepath.Join(dir, "audit.db"))
	require.NoError(t, err)
	defer j.Close()

	require.NoError(t, j.Append(Record{JobID: "x", Status: "done"}))

	dest := filepath.Join(dir, "dump.json")
	require.NoError(t, j.Dump(dest))

	body, err := os.ReadFile(dest)
	require.NoError(t, err)

	var records []Record
	require.NoError(t, json.Unmarshal(body, &records))
	require.Len(t, records, 1)
}

package storage

import (
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestArchiveStoreAndOpen(t *testing.T) {
	archive, err := NewArchive(t.TempDir())
	require.NoError(t, err)

	rel, err := archive.Store("borrowings-job-1.csv", []byte("a,b\n1,2\n"))
	require.NoError(t, err)
	require.Equal(t, time.Now().UTC().Format("2006-01")+"/borrowings-job-1.csv", rel)

	f, err := archive.Open(rel)
	require.NoError(t, err)
	defer f.Close()
	data, err := io.ReadAll(f)
	require.NoError(t, err)
	require.Equal(t, "a,b\n1,2\n", string(data))
}

func TestArchiveStoreStripsDirectories(t *testing.T) {
	archive, err := NewArchive(t.TempDir())
	require.NoError(t, err)

	rel, err := archive.Store("../../etc/passwd", []byte("x"))
	require.NoError(t, err)
	require.Equal(t, time.Now().UTC().Format("2006-01")+"/passwd", rel)
}

func TestArchiveOpenRejectsEscapingPaths(t *testing.T) {
	archive, err := NewArchive(t.TempDir())
	require.NoError(t, err)

	_, err = archive.Open("../outside.txt")
	require.Error(t, err)
	_, err = archive.Open("/etc/passwd")
	require.Error(t, err)
}

func TestArchiveSweepRemovesOldFiles(t *testing.T) {
	archive, err := NewArchive(t.TempDir())
	require.NoError(t, err)

	rel, err := archive.Store("old-report.csv", []byte("x"))
	require.NoError(t, err)

	// maxAge zero makes anything already written eligible.
	removed, err := archive.Sweep(0)
	require.NoError(t, err)
	require.Equal(t, 1, removed)

	_, err = archive.Open(rel)
	require.Error(t, err)
}

func TestArchiveRemoveMissingFile(t *testing.T) {
	archive, err := NewArchive(t.TempDir())
	require.NoError(t, err)
	require.NoError(t, archive.Remove("2026-01/gone.csv"))
}

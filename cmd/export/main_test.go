package main

import (
	"archive/tar"
	"compress/gzip"
	"context"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/ericvolp12/rental-monitor/pkg/project"
	"github.com/ericvolp12/rental-monitor/pkg/source"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExportKeepsEveryMatchInOrder(t *testing.T) {
	ctx := context.Background()
	src := source.NewFixture(1500, 0)

	items, err := fetchAll(ctx, src.Rentals, 5000)
	require.NoError(t, err)
	require.Len(t, items, 1500)

	sorted := filterSorted(items, project.Query{SortKey: project.SortRecency, SortDir: project.DirDesc})
	require.Len(t, sorted, 1500, "more matches than one page must all be exported")
	assert.Equal(t, "rental-1499", sorted[0].ID)
	assert.Equal(t, "rental-0", sorted[len(sorted)-1].ID)
	assert.Equal(t, "rental-0", items[0].ID, "input must not be reordered")

	limited, err := fetchAll(ctx, src.Rentals, 250)
	require.NoError(t, err)
	assert.Len(t, limited, 250)
}

func exportRecords() []record {
	return []record{
		{ID: "c", Value: map[string]int{"n": 3}},
		{ID: "a", Value: map[string]int{"n": 1}},
		{ID: "b", Value: map[string]int{"n": 2}},
	}
}

func TestWriteRecordsIndexOrder(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "rentals")
	require.NoError(t, writeRecords("rentals", dir, false, exportRecords()))

	b, err := os.ReadFile(filepath.Join(dir, "index.json"))
	require.NoError(t, err)
	var ids []string
	require.NoError(t, json.Unmarshal(b, &ids))
	assert.Equal(t, []string{"c", "a", "b"}, ids)

	b, err = os.ReadFile(filepath.Join(dir, "a.json"))
	require.NoError(t, err)
	assert.JSONEq(t, `{"n":1}`, string(b))
}

func TestWriteRecordsTarOrder(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "rentals")
	require.NoError(t, writeRecords("rentals", dir, true, exportRecords()))

	f, err := os.Open(dir + ".tar.gz")
	require.NoError(t, err)
	defer f.Close()
	gz, err := gzip.NewReader(f)
	require.NoError(t, err)
	tr := tar.NewReader(gz)

	var names []string
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		require.NoError(t, err)
		names = append(names, hdr.Name)
	}
	assert.Equal(t, []string{
		"rentals/c.json",
		"rentals/a.json",
		"rentals/b.json",
		"rentals/index.json",
	}, names)
}

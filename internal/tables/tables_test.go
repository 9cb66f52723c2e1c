// Copyright (c) 2025, Lux Industries Inc
// SPDX-License-Identifier: BSD-3-Clause

package tables

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/luxfi/biofhe"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func testProvider(t *testing.T) *Provider {
	t.Helper()
	cfg, err := biofhe.NewConfig("toy", 2, 4, 4, 2, 3)
	require.NoError(t, err)
	p := NewProvider(t.TempDir(), cfg)
	writeFile(t, p.TablePath(0), "3,-1,-2\n-1,3,-1\n-2,-1,3\n")
	writeFile(t, p.TablePath(1), "2, 0, -4\n0, 2, 0\n-4, 0, 2\n")
	writeFile(t, p.BinsPath(), "-0.5,0.5\n")
	writeFile(t, p.DatasetPath(), "1,-1.0,0.0\n2,0.2,0.9\n3.0,1.5,-2\n")
	return p
}

func TestPaths(t *testing.T) {
	cfg, err := biofhe.NewConfig("BMDB", 3, 4, 4, 36, 14)
	require.NoError(t, err)
	p := NewProvider("/data", cfg)
	assert.Equal(t, filepath.FromSlash("/data/lookupTables/BMDB/HELR7.csv"), p.TablePath(7))
	assert.Equal(t, filepath.FromSlash("/data/lookupTables/BMDB/BMDB_qbins.csv"), p.BinsPath())
	assert.Equal(t, filepath.FromSlash("/data/BMDB.csv"), p.DatasetPath())
}

func TestScoreTables(t *testing.T) {
	p := testProvider(t)
	tables, err := p.ScoreTables()
	require.NoError(t, err)
	require.Len(t, tables, 2)
	assert.Equal(t, biofhe.ScoreTable{{3, -1, -2}, {-1, 3, -1}, {-2, -1, 3}}, tables[0])
	assert.Equal(t, int32(-4), tables[1][2][0])
}

func TestScoreTablesMissing(t *testing.T) {
	cfg, err := biofhe.NewConfig("toy", 2, 4, 4, 3, 3)
	require.NoError(t, err)
	p := NewProvider(t.TempDir(), cfg)
	writeFile(t, p.TablePath(0), "1\n")
	_, err = p.ScoreTables()
	require.ErrorIs(t, err, biofhe.ErrMalformedInput)
}

func TestReadScoreTableRejects(t *testing.T) {
	dir := t.TempDir()
	for name, content := range map[string]string{
		"nonint": "1,2\n3,x\n",
		"ragged": "1,2\n3\n",
		"empty":  "",
		"range":  "1,99999999999\n",
	} {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(dir, name+".csv")
			writeFile(t, path, content)
			_, err := ReadScoreTable(path)
			require.ErrorIs(t, err, biofhe.ErrMalformedInput)
		})
	}
}

func TestBins(t *testing.T) {
	p := testProvider(t)
	bins, err := p.Bins()
	require.NoError(t, err)
	assert.Equal(t, biofhe.Bins{-0.5, 0.5}, bins)
}

func TestReadBinsRejects(t *testing.T) {
	dir := t.TempDir()
	many := strings.Repeat("1.0,", biofhe.MaxBins) + "2.0"
	for name, content := range map[string]string{
		"empty": " \n",
		"bad":   "0.1,abc,0.3",
		"many":  many,
	} {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(dir, name+".csv")
			writeFile(t, path, content)
			_, err := ReadBins(path)
			require.ErrorIs(t, err, biofhe.ErrMalformedInput)
		})
	}

	_, err := ReadBins(filepath.Join(dir, "missing.csv"))
	require.ErrorIs(t, err, biofhe.ErrMalformedInput)
}

func TestSampleWraps(t *testing.T) {
	p := testProvider(t)
	for id, want := range map[int]int{1: 1, 2: 2, 3: 3, 4: 1, 5: 2, 9: 3} {
		s, err := p.Sample(id)
		require.NoError(t, err)
		assert.Equal(t, want, s.ID, "id %d", id)
	}

	_, err := p.Sample(0)
	require.ErrorIs(t, err, biofhe.ErrMalformedInput)
}

func TestReadSamplesFeatureCount(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ds.csv")
	writeFile(t, path, "1,0.1,0.2\n2,0.3\n")
	_, err := ReadSamples(path, 2)
	require.ErrorIs(t, err, biofhe.ErrMalformedInput)

	samples, err := ReadSamples(path, 0)
	require.NoError(t, err)
	assert.Len(t, samples, 2)
}

func TestProbeAndTemplate(t *testing.T) {
	p := testProvider(t)
	probe, template, err := p.ProbeAndTemplate(1, 3)
	require.NoError(t, err)
	assert.Equal(t, []biofhe.Code{0, 1}, probe)
	assert.Equal(t, []biofhe.Code{2, 0}, template)

	probe, template, err = p.ProbeAndTemplate(2, 5)
	require.NoError(t, err)
	assert.Equal(t, []biofhe.Code{1, 2}, probe)
	assert.Equal(t, probe, template)
}

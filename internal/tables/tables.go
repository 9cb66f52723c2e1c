// Copyright (c) 2025, Lux Industries Inc
// SPDX-License-Identifier: BSD-3-Clause

// Package tables loads score tables, quantization bins and dataset samples
// from the on-disk layout:
//
//	<root>/lookupTables/<dataset>/HELR<i>.csv
//	<root>/lookupTables/<dataset>/<dataset>_qbins.csv
//	<root>/<dataset>.csv
package tables

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"github.com/luxfi/biofhe"
)

const (
	tablePrefix  = "HELR"
	binsSuffix   = "_qbins"
	tablesFolder = "lookupTables"
)

// Sample is one dataset row.
type Sample struct {
	ID       int
	Features []float64
}

// Provider reads the files of one dataset.
type Provider struct {
	root string
	cfg  biofhe.Config

	once    sync.Once
	samples []Sample
	bins    biofhe.Bins
	loadErr error
}

// NewProvider returns a provider rooted at dir.
func NewProvider(dir string, cfg biofhe.Config) *Provider {
	return &Provider{root: dir, cfg: cfg}
}

// Config returns the dataset configuration.
func (p *Provider) Config() biofhe.Config { return p.cfg }

// TablePath returns the path of table i.
func (p *Provider) TablePath(i int) string {
	return filepath.Join(p.root, tablesFolder, p.cfg.Dataset(), fmt.Sprintf("%s%d.csv", tablePrefix, i))
}

// BinsPath returns the path of the quantization bins file.
func (p *Provider) BinsPath() string {
	ds := p.cfg.Dataset()
	return filepath.Join(p.root, tablesFolder, ds, ds+binsSuffix+".csv")
}

// DatasetPath returns the path of the dataset file.
func (p *Provider) DatasetPath() string {
	return filepath.Join(p.root, p.cfg.Dataset()+".csv")
}

// ScoreTables reads one table per feature.
func (p *Provider) ScoreTables() ([]biofhe.ScoreTable, error) {
	out := make([]biofhe.ScoreTable, p.cfg.Features())
	for i := range out {
		t, err := ReadScoreTable(p.TablePath(i))
		if err != nil {
			return nil, err
		}
		out[i] = t
	}
	return out, nil
}

// Bins reads the quantization bins.
func (p *Provider) Bins() (biofhe.Bins, error) {
	if err := p.load(); err != nil {
		return nil, err
	}
	return p.bins, nil
}

// Samples returns every dataset row.
func (p *Provider) Samples() ([]Sample, error) {
	if err := p.load(); err != nil {
		return nil, err
	}
	return p.samples, nil
}

// Sample returns the row for a 1-based id. Ids past the end wrap around.
func (p *Provider) Sample(id int) (Sample, error) {
	samples, err := p.Samples()
	if err != nil {
		return Sample{}, err
	}
	if id < 1 {
		return Sample{}, &biofhe.MalformedInputError{
			Source: p.DatasetPath(),
			Err:    fmt.Errorf("sample id %d is not positive", id),
		}
	}
	return samples[(id-1)%len(samples)], nil
}

// ProbeAndTemplate quantizes two samples with the dataset bins.
func (p *Provider) ProbeAndTemplate(probeID, templateID int) (probe, template []biofhe.Code, err error) {
	bins, err := p.Bins()
	if err != nil {
		return nil, nil, err
	}
	ps, err := p.Sample(probeID)
	if err != nil {
		return nil, nil, err
	}
	ts, err := p.Sample(templateID)
	if err != nil {
		return nil, nil, err
	}
	return biofhe.QuantizeVector(ps.Features, bins), biofhe.QuantizeVector(ts.Features, bins), nil
}

func (p *Provider) load() error {
	p.once.Do(func() {
		p.bins, p.loadErr = ReadBins(p.BinsPath())
		if p.loadErr != nil {
			return
		}
		p.samples, p.loadErr = ReadSamples(p.DatasetPath(), p.cfg.Features())
	})
	return p.loadErr
}

func malformed(path string, err error) error {
	return &biofhe.MalformedInputError{Source: path, Err: err}
}

// ReadScoreTable parses a headerless CSV of signed integers.
func ReadScoreTable(path string) (biofhe.ScoreTable, error) {
	records, err := readCSV(path)
	if err != nil {
		return nil, err
	}
	table := make(biofhe.ScoreTable, len(records))
	for r, rec := range records {
		row := make([]int32, len(rec))
		for c, field := range rec {
			v, err := strconv.ParseInt(strings.TrimSpace(field), 10, 32)
			if err != nil {
				return nil, malformed(path, fmt.Errorf("row %d column %d: %w", r, c, err))
			}
			row[c] = int32(v)
		}
		table[r] = row
	}
	if err := table.Validate(); err != nil {
		return nil, malformed(path, err)
	}
	return table, nil
}

// ReadBins parses comma separated bin edges. Edges may span several lines.
func ReadBins(path string) (biofhe.Bins, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, malformed(path, err)
	}
	var bins biofhe.Bins
	for _, field := range strings.FieldsFunc(string(data), func(r rune) bool {
		return r == ',' || r == '\n' || r == '\r'
	}) {
		field = strings.TrimSpace(field)
		if field == "" {
			continue
		}
		v, err := strconv.ParseFloat(field, 64)
		if err != nil {
			return nil, malformed(path, fmt.Errorf("bin %d: %w", len(bins), err))
		}
		bins = append(bins, v)
	}
	if len(bins) == 0 {
		return nil, malformed(path, errors.New("no bins"))
	}
	if len(bins) > biofhe.MaxBins {
		return nil, malformed(path, fmt.Errorf("%d bins exceed %d", len(bins), biofhe.MaxBins))
	}
	return bins, nil
}

// ReadSamples parses rows of id followed by features. A positive
// features count requires every row to carry exactly that many values.
func ReadSamples(path string, features int) ([]Sample, error) {
	records, err := readCSV(path)
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, malformed(path, errors.New("empty dataset"))
	}
	samples := make([]Sample, len(records))
	for r, rec := range records {
		if features > 0 && len(rec)-1 != features {
			return nil, malformed(path, fmt.Errorf("row %d: %d features, want %d", r, len(rec)-1, features))
		}
		// Ids are sometimes written as reals.
		id, err := strconv.ParseFloat(strings.TrimSpace(rec[0]), 64)
		if err != nil {
			return nil, malformed(path, fmt.Errorf("row %d id: %w", r, err))
		}
		s := Sample{ID: int(id), Features: make([]float64, len(rec)-1)}
		for c, field := range rec[1:] {
			s.Features[c], err = strconv.ParseFloat(strings.TrimSpace(field), 64)
			if err != nil {
				return nil, malformed(path, fmt.Errorf("row %d feature %d: %w", r, c, err))
			}
		}
		samples[r] = s
	}
	return samples, nil
}

func readCSV(path string) ([][]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, malformed(path, err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1
	r.TrimLeadingSpace = true
	var records [][]string
	for {
		rec, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, malformed(path, err)
		}
		records = append(records, rec)
	}
	return records, nil
}

// Package pricing provides the static per-backend token price table.
//
// The table is loaded once at process start and injected into everything
// that prices tokens (the ledger, the fallback resolver, the agent
// activities). It is immutable after construction; there is no package
// level table and no hot reload, because the fallback substitution chains
// derived from it must stay fixed for the lifetime of the process.
package pricing

import (
	"fmt"
	"os"
	"sort"

	"gopkg.in/yaml.v3"
)

// Price holds USD prices per million tokens for one backend.
type Price struct {
	Input  float64 `json:"input" yaml:"input"`
	Output float64 `json:"output" yaml:"output"`
	Cached float64 `json:"cached" yaml:"cached"`
}

// Table is the immutable pricing table.
type Table struct {
	prices map[string]Price
	def    Price
}

type fileFormat struct {
	Default  Price            `yaml:"default"`
	Backends map[string]Price `yaml:"backends"`
}

// NewTable builds a table from explicit prices. The map is copied; callers
// keep no handle into the table's internals.
func NewTable(prices map[string]Price, def Price) *Table {
	cp := make(map[string]Price, len(prices))
	for id, p := range prices {
		cp[id] = p
	}
	return &Table{prices: cp, def: def}
}

// Load reads a pricing YAML file:
//
//	default:
//	  input: 1.0
//	  output: 3.0
//	  cached: 0.25
//	backends:
//	  gpt-4o:
//	    input: 2.5
//	    output: 10.0
//	    cached: 1.25
func Load(path string) (*Table, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read pricing file: %w", err)
	}
	var ff fileFormat
	if err := yaml.Unmarshal(data, &ff); err != nil {
		return nil, fmt.Errorf("parse pricing file %s: %w", path, err)
	}
	if len(ff.Backends) == 0 {
		return nil, fmt.Errorf("pricing file %s defines no backends", path)
	}
	for id, p := range ff.Backends {
		if p.Input < 0 || p.Output < 0 || p.Cached < 0 {
			return nil, fmt.Errorf("backend %q has a negative price", id)
		}
	}
	return NewTable(ff.Backends, ff.Default), nil
}

// PriceFor returns the price for a backend, falling back to the table
// default for backends missing from the file.
func (t *Table) PriceFor(backend string) Price {
	if p, ok := t.prices[backend]; ok {
		return p
	}
	return t.def
}

// Has reports whether the backend is explicitly priced.
func (t *Table) Has(backend string) bool {
	_, ok := t.prices[backend]
	return ok
}

// Backends returns all explicitly priced backend ids in sorted order, so
// anything derived from the table (fallback chains in particular) is
// deterministic for a given file.
func (t *Table) Backends() []string {
	ids := make([]string, 0, len(t.prices))
	for id := range t.prices {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// CostFor prices a single call's token split in USD.
func (t *Table) CostFor(backend string, inputTokens, outputTokens int) float64 {
	p := t.PriceFor(backend)
	return float64(inputTokens)/1e6*p.Input + float64(outputTokens)/1e6*p.Output
}

// Snapshot returns the serializable view of the table. Snapshots travel
// into workflows as activity results so ledger arithmetic replays
// deterministically even if the worker restarts with a different file.
func (t *Table) Snapshot() Snapshot {
	cp := make(map[string]Price, len(t.prices))
	for id, p := range t.prices {
		cp[id] = p
	}
	return Snapshot{Prices: cp, Default: t.def}
}

// Snapshot is plain data: a frozen copy of the table.
type Snapshot struct {
	Prices  map[string]Price `json:"prices"`
	Default Price            `json:"default"`
}

// PriceFor mirrors Table.PriceFor on the frozen copy.
func (s Snapshot) PriceFor(backend string) Price {
	if p, ok := s.Prices[backend]; ok {
		return p
	}
	return s.Default
}

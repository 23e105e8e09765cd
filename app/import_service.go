package app

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/charmbracelet/log"

	"rnadiff/adapters/tsv"
	"rnadiff/domain/core"
	"rnadiff/domain/expression"
	"rnadiff/domain/genesets"
	"rnadiff/internal/errors"
	"rnadiff/internal/logging"
	"rnadiff/ports"
)

// ImportRequest describes an output directory written by an earlier run.
// The files do not record the contrast or test, so the caller supplies them.
type ImportRequest struct {
	Dir    string
	Design expression.Design
	Test   string
	Alpha  float64
}

// ImportService loads result directories into a ResultStore.
type ImportService struct {
	store  ports.ResultStore
	logger *log.Logger
}

func NewImportService(store ports.ResultStore, logger *log.Logger) *ImportService {
	return &ImportService{store: store, logger: logging.Component(logger, "Import")}
}

// Import stores the directory's DE table and any enrichment tables as a new run.
// The settings hash is taken over the DE file so repeated imports are recognisable.
func (s *ImportService) Import(ctx context.Context, req ImportRequest) (*ports.RunRecord, error) {
	if s.store == nil {
		return nil, errors.ConfigInvalid("a result store is required to import runs")
	}

	dePath := filepath.Join(req.Dir, FileDEResults)
	raw, err := os.ReadFile(dePath)
	if err != nil {
		return nil, errors.WithCode(errors.CodeInvalidInput, err)
	}
	results, err := readTable(dePath, tsv.ReadDEResults)
	if err != nil {
		return nil, err
	}

	var tables []*genesets.Table
	for _, src := range []struct {
		file string
		mode genesets.Mode
	}{{FileORA, genesets.ModeORA}, {FileGSEA, genesets.ModeGSEA}} {
		path := filepath.Join(req.Dir, src.file)
		if _, err := os.Stat(path); os.IsNotExist(err) {
			s.logger.Debug("no enrichment table", "file", src.file)
			continue
		}
		mode := src.mode
		table, err := readTable(path, func(r io.Reader) (*genesets.Table, error) {
			return tsv.ReadEnrichment(r, mode)
		})
		if err != nil {
			return nil, err
		}
		tables = append(tables, table)
	}

	de := &expression.DETable{Design: req.Design, Test: req.Test, Results: results}
	summary := de.Summarize(req.Alpha)
	record := ports.RunRecord{
		ID:           core.NewRunID(),
		CreatedAt:    time.Now().UTC(),
		Design:       req.Design,
		Test:         req.Test,
		SettingsHash: core.NewHash(raw),
		Genes:        summary.Tested,
		Significant:  summary.Up + summary.Down,
		Up:           summary.Up,
		Down:         summary.Down,
		OutputDir:    req.Dir,
	}

	if err := s.store.SaveRun(ctx, record, results, tables...); err != nil {
		return nil, errors.Wrapf(err, "failed to import %s", req.Dir)
	}
	s.logger.Info("imported run", "id", record.ID, "genes", record.Genes, "enrichment_tables", len(tables))
	return &record, nil
}

func readTable[T any](path string, read func(io.Reader) (T, error)) (T, error) {
	var zero T
	f, err := os.Open(path)
	if err != nil {
		return zero, errors.WithCode(errors.CodeInvalidInput, err)
	}
	defer f.Close()
	v, err := read(f)
	if err != nil {
		return zero, errors.Wrapf(err, "invalid table %s", path)
	}
	return v, nil
}

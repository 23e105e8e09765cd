package app

import (
	"context"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/log"

	"rnadiff/adapters/excel"
	"rnadiff/adapters/tsv"
	"rnadiff/domain/core"
	"rnadiff/domain/expression"
	"rnadiff/domain/genesets"
	"rnadiff/internal/config"
	"rnadiff/internal/dispersion"
	"rnadiff/internal/enrichment"
	"rnadiff/internal/errors"
	"rnadiff/internal/glm"
	"rnadiff/internal/logging"
	"rnadiff/internal/multitest"
	"rnadiff/internal/normalize"
	"rnadiff/internal/vst"
	"rnadiff/ports"
)

// Output file names, fixed so reruns overwrite the same layout
const (
	FileDEResults       = "de_results.tsv"
	FileSizeFactors     = "size_factors.tsv"
	FileDispersions     = "dispersions.tsv"
	FileNormalized      = "normalized_counts.tsv"
	FileVST             = "vst.tsv"
	FileSampleDistances = "sample_distances.tsv"
	FilePCA             = "pca.tsv"
	FileORA             = "ora_results.tsv"
	FileGSEA            = "gsea_results.tsv"
	FileWorkbook        = "results.xlsx"
)

// PipelineService runs a complete differential expression and enrichment analysis
type PipelineService struct {
	store  ports.ResultStore
	rng    ports.RNGPort
	logger *log.Logger
}

// NewPipelineService creates a pipeline service. store may be nil to skip persistence.
func NewPipelineService(store ports.ResultStore, rngPort ports.RNGPort, logger *log.Logger) *PipelineService {
	return &PipelineService{
		store:  store,
		rng:    rngPort,
		logger: logging.Component(logger, "Pipeline"),
	}
}

// RunRequest defines the inputs of one pipeline run
type RunRequest struct {
	Counts     *expression.CountMatrix
	Metadata   *expression.SampleMetadata
	GeneSets   *genesets.Collection // nil skips enrichment
	Design     expression.Design
	Analysis   config.AnalysisConfig
	Enrichment config.EnrichmentConfig
	OutputDir  string // empty skips export
	Workbook   bool
	Progress   func(done, total int)
}

// RunResult contains everything a run produced
type RunResult struct {
	RunID        core.RunID                  `json:"run_id"`
	SettingsHash core.Hash                   `json:"settings_hash"`
	RemovedGenes []string                    `json:"removed_genes"`
	SampleIDs    []string                    `json:"sample_ids"`
	GeneIDs      []string                    `json:"gene_ids"`
	SizeFactors  expression.SizeFactors      `json:"size_factors"`
	Dispersions  *expression.DispersionTable `json:"-"`
	DE           *expression.DETable         `json:"-"`
	Summary      expression.Summary          `json:"summary"`
	Normalized   [][]float64                 `json:"-"`
	VST          [][]float64                 `json:"-"`
	Distances    [][]float64                 `json:"-"`
	PCA          *vst.PCAResult              `json:"-"`
	ORA          *genesets.Table             `json:"-"`
	GSEA         *genesets.Table             `json:"-"`
	Files        []string                    `json:"files"`
	Stages       []StageTiming               `json:"stages"`
	Persisted    bool                        `json:"persisted"`
	RuntimeMs    int64                       `json:"runtime_ms"`
}

// contrast is the design resolved against aligned metadata
type contrast struct {
	groups    []int
	numLevels int
	numerator int
}

// Run executes filter, normalization, dispersion estimation, per-gene tests,
// variance stabilization and enrichment, then exports and optionally persists
// the results.
func (s *PipelineService) Run(ctx context.Context, req RunRequest) (*RunResult, error) {
	startTime := time.Now()
	runner := NewStageRunner(s.logger)
	a := req.Analysis

	res := &RunResult{
		RunID:        core.NewRunID(),
		SettingsHash: settingsHash(req),
	}
	s.logger.Info("run started", "run_id", res.RunID, "design", req.Design.String(), "test", a.Test)

	var (
		counts    *expression.CountMatrix
		design    contrast
		baseMeans []float64
	)

	err := runner.Run(ctx, "validate", func() error {
		if req.Counts == nil || req.Metadata == nil {
			return errors.InvalidInput("counts and metadata are required")
		}
		if err := req.Counts.Validate(); err != nil {
			return err
		}
		md, err := req.Metadata.AlignTo(req.Counts.SampleIDs)
		if err != nil {
			return err
		}
		design, err = resolveContrast(req.Design, md)
		return err
	})
	if err != nil {
		return nil, err
	}

	err = runner.Run(ctx, "filter", func() error {
		filtered := req.Counts.FilterByTotal(a.CountThreshold)
		counts = filtered.Matrix
		res.RemovedGenes = filtered.Removed
		res.GeneIDs = counts.GeneIDs
		res.SampleIDs = counts.SampleIDs
		s.logger.Info("low-count genes removed",
			"threshold", a.CountThreshold, "removed", len(filtered.Removed), "kept", counts.NumGenes())
		if counts.NumGenes() == 0 {
			return errors.InsufficientData(fmt.Sprintf("no gene has a total count above %d", a.CountThreshold))
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	err = runner.Run(ctx, "normalize", func() error {
		sf, err := normalize.SizeFactors(counts, s.logger)
		if err != nil {
			return err
		}
		res.SizeFactors = sf
		res.Normalized = normalize.NormalizedCounts(counts, sf)
		baseMeans = normalize.BaseMeans(res.Normalized)
		return nil
	})
	if err != nil {
		return nil, err
	}

	err = runner.Run(ctx, "dispersion", func() error {
		table, err := dispersion.Estimate(dispersion.Input{
			GeneIDs:     counts.GeneIDs,
			Normalized:  res.Normalized,
			SizeFactors: res.SizeFactors,
			Groups:      design.groups,
			NumLevels:   design.numLevels,
		}, dispersion.Options{
			FitType:          expression.TrendKind(a.FitType),
			TrendMaxIter:     a.TrendMaxIter,
			MinPriorVariance: a.MinPriorVariance,
			OutlierSD:        a.OutlierSD,
			Logger:           s.logger,
		})
		res.Dispersions = table
		return err
	})
	if err != nil {
		return nil, err
	}

	err = runner.Run(ctx, "test", func() error {
		deResults, err := glm.Run(ctx, glm.Input{
			GeneIDs:     counts.GeneIDs,
			Counts:      counts.Counts,
			SizeFactors: res.SizeFactors,
			Dispersions: res.Dispersions.Final,
			BaseMeans:   baseMeans,
			Groups:      design.groups,
			NumLevels:   design.numLevels,
			Numerator:   design.numerator,
		}, glm.Options{
			Test:     glm.Test(a.Test),
			Workers:  a.Workers,
			Progress: req.Progress,
			Logger:   s.logger,
		})
		if err != nil {
			return err
		}
		res.DE = assembleTable(req.Design, a, deResults)
		res.Summary = res.DE.Summarize(a.SignificanceLevel)
		s.logger.Info("differential expression summary",
			"tested", res.Summary.Tested,
			"up", res.Summary.Up,
			"down", res.Summary.Down,
			"non_converged", res.Summary.NonConverged,
			"filtered", res.Summary.Filtered,
			"filter_quantile", res.DE.FilterQuantile)
		return nil
	})
	if err != nil {
		return nil, err
	}

	err = runner.Run(ctx, "vst", func() error {
		res.VST = vst.Transform(res.Normalized, res.Dispersions.Fit)
		res.Distances = vst.SampleDistances(res.VST)
		pca, err := vst.PCA(res.VST, a.PCATopGenes)
		if err != nil {
			s.logger.Warn("principal components unavailable", "err", err)
			return nil
		}
		res.PCA = pca
		return nil
	})
	if err != nil {
		return nil, err
	}

	err = runner.Run(ctx, "enrichment", func() error {
		res.ORA = s.OverRepresentation(res.DE.Results, req.GeneSets, req.Enrichment, a.SignificanceLevel)
		var err error
		res.GSEA, err = s.RankEnrichment(ctx, res.DE.Results, glm.Test(a.Test), req.GeneSets, req.Enrichment, a.Workers)
		return err
	})
	if err != nil {
		return nil, err
	}

	if req.OutputDir != "" {
		err = runner.Run(ctx, "export", func() error {
			files, err := s.export(req.OutputDir, res, req.Workbook)
			res.Files = files
			return err
		})
		if err != nil {
			return nil, err
		}
	}

	if s.store != nil {
		err = runner.Run(ctx, "persist", func() error {
			return s.persist(ctx, req, res)
		})
		if err != nil {
			return nil, err
		}
		res.Persisted = true
	}

	res.Stages = runner.Timings()
	res.RuntimeMs = time.Since(startTime).Milliseconds()
	s.logger.Info("run complete", "run_id", res.RunID, "runtime_ms", res.RuntimeMs)
	return res, nil
}

// resolveContrast maps every sample to its design level, reference first.
func resolveContrast(d expression.Design, md *expression.SampleMetadata) (contrast, error) {
	values, levels, err := d.Levels(md)
	if err != nil {
		return contrast{}, err
	}
	index := make(map[string]int, len(levels))
	for i, lvl := range levels {
		index[lvl] = i
	}
	groups := make([]int, len(values))
	for j, v := range values {
		groups[j] = index[v]
	}
	return contrast{groups: groups, numLevels: len(levels), numerator: index[d.Numerator]}, nil
}

// assembleTable applies independent filtering and BH adjustment, then orders the
// records by raw p-value.
func assembleTable(d expression.Design, a config.AnalysisConfig, results []expression.DEResult) *expression.DETable {
	baseMeans := make([]float64, len(results))
	pvals := make([]float64, len(results))
	nonConverged := 0
	for i, r := range results {
		baseMeans[i] = r.BaseMean
		pvals[i] = r.PValue
		if !r.Converged {
			nonConverged++
		}
	}

	filter := multitest.IndependentFilter(baseMeans, pvals, a.SignificanceLevel, a.FilterQuantiles, a.MaxFilterQuantile)
	for i := range results {
		results[i].PAdj = filter.PAdj[i]
	}
	expression.SortByPValue(results)

	return &expression.DETable{
		Design:          d,
		Test:            a.Test,
		Results:         results,
		FilterQuantile:  filter.Quantile,
		FilterThreshold: filter.Threshold,
		NonConverged:    nonConverged,
		Filtered:        filter.Filtered,
	}
}

// OverRepresentation tests the collection against the genes significant at alpha,
// using every tested gene as the universe.
func (s *PipelineService) OverRepresentation(results []expression.DEResult, collection *genesets.Collection, cfg config.EnrichmentConfig, alpha float64) *genesets.Table {
	universe := make([]string, len(results))
	var query []string
	for i, r := range results {
		universe[i] = r.GeneID
		if r.Significant(alpha) {
			query = append(query, r.GeneID)
		}
	}
	return enrichment.OverRepresentation(query, universe, collection, enrichment.ORAOptions{
		MinSetSize: cfg.MinSetSize,
		MaxSetSize: cfg.MaxSetSize,
		Logger:     s.logger,
	})
}

// RankEnrichment runs rank-based enrichment along the signed test statistic.
func (s *PipelineService) RankEnrichment(ctx context.Context, results []expression.DEResult, test glm.Test, collection *genesets.Collection, cfg config.EnrichmentConfig, workers int) (*genesets.Table, error) {
	return enrichment.GeneSetEnrichment(ctx, Ranking(results, test), collection, enrichment.GSEAOptions{
		Permutations: cfg.Permutations,
		Seed:         cfg.Seed,
		Weight:       cfg.Weight,
		MinSetSize:   cfg.MinSetSize,
		MaxSetSize:   cfg.MaxSetSize,
		Workers:      workers,
		RNG:          s.rng,
		Logger:       s.logger,
	})
}

// Ranking scores genes by their signed test statistic. Likelihood-ratio statistics
// are unsigned, so they are ranked by sign(lfc)·√stat. Genes without a statistic
// are left out.
func Ranking(results []expression.DEResult, test glm.Test) []genesets.RankedGene {
	ranking := make([]genesets.RankedGene, 0, len(results))
	for _, r := range results {
		if expression.IsNA(r.Stat) {
			continue
		}
		score := r.Stat
		if test == glm.TestLRT {
			score = math.Copysign(math.Sqrt(math.Max(r.Stat, 0)), r.Log2FoldChange)
		}
		ranking = append(ranking, genesets.RankedGene{GeneID: r.GeneID, Score: score})
	}
	return ranking
}

// export writes every result table into dir and returns the written paths.
func (s *PipelineService) export(dir string, res *RunResult, workbook bool) ([]string, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, errors.Wrapf(err, "failed to create output directory %s", dir)
	}

	tables := []exportTable{
		{FileDEResults, func(w io.Writer) error { return tsv.WriteDEResults(w, res.DE.Results) }},
		{FileSizeFactors, func(w io.Writer) error { return tsv.WriteSizeFactors(w, res.SampleIDs, res.SizeFactors) }},
		{FileDispersions, func(w io.Writer) error { return tsv.WriteDispersions(w, res.Dispersions) }},
		{FileNormalized, func(w io.Writer) error {
			return tsv.WriteMatrix(w, "gene_id", res.GeneIDs, res.SampleIDs, res.Normalized)
		}},
		{FileVST, func(w io.Writer) error { return tsv.WriteMatrix(w, "gene_id", res.GeneIDs, res.SampleIDs, res.VST) }},
		{FileSampleDistances, func(w io.Writer) error {
			return tsv.WriteMatrix(w, "sample_id", res.SampleIDs, res.SampleIDs, res.Distances)
		}},
		{FileORA, func(w io.Writer) error { return tsv.WriteEnrichment(w, res.ORA) }},
		{FileGSEA, func(w io.Writer) error { return tsv.WriteEnrichment(w, res.GSEA) }},
	}
	if res.PCA != nil {
		tables = append(tables, exportTable{FilePCA, func(w io.Writer) error {
			return tsv.WriteMatrix(w, "sample_id", res.SampleIDs, componentNames(len(res.PCA.VarianceExplained)), res.PCA.Scores)
		}})
	}

	var files []string
	for _, t := range tables {
		path := filepath.Join(dir, t.name)
		if err := tsv.WriteFile(path, t.write); err != nil {
			return files, errors.Wrapf(err, "failed to export %s", t.name)
		}
		files = append(files, path)
	}

	if workbook {
		path := filepath.Join(dir, FileWorkbook)
		if err := excel.WriteWorkbook(path, workbookSheets(res)); err != nil {
			return files, errors.Wrap(err, "failed to export workbook")
		}
		files = append(files, path)
	}

	s.logger.Info("results exported", "dir", dir, "files", len(files))
	return files, nil
}

type exportTable struct {
	name  string
	write func(w io.Writer) error
}

func componentNames(n int) []string {
	names := make([]string, n)
	for k := range names {
		names[k] = "PC" + strconv.Itoa(k+1)
	}
	return names
}

func workbookSheets(res *RunResult) []excel.Sheet {
	de := excel.Sheet{Name: "de_results", Header: tsv.DEHeader}
	for _, r := range res.DE.Results {
		de.Rows = append(de.Rows, []interface{}{
			r.GeneID, cell(r.BaseMean), cell(r.Log2FoldChange), cell(r.LfcSE), cell(r.Stat), cell(r.PValue), cell(r.PAdj),
		})
	}

	sf := excel.Sheet{Name: "size_factors", Header: []string{"sample_id", "size_factor"}}
	for j, id := range res.SampleIDs {
		sf.Rows = append(sf.Rows, []interface{}{id, res.SizeFactors[j]})
	}

	sheets := []excel.Sheet{de, sf}
	for _, t := range []*genesets.Table{res.ORA, res.GSEA} {
		if t == nil {
			continue
		}
		sheet := excel.Sheet{Name: string(t.Mode), Header: tsv.EnrichmentHeader}
		for _, r := range t.Results {
			sheet.Rows = append(sheet.Rows, []interface{}{
				r.Name, r.Overlap, r.SetSize, cell(r.Score), cell(r.NormalizedScore), cell(r.PValue), cell(r.PAdj),
				strings.Join(r.Genes, ","),
			})
		}
		sheets = append(sheets, sheet)
	}
	return sheets
}

// cell converts NA to the exported text marker; excelize cannot store NaN.
func cell(v float64) interface{} {
	if expression.IsNA(v) {
		return tsv.NA
	}
	return v
}

func (s *PipelineService) persist(ctx context.Context, req RunRequest, res *RunResult) error {
	record := ports.RunRecord{
		ID:           res.RunID,
		CreatedAt:    time.Now().UTC(),
		Design:       req.Design,
		Test:         req.Analysis.Test,
		SettingsHash: res.SettingsHash,
		Genes:        res.Summary.Tested,
		Significant:  res.Summary.Up + res.Summary.Down,
		Up:           res.Summary.Up,
		Down:         res.Summary.Down,
		OutputDir:    req.OutputDir,
	}
	var tables []*genesets.Table
	for _, t := range []*genesets.Table{res.ORA, res.GSEA} {
		if t != nil {
			tables = append(tables, t)
		}
	}
	if err := s.store.SaveRun(ctx, record, res.DE.Results, tables...); err != nil {
		return errors.Wrapf(err, "failed to persist run %s", res.RunID)
	}
	s.logger.Info("run persisted", "run_id", res.RunID)
	return nil
}

// settingsHash fingerprints every setting that influences the results.
func settingsHash(req RunRequest) core.Hash {
	a, e := req.Analysis, req.Enrichment
	return core.ComputeSettingsHash(map[string]string{
		"design":              req.Design.String(),
		"count_threshold":     strconv.FormatInt(a.CountThreshold, 10),
		"significance_level":  strconv.FormatFloat(a.SignificanceLevel, 'g', -1, 64),
		"test":                a.Test,
		"fit_type":            a.FitType,
		"trend_max_iter":      strconv.Itoa(a.TrendMaxIter),
		"min_prior_variance":  strconv.FormatFloat(a.MinPriorVariance, 'g', -1, 64),
		"outlier_sd":          strconv.FormatFloat(a.OutlierSD, 'g', -1, 64),
		"filter_quantiles":    strconv.Itoa(a.FilterQuantiles),
		"max_filter_quantile": strconv.FormatFloat(a.MaxFilterQuantile, 'g', -1, 64),
		"permutations":        strconv.Itoa(e.Permutations),
		"seed":                strconv.FormatInt(e.Seed, 10),
		"min_set_size":        strconv.Itoa(e.MinSetSize),
		"max_set_size":        strconv.Itoa(e.MaxSetSize),
		"weight":              strconv.FormatFloat(e.Weight, 'g', -1, 64),
	})
}

package app

import (
	"github.com/charmbracelet/log"

	gsfiles "rnadiff/adapters/genesets"
	"rnadiff/adapters/tsv"
	"rnadiff/domain/expression"
	"rnadiff/domain/genesets"
	"rnadiff/internal/config"
)

// Inputs are the tables a pipeline run reads from disk
type Inputs struct {
	Counts   *expression.CountMatrix
	Metadata *expression.SampleMetadata
	GeneSets *genesets.Collection
}

// LoadInputs reads the count table, the sample table and, when patterns are
// configured, the gene-set collections.
func LoadInputs(cfg *config.Config, logger *log.Logger) (*Inputs, error) {
	delim := cfg.DelimiterRune()

	counts, err := tsv.LoadCounts(cfg.Input.CountsFile, delim, logger)
	if err != nil {
		return nil, err
	}
	metadata, err := tsv.LoadMetadata(cfg.Input.MetadataFile, delim, logger)
	if err != nil {
		return nil, err
	}

	in := &Inputs{Counts: counts, Metadata: metadata}
	if len(cfg.Input.GeneSetFiles) > 0 {
		in.GeneSets, err = LoadGeneSets(cfg.Input.GeneSetFiles, cfg.Input.GeneSetCache, logger)
		if err != nil {
			return nil, err
		}
	}
	return in, nil
}

// LoadGeneSets merges every collection matching patterns. A non-empty cachePath
// enables the parsed-collection cache.
func LoadGeneSets(patterns []string, cachePath string, logger *log.Logger) (*genesets.Collection, error) {
	var cache *gsfiles.BoltCache
	if cachePath != "" {
		c, err := gsfiles.NewBoltCache(cachePath)
		if err != nil {
			return nil, err
		}
		defer c.Close()
		cache = c
	}
	return gsfiles.NewLoader(cache, logger).Load(patterns)
}

// RequestFromConfig builds a run request for loaded inputs.
func RequestFromConfig(cfg *config.Config, in *Inputs) RunRequest {
	return RunRequest{
		Counts:   in.Counts,
		Metadata: in.Metadata,
		GeneSets: in.GeneSets,
		Design: expression.Design{
			Factor:      cfg.Design.Factor,
			Numerator:   cfg.Design.Numerator,
			Denominator: cfg.Design.Denominator,
		},
		Analysis:   cfg.Analysis,
		Enrichment: cfg.Enrichment,
		OutputDir:  cfg.Output.Dir,
		Workbook:   cfg.Output.Workbook,
	}
}

// Package normalize computes median-of-ratios size factors and normalized counts.
package normalize

import (
	"fmt"
	"math"

	"github.com/charmbracelet/log"
	"github.com/montanaflynn/stats"

	"rnadiff/domain/expression"
	"rnadiff/internal/errors"
	"rnadiff/internal/logging"
)

// SizeFactors estimates one scaling factor per sample. Each gene's pseudo-reference
// is the geometric mean of its counts; genes with a zero in any sample are left out
// of the reference. A sample's factor is the median ratio of its counts to the
// references, and the factors are rescaled to a geometric mean of 1.
func SizeFactors(m *expression.CountMatrix, logger *log.Logger) (expression.SizeFactors, error) {
	logger = logging.Component(logger, "Normalize")

	nSamples := m.NumSamples()
	if nSamples == 0 {
		return nil, errors.InsufficientData("count matrix has no samples")
	}

	logGeoMeans := make([]float64, 0, m.NumGenes())
	reference := make([]int, 0, m.NumGenes())
	for i, row := range m.Counts {
		sum := 0.0
		valid := true
		for _, c := range row {
			if c == 0 {
				valid = false
				break
			}
			sum += math.Log(float64(c))
		}
		if valid {
			logGeoMeans = append(logGeoMeans, sum/float64(nSamples))
			reference = append(reference, i)
		}
	}
	if len(reference) == 0 {
		return nil, errors.InsufficientData(fmt.Sprintf(
			"no reference genes for size factors: all %d genes have a zero count in at least one sample", m.NumGenes()))
	}

	factors := make(expression.SizeFactors, nSamples)
	ratios := make([]float64, len(reference))
	logSum := 0.0
	for j := 0; j < nSamples; j++ {
		for k, i := range reference {
			ratios[k] = math.Log(float64(m.Counts[i][j])) - logGeoMeans[k]
		}
		median, err := stats.Median(ratios)
		if err != nil {
			return nil, errors.Wrapf(err, "median ratio for sample %s", m.SampleIDs[j])
		}
		factors[j] = math.Exp(median)
		logSum += median
	}

	// rescale to geometric mean 1
	shift := math.Exp(logSum / float64(nSamples))
	for j := range factors {
		factors[j] /= shift
	}

	logger.Debug("size factors computed", "samples", nSamples, "reference_genes", len(reference))
	return factors, nil
}

// NormalizedCounts divides each count by its sample's size factor.
func NormalizedCounts(m *expression.CountMatrix, sf expression.SizeFactors) [][]float64 {
	out := make([][]float64, m.NumGenes())
	for i, row := range m.Counts {
		norm := make([]float64, len(row))
		for j, c := range row {
			norm[j] = float64(c) / sf[j]
		}
		out[i] = norm
	}
	return out
}

// BaseMeans returns the mean normalized count of every gene.
func BaseMeans(normalized [][]float64) []float64 {
	means := make([]float64, len(normalized))
	for i, row := range normalized {
		sum := 0.0
		for _, v := range row {
			sum += v
		}
		means[i] = sum / float64(len(row))
	}
	return means
}

package testkit

import (
	"testing"
)

func TestCountGenerator_Deterministic(t *testing.T) {
	cfg := DefaultCountConfig()
	cfg.Genes = 50

	a := NewCountGenerator(cfg).Generate()
	b := NewCountGenerator(cfg).Generate()

	for i := range a.Counts.Counts {
		for j := range a.Counts.Counts[i] {
			if a.Counts.Counts[i][j] != b.Counts.Counts[i][j] {
				t.Fatalf("count [%d][%d] differs between identical seeds", i, j)
			}
		}
	}
	if err := a.Counts.Validate(); err != nil {
		t.Fatalf("generated matrix is invalid: %v", err)
	}
	if len(a.DEGenes) != 5 {
		t.Errorf("Expected 5 DE genes, got %d", len(a.DEGenes))
	}
}

func TestCountGenerator_NegativeBinomialMoments(t *testing.T) {
	g := NewCountGenerator(CountGeneratorConfig{Seed: 3})
	const (
		n     = 20000
		mean  = 40.0
		alpha = 0.2
	)
	sum, sumSq := 0.0, 0.0
	for i := 0; i < n; i++ {
		v := float64(g.NegativeBinomial(mean, alpha))
		sum += v
		sumSq += v * v
	}
	m := sum / n
	variance := sumSq/n - m*m
	wantVar := mean + alpha*mean*mean

	if m < mean*0.95 || m > mean*1.05 {
		t.Errorf("Expected mean near %.1f, got %.2f", mean, m)
	}
	if variance < wantVar*0.85 || variance > wantVar*1.15 {
		t.Errorf("Expected variance near %.1f, got %.2f", wantVar, variance)
	}
}

package testkit

import (
	"context"

	"github.com/stretchr/testify/mock"

	"rnadiff/domain/core"
	"rnadiff/domain/expression"
	"rnadiff/domain/genesets"
	"rnadiff/ports"
)

// MockResultStore is a testify mock of ports.ResultStore
type MockResultStore struct {
	mock.Mock
}

var _ ports.ResultStore = (*MockResultStore)(nil)

func (m *MockResultStore) SaveRun(ctx context.Context, run ports.RunRecord, de []expression.DEResult, enrichment ...*genesets.Table) error {
	args := m.Called(ctx, run, de, enrichment)
	return args.Error(0)
}

func (m *MockResultStore) ListRuns(ctx context.Context) ([]ports.RunRecord, error) {
	args := m.Called(ctx)
	runs, _ := args.Get(0).([]ports.RunRecord)
	return runs, args.Error(1)
}

func (m *MockResultStore) GetRun(ctx context.Context, id core.RunID) (*ports.RunRecord, error) {
	args := m.Called(ctx, id)
	run, _ := args.Get(0).(*ports.RunRecord)
	return run, args.Error(1)
}

func (m *MockResultStore) GetDEResults(ctx context.Context, id core.RunID, maxPAdj float64) ([]expression.DEResult, error) {
	args := m.Called(ctx, id, maxPAdj)
	results, _ := args.Get(0).([]expression.DEResult)
	return results, args.Error(1)
}

func (m *MockResultStore) GetEnrichment(ctx context.Context, id core.RunID, mode genesets.Mode) ([]genesets.Result, error) {
	args := m.Called(ctx, id, mode)
	results, _ := args.Get(0).([]genesets.Result)
	return results, args.Error(1)
}

func (m *MockResultStore) Close() error {
	args := m.Called()
	return args.Error(0)
}

package excel

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rnadiff/internal/errors"
)

func TestWorkbookRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "counts.xlsx")
	err := WriteWorkbook(path, []Sheet{
		{
			Name:   "counts",
			Header: []string{"gene_id", "s1", "s2"},
			Rows: [][]interface{}{
				{"ENSG1", 10, 20},
				{"ENSG2", 0, 5},
			},
		},
		{Name: "notes", Header: []string{"key"}, Rows: [][]interface{}{{"ignored"}}},
	})
	require.NoError(t, err)

	reader := NewDataReader(path, 0, nil)
	assert.True(t, reader.IsWorkbook())

	rows, err := reader.ReadRows()
	require.NoError(t, err)
	assert.Equal(t, [][]string{
		{"gene_id", "s1", "s2"},
		{"ENSG1", "10", "20"},
		{"ENSG2", "0", "5"},
	}, rows)
}

func TestReadRows_Delimited(t *testing.T) {
	path := filepath.Join(t.TempDir(), "samples.csv")
	require.NoError(t, os.WriteFile(path, []byte("sample,condition\n# comment\ns1, control\ns2,treated\n"), 0644))

	rows, err := NewDataReader(path, ',', nil).ReadRows()
	require.NoError(t, err)
	assert.Equal(t, []string{"s1", "control"}, rows[1])
	assert.Len(t, rows, 3)
}

func TestReadRows_Errors(t *testing.T) {
	_, err := NewDataReader(filepath.Join(t.TempDir(), "missing.tsv"), '\t', nil).ReadRows()
	require.Error(t, err)
	assert.Equal(t, errors.CodeInvalidInput, errors.GetCode(err))

	path := filepath.Join(t.TempDir(), "header.tsv")
	require.NoError(t, os.WriteFile(path, []byte("gene_id\ts1\n"), 0644))
	_, err = NewDataReader(path, '\t', nil).ReadRows()
	require.Error(t, err)
	assert.Equal(t, errors.CodeInvalidInput, errors.GetCode(err))
}

func TestReadDelimited_RaggedRows(t *testing.T) {
	_, err := ReadDelimited(strings.NewReader("a\tb\n1\n"), '\t')
	require.Error(t, err)
	assert.Equal(t, errors.CodeInvalidInput, errors.GetCode(err))
}

// Package genesets reads gene-set collections from GMT and JSON files, expands
// glob patterns over collection directories and caches parsed files in bbolt.
package genesets

import (
	"bufio"
	"fmt"
	"io"
	"strings"

	"rnadiff/domain/genesets"
	"rnadiff/internal/errors"
)

// ParseGMT reads the tab-separated GMT format: name, description, then member ids.
func ParseGMT(r io.Reader, source string) (*genesets.Collection, error) {
	collection := &genesets.Collection{Source: source}
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 16*1024*1024)

	line := 0
	for scanner.Scan() {
		line++
		text := strings.TrimRight(scanner.Text(), "\r")
		if strings.TrimSpace(text) == "" || strings.HasPrefix(text, "#") {
			continue
		}
		fields := strings.Split(text, "\t")
		if len(fields) < 2 || fields[0] == "" {
			return nil, errors.InvalidInput(fmt.Sprintf("%s line %d: expected name, description and genes", source, line))
		}
		set := genesets.GeneSet{Name: fields[0], Description: fields[1]}
		for _, g := range fields[2:] {
			if g = strings.TrimSpace(g); g != "" {
				set.Genes = append(set.Genes, g)
			}
		}
		collection.Sets = append(collection.Sets, set)
	}
	if err := scanner.Err(); err != nil {
		return nil, errors.WithCode(errors.CodeInvalidInput, fmt.Errorf("failed to read %s: %w", source, err))
	}
	return collection, nil
}

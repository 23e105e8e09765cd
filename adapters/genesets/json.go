package genesets

import (
	"fmt"

	"github.com/tidwall/gjson"

	"rnadiff/domain/genesets"
	"rnadiff/internal/errors"
)

// ParseJSON reads a JSON object keyed by set name. Each value is either an array
// of gene ids or an object with a "geneSymbols" (MSigDB export) or "genes" array and
// an optional "description".
func ParseJSON(data []byte, source string) (*genesets.Collection, error) {
	if !gjson.ValidBytes(data) {
		return nil, errors.InvalidInput(fmt.Sprintf("%s is not valid JSON", source))
	}
	root := gjson.ParseBytes(data)
	if !root.IsObject() {
		return nil, errors.InvalidInput(fmt.Sprintf("%s: expected an object of gene sets", source))
	}

	collection := &genesets.Collection{Source: source}
	var parseErr error
	root.ForEach(func(key, value gjson.Result) bool {
		set := genesets.GeneSet{Name: key.String()}
		members := value
		if value.IsObject() {
			members = value.Get("geneSymbols")
			if !members.Exists() {
				members = value.Get("genes")
			}
			set.Description = value.Get("description").String()
		}
		if !members.IsArray() {
			parseErr = errors.InvalidInput(fmt.Sprintf("%s: set %s has no gene array", source, set.Name))
			return false
		}
		for _, g := range members.Array() {
			if id := g.String(); id != "" {
				set.Genes = append(set.Genes, id)
			}
		}
		collection.Sets = append(collection.Sets, set)
		return true
	})
	if parseErr != nil {
		return nil, parseErr
	}
	return collection, nil
}

// Package dataset loads declarative dataset files and converts them into graph datasets.
package dataset

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"sigs.k8s.io/yaml"

	"github.com/dsrkit/dsrkit/pkg/graph"
	"github.com/dsrkit/dsrkit/pkg/masking"
	"github.com/dsrkit/dsrkit/pkg/partition"
)

var ErrInvalidDataset = errors.New("invalid dataset")

// File is the top-level document of a dataset file.
type File struct {
	Dataset []Dataset `json:"dataset"`
}

type Dataset struct {
	FidesKey     string       `json:"fides_key"`
	Name         string       `json:"name,omitempty"`
	Description  string       `json:"description,omitempty"`
	ConnectorKey string       `json:"connector_key,omitempty"`
	FidesMeta    *DatasetMeta `json:"fides_meta,omitempty"`
	Collections  []Collection `json:"collections"`
}

type DatasetMeta struct {
	After []string `json:"after,omitempty"`
}

type Collection struct {
	Name      string          `json:"name"`
	FidesMeta *CollectionMeta `json:"fides_meta,omitempty"`
	Fields    []Field         `json:"fields"`
}

type CollectionMeta struct {
	// After and EraseAfter entries are "dataset.collection".
	After                   []string         `json:"after,omitempty"`
	EraseAfter              []string         `json:"erase_after,omitempty"`
	Partitioning            []partition.Spec `json:"partitioning,omitempty"`
	MaskingStrategyOverride *masking.Config  `json:"masking_strategy_override,omitempty"`
}

type Field struct {
	Name           string     `json:"name"`
	DataCategories []string   `json:"data_categories,omitempty"`
	FidesMeta      *FieldMeta `json:"fides_meta,omitempty"`
	Fields         []Field    `json:"fields,omitempty"`
}

type FieldMeta struct {
	Identity                string          `json:"identity,omitempty"`
	PrimaryKey              bool            `json:"primary_key,omitempty"`
	DataType                string          `json:"data_type,omitempty"`
	Length                  int             `json:"length,omitempty"`
	References              []FieldRef      `json:"references,omitempty"`
	MaskingStrategyOverride *masking.Config `json:"masking_strategy_override,omitempty"`
}

// FieldRef points at "collection.field.path" in dataset.
type FieldRef struct {
	Dataset   string `json:"dataset"`
	Field     string `json:"field"`
	Direction string `json:"direction,omitempty"`
}

// Parse decodes a YAML or JSON dataset file.
func Parse(data []byte) ([]*graph.GraphDataset, error) {
	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidDataset, err)
	}

	out := make([]*graph.GraphDataset, 0, len(f.Dataset))
	for _, ds := range f.Dataset {
		gd, err := ds.ToGraph()
		if err != nil {
			return nil, err
		}
		out = append(out, gd)
	}
	return out, nil
}

// LoadFiles parses each file in order and concatenates the datasets.
func LoadFiles(paths ...string) ([]*graph.GraphDataset, error) {
	var out []*graph.GraphDataset
	for _, path := range paths {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		datasets, err := Parse(data)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", path, err)
		}
		out = append(out, datasets...)
	}
	return out, nil
}

// LoadDir loads every .yml and .yaml file in dir, sorted by name.
func LoadDir(dir string) ([]*graph.GraphDataset, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}

	var paths []string
	for _, e := range entries {
		ext := strings.ToLower(filepath.Ext(e.Name()))
		if e.IsDir() || (ext != ".yml" && ext != ".yaml") {
			continue
		}
		paths = append(paths, filepath.Join(dir, e.Name()))
	}
	sort.Strings(paths)
	return LoadFiles(paths...)
}

// ToGraph converts the dataset. The connector key defaults to the fides key.
func (d Dataset) ToGraph() (*graph.GraphDataset, error) {
	if d.FidesKey == "" {
		return nil, fmt.Errorf("%w: fides_key is required", ErrInvalidDataset)
	}

	gd := &graph.GraphDataset{Name: d.FidesKey, ConnectorKey: d.ConnectorKey}
	if gd.ConnectorKey == "" {
		gd.ConnectorKey = d.FidesKey
	}
	if d.FidesMeta != nil {
		gd.After = d.FidesMeta.After
	}

	for _, c := range d.Collections {
		gc, err := c.toGraph()
		if err != nil {
			return nil, fmt.Errorf("%w: %s.%s: %v", ErrInvalidDataset, d.FidesKey, c.Name, err)
		}
		gd.Collections = append(gd.Collections, gc)
	}
	return gd, nil
}

func (c Collection) toGraph() (*graph.Collection, error) {
	gc := &graph.Collection{Name: c.Name}

	if meta := c.FidesMeta; meta != nil {
		var err error
		if gc.After, err = parseAddresses(meta.After); err != nil {
			return nil, err
		}
		if gc.EraseAfter, err = parseAddresses(meta.EraseAfter); err != nil {
			return nil, err
		}
		gc.Partitioning = meta.Partitioning
		gc.MaskingStrategyOverride = meta.MaskingStrategyOverride
	}

	for _, f := range c.Fields {
		gf, err := f.toGraph()
		if err != nil {
			return nil, err
		}
		gc.Fields = append(gc.Fields, gf)
	}
	return gc, nil
}

// parseAddresses parses "dataset.collection" entries.
func parseAddresses(raw []string) ([]graph.CollectionAddress, error) {
	var out []graph.CollectionAddress
	for _, s := range raw {
		dataset, collection, ok := strings.Cut(s, ".")
		if !ok || dataset == "" || collection == "" {
			return nil, fmt.Errorf("invalid collection reference %q, expected dataset.collection", s)
		}
		out = append(out, graph.NewCollectionAddress(dataset, collection))
	}
	return out, nil
}

func (f Field) toGraph() (*graph.Field, error) {
	gf := &graph.Field{Name: f.Name, DataCategories: f.DataCategories}

	if meta := f.FidesMeta; meta != nil {
		dataType, err := graph.ParseDataType(meta.DataType)
		if err != nil {
			return nil, err
		}
		gf.Identity = meta.Identity
		gf.PrimaryKey = meta.PrimaryKey
		gf.DataType = dataType
		gf.Length = meta.Length
		gf.MaskingStrategyOverride = meta.MaskingStrategyOverride

		for _, ref := range meta.References {
			direction, err := graph.ParseDirection(ref.Direction)
			if err != nil {
				return nil, err
			}
			collection, path, ok := strings.Cut(ref.Field, ".")
			if !ok || ref.Dataset == "" || collection == "" || path == "" {
				return nil, fmt.Errorf("field %q: invalid reference %s.%s", f.Name, ref.Dataset, ref.Field)
			}
			gf.References = append(gf.References, graph.Reference{
				Target:    graph.FieldAddress{Collection: graph.NewCollectionAddress(ref.Dataset, collection), Path: graph.ParseFieldPath(path)},
				Direction: direction,
			})
		}
	}

	if len(f.Fields) > 0 || gf.DataType == graph.ObjectType {
		gf.Kind = graph.ObjectField
	}
	for _, nested := range f.Fields {
		child, err := nested.toGraph()
		if err != nil {
			return nil, err
		}
		gf.Fields = append(gf.Fields, child)
	}
	return gf, nil
}

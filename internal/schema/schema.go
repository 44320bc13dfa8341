// Package schema describes the typed layout of a document collection and the
// similarity index built over its vector field.
package schema

import (
	"errors"
	"fmt"
	"os"
	"unicode/utf8"

	"gopkg.in/yaml.v3"

	"github.com/DeafMist/semantic-news/backend/internal/models"
)

// DataType is the storage type of a collection field.
type DataType string

const (
	VarChar     DataType = "VARCHAR"
	FloatVector DataType = "FLOAT_VECTOR"
	Float       DataType = "FLOAT"
)

// Field names of the document collection.
const (
	FieldID            = "id"
	FieldTitle         = "title"
	FieldVector        = "vector"
	FieldSnippet       = "snippet"
	FieldPublishedDate = "published_date"
)

// Field is a single typed column of the collection.
type Field struct {
	Name      string   `yaml:"name"`
	Type      DataType `yaml:"type"`
	Primary   bool     `yaml:"primary,omitempty"`
	MaxLength int      `yaml:"max_length,omitempty"`
	Dim       int      `yaml:"dim,omitempty"`
}

// Index describes the similarity index over the vector field.
type Index struct {
	Field          string `yaml:"field"`
	Metric         string `yaml:"metric"`
	Type           string `yaml:"type"`
	M              int    `yaml:"m,omitempty"`
	EfConstruction int    `yaml:"ef_construction,omitempty"`
}

// Schema is the collection layout.
type Schema struct {
	Description string  `yaml:"description"`
	Fields      []Field `yaml:"fields"`
	Index       Index   `yaml:"index"`
}

// MaxIDBytes is the longest document id the store accepts, in bytes.
const MaxIDBytes = 512

// FieldError reports a document value that does not fit the schema.
type FieldError struct {
	DocumentID string
	Field      string
	Reason     string
}

func (e *FieldError) Error() string {
	return fmt.Sprintf("document %q field %s: %s", e.DocumentID, e.Field, e.Reason)
}

// Default returns the news collection schema: string id up to 512 bytes,
// title up to 1000 chars, vector of dimension dim, snippet up to 10000 chars and a float
// published date.
func Default(name string, dim int, metric, indexType string) *Schema {
	return &Schema{
		Description: name + "_schema",
		Fields: []Field{
			{Name: FieldID, Type: VarChar, Primary: true, MaxLength: MaxIDBytes},
			{Name: FieldVector, Type: FloatVector, Dim: dim},
			{Name: FieldSnippet, Type: VarChar, MaxLength: 10000},
			{Name: FieldPublishedDate, Type: Float},
			{Name: FieldTitle, Type: VarChar, MaxLength: 1000},
		},
		Index: Index{
			Field:          FieldVector,
			Metric:         metric,
			Type:           indexType,
			M:              16,
			EfConstruction: 100,
		},
	}
}

// LoadFile reads a schema from a YAML file and verifies it.
func LoadFile(path string) (*Schema, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read schema file: %w", err)
	}

	var s Schema
	if err := yaml.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("parse schema file: %w", err)
	}
	if err := s.Verify(); err != nil {
		return nil, err
	}
	return &s, nil
}

// Resolve loads the schema file at path, or builds the default schema when
// path is empty. A file whose vector dimension differs from dim is rejected.
func Resolve(path, name string, dim int, metric, indexType string) (*Schema, error) {
	if path == "" {
		return Default(name, dim, metric, indexType), nil
	}
	s, err := LoadFile(path)
	if err != nil {
		return nil, err
	}
	if got := s.Dimension(); got != dim {
		return nil, fmt.Errorf("schema: vector dim %d does not match embedding dimension %d", got, dim)
	}
	return s, nil
}

// Verify checks that the schema has the fields documents are written with and
// that the index refers to the vector field.
func (s *Schema) Verify() error {
	seen := make(map[string]Field, len(s.Fields))
	primaries := 0
	for _, f := range s.Fields {
		if f.Name == "" {
			return errors.New("schema: field without name")
		}
		if _, dup := seen[f.Name]; dup {
			return fmt.Errorf("schema: duplicate field %s", f.Name)
		}
		seen[f.Name] = f
		if f.Primary {
			primaries++
		}
	}
	if primaries != 1 {
		return fmt.Errorf("schema: expected exactly one primary field, got %d", primaries)
	}

	want := map[string]DataType{
		FieldID:            VarChar,
		FieldTitle:         VarChar,
		FieldVector:        FloatVector,
		FieldSnippet:       VarChar,
		FieldPublishedDate: Float,
	}
	for name, typ := range want {
		f, ok := seen[name]
		if !ok {
			return fmt.Errorf("schema: missing field %s", name)
		}
		if f.Type != typ {
			return fmt.Errorf("schema: field %s must be %s, got %s", name, typ, f.Type)
		}
	}
	if !seen[FieldID].Primary {
		return fmt.Errorf("schema: field %s must be primary", FieldID)
	}
	if seen[FieldVector].Dim <= 0 {
		return fmt.Errorf("schema: field %s needs a positive dim", FieldVector)
	}

	if s.Index.Field != FieldVector {
		return fmt.Errorf("schema: index must be defined on %s", FieldVector)
	}
	if s.Index.Metric == "" || s.Index.Type == "" {
		return errors.New("schema: index metric and type are required")
	}
	return nil
}

// Field returns the named field.
func (s *Schema) Field(name string) (Field, bool) {
	for _, f := range s.Fields {
		if f.Name == name {
			return f, true
		}
	}
	return Field{}, false
}

// Dimension returns the vector field dimension.
func (s *Schema) Dimension() int {
	f, _ := s.Field(FieldVector)
	return f.Dim
}

// ValidateDocument checks length limits and vector dimension. Text limits
// count characters, except the id which is capped at MaxIDBytes bytes
// whatever the schema says.
func (s *Schema) ValidateDocument(doc models.Document) error {
	if doc.ID == "" {
		return &FieldError{Field: FieldID, Reason: "empty primary key"}
	}
	if n := len(doc.ID); n > MaxIDBytes {
		return &FieldError{
			DocumentID: doc.ID,
			Field:      FieldID,
			Reason:     fmt.Sprintf("%d bytes exceeds the %d byte id limit", n, MaxIDBytes),
		}
	}

	strs := map[string]string{
		FieldID:      doc.ID,
		FieldTitle:   doc.Title,
		FieldSnippet: doc.Snippet,
	}
	for name, value := range strs {
		f, ok := s.Field(name)
		if !ok || f.MaxLength <= 0 {
			continue
		}
		if n := utf8.RuneCountInString(value); n > f.MaxLength {
			return &FieldError{
				DocumentID: doc.ID,
				Field:      name,
				Reason:     fmt.Sprintf("length %d exceeds max_length %d", n, f.MaxLength),
			}
		}
	}

	if dim := s.Dimension(); len(doc.Vector) != dim {
		return &FieldError{
			DocumentID: doc.ID,
			Field:      FieldVector,
			Reason:     fmt.Sprintf("dimension %d, want %d", len(doc.Vector), dim),
		}
	}
	return nil
}

// ValidateDocuments validates every document and stops on the first error.
func (s *Schema) ValidateDocuments(docs []models.Document) error {
	for _, doc := range docs {
		if err := s.ValidateDocument(doc); err != nil {
			return err
		}
	}
	return nil
}

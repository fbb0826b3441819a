package pipeline

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/ppiankov/refcheck/internal/model"
	"gopkg.in/yaml.v3"
)

// ErrNoRows is returned when a job has no statement rows
var ErrNoRows = errors.New("job has no rows")

// Job is a validation job manifest
type Job struct {
	Name          string           `yaml:"name" json:"name" validate:"required"`
	Mode          string           `yaml:"mode,omitempty" json:"mode,omitempty" validate:"omitempty,oneof=research pharmaceutical pharma"`
	Rows          []model.InputRow `yaml:"rows,omitempty" json:"rows,omitempty"`
	RowsFile      string           `yaml:"rows_file,omitempty" json:"rows_file,omitempty"`           // JSON or YAML list of rows
	ReferencesDir string           `yaml:"references_dir,omitempty" json:"references_dir,omitempty"` // Reference documents, one file each
	ReferenceURLs []string         `yaml:"reference_urls,omitempty" json:"reference_urls,omitempty" validate:"omitempty,dive,url"`

	dir string // Manifest directory, base for relative paths
}

var jobValidate = validator.New()

// LoadJob reads a YAML or JSON job manifest
func LoadJob(path string) (*Job, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read manifest: %w", err)
	}

	var job Job
	if err := decode(path, data, &job); err != nil {
		return nil, fmt.Errorf("parse manifest %s: %w", path, err)
	}
	if job.Name == "" {
		job.Name = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	}
	job.dir = filepath.Dir(path)

	if err := jobValidate.Struct(&job); err != nil {
		return nil, fmt.Errorf("invalid manifest %s: %w", path, err)
	}
	return &job, nil
}

// NewJob builds a job in memory; relative paths resolve against the working directory
func NewJob(name string, rows []model.InputRow, referencesDir string) *Job {
	return &Job{Name: name, Rows: rows, ReferencesDir: referencesDir, dir: "."}
}

// LoadRows returns the inline rows followed by the rows file's rows
func (j *Job) LoadRows() ([]model.InputRow, error) {
	rows := append([]model.InputRow(nil), j.Rows...)

	if j.RowsFile != "" {
		path := j.resolve(j.RowsFile)
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read rows: %w", err)
		}
		var fileRows []model.InputRow
		if err := decode(path, data, &fileRows); err != nil {
			return nil, fmt.Errorf("parse rows %s: %w", path, err)
		}
		rows = append(rows, fileRows...)
	}

	if len(rows) == 0 {
		return nil, ErrNoRows
	}
	return rows, nil
}

// LoadDocuments reads every regular, non-hidden file of the references directory, sorted by name
func (j *Job) LoadDocuments() (model.DocumentSet, error) {
	if j.ReferencesDir == "" {
		return nil, nil
	}
	dir := j.resolve(j.ReferencesDir)

	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read references: %w", err)
	}
	sort.Slice(entries, func(a, b int) bool { return entries[a].Name() < entries[b].Name() })

	var docs model.DocumentSet
	for _, e := range entries {
		if !e.Type().IsRegular() || strings.HasPrefix(e.Name(), ".") {
			continue
		}
		content, err := os.ReadFile(filepath.Join(dir, e.Name()))
		if err != nil {
			return nil, fmt.Errorf("read reference %s: %w", e.Name(), err)
		}
		docs = append(docs, model.ReferenceDocument{Name: e.Name(), Content: content})
	}
	return docs, nil
}

func (j *Job) resolve(p string) string {
	if filepath.IsAbs(p) || j.dir == "" {
		return p
	}
	return filepath.Join(j.dir, p)
}

// decode parses JSON for .json files and YAML otherwise
func decode(path string, data []byte, v any) error {
	if strings.EqualFold(filepath.Ext(path), ".json") {
		return json.Unmarshal(data, v)
	}
	return yaml.Unmarshal(data, v)
}

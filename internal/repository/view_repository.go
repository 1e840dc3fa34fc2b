package repository

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/noah-isme/tm-inbox-console/internal/models"
	appErrors "github.com/noah-isme/tm-inbox-console/pkg/errors"
)

type viewFile struct {
	Views []models.SavedView `yaml:"views"`
}

// ViewRepository persists saved views in a YAML file.
type ViewRepository struct {
	mu   sync.Mutex
	path string
}

// NewViewRepository constructs a repository backed by path.
func NewViewRepository(path string) *ViewRepository {
	return &ViewRepository{path: path}
}

// List returns saved views sorted by name. A missing file holds no views.
func (r *ViewRepository) List() ([]models.SavedView, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	file, err := r.read()
	if err != nil {
		return nil, err
	}
	return file.Views, nil
}

// Get finds a view by name.
func (r *ViewRepository) Get(name string) (models.SavedView, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	file, err := r.read()
	if err != nil {
		return models.SavedView{}, err
	}
	for _, v := range file.Views {
		if v.Name == name {
			return v, nil
		}
	}
	return models.SavedView{}, appErrors.Clone(appErrors.ErrNotFound, fmt.Sprintf("view %q not found", name))
}

// Save inserts or replaces the view with the same name.
func (r *ViewRepository) Save(view models.SavedView) error {
	view.Name = strings.TrimSpace(view.Name)
	if view.Name == "" {
		return appErrors.Clone(appErrors.ErrValidation, "view name is required")
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	file, err := r.read()
	if err != nil {
		return err
	}
	replaced := false
	for i := range file.Views {
		if file.Views[i].Name == view.Name {
			file.Views[i] = view
			replaced = true
			break
		}
	}
	if !replaced {
		file.Views = append(file.Views, view)
	}
	return r.write(file)
}

// Delete removes a view by name.
func (r *ViewRepository) Delete(name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	file, err := r.read()
	if err != nil {
		return err
	}
	kept := file.Views[:0]
	for _, v := range file.Views {
		if v.Name != name {
			kept = append(kept, v)
		}
	}
	if len(kept) == len(file.Views) {
		return appErrors.Clone(appErrors.ErrNotFound, fmt.Sprintf("view %q not found", name))
	}
	file.Views = kept
	return r.write(file)
}

func (r *ViewRepository) read() (viewFile, error) {
	var file viewFile
	raw, err := os.ReadFile(r.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return file, nil
		}
		return file, fmt.Errorf("read views %s: %w", r.path, err)
	}
	if err := yaml.Unmarshal(raw, &file); err != nil {
		return file, fmt.Errorf("parse views %s: %w", r.path, err)
	}
	sort.Slice(file.Views, func(i, j int) bool { return file.Views[i].Name < file.Views[j].Name })
	return file, nil
}

// write replaces the file atomically.
func (r *ViewRepository) write(file viewFile) error {
	sort.Slice(file.Views, func(i, j int) bool { return file.Views[i].Name < file.Views[j].Name })
	raw, err := yaml.Marshal(file)
	if err != nil {
		return fmt.Errorf("encode views: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(r.path), 0o755); err != nil {
		return fmt.Errorf("create views dir: %w", err)
	}
	tmp := r.path + ".tmp"
	if err := os.WriteFile(tmp, raw, 0o600); err != nil {
		return fmt.Errorf("write views: %w", err)
	}
	if err := os.Rename(tmp, r.path); err != nil {
		return fmt.Errorf("replace views: %w", err)
	}
	return nil
}

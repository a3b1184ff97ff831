// Package file provides file-based persistence for workflow runs, one JSON document per run.
package file

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/dukex/responder/pkg/models"
	"github.com/dukex/responder/pkg/persistence"
)

const runsDir = "runs"

// Persistence implements the persistence.Persistence interface using the file system.
type Persistence struct {
	root string
	mu   sync.RWMutex
}

// NewPersistence creates a new instance of Persistence with the specified root directory.
func NewPersistence(root string) *Persistence {
	return &Persistence{root: strings.Replace(root, "file://", "", 1)}
}

// Close performs any necessary cleanup. For file-based persistence, there is nothing to clean up.
func (fp *Persistence) Close(_ context.Context) error {
	return nil
}

// HealthCheck checks if the file persistence layer is healthy by verifying the root directory exists.
func (fp *Persistence) HealthCheck(_ context.Context) error {
	if _, err := os.Stat(fp.root); os.IsNotExist(err) {
		return os.ErrNotExist
	}

	return nil
}

// SaveRun writes the run to a temporary file and renames it over the previous snapshot, so
// readers never see a partial document.
func (fp *Persistence) SaveRun(_ context.Context, run *models.WorkflowRun) error {
	if run.ID == "" || strings.ContainsAny(run.ID, `/\`) {
		return persistence.NewRunError("Save", run.ID, errors.New("invalid run id"))
	}

	data, err := json.MarshalIndent(run, "", "  ")
	if err != nil {
		return persistence.NewRunError("Save", run.ID, err)
	}

	fp.mu.Lock()
	defer fp.mu.Unlock()

	dir := filepath.Join(fp.root, runsDir)

	err = os.MkdirAll(dir, 0o750)
	if err != nil {
		return persistence.NewRunError("Save", run.ID, err)
	}

	tmp, err := os.CreateTemp(dir, run.ID+".*.tmp")
	if err != nil {
		return persistence.NewRunError("Save", run.ID, err)
	}

	_, err = tmp.Write(data)
	if closeErr := tmp.Close(); err == nil {
		err = closeErr
	}

	if err != nil {
		_ = os.Remove(tmp.Name())

		return persistence.NewRunError("Save", run.ID, err)
	}

	err = os.Rename(tmp.Name(), fp.path(run.ID))
	if err != nil {
		_ = os.Remove(tmp.Name())

		return persistence.NewRunError("Save", run.ID, err)
	}

	return nil
}

func (fp *Persistence) RunByID(_ context.Context, id string) (*models.WorkflowRun, error) {
	fp.mu.RLock()
	defer fp.mu.RUnlock()

	return fp.load(id)
}

func (fp *Persistence) Runs(_ context.Context, opts persistence.ListRunsOptions) (*persistence.RunListResult, error) {
	err := opts.Normalize()
	if err != nil {
		return nil, err
	}

	fp.mu.RLock()
	defer fp.mu.RUnlock()

	files, err := fs.Glob(os.DirFS(filepath.Join(fp.root, runsDir)), "*.json")
	if err != nil {
		return nil, persistence.NewRunError("List", "", err)
	}

	runs := make([]*models.WorkflowRun, 0, len(files))

	for _, name := range files {
		run, err := fp.load(strings.TrimSuffix(name, ".json"))
		if err != nil {
			return nil, err
		}

		runs = append(runs, run)
	}

	return persistence.Page(runs, opts), nil
}

func (fp *Persistence) load(id string) (*models.WorkflowRun, error) {
	data, err := os.ReadFile(fp.path(id))
	if errors.Is(err, os.ErrNotExist) {
		return nil, persistence.NewRunError("Get", id, persistence.ErrRunNotFound)
	}

	if err != nil {
		return nil, persistence.NewRunError("Get", id, err)
	}

	var run models.WorkflowRun

	err = json.Unmarshal(data, &run)
	if err != nil {
		return nil, persistence.NewRunError("Get", id, fmt.Errorf("corrupt run file: %w", err))
	}

	return &run, nil
}

func (fp *Persistence) path(id string) string {
	return filepath.Join(fp.root, runsDir, filepath.Base(id)+".json")
}

// Package spoolsync drains a spool directory of envelope files dropped by
// the source pipeline and pushes them through the delivery processor.
package spoolsync

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/agentworkforce/hubrelay/internal/envelope"
)

const (
	doneDirName   = "done"
	failedDirName = "failed"
)

type Logger interface {
	Printf(format string, args ...any)
}

type Options struct {
	SpoolDir  string
	StateFile string
	Logger    Logger
}

// Drainer scans a spool directory for *.json envelope files, delivers each
// exactly once, and moves the file to done/ or failed/. Processed envelope
// IDs are tracked in a state file so a re-dropped duplicate is recognized.
//
// A drainer is single-threaded: SyncOnce and Watch must not run concurrently.
type Drainer struct {
	processor *envelope.Processor
	spoolDir  string
	doneDir   string
	failedDir string
	stateFile string
	logger    Logger

	state  drainState
	loaded bool
}

type drainState struct {
	Processed map[string]string `json:"processed"`
}

func NewDrainer(processor *envelope.Processor, opts Options) (*Drainer, error) {
	if processor == nil {
		return nil, fmt.Errorf("processor is required")
	}
	spoolDir := strings.TrimSpace(opts.SpoolDir)
	if spoolDir == "" {
		return nil, fmt.Errorf("spool dir is required")
	}
	spoolDir = filepath.Clean(spoolDir)
	stateFile := strings.TrimSpace(opts.StateFile)
	if stateFile == "" {
		stateFile = filepath.Join(spoolDir, ".hubrelay-spool-state.json")
	}
	doneDir := filepath.Join(spoolDir, doneDirName)
	failedDir := filepath.Join(spoolDir, failedDirName)
	for _, dir := range []string{spoolDir, doneDir, failedDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
	}
	return &Drainer{
		processor: processor,
		spoolDir:  spoolDir,
		doneDir:   doneDir,
		failedDir: failedDir,
		stateFile: stateFile,
		logger:    opts.Logger,
		state: drainState{
			Processed: map[string]string{},
		},
	}, nil
}

// SyncOnce drains every pending envelope file currently in the spool. A
// failing envelope is moved aside and does not stop the drain.
func (d *Drainer) SyncOnce(ctx context.Context) error {
	if err := d.loadState(); err != nil {
		return err
	}
	pending, err := d.scanSpool()
	if err != nil {
		return err
	}
	for _, name := range pending {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := d.drainFile(ctx, name); err != nil {
			return err
		}
	}
	return d.saveState()
}

func (d *Drainer) drainFile(ctx context.Context, name string) error {
	path := filepath.Join(d.spoolDir, name)
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return err
	}

	env, parseErr := envelope.Parse(data)
	if parseErr != nil {
		d.processor.Reject(ctx, env, parseErr)
		d.logf("envelope file %s invalid: %v", name, parseErr)
		return d.moveTo(d.failedDir, name, env.ID)
	}
	if _, done := d.state.Processed[env.ID]; done {
		d.logf("envelope %s already processed; skipping duplicate file %s", env.ID, name)
		return d.moveTo(d.doneDir, name, env.ID)
	}
	if deliverErr := d.processor.Deliver(ctx, env); deliverErr != nil {
		d.logf("envelope %s delivery failed: %v", env.ID, deliverErr)
		return d.moveTo(d.failedDir, name, env.ID)
	}
	d.state.Processed[env.ID] = time.Now().UTC().Format(time.RFC3339)
	return d.moveTo(d.doneDir, name, env.ID)
}

func (d *Drainer) scanSpool() ([]string, error) {
	entries, err := os.ReadDir(d.spoolDir)
	if err != nil {
		return nil, err
	}
	stateBase := filepath.Base(d.stateFile)
	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		if name == stateBase || strings.HasPrefix(name, ".") {
			continue
		}
		if !strings.HasSuffix(name, ".json") {
			continue
		}
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

func (d *Drainer) moveTo(dir, name, envelopeID string) error {
	source := filepath.Join(d.spoolDir, name)
	target := filepath.Join(dir, name)
	if _, err := os.Stat(target); err == nil {
		target = filepath.Join(dir, envelopeID+"-"+name)
	}
	return os.Rename(source, target)
}

func (d *Drainer) loadState() error {
	if d.loaded {
		return nil
	}
	d.loaded = true
	data, err := os.ReadFile(d.stateFile)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			d.state.Processed = map[string]string{}
			return nil
		}
		return err
	}
	var state drainState
	if err := json.Unmarshal(data, &state); err != nil {
		return err
	}
	if state.Processed == nil {
		state.Processed = map[string]string{}
	}
	d.state = state
	return nil
}

func (d *Drainer) saveState() error {
	data, err := json.Marshal(d.state)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(d.stateFile), 0o755); err != nil {
		return err
	}
	return writeFileAtomic(d.stateFile, data, 0o644)
}

func (d *Drainer) logf(format string, args ...any) {
	if d.logger == nil {
		return
	}
	d.logger.Printf(format, args...)
}

func writeFileAtomic(path string, data []byte, mode os.FileMode) error {
	dir := filepath.Dir(path)
	tmpFile, err := os.CreateTemp(dir, "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return err
	}
	tmpName := tmpFile.Name()
	committed := false
	defer func() {
		if !committed {
			_ = os.Remove(tmpName)
		}
	}()
	if _, err := tmpFile.Write(data); err != nil {
		_ = tmpFile.Close()
		return err
	}
	if err := tmpFile.Chmod(mode); err != nil {
		_ = tmpFile.Close()
		return err
	}
	if err := tmpFile.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmpName, path); err != nil {
		return err
	}
	committed = true
	return nil
}

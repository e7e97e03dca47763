package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"maps"
	"os"
	"path/filepath"
	"sync"
)

// FileTier keeps every field in one JSON file, optionally sealed.
// Writes replace the file through a temp file and rename.
type FileTier struct {
	name   string
	path   string
	sealer *Sealer

	mu sync.Mutex
}

// NewFileTier returns a tier backed by path. sealer may be nil.
func NewFileTier(name, path string, sealer *Sealer) *FileTier {
	return &FileTier{name: name, path: path, sealer: sealer}
}

func (f *FileTier) Name() string { return f.name }

// Path returns the backing file path.
func (f *FileTier) Path() string { return f.path }

func (f *FileTier) Get(_ context.Context, key string) (string, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	data, err := f.read()
	if err != nil {
		return "", false, err
	}
	v, ok := data[key]
	return v, ok, nil
}

func (f *FileTier) SetMany(_ context.Context, values map[string]string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	data, err := f.readOrQuarantine()
	if err != nil {
		return err
	}
	maps.Copy(data, values)
	return f.write(data)
}

func (f *FileTier) Delete(_ context.Context, keys ...string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	data, err := f.readOrQuarantine()
	if err != nil {
		return err
	}
	changed := false
	for _, k := range keys {
		if _, ok := data[k]; ok {
			delete(data, k)
			changed = true
		}
	}
	if !changed {
		return nil
	}
	return f.write(data)
}

func (f *FileTier) Snapshot(context.Context) (map[string]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.read()
}

func (f *FileTier) read() (map[string]string, error) {
	raw, err := os.ReadFile(f.path)
	if errors.Is(err, fs.ErrNotExist) {
		return make(map[string]string), nil
	}
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", f.path, err)
	}

	if f.sealer != nil {
		raw, err = f.sealer.Open(raw)
		if err != nil {
			return nil, fmt.Errorf("open %s: %w", f.path, err)
		}
	}

	data := make(map[string]string)
	if err := json.Unmarshal(raw, &data); err != nil {
		return nil, fmt.Errorf("decode %s: %w", f.path, err)
	}
	return data, nil
}

// readOrQuarantine moves an undecodable file aside so that writes can
// proceed with a fresh document.
func (f *FileTier) readOrQuarantine() (map[string]string, error) {
	data, err := f.read()
	if err == nil {
		return data, nil
	}
	if _, statErr := os.Stat(f.path); statErr != nil {
		return nil, err
	}
	if renameErr := os.Rename(f.path, f.path+".corrupt"); renameErr != nil {
		return nil, fmt.Errorf("quarantine %s: %w", f.path, renameErr)
	}
	return make(map[string]string), nil
}

func (f *FileTier) write(data map[string]string) error {
	raw, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("encode %s: %w", f.path, err)
	}
	if f.sealer != nil {
		if raw, err = f.sealer.Seal(raw); err != nil {
			return fmt.Errorf("seal %s: %w", f.path, err)
		}
	}

	dir := filepath.Dir(f.path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("create %s: %w", dir, err)
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(f.path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp for %s: %w", f.path, err)
	}
	tmpName := tmp.Name()
	cleanup := func() { _ = os.Remove(tmpName) }

	if _, err := tmp.Write(raw); err != nil {
		tmp.Close()
		cleanup()
		return fmt.Errorf("write %s: %w", tmpName, err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		cleanup()
		return fmt.Errorf("sync %s: %w", tmpName, err)
	}
	if err := tmp.Close(); err != nil {
		cleanup()
		return fmt.Errorf("close %s: %w", tmpName, err)
	}
	if err := os.Chmod(tmpName, 0o600); err != nil {
		cleanup()
		return fmt.Errorf("chmod %s: %w", tmpName, err)
	}
	if err := os.Rename(tmpName, f.path); err != nil {
		cleanup()
		return fmt.Errorf("replace %s: %w", f.path, err)
	}
	return nil
}

package tokenstore

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"

	"github.com/pkg/errors"
)

// fileKV keeps every key in one JSON document, rewritten atomically via rename.
type fileKV struct {
	path  string
	mutex sync.Mutex
}

// NewFile builds a backend persisted at path, creating the parent directory if needed.
func NewFile(path string) (KV, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, errors.Wrap(err, "NewFile MkdirAll")
	}
	return &fileKV{path: path}, nil
}

func (f *fileKV) load() (map[string]string, error) {
	data, err := os.ReadFile(f.path)
	if errors.Is(err, os.ErrNotExist) {
		return make(map[string]string), nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "fileKV.load ReadFile")
	}

	items := make(map[string]string)
	if len(data) == 0 {
		return items, nil
	}
	if err := json.Unmarshal(data, &items); err != nil {
		return nil, errors.Wrap(err, "fileKV.load Unmarshal")
	}
	return items, nil
}

func (f *fileKV) save(items map[string]string) error {
	data, err := json.MarshalIndent(items, "", "  ")
	if err != nil {
		return errors.Wrap(err, "fileKV.save Marshal")
	}

	tmp, err := os.CreateTemp(filepath.Dir(f.path), ".session-*.tmp")
	if err != nil {
		return errors.Wrap(err, "fileKV.save CreateTemp")
	}
	defer os.Remove(tmp.Name())

	if err := tmp.Chmod(0o600); err != nil {
		tmp.Close()
		return errors.Wrap(err, "fileKV.save Chmod")
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return errors.Wrap(err, "fileKV.save Write")
	}
	if err := tmp.Close(); err != nil {
		return errors.Wrap(err, "fileKV.save Close")
	}
	return errors.Wrap(os.Rename(tmp.Name(), f.path), "fileKV.save Rename")
}

func (f *fileKV) GetMany(_ context.Context, keys ...string) (map[string]string, error) {
	f.mutex.Lock()
	defer f.mutex.Unlock()

	items, err := f.load()
	if err != nil {
		return nil, err
	}
	values := make(map[string]string, len(keys))
	for _, k := range keys {
		if v, ok := items[k]; ok {
			values[k] = v
		}
	}
	return values, nil
}

func (f *fileKV) SetMany(_ context.Context, values map[string]string) error {
	f.mutex.Lock()
	defer f.mutex.Unlock()

	items, err := f.load()
	if err != nil {
		return err
	}
	for k, v := range values {
		items[k] = v
	}
	return f.save(items)
}

func (f *fileKV) Delete(_ context.Context, keys ...string) error {
	f.mutex.Lock()
	defer f.mutex.Unlock()

	items, err := f.load()
	if err != nil {
		// An unreadable document is replaced rather than left behind
		items = make(map[string]string)
	}
	for _, k := range keys {
		delete(items, k)
	}
	return f.save(items)
}

func (f *fileKV) CompareAndSet(_ context.Context, guardKey, guardValue string, values map[string]string) (bool, error) {
	f.mutex.Lock()
	defer f.mutex.Unlock()

	items, err := f.load()
	if err != nil {
		return false, err
	}
	if current, ok := items[guardKey]; !ok || current != guardValue {
		return false, nil
	}
	for k, v := range values {
		items[k] = v
	}
	return true, f.save(items)
}

func (f *fileKV) Close(context.Context) error {
	return nil
}

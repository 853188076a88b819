package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"igcollector/pkg/models"
)

const exportPageSize = 100

// Exporter writes stored items of a target to a directory, one JSON file
// per item named after its shortcode. Items already present on disk are
// skipped, so repeated exports only write what was collected since.
type Exporter struct {
	outputDir string
	exported  map[string]bool
	mu        sync.RWMutex
}

// NewExporter creates the output directory and indexes the files in it
func NewExporter(outputDir string) (*Exporter, error) {
	if err := os.MkdirAll(outputDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create output directory: %w", err)
	}

	e := &Exporter{
		outputDir: outputDir,
		exported:  make(map[string]bool),
	}
	if err := e.scanExistingFiles(); err != nil {
		return nil, fmt.Errorf("failed to scan existing files: %w", err)
	}
	return e, nil
}

func (e *Exporter) scanExistingFiles() error {
	entries, err := os.ReadDir(e.outputDir)
	if err != nil {
		return fmt.Errorf("failed to read directory: %w", err)
	}
	for _, entry := range entries {
		if !entry.IsDir() && filepath.Ext(entry.Name()) == ".json" {
			e.exported[strings.TrimSuffix(entry.Name(), ".json")] = true
		}
	}
	return nil
}

// IsExported reports whether an item with code is already on disk
func (e *Exporter) IsExported(code string) bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.exported[code]
}

// SaveItem writes item atomically
func (e *Exporter) SaveItem(item models.Item) error {
	code := item.Code
	if code == "" {
		code = item.ID
	}
	filename := filepath.Join(e.outputDir, code+".json")

	data, err := json.MarshalIndent(item, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode item %s: %w", code, err)
	}

	tempFile := filename + ".tmp"
	if err := os.WriteFile(tempFile, data, 0644); err != nil {
		os.Remove(tempFile)
		return fmt.Errorf("failed to write temporary file: %w", err)
	}
	if err := os.Rename(tempFile, filename); err != nil {
		os.Remove(tempFile)
		return fmt.Errorf("failed to rename temporary file: %w", err)
	}

	e.mu.Lock()
	e.exported[code] = true
	e.mu.Unlock()
	return nil
}

// Export pages through the stored items of target and writes the ones not
// yet exported. It returns how many files were written.
func (e *Exporter) Export(ctx context.Context, store ContentStoreReader, target models.Target) (int, error) {
	written := 0
	for offset := 0; ; offset += exportPageSize {
		items, total, err := store.GetContentItems(ctx, target, offset, exportPageSize)
		if err != nil {
			return written, err
		}
		for _, item := range items {
			code := item.Code
			if code == "" {
				code = item.ID
			}
			if e.IsExported(code) {
				continue
			}
			if err := e.SaveItem(item); err != nil {
				return written, err
			}
			written++
		}
		if len(items) == 0 || offset+len(items) >= total {
			return written, nil
		}
	}
}

// OutputDir returns the output directory path
func (e *Exporter) OutputDir() string {
	return e.outputDir
}

// Count returns the number of items on disk
func (e *Exporter) Count() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.exported)
}

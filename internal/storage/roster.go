package storage

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/NOVAInetwork/NOVAI-node/internal/types"
	ctypes "github.com/NOVAInetwork/NOVAI-node/pkg/consensus/types"
)

// Constants for file operations
const (
	// DefaultRosterFile is the default filename for the validator roster
	DefaultRosterFile = "validators.yaml"
	// TempFileSuffix is the suffix for temporary files during atomic operations
	TempFileSuffix = ".tmp"
	// BackupFileSuffix is the suffix for backup files
	BackupFileSuffix = ".backup"
	// FilePermissions defines the file permissions for roster files
	FilePermissions = 0644
)

// FileRoster implements RosterStorage with a YAML file.
type FileRoster struct {
	mu         sync.RWMutex
	filePath   string
	validators []types.ValidatorEntry
	lastMod    time.Time
}

// NewFileRoster opens the roster at filePath, loading it if it exists.
func NewFileRoster(filePath string) (*FileRoster, error) {
	if filePath == "" {
		filePath = DefaultRosterFile
	}

	roster := &FileRoster{
		filePath:   filePath,
		validators: make([]types.ValidatorEntry, 0),
	}

	if _, err := os.Stat(filePath); err == nil {
		if _, err := roster.LoadValidators(); err != nil {
			return nil, fmt.Errorf("failed to load roster: %w", err)
		}
	}

	return roster, nil
}

// GetValidators returns a copy of the loaded roster.
func (fr *FileRoster) GetValidators() []types.ValidatorEntry {
	fr.mu.RLock()
	defer fr.mu.RUnlock()

	return fr.snapshot()
}

// LoadValidators re-reads the file when it changed since the last load.
func (fr *FileRoster) LoadValidators() ([]types.ValidatorEntry, error) {
	fr.mu.Lock()
	defer fr.mu.Unlock()

	fileInfo, err := os.Stat(fr.filePath)
	if os.IsNotExist(err) {
		fr.validators = make([]types.ValidatorEntry, 0)
		fr.lastMod = time.Time{}
		return fr.snapshot(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to stat roster file: %w", err)
	}

	if !fr.lastMod.IsZero() && fileInfo.ModTime().Equal(fr.lastMod) {
		return fr.snapshot(), nil
	}

	data, err := os.ReadFile(fr.filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to read roster file: %w", err)
	}

	var roster types.Roster
	if err := yaml.Unmarshal(data, &roster); err != nil {
		if backupErr := fr.createBackup(); backupErr != nil {
			return nil, fmt.Errorf("failed to parse roster file and backup failed: %w, backup error: %v", err, backupErr)
		}
		return nil, fmt.Errorf("failed to parse roster file (backup created): %w", err)
	}

	validators, err := validateRoster(roster.Validators)
	if err != nil {
		return nil, fmt.Errorf("failed to validate roster: %w", err)
	}

	fr.validators = validators
	fr.lastMod = fileInfo.ModTime()
	return fr.snapshot(), nil
}

// SaveValidators validates and atomically writes the roster.
func (fr *FileRoster) SaveValidators(validators []types.ValidatorEntry) error {
	fr.mu.Lock()
	defer fr.mu.Unlock()

	valid, err := validateRoster(validators)
	if err != nil {
		return fmt.Errorf("failed to validate roster before saving: %w", err)
	}
	return fr.persist(valid)
}

// AddValidator assigns the next free ID to entry and saves the roster.
func (fr *FileRoster) AddValidator(entry types.ValidatorEntry) error {
	fr.mu.Lock()
	defer fr.mu.Unlock()

	entry.ID = uint16(len(fr.validators))
	updated := append(fr.snapshot(), entry)

	valid, err := validateRoster(updated)
	if err != nil {
		return fmt.Errorf("invalid validator: %w", err)
	}
	return fr.persist(valid)
}

// RemoveValidator drops the validator with id. IDs above it shift down by one
// so the roster stays sequential.
func (fr *FileRoster) RemoveValidator(id uint16) error {
	fr.mu.Lock()
	defer fr.mu.Unlock()

	var updated []types.ValidatorEntry
	found := false
	for _, v := range fr.validators {
		if v.ID == id {
			found = true
			continue
		}
		if v.ID > id {
			v.ID--
		}
		updated = append(updated, v)
	}

	if !found {
		return fmt.Errorf("validator %d not found", id)
	}
	return fr.persist(updated)
}

// Close clears the in-memory roster.
func (fr *FileRoster) Close() error {
	fr.mu.Lock()
	defer fr.mu.Unlock()

	fr.validators = nil
	fr.lastMod = time.Time{}
	return nil
}

func (fr *FileRoster) snapshot() []types.ValidatorEntry {
	result := make([]types.ValidatorEntry, len(fr.validators))
	copy(result, fr.validators)
	return result
}

// persist must be called with mu held.
func (fr *FileRoster) persist(validators []types.ValidatorEntry) error {
	data, err := yaml.Marshal(&types.Roster{Validators: validators})
	if err != nil {
		return fmt.Errorf("failed to marshal roster to YAML: %w", err)
	}

	if err := fr.writeFileAtomic(data); err != nil {
		return fmt.Errorf("failed to write roster file: %w", err)
	}

	fr.validators = validators
	if fileInfo, err := os.Stat(fr.filePath); err == nil {
		fr.lastMod = fileInfo.ModTime()
	}
	return nil
}

// validateRoster checks every entry, rejects duplicate keys and requires IDs to
// run 0..n-1. The result is sorted by ID.
func validateRoster(validators []types.ValidatorEntry) ([]types.ValidatorEntry, error) {
	sorted := make([]types.ValidatorEntry, len(validators))
	copy(sorted, validators)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].ID < sorted[j].ID })

	seenKeys := make(map[string]bool, len(sorted))
	for i, v := range sorted {
		if err := v.Validate(); err != nil {
			return nil, fmt.Errorf("validator %d is invalid: %w", v.ID, err)
		}
		if int(v.ID) != i {
			return nil, fmt.Errorf("validator IDs must be sequential from 0, found %d at position %d", v.ID, i)
		}
		if seenKeys[v.PublicKey] {
			return nil, fmt.Errorf("validator %d reuses a public key", v.ID)
		}
		seenKeys[v.PublicKey] = true
	}

	return sorted, nil
}

// writeFileAtomic writes data to file atomically using temp file + rename
func (fr *FileRoster) writeFileAtomic(data []byte) error {
	dir := filepath.Dir(fr.filePath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}

	tempFile := fr.filePath + TempFileSuffix
	file, err := os.OpenFile(tempFile, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, FilePermissions)
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}

	defer func() {
		if file != nil {
			file.Close()
			os.Remove(tempFile)
		}
	}()

	if _, err := file.Write(data); err != nil {
		return fmt.Errorf("failed to write to temp file: %w", err)
	}

	if err := file.Sync(); err != nil {
		return fmt.Errorf("failed to sync temp file: %w", err)
	}

	if err := file.Close(); err != nil {
		return fmt.Errorf("failed to close temp file: %w", err)
	}
	file = nil

	if err := os.Rename(tempFile, fr.filePath); err != nil {
		return fmt.Errorf("failed to rename temp file: %w", err)
	}

	return nil
}

func (fr *FileRoster) createBackup() error {
	if _, err := os.Stat(fr.filePath); os.IsNotExist(err) {
		return nil
	}

	src, err := os.Open(fr.filePath)
	if err != nil {
		return fmt.Errorf("failed to open source file: %w", err)
	}
	defer src.Close()

	dst, err := os.Create(fr.filePath + BackupFileSuffix)
	if err != nil {
		return fmt.Errorf("failed to create backup file: %w", err)
	}
	defer dst.Close()

	if _, err := io.Copy(dst, src); err != nil {
		return fmt.Errorf("failed to copy file: %w", err)
	}

	return dst.Sync()
}

// ValidatorSet converts roster entries into the consensus validator set.
func ValidatorSet(entries []types.ValidatorEntry) (*ctypes.ValidatorSet, error) {
	validators := make([]ctypes.Validator, 0, len(entries))
	for _, e := range entries {
		key, err := e.DecodePublicKey()
		if err != nil {
			return nil, fmt.Errorf("validator %d: %w", e.ID, err)
		}
		validators = append(validators, ctypes.Validator{ID: ctypes.NodeID(e.ID), PublicKey: key})
	}
	return ctypes.NewValidatorSetFromValidators(validators)
}

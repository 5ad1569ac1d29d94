// Package storage implements the node's durable stores: the badger-backed
// block and safety store, and the YAML validator roster.
package storage

import (
	"github.com/NOVAInetwork/NOVAI-node/internal/types"
)

// RosterStorage defines the interface for validator roster operations
type RosterStorage interface {
	// GetValidators returns all currently loaded validators sorted by ID
	GetValidators() []types.ValidatorEntry

	// LoadValidators loads the roster from storage and returns it
	// This method also refreshes the in-memory list
	LoadValidators() ([]types.ValidatorEntry, error)

	// SaveValidators replaces the stored roster
	SaveValidators(validators []types.ValidatorEntry) error

	// AddValidator appends a validator with a fresh ID
	AddValidator(entry types.ValidatorEntry) error

	// RemoveValidator removes a validator by ID
	RemoveValidator(id uint16) error

	// Close closes the storage and releases any resources
	Close() error
}

// Copyright (c) 2022-present Mattermost, Inc. All Rights Reserved.
// See LICENSE.txt for license information.

package store

import (
	"errors"
)

var (
	ErrNotFound = errors.New("error: not found")
	ErrEmptyKey = errors.New("error: empty key")
	ErrConflict = errors.New("error: conflict")
)

// UpdateFn receives the current value stored under a key and returns the
// value to replace it with. Returning an error aborts the update.
type UpdateFn func(current string) (string, error)

type Store interface {
	Set(key, value string) error
	// Put stores value only if key is not already present.
	Put(key, value string) error
	Get(key string) (string, error)
	// Update atomically replaces the value of an existing key.
	Update(key string, fn UpdateFn) (string, error)
	Delete(key string) error
	// Scan calls fn for every key starting with prefix along with its value.
	Scan(prefix string, fn func(key, value string) error) error
	Close() error
}

func New(dataSource string) (Store, error) {
	return newBitcaskStore(dataSource)
}

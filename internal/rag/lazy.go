package rag

import (
	"context"
	"sync"
)

// OpenStoreFunc establishes a connection to the vector store, including any
// collection setup. It is called at most once per initialisation attempt.
type OpenStoreFunc func(ctx context.Context) (VectorStore, error)

// Lazy defers vector store initialisation until first use and guarantees
// at-most-one initialisation in flight. The holder moves through explicit
// states: uninitialised → initialising → ready, or back to uninitialised on
// failure so a later request can retry. Concurrent first users all await the
// same in-flight attempt rather than racing — exactly one collection-setup
// call is ever made per attempt.
type Lazy struct {
	// open establishes the connection. Called by the first Get.
	open OpenStoreFunc

	// mu guards store and attempt.
	mu sync.Mutex

	// store is non-nil once an attempt has succeeded (ready state).
	store VectorStore

	// attempt is non-nil while an initialisation is in flight.
	attempt *initAttempt
}

// initAttempt is one in-flight initialisation shared by all concurrent callers.
type initAttempt struct {
	// done is closed when the attempt finishes, success or failure.
	done chan struct{}
	// store is the result on success.
	store VectorStore
	// err is the result on failure.
	err error
}

// NewLazy constructs a Lazy holder around the given open function.
func NewLazy(open OpenStoreFunc) *Lazy {
	return &Lazy{open: open}
}

// Get returns the initialised store, establishing the connection on first
// use. Late arrivals during an in-flight initialisation wait for it instead
// of triggering another one; every waiter observes the same outcome. A failed
// attempt is reported to all its waiters, after which the holder resets so a
// subsequent call may retry.
func (l *Lazy) Get(ctx context.Context) (VectorStore, error) {
	l.mu.Lock()
	if l.store != nil {
		store := l.store
		l.mu.Unlock()
		return store, nil
	}

	if l.attempt != nil {
		// Another caller is initialising — wait for its outcome.
		a := l.attempt
		l.mu.Unlock()
		select {
		case <-a.done:
			return a.store, a.err
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	a := &initAttempt{done: make(chan struct{})}
	l.attempt = a
	l.mu.Unlock()

	store, err := l.open(ctx)

	l.mu.Lock()
	if err == nil {
		l.store = store
	}
	l.attempt = nil
	l.mu.Unlock()

	a.store = store
	a.err = err
	close(a.done)

	return store, err
}

// Ready reports whether the store has been successfully initialised.
func (l *Lazy) Ready() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.store != nil
}

// Close releases the store if it was ever initialised.
func (l *Lazy) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.store == nil {
		return nil
	}
	err := l.store.Close()
	l.store = nil
	return err
}

package main

import (
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"time"

	carexpert "github.com/gdg-charusat/CareXpert-frontend"
)

// stderrNotifier surfaces client-level notices the way the SDK expects a UI
// toast layer to.
var stderrNotifier = carexpert.NotifierFunc(func(level, message string) {
	fmt.Fprintf(os.Stderr, "[%s] %s\n", level, message)
})

// getClient builds a CareXpert client with the persistent cookie jar and a
// file-backed cache so state survives across CLI invocations.
func getClient() (*carexpert.Client, *persistentJar) {
	cfg, err := loadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	jar, err := newPersistentJar()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to open cookie jar: %v\n", err)
		os.Exit(1)
	}

	opts := []carexpert.ClientOption{
		carexpert.WithHTTPClient(&http.Client{Jar: jar, Timeout: carexpert.DefaultTimeout}),
		carexpert.WithNotifier(stderrNotifier),
	}
	if cfg.Default.BaseURL != "" {
		opts = append(opts, carexpert.WithBaseURL(cfg.Default.BaseURL))
	}
	if cache := getCache(); cache != nil {
		opts = append(opts, carexpert.WithCache(cache))
	}

	return carexpert.NewClient(opts...), jar
}

// getCache builds a cache under ~/.carexpert. Falls back to the client
// default on error.
func getCache() *carexpert.Cache {
	dir, err := configDir()
	if err != nil {
		return nil
	}
	cache, err := newCLICache(dir)
	if err != nil {
		return nil
	}
	return cache
}

// newCLICache wires both cache backends to files under dir. An in-memory
// session backend would die with every one-shot command, so the session
// backend is file-backed too; TTLs still bound staleness and
// `doctors --fresh` clears it.
func newCLICache(dir string) (*carexpert.Cache, error) {
	durable, err := carexpert.NewFileStorage(filepath.Join(dir, "storage"))
	if err != nil {
		return nil, err
	}
	session, err := carexpert.NewFileStorage(filepath.Join(dir, "cache"))
	if err != nil {
		return nil, err
	}
	return carexpert.NewCache(durable, session, nil), nil
}

// getStore builds the auth store on top of the client. The logout broadcast
// runs over the shared file storage so concurrent CLI processes (e.g. a
// long-lived `chat watch`) converge on logout.
func getStore(client *carexpert.Client, socket *carexpert.Socket) (*carexpert.AuthStore, func()) {
	dir, err := carexpert.DefaultStorageDir()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to resolve storage directory: %v\n", err)
		os.Exit(1)
	}
	storage, err := carexpert.NewFileStorage(dir)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to open storage: %v\n", err)
		os.Exit(1)
	}

	bus := carexpert.NewStorageBroadcaster(storage, 500*time.Millisecond, nil)
	store := carexpert.NewAuthStore(client, storage, bus, &carexpert.AuthConfig{
		Socket: socket,
	})

	teardown := func() {
		store.Close()
		bus.Close()
	}
	return store, teardown
}

// requireSession exits unless a session is present.
func requireSession(store *carexpert.AuthStore) *carexpert.Session {
	session := store.Session()
	if session == nil {
		fmt.Fprintln(os.Stderr, "Not logged in. Run 'carexpert login <email>' first.")
		os.Exit(1)
	}
	return session
}

package cmd

import (
	"fmt"

	"soraq/ledger"
	"soraq/provider"
	"soraq/queue"
	"soraq/state"
)

// app is the client-local state every command works on.
type app struct {
	store  *state.Store
	book   *ledger.Book
	client *provider.Client
	queue  *queue.Manager
}

// openStore opens the state file for commands that only read it.
func openStore() (*state.Store, error) {
	return state.Open(cfg.StateFile)
}

// openApp loads the state file and restores the ledger and queue from it.
// Interrupted items are coerced back to pending here.
func openApp() (*app, error) {
	store, err := state.Open(cfg.StateFile)
	if err != nil {
		return nil, err
	}

	book := ledger.NewBook(cfg.HistoryLimit, store.SaveLedger)
	book.Restore(store.Ledger())

	client := provider.NewClient(cfg.ProviderBaseURL, cfg.ProviderTimeout)
	mgr, err := queue.NewManager(cfg, client, book, store, store.Credential)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize queue: %w", err)
	}
	items, err := store.Queue()
	if err != nil {
		return nil, err
	}
	mgr.Restore(items)

	return &app{store: store, book: book, client: client, queue: mgr}, nil
}

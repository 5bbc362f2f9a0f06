package client

import (
	"context"
	"fmt"
	"log/slog"
	stdsync "sync"
	"time"

	"github.com/openshelf/openshelf/internal/client/config"
	"github.com/openshelf/openshelf/internal/client/sync"
	"github.com/openshelf/openshelf/internal/shelfsdk"
)

// Client is the long-running sync daemon: one workspace, one journal, one
// engine, a watch loop per configured library.
type Client struct {
	config    *config.Config
	workspace *Workspace
	sdk       *shelfsdk.ShelfSDK
	journal   *sync.Journal
	engine    *sync.SyncEngine
}

func New(cfg *config.Config) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	ws, err := NewWorkspace(cfg.DataDir)
	if err != nil {
		return nil, fmt.Errorf("create workspace: %w", err)
	}

	sdk, err := shelfsdk.New(cfg.ServerURL)
	if err != nil {
		return nil, fmt.Errorf("create sdk: %w", err)
	}

	journal := sync.NewJournal(ws.JournalPath)
	engine := sync.NewSyncEngine(sdk, journal, ws.LibrariesDir, sync.Options{
		Workers:     cfg.Workers,
		MaxAttempts: cfg.MaxAttempts,
	})

	return &Client{
		config:    cfg,
		workspace: ws,
		sdk:       sdk,
		journal:   journal,
		engine:    engine,
	}, nil
}

// Engine exposes the sync engine, mainly for progress subscriptions.
func (c *Client) Engine() *sync.SyncEngine {
	return c.engine
}

// Start runs watch loops for every configured library until the context
// ends.
func (c *Client) Start(ctx context.Context) error {
	slog.Info("openshelf client start",
		"datadir", c.workspace.Root,
		"server", c.config.ServerURL,
		"libraries", c.config.Libraries)

	if err := c.open(); err != nil {
		return err
	}
	defer c.close()

	interval := time.Duration(c.config.SyncInterval)

	var wg stdsync.WaitGroup
	for _, libraryID := range c.config.Libraries {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			c.engine.Watch(ctx, id, interval)
		}(libraryID)
	}

	<-ctx.Done()
	slog.Info("received interrupt signal, stopping client")
	wg.Wait()

	slog.Info("openshelf client stop")
	return nil
}

// SyncOnce runs a single cycle for every configured library and returns the
// results. Used by the one-shot CLI mode.
func (c *Client) SyncOnce(ctx context.Context) ([]*sync.CycleResult, error) {
	if err := c.open(); err != nil {
		return nil, err
	}
	defer c.close()

	results := make([]*sync.CycleResult, 0, len(c.config.Libraries))
	for _, libraryID := range c.config.Libraries {
		result, err := c.engine.SyncLibrary(ctx, libraryID)
		if err != nil {
			return results, fmt.Errorf("sync %s: %w", libraryID, err)
		}
		results = append(results, result)
	}
	return results, nil
}

// VerifyOnce force-verifies every configured library against the journal.
func (c *Client) VerifyOnce(ctx context.Context) (map[string][]string, error) {
	if err := c.open(); err != nil {
		return nil, err
	}
	defer c.close()

	demoted := make(map[string][]string, len(c.config.Libraries))
	for _, libraryID := range c.config.Libraries {
		paths, err := c.engine.VerifyLibrary(ctx, libraryID)
		if err != nil {
			return demoted, fmt.Errorf("verify %s: %w", libraryID, err)
		}
		demoted[libraryID] = paths
	}
	return demoted, nil
}

func (c *Client) open() error {
	if err := c.workspace.Bootstrap(); err != nil {
		return fmt.Errorf("bootstrap workspace: %w", err)
	}
	if err := c.workspace.Lock(); err != nil {
		return err
	}
	if err := c.journal.Open(); err != nil {
		c.workspace.Unlock()
		return err
	}
	return nil
}

func (c *Client) close() {
	if err := c.journal.Close(); err != nil {
		slog.Error("close journal", "error", err)
	}
	if err := c.workspace.Unlock(); err != nil {
		slog.Error("unlock workspace", "error", err)
	}
	c.sdk.Close()
}

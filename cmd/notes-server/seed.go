package main

import (
	"context"
	"fmt"

	"github.com/BurntSushi/toml"
	"github.com/ggoodman/mcp-router-go/examples/notes"
	"github.com/ggoodman/mcp-router-go/storage"
)

// seedFile is the TOML layout of MCP_SEED_FILE:
//
//	[[notes]]
//	key = "welcome"
//	body = "Hello!"
type seedFile struct {
	Notes []seedNote `toml:"notes"`
}

type seedNote struct {
	Key  string `toml:"key"`
	Body string `toml:"body"`
}

// loadSeed stores every note in the TOML file at path and returns how many
// were written.
func loadSeed(ctx context.Context, store storage.Storage, path string) (int, error) {
	var f seedFile
	md, err := toml.DecodeFile(path, &f)
	if err != nil {
		return 0, fmt.Errorf("parsing seed file: %w", err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		return 0, fmt.Errorf("seed file has unknown keys: %v", undecoded)
	}
	for i, n := range f.Notes {
		if err := notes.Seed(ctx, store, n.Key, n.Body); err != nil {
			return i, fmt.Errorf("seed note %d: %w", i, err)
		}
	}
	return len(f.Notes), nil
}

package node

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/adamgarcia4/goLearning/hermes/gossip"
)

// nextGeneration picks the generation of this incarnation. With a file the
// previous generation is read from it and the new one written back, so a
// restart within the same second still moves forward.
func nextGeneration(path string) (int32, error) {
	if path == "" {
		return gossip.NextGeneration(0), nil
	}

	var previous int32
	b, err := os.ReadFile(path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
	case err != nil:
		return 0, fmt.Errorf("read generation: %w", err)
	default:
		v, err := strconv.ParseInt(strings.TrimSpace(string(b)), 10, 32)
		if err != nil {
			return 0, fmt.Errorf("parse generation file %s: %w", path, err)
		}
		previous = int32(v)
	}

	gen := gossip.NextGeneration(previous)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return 0, fmt.Errorf("write generation: %w", err)
	}
	if err := os.WriteFile(path, []byte(strconv.FormatInt(int64(gen), 10)+"\n"), 0o644); err != nil {
		return 0, fmt.Errorf("write generation: %w", err)
	}
	return gen, nil
}

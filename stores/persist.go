package stores

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/rs/zerolog"
)

// storeFile returns the backing path for one agent's store of the given kind.
func storeFile(dir, agentID string, kind Kind) string {
	return filepath.Join(dir, fmt.Sprintf("%s.%s.json", agentID, kind))
}

// loadJSON eagerly reads a store file into out. A missing file is an empty
// store; a corrupt file is logged and also treated as empty so startup never
// fails on bad data.
func loadJSON(path string, out any, logger zerolog.Logger) {
	data, err := os.ReadFile(path) //#nosec G304 -- store path is derived from config
	if err != nil {
		if !os.IsNotExist(err) {
			logger.Warn().Err(err).Str("path", path).Msg("Failed to read store file, starting empty")
		}
		return
	}
	if err := json.Unmarshal(data, out); err != nil {
		logger.Warn().Err(err).Str("path", path).Msg("Store file is corrupt, starting empty")
	}
}

// saveJSON synchronously persists the store after a mutation. Write failures
// are logged, not returned: in-memory state stays authoritative for the
// process lifetime.
func saveJSON(path string, v any, logger zerolog.Logger) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		logger.Error().Err(err).Str("path", path).Msg("Failed to marshal store")
		return
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		logger.Error().Err(err).Str("path", path).Msg("Failed to create store directory")
		return
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		logger.Error().Err(err).Str("path", path).Msg("Failed to persist store")
	}
}

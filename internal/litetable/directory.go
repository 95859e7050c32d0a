package litetable

import (
	"fmt"
	"os"
	"path/filepath"
)

const (
	litetableDir = ".litetable"
)

// GetLitetableDir returns the path to the LiteTable directory in the user's home directory.
func GetLitetableDir() (string, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}
	return filepath.Join(homeDir, litetableDir), nil
}

// TableDir is where every region of table keeps its directory.
func TableDir(root, table string) string {
	return filepath.Join(root, "tables", table)
}

// RegionDir is the directory of one region: <root>/tables/<table>/<encoded name>.
func RegionDir(root string, info *RegionInfo) string {
	return filepath.Join(TableDir(root, info.Table.Name), info.EncodedName())
}

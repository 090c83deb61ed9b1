package datasets

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

func parseFloat32(s string) (float32, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("empty string")
	}
	v, err := strconv.ParseFloat(s, 32)
	if err != nil {
		return 0, err
	}
	return float32(v), nil
}

// DataDir resolves the directory holding a dataset's shards. An empty dataDir
// falls back to $TFDS_DATA_DIR/<name>, then ~/tensorflow_datasets/<name>.
func DataDir(dataDir, name string, tryGCS bool) (string, error) {
	if tryGCS {
		return "", fmt.Errorf("%s: %w", name, ErrGCSUnsupported)
	}
	if dataDir != "" {
		return dataDir, nil
	}
	if root := os.Getenv("TFDS_DATA_DIR"); root != "" {
		return filepath.Join(root, name), nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("no data dir given for %s and no home directory: %w", name, err)
	}
	return filepath.Join(home, "tensorflow_datasets", name), nil
}

// ShardName returns the file name of one shard, e.g. train-00003-of-00010.
func ShardName(split string, shard, numShards int) string {
	return fmt.Sprintf("%s-%05d-of-%05d", split, shard, numShards)
}

// FindSplits returns the canonical splits that have at least one shard in dir.
func FindSplits(dir string) ([]string, error) {
	var found []string
	for _, split := range []string{Train, Validation, Test} {
		matches, err := filepath.Glob(filepath.Join(dir, split+"-*-of-*"))
		if err != nil {
			return nil, err
		}
		if len(matches) > 0 {
			found = append(found, split)
		}
	}
	if len(found) == 0 {
		return nil, fmt.Errorf("no shards found in %s", dir)
	}
	return found, nil
}

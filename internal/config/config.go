package config

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/litetable/litetable-region/internal/litetable"
)

const (
	configFileName = "litetable-region.conf"

	mib = 1 << 20
)

type Config struct {
	DataDir string
	Debug   bool

	MemstoreFlushSize       int64
	MemstoreBlockMultiplier int
	CompactionThreshold     int
	MaxFileSize             int64
	BlockSize               int
	BlockCacheBlocks        int

	OptionalFlushInterval    time.Duration
	ThreadWakeFrequency      time.Duration
	GlobalMemstoreUpperLimit int64
	GlobalMemstoreLowerLimit int64
	FlushWorkers             int
	MajorCompactionInterval  time.Duration

	WALRollInterval time.Duration
	StopTimeout     time.Duration
}

// Default is the configuration used for every key the file leaves out.
func Default(dataDir string) *Config {
	return &Config{
		DataDir:                  dataDir,
		MemstoreFlushSize:        64 * mib,
		MemstoreBlockMultiplier:  2,
		CompactionThreshold:      3,
		MaxFileSize:              256 * mib,
		BlockSize:                64 << 10,
		BlockCacheBlocks:         1024,
		OptionalFlushInterval:    30 * time.Minute,
		ThreadWakeFrequency:      10 * time.Second,
		GlobalMemstoreUpperLimit: 512 * mib,
		GlobalMemstoreLowerLimit: 384 * mib,
		FlushWorkers:             4,
		MajorCompactionInterval:  24 * time.Hour,
		WALRollInterval:          time.Minute,
		StopTimeout:              5 * time.Second,
	}
}

// NewConfig reads litetable-region.conf from dir, or from the LiteTable
// directory in the user's home when dir is empty. A missing file yields
// the defaults.
func NewConfig(dir string) (*Config, error) {
	if dir == "" {
		liteTableDir, err := litetable.GetLitetableDir()
		if err != nil {
			return nil, fmt.Errorf("failed to get LiteTable directory: %w", err)
		}
		dir = liteTableDir
	}
	config := Default(dir)

	file, err := os.Open(filepath.Join(dir, configFileName))
	if err != nil {
		if os.IsNotExist(err) {
			return config, config.validate()
		}
		return nil, fmt.Errorf("failed to open config file: %w", err)
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())

		// Skip comments and empty lines
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		parts := strings.SplitN(line, "=", 2)
		if len(parts) != 2 {
			continue
		}

		key := strings.TrimSpace(parts[0])
		value := strings.TrimSpace(parts[1])
		if err := config.set(key, value); err != nil {
			return nil, err
		}
	}

	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("error reading config file: %w", err)
	}
	return config, config.validate()
}

func (c *Config) set(key, value string) error {
	var err error
	switch key {
	case "data_dir":
		c.DataDir = value
	case "debug":
		c.Debug = value == "true"
	case "memstore_flush_size":
		c.MemstoreFlushSize, err = strconv.ParseInt(value, 10, 64)
	case "memstore_block_multiplier":
		c.MemstoreBlockMultiplier, err = strconv.Atoi(value)
	case "compaction_threshold":
		c.CompactionThreshold, err = strconv.Atoi(value)
	case "max_file_size":
		c.MaxFileSize, err = strconv.ParseInt(value, 10, 64)
	case "block_size":
		c.BlockSize, err = strconv.Atoi(value)
	case "block_cache_blocks":
		c.BlockCacheBlocks, err = strconv.Atoi(value)
	case "optional_flush_interval":
		c.OptionalFlushInterval, err = seconds(value)
	case "thread_wake_frequency":
		c.ThreadWakeFrequency, err = seconds(value)
	case "global_memstore_upper_limit":
		c.GlobalMemstoreUpperLimit, err = strconv.ParseInt(value, 10, 64)
	case "global_memstore_lower_limit":
		c.GlobalMemstoreLowerLimit, err = strconv.ParseInt(value, 10, 64)
	case "flush_workers":
		c.FlushWorkers, err = strconv.Atoi(value)
	case "wal_roll_interval":
		c.WALRollInterval, err = seconds(value)
	case "stop_timeout":
		c.StopTimeout, err = seconds(value)
	case "major_compaction_interval":
		c.MajorCompactionInterval, err = seconds(value)
	}
	if err != nil {
		return fmt.Errorf("invalid %s value: %w", key, err)
	}
	return nil
}

func seconds(value string) (time.Duration, error) {
	n, err := strconv.Atoi(value)
	if err != nil {
		return 0, err
	}
	return time.Duration(n) * time.Second, nil
}

func (c *Config) validate() error {
	var errGrp []error
	if c.DataDir == "" {
		errGrp = append(errGrp, errors.New("data_dir cannot be empty"))
	}
	if c.MemstoreFlushSize <= 0 {
		errGrp = append(errGrp, errors.New("memstore_flush_size must be greater than 0"))
	}
	if c.MemstoreBlockMultiplier < 1 {
		errGrp = append(errGrp, errors.New("memstore_block_multiplier must be at least 1"))
	}
	if c.CompactionThreshold < 1 {
		errGrp = append(errGrp, errors.New("compaction_threshold must be at least 1"))
	}
	if c.MaxFileSize <= 0 {
		errGrp = append(errGrp, errors.New("max_file_size must be greater than 0"))
	}
	if c.BlockSize <= 0 || c.BlockCacheBlocks <= 0 || c.FlushWorkers <= 0 {
		errGrp = append(errGrp, errors.New("block_size, block_cache_blocks and flush_workers must be greater than 0"))
	}
	if c.GlobalMemstoreLowerLimit <= 0 || c.GlobalMemstoreUpperLimit < c.GlobalMemstoreLowerLimit {
		errGrp = append(errGrp, errors.New("global memstore limits must satisfy 0 < lower <= upper"))
	}
	if c.OptionalFlushInterval <= 0 || c.ThreadWakeFrequency <= 0 || c.WALRollInterval <= 0 ||
		c.StopTimeout <= 0 || c.MajorCompactionInterval <= 0 {
		errGrp = append(errGrp, errors.New("intervals and timeouts must be greater than 0"))
	}
	return errors.Join(errGrp...)
}

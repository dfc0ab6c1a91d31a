// Package cmn provides common constants, types, and utilities for solidframe
/*
 * Copyright (c) 2021-2024, NVIDIA CORPORATION. All rights reserved.
 */
package cmn

import (
	"fmt"
	"os"
	"unsafe"

	jsoniter "github.com/json-iterator/go"

	"github.com/solidoss/solidframe/cmn/atomic"
	"github.com/solidoss/solidframe/sys"
)

type (
	Config struct {
		Log   LogConf   `json:"log"`
		Pool  PoolConf  `json:"pool"`
		Frame FrameConf `json:"frame"`
		Relay RelayConf `json:"relay"`
	}
	LogConf struct {
		Dir string `json:"dir"` // empty: stderr
	}
	PoolConf struct {
		Workers  int `json:"workers"`  // 0: sys.NumCPU()
		Capacity int `json:"capacity"` // task-slot ring size
	}
	FrameConf struct {
		Reactors int `json:"reactors"` // 0: sys.NumCPU()
	}
	RelayConf struct {
		MaxMessageCountMultiplex int `json:"max_message_count_multiplex"`
	}
)

const (
	dfltPoolCapacity = 1024
	dfltMaxMsgCount  = 64
)

// GCO stands for global config owner; initialized with defaults, replaced
// wholesale by LoadConfig.
var GCO atomic.Pointer

func init() {
	config := defaultConfig()
	GCO.Store(ptr(config))
}

func GetConfig() *Config { return (*Config)(GCO.Load()) }

func ptr(config *Config) unsafe.Pointer { return unsafe.Pointer(config) }

func defaultConfig() *Config {
	return &Config{
		Pool:  PoolConf{Workers: sys.NumCPU(), Capacity: dfltPoolCapacity},
		Frame: FrameConf{Reactors: sys.NumCPU()},
		Relay: RelayConf{MaxMessageCountMultiplex: dfltMaxMsgCount},
	}
}

// LoadConfig reads, validates, and installs the global configuration.
func LoadConfig(path string) (config *Config, err error) {
	config = defaultConfig()
	if path != "" {
		var b []byte
		if b, err = os.ReadFile(path); err != nil {
			return nil, err
		}
		if err = jsoniter.Unmarshal(b, config); err != nil {
			return nil, fmt.Errorf("failed to parse config %q: %v", path, err)
		}
	}
	if err = config.Validate(); err != nil {
		return nil, err
	}
	GCO.Store(ptr(config))
	return
}

func (config *Config) Validate() error {
	if config.Pool.Workers <= 0 {
		config.Pool.Workers = sys.NumCPU()
	}
	if config.Pool.Capacity <= 0 {
		config.Pool.Capacity = dfltPoolCapacity
	}
	if config.Frame.Reactors <= 0 {
		config.Frame.Reactors = sys.NumCPU()
	}
	if config.Relay.MaxMessageCountMultiplex <= 0 {
		config.Relay.MaxMessageCountMultiplex = dfltMaxMsgCount
	}
	if config.Pool.Capacity < config.Pool.Workers {
		return fmt.Errorf("pool capacity %d less than worker count %d",
			config.Pool.Capacity, config.Pool.Workers)
	}
	return nil
}

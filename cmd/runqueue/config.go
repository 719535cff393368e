package main

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/xraph/runqueue/codec"
	"github.com/xraph/runqueue/workerqueue"
)

const defaultRedisURL = "redis://localhost:6379/0"

// fileConfig is the YAML configuration file.
//
//	redis_url: redis://localhost:6379/0
//	key_prefix: runqueue
//	codec: json
//	overrides_file: /etc/runqueue/overrides.json
//	overrides:
//	  environmentId:
//	    env_123: dedicated-queue
type fileConfig struct {
	RedisURL      string                 `yaml:"redis_url"`
	KeyPrefix     string                 `yaml:"key_prefix"`
	Codec         string                 `yaml:"codec"`
	OverridesFile string                 `yaml:"overrides_file"`
	Overrides     *workerqueue.Overrides `yaml:"overrides"`
}

// loadConfig reads path, or returns defaults when path is empty.
func loadConfig(path string) (*fileConfig, error) {
	c := &fileConfig{}
	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(raw, c); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	if c.RedisURL == "" {
		c.RedisURL = defaultRedisURL
	}
	switch c.Codec {
	case "":
		c.Codec = codec.NameJSON
	case codec.NameJSON, codec.NameMsgpack:
	default:
		return nil, fmt.Errorf("config: unknown codec %q", c.Codec)
	}
	return c, nil
}

// resolver builds the worker queue resolver from the configured overrides:
// inline overrides, then the overrides file, then the environment variable.
func (c *fileConfig) resolver() (*workerqueue.Resolver, error) {
	switch {
	case !c.Overrides.IsEmpty():
		return workerqueue.NewResolver(workerqueue.WithOverrides(c.Overrides)), nil
	case c.OverridesFile != "":
		raw, err := os.ReadFile(c.OverridesFile)
		if err != nil {
			return nil, fmt.Errorf("read overrides: %w", err)
		}
		return workerqueue.NewResolver(workerqueue.WithRawOverrides(raw)), nil
	default:
		return workerqueue.NewResolver(), nil
	}
}

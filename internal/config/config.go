package config

import (
	"fmt"
	"net"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Host    string `yaml:"host"`
	Port    int    `yaml:"port"`
	DataDir string `yaml:"data_dir"`

	// Observability sinks. The authoritative state is never persisted;
	// these only record the event stream.
	Journal bool `yaml:"journal"`
	IndexDB bool `yaml:"index_db"`

	Queues Queues `yaml:"queues"`
}

type Queues struct {
	Connect int `yaml:"connect"`
	Join    int `yaml:"join"`
	Leave   int `yaml:"leave"`
	Action  int `yaml:"action"`
	Chat    int `yaml:"chat"`
}

func Defaults() Config {
	return Config{
		Host:    "localhost",
		Port:    5000,
		DataDir: "./data",
		Journal: true,
		IndexDB: true,
		Queues: Queues{
			Connect: 64,
			Join:    64,
			Leave:   64,
			Action:  1024,
			Chat:    256,
		},
	}
}

// Load reads a yaml config file over the defaults.
func Load(path string) (Config, error) {
	c := Defaults()
	raw, err := os.ReadFile(path)
	if err != nil {
		return c, err
	}
	if err := yaml.Unmarshal(raw, &c); err != nil {
		return c, fmt.Errorf("server config: %w", err)
	}
	return c, nil
}

func (c Config) Addr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

package config

import (
	"encoding/json"
	"log"
	"os"
	"strings"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v2"
)

type TableioCfg struct {
	LogLevel string `json:"log_level" toml:"log_level" yaml:"log_level"`
	LogFile  string `json:"log_file" toml:"log_file" yaml:"log_file"`

	DataStore    string `json:"datastore" toml:"datastore" yaml:"datastore"` // mem | badger
	DataFolder   string `json:"data_folder" toml:"data_folder" yaml:"data_folder"`
	Registry     string `json:"registry" toml:"registry" yaml:"registry"` // mem | etcd
	RegistryAddr string `json:"registry_addr" toml:"registry_addr" yaml:"registry_addr"`

	Workers           int     `json:"workers" toml:"workers" yaml:"workers"`
	SplitFraction     float64 `json:"split_fraction" toml:"split_fraction" yaml:"split_fraction"`
	CheckpointRetries int     `json:"checkpoint_retries" toml:"checkpoint_retries" yaml:"checkpoint_retries"`
	FailureSampleCap  int     `json:"failure_sample_cap" toml:"failure_sample_cap" yaml:"failure_sample_cap"`
}

var cfgTableio = TableioCfg{
	DataStore:         "mem",
	Registry:          "mem",
	Workers:           4,
	SplitFraction:     0.5,
	CheckpointRetries: 3,
	FailureSampleCap:  10,
}

func LoadTableioCfg(cfgPath string) error {
	file, err := os.Open(cfgPath)
	if err != nil {
		return err
	}
	defer file.Close()

	if strings.HasSuffix(cfgPath, ".toml") {
		if _, err := toml.NewDecoder(file).Decode(&cfgTableio); err != nil {
			return err
		}
	} else {
		if err := yaml.NewDecoder(file).Decode(&cfgTableio); err != nil {
			return err
		}
	}

	configBytes, err := json.MarshalIndent(cfgTableio, "", "  ")
	if err != nil {
		return err
	}
	log.Println("Running config:", string(configBytes))
	return nil
}

func TableioConfig() *TableioCfg {
	return &cfgTableio
}

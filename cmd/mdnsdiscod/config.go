package main

import (
	"bytes"
	"io"
	"os"

	"github.com/BurntSushi/toml"
)

// config is the on-disk shape of an mdnsdiscod config file. Only the core
// package's own tunables are configurable here - this binary is a smoke
// testing shell around the mdns package, not a product in its own right.
type config struct {
	Title   string
	Querier querierConfig
	Watches []watch
}

type querierConfig struct {
	MaxRecordsCached       int  `toml:"max-records-cached"`
	KnownAnswerSuppression bool `toml:"known-answer-suppression"`
	EnableQuerying         bool `toml:"enable-querying"`
}

// watch is one (name, type) pair to subscribe to at startup, printing
// every Created/Updated/Expired event it produces to stdout.
type watch struct {
	Name  string
	Type  string
	Class string
}

// loadConfig reads and concatenates one or more TOML config files and
// decodes the result, the same multi-file merge behavior as the teacher's
// own CLI config loader.
func loadConfig(name ...string) (config, error) {
	b := new(bytes.Buffer)
	var c config
	// Querying stays enabled unless a config file sets it to false.
	c.Querier.EnableQuerying = true
	for _, fn := range name {
		if err := loadFile(b, fn); err != nil {
			return c, err
		}
		b.WriteString("\n")
	}
	_, err := toml.DecodeReader(b, &c)
	return c, err
}

func loadFile(w io.Writer, name string) error {
	f, err := os.Open(name)
	if err != nil {
		return err
	}
	defer f.Close()
	_, err = io.Copy(w, f)
	return err
}

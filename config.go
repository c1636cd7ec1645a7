package sconcur

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the file form of the engine settings. Zero values keep the
// defaults. Durations use Go duration syntax ("250ms", "30s").
//
//	workers: 16
//	waitTimeout: 30s
//	cancelGrace: 5s
//	stopGrace: 30s
//	shutdownGrace: 5s
//	duplicatePolicy: replace
//	stoppedFlowPolicy: recreate
//	strictFlows: false
type Config struct {
	Workers           int               `yaml:"workers"`
	WaitTimeout       *Duration         `yaml:"waitTimeout"`
	CancelGrace       *Duration         `yaml:"cancelGrace"`
	StopGrace         *Duration         `yaml:"stopGrace"`
	ShutdownGrace     *Duration         `yaml:"shutdownGrace"`
	DuplicatePolicy   DuplicatePolicy   `yaml:"duplicatePolicy"`
	StoppedFlowPolicy StoppedFlowPolicy `yaml:"stoppedFlowPolicy"`
	StrictFlows       bool              `yaml:"strictFlows"`
}

// Duration is a time.Duration that decodes from a YAML duration string.
// A pointer distinguishes an explicit "0s" from an omitted key.
type Duration time.Duration

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("line %d: %w", value.Line, err)
	}
	*d = Duration(parsed)
	return nil
}

func (d Duration) MarshalYAML() (any, error) {
	return time.Duration(d).String(), nil
}

// LoadConfig reads a YAML config file.
func LoadConfig(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("sconcur: read config: %w", err)
	}
	return ParseConfig(data)
}

// ParseConfig decodes a YAML config document. Unknown keys are rejected.
func ParseConfig(data []byte) (Config, error) {
	var c Config
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&c); err != nil && !errors.Is(err, io.EOF) {
		return Config{}, fmt.Errorf("sconcur: parse config: %w", err)
	}
	return c, nil
}

func (c Config) options() []Option {
	var opts []Option
	if c.Workers != 0 {
		opts = append(opts, WithWorkers(c.Workers))
	}
	if c.WaitTimeout != nil {
		opts = append(opts, WithWaitTimeout(time.Duration(*c.WaitTimeout)))
	}
	if c.CancelGrace != nil {
		opts = append(opts, WithCancelGrace(time.Duration(*c.CancelGrace)))
	}
	if c.StopGrace != nil {
		opts = append(opts, WithStopGrace(time.Duration(*c.StopGrace)))
	}
	if c.ShutdownGrace != nil {
		opts = append(opts, WithShutdownGrace(time.Duration(*c.ShutdownGrace)))
	}
	if c.DuplicatePolicy != "" {
		opts = append(opts, WithDuplicatePolicy(c.DuplicatePolicy))
	}
	if c.StoppedFlowPolicy != "" {
		opts = append(opts, WithStoppedFlowPolicy(c.StoppedFlowPolicy))
	}
	if c.StrictFlows {
		opts = append(opts, WithStrictFlows(true))
	}
	return opts
}

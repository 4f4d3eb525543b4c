package conf

import (
	"errors"
	"fmt"
	"os"

	"github.com/goccy/go-yaml"

	"github.com/dreamans/evslice"
)

type Conf struct {
	Log     Log     `yaml:"log"`
	Reactor Reactor `yaml:"reactor"`
	Pool    Pool    `yaml:"pool"`
	TLS     TLS     `yaml:"tls"`
	Server  Server  `yaml:"server"`
	Client  Client  `yaml:"client"`
}

func LoadFromFile(path string) (*Conf, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	return Load(data)
}

// Load parses YAML, fills the defaults and returns every validation error
// at once.
func Load(data []byte) (*Conf, error) {
	var c Conf
	if err := yaml.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	c.setDefaults()
	if errs := c.validate(); len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	return &c, nil
}

func (c *Conf) setDefaults() {
	c.Log.setDefaults()
	c.Reactor.setDefaults()
	c.Pool.setDefaults()
	c.TLS.setDefaults()
	c.Server.setDefaults()
	c.Client.setDefaults()
}

func (c *Conf) validate() []error {
	var errs []error
	errs = append(errs, c.Log.validate()...)
	errs = append(errs, c.Reactor.validate()...)
	errs = append(errs, c.Pool.validate()...)
	errs = append(errs, c.TLS.validate()...)
	errs = append(errs, c.Server.validate()...)
	errs = append(errs, c.Client.validate()...)
	return errs
}

// Options converts the reactor and pool sections.
func (c *Conf) Options() *evslice.Options {
	return evslice.NewOptions().
		SetMaxDescriptors(c.Reactor.MaxDescriptors).
		SetMaxEvents(c.Reactor.MaxEvents).
		SetWaitTimeout(c.Reactor.WaitTimeout).
		SetTLSReadRetries(*c.Reactor.TLSReadRetries).
		SetBlockSize(c.Pool.BlockSize).
		SetMaxRetainedBuffers(c.Pool.MaxRetained).
		SetReadSlack(c.Pool.ReadSlack)
}

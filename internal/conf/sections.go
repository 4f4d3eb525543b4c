package conf

import (
	"crypto/tls"
	"fmt"
	"net"
	"time"

	"github.com/dreamans/evslice"
	"github.com/dreamans/evslice/evlog"
	"github.com/dreamans/evslice/tlsx"
)

type Log struct {
	// Level is a logrus level name, or "none".
	Level string `yaml:"level"`
}

func (l *Log) setDefaults() {
	if l.Level == "" {
		l.Level = "info"
	}
}

func (l *Log) validate() []error {
	var errors []error
	if _, err := evlog.NewLevelLogger(l.Level); err != nil {
		errors = append(errors, fmt.Errorf("log level '%s' is invalid: %v", l.Level, err))
	}
	return errors
}

type Reactor struct {
	MaxDescriptors int    `yaml:"max_descriptors"`
	MaxEvents      int    `yaml:"max_events"`
	WaitTimeout_   string `yaml:"wait_timeout"`
	TLSReadRetries *int   `yaml:"tls_read_retries"`

	WaitTimeout time.Duration `yaml:"-"`
}

func (r *Reactor) setDefaults() {
	if r.MaxDescriptors == 0 {
		r.MaxDescriptors = evslice.DefaultMaxDescriptors
	}
	if r.MaxEvents == 0 {
		r.MaxEvents = evslice.DefaultMaxEvents
	}
	if r.WaitTimeout_ == "" {
		r.WaitTimeout_ = evslice.DefaultWaitTimeout.String()
	}
	if r.TLSReadRetries == nil {
		n := evslice.DefaultTLSReadRetries
		r.TLSReadRetries = &n
	}
}

func (r *Reactor) validate() []error {
	var errors []error
	if r.MaxDescriptors < 1 {
		errors = append(errors, fmt.Errorf("reactor max_descriptors must be positive"))
	}
	if r.MaxEvents < 1 {
		errors = append(errors, fmt.Errorf("reactor max_events must be positive"))
	}
	d, err := time.ParseDuration(r.WaitTimeout_)
	if err != nil {
		errors = append(errors, fmt.Errorf("reactor wait_timeout '%s' is invalid: %v", r.WaitTimeout_, err))
	}
	r.WaitTimeout = d
	if *r.TLSReadRetries < 0 {
		errors = append(errors, fmt.Errorf("reactor tls_read_retries must not be negative"))
	}
	return errors
}

type Pool struct {
	BlockSize   int `yaml:"block_size"`
	MaxRetained int `yaml:"max_retained"`
	ReadSlack   int `yaml:"read_slack"`
}

func (p *Pool) setDefaults() {
	if p.BlockSize == 0 {
		p.BlockSize = evslice.DefaultBlockSize
	}
	if p.MaxRetained == 0 {
		p.MaxRetained = evslice.DefaultMaxRetainedBuffers
	}
	if p.ReadSlack == 0 {
		p.ReadSlack = evslice.DefaultReadSlack
	}
}

func (p *Pool) validate() []error {
	var errors []error
	if p.BlockSize < 1 {
		errors = append(errors, fmt.Errorf("pool block_size must be positive"))
	}
	if p.MaxRetained < 0 {
		errors = append(errors, fmt.Errorf("pool max_retained must not be negative"))
	}
	if p.ReadSlack < 0 {
		errors = append(errors, fmt.Errorf("pool read_slack must not be negative"))
	}
	return errors
}

type TLS struct {
	Enabled    bool   `yaml:"enabled"`
	Cert       string `yaml:"cert"`
	Key        string `yaml:"key"`
	CA         string `yaml:"ca"`
	ServerName string `yaml:"server_name"`
	Insecure   bool   `yaml:"insecure"`
	MinVersion string `yaml:"min_version"`
}

func (t *TLS) setDefaults() {
	if t.MinVersion == "" {
		t.MinVersion = "tls1.2"
	}
}

func (t *TLS) validate() []error {
	var errors []error
	if _, err := tlsx.ParseVersion(t.MinVersion); err != nil {
		errors = append(errors, err)
	}
	if (t.Cert == "") != (t.Key == "") {
		errors = append(errors, fmt.Errorf("tls cert and key must be set together"))
	}
	return errors
}

// ServerConfig returns nil when TLS is disabled.
func (t *TLS) ServerConfig() (*tls.Config, error) {
	if !t.Enabled {
		return nil, nil
	}
	return tlsx.NewServerConfig(t.Cert, t.Key, t.MinVersion)
}

// ClientConfig returns nil when TLS is disabled.
func (t *TLS) ClientConfig() (*tls.Config, error) {
	if !t.Enabled {
		return nil, nil
	}
	return tlsx.NewClientConfig(t.CA, t.ServerName, t.Insecure, t.Cert, t.Key, t.MinVersion)
}

type Server struct {
	Mode_ string `yaml:"mode"`
	Bind  string `yaml:"bind"`
	Port  int    `yaml:"port"`

	Mode evslice.Mode `yaml:"-"`
}

func (s *Server) setDefaults() {
	if s.Mode_ == "" {
		s.Mode_ = "tcp4"
	}
	if s.Port == 0 {
		s.Port = 9000
	}
}

func (s *Server) validate() []error {
	var errors []error
	mode, err := evslice.ParseMode(s.Mode_)
	if err != nil {
		errors = append(errors, fmt.Errorf("server mode '%s' is invalid", s.Mode_))
	} else if mode == evslice.ModeUDP4 {
		errors = append(errors, fmt.Errorf("server mode '%s' is not supported", s.Mode_))
	}
	s.Mode = mode
	if s.Bind != "" && net.ParseIP(s.Bind) == nil {
		errors = append(errors, fmt.Errorf("server bind '%s' is not an IP address", s.Bind))
	}
	if s.Port < 1 || s.Port > 65535 {
		errors = append(errors, fmt.Errorf("server port must be between 1-65535"))
	}
	return errors
}

type Client struct {
	Mode_    string `yaml:"mode"`
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Message  string `yaml:"message"`
	Retries  int    `yaml:"retries"`
	RetryMin string `yaml:"retry_min"`
	RetryMax string `yaml:"retry_max"`

	Mode        evslice.Mode  `yaml:"-"`
	RetryMinDur time.Duration `yaml:"-"`
	RetryMaxDur time.Duration `yaml:"-"`
}

func (c *Client) setDefaults() {
	if c.Mode_ == "" {
		c.Mode_ = "tcp4"
	}
	if c.Host == "" {
		c.Host = "127.0.0.1"
	}
	if c.Port == 0 {
		c.Port = 9000
	}
	if c.Message == "" {
		c.Message = "ping"
	}
	if c.Retries == 0 {
		c.Retries = 5
	}
	if c.RetryMin == "" {
		c.RetryMin = "200ms"
	}
	if c.RetryMax == "" {
		c.RetryMax = "5s"
	}
}

func (c *Client) validate() []error {
	var errors []error
	mode, err := evslice.ParseMode(c.Mode_)
	if err != nil {
		errors = append(errors, fmt.Errorf("client mode '%s' is invalid", c.Mode_))
	} else if mode == evslice.ModeUDP4 {
		errors = append(errors, fmt.Errorf("client mode '%s' is not supported", c.Mode_))
	}
	c.Mode = mode
	if c.Port < 1 || c.Port > 65535 {
		errors = append(errors, fmt.Errorf("client port must be between 1-65535"))
	}
	if c.Retries < 0 {
		errors = append(errors, fmt.Errorf("client retries must not be negative"))
	}
	if c.RetryMinDur, err = time.ParseDuration(c.RetryMin); err != nil {
		errors = append(errors, fmt.Errorf("client retry_min '%s' is invalid: %v", c.RetryMin, err))
	}
	if c.RetryMaxDur, err = time.ParseDuration(c.RetryMax); err != nil {
		errors = append(errors, fmt.Errorf("client retry_max '%s' is invalid: %v", c.RetryMax, err))
	}
	if c.RetryMaxDur < c.RetryMinDur {
		errors = append(errors, fmt.Errorf("client retry_max must not be below retry_min"))
	}
	return errors
}

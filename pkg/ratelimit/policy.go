package ratelimit

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

type KeyBy string

const (
	// KeyByClient keys anonymous resources by client network address.
	KeyByClient KeyBy = "client"
	// KeyBySubject keys per-user resources by authenticated subject id.
	KeyBySubject KeyBy = "subject"
)

const (
	ResourceSearch        = "search"
	ResourceStream        = "stream"
	ResourcePlaylistWrite = "playlist-write"
	ResourceAuthAttempt   = "auth-attempt"
	ResourceOutbound      = "outbound"
)

type Rule struct {
	Limit  int           `yaml:"limit"`
	Window time.Duration `yaml:"window"`
	KeyBy  KeyBy         `yaml:"key_by"`
}

// KeyFor picks the identifier this rule limits on. ok is false when the rule
// is per-user and there is no subject, in which case the check is skipped.
func (r Rule) KeyFor(clientIP, subject string) (id string, ok bool) {
	if r.KeyBy == KeyBySubject {
		return subject, subject != ""
	}
	return clientIP, clientIP != ""
}

// Policy is the static resource table. Outbound rules are keyed by
// downstream service name.
type Policy struct {
	Resources map[string]Rule `yaml:"resources"`
	Outbound  map[string]Rule `yaml:"outbound"`
}

func DefaultPolicy() Policy {
	return Policy{
		Resources: map[string]Rule{
			ResourceSearch:        {Limit: 60, Window: time.Minute, KeyBy: KeyByClient},
			ResourceStream:        {Limit: 120, Window: time.Minute, KeyBy: KeyBySubject},
			ResourcePlaylistWrite: {Limit: 30, Window: time.Minute, KeyBy: KeyBySubject},
			ResourceAuthAttempt:   {Limit: 10, Window: time.Minute, KeyBy: KeyByClient},
		},
		Outbound: map[string]Rule{
			"catalog":  {Limit: 600, Window: time.Minute},
			"playlist": {Limit: 1200, Window: time.Minute},
		},
	}
}

// LoadPolicy returns the defaults overlaid with the YAML file at path. An
// empty path yields the defaults.
func LoadPolicy(path string) (Policy, error) {
	p := DefaultPolicy()
	if path == "" {
		return p, nil
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return Policy{}, fmt.Errorf("ratelimit: read policy: %w", err)
	}
	var file Policy
	if err := yaml.Unmarshal(b, &file); err != nil {
		return Policy{}, fmt.Errorf("ratelimit: parse policy: %w", err)
	}
	for name, r := range file.Resources {
		p.Resources[name] = r
	}
	for name, r := range file.Outbound {
		p.Outbound[name] = r
	}
	if err := p.Validate(); err != nil {
		return Policy{}, err
	}
	return p, nil
}

func (p Policy) Validate() error {
	for name, r := range p.Resources {
		if err := r.validate(); err != nil {
			return fmt.Errorf("ratelimit: resource %q: %w", name, err)
		}
		if r.KeyBy != KeyByClient && r.KeyBy != KeyBySubject {
			return fmt.Errorf("ratelimit: resource %q: key_by must be %q or %q", name, KeyByClient, KeyBySubject)
		}
	}
	for name, r := range p.Outbound {
		if err := r.validate(); err != nil {
			return fmt.Errorf("ratelimit: outbound %q: %w", name, err)
		}
	}
	return nil
}

func (r Rule) validate() error {
	if r.Limit <= 0 {
		return fmt.Errorf("limit must be positive, got %d", r.Limit)
	}
	if r.Window <= 0 {
		return fmt.Errorf("window must be positive, got %s", r.Window)
	}
	return nil
}

func (p Policy) Rule(resource string) (Rule, bool) {
	r, ok := p.Resources[resource]
	return r, ok
}

func (p Policy) OutboundRule(service string) (Rule, bool) {
	r, ok := p.Outbound[service]
	return r, ok
}

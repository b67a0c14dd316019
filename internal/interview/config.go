// Package interview defines the session descriptor: the configuration
// record a hosting transport delivers once at session start.
package interview

import (
	"encoding/json"
	"fmt"
)

const (
	// DefaultDurationMinutes is used when the descriptor omits a duration.
	DefaultDurationMinutes = 20

	// DefaultGlobalPartition is the shared reference-material partition
	// searched when the descriptor does not name one.
	DefaultGlobalPartition = "visa-student"
)

// DocumentRef identifies one uploaded applicant document.
type DocumentRef struct {
	InternalName string `json:"internalName"`
	FriendlyName string `json:"friendlyName"`
	IsRequired   bool   `json:"isRequired"`
}

// Partitions names the retrieval partitions available to a session.
// User is empty when the applicant has no private partition.
type Partitions struct {
	User   string `json:"user"`
	Global string `json:"global"`
}

// Config is the immutable per-session interview configuration. It is
// created once by Parse and owned exclusively by its session; nothing
// mutates it afterwards.
type Config struct {
	VisaCode           string        `json:"visaCode"`
	VisaName           string        `json:"visaName"`
	DurationMinutes    int           `json:"durationMinutes"`
	FocusAreaLabels    []string      `json:"focusAreaLabels"`
	QuestionTopics     []string      `json:"questionTopics"`
	QuestionBank       []string      `json:"questionBank"`
	AgentPromptContext string        `json:"agentPromptContext"`
	Documents          []DocumentRef `json:"uploadedDocuments"`
	Partitions         Partitions    `json:"retrievalPartitions"`
}

// DurationSeconds returns the configured duration in seconds.
func (c Config) DurationSeconds() int {
	return c.DurationMinutes * 60
}

// Defaults are the daemon-level fallbacks applied when a descriptor
// omits a field. Zero values select the package constants, so the
// zero Defaults is always valid.
type Defaults struct {
	DurationMinutes int
	GlobalPartition string
}

func (d Defaults) normalized() Defaults {
	if d.DurationMinutes <= 0 {
		d.DurationMinutes = DefaultDurationMinutes
	}
	if d.GlobalPartition == "" {
		d.GlobalPartition = DefaultGlobalPartition
	}
	return d
}

// Defaulted returns a Config with every optional field set to its
// documented default and all sequences empty.
func Defaulted() Config {
	return DefaultedWith(Defaults{})
}

// DefaultedWith is Defaulted with daemon-level fallbacks applied.
func DefaultedWith(d Defaults) Config {
	d = d.normalized()
	return Config{
		DurationMinutes: d.DurationMinutes,
		Partitions:      Partitions{Global: d.GlobalPartition},
	}
}

// Parse decodes a descriptor payload into a Config. The payload is
// untrusted: a malformed or empty payload yields a fully-defaulted
// Config and a non-nil error describing the defect. The returned Config
// is always usable: the session must start even when configuration is
// degraded, so callers record the error and carry on.
func Parse(payload []byte) (Config, error) {
	return ParseWith(payload, Defaults{})
}

// ParseWith is Parse with daemon-level fallbacks. Descriptor values
// always win; the fallbacks fill only what the descriptor omits.
func ParseWith(payload []byte, d Defaults) (Config, error) {
	d = d.normalized()
	cfg := DefaultedWith(d)

	if len(payload) == 0 {
		return cfg, fmt.Errorf("empty descriptor payload")
	}

	var raw Config
	if err := json.Unmarshal(payload, &raw); err != nil {
		return cfg, fmt.Errorf("decoding descriptor: %w", err)
	}

	cfg = raw
	applyDefaults(&cfg, d)
	return cfg, nil
}

func applyDefaults(cfg *Config, d Defaults) {
	if cfg.DurationMinutes <= 0 {
		cfg.DurationMinutes = d.DurationMinutes
	}
	if cfg.Partitions.Global == "" {
		cfg.Partitions.Global = d.GlobalPartition
	}
	if cfg.FocusAreaLabels == nil {
		cfg.FocusAreaLabels = []string{}
	}
	if cfg.QuestionTopics == nil {
		cfg.QuestionTopics = []string{}
	}
	if cfg.QuestionBank == nil {
		cfg.QuestionBank = []string{}
	}
	if cfg.Documents == nil {
		cfg.Documents = []DocumentRef{}
	}
}

package eligibility

import (
	"context"
	"fmt"
	"os"
	"strings"

	"coldfront/internal/config"

	"gopkg.in/yaml.v3"
)

// WhitelistName selects Whitelist.
const WhitelistName = "whitelist"

// whitelistFile is the on-disk format of ELIGIBILITY_WHITELIST_FILE.
type whitelistFile struct {
	PIs []string `yaml:"pis"`
}

// Whitelist admits PIs whose e-mail address or username is listed.
type Whitelist struct {
	entries map[string]struct{}
}

// NewWhitelist returns a whitelist over entries. Matching ignores case.
func NewWhitelist(entries ...string) *Whitelist {
	w := &Whitelist{entries: make(map[string]struct{}, len(entries))}
	for _, e := range entries {
		if e = normalize(e); e != "" {
			w.entries[e] = struct{}{}
		}
	}
	return w
}

// NewWhitelistFromDeployment merges the inline list with the YAML file, if any.
func NewWhitelistFromDeployment(d config.Deployment) (Policy, error) {
	entries := append([]string(nil), d.EligibilityWhitelist...)
	if d.EligibilityWhitelistFile != "" {
		fromFile, err := LoadWhitelistFile(d.EligibilityWhitelistFile)
		if err != nil {
			return nil, err
		}
		entries = append(entries, fromFile...)
	}
	return NewWhitelist(entries...), nil
}

// LoadWhitelistFile reads the "pis" list from a YAML file.
func LoadWhitelistFile(path string) ([]string, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read eligibility whitelist: %w", err)
	}
	var f whitelistFile
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return nil, fmt.Errorf("parse eligibility whitelist %s: %w", path, err)
	}
	return f.PIs, nil
}

func (w *Whitelist) Name() string { return WhitelistName }

// Len returns the number of distinct entries.
func (w *Whitelist) Len() int { return len(w.entries) }

func (w *Whitelist) Check(_ context.Context, c Candidate) (Decision, error) {
	for _, key := range []string{c.PIEmail, c.PIUsername} {
		if _, ok := w.entries[normalize(key)]; ok && key != "" {
			return Decision{Eligible: true}, nil
		}
	}
	return Decision{Reason: "PI is not on the whitelist of eligible PIs."}, nil
}

func normalize(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

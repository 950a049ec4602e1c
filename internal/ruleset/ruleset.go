// Package ruleset parses upstream rule lists and builds sing-box rule-set
// JSON documents.
package ruleset

import (
	"encoding/json"
	"os"
	"sort"
)

// Version is the sing-box rule-set schema version we emit.
const Version = 3

// Rules holds the parsed entries of one or more rule lists, grouped by kind.
type Rules struct {
	Domain       []string
	DomainSuffix []string
	IPCIDR       []string
}

// Merge appends other's entries. Call Normalize afterwards to restore the
// dedup/sort invariant.
func (r *Rules) Merge(other Rules) {
	r.Domain = append(r.Domain, other.Domain...)
	r.DomainSuffix = append(r.DomainSuffix, other.DomainSuffix...)
	r.IPCIDR = append(r.IPCIDR, other.IPCIDR...)
}

// Normalize de-duplicates and sorts every kind.
func (r *Rules) Normalize() {
	r.Domain = dedupSort(r.Domain)
	r.DomainSuffix = dedupSort(r.DomainSuffix)
	r.IPCIDR = dedupSort(r.IPCIDR)
}

func (r *Rules) Empty() bool {
	return len(r.Domain) == 0 && len(r.DomainSuffix) == 0 && len(r.IPCIDR) == 0
}

func dedupSort(values []string) []string {
	if len(values) == 0 {
		return nil
	}
	seen := make(map[string]bool, len(values))
	out := make([]string, 0, len(values))
	for _, v := range values {
		if !seen[v] {
			seen[v] = true
			out = append(out, v)
		}
	}
	sort.Strings(out)
	return out
}

// RuleSet is the on-disk JSON document consumed by the sing-box compiler.
// Each populated kind becomes its own entry in the rules array.
type RuleSet struct {
	Version int    `json:"version"`
	Rules   []Rule `json:"rules"`
}

type Rule struct {
	Domain       []string `json:"domain,omitempty"`
	DomainSuffix []string `json:"domain_suffix,omitempty"`
	IPCIDR       []string `json:"ip_cidr,omitempty"`
}

// Build assembles the rule-set document for a normalized Rules value.
func Build(r Rules) RuleSet {
	rs := RuleSet{Version: Version}
	if len(r.Domain) > 0 {
		rs.Rules = append(rs.Rules, Rule{Domain: r.Domain})
	}
	if len(r.DomainSuffix) > 0 {
		rs.Rules = append(rs.Rules, Rule{DomainSuffix: r.DomainSuffix})
	}
	if len(r.IPCIDR) > 0 {
		rs.Rules = append(rs.Rules, Rule{IPCIDR: r.IPCIDR})
	}
	return rs
}

// WriteFile writes the rule-set as 2-space indented JSON.
func (rs RuleSet) WriteFile(path string) error {
	data, err := json.MarshalIndent(rs, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, append(data, '\n'), 0o644)
}

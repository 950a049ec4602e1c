package ruleset

import (
	"fmt"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"
)

var ipv4CIDRRe = regexp.MustCompile(`^\d{1,3}(\.\d{1,3}){3}/\d{1,2}$`)

// Parse extracts rules from a rule list in either Clash rule-provider YAML
// (a mapping with a "payload" list) or plain line-oriented form. Unsupported
// rule types (DOMAIN-KEYWORD, PROCESS-NAME, DST-PORT, ...) are ignored
// silently.
func Parse(text string) Rules {
	var rules Rules

	for _, raw := range payloadOrLines(text) {
		line := stripComment(raw)
		if line == "" {
			continue
		}

		// "TYPE,VALUE" style; URLs contain commas in query strings, keep them
		// out of this branch.
		if strings.Contains(line, ",") && !strings.HasPrefix(line, "http") {
			parts := strings.Split(line, ",")
			ruleType := strings.ToUpper(strings.TrimSpace(parts[0]))
			value := ""
			if len(parts) > 1 {
				value = strings.TrimSpace(parts[1])
			}
			if value == "" {
				continue
			}
			switch ruleType {
			case "DOMAIN":
				rules.Domain = append(rules.Domain, value)
			case "DOMAIN-SUFFIX":
				rules.DomainSuffix = append(rules.DomainSuffix, value)
			case "IP-CIDR", "IP-CIDR6":
				rules.IPCIDR = append(rules.IPCIDR, value)
			}
			continue
		}

		if ipv4CIDRRe.MatchString(line) {
			rules.IPCIDR = append(rules.IPCIDR, line)
			continue
		}

		// Bare token like "google.com". Most plain lists are suffix lists.
		if strings.Contains(line, ".") && !strings.Contains(line, " ") && !strings.Contains(line, "/") {
			rules.DomainSuffix = append(rules.DomainSuffix, line)
		}
	}

	rules.Normalize()
	return rules
}

// payloadOrLines returns the Clash payload entries when the text is a
// rule-provider document, otherwise the raw lines.
func payloadOrLines(text string) []string {
	var doc map[string]interface{}
	if err := yaml.Unmarshal([]byte(text), &doc); err == nil {
		if payload, ok := doc["payload"].([]interface{}); ok {
			lines := make([]string, 0, len(payload))
			for _, item := range payload {
				if s := strings.TrimSpace(fmt.Sprint(item)); s != "" {
					lines = append(lines, s)
				}
			}
			return lines
		}
	}
	return strings.Split(text, "\n")
}

// stripComment removes whole-line and inline comments ("#", ";", "//").
// Inline markers count only when preceded by a space so URLs stay intact.
func stripComment(line string) string {
	line = strings.TrimSpace(line)
	if line == "" {
		return ""
	}
	for _, prefix := range []string{"#", ";", "//"} {
		if strings.HasPrefix(line, prefix) {
			return ""
		}
	}
	for _, sep := range []string{" #", " ;", " //"} {
		if idx := strings.Index(line, sep); idx != -1 {
			line = strings.TrimSpace(line[:idx])
		}
	}
	return strings.TrimSpace(line)
}

// suppression.go: Known-bad member exclusion rules
//
// A suppression file keeps the fuzzer away from members that are known to
// hang, crash or otherwise misbehave in uninteresting ways. The file is
// plain text, grouped into sections headed by a bus name in brackets;
// each rule line inside a section names an object path, an interface and
// a method, colon-separated, with an optional free-text description:
//
//	[org.example.Daemon]
//	:org.example.Iface:Method takes minutes to return
//	Halt known to stop the host
//
// Any of the three pattern fields may be empty, which matches anything.
// Rules are loaded once per run and immutable afterwards.
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira fragment
// SPDX-License-Identifier: MPL-2.0

package charybdis

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/agilira/go-errors"
)

// suppressionFileName is the base name searched in the standard locations.
const suppressionFileName = "charybdis.conf"

// Rule is one suppression entry. Empty pattern fields are wildcards;
// non-empty fields match case-sensitively and exactly.
type Rule struct {
	Object      string
	Interface   string
	Method      string
	Description string
}

// matches reports whether the rule covers the given member.
func (r Rule) matches(object, iface, method string) bool {
	if r.Object != "" && r.Object != object {
		return false
	}
	if r.Interface != "" && r.Interface != iface {
		return false
	}
	if r.Method != "" && r.Method != method {
		return false
	}
	return true
}

// Rules is an ordered suppression rule set.
type Rules []Rule

// Match returns the first rule covering the member, in file order. The
// method name position also matches property names when properties are
// fuzzed.
func (rs Rules) Match(object, iface, method string) (*Rule, bool) {
	for i := range rs {
		if rs[i].matches(object, iface, method) {
			return &rs[i], true
		}
	}
	return nil, false
}

// LoadSuppressions loads the suppression rules for serviceName from the
// first readable source: explicitPath when non-empty, then
// ./charybdis.conf, $HOME/.charybdis.conf and /etc/charybdis.conf. A
// missing explicit path is an error; when no standard location exists the
// run simply proceeds without suppressions.
func LoadSuppressions(serviceName, explicitPath string) (Rules, error) {
	if explicitPath != "" {
		f, err := os.Open(explicitPath)
		if err != nil {
			return nil, errors.Wrap(err, ErrCodeSuppression, "suppression file unreadable")
		}
		defer f.Close()
		return ParseSuppressions(f, serviceName)
	}

	candidates := []string{suppressionFileName}
	if home, err := os.UserHomeDir(); err == nil {
		candidates = append(candidates, filepath.Join(home, "."+suppressionFileName))
	}
	candidates = append(candidates, filepath.Join("/etc", suppressionFileName))

	for _, path := range candidates {
		f, err := os.Open(path)
		if err != nil {
			continue
		}
		defer f.Close()
		return ParseSuppressions(f, serviceName)
	}
	return nil, nil
}

// ParseSuppressions reads rules from r, keeping only the section headed
// by serviceName. Lines outside any section, blank lines and '#' comments
// are ignored.
func ParseSuppressions(r io.Reader, serviceName string) (Rules, error) {
	var rules Rules
	inSection := false

	scanner := bufio.NewScanner(r)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		if strings.HasPrefix(line, "[") {
			if !strings.HasSuffix(line, "]") {
				return nil, errors.New(ErrCodeSuppression,
					fmt.Sprintf("line %d: unterminated section header %q", lineNo, line))
			}
			inSection = line[1:len(line)-1] == serviceName
			continue
		}
		if !inSection {
			continue
		}

		rule, err := parseRuleLine(line, lineNo)
		if err != nil {
			return nil, err
		}
		rules = append(rules, rule)
	}
	if err := scanner.Err(); err != nil {
		return nil, errors.Wrap(err, ErrCodeSuppression, "reading suppression file")
	}
	return rules, nil
}

// parseRuleLine splits "[object]:[iface]:method description" into a Rule.
// Missing leading segments widen to wildcards: a bare "Method" suppresses
// that method on every object and interface.
func parseRuleLine(line string, lineNo int) (Rule, error) {
	pattern := line
	description := ""
	if idx := strings.IndexAny(line, " \t"); idx >= 0 {
		pattern = line[:idx]
		description = strings.TrimSpace(line[idx+1:])
	}

	parts := strings.Split(pattern, ":")
	rule := Rule{Description: description}
	switch len(parts) {
	case 1:
		rule.Method = parts[0]
	case 2:
		rule.Interface = parts[0]
		rule.Method = parts[1]
	case 3:
		rule.Object = parts[0]
		rule.Interface = parts[1]
		rule.Method = parts[2]
	default:
		return Rule{}, errors.New(ErrCodeSuppression,
			fmt.Sprintf("line %d: too many ':' separators in %q", lineNo, pattern))
	}
	return rule, nil
}

// Section-based configuration for the AMS host
//
// Reads printer.cfg-style files: [section] headers, "key: value" options,
// "#" comments. Typed accessors return defaults for absent options so the
// host can run from a minimal or empty file.
//
// Copyright (C) 2026  Go Migration Team
//
// This file may be distributed under the terms of the GNU GPLv3 license.

package config

import (
	"bufio"
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"
)

// Config provides access to a parsed configuration file.
type Config struct {
	sections map[string]*Section
	order    []string
}

// Section holds the options of one [section].
type Section struct {
	name    string
	options map[string]string
}

// New creates a new empty Config.
func New() *Config {
	return &Config{sections: make(map[string]*Section)}
}

// Load reads a configuration file and returns a Config.
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: unable to open %s: %w", path, err)
	}
	defer f.Close()

	c := New()
	var current *Section

	scanner := bufio.NewScanner(f)
	lineNum := 0
	for scanner.Scan() {
		lineNum++
		line := scanner.Text()
		if idx := strings.IndexByte(line, '#'); idx >= 0 {
			line = line[:idx]
		}
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}

		if strings.HasPrefix(line, "[") {
			if !strings.HasSuffix(line, "]") {
				return nil, fmt.Errorf("config: %s:%d: malformed section header", path, lineNum)
			}
			name := strings.TrimSpace(line[1 : len(line)-1])
			if name == "" {
				return nil, fmt.Errorf("config: %s:%d: empty section name", path, lineNum)
			}
			current = c.getOrCreate(name)
			continue
		}

		sep := strings.IndexAny(line, ":=")
		if sep < 0 {
			return nil, fmt.Errorf("config: %s:%d: expected 'key: value'", path, lineNum)
		}
		if current == nil {
			return nil, fmt.Errorf("config: %s:%d: option outside of a section", path, lineNum)
		}
		key := strings.ToLower(strings.TrimSpace(line[:sep]))
		value := strings.TrimSpace(line[sep+1:])
		current.options[key] = value
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	return c, nil
}

func (c *Config) getOrCreate(name string) *Section {
	name = strings.ToLower(name)
	if s, ok := c.sections[name]; ok {
		return s
	}
	s := &Section{name: name, options: make(map[string]string)}
	c.sections[name] = s
	c.order = append(c.order, name)
	return s
}

// HasSection reports whether the named section exists.
func (c *Config) HasSection(name string) bool {
	_, ok := c.sections[strings.ToLower(name)]
	return ok
}

// Section returns the named section, creating an empty one if absent so
// accessors can fall back to their defaults.
func (c *Config) Section(name string) *Section {
	if s, ok := c.sections[strings.ToLower(name)]; ok {
		return s
	}
	return &Section{name: strings.ToLower(name), options: make(map[string]string)}
}

// SectionNames returns the section names in file order.
func (c *Config) SectionNames() []string {
	out := make([]string, len(c.order))
	copy(out, c.order)
	return out
}

// Set stores an option value, creating the section if needed.
func (c *Config) Set(section, option, value string) {
	c.getOrCreate(section).options[strings.ToLower(option)] = value
}

// Name returns the section name.
func (s *Section) Name() string {
	return s.name
}

// Options returns the option keys in sorted order.
func (s *Section) Options() []string {
	keys := make([]string, 0, len(s.options))
	for k := range s.options {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Get returns a string option, or def when absent.
func (s *Section) Get(option, def string) string {
	if v, ok := s.options[strings.ToLower(option)]; ok {
		return v
	}
	return def
}

// GetInt returns an integer option, or def when absent or malformed.
func (s *Section) GetInt(option string, def int) int {
	v, ok := s.options[strings.ToLower(option)]
	if !ok {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

// GetFloat returns a float option, or def when absent or malformed.
func (s *Section) GetFloat(option string, def float64) float64 {
	v, ok := s.options[strings.ToLower(option)]
	if !ok {
		return def
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return def
	}
	return f
}

// GetBool returns a boolean option, or def when absent or malformed.
// Accepts true/false, 1/0, yes/no, on/off.
func (s *Section) GetBool(option string, def bool) bool {
	v, ok := s.options[strings.ToLower(option)]
	if !ok {
		return def
	}
	switch strings.ToLower(v) {
	case "true", "1", "yes", "on":
		return true
	case "false", "0", "no", "off":
		return false
	default:
		return def
	}
}

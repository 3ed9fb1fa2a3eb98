// SPDX-License-Identifier: MIT

package config

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// mirrorsFile is the on-disk shape of the optional mirrors override:
//
//	search:
//	  - https://example.invidious.one
//	video:
//	  - https://example.invidious.two
type mirrorsFile struct {
	Search   []string `yaml:"search"`
	Video    []string `yaml:"video"`
	Channel  []string `yaml:"channel"`
	Comments []string `yaml:"comments"`
	Social   []string `yaml:"social"`
}

// LoadMirrorsFile reads a YAML mirrors file. Capabilities missing from the
// file keep their defaults; listed capabilities replace theirs entirely.
func LoadMirrorsFile(path string) (map[Capability][]string, error) {
	data, err := os.ReadFile(path) // #nosec G304
	if err != nil {
		return nil, fmt.Errorf("read mirrors file: %w", err)
	}
	var f mirrorsFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse mirrors file %s: %w", path, err)
	}

	out := map[Capability][]string{
		CapSearch:   normalizeBases(f.Search),
		CapVideo:    normalizeBases(f.Video),
		CapChannel:  normalizeBases(f.Channel),
		CapComments: normalizeBases(f.Comments),
		CapSocial:   normalizeBases(f.Social),
	}
	return out, nil
}

// normalizeBases trims trailing slashes and drops entries that cannot be a
// base URL. Mirror lists are operator-maintained and arrive with mixed
// trailing-slash conventions.
func normalizeBases(urls []string) []string {
	out := make([]string, 0, len(urls))
	for _, u := range urls {
		u = strings.TrimRight(strings.TrimSpace(u), "/")
		if u == "" || !strings.HasPrefix(u, "http") {
			continue
		}
		out = append(out, u)
	}
	return out
}

package config

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

type beaconsFile struct {
	Beacons map[string]string `yaml:"beacons"`
}

// LoadBeacons reads a YAML file of the form
//
//	beacons:
//	  "F4:A5:74:89:16:57": sauna
//
// and returns the aliases keyed by upper-case address.
func LoadBeacons(path string) (map[string]string, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read beacons file: %w", err)
	}

	var f beaconsFile
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return nil, fmt.Errorf("parse beacons file %s: %w", path, err)
	}

	out := make(map[string]string, len(f.Beacons))
	for addr, alias := range f.Beacons {
		key := strings.ToUpper(strings.TrimSpace(addr))
		if !validAddress(key) {
			return nil, fmt.Errorf("beacons file %s: invalid address %q", path, addr)
		}
		if _, dup := out[key]; dup {
			return nil, fmt.Errorf("beacons file %s: address %s listed twice", path, key)
		}
		out[key] = strings.TrimSpace(alias)
	}
	return out, nil
}

// validAddress accepts colon separated six octet addresses.
func validAddress(s string) bool {
	parts := strings.Split(s, ":")
	if len(parts) != 6 {
		return false
	}
	for _, p := range parts {
		if len(p) != 2 || !isHex(p[0]) || !isHex(p[1]) {
			return false
		}
	}
	return true
}

func isHex(c byte) bool {
	return ('0' <= c && c <= '9') || ('A' <= c && c <= 'F')
}

package main

import (
	"os"
	"time"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"

	"github.com/airlinklabs/bthost"
)

// profile holds the defaults btctl starts from. Command-line flags
// override whatever the file sets.
type profile struct {
	Adapter  uint16        `yaml:"adapter"`
	Serial   string        `yaml:"serial"`
	Baud     uint          `yaml:"baud"`
	TCP      string        `yaml:"tcp"`
	Duration time.Duration `yaml:"duration"`
	Security string        `yaml:"security"`
	IOCap    string        `yaml:"io_capability"`
	KeyStore string        `yaml:"keys"`
	Cache    string        `yaml:"cache"`
	Level    string        `yaml:"level"`
}

func defaultProfile() profile {
	return profile{
		Baud:     115200,
		Duration: 5 * time.Second,
		Security: "none",
		IOCap:    "no-input-no-output",
		Level:    "info",
	}
}

func loadProfile(path string) (profile, error) {
	p := defaultProfile()
	if path == "" {
		return p, nil
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return p, errors.Wrap(err, "read config")
	}
	if err := yaml.Unmarshal(b, &p); err != nil {
		return p, errors.Wrap(err, "parse config")
	}
	return p, nil
}

func parseSecurity(s string) (bthost.SecurityLevel, error) {
	switch s {
	case "", "unset":
		return bthost.SecurityUnset, nil
	case "none":
		return bthost.SecurityNone, nil
	case "enc", "enc-only":
		return bthost.SecurityEncOnly, nil
	case "auth", "enc-auth":
		return bthost.SecurityEncAuth, nil
	case "fips", "enc-auth-fips":
		return bthost.SecurityEncAuthFIPS, nil
	}
	return bthost.SecurityUnset, errors.Errorf("unknown security level %q", s)
}

func parseIOCap(s string) (bthost.IOCapability, error) {
	switch s {
	case "", "unset":
		return bthost.IOCapUnset, nil
	case "display-only":
		return bthost.IOCapDisplayOnly, nil
	case "display-yes-no":
		return bthost.IOCapDisplayYesNo, nil
	case "keyboard-only":
		return bthost.IOCapKeyboardOnly, nil
	case "no-input-no-output":
		return bthost.IOCapNoInputNoOutput, nil
	case "keyboard-display":
		return bthost.IOCapKeyboardDisplay, nil
	}
	return bthost.IOCapUnset, errors.Errorf("unknown io capability %q", s)
}

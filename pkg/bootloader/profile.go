// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package bootloader

import (
	"fmt"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

// profile is the TOML form of a device profile. Every field is optional;
// unset fields keep the DefaultConfig value.
type profile struct {
	ReadProtect  *bool   `toml:"read_protect"`
	FuseRead     *bool   `toml:"fuse_read"`
	Greeting     *bool   `toml:"greeting"`
	ExitTimeout  *string `toml:"exit_timeout"`
	WaitSamples  *int    `toml:"wait_samples"`
	WaitInterval *string `toml:"wait_interval"`
	Sentinel     *string `toml:"sentinel"`

	Identity *profileIdentity `toml:"identity"`
	Geometry *profileGeometry `toml:"geometry"`
}

type profileIdentity struct {
	SoftwareID     *string `toml:"software_id"`
	Version        *string `toml:"version"`
	ProgrammerType *string `toml:"programmer_type"`
	DeviceType     *uint8  `toml:"device_type"`
	Signature      []uint8 `toml:"signature"`
}

type profileGeometry struct {
	FlashSize  *uint32 `toml:"flash_size"`
	PageSize   *uint16 `toml:"page_size"`
	BootSize   *uint32 `toml:"boot_size"`
	EEPROMSize *uint32 `toml:"eeprom_size"`
}

// LoadProfile reads a TOML device profile and applies it over DefaultConfig
func LoadProfile(path string) (Config, error) {
	var p profile
	md, err := toml.DecodeFile(path, &p)
	if err != nil {
		return Config{}, fmt.Errorf("profile %s: %w", path, err)
	}
	cfg, err := p.apply(md, DefaultConfig())
	if err != nil {
		return Config{}, fmt.Errorf("profile %s: %w", path, err)
	}
	return cfg, nil
}

// ParseProfile applies a TOML device profile given as text over DefaultConfig
func ParseProfile(data string) (Config, error) {
	var p profile
	md, err := toml.Decode(data, &p)
	if err != nil {
		return Config{}, fmt.Errorf("profile: %w", err)
	}
	cfg, err := p.apply(md, DefaultConfig())
	if err != nil {
		return Config{}, fmt.Errorf("profile: %w", err)
	}
	return cfg, nil
}

func (p profile) apply(md toml.MetaData, cfg Config) (Config, error) {
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, len(undecoded))
		for i, k := range undecoded {
			keys[i] = k.String()
		}
		return cfg, fmt.Errorf("unknown keys: %s", strings.Join(keys, ", "))
	}

	if p.ReadProtect != nil {
		cfg.ReadProtect = *p.ReadProtect
	}
	if p.FuseRead != nil {
		cfg.FuseRead = *p.FuseRead
	}
	if p.Greeting != nil {
		cfg.Greeting = *p.Greeting
	}
	if p.WaitSamples != nil {
		cfg.WaitSamples = *p.WaitSamples
	}

	var err error
	if p.ExitTimeout != nil {
		if cfg.ExitTimeout, err = time.ParseDuration(*p.ExitTimeout); err != nil {
			return cfg, fmt.Errorf("exit_timeout: %w", err)
		}
	}
	if p.WaitInterval != nil {
		if cfg.WaitInterval, err = time.ParseDuration(*p.WaitInterval); err != nil {
			return cfg, fmt.Errorf("wait_interval: %w", err)
		}
	}
	if p.Sentinel != nil {
		if len(*p.Sentinel) != 1 {
			return cfg, fmt.Errorf("sentinel must be a single character, got %q", *p.Sentinel)
		}
		cfg.Sentinel = (*p.Sentinel)[0]
	}

	if id := p.Identity; id != nil {
		if id.SoftwareID != nil {
			cfg.Identity.SoftwareID = *id.SoftwareID
		}
		if id.Version != nil {
			if len(*id.Version) != 2 {
				return cfg, fmt.Errorf("identity.version must be two characters, got %q", *id.Version)
			}
			cfg.Identity.Version = [2]byte{(*id.Version)[0], (*id.Version)[1]}
		}
		if id.ProgrammerType != nil {
			if len(*id.ProgrammerType) != 1 {
				return cfg, fmt.Errorf("identity.programmer_type must be a single character, got %q", *id.ProgrammerType)
			}
			cfg.Identity.ProgrammerType = (*id.ProgrammerType)[0]
		}
		if id.DeviceType != nil {
			cfg.Identity.DeviceType = *id.DeviceType
		}
		if id.Signature != nil {
			if len(id.Signature) != 3 {
				return cfg, fmt.Errorf("identity.signature must have 3 bytes, got %d", len(id.Signature))
			}
			copy(cfg.Identity.Signature[:], id.Signature)
		}
	}

	if g := p.Geometry; g != nil {
		if g.FlashSize != nil {
			cfg.Geometry.FlashSize = *g.FlashSize
		}
		if g.PageSize != nil {
			cfg.Geometry.PageSize = *g.PageSize
		}
		if g.BootSize != nil {
			cfg.Geometry.BootSize = *g.BootSize
		}
		if g.EEPROMSize != nil {
			cfg.Geometry.EEPROMSize = *g.EEPROMSize
		}
	}

	return cfg, cfg.Validate()
}

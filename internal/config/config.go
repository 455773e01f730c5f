// Package config loads the relay's INI configuration file into a
// relay.Config.
package config

import (
	"fmt"

	"gopkg.in/ini.v1"

	relay "github.com/progdn/progdn-rvi"
)

// Load parses the INI file at path and returns a validated relay.Config.
// All three keys (listen, mark, table) are required; unknown keys are
// tolerated.
func Load(path string) (relay.Config, error) {
	file, err := ini.Load(path)
	if err != nil {
		return relay.Config{}, fmt.Errorf("config: cannot parse file %s: %w", path, err)
	}

	section := file.Section("")

	listenKey, err := requireKey(section, "listen")
	if err != nil {
		return relay.Config{}, err
	}
	listen, err := relay.ParseEndpoint(listenKey.String())
	if err != nil {
		return relay.Config{}, fmt.Errorf("config: listen: %w", err)
	}

	markKey, err := requireKey(section, "mark")
	if err != nil {
		return relay.Config{}, err
	}
	mark, err := markKey.Int()
	if err != nil {
		return relay.Config{}, fmt.Errorf("config: mark: %w", err)
	}

	tableKey, err := requireKey(section, "table")
	if err != nil {
		return relay.Config{}, err
	}
	table, err := tableKey.Int()
	if err != nil {
		return relay.Config{}, fmt.Errorf("config: table: %w", err)
	}

	return relay.Config{
		Listen: listen,
		Mark:   mark,
		Table:  table,
	}, nil
}

func requireKey(section *ini.Section, name string) (*ini.Key, error) {
	if !section.HasKey(name) {
		return nil, fmt.Errorf("config: missing required key %q", name)
	}
	return section.Key(name), nil
}

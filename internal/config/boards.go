package config

import (
	"errors"
	"fmt"

	"github.com/spf13/viper"

	"github.com/mtiwari1/exgstream/internal/device"
)

// LoadBoards reads the board catalog. With an empty path it looks for
// boards.{toml,yaml,json} in the working directory and /etc/exgstream and
// falls back to the built-in catalog when none exists.
func LoadBoards(path string) (device.Catalog, error) {
	v := viper.New()
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("boards")
		v.AddConfigPath(".")
		v.AddConfigPath("/etc/exgstream")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path == "" && errors.As(err, &notFound) {
			return device.DefaultCatalog(), nil
		}
		return nil, fmt.Errorf("read boards: %w", err)
	}

	var boards device.Catalog
	if err := v.UnmarshalKey("boards", &boards); err != nil {
		return nil, fmt.Errorf("decode boards: %w", err)
	}
	if len(boards) == 0 {
		return nil, fmt.Errorf("read boards: %s has no boards", v.ConfigFileUsed())
	}
	seen := make(map[string]bool, len(boards))
	for i, b := range boards {
		switch {
		case b.ID == "":
			return nil, fmt.Errorf("read boards: entry %d has no id", i)
		case seen[b.ID]:
			return nil, fmt.Errorf("read boards: duplicate id %q", b.ID)
		}
		seen[b.ID] = true
		if err := b.Configuration().Validate(); err != nil {
			return nil, fmt.Errorf("read boards: %s: %w", b.ID, err)
		}
	}
	return boards, nil
}

package infra

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/akashrtd/cubcen-sub008/internal/domain"
	"gopkg.in/yaml.v3"
)

type platformsFile struct {
	Platforms []domain.PlatformSpec `yaml:"platforms"`
}

// LoadPlatforms читает YAML со списком платформ.
// Ссылки ${VAR} раскрываются из окружения, чтобы секреты не лежали в файле.
func LoadPlatforms(path string) ([]domain.PlatformConfig, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read platforms file: %w", err)
	}
	return ParsePlatforms(raw)
}

func ParsePlatforms(raw []byte) ([]domain.PlatformConfig, error) {
	expanded := os.ExpandEnv(string(raw))

	dec := yaml.NewDecoder(bytes.NewReader([]byte(expanded)))
	dec.KnownFields(true)

	var f platformsFile
	if err := dec.Decode(&f); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("decode platforms: %w", err)
	}

	seen := make(map[string]struct{}, len(f.Platforms))
	out := make([]domain.PlatformConfig, 0, len(f.Platforms))
	for i, spec := range f.Platforms {
		cfg, err := spec.ToConfig()
		if err != nil {
			return nil, fmt.Errorf("platforms[%d]: %w", i, err)
		}
		if _, dup := seen[cfg.ID]; dup {
			return nil, fmt.Errorf("platforms[%d]: duplicate platform id %q", i, cfg.ID)
		}
		seen[cfg.ID] = struct{}{}
		out = append(out, cfg)
	}
	return out, nil
}

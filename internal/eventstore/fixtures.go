package eventstore

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"go.yaml.in/yaml/v3"

	"eventreminder/internal/domain"
)

// Fixtures is the on-disk seed format.
type Fixtures struct {
	Users  []domain.User  `json:"users" yaml:"users"`
	Events []domain.Event `json:"events" yaml:"events"`
}

// LoadFixtures reads path (YAML unless the extension is .json) into w and
// returns the number of records written.
func LoadFixtures(ctx context.Context, path string, w Writer) (int, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	var fx Fixtures
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		dec := json.NewDecoder(bytes.NewReader(b))
		dec.DisallowUnknownFields()
		err = dec.Decode(&fx)
	default:
		dec := yaml.NewDecoder(bytes.NewReader(b))
		dec.KnownFields(true)
		err = dec.Decode(&fx)
	}
	if err != nil {
		return 0, fmt.Errorf("fixtures %s: %w", path, err)
	}

	n := 0
	for _, u := range fx.Users {
		if strings.TrimSpace(u.Name) == "" {
			return n, fmt.Errorf("fixtures %s: user without name", path)
		}
		if err := w.PutUser(ctx, u); err != nil {
			return n, err
		}
		n++
	}
	for _, ev := range fx.Events {
		if ev.ID == 0 {
			return n, fmt.Errorf("fixtures %s: event %q without id", path, ev.Name)
		}
		if err := w.PutEvent(ctx, ev); err != nil {
			return n, err
		}
		n++
	}
	return n, nil
}

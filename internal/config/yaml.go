package config

import (
	"context"
	"fmt"
	"io"

	"gopkg.in/yaml.v3"
)

// Export writes the whole config table as a YAML document.
func Export(ctx context.Context, store *Store, w io.Writer) error {
	values, err := store.All(ctx)
	if err != nil {
		return err
	}
	enc := yaml.NewEncoder(w)
	defer enc.Close()
	return enc.Encode(values)
}

// Import reads a YAML document of key/value pairs into the store,
// overwriting existing keys. Unknown keys are rejected so a typo in an
// imported file does not silently become dead config.
func Import(ctx context.Context, store *Store, r io.Reader) error {
	data, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	var values map[string]string
	if err := yaml.Unmarshal(data, &values); err != nil {
		return fmt.Errorf("parse config yaml: %w", err)
	}

	defaults := defaultValues()
	for key := range values {
		if _, ok := defaults[key]; !ok {
			return fmt.Errorf("unknown config key %q", key)
		}
	}
	for key, value := range values {
		if err := store.Set(ctx, key, value); err != nil {
			return err
		}
	}
	return nil
}

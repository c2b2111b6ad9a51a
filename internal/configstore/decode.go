package configstore

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"

	"pkt.systems/carousel/schema"
)

// Decode parses a rotation record, applying defaults to absent fields.
func Decode(path string, data []byte) (schema.RotationConfig, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return schema.RotationConfig{}, &schema.ConfigError{Kind: schema.ErrConfigParse, Path: path, Err: errors.New("empty file")}
	}
	if !json.Valid(trimmed) {
		var probe any
		err := json.Unmarshal(trimmed, &probe)
		return schema.RotationConfig{}, &schema.ConfigError{Kind: schema.ErrConfigParse, Path: path, Err: err}
	}
	if trimmed[0] != '{' {
		return schema.RotationConfig{}, schema.Invalid(path, "record must be a JSON object")
	}
	raw := map[string]json.RawMessage{}
	if err := json.Unmarshal(trimmed, &raw); err != nil {
		return schema.RotationConfig{}, &schema.ConfigError{Kind: schema.ErrConfigParse, Path: path, Err: err}
	}

	cfg := schema.DefaultRotationConfig()
	pagesRaw, ok := raw[keyURLs]
	if !ok || isNull(pagesRaw) {
		return schema.RotationConfig{}, schema.Invalid(path, "urls is required")
	}
	if err := decodeField(pagesRaw, &cfg.Pages); err != nil {
		return schema.RotationConfig{}, schema.Invalid(path, "urls must be an array of strings: %v", err)
	}
	if cfg.Pages == nil {
		cfg.Pages = []string{}
	}
	for key, target := range map[string]*int{
		keyInterval:         &cfg.IntervalMS,
		keyPauseDuration:    &cfg.PauseDurationMS,
		keyTabPauseDuration: &cfg.TabPauseDurationMS,
	} {
		value, ok := raw[key]
		if !ok || isNull(value) {
			continue
		}
		if err := decodeField(value, target); err != nil {
			return schema.RotationConfig{}, schema.Invalid(path, "%s must be an integer: %v", key, err)
		}
	}
	if value, ok := raw[keyRefreshCommand]; ok && !isNull(value) {
		if err := decodeField(value, &cfg.Refresh); err != nil {
			return schema.RotationConfig{}, schema.Invalid(path, "refresh_command: %v", err)
		}
	}
	if value, ok := raw[keyShortcuts]; ok && !isNull(value) {
		shortcuts := map[string]string{}
		if err := decodeField(value, &shortcuts); err != nil {
			return schema.RotationConfig{}, schema.Invalid(path, "shortcuts must map indices to strings: %v", err)
		}
		cfg.Shortcuts = shortcuts
	}
	if err := schema.ValidateRotationConfig(cfg); err != nil {
		return schema.RotationConfig{}, schema.Invalid(path, "%v", err)
	}
	return cfg, nil
}

// Encode renders a full record the way Save writes it.
func Encode(cfg schema.RotationConfig) ([]byte, error) {
	raw := map[string]json.RawMessage{}
	if err := putSettings(raw, cfg); err != nil {
		return nil, err
	}
	if err := put(raw, keyRefreshCommand, cfg.Refresh); err != nil {
		return nil, err
	}
	data, err := json.MarshalIndent(raw, "", "    ")
	if err != nil {
		return nil, fmt.Errorf("encode rotation record: %w", err)
	}
	return append(data, '\n'), nil
}

func decodeField(data json.RawMessage, target any) error {
	decoder := json.NewDecoder(bytes.NewReader(data))
	decoder.DisallowUnknownFields()
	return decoder.Decode(target)
}

func isNull(data json.RawMessage) bool {
	return bytes.Equal(bytes.TrimSpace(data), []byte("null"))
}

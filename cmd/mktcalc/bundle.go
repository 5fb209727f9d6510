package main

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/vmihailenco/msgpack/v5"
	"gopkg.in/yaml.v3"

	"github.com/aristath/mktcalc/internal/modules/optimization"
)

// fileFormat picks the decoder from the file extension
func fileFormat(path string) (string, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		return "json", nil
	case ".yaml", ".yml":
		return "yaml", nil
	case ".msgpack", ".mp":
		return "msgpack", nil
	}
	return "", fmt.Errorf("unsupported file type %q (want .json, .yaml or .msgpack)", filepath.Ext(path))
}

// decodeFile decodes a json, yaml or msgpack file into v
func decodeFile(path string, v interface{}) error {
	format, err := fileFormat(path)
	if err != nil {
		return err
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", path, err)
	}

	switch format {
	case "yaml":
		err = yaml.Unmarshal(data, v)
	case "msgpack":
		err = msgpack.Unmarshal(data, v)
	default:
		err = json.Unmarshal(data, v)
	}
	if err != nil {
		return fmt.Errorf("failed to decode %s: %w", path, err)
	}
	return nil
}

// loadParams reads a bundle file. raw selects the wire bundle layout where
// the first instrument carries the constraints.
func loadParams(path string, raw bool) (*optimization.Params, []optimization.Warning, error) {
	if raw {
		var bundle optimization.RawPortfolio
		if err := decodeFile(path, &bundle); err != nil {
			return nil, nil, err
		}
		return optimization.ParsePortfolio(bundle)
	}

	var req optimization.Request
	if err := decodeFile(path, &req); err != nil {
		return nil, nil, err
	}
	return req.Normalize()
}

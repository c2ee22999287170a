package config

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/hashicorp/hcl/v2"
	"github.com/hashicorp/hcl/v2/gohcl"
	"github.com/hashicorp/hcl/v2/hclparse"
	"github.com/zclconf/go-cty/cty"

	"grimm.is/podnet/internal/errors"
)

// LoadFile loads a parameter file (HCL or JSON) and validates it.
func LoadFile(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var f *File
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		f, err = LoadJSON(data)
	default:
		f, err = LoadHCL(data, path)
	}
	if err != nil {
		return nil, err
	}

	if err := f.Validate().Err(); err != nil {
		return nil, err
	}
	return f, nil
}

// LoadHCL decodes HCL bytes. Expressions may reference environment
// variables as env.NAME. The result is not validated.
func LoadHCL(data []byte, filename string) (*File, error) {
	parser := hclparse.NewParser()
	file, diags := parser.ParseHCL(data, filename)
	if diags.HasErrors() {
		return nil, errors.Wrap(diags, errors.KindValidation, "HCL parse error")
	}

	var f File
	diags = gohcl.DecodeBody(file.Body, EvalContext(), &f)
	if diags.HasErrors() {
		return nil, errors.Wrap(diags, errors.KindValidation, "HCL decode error")
	}
	return &f, nil
}

// LoadJSON decodes JSON bytes. The result is not validated.
func LoadJSON(data []byte) (*File, error) {
	var f File
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&f); err != nil {
		return nil, errors.Wrap(err, errors.KindValidation, "JSON decode error")
	}
	return &f, nil
}

// EvalContext exposes the process environment to HCL expressions.
func EvalContext() *hcl.EvalContext {
	env := make(map[string]cty.Value)
	for _, kv := range os.Environ() {
		k, v, ok := strings.Cut(kv, "=")
		if !ok || k == "" || !hclIdentifier(k) {
			continue
		}
		env[k] = cty.StringVal(v)
	}

	envVal := cty.EmptyObjectVal
	if len(env) > 0 {
		envVal = cty.ObjectVal(env)
	}
	return &hcl.EvalContext{
		Variables: map[string]cty.Value{
			"env": envVal,
		},
	}
}

func hclIdentifier(s string) bool {
	for i, r := range s {
		switch {
		case r == '_', r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z':
		case i > 0 && (r >= '0' && r <= '9' || r == '-'):
		default:
			return false
		}
	}
	return true
}

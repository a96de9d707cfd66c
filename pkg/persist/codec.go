// Package persist saves and loads small state documents through pluggable codecs.
package persist

import (
	"encoding/json"
	"fmt"
	"io"

	"gopkg.in/yaml.v3"
)

const (
	jsonExtension = ".json"
	yamlExtension = ".yaml"
	defaultIndent = "  "
	yamlIndent    = 2
)

// Codec serializes state documents.
type Codec interface {
	Encode(w io.Writer, state any) error
	Decode(r io.Reader, state any) error
	// Extension returns the file extension including the dot.
	Extension() string
}

// JSONCodec encodes state as JSON. An empty Indent writes compact JSON.
type JSONCodec struct {
	Indent string
}

// NewJSONCodec returns a JSON codec with two-space indentation.
func NewJSONCodec() *JSONCodec {
	return &JSONCodec{Indent: defaultIndent}
}

// Encode implements Codec.
func (c *JSONCodec) Encode(w io.Writer, state any) error {
	enc := json.NewEncoder(w)
	if c.Indent != "" {
		enc.SetIndent("", c.Indent)
	}

	err := enc.Encode(state)
	if err != nil {
		return fmt.Errorf("json encode: %w", err)
	}

	return nil
}

// Decode implements Codec.
func (c *JSONCodec) Decode(r io.Reader, state any) error {
	err := json.NewDecoder(r).Decode(state)
	if err != nil {
		return fmt.Errorf("json decode: %w", err)
	}

	return nil
}

// Extension implements Codec.
func (c *JSONCodec) Extension() string {
	return jsonExtension
}

// YAMLCodec encodes state as YAML.
type YAMLCodec struct{}

// NewYAMLCodec returns a YAML codec.
func NewYAMLCodec() *YAMLCodec {
	return &YAMLCodec{}
}

// Encode implements Codec.
func (c *YAMLCodec) Encode(w io.Writer, state any) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(yamlIndent)

	err := enc.Encode(state)
	if err != nil {
		return fmt.Errorf("yaml encode: %w", err)
	}

	closeErr := enc.Close()
	if closeErr != nil {
		return fmt.Errorf("yaml flush: %w", closeErr)
	}

	return nil
}

// Decode implements Codec.
func (c *YAMLCodec) Decode(r io.Reader, state any) error {
	err := yaml.NewDecoder(r).Decode(state)
	if err != nil {
		return fmt.Errorf("yaml decode: %w", err)
	}

	return nil
}

// Extension implements Codec.
func (c *YAMLCodec) Extension() string {
	return yamlExtension
}

package main

import (
	"encoding/json"
	"fmt"
	"io"

	"gopkg.in/yaml.v3"

	"github.com/mschirtzinger/todosync/internal/ui"
)

// output writes v as JSON or YAML when requested and reports whether it
// did; otherwise the caller prints its text rendering.
func output(w io.Writer, v any) (bool, error) {
	switch {
	case jsonOutput:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		if err := enc.Encode(v); err != nil {
			return true, fmt.Errorf("failed to encode JSON: %w", err)
		}
		return true, nil
	case yamlOutput:
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		defer enc.Close()
		if err := enc.Encode(v); err != nil {
			return true, fmt.Errorf("failed to encode YAML: %w", err)
		}
		return true, nil
	}
	return false, nil
}

// emit writes v machine-readably, or render's text otherwise.
func emit(w io.Writer, v any, render func(u *ui.Renderer) string) error {
	done, err := output(w, v)
	if done || err != nil {
		return err
	}
	_, err = io.WriteString(w, render(ui.NewRenderer(w)))
	return err
}

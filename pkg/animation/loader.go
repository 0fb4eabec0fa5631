package animation

import (
	"embed"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

//go:embed data/*.json
var embeddedAnimations embed.FS

// Parse decodes an animation from JSON. name is used when the document
// does not carry one.
func Parse(name string, data []byte) (*Animation, error) {
	var anim Animation
	if err := json.Unmarshal(data, &anim); err != nil {
		return nil, fmt.Errorf("%w: failed to parse animation JSON: %w", ErrInvalidAnimation, err)
	}
	if anim.Name == "" {
		anim.Name = name
	}
	if err := anim.Validate(); err != nil {
		return nil, err
	}
	return &anim, nil
}

// LoadEmbedded loads a built-in animation.
func LoadEmbedded(name string) (*Animation, error) {
	data, err := embeddedAnimations.ReadFile("data/" + name + ".json")
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	return Parse(name, data)
}

// ListEmbedded returns the names of all built-in animations.
func ListEmbedded() ([]string, error) {
	entries, err := embeddedAnimations.ReadDir("data")
	if err != nil {
		return nil, fmt.Errorf("failed to list embedded animations: %w", err)
	}

	var names []string
	for _, entry := range entries {
		if !entry.IsDir() && strings.HasSuffix(entry.Name(), ".json") {
			names = append(names, strings.TrimSuffix(entry.Name(), ".json"))
		}
	}
	return names, nil
}

// LoadFromFile loads an animation from a JSON file on disk.
// The file name, without extension, is the default name.
func LoadFromFile(path string) (*Animation, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read animation file: %w", err)
	}
	name := strings.TrimSuffix(filepath.Base(path), ".json")
	return Parse(name, data)
}

// LoadFromDirectory loads every *.json animation in dir.
func LoadFromDirectory(dir string) ([]*Animation, error) {
	files, err := filepath.Glob(filepath.Join(dir, "*.json"))
	if err != nil {
		return nil, fmt.Errorf("failed to list animation files: %w", err)
	}

	anims := make([]*Animation, 0, len(files))
	for _, file := range files {
		anim, err := LoadFromFile(file)
		if err != nil {
			return nil, fmt.Errorf("failed to load %s: %w", file, err)
		}
		anims = append(anims, anim)
	}
	return anims, nil
}

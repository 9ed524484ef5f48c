package dataset

import (
	"bytes"
	"encoding/json"

	"gopkg.in/yaml.v3"
)

// FileMap maps a file path to its tree name, keeping insertion order
type FileMap struct {
	paths []string
	trees map[string]string
}

// NewFileMap creates an empty map
func NewFileMap() *FileMap {
	return &FileMap{trees: make(map[string]string)}
}

// Add records path with tree. Re-adding a path updates its tree and keeps
// its original position.
func (m *FileMap) Add(path, tree string) {
	if _, ok := m.trees[path]; !ok {
		m.paths = append(m.paths, path)
	}

	m.trees[path] = tree
}

// Len returns the number of files
func (m *FileMap) Len() int {
	if m == nil {
		return 0
	}

	return len(m.paths)
}

// Paths returns the file paths in insertion order
func (m *FileMap) Paths() []string {
	if m == nil {
		return nil
	}

	out := make([]string, len(m.paths))
	copy(out, m.paths)
	return out
}

// Tree returns the tree name for path
func (m *FileMap) Tree(path string) (string, bool) {
	if m == nil {
		return "", false
	}

	tree, ok := m.trees[path]
	return tree, ok
}

// Has reports whether path is present
func (m *FileMap) Has(path string) bool {
	_, ok := m.Tree(path)
	return ok
}

// MarshalJSON writes an object whose keys keep insertion order
func (m *FileMap) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')

	for i, path := range m.Paths() {
		if i > 0 {
			buf.WriteByte(',')
		}

		key, err := json.Marshal(path)
		if err != nil {
			return nil, err
		}

		value, err := json.Marshal(m.trees[path])
		if err != nil {
			return nil, err
		}

		buf.Write(key)
		buf.WriteByte(':')
		buf.Write(value)
	}

	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// MarshalYAML writes a mapping node whose keys keep insertion order
func (m *FileMap) MarshalYAML() (any, error) {
	node := &yaml.Node{Kind: yaml.MappingNode}

	for _, path := range m.Paths() {
		node.Content = append(node.Content,
			&yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: path},
			&yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: m.trees[path]},
		)
	}

	return node, nil
}

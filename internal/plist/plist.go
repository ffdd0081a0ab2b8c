// Package plist reads and mutates property list files through
// colon-delimited key paths, e.g. ":CFBundleDocumentTypes:2:CFBundleTypeExtensions".
// List items are addressed by zero-based integer index. Both XML and binary
// plists are handled; writes always produce XML.
package plist

import (
	"bytes"
	"fmt"
	"os"
	"strconv"
	"strings"

	hplist "howett.net/plist"
)

// FieldError reports a key path that could not be resolved or mutated.
type FieldError struct {
	Path string
	Msg  string
}

func (e *FieldError) Error() string {
	return fmt.Sprintf("plist field %q: %s", e.Path, e.Msg)
}

// File wraps a plist file on disk.
type File struct {
	path string
}

// NewFile returns a File for the given path. The file does not need to exist
// until the first read; SetField creates it.
func NewFile(path string) *File {
	return &File{path: path}
}

// Path returns the underlying file path.
func (f *File) Path() string { return f.path }

// Root decodes and returns the root object of the plist.
func (f *File) Root() (interface{}, error) {
	data, err := os.ReadFile(f.path)
	if err != nil {
		return nil, fmt.Errorf("read plist: %w", err)
	}
	var root interface{}
	if _, err := hplist.Unmarshal(data, &root); err != nil {
		return nil, fmt.Errorf("decode plist %s: %w", f.path, err)
	}
	return root, nil
}

// GetField resolves a key path and returns the value found there.
func (f *File) GetField(field string) (interface{}, error) {
	root, err := f.Root()
	if err != nil {
		return nil, err
	}
	return resolve(root, field)
}

// HasField reports whether the key path resolves.
func (f *File) HasField(field string) bool {
	_, err := f.GetField(field)
	return err == nil
}

// SetField sets the value at the key path and writes the file back. An empty
// field replaces the root object. Intermediate containers must already exist.
func (f *File) SetField(field string, value interface{}) error {
	if field == "" {
		return f.write(value)
	}
	var root interface{}
	if data, err := os.ReadFile(f.path); err == nil {
		if _, err := hplist.Unmarshal(data, &root); err != nil {
			return fmt.Errorf("decode plist %s: %w", f.path, err)
		}
	} else {
		root = map[string]interface{}{}
	}
	parent, key, err := resolveParent(root, field)
	if err != nil {
		return err
	}
	if err := setIn(parent, key, value); err != nil {
		return &FieldError{Path: field, Msg: err.Error()}
	}
	return f.write(root)
}

// DeleteField removes the value at the key path and writes the file back.
func (f *File) DeleteField(field string) error {
	root, err := f.Root()
	if err != nil {
		return err
	}
	parent, key, err := resolveParent(root, field)
	if err != nil {
		return err
	}
	if err := deleteIn(parent, key); err != nil {
		return &FieldError{Path: field, Msg: err.Error()}
	}
	return f.write(root)
}

func (f *File) write(root interface{}) error {
	var buf bytes.Buffer
	enc := hplist.NewEncoder(&buf)
	enc.Indent("\t")
	if err := enc.Encode(root); err != nil {
		return fmt.Errorf("encode plist: %w", err)
	}
	if err := os.WriteFile(f.path, buf.Bytes(), 0o644); err != nil {
		return fmt.Errorf("write plist: %w", err)
	}
	return nil
}

// resolve walks the key path from the root object.
func resolve(root interface{}, field string) (interface{}, error) {
	if field == "" {
		return root, nil
	}
	current := root
	for _, key := range splitPath(field) {
		next, err := getIn(current, key)
		if err != nil {
			return nil, &FieldError{Path: field, Msg: err.Error()}
		}
		current = next
	}
	return current, nil
}

// resolveParent walks to the container holding the final key of the path.
func resolveParent(root interface{}, field string) (parent interface{}, key string, err error) {
	keys := splitPath(field)
	if len(keys) == 0 {
		return nil, "", &FieldError{Path: field, Msg: "empty key path"}
	}
	current := root
	for _, k := range keys[:len(keys)-1] {
		next, err := getIn(current, k)
		if err != nil {
			return nil, "", &FieldError{Path: field, Msg: err.Error()}
		}
		current = next
	}
	return current, keys[len(keys)-1], nil
}

func splitPath(field string) []string {
	field = strings.TrimPrefix(field, ":")
	if field == "" {
		return nil
	}
	return strings.Split(field, ":")
}

func getIn(container interface{}, key string) (interface{}, error) {
	switch c := container.(type) {
	case map[string]interface{}:
		v, ok := c[key]
		if !ok {
			return nil, fmt.Errorf("key %q not found", key)
		}
		return v, nil
	case []interface{}:
		i, err := strconv.Atoi(key)
		if err != nil {
			return nil, fmt.Errorf("key %q is not a valid array index", key)
		}
		if i < 0 || i >= len(c) {
			return nil, fmt.Errorf("index %d out of range (len %d)", i, len(c))
		}
		return c[i], nil
	default:
		return nil, fmt.Errorf("value at %q is not a dict or array", key)
	}
}

func setIn(container interface{}, key string, value interface{}) error {
	switch c := container.(type) {
	case map[string]interface{}:
		c[key] = value
		return nil
	case []interface{}:
		i, err := strconv.Atoi(key)
		if err != nil {
			return fmt.Errorf("key %q is not a valid array index", key)
		}
		if i < 0 || i >= len(c) {
			return fmt.Errorf("index %d out of range (len %d)", i, len(c))
		}
		c[i] = value
		return nil
	default:
		return fmt.Errorf("cannot set key %q on non-container", key)
	}
}

func deleteIn(container interface{}, key string) error {
	switch c := container.(type) {
	case map[string]interface{}:
		if _, ok := c[key]; !ok {
			return fmt.Errorf("key %q not found", key)
		}
		delete(c, key)
		return nil
	default:
		// Array element deletion would require the grandparent to re-slice;
		// nothing in the runner needs it.
		return fmt.Errorf("cannot delete key %q on non-dict", key)
	}
}

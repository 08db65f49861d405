package konfig

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strings"
	"sync"
	"unicode"
)

// Source is a settings source: the set of declared configuration options.
// Declared option names are the UPPERCASE ones; lowercase entries are
// ignored by Names and by strict override validation.
type Source interface {
	// Name identifies the source in error messages.
	Name() string
	// Names returns the declared option names in sorted order.
	Names() []string
	// Get returns the raw (unevaluated) value of an option.
	Get(name string) (interface{}, bool)
}

// isOptionName reports whether name is a declared option name: non-empty,
// containing at least one letter and no lowercase letters.
func isOptionName(name string) bool {
	hasLetter := false
	for _, r := range name {
		if unicode.IsLower(r) {
			return false
		}
		if unicode.IsLetter(r) {
			hasLetter = true
		}
	}
	return hasLetter
}

type mapSource struct {
	name   string
	values map[string]interface{}
}

// FromMap builds a settings source from the given mapping.
func FromMap(values map[string]interface{}) Source {
	return &mapSource{name: "map", values: values}
}

func (s *mapSource) Name() string { return s.name }

func (s *mapSource) Names() []string {
	names := make([]string, 0, len(s.values))
	for name := range s.values {
		if isOptionName(name) {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}

func (s *mapSource) Get(name string) (interface{}, bool) {
	value, ok := s.values[name]
	return value, ok
}

type jsonFileSource struct {
	path   string
	once   sync.Once
	values map[string]interface{}
	err    error
}

// FromJSONFile builds a settings source backed by a JSON file. The file is
// read and parsed on first use, at most once.
func FromJSONFile(path string) Source {
	return &jsonFileSource{path: path}
}

func (s *jsonFileSource) load() error {
	s.once.Do(func() {
		data, err := os.ReadFile(s.path)
		if err != nil {
			s.err = fmt.Errorf("%w: unable to load configuration file `%s`: %v", ErrSettingsNotLoadable, s.path, err)
			return
		}
		var values map[string]interface{}
		if err := json.Unmarshal(data, &values); err != nil {
			s.err = fmt.Errorf("%w: unable to parse configuration file `%s`: %v", ErrSettingsNotLoadable, s.path, err)
			return
		}
		s.values = values
	})
	return s.err
}

func (s *jsonFileSource) Name() string { return s.path }

func (s *jsonFileSource) Names() []string {
	if s.load() != nil {
		return nil
	}
	names := make([]string, 0, len(s.values))
	for name := range s.values {
		if isOptionName(name) {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}

func (s *jsonFileSource) Get(name string) (interface{}, bool) {
	if s.load() != nil {
		return nil, false
	}
	value, ok := s.values[name]
	return value, ok
}

// loadFromVariable resolves the settings source named by the given
// environment variable, which must hold a path to a JSON settings file.
func loadFromVariable(variableName string) (Source, error) {
	path := strings.TrimSpace(os.Getenv(variableName))
	if path == "" {
		return nil, fmt.Errorf(
			"%w: the environment variable `%s` is not set or empty and as such configuration could not be loaded; "+
				"set this variable and make it point to a configuration file",
			ErrSettingsNotSpecified, variableName,
		)
	}
	source := FromJSONFile(path).(*jsonFileSource)
	if err := source.load(); err != nil {
		return nil, err
	}
	return source, nil
}

// chainSource resolves options across multiple sources; later sources take
// precedence over earlier ones.
type chainSource struct {
	sources []Source
}

func (s *chainSource) Name() string {
	names := make([]string, len(s.sources))
	for i, source := range s.sources {
		names[i] = source.Name()
	}
	return strings.Join(names, ",")
}

func (s *chainSource) Names() []string {
	seen := make(map[string]struct{})
	var names []string
	for _, source := range s.sources {
		for _, name := range source.Names() {
			if _, ok := seen[name]; !ok {
				seen[name] = struct{}{}
				names = append(names, name)
			}
		}
	}
	sort.Strings(names)
	return names
}

func (s *chainSource) Get(name string) (interface{}, bool) {
	for i := len(s.sources) - 1; i >= 0; i-- {
		if value, ok := s.sources[i].Get(name); ok {
			return value, ok
		}
	}
	return nil, false
}

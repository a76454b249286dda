package fixture

import "strings"

// CheckGraph walks the fixture graph reachable from roots without invoking any
// producer. It returns the first *ConfigError found: an undeclared fixture, a
// malformed descriptor or a dependency cycle.
func CheckGraph(lookup Lookup, roots []string) error {
	const (
		visiting = 1
		done     = 2
	)
	state := make(map[string]int)
	var path []string

	var visit func(name string) error
	visit = func(name string) error {
		switch state[name] {
		case done:
			return nil
		case visiting:
			return &ConfigError{Fixture: name, Reason: "dependency cycle: " + cyclePath(path, name)}
		}
		if strings.TrimSpace(name) == "" {
			return &ConfigError{Reason: "empty fixture name"}
		}
		if lookup == nil {
			return &ConfigError{Fixture: name, Reason: "fixture is not declared"}
		}
		desc, ok := lookup.Fixture(name)
		if !ok {
			return &ConfigError{Fixture: name, Reason: "fixture is not declared"}
		}
		if err := desc.Validate(); err != nil {
			return err
		}

		state[name] = visiting
		path = append(path, name)
		for _, dep := range desc.Dependencies {
			if err := visit(dep); err != nil {
				return err
			}
		}
		path = path[:len(path)-1]
		state[name] = done
		return nil
	}

	for _, root := range roots {
		if err := visit(root); err != nil {
			return err
		}
	}
	return nil
}

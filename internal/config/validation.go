package config

import "fmt"

// Validate checks invariants across the whole backend registry beyond what
// each BackendConfig.Validate checks in isolation: the uniqueness
// invariant on qualifiedName falls directly out of backend names being
// unique map keys with a reserved "." separator, so the only thing left to
// check here is that every entry is individually well-formed.
func (c *AggregatorConfig) Validate() error {
	for name, backend := range c.Backends {
		if backend.Name != name {
			return fmt.Errorf("backend map key %q does not match backend name %q", name, backend.Name)
		}
		if err := backend.Validate(); err != nil {
			return err
		}
	}
	return nil
}

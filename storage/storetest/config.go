// Package storetest provides a field-backed storage.Config for tests.
package storetest

// Config implements storage.Config with plain fields.
type Config struct {
	Backend string
	URL     string
	Path    string
}

func (c *Config) GetStoreBackend() string { return c.Backend }
func (c *Config) GetStoreURL() string     { return c.URL }
func (c *Config) GetStorePath() string    { return c.Path }

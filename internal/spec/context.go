package spec

// Context declares how rows are redacted for one audience.
type Context struct {
	Name string `yaml:"-"`

	// Blacklist fields are dropped from every scrubbed row.
	Blacklist []string `yaml:"blacklist,omitempty"`

	// Delegates maps a field holding a nested row (or list of rows) to the
	// context that scrubs it.
	Delegates map[string]string `yaml:"delegates,omitempty"`

	// With and Select are always applied for an operation.
	With   map[string][]string       `yaml:"with,omitempty"`
	Select map[string]map[string]any `yaml:"select,omitempty"`

	// AllowedWith whitelists caller-requested relations per operation.
	AllowedWith map[string][]string `yaml:"allowed_with,omitempty"`

	// Allow is an optional boolean expression deciding whether a caller may
	// pick this context. Evaluated against operation, entity and header.
	Allow string `yaml:"allow,omitempty"`
}

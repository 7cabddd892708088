package gen

// Option configures code generation.
type Option func(*Config) error

// Config holds code generation settings.
type Config struct {
	// Package is the Go package name of the generated code. Defaults to
	// the document's package name.
	Package string
	// Target is the output directory.
	Target string
	// Header is the comment added at the top of each generated file.
	Header string
}

// WithHeader sets the file header comment.
// The header is added at the top of each generated file.
func WithHeader(header string) Option {
	return func(c *Config) error {
		c.Header = header
		return nil
	}
}

// WithPackage sets the output package name, overriding the document's.
func WithPackage(pkg string) Option {
	return func(c *Config) error {
		if pkg == "" {
			return NewConfigError("Package", nil, "package cannot be empty")
		}
		c.Package = pkg
		return nil
	}
}

// WithTarget sets the output directory.
// The directory where generated code will be written.
func WithTarget(dir string) Option {
	return func(c *Config) error {
		if dir == "" {
			return NewConfigError("Target", nil, "target directory cannot be empty")
		}
		c.Target = dir
		return nil
	}
}

// Apply applies options to the config.
// It returns the first error encountered.
func (c *Config) Apply(opts ...Option) error {
	for _, opt := range opts {
		if err := opt(c); err != nil {
			return err
		}
	}
	return nil
}

// NewConfig creates a new Config with the given options.
func NewConfig(opts ...Option) (*Config, error) {
	c := &Config{Header: defaultHeader}
	if err := c.Apply(opts...); err != nil {
		return nil, err
	}
	return c, nil
}

const defaultHeader = "Code generated by unison. DO NOT EDIT."

package microfw

import (
	"io"
	"os"
)

// Framework configuration property keys.
const (
	// PropFrameworkLog names the framework property holding the log
	// sink. The value must implement io.Writer.
	PropFrameworkLog = "org.cppmicroservices.framework.log"

	// PropFrameworkAutoload enables autoload directory scanning when
	// set to true.
	PropFrameworkAutoload = "org.cppmicroservices.framework.autoload"
)

// FrameworkConfig carries the launch properties of a framework
// instance. Arbitrary user keys are preserved and visible through Get;
// the framework itself only interprets the Prop* keys above.
type FrameworkConfig struct {
	properties map[string]any
}

// NewFrameworkConfig creates an empty configuration.
func NewFrameworkConfig() *FrameworkConfig {
	return &FrameworkConfig{properties: make(map[string]any)}
}

// Set stores a launch property. It returns the config to allow
// chaining during framework construction.
func (c *FrameworkConfig) Set(key string, value any) *FrameworkConfig {
	c.properties[key] = value
	return c
}

// Get returns a launch property and whether it was set.
func (c *FrameworkConfig) Get(key string) (any, bool) {
	v, ok := c.properties[key]
	return v, ok
}

// LogSink returns the configured log sink, or os.Stderr if the
// PropFrameworkLog property is absent or does not implement io.Writer.
func (c *FrameworkConfig) LogSink() io.Writer {
	if v, ok := c.properties[PropFrameworkLog]; ok {
		if w, ok := v.(io.Writer); ok {
			return w
		}
	}
	return os.Stderr
}

// AutoloadEnabled reports whether autoload directory scanning is on.
func (c *FrameworkConfig) AutoloadEnabled() bool {
	if v, ok := c.properties[PropFrameworkAutoload]; ok {
		if b, ok := v.(bool); ok {
			return b
		}
	}
	return false
}

// Package buildinfo carries build-time metadata separate from user configuration
package buildinfo

import (
	"github.com/google/uuid"

	"github.com/tphakala/twsaudio/internal/logger"
)

// UnknownValue is reported for metadata the build did not inject
const UnknownValue = "unknown"

// BuildInfo provides read access to build-time metadata
type BuildInfo interface {
	Version() string
	BuildDate() string
	SystemID() string
}

// Context contains build-time metadata that is not user-configurable.
// It is created once in main from linker-injected values.
type Context struct {
	version   string
	buildDate string
	systemID  string
}

// NewContext creates a build context
func NewContext(version, buildDate, systemID string) *Context {
	return &Context{version: version, buildDate: buildDate, systemID: systemID}
}

// DeviceSystemID derives a stable identifier for a named earbud, so both
// halves of a pair report distinct ids across restarts
func DeviceSystemID(name, side string) string {
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte(name+"/"+side)).String()
}

// WithSystemID returns a copy carrying id
func (c *Context) WithSystemID(id string) *Context {
	if c == nil {
		return NewContext("", "", id)
	}
	cp := *c
	cp.systemID = id
	return &cp
}

// Version returns the build version string
func (c *Context) Version() string {
	if c == nil || c.version == "" {
		return UnknownValue
	}
	return c.version
}

// BuildDate returns the build date string
func (c *Context) BuildDate() string {
	if c == nil || c.buildDate == "" {
		return UnknownValue
	}
	return c.buildDate
}

// SystemID returns the unique system identifier
func (c *Context) SystemID() string {
	if c == nil || c.systemID == "" {
		return UnknownValue
	}
	return c.systemID
}

// Release is the release name reported to error telemetry
func (c *Context) Release() string {
	return "twsaudio@" + c.Version()
}

// Fields returns the metadata as log fields
func (c *Context) Fields() []logger.Field {
	return []logger.Field{
		logger.String("version", c.Version()),
		logger.String("build_date", c.BuildDate()),
		logger.String("system_id", c.SystemID()),
	}
}

package eventlogger

import (
	"time"

	"github.com/dreschagin/eventlogger/internal/domain/valueobject"
)

const (
	DefaultMaxRetries   = 3
	DefaultRetryDelay   = time.Second
	DefaultBatchSize    = 10
	DefaultBatchTimeout = 5 * time.Second
	DefaultCollection   = "event_logs"
	DefaultCategory     = "EventLogger"
)

// ErrorCallback receives remote-path failures: the event name (or
// FlushEventName for batch flushes) and a human-readable message.
// It is called synchronously and must not block for long.
type ErrorCallback func(eventName, message string)

// Config is the immutable set of options an EventLogger runs with.
// Derive variants with CopyWith; there are no setters.
type Config struct {
	remoteEnabled    bool
	localEnabled     bool
	maxRetries       int
	retryDelay       time.Duration
	onError          ErrorCallback
	includeUserInfo  bool
	globalParameters map[string]interface{}
	minimumLevel     valueobject.Level
	batchMode        bool
	batchSize        int
	batchTimeout     time.Duration
	collection       string
	category         string
}

// Overrides lists the options to change in CopyWith. Nil pointers keep the
// current value. ClearOnError and ClearGlobalParameters remove the field even
// when no replacement is supplied, and win over a supplied replacement.
type Overrides struct {
	RemoteEnabled         *bool
	LocalEnabled          *bool
	MaxRetries            *int
	RetryDelay            *time.Duration
	OnError               ErrorCallback
	ClearOnError          bool
	IncludeUserInfo       *bool
	GlobalParameters      map[string]interface{}
	ClearGlobalParameters bool
	MinimumLevel          *valueobject.Level
	BatchMode             *bool
	BatchSize             *int
	BatchTimeout          *time.Duration
	Collection            *string
	Category              *string
}

// DefaultConfig returns remote and local logging on, 3 retries one second
// apart, user info included, no level threshold and batch mode off.
func DefaultConfig() Config {
	return Config{
		remoteEnabled:   true,
		localEnabled:    true,
		maxRetries:      DefaultMaxRetries,
		retryDelay:      DefaultRetryDelay,
		includeUserInfo: true,
		minimumLevel:    valueobject.LevelDebug,
		batchSize:       DefaultBatchSize,
		batchTimeout:    DefaultBatchTimeout,
		collection:      DefaultCollection,
		category:        DefaultCategory,
	}
}

// NewConfig applies overrides on top of DefaultConfig.
func NewConfig(o Overrides) Config {
	return DefaultConfig().CopyWith(o)
}

// CopyWith returns a new Config with the overrides applied. The receiver is left untouched.
func (c Config) CopyWith(o Overrides) Config {
	next := c
	next.globalParameters = copyParams(c.globalParameters)

	if o.RemoteEnabled != nil {
		next.remoteEnabled = *o.RemoteEnabled
	}
	if o.LocalEnabled != nil {
		next.localEnabled = *o.LocalEnabled
	}
	if o.MaxRetries != nil {
		next.maxRetries = *o.MaxRetries
	}
	if o.RetryDelay != nil {
		next.retryDelay = *o.RetryDelay
	}
	if o.OnError != nil {
		next.onError = o.OnError
	}
	if o.ClearOnError {
		next.onError = nil
	}
	if o.IncludeUserInfo != nil {
		next.includeUserInfo = *o.IncludeUserInfo
	}
	if o.GlobalParameters != nil {
		next.globalParameters = copyParams(o.GlobalParameters)
	}
	if o.ClearGlobalParameters {
		next.globalParameters = nil
	}
	if o.MinimumLevel != nil {
		next.minimumLevel = *o.MinimumLevel
	}
	if o.BatchMode != nil {
		next.batchMode = *o.BatchMode
	}
	if o.BatchSize != nil {
		next.batchSize = *o.BatchSize
	}
	if o.BatchTimeout != nil {
		next.batchTimeout = *o.BatchTimeout
	}
	if o.Collection != nil {
		next.collection = *o.Collection
	}
	if o.Category != nil {
		next.category = *o.Category
	}

	next.normalize()
	return next
}

func (c *Config) normalize() {
	if c.maxRetries < 0 {
		c.maxRetries = 0
	}
	if c.retryDelay < 0 {
		c.retryDelay = 0
	}
	if c.batchSize < 1 {
		c.batchSize = 1
	}
	if c.batchTimeout <= 0 {
		c.batchTimeout = DefaultBatchTimeout
	}
	if c.minimumLevel.Validate() != nil {
		c.minimumLevel = valueobject.LevelDebug
	}
	if c.collection == "" {
		c.collection = DefaultCollection
	}
	if c.category == "" {
		c.category = DefaultCategory
	}
	if len(c.globalParameters) == 0 {
		c.globalParameters = nil
	}
}

func (c Config) RemoteEnabled() bool                      { return c.remoteEnabled }
func (c Config) LocalEnabled() bool                       { return c.localEnabled }
func (c Config) MaxRetries() int                          { return c.maxRetries }
func (c Config) RetryDelay() time.Duration                { return c.retryDelay }
func (c Config) OnError() ErrorCallback                   { return c.onError }
func (c Config) IncludeUserInfo() bool                    { return c.includeUserInfo }
func (c Config) MinimumLevel() valueobject.Level          { return c.minimumLevel }
func (c Config) BatchMode() bool                          { return c.batchMode }
func (c Config) BatchSize() int                           { return c.batchSize }
func (c Config) BatchTimeout() time.Duration              { return c.batchTimeout }
func (c Config) Collection() string                       { return c.collection }
func (c Config) Category() string                         { return c.category }
func (c Config) HasGlobalParameters() bool                { return len(c.globalParameters) > 0 }
func (c Config) GlobalParameters() map[string]interface{} { return copyParams(c.globalParameters) }

// Pointer helpers for building Overrides inline.
func Bool(v bool) *bool                              { return &v }
func Int(v int) *int                                 { return &v }
func Duration(v time.Duration) *time.Duration        { return &v }
func String(v string) *string                        { return &v }
func LevelOf(v valueobject.Level) *valueobject.Level { return &v }

func copyParams(src map[string]interface{}) map[string]interface{} {
	if src == nil {
		return nil
	}
	dst := make(map[string]interface{}, len(src))
	for k, v := range src {
		dst[k] = v
	}
	return dst
}

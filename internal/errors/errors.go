// Package errors provides centralized error handling with optional telemetry integration
package errors

import (
	stderrors "errors"
	"fmt"
	"maps"
	"runtime"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// ErrorCategory represents the type of error for better categorization
type ErrorCategory string

// CategorizedError is an interface for errors that can specify their own category
type CategorizedError interface {
	error
	ErrorCategory() ErrorCategory
}

const (
	CategoryValidation        ErrorCategory = "validation"
	CategoryConfiguration     ErrorCategory = "configuration"
	CategoryState             ErrorCategory = "state"
	CategoryRejectedEvent     ErrorCategory = "rejected-event"
	CategoryHardware          ErrorCategory = "hardware"
	CategoryContractViolation ErrorCategory = "contract-violation"
	CategoryTimeout           ErrorCategory = "timeout"
	CategoryNotFound          ErrorCategory = "not-found"
	CategoryConflict          ErrorCategory = "conflict"
	CategoryResource          ErrorCategory = "resource"
	CategoryLimit             ErrorCategory = "limit"
	CategoryPersistence       ErrorCategory = "persistence"
	CategoryFileIO            ErrorCategory = "file-io"
	CategoryNetwork           ErrorCategory = "network"
	CategoryMQTTConnection    ErrorCategory = "mqtt-connection"
	CategoryMQTTPublish       ErrorCategory = "mqtt-publish"
	CategoryHTTP              ErrorCategory = "http-request"
	CategoryGeneric           ErrorCategory = "generic"
)

// Priority constants for error prioritization
const (
	PriorityLow      = "low"
	PriorityMedium   = "medium"
	PriorityHigh     = "high"
	PriorityCritical = "critical"
)

// ComponentUnknown is used when the component cannot be determined.
const ComponentUnknown = "unknown"

// modulePrefix is skipped when walking the stack for component detection.
const modulePrefix = "github.com/tphakala/twsaudio/internal/errors"

// EnhancedError wraps an error with additional context and metadata
type EnhancedError struct {
	Err       error          // Original error
	component string         // Component where error occurred (lazily detected)
	Category  ErrorCategory  // Error category for better grouping
	Priority  string         // Explicit priority override (optional)
	Context   map[string]any // Additional context data
	Timestamp time.Time      // When the error occurred
	reported  bool           // Whether telemetry has been sent
	mu        sync.RWMutex   // Mutex to protect concurrent access
	detected  bool           // Whether component has been auto-detected
}

// Error implements the error interface
func (ee *EnhancedError) Error() string {
	if ee.Err == nil {
		return fmt.Sprintf("%s error in %s", ee.Category, ee.GetComponent())
	}
	return ee.Err.Error()
}

// Unwrap implements the error unwrapping interface
func (ee *EnhancedError) Unwrap() error {
	return ee.Err
}

// Is implements error type checking. An enhanced target matches when both
// errors share category and message; anything else falls back to the chain.
func (ee *EnhancedError) Is(target error) bool {
	if ee2, ok := target.(*EnhancedError); ok {
		if ee == ee2 {
			return true
		}
		return ee.Category == ee2.Category && ee.Err != nil && ee2.Err != nil &&
			ee.Err.Error() == ee2.Err.Error()
	}
	return false
}

// GetComponent returns the component name, detecting it lazily if needed
func (ee *EnhancedError) GetComponent() string {
	ee.mu.RLock()
	if ee.detected || ee.component != "" {
		component := ee.component
		ee.mu.RUnlock()
		return component
	}
	ee.mu.RUnlock()

	ee.mu.Lock()
	defer ee.mu.Unlock()

	if ee.component == "" && !ee.detected {
		ee.component = detectComponent()
		ee.detected = true
		if ee.component == "" {
			ee.component = ComponentUnknown
		}
	}

	return ee.component
}

// GetCategory returns the error category
func (ee *EnhancedError) GetCategory() string {
	return string(ee.Category)
}

// GetPriority returns the explicit priority if set, empty string otherwise
func (ee *EnhancedError) GetPriority() string {
	return ee.Priority
}

// GetContext returns a copy of the error context
func (ee *EnhancedError) GetContext() map[string]any {
	ee.mu.RLock()
	defer ee.mu.RUnlock()

	if ee.Context == nil {
		return nil
	}

	contextCopy := make(map[string]any, len(ee.Context))
	maps.Copy(contextCopy, ee.Context)
	return contextCopy
}

// GetTimestamp returns when the error occurred
func (ee *EnhancedError) GetTimestamp() time.Time {
	return ee.Timestamp
}

// GetError returns the underlying error
func (ee *EnhancedError) GetError() error {
	return ee.Err
}

// GetMessage returns the error message
func (ee *EnhancedError) GetMessage() string {
	return ee.Error()
}

// MarkReported marks this error as reported to telemetry
func (ee *EnhancedError) MarkReported() {
	ee.mu.Lock()
	defer ee.mu.Unlock()
	ee.reported = true
}

// IsReported returns whether this error has been reported
func (ee *EnhancedError) IsReported() bool {
	ee.mu.RLock()
	defer ee.mu.RUnlock()
	return ee.reported
}

// ErrorBuilder provides a fluent interface for creating enhanced errors
type ErrorBuilder struct {
	err       error
	component string
	category  ErrorCategory
	priority  string
	context   map[string]any
}

// New creates a new error with enhanced context
func New(err error) *ErrorBuilder {
	return &ErrorBuilder{err: err}
}

// Newf creates a new formatted error with enhanced context
func Newf(format string, args ...any) *ErrorBuilder {
	return New(fmt.Errorf(format, args...))
}

// Component sets the component name (auto-detected if not set)
func (eb *ErrorBuilder) Component(component string) *ErrorBuilder {
	eb.component = component
	return eb
}

// Category sets the error category for better grouping
func (eb *ErrorBuilder) Category(category ErrorCategory) *ErrorBuilder {
	eb.category = category
	return eb
}

// Priority sets the explicit priority override for the error
func (eb *ErrorBuilder) Priority(priority string) *ErrorBuilder {
	switch priority {
	case PriorityLow, PriorityMedium, PriorityHigh, PriorityCritical:
		eb.priority = priority
	default:
		if priority != "" {
			eb.priority = PriorityMedium
		}
	}
	return eb
}

// Context adds context data to the error
func (eb *ErrorBuilder) Context(key string, value any) *ErrorBuilder {
	if eb.context == nil {
		eb.context = make(map[string]any)
	}
	eb.context[key] = value
	return eb
}

// Timing adds performance timing context
func (eb *ErrorBuilder) Timing(operation string, duration time.Duration) *ErrorBuilder {
	eb.Context("operation", operation)
	eb.Context("duration_ms", duration.Milliseconds())
	return eb
}

// Build creates the EnhancedError and triggers optional telemetry reporting.
// Wrapping another EnhancedError inherits its component and category unless
// they were set explicitly.
func (eb *ErrorBuilder) Build() *EnhancedError {
	eb.inherit()
	if !hasActiveReporting.Load() {
		ee := &EnhancedError{
			Err:       eb.err,
			component: eb.component,
			Category:  eb.category,
			Priority:  eb.priority,
			Context:   eb.context,
			Timestamp: time.Now(),
			detected:  eb.component != "",
		}
		if ee.component == "" {
			ee.component = ComponentUnknown
			ee.detected = true
		}
		if ee.Category == "" {
			ee.Category = CategoryGeneric
		}
		if ee.Priority == "" {
			ee.Priority = defaultPriority(ee.Category)
		}
		return ee
	}

	if eb.component == "" {
		eb.component = detectComponent()
	}
	if eb.category == "" {
		eb.category = detectCategory(eb.err)
	}
	if eb.priority == "" {
		eb.priority = defaultPriority(eb.category)
	}

	ee := &EnhancedError{
		Err:       eb.err,
		component: eb.component,
		Category:  eb.category,
		Priority:  eb.priority,
		Context:   eb.context,
		Timestamp: time.Now(),
		detected:  true,
	}

	reportToTelemetry(ee)

	return ee
}

func (eb *ErrorBuilder) inherit() {
	inner, ok := eb.err.(*EnhancedError)
	if !ok {
		return
	}
	if eb.component == "" {
		eb.component = inner.GetComponent()
	}
	if eb.category == "" {
		eb.category = inner.Category
		if eb.priority == "" {
			eb.priority = inner.Priority
		}
	}
}

// defaultPriority maps a category to the priority used when none is set.
func defaultPriority(category ErrorCategory) string {
	switch category {
	case CategoryContractViolation:
		return PriorityCritical
	case CategoryHardware, CategoryPersistence, CategoryConfiguration:
		return PriorityHigh
	case CategoryRejectedEvent, CategoryValidation:
		return PriorityLow
	default:
		return PriorityMedium
	}
}

// Component registry for dynamic component detection
var (
	componentRegistry = make(map[string]string)
	registryMutex     sync.RWMutex
)

// RegisterComponent registers a package path pattern with a component name
func RegisterComponent(packagePattern, componentName string) {
	registryMutex.Lock()
	defer registryMutex.Unlock()
	componentRegistry[packagePattern] = componentName
}

func init() {
	RegisterComponent("internal/pipeline", "pipeline")
	RegisterComponent("internal/anc", "anc")
	RegisterComponent("internal/syncproto", "syncproto")
	RegisterComponent("internal/resource", "resource")
	RegisterComponent("internal/graph", "graph")
	RegisterComponent("internal/eventloop", "eventloop")
	RegisterComponent("internal/controller", "controller")
	RegisterComponent("internal/persist", "persist")
	RegisterComponent("internal/tones", "tones")
	RegisterComponent("internal/mqtt", "mqtt")
	RegisterComponent("internal/conf", "configuration")
	RegisterComponent("internal/api", "api")
}

// detectComponent walks the call stack to find the first registered component
func detectComponent() string {
	pcs := make([]uintptr, 16)
	n := runtime.Callers(2, pcs)
	if n == len(pcs) {
		pcs = make([]uintptr, 32)
		n = runtime.Callers(2, pcs)
	}

	for i := range n {
		fn := runtime.FuncForPC(pcs[i])
		if fn == nil {
			continue
		}
		funcName := fn.Name()
		if strings.Contains(funcName, modulePrefix) {
			continue
		}
		if component := lookupComponent(funcName); component != ComponentUnknown {
			return component
		}
	}

	return ComponentUnknown
}

// lookupComponent searches the registry for a matching component
func lookupComponent(funcName string) string {
	registryMutex.RLock()
	defer registryMutex.RUnlock()

	for pattern, component := range componentRegistry {
		if strings.Contains(funcName, pattern) {
			return component
		}
	}

	return ComponentUnknown
}

// detectCategory derives a category from the wrapped error
func detectCategory(err error) ErrorCategory {
	if err == nil {
		return CategoryGeneric
	}

	var catErr CategorizedError
	if stderrors.As(err, &catErr) {
		return catErr.ErrorCategory()
	}

	var enhErr *EnhancedError
	if stderrors.As(err, &enhErr) && enhErr.Category != "" {
		return enhErr.Category
	}

	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "timeout"), strings.Contains(msg, "deadline"):
		return CategoryTimeout
	case strings.Contains(msg, "invalid"), strings.Contains(msg, "out of range"):
		return CategoryValidation
	case strings.Contains(msg, "not found"):
		return CategoryNotFound
	case strings.Contains(msg, "connection"):
		return CategoryNetwork
	}

	return CategoryGeneric
}

// ContractViolation reports a programming-contract violation and panics with it.
// Continuing after such a violation would operate on inconsistent shared
// hardware state, so the caller never regains control.
func ContractViolation(component, message string, kv ...any) {
	eb := New(NewStd(message)).
		Component(component).
		Category(CategoryContractViolation).
		Priority(PriorityCritical)
	for i := 0; i+1 < len(kv); i += 2 {
		key, ok := kv[i].(string)
		if !ok {
			key = fmt.Sprint(kv[i])
		}
		eb.Context(key, kv[i+1])
	}
	panic(eb.Build())
}

// IsContractViolation reports whether a recovered panic value is a contract violation.
func IsContractViolation(v any) bool {
	err, ok := v.(error)
	if !ok {
		return false
	}
	return IsCategory(err, CategoryContractViolation)
}

// Wrap wraps an existing error with enhanced context
func Wrap(err error) *ErrorBuilder {
	return New(err)
}

// ValidationError creates a validation error
func ValidationError(message string) *EnhancedError {
	return New(NewStd(message)).
		Category(CategoryValidation).
		Build()
}

// Standard library passthrough functions.
// These allow this package to be a drop-in replacement for the standard errors package.

// NewStd creates a new standard error
func NewStd(text string) error {
	return stderrors.New(text)
}

// Is reports whether any error in err's tree matches target
func Is(err, target error) bool {
	return stderrors.Is(err, target)
}

// As finds the first error in err's tree that matches target
func As(err error, target any) bool {
	return stderrors.As(err, target)
}

// Unwrap returns the result of calling the Unwrap method on err
func Unwrap(err error) error {
	return stderrors.Unwrap(err)
}

// Join returns an error that wraps the given errors
func Join(errs ...error) error {
	return stderrors.Join(errs...)
}

// IsCategory checks if an error is an EnhancedError with the specified category.
func IsCategory(err error, category ErrorCategory) bool {
	var enhancedErr *EnhancedError
	return As(err, &enhancedErr) && enhancedErr.Category == category
}

// IsNotFound checks if an error is an EnhancedError with CategoryNotFound.
func IsNotFound(err error) bool {
	return IsCategory(err, CategoryNotFound)
}

// hasActiveReporting is true while a telemetry reporter or event publisher is installed.
var hasActiveReporting atomic.Bool

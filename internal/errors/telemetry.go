// Package errors - telemetry integration (optional)
package errors

import (
	"fmt"
	"regexp"
	"strings"
	"sync"
	"unicode"

	"github.com/getsentry/sentry-go"
)

// TelemetryReporter is an interface for reporting errors to telemetry systems
type TelemetryReporter interface {
	ReportError(err *EnhancedError)
	IsEnabled() bool
}

// EventPublisher receives every reported error, e.g. to fan it out on the event bus.
type EventPublisher interface {
	TryPublish(event any) bool
}

// SentryReporter implements TelemetryReporter for Sentry
type SentryReporter struct {
	enabled bool
}

// NewSentryReporter creates a new Sentry telemetry reporter
func NewSentryReporter(enabled bool) *SentryReporter {
	return &SentryReporter{enabled: enabled}
}

// IsEnabled returns whether Sentry telemetry is enabled
func (sr *SentryReporter) IsEnabled() bool {
	return sr.enabled
}

// ReportError reports an enhanced error to Sentry with privacy protection
func (sr *SentryReporter) ReportError(ee *EnhancedError) {
	if !sr.enabled || ee.IsReported() {
		return
	}

	message := scrubMessageForPrivacy(fmt.Sprintf("[%s] %s", ee.Category, ee.Error()))
	component := ee.GetComponent()

	sentry.WithScope(func(scope *sentry.Scope) {
		title := generateErrorTitle(ee)

		scope.SetTag("error_title", title)
		scope.SetTag("component", component)
		scope.SetTag("category", string(ee.Category))
		scope.SetTag("priority", ee.Priority)

		for key, value := range ee.GetContext() {
			if s, ok := value.(string); ok {
				value = scrubMessageForPrivacy(s)
			}
			scope.SetContext(key, map[string]any{"value": value})
		}

		level := getErrorLevel(ee.Category)
		scope.SetLevel(level)
		scope.SetFingerprint([]string{title, component, string(ee.Category)})

		event := sentry.NewEvent()
		event.Message = message
		event.Level = level
		event.Exception = []sentry.Exception{{Type: title, Value: message}}
		sentry.CaptureEvent(event)
	})

	ee.MarkReported()
}

// generateErrorTitle builds a grouping title from component, category and operation
func generateErrorTitle(ee *EnhancedError) string {
	var parts []string

	if component := ee.GetComponent(); component != "" && component != ComponentUnknown {
		parts = append(parts, titleCase(component))
	}
	if category := formatCategoryForTitle(ee.Category); category != "" {
		parts = append(parts, category)
	}
	if operation, ok := ee.GetContext()["operation"].(string); ok && operation != "" {
		parts = append(parts, formatOperationForTitle(operation))
	}

	if len(parts) == 0 {
		return fmt.Sprintf("%T", ee.Err)
	}
	return strings.Join(parts, " ")
}

func formatCategoryForTitle(category ErrorCategory) string {
	switch category {
	case CategoryContractViolation:
		return "Contract Violation"
	case CategoryHardware:
		return "Hardware Error"
	case CategoryPersistence:
		return "Persistence Error"
	case CategoryTimeout:
		return "Timeout"
	case CategoryConfiguration:
		return "Configuration Error"
	case CategoryValidation:
		return "Validation Error"
	case CategoryResource:
		return "Resource Error"
	case CategoryNetwork, CategoryMQTTConnection, CategoryMQTTPublish:
		return "Network Error"
	default:
		return string(category)
	}
}

func formatOperationForTitle(operation string) string {
	words := strings.Fields(strings.ReplaceAll(operation, "_", " "))
	for i, word := range words {
		words[i] = titleCase(word)
	}
	return strings.Join(words, " ")
}

func titleCase(s string) string {
	if s == "" {
		return s
	}
	runes := []rune(s)
	runes[0] = unicode.ToUpper(runes[0])
	return string(runes)
}

// getErrorLevel returns appropriate Sentry level based on category
func getErrorLevel(category ErrorCategory) sentry.Level {
	switch category {
	case CategoryContractViolation:
		return sentry.LevelFatal
	case CategoryHardware, CategoryPersistence, CategoryConfiguration:
		return sentry.LevelError
	case CategoryNetwork, CategoryMQTTConnection, CategoryMQTTPublish, CategoryTimeout, CategoryHTTP:
		return sentry.LevelWarning
	case CategoryRejectedEvent, CategoryValidation:
		return sentry.LevelInfo
	default:
		return sentry.LevelError
	}
}

var (
	hooksMu                 sync.RWMutex
	globalTelemetryReporter TelemetryReporter
	globalEventPublisher    EventPublisher
)

// SetTelemetryReporter sets the global telemetry reporter
func SetTelemetryReporter(reporter TelemetryReporter) {
	hooksMu.Lock()
	defer hooksMu.Unlock()
	globalTelemetryReporter = reporter
	updateActiveReporting()
}

// GetTelemetryReporter returns the current telemetry reporter
func GetTelemetryReporter() TelemetryReporter {
	hooksMu.RLock()
	defer hooksMu.RUnlock()
	return globalTelemetryReporter
}

// SetEventPublisher sets the publisher that receives every built error
func SetEventPublisher(publisher EventPublisher) {
	hooksMu.Lock()
	defer hooksMu.Unlock()
	globalEventPublisher = publisher
	updateActiveReporting()
}

// ClearErrorHooks removes the reporter and publisher. Used by tests.
func ClearErrorHooks() {
	hooksMu.Lock()
	defer hooksMu.Unlock()
	globalTelemetryReporter = nil
	globalEventPublisher = nil
	updateActiveReporting()
}

// updateActiveReporting must be called with hooksMu held.
func updateActiveReporting() {
	active := globalEventPublisher != nil ||
		(globalTelemetryReporter != nil && globalTelemetryReporter.IsEnabled())
	hasActiveReporting.Store(active)
}

// reportToTelemetry hands the error to the publisher and then the reporter
func reportToTelemetry(ee *EnhancedError) {
	hooksMu.RLock()
	publisher := globalEventPublisher
	reporter := globalTelemetryReporter
	hooksMu.RUnlock()

	if publisher != nil {
		publisher.TryPublish(ee)
	}
	if reporter != nil && reporter.IsEnabled() {
		reporter.ReportError(ee)
	}
}

// PrivacyScrubber is a function type for privacy scrubbing
type PrivacyScrubber func(string) string

var globalPrivacyScrubber PrivacyScrubber

// SetPrivacyScrubber sets the global privacy scrubbing function
func SetPrivacyScrubber(scrubber PrivacyScrubber) {
	hooksMu.Lock()
	defer hooksMu.Unlock()
	globalPrivacyScrubber = scrubber
}

func scrubMessageForPrivacy(message string) string {
	hooksMu.RLock()
	scrubber := globalPrivacyScrubber
	hooksMu.RUnlock()
	if scrubber != nil {
		return scrubber(message)
	}
	return basicURLScrub(message)
}

var (
	urlQueryRegex   = regexp.MustCompile(`(https?://[^?\s]+)\?\S*`)
	credentialRegex = regexp.MustCompile(`(?i)(api[_-]?key|token|password|secret)[=:]\S+`)
	userInfoRegex   = regexp.MustCompile(`(\w+://)[^/@\s]+@`)
)

// basicURLScrub strips query strings, URL credentials and key=value secrets
func basicURLScrub(message string) string {
	scrubbed := urlQueryRegex.ReplaceAllString(message, "$1?[REDACTED]")
	scrubbed = userInfoRegex.ReplaceAllString(scrubbed, "$1[REDACTED]@")
	return credentialRegex.ReplaceAllString(scrubbed, "$1=[REDACTED]")
}

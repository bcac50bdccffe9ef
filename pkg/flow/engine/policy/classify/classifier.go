// Package classify assigns a failure classification to errors raised during
// run execution. Classification is membership-based: an error is compared
// against configured lists of transient and permanent error names.
package classify

import (
	"errors"

	"github.com/flowmill/flowmill/pkg/flow/support/util/exception"
)

// Classifier determines the failure classification of an error.
type Classifier interface {
	// Classify returns the classification of the given error.
	// err: The error to evaluate.
	// Returns: ClassTransient, ClassPermanent, or ClassUnknown.
	Classify(err error) exception.Classification
}

// DefaultClassifierFactory is a factory for creating Classifier instances.
type DefaultClassifierFactory struct{}

// NewDefaultClassifierFactory creates a new DefaultClassifierFactory.
func NewDefaultClassifierFactory() *DefaultClassifierFactory {
	return &DefaultClassifierFactory{}
}

// Create creates a new Classifier based on the given membership lists.
// transientErrors: Error names or message substrings classified as transient.
// permanentErrors: Error names or message substrings classified as permanent.
// Returns: A new Classifier instance.
func (f *DefaultClassifierFactory) Create(transientErrors, permanentErrors []string) Classifier {
	return &defaultClassifier{
		transientErrors: transientErrors,
		permanentErrors: permanentErrors,
	}
}

// defaultClassifier is the default implementation of Classifier.
type defaultClassifier struct {
	transientErrors []string
	permanentErrors []string
}

// Classify determines the classification of an error.
// An explicit FlowError classification takes precedence over the membership
// lists. Permanent membership is checked before transient so that an error
// matching both lists is never retried. Errors matching neither list are
// classified unknown.
func (c *defaultClassifier) Classify(err error) exception.Classification {
	if err == nil {
		return exception.ClassUnknown
	}

	// 1. An error constructed with an explicit classification keeps it.
	// Wrappers may stack unclassified FlowErrors on top of a classified one,
	// so the whole chain is walked and the innermost explicit classification
	// wins: it was assigned closest to the failure.
	explicit := exception.ClassUnknown
	for e := err; e != nil; e = errors.Unwrap(e) {
		if fe, ok := e.(*exception.FlowError); ok && fe.Class() != exception.ClassUnknown {
			explicit = fe.Class()
		}
	}
	if explicit != exception.ClassUnknown {
		return explicit
	}

	// 2. Match against the permanent membership list first.
	for _, typeName := range c.permanentErrors {
		if exception.IsErrorOfType(err, typeName) {
			return exception.ClassPermanent
		}
	}

	// 3. Match against the transient membership list.
	for _, typeName := range c.transientErrors {
		if exception.IsErrorOfType(err, typeName) {
			return exception.ClassTransient
		}
	}

	return exception.ClassUnknown
}

// Verify interfaces
var _ Classifier = (*defaultClassifier)(nil)

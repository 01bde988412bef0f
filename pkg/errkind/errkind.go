// Package errkind defines the error taxonomy shared by every billing domain.
// Domain packages declare their own coded sentinels on top of a Kind so callers
// can match either the precise failure or its broad category with errors.Is.
package errkind

import "errors"

// Kind is a broad failure category.
type Kind struct {
	name string
}

func (k *Kind) Error() string { return k.name }

// Name returns the snake_case name of the kind.
func (k *Kind) Name() string { return k.name }

var (
	Validation          = &Kind{name: "validation_failed"}
	AntiFraud           = &Kind{name: "anti_fraud_rejected"}
	NotFound            = &Kind{name: "not_found"}
	Conflict            = &Kind{name: "conflict"}
	InvalidState        = &Kind{name: "invalid_state_transition"}
	MissingExchangeRate = &Kind{name: "missing_exchange_rate"}
	MissingTaxRules     = &Kind{name: "missing_tax_rules"}
)

var kinds = []*Kind{Validation, AntiFraud, NotFound, Conflict, InvalidState, MissingExchangeRate, MissingTaxRules}

// Error is a coded domain error belonging to one Kind.
type Error struct {
	Kind *Kind
	Code string
}

// New returns a coded sentinel of the given kind.
func New(kind *Kind, code string) *Error {
	return &Error{Kind: kind, Code: code}
}

func (e *Error) Error() string { return e.Code }

func (e *Error) Unwrap() error { return e.Kind }

// KindOf returns the kind of err, or nil when err carries none.
func KindOf(err error) *Kind {
	if err == nil {
		return nil
	}
	for _, k := range kinds {
		if errors.Is(err, k) {
			return k
		}
	}
	return nil
}

// CodeOf returns the most specific code carried by err.
func CodeOf(err error) string {
	var coded *Error
	if errors.As(err, &coded) {
		return coded.Code
	}
	if k := KindOf(err); k != nil {
		return k.name
	}
	return ""
}

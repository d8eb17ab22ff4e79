package domain

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrStorageUnavailable indica que el archivo o la tabla del ledger no existen.
	// El guardrail lo trata como board vacío; el resto de callers lo propagan.
	ErrStorageUnavailable = errors.New("storage unavailable")

	// ErrRunNotFound se devuelve cuando un run_id no tiene manifest.
	ErrRunNotFound = errors.New("run not found")

	// ErrRunImmutable se devuelve al intentar reescribir picks ya persistidos de un run.
	ErrRunImmutable = errors.New("run already persisted")
)

// DomainError es un input numérico inválido para la matemática de cuotas.
type DomainError struct {
	Op     string
	Value  float64
	Reason string
}

func (e *DomainError) Error() string {
	return fmt.Sprintf("%s(%v): %s", e.Op, e.Value, e.Reason)
}

// ValidationError lista los campos ausentes o fuera de rango de un input.
type ValidationError struct {
	Context string
	Fields  []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: invalid or missing fields: %s", e.Context, strings.Join(e.Fields, ", "))
}

// IsValidation devuelve true si err (o alguno de sus wrapped) es un ValidationError.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// IsDomain devuelve true si err (o alguno de sus wrapped) es un DomainError.
func IsDomain(err error) bool {
	var de *DomainError
	return errors.As(err, &de)
}

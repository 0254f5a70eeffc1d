package db

import (
	"errors"
	"fmt"

	"github.com/lib/pq"
)

// ConstraintKind classifica violações de integridade reportadas pelo Postgres
type ConstraintKind int

const (
	Unique ConstraintKind = iota + 1
	ForeignKey
	Check
	NotNull
	// Cardinality: ON CONFLICT DO UPDATE tocou a mesma linha duas vezes no mesmo comando
	Cardinality
)

func (k ConstraintKind) String() string {
	switch k {
	case Unique:
		return "unique_violation"
	case ForeignKey:
		return "foreign_key_violation"
	case Check:
		return "check_violation"
	case NotNull:
		return "not_null_violation"
	case Cardinality:
		return "cardinality_violation"
	default:
		return "unknown"
	}
}

// SQLSTATE -> kind
var sqlStates = map[pq.ErrorCode]ConstraintKind{
	"23505": Unique,
	"23503": ForeignKey,
	"23514": Check,
	"23502": NotNull,
	"21000": Cardinality,
}

// ConstraintError é o erro tipado devolvido pelos repositórios; a camada HTTP
// decide o status a partir de Kind, sem inspecionar o driver
type ConstraintError struct {
	Kind       ConstraintKind
	Constraint string
	Table      string
	Err        error
}

func (e *ConstraintError) Error() string {
	msg := e.Kind.String()
	if e.Table != "" {
		msg += fmt.Sprintf(" table=%s", e.Table)
	}
	if e.Constraint != "" {
		msg += fmt.Sprintf(" constraint=%s", e.Constraint)
	}
	return msg
}

func (e *ConstraintError) Unwrap() error { return e.Err }

// Classify converte violações conhecidas do pq em *ConstraintError.
// Outros erros voltam intactos.
func Classify(err error) error {
	if err == nil {
		return nil
	}
	var pqErr *pq.Error
	if !errors.As(err, &pqErr) {
		return err
	}
	kind, ok := sqlStates[pqErr.Code]
	if !ok {
		return err
	}
	return &ConstraintError{
		Kind:       kind,
		Constraint: pqErr.Constraint,
		Table:      pqErr.Table,
		Err:        err,
	}
}

// IsConstraint informa se err é uma violação do tipo indicado
func IsConstraint(err error, kind ConstraintKind) bool {
	var ce *ConstraintError
	return errors.As(err, &ce) && ce.Kind == kind
}

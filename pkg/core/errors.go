package core

import (
	"errors"
	"fmt"

	"github.com/orneryd/graphkernel/pkg/lock"
	"github.com/orneryd/graphkernel/pkg/storage"
	"github.com/orneryd/graphkernel/pkg/txn"
)

// Error kinds surfaced by the kernel. Check them with errors.Is.
var (
	ErrNotFound            = storage.ErrNotFound
	ErrIllegalValue        = storage.ErrIllegalValue
	ErrNotInTransaction    = txn.ErrNotInTransaction
	ErrLockFailure         = lock.ErrLockFailure
	ErrConstraintViolation = errors.New("constraint violation")
)

// ViolationType names the rule a ConstraintViolationError broke.
type ViolationType string

const (
	ViolationDoubleDelete         ViolationType = "DOUBLE_DELETE"
	ViolationDeletedEndpoint      ViolationType = "DELETED_ENDPOINT"
	ViolationUnknownType          ViolationType = "UNKNOWN_RELATIONSHIP_TYPE"
	ViolationDeletedPrimitive     ViolationType = "DELETED_PRIMITIVE"
	ViolationDanglingRelationship ViolationType = "DANGLING_RELATIONSHIP"
)

// ConstraintViolationError reports a rejected create, delete or property
// change, or a commit that would leave relationships pointing at a deleted
// node. It matches ErrConstraintViolation under errors.Is.
type ConstraintViolationError struct {
	Type    ViolationType
	IDs     []uint64
	Message string
}

func (e *ConstraintViolationError) Error() string {
	return fmt.Sprintf("Constraint violation (%s on %v): %s", e.Type, e.IDs, e.Message)
}

// Is makes errors.Is(err, ErrConstraintViolation) hold.
func (e *ConstraintViolationError) Is(target error) bool {
	return target == ErrConstraintViolation
}

// NewViolation builds a ConstraintViolationError.
func NewViolation(typ ViolationType, msg string, ids ...uint64) *ConstraintViolationError {
	return &ConstraintViolationError{Type: typ, IDs: ids, Message: msg}
}

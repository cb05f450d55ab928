package services

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	domain "github.com/flightline-academy/api/internal/domain"
)

// Catalog errors.
var (
	// ErrCatalogInvalidInput signals the caller provided invalid catalog data.
	ErrCatalogInvalidInput = errors.New("catalog: invalid input")
	// ErrCatalogRuleNotFound indicates the referenced rule does not exist.
	ErrCatalogRuleNotFound = errors.New("catalog: rule not found")
	// ErrCatalogDocumentNotFound indicates the referenced document type does not exist.
	ErrCatalogDocumentNotFound = errors.New("catalog: document not found")
	// ErrCatalogDuplicateName indicates a rule or document with the same name already exists.
	ErrCatalogDuplicateName = errors.New("catalog: duplicate name")
	// ErrCatalogRuleInUse indicates the rule is still attached to at least one document.
	ErrCatalogRuleInUse = errors.New("catalog: rule attached to documents")
	// ErrCatalogDocumentInUse indicates the document backs a non-empty matrix column.
	ErrCatalogDocumentInUse = errors.New("catalog: document referenced by a matrix column")
)

// Organisation errors.
var (
	// ErrOrgInvalidInput signals the caller provided invalid department or position data.
	ErrOrgInvalidInput = errors.New("org: invalid input")
	// ErrOrgDepartmentNotFound indicates the referenced department does not exist.
	ErrOrgDepartmentNotFound = errors.New("org: department not found")
	// ErrOrgPositionNotFound indicates the referenced position does not exist.
	ErrOrgPositionNotFound = errors.New("org: position not found")
	// ErrOrgDuplicateName indicates a department or position with the same name already exists.
	ErrOrgDuplicateName = errors.New("org: duplicate name")
	// ErrOrgPositionInUse indicates the position is still a row of a matrix.
	ErrOrgPositionInUse = errors.New("org: position referenced by a matrix row")
)

// Matrix errors.
var (
	// ErrMatrixInvalidInput signals the caller provided invalid matrix data.
	ErrMatrixInvalidInput = errors.New("matrix: invalid input")
	// ErrMatrixNotFound indicates the matrix could not be located.
	ErrMatrixNotFound = errors.New("matrix: not found")
	// ErrMatrixExists indicates the department already owns a matrix.
	ErrMatrixExists = errors.New("matrix: department already has a matrix")
	// ErrMatrixRowNotFound indicates the position is not a row of the matrix.
	ErrMatrixRowNotFound = errors.New("matrix: row not found")
	// ErrMatrixColumnNotFound indicates the document is not a column of the matrix.
	ErrMatrixColumnNotFound = errors.New("matrix: column not found")
	// ErrMatrixCellNotFound indicates the (position, document) pair is outside the grid shape.
	ErrMatrixCellNotFound = errors.New("matrix: cell not found")
	// ErrMatrixCellLocked indicates the cell content may no longer be edited in its current status.
	ErrMatrixCellLocked = errors.New("matrix: cell locked")
	// ErrMatrixMissingReason indicates a reject transition was attempted without a reason.
	ErrMatrixMissingReason = errors.New("matrix: reject reason is required")
	// ErrMatrixStaleCell indicates the caller's observed cell version no longer matches.
	ErrMatrixStaleCell = errors.New("matrix: stale cell state")
	// ErrMatrixUnauthorized indicates the caller's role lacks the attempted capability.
	ErrMatrixUnauthorized = errors.New("matrix: role not permitted")
	// ErrMatrixInvalidWindowRange indicates a window with start >= end.
	ErrMatrixInvalidWindowRange = errors.New("matrix: window start must precede end")
	// ErrMatrixDeadlinePending indicates the active window cannot open while cells are unsettled.
	ErrMatrixDeadlinePending = errors.New("matrix: deadline window still has unsettled cells")
	// ErrMatrixWindowClosed indicates the submission window does not admit edits right now.
	ErrMatrixWindowClosed = errors.New("matrix: submission window closed")
	// ErrMatrixTimeout indicates a storage call exceeded the bounded operation timeout.
	ErrMatrixTimeout = errors.New("matrix: operation timed out")
	// ErrMatrixRuleNotAttached indicates a rule value references a rule the document does not carry.
	ErrMatrixRuleNotAttached = errors.New("matrix: rule not attached to document")
)

// Evidence errors.
var (
	// ErrEvidenceInvalidInput signals the caller provided invalid evidence parameters.
	ErrEvidenceInvalidInput = errors.New("evidence: invalid input")
	// ErrEvidenceUnavailable indicates the signing backend is not configured.
	ErrEvidenceUnavailable = errors.New("evidence: signer unavailable")
)

// InvalidTransitionError reports an illegal state machine move. It wraps a
// sentinel so handlers can match with errors.Is while keeping the offending
// states for the response payload.
type InvalidTransitionError struct {
	Current   domain.CellStatus
	Requested CellAction
}

// Error implements the error interface.
func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("matrix: invalid transition: cannot %s a %s cell", e.Requested, e.Current)
}

// Is matches the error against ErrMatrixInvalidTransition.
func (e *InvalidTransitionError) Is(target error) bool {
	return target == ErrMatrixInvalidTransition
}

// ErrMatrixInvalidTransition is the sentinel matched by InvalidTransitionError.
var ErrMatrixInvalidTransition = errors.New("matrix: invalid transition")

// BulkPreconditionError reports an all-or-nothing bulk submission failure,
// listing every selected cell that was not in the required drafted state.
type BulkPreconditionError struct {
	OffendingKeys []domain.CellKey
}

// Error implements the error interface.
func (e *BulkPreconditionError) Error() string {
	keys := make([]string, 0, len(e.OffendingKeys))
	for _, key := range e.OffendingKeys {
		keys = append(keys, key.PositionID+"/"+key.DocumentID)
	}
	sort.Strings(keys)
	return fmt.Sprintf("matrix: bulk precondition failed for cells [%s]", strings.Join(keys, ", "))
}

// Is matches the error against ErrMatrixBulkPrecondition.
func (e *BulkPreconditionError) Is(target error) bool {
	return target == ErrMatrixBulkPrecondition
}

// ErrMatrixBulkPrecondition is the sentinel matched by BulkPreconditionError.
var ErrMatrixBulkPrecondition = errors.New("matrix: bulk precondition failed")

func isRepoNotFound(err error) bool {
	var repoErr interface {
		error
		IsNotFound() bool
	}
	return errors.As(err, &repoErr) && repoErr.IsNotFound()
}

func isRepoConflict(err error) bool {
	var repoErr interface {
		error
		IsConflict() bool
	}
	return errors.As(err, &repoErr) && repoErr.IsConflict()
}

package firestore

import (
	"context"
	"errors"
	"strings"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	domain "github.com/flightline-academy/api/internal/domain"
	pfirestore "github.com/flightline-academy/api/internal/platform/firestore"
)

const matricesCollection = "matrices"

// MatrixRepository persists compliance grids. Every mutation runs inside a
// Firestore transaction so concurrent edits of the same matrix serialize
// against the latest committed shape.
type MatrixRepository struct {
	provider *pfirestore.Provider
	base     *pfirestore.BaseRepository[domain.Matrix]
}

// NewMatrixRepository constructs a Firestore-backed matrix repository.
func NewMatrixRepository(provider *pfirestore.Provider) (*MatrixRepository, error) {
	if provider == nil {
		return nil, errors.New("matrix repository: firestore provider is required")
	}

	encoder := func(ctx context.Context, value domain.Matrix) (any, error) {
		return encodeMatrixDocument(value), nil
	}
	decoder := func(ctx context.Context, snap *firestore.DocumentSnapshot) (domain.Matrix, error) {
		return decodeMatrixSnapshot(snap)
	}

	base := pfirestore.NewBaseRepository[domain.Matrix](provider, matricesCollection, encoder, decoder)
	return &MatrixRepository{provider: provider, base: base}, nil
}

// Insert stores a new matrix, failing when the ID is already taken.
func (r *MatrixRepository) Insert(ctx context.Context, matrix domain.Matrix) error {
	if r == nil || r.base == nil {
		return errors.New("matrix repository not initialised")
	}
	matrix.ID = strings.TrimSpace(matrix.ID)
	if matrix.ID == "" {
		return errors.New("matrix repository: id is required")
	}
	if strings.TrimSpace(matrix.DepartmentID) == "" {
		return errors.New("matrix repository: department id is required")
	}

	docRef, err := r.base.DocumentRef(ctx, matrix.ID)
	if err != nil {
		return err
	}
	if _, err := docRef.Create(ctx, encodeMatrixDocument(matrix)); err != nil {
		return pfirestore.WrapError("matrices.insert", err)
	}
	return nil
}

// FindByID loads a matrix by its identifier.
func (r *MatrixRepository) FindByID(ctx context.Context, matrixID string) (domain.Matrix, error) {
	if r == nil || r.base == nil {
		return domain.Matrix{}, errors.New("matrix repository not initialised")
	}
	doc, err := r.base.Get(ctx, strings.TrimSpace(matrixID))
	if err != nil {
		return domain.Matrix{}, err
	}
	return doc.Data, nil
}

// FindByDepartment loads the single matrix owned by the department.
func (r *MatrixRepository) FindByDepartment(ctx context.Context, departmentID string) (domain.Matrix, error) {
	if r == nil || r.base == nil {
		return domain.Matrix{}, errors.New("matrix repository not initialised")
	}
	departmentID = strings.TrimSpace(departmentID)
	if departmentID == "" {
		return domain.Matrix{}, errors.New("matrix repository: department id is required")
	}

	docs, err := r.base.Query(ctx, func(q firestore.Query) firestore.Query {
		return q.Where("departmentId", "==", departmentID).Limit(1)
	})
	if err != nil {
		return domain.Matrix{}, err
	}
	if len(docs) == 0 {
		return domain.Matrix{}, pfirestore.WrapError("matrices.lookup", status.Error(codes.NotFound, "matrix not found"))
	}
	return docs[0].Data, nil
}

// Mutate loads the matrix inside a transaction, applies fn, bumps the matrix
// version, and commits. Errors returned by fn abort the transaction without
// persisting anything and surface to the caller via the error chain.
func (r *MatrixRepository) Mutate(ctx context.Context, matrixID string, fn func(matrix *domain.Matrix) error) (domain.Matrix, error) {
	if r == nil || r.base == nil || r.provider == nil {
		return domain.Matrix{}, errors.New("matrix repository not initialised")
	}
	matrixID = strings.TrimSpace(matrixID)
	if matrixID == "" {
		return domain.Matrix{}, errors.New("matrix repository: id is required")
	}
	if fn == nil {
		return domain.Matrix{}, errors.New("matrix repository: mutation function is required")
	}

	docRef, err := r.base.DocumentRef(ctx, matrixID)
	if err != nil {
		return domain.Matrix{}, err
	}

	var committed domain.Matrix
	err = r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		snap, err := tx.Get(docRef)
		if err != nil {
			return err
		}
		matrix, err := decodeMatrixSnapshot(snap)
		if err != nil {
			return err
		}
		if err := fn(&matrix); err != nil {
			return err
		}
		matrix.Version++
		committed = matrix
		return tx.Set(docRef, encodeMatrixDocument(matrix))
	})
	if err != nil {
		return domain.Matrix{}, pfirestore.WrapError("matrices.mutate", err)
	}
	return committed, nil
}

// ColumnInUse reports whether any matrix carries the document as a column with
// at least one row present.
func (r *MatrixRepository) ColumnInUse(ctx context.Context, documentID string) (bool, error) {
	if r == nil || r.base == nil {
		return false, errors.New("matrix repository not initialised")
	}
	documentID = strings.TrimSpace(documentID)
	if documentID == "" {
		return false, errors.New("matrix repository: document id is required")
	}

	docs, err := r.base.Query(ctx, func(q firestore.Query) firestore.Query {
		return q.Where("columns", "array-contains", documentID)
	})
	if err != nil {
		return false, err
	}
	for _, doc := range docs {
		if len(doc.Data.Rows) > 0 {
			return true, nil
		}
	}
	return false, nil
}

// RowInUse reports whether any matrix carries the position as a row.
func (r *MatrixRepository) RowInUse(ctx context.Context, positionID string) (bool, error) {
	if r == nil || r.base == nil {
		return false, errors.New("matrix repository not initialised")
	}
	positionID = strings.TrimSpace(positionID)
	if positionID == "" {
		return false, errors.New("matrix repository: position id is required")
	}

	docs, err := r.base.Query(ctx, func(q firestore.Query) firestore.Query {
		return q.Where("rows", "array-contains", positionID).Limit(1)
	})
	if err != nil {
		return false, err
	}
	return len(docs) > 0, nil
}

func decodeMatrixSnapshot(snap *firestore.DocumentSnapshot) (domain.Matrix, error) {
	var doc matrixDocument
	if err := snap.DataTo(&doc); err != nil {
		return domain.Matrix{}, err
	}
	doc.ID = snap.Ref.ID
	if doc.CreatedAt.IsZero() {
		doc.CreatedAt = snap.CreateTime
	}
	if doc.UpdatedAt.IsZero() {
		doc.UpdatedAt = snap.UpdateTime
	}
	return decodeMatrixDocument(doc), nil
}

func encodeMatrixDocument(matrix domain.Matrix) matrixDocument {
	cells := make([]matrixCellDocument, 0, len(matrix.Cells))
	for _, positionID := range matrix.Rows {
		for _, documentID := range matrix.Columns {
			cell, ok := matrix.Cells[domain.CellKey{PositionID: positionID, DocumentID: documentID}]
			if !ok {
				continue
			}
			cells = append(cells, encodeMatrixCellDocument(cell))
		}
	}

	return matrixDocument{
		DepartmentID:  strings.TrimSpace(matrix.DepartmentID),
		Rows:          cloneStrings(matrix.Rows),
		Columns:       cloneStrings(matrix.Columns),
		Cells:         cells,
		DeadlineStart: cloneTimePtr(matrix.Deadline.Start),
		DeadlineEnd:   cloneTimePtr(matrix.Deadline.End),
		ActiveStart:   cloneTimePtr(matrix.Active.Start),
		ActiveEnd:     cloneTimePtr(matrix.Active.End),
		Version:       matrix.Version,
		CreatedAt:     matrix.CreatedAt.UTC(),
		UpdatedAt:     matrix.UpdatedAt.UTC(),
	}
}

func decodeMatrixDocument(doc matrixDocument) domain.Matrix {
	cells := make(map[domain.CellKey]domain.Cell, len(doc.Cells))
	for _, cell := range doc.Cells {
		decoded := decodeMatrixCellDocument(cell)
		cells[decoded.Key()] = decoded
	}

	return domain.Matrix{
		ID:           doc.ID,
		DepartmentID: doc.DepartmentID,
		Rows:         cloneStrings(doc.Rows),
		Columns:      cloneStrings(doc.Columns),
		Cells:        cells,
		Deadline:     domain.TimeWindow{Start: cloneTimePtr(doc.DeadlineStart), End: cloneTimePtr(doc.DeadlineEnd)},
		Active:       domain.TimeWindow{Start: cloneTimePtr(doc.ActiveStart), End: cloneTimePtr(doc.ActiveEnd)},
		Version:      doc.Version,
		CreatedAt:    doc.CreatedAt.UTC(),
		UpdatedAt:    doc.UpdatedAt.UTC(),
	}
}

func encodeMatrixCellDocument(cell domain.Cell) matrixCellDocument {
	values := make([]ruleValueDocument, 0, len(cell.RuleValues))
	for _, value := range cell.RuleValues {
		values = append(values, ruleValueDocument{RuleID: value.RuleID, Value: value.Value})
	}
	return matrixCellDocument{
		PositionID:   cell.PositionID,
		DocumentID:   cell.DocumentID,
		Status:       string(cell.Status),
		RuleValues:   values,
		RejectReason: cell.RejectReason,
		EvidenceRef:  cell.EvidenceRef,
		Version:      cell.Version,
		UpdatedAt:    cell.UpdatedAt.UTC(),
		UpdatedBy:    cell.UpdatedBy,
	}
}

func decodeMatrixCellDocument(doc matrixCellDocument) domain.Cell {
	values := make([]domain.RuleValue, 0, len(doc.RuleValues))
	for _, value := range doc.RuleValues {
		values = append(values, domain.RuleValue{RuleID: value.RuleID, Value: value.Value})
	}
	status, ok := domain.ParseCellStatus(doc.Status)
	if !ok {
		status = domain.CellStatusInProgress
	}
	return domain.Cell{
		PositionID:   doc.PositionID,
		DocumentID:   doc.DocumentID,
		Status:       status,
		RuleValues:   values,
		RejectReason: doc.RejectReason,
		EvidenceRef:  doc.EvidenceRef,
		Version:      doc.Version,
		UpdatedAt:    doc.UpdatedAt.UTC(),
		UpdatedBy:    doc.UpdatedBy,
	}
}

type matrixDocument struct {
	ID            string               `firestore:"-"`
	DepartmentID  string               `firestore:"departmentId"`
	Rows          []string             `firestore:"rows"`
	Columns       []string             `firestore:"columns"`
	Cells         []matrixCellDocument `firestore:"cells"`
	DeadlineStart *time.Time           `firestore:"deadlineStart,omitempty"`
	DeadlineEnd   *time.Time           `firestore:"deadlineEnd,omitempty"`
	ActiveStart   *time.Time           `firestore:"activeStart,omitempty"`
	ActiveEnd     *time.Time           `firestore:"activeEnd,omitempty"`
	Version       int64                `firestore:"version"`
	CreatedAt     time.Time            `firestore:"createdAt"`
	UpdatedAt     time.Time            `firestore:"updatedAt"`
}

type matrixCellDocument struct {
	PositionID   string              `firestore:"positionId"`
	DocumentID   string              `firestore:"documentId"`
	Status       string              `firestore:"status"`
	RuleValues   []ruleValueDocument `firestore:"ruleValues,omitempty"`
	RejectReason string              `firestore:"rejectReason,omitempty"`
	EvidenceRef  string              `firestore:"evidenceRef,omitempty"`
	Version      int64               `firestore:"version"`
	UpdatedAt    time.Time           `firestore:"updatedAt"`
	UpdatedBy    string              `firestore:"updatedBy,omitempty"`
}

type ruleValueDocument struct {
	RuleID string `firestore:"ruleId"`
	Value  string `firestore:"value"`
}

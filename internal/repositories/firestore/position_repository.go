package firestore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	domain "github.com/flightline-academy/api/internal/domain"
	pfirestore "github.com/flightline-academy/api/internal/platform/firestore"
	"github.com/flightline-academy/api/internal/platform/textutil"
)

const positionsCollection = "positions"

// PositionRepository persists positions, each owned by exactly one department.
type PositionRepository struct {
	base *pfirestore.BaseRepository[domain.Position]
}

// NewPositionRepository constructs a Firestore-backed position repository.
func NewPositionRepository(provider *pfirestore.Provider) (*PositionRepository, error) {
	if provider == nil {
		return nil, errors.New("position repository: firestore provider is required")
	}

	encoder := func(ctx context.Context, value domain.Position) (any, error) {
		return encodePositionDocument(value), nil
	}
	decoder := func(ctx context.Context, snap *firestore.DocumentSnapshot) (domain.Position, error) {
		var doc positionDocument
		if err := snap.DataTo(&doc); err != nil {
			return domain.Position{}, err
		}
		doc.ID = snap.Ref.ID
		if doc.CreatedAt.IsZero() {
			doc.CreatedAt = snap.CreateTime
		}
		if doc.UpdatedAt.IsZero() {
			doc.UpdatedAt = snap.UpdateTime
		}
		return decodePositionDocument(doc), nil
	}

	base := pfirestore.NewBaseRepository[domain.Position](provider, positionsCollection, encoder, decoder)
	return &PositionRepository{base: base}, nil
}

// Insert stores a new position, failing when the ID is already taken.
func (r *PositionRepository) Insert(ctx context.Context, pos domain.Position) error {
	if r == nil || r.base == nil {
		return errors.New("position repository not initialised")
	}
	pos.ID = strings.TrimSpace(pos.ID)
	if pos.ID == "" {
		return errors.New("position repository: id is required")
	}
	if strings.TrimSpace(pos.DepartmentID) == "" {
		return errors.New("position repository: department id is required")
	}

	docRef, err := r.base.DocumentRef(ctx, pos.ID)
	if err != nil {
		return err
	}
	if _, err := docRef.Create(ctx, encodePositionDocument(pos)); err != nil {
		return pfirestore.WrapError("positions.insert", err)
	}
	return nil
}

// Update replaces the position state. The owning department never changes.
func (r *PositionRepository) Update(ctx context.Context, pos domain.Position) error {
	if r == nil || r.base == nil {
		return errors.New("position repository not initialised")
	}
	pos.ID = strings.TrimSpace(pos.ID)
	if pos.ID == "" {
		return errors.New("position repository: id is required")
	}
	if _, err := r.base.Set(ctx, pos.ID, pos); err != nil {
		return err
	}
	return nil
}

// Delete removes the position document.
func (r *PositionRepository) Delete(ctx context.Context, positionID string) error {
	if r == nil || r.base == nil {
		return errors.New("position repository not initialised")
	}
	docRef, err := r.base.DocumentRef(ctx, strings.TrimSpace(positionID))
	if err != nil {
		return err
	}
	if _, err := docRef.Delete(ctx, firestore.Exists); err != nil {
		return pfirestore.WrapError("positions.delete", err)
	}
	return nil
}

// FindByID loads a position by its identifier.
func (r *PositionRepository) FindByID(ctx context.Context, positionID string) (domain.Position, error) {
	if r == nil || r.base == nil {
		return domain.Position{}, errors.New("position repository not initialised")
	}
	doc, err := r.base.Get(ctx, strings.TrimSpace(positionID))
	if err != nil {
		return domain.Position{}, err
	}
	return doc.Data, nil
}

// FindByNameKey looks a position up by its normalised name within one
// department. Names are unique per department, not globally.
func (r *PositionRepository) FindByNameKey(ctx context.Context, departmentID, nameKey string) (domain.Position, error) {
	if r == nil || r.base == nil {
		return domain.Position{}, errors.New("position repository not initialised")
	}
	departmentID = strings.TrimSpace(departmentID)
	nameKey = strings.TrimSpace(nameKey)

	docs, err := r.base.Query(ctx, func(q firestore.Query) firestore.Query {
		return q.Where("departmentId", "==", departmentID).Where("nameKey", "==", nameKey).Limit(1)
	})
	if err != nil {
		return domain.Position{}, err
	}
	if len(docs) == 0 {
		return domain.Position{}, pfirestore.WrapError("positions.lookup", status.Error(codes.NotFound, "position not found"))
	}
	return docs[0].Data, nil
}

// ListByDepartment returns the department's positions ordered alphabetically
// by normalised name.
func (r *PositionRepository) ListByDepartment(ctx context.Context, departmentID string, pager domain.Pagination) (domain.CursorPage[domain.Position], error) {
	if r == nil || r.base == nil {
		return domain.CursorPage[domain.Position]{}, errors.New("position repository not initialised")
	}
	departmentID = strings.TrimSpace(departmentID)
	if departmentID == "" {
		return domain.CursorPage[domain.Position]{}, errors.New("position repository: department id is required")
	}

	limit, fetchLimit := normalisePageSize(pager.PageSize)

	var startAfter []any
	if token := strings.TrimSpace(pager.PageToken); token != "" {
		nameKey, docID, err := decodeNameListToken(token)
		if err != nil {
			return domain.CursorPage[domain.Position]{}, fmt.Errorf("position repository: invalid page token: %w", err)
		}
		startAfter = []any{nameKey, docID}
	}

	docs, err := r.base.Query(ctx, func(q firestore.Query) firestore.Query {
		q = q.Where("departmentId", "==", departmentID)
		q = q.OrderBy("nameKey", firestore.Asc).OrderBy(firestore.DocumentID, firestore.Asc)
		if len(startAfter) == 2 {
			q = q.StartAfter(startAfter...)
		}
		if fetchLimit > 0 {
			q = q.Limit(fetchLimit)
		}
		return q
	})
	if err != nil {
		return domain.CursorPage[domain.Position]{}, err
	}

	nextToken := ""
	if limit > 0 && len(docs) == fetchLimit {
		last := docs[len(docs)-1]
		nextToken = encodeNameListToken(textutil.NameKey(last.Data.Name), last.ID)
		docs = docs[:len(docs)-1]
	}

	items := make([]domain.Position, 0, len(docs))
	for _, doc := range docs {
		items = append(items, doc.Data)
	}
	return domain.CursorPage[domain.Position]{Items: items, NextPageToken: nextToken}, nil
}

func encodePositionDocument(pos domain.Position) positionDocument {
	return positionDocument{
		DepartmentID: strings.TrimSpace(pos.DepartmentID),
		Name:         strings.TrimSpace(pos.Name),
		NameKey:      textutil.NameKey(pos.Name),
		CreatedAt:    pos.CreatedAt.UTC(),
		UpdatedAt:    pos.UpdatedAt.UTC(),
	}
}

func decodePositionDocument(doc positionDocument) domain.Position {
	return domain.Position{
		ID:           doc.ID,
		DepartmentID: doc.DepartmentID,
		Name:         doc.Name,
		CreatedAt:    doc.CreatedAt.UTC(),
		UpdatedAt:    doc.UpdatedAt.UTC(),
	}
}

type positionDocument struct {
	ID           string    `firestore:"-"`
	DepartmentID string    `firestore:"departmentId"`
	Name         string    `firestore:"name"`
	NameKey      string    `firestore:"nameKey"`
	CreatedAt    time.Time `firestore:"createdAt"`
	UpdatedAt    time.Time `firestore:"updatedAt"`
}

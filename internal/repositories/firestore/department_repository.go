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

const departmentsCollection = "departments"

// DepartmentRepository persists organisational departments.
type DepartmentRepository struct {
	provider *pfirestore.Provider
	base     *pfirestore.BaseRepository[domain.Department]
}

// NewDepartmentRepository constructs a Firestore-backed department repository.
func NewDepartmentRepository(provider *pfirestore.Provider) (*DepartmentRepository, error) {
	if provider == nil {
		return nil, errors.New("department repository: firestore provider is required")
	}

	encoder := func(ctx context.Context, value domain.Department) (any, error) {
		return encodeDepartmentDocument(value), nil
	}
	decoder := func(ctx context.Context, snap *firestore.DocumentSnapshot) (domain.Department, error) {
		var doc departmentDocument
		if err := snap.DataTo(&doc); err != nil {
			return domain.Department{}, err
		}
		doc.ID = snap.Ref.ID
		if doc.CreatedAt.IsZero() {
			doc.CreatedAt = snap.CreateTime
		}
		if doc.UpdatedAt.IsZero() {
			doc.UpdatedAt = snap.UpdateTime
		}
		return decodeDepartmentDocument(doc), nil
	}

	base := pfirestore.NewBaseRepository[domain.Department](provider, departmentsCollection, encoder, decoder)
	return &DepartmentRepository{provider: provider, base: base}, nil
}

// Insert stores a new department, failing when the ID is already taken.
func (r *DepartmentRepository) Insert(ctx context.Context, dep domain.Department) error {
	if r == nil || r.base == nil {
		return errors.New("department repository not initialised")
	}
	dep.ID = strings.TrimSpace(dep.ID)
	if dep.ID == "" {
		return errors.New("department repository: id is required")
	}

	docRef, err := r.base.DocumentRef(ctx, dep.ID)
	if err != nil {
		return err
	}
	if _, err := docRef.Create(ctx, encodeDepartmentDocument(dep)); err != nil {
		return pfirestore.WrapError("departments.insert", err)
	}
	return nil
}

// Rename updates the department name inside a transaction so the stored name
// and its normalised key never diverge.
func (r *DepartmentRepository) Rename(ctx context.Context, departmentID, name string, updatedAt time.Time) (domain.Department, error) {
	if r == nil || r.base == nil || r.provider == nil {
		return domain.Department{}, errors.New("department repository not initialised")
	}
	departmentID = strings.TrimSpace(departmentID)
	if departmentID == "" {
		return domain.Department{}, errors.New("department repository: id is required")
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return domain.Department{}, errors.New("department repository: name is required")
	}

	docRef, err := r.base.DocumentRef(ctx, departmentID)
	if err != nil {
		return domain.Department{}, err
	}

	var renamed domain.Department
	err = r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		snap, err := tx.Get(docRef)
		if err != nil {
			return err
		}
		var doc departmentDocument
		if err := snap.DataTo(&doc); err != nil {
			return err
		}
		doc.ID = snap.Ref.ID
		doc.Name = name
		doc.NameKey = textutil.NameKey(name)
		doc.UpdatedAt = updatedAt.UTC()
		renamed = decodeDepartmentDocument(doc)
		return tx.Set(docRef, doc)
	})
	if err != nil {
		return domain.Department{}, pfirestore.WrapError("departments.rename", err)
	}
	return renamed, nil
}

// FindByID loads a department by its identifier.
func (r *DepartmentRepository) FindByID(ctx context.Context, departmentID string) (domain.Department, error) {
	if r == nil || r.base == nil {
		return domain.Department{}, errors.New("department repository not initialised")
	}
	doc, err := r.base.Get(ctx, strings.TrimSpace(departmentID))
	if err != nil {
		return domain.Department{}, err
	}
	return doc.Data, nil
}

// FindByNameKey looks a department up by its normalised name.
func (r *DepartmentRepository) FindByNameKey(ctx context.Context, nameKey string) (domain.Department, error) {
	if r == nil || r.base == nil {
		return domain.Department{}, errors.New("department repository not initialised")
	}
	nameKey = strings.TrimSpace(nameKey)

	docs, err := r.base.Query(ctx, func(q firestore.Query) firestore.Query {
		return q.Where("nameKey", "==", nameKey).Limit(1)
	})
	if err != nil {
		return domain.Department{}, err
	}
	if len(docs) == 0 {
		return domain.Department{}, pfirestore.WrapError("departments.lookup", status.Error(codes.NotFound, "department not found"))
	}
	return docs[0].Data, nil
}

// List returns departments ordered alphabetically by normalised name.
func (r *DepartmentRepository) List(ctx context.Context, pager domain.Pagination) (domain.CursorPage[domain.Department], error) {
	if r == nil || r.base == nil {
		return domain.CursorPage[domain.Department]{}, errors.New("department repository not initialised")
	}

	limit, fetchLimit := normalisePageSize(pager.PageSize)

	var startAfter []any
	if token := strings.TrimSpace(pager.PageToken); token != "" {
		nameKey, docID, err := decodeNameListToken(token)
		if err != nil {
			return domain.CursorPage[domain.Department]{}, fmt.Errorf("department repository: invalid page token: %w", err)
		}
		startAfter = []any{nameKey, docID}
	}

	docs, err := r.base.Query(ctx, func(q firestore.Query) firestore.Query {
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
		return domain.CursorPage[domain.Department]{}, err
	}

	nextToken := ""
	if limit > 0 && len(docs) == fetchLimit {
		last := docs[len(docs)-1]
		nextToken = encodeNameListToken(textutil.NameKey(last.Data.Name), last.ID)
		docs = docs[:len(docs)-1]
	}

	items := make([]domain.Department, 0, len(docs))
	for _, doc := range docs {
		items = append(items, doc.Data)
	}
	return domain.CursorPage[domain.Department]{Items: items, NextPageToken: nextToken}, nil
}

func encodeDepartmentDocument(dep domain.Department) departmentDocument {
	return departmentDocument{
		Name:      strings.TrimSpace(dep.Name),
		NameKey:   textutil.NameKey(dep.Name),
		CreatedAt: dep.CreatedAt.UTC(),
		UpdatedAt: dep.UpdatedAt.UTC(),
	}
}

func decodeDepartmentDocument(doc departmentDocument) domain.Department {
	return domain.Department{
		ID:        doc.ID,
		Name:      doc.Name,
		CreatedAt: doc.CreatedAt.UTC(),
		UpdatedAt: doc.UpdatedAt.UTC(),
	}
}

type departmentDocument struct {
	ID        string    `firestore:"-"`
	Name      string    `firestore:"name"`
	NameKey   string    `firestore:"nameKey"`
	CreatedAt time.Time `firestore:"createdAt"`
	UpdatedAt time.Time `firestore:"updatedAt"`
}

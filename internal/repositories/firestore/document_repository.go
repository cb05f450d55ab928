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

const documentsCollection = "documents"

// DocumentRepository persists document-type catalog entries.
type DocumentRepository struct {
	base *pfirestore.BaseRepository[domain.Document]
}

// NewDocumentRepository constructs a Firestore-backed document repository.
func NewDocumentRepository(provider *pfirestore.Provider) (*DocumentRepository, error) {
	if provider == nil {
		return nil, errors.New("document repository: firestore provider is required")
	}

	encoder := func(ctx context.Context, value domain.Document) (any, error) {
		return encodeDocumentDocument(value), nil
	}
	decoder := func(ctx context.Context, snap *firestore.DocumentSnapshot) (domain.Document, error) {
		var doc documentDocument
		if err := snap.DataTo(&doc); err != nil {
			return domain.Document{}, err
		}
		doc.ID = snap.Ref.ID
		if doc.CreatedAt.IsZero() {
			doc.CreatedAt = snap.CreateTime
		}
		if doc.UpdatedAt.IsZero() {
			doc.UpdatedAt = snap.UpdateTime
		}
		return decodeDocumentDocument(doc), nil
	}

	base := pfirestore.NewBaseRepository[domain.Document](provider, documentsCollection, encoder, decoder)
	return &DocumentRepository{base: base}, nil
}

// Insert stores a new document-type entry, failing when the ID is already taken.
func (r *DocumentRepository) Insert(ctx context.Context, doc domain.Document) error {
	if r == nil || r.base == nil {
		return errors.New("document repository not initialised")
	}
	doc.ID = strings.TrimSpace(doc.ID)
	if doc.ID == "" {
		return errors.New("document repository: id is required")
	}

	docRef, err := r.base.DocumentRef(ctx, doc.ID)
	if err != nil {
		return err
	}
	if _, err := docRef.Create(ctx, encodeDocumentDocument(doc)); err != nil {
		return pfirestore.WrapError("documents.insert", err)
	}
	return nil
}

// Update replaces the document-type entry state.
func (r *DocumentRepository) Update(ctx context.Context, doc domain.Document) error {
	if r == nil || r.base == nil {
		return errors.New("document repository not initialised")
	}
	doc.ID = strings.TrimSpace(doc.ID)
	if doc.ID == "" {
		return errors.New("document repository: id is required")
	}
	if _, err := r.base.Set(ctx, doc.ID, doc); err != nil {
		return err
	}
	return nil
}

// Delete removes the document-type entry.
func (r *DocumentRepository) Delete(ctx context.Context, documentID string) error {
	if r == nil || r.base == nil {
		return errors.New("document repository not initialised")
	}
	docRef, err := r.base.DocumentRef(ctx, strings.TrimSpace(documentID))
	if err != nil {
		return err
	}
	if _, err := docRef.Delete(ctx, firestore.Exists); err != nil {
		return pfirestore.WrapError("documents.delete", err)
	}
	return nil
}

// FindByID loads a document type by its identifier.
func (r *DocumentRepository) FindByID(ctx context.Context, documentID string) (domain.Document, error) {
	if r == nil || r.base == nil {
		return domain.Document{}, errors.New("document repository not initialised")
	}
	doc, err := r.base.Get(ctx, strings.TrimSpace(documentID))
	if err != nil {
		return domain.Document{}, err
	}
	return doc.Data, nil
}

// FindByNameKey looks a document type up by its normalised name.
func (r *DocumentRepository) FindByNameKey(ctx context.Context, nameKey string) (domain.Document, error) {
	if r == nil || r.base == nil {
		return domain.Document{}, errors.New("document repository not initialised")
	}
	nameKey = strings.TrimSpace(nameKey)

	docs, err := r.base.Query(ctx, func(q firestore.Query) firestore.Query {
		return q.Where("nameKey", "==", nameKey).Limit(1)
	})
	if err != nil {
		return domain.Document{}, err
	}
	if len(docs) == 0 {
		return domain.Document{}, pfirestore.WrapError("documents.lookup", status.Error(codes.NotFound, "document not found"))
	}
	return docs[0].Data, nil
}

// List returns document types ordered alphabetically by normalised name.
func (r *DocumentRepository) List(ctx context.Context, pager domain.Pagination) (domain.CursorPage[domain.Document], error) {
	if r == nil || r.base == nil {
		return domain.CursorPage[domain.Document]{}, errors.New("document repository not initialised")
	}

	limit, fetchLimit := normalisePageSize(pager.PageSize)

	var startAfter []any
	if token := strings.TrimSpace(pager.PageToken); token != "" {
		nameKey, docID, err := decodeNameListToken(token)
		if err != nil {
			return domain.CursorPage[domain.Document]{}, fmt.Errorf("document repository: invalid page token: %w", err)
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
		return domain.CursorPage[domain.Document]{}, err
	}

	nextToken := ""
	if limit > 0 && len(docs) == fetchLimit {
		last := docs[len(docs)-1]
		nextToken = encodeNameListToken(textutil.NameKey(last.Data.Name), last.ID)
		docs = docs[:len(docs)-1]
	}

	items := make([]domain.Document, 0, len(docs))
	for _, doc := range docs {
		items = append(items, doc.Data)
	}
	return domain.CursorPage[domain.Document]{Items: items, NextPageToken: nextToken}, nil
}

// ListByRule returns every document type carrying the rule.
func (r *DocumentRepository) ListByRule(ctx context.Context, ruleID string) ([]domain.Document, error) {
	if r == nil || r.base == nil {
		return nil, errors.New("document repository not initialised")
	}
	ruleID = strings.TrimSpace(ruleID)
	if ruleID == "" {
		return nil, errors.New("document repository: rule id is required")
	}

	docs, err := r.base.Query(ctx, func(q firestore.Query) firestore.Query {
		return q.Where("ruleIds", "array-contains", ruleID)
	})
	if err != nil {
		return nil, err
	}

	items := make([]domain.Document, 0, len(docs))
	for _, doc := range docs {
		items = append(items, doc.Data)
	}
	return items, nil
}

func encodeDocumentDocument(doc domain.Document) documentDocument {
	return documentDocument{
		Name:        strings.TrimSpace(doc.Name),
		NameKey:     textutil.NameKey(doc.Name),
		Description: strings.TrimSpace(doc.Description),
		Required:    doc.Required,
		RuleIDs:     cloneStrings(doc.RuleIDs),
		CreatedAt:   doc.CreatedAt.UTC(),
		UpdatedAt:   doc.UpdatedAt.UTC(),
	}
}

func decodeDocumentDocument(doc documentDocument) domain.Document {
	return domain.Document{
		ID:          doc.ID,
		Name:        doc.Name,
		Description: doc.Description,
		Required:    doc.Required,
		RuleIDs:     cloneStrings(doc.RuleIDs),
		CreatedAt:   doc.CreatedAt.UTC(),
		UpdatedAt:   doc.UpdatedAt.UTC(),
	}
}

type documentDocument struct {
	ID          string    `firestore:"-"`
	Name        string    `firestore:"name"`
	NameKey     string    `firestore:"nameKey"`
	Description string    `firestore:"description,omitempty"`
	Required    bool      `firestore:"required"`
	RuleIDs     []string  `firestore:"ruleIds"`
	CreatedAt   time.Time `firestore:"createdAt"`
	UpdatedAt   time.Time `firestore:"updatedAt"`
}

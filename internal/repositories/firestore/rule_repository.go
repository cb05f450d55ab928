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

const rulesCollection = "rules"

// RuleRepository persists validation rule catalog entries.
type RuleRepository struct {
	base *pfirestore.BaseRepository[domain.Rule]
}

// NewRuleRepository constructs a Firestore-backed rule repository.
func NewRuleRepository(provider *pfirestore.Provider) (*RuleRepository, error) {
	if provider == nil {
		return nil, errors.New("rule repository: firestore provider is required")
	}

	encoder := func(ctx context.Context, value domain.Rule) (any, error) {
		return encodeRuleDocument(value), nil
	}
	decoder := func(ctx context.Context, snap *firestore.DocumentSnapshot) (domain.Rule, error) {
		var doc ruleDocument
		if err := snap.DataTo(&doc); err != nil {
			return domain.Rule{}, err
		}
		doc.ID = snap.Ref.ID
		if doc.CreatedAt.IsZero() {
			doc.CreatedAt = snap.CreateTime
		}
		if doc.UpdatedAt.IsZero() {
			doc.UpdatedAt = snap.UpdateTime
		}
		return decodeRuleDocument(doc), nil
	}

	base := pfirestore.NewBaseRepository[domain.Rule](provider, rulesCollection, encoder, decoder)
	return &RuleRepository{base: base}, nil
}

// Insert stores a new rule document, failing when the ID is already taken.
func (r *RuleRepository) Insert(ctx context.Context, rule domain.Rule) error {
	if r == nil || r.base == nil {
		return errors.New("rule repository not initialised")
	}
	rule.ID = strings.TrimSpace(rule.ID)
	if rule.ID == "" {
		return errors.New("rule repository: id is required")
	}

	docRef, err := r.base.DocumentRef(ctx, rule.ID)
	if err != nil {
		return err
	}
	if _, err := docRef.Create(ctx, encodeRuleDocument(rule)); err != nil {
		return pfirestore.WrapError("rules.insert", err)
	}
	return nil
}

// Update replaces the rule document state.
func (r *RuleRepository) Update(ctx context.Context, rule domain.Rule) error {
	if r == nil || r.base == nil {
		return errors.New("rule repository not initialised")
	}
	rule.ID = strings.TrimSpace(rule.ID)
	if rule.ID == "" {
		return errors.New("rule repository: id is required")
	}
	if _, err := r.base.Set(ctx, rule.ID, rule); err != nil {
		return err
	}
	return nil
}

// Delete removes the rule document.
func (r *RuleRepository) Delete(ctx context.Context, ruleID string) error {
	if r == nil || r.base == nil {
		return errors.New("rule repository not initialised")
	}
	docRef, err := r.base.DocumentRef(ctx, strings.TrimSpace(ruleID))
	if err != nil {
		return err
	}
	if _, err := docRef.Delete(ctx, firestore.Exists); err != nil {
		return pfirestore.WrapError("rules.delete", err)
	}
	return nil
}

// FindByID loads a rule by its identifier.
func (r *RuleRepository) FindByID(ctx context.Context, ruleID string) (domain.Rule, error) {
	if r == nil || r.base == nil {
		return domain.Rule{}, errors.New("rule repository not initialised")
	}
	doc, err := r.base.Get(ctx, strings.TrimSpace(ruleID))
	if err != nil {
		return domain.Rule{}, err
	}
	return doc.Data, nil
}

// FindByNameKey looks a rule up by its normalised name.
func (r *RuleRepository) FindByNameKey(ctx context.Context, nameKey string) (domain.Rule, error) {
	if r == nil || r.base == nil {
		return domain.Rule{}, errors.New("rule repository not initialised")
	}
	nameKey = strings.TrimSpace(nameKey)

	docs, err := r.base.Query(ctx, func(q firestore.Query) firestore.Query {
		return q.Where("nameKey", "==", nameKey).Limit(1)
	})
	if err != nil {
		return domain.Rule{}, err
	}
	if len(docs) == 0 {
		return domain.Rule{}, pfirestore.WrapError("rules.lookup", status.Error(codes.NotFound, "rule not found"))
	}
	return docs[0].Data, nil
}

// List returns rules ordered alphabetically by normalised name.
func (r *RuleRepository) List(ctx context.Context, pager domain.Pagination) (domain.CursorPage[domain.Rule], error) {
	if r == nil || r.base == nil {
		return domain.CursorPage[domain.Rule]{}, errors.New("rule repository not initialised")
	}

	limit, fetchLimit := normalisePageSize(pager.PageSize)

	var startAfter []any
	if token := strings.TrimSpace(pager.PageToken); token != "" {
		nameKey, docID, err := decodeNameListToken(token)
		if err != nil {
			return domain.CursorPage[domain.Rule]{}, fmt.Errorf("rule repository: invalid page token: %w", err)
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
		return domain.CursorPage[domain.Rule]{}, err
	}

	nextToken := ""
	if limit > 0 && len(docs) == fetchLimit {
		last := docs[len(docs)-1]
		nextToken = encodeNameListToken(textutil.NameKey(last.Data.Name), last.ID)
		docs = docs[:len(docs)-1]
	}

	items := make([]domain.Rule, 0, len(docs))
	for _, doc := range docs {
		items = append(items, doc.Data)
	}
	return domain.CursorPage[domain.Rule]{Items: items, NextPageToken: nextToken}, nil
}

func encodeRuleDocument(rule domain.Rule) ruleDocument {
	return ruleDocument{
		Name:        strings.TrimSpace(rule.Name),
		NameKey:     textutil.NameKey(rule.Name),
		Description: strings.TrimSpace(rule.Description),
		CreatedAt:   rule.CreatedAt.UTC(),
		UpdatedAt:   rule.UpdatedAt.UTC(),
	}
}

func decodeRuleDocument(doc ruleDocument) domain.Rule {
	return domain.Rule{
		ID:          doc.ID,
		Name:        doc.Name,
		Description: doc.Description,
		CreatedAt:   doc.CreatedAt.UTC(),
		UpdatedAt:   doc.UpdatedAt.UTC(),
	}
}

type ruleDocument struct {
	ID          string    `firestore:"-"`
	Name        string    `firestore:"name"`
	NameKey     string    `firestore:"nameKey"`
	Description string    `firestore:"description,omitempty"`
	CreatedAt   time.Time `firestore:"createdAt"`
	UpdatedAt   time.Time `firestore:"updatedAt"`
}

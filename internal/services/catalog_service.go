package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/microcosm-cc/bluemonday"
	"github.com/oklog/ulid/v2"

	domain "github.com/flightline-academy/api/internal/domain"
	"github.com/flightline-academy/api/internal/platform/textutil"
	"github.com/flightline-academy/api/internal/repositories"
)

const (
	ruleIDPrefix     = "rule_"
	documentIDPrefix = "doc_"

	maxCatalogNameLength        = 120
	maxCatalogDescriptionLength = 2000
)

// descriptionPolicy strips all markup from free-text fields before storage.
var descriptionPolicy = bluemonday.StrictPolicy()

// CatalogServiceDeps bundles constructor inputs for the catalog service.
type CatalogServiceDeps struct {
	Rules       repositories.RuleRepository
	Documents   repositories.DocumentRepository
	Matrices    repositories.MatrixRepository
	Audit       AuditLogService
	Clock       func() time.Time
	IDGenerator func() string
}

type catalogService struct {
	rules     repositories.RuleRepository
	documents repositories.DocumentRepository
	matrices  repositories.MatrixRepository
	audit     AuditLogService
	clock     func() time.Time
	newID     func() string
}

var _ CatalogService = (*catalogService)(nil)

// NewCatalogService constructs the catalog service with the supplied dependencies.
func NewCatalogService(deps CatalogServiceDeps) (CatalogService, error) {
	if deps.Rules == nil {
		return nil, errors.New("catalog service: rule repository is required")
	}
	if deps.Documents == nil {
		return nil, errors.New("catalog service: document repository is required")
	}
	if deps.Matrices == nil {
		return nil, errors.New("catalog service: matrix repository is required")
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	idGen := deps.IDGenerator
	if idGen == nil {
		idGen = func() string { return ulid.Make().String() }
	}
	return &catalogService{
		rules:     deps.Rules,
		documents: deps.Documents,
		matrices:  deps.Matrices,
		audit:     deps.Audit,
		clock:     func() time.Time { return clock().UTC() },
		newID:     idGen,
	}, nil
}

func (s *catalogService) CreateRule(ctx context.Context, cmd CreateRuleCommand) (Rule, error) {
	name, err := normalizeCatalogName(cmd.Name)
	if err != nil {
		return Rule{}, err
	}
	if !cmd.Actor.HasRole(domain.RoleTrainingDirector) {
		return Rule{}, ErrMatrixUnauthorized
	}
	if err := s.ensureRuleNameFree(ctx, name, ""); err != nil {
		return Rule{}, err
	}

	now := s.clock()
	rule := domain.Rule{
		ID:          ruleIDPrefix + s.newID(),
		Name:        name,
		Description: normalizeCatalogDescription(cmd.Description),
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := s.rules.Insert(ctx, rule); err != nil {
		if isRepoConflict(err) {
			return Rule{}, ErrCatalogDuplicateName
		}
		return Rule{}, err
	}

	s.record(ctx, cmd.Actor, "catalog.rule.create", "/rules/"+rule.ID, map[string]any{"name": name})
	return rule, nil
}

func (s *catalogService) UpdateRule(ctx context.Context, cmd UpdateRuleCommand) (Rule, error) {
	ruleID := strings.TrimSpace(cmd.RuleID)
	if ruleID == "" {
		return Rule{}, fmt.Errorf("%w: rule id is required", ErrCatalogInvalidInput)
	}
	name, err := normalizeCatalogName(cmd.Name)
	if err != nil {
		return Rule{}, err
	}
	if !cmd.Actor.HasRole(domain.RoleTrainingDirector) {
		return Rule{}, ErrMatrixUnauthorized
	}

	rule, err := s.rules.FindByID(ctx, ruleID)
	if err != nil {
		if isRepoNotFound(err) {
			return Rule{}, ErrCatalogRuleNotFound
		}
		return Rule{}, err
	}
	if err := s.ensureRuleNameFree(ctx, name, rule.ID); err != nil {
		return Rule{}, err
	}

	rule.Name = name
	rule.Description = normalizeCatalogDescription(cmd.Description)
	rule.UpdatedAt = s.clock()
	if err := s.rules.Update(ctx, rule); err != nil {
		if isRepoConflict(err) {
			return Rule{}, ErrCatalogDuplicateName
		}
		return Rule{}, err
	}

	s.record(ctx, cmd.Actor, "catalog.rule.update", "/rules/"+rule.ID, map[string]any{"name": name})
	return rule, nil
}

// DeleteRule refuses while any document type still carries the rule so cells
// never reference a vanished constraint.
func (s *catalogService) DeleteRule(ctx context.Context, cmd DeleteRuleCommand) error {
	ruleID := strings.TrimSpace(cmd.RuleID)
	if ruleID == "" {
		return fmt.Errorf("%w: rule id is required", ErrCatalogInvalidInput)
	}
	if !cmd.Actor.HasRole(domain.RoleTrainingDirector) {
		return ErrMatrixUnauthorized
	}

	if _, err := s.rules.FindByID(ctx, ruleID); err != nil {
		if isRepoNotFound(err) {
			return ErrCatalogRuleNotFound
		}
		return err
	}
	attached, err := s.documents.ListByRule(ctx, ruleID)
	if err != nil {
		return err
	}
	if len(attached) > 0 {
		return fmt.Errorf("%w: attached to %d document types", ErrCatalogRuleInUse, len(attached))
	}
	if err := s.rules.Delete(ctx, ruleID); err != nil {
		if isRepoNotFound(err) {
			return ErrCatalogRuleNotFound
		}
		return err
	}

	s.record(ctx, cmd.Actor, "catalog.rule.delete", "/rules/"+ruleID, nil)
	return nil
}

func (s *catalogService) GetRule(ctx context.Context, ruleID string) (Rule, error) {
	ruleID = strings.TrimSpace(ruleID)
	if ruleID == "" {
		return Rule{}, fmt.Errorf("%w: rule id is required", ErrCatalogInvalidInput)
	}
	rule, err := s.rules.FindByID(ctx, ruleID)
	if err != nil {
		if isRepoNotFound(err) {
			return Rule{}, ErrCatalogRuleNotFound
		}
		return Rule{}, err
	}
	return rule, nil
}

func (s *catalogService) ListRules(ctx context.Context, pager Pagination) (domain.CursorPage[Rule], error) {
	return s.rules.List(ctx, pager)
}

func (s *catalogService) CreateDocument(ctx context.Context, cmd CreateDocumentCommand) (Document, error) {
	name, err := normalizeCatalogName(cmd.Name)
	if err != nil {
		return Document{}, err
	}
	if !cmd.Actor.HasRole(domain.RoleTrainingDirector) {
		return Document{}, ErrMatrixUnauthorized
	}

	ruleIDs, err := s.resolveRuleIDs(ctx, cmd.RuleIDs)
	if err != nil {
		return Document{}, err
	}
	if err := s.ensureDocumentNameFree(ctx, name, ""); err != nil {
		return Document{}, err
	}

	now := s.clock()
	doc := domain.Document{
		ID:          documentIDPrefix + s.newID(),
		Name:        name,
		Description: normalizeCatalogDescription(cmd.Description),
		Required:    cmd.Required,
		RuleIDs:     ruleIDs,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := s.documents.Insert(ctx, doc); err != nil {
		if isRepoConflict(err) {
			return Document{}, ErrCatalogDuplicateName
		}
		return Document{}, err
	}

	s.record(ctx, cmd.Actor, "catalog.document.create", "/documents/"+doc.ID, map[string]any{"name": name})
	return doc, nil
}

func (s *catalogService) UpdateDocument(ctx context.Context, cmd UpdateDocumentCommand) (Document, error) {
	documentID := strings.TrimSpace(cmd.DocumentID)
	if documentID == "" {
		return Document{}, fmt.Errorf("%w: document id is required", ErrCatalogInvalidInput)
	}
	name, err := normalizeCatalogName(cmd.Name)
	if err != nil {
		return Document{}, err
	}
	if !cmd.Actor.HasRole(domain.RoleTrainingDirector) {
		return Document{}, ErrMatrixUnauthorized
	}

	doc, err := s.documents.FindByID(ctx, documentID)
	if err != nil {
		if isRepoNotFound(err) {
			return Document{}, ErrCatalogDocumentNotFound
		}
		return Document{}, err
	}
	if err := s.ensureDocumentNameFree(ctx, name, doc.ID); err != nil {
		return Document{}, err
	}

	doc.Name = name
	doc.Description = normalizeCatalogDescription(cmd.Description)
	if cmd.Required != nil {
		doc.Required = *cmd.Required
	}
	doc.UpdatedAt = s.clock()
	if err := s.documents.Update(ctx, doc); err != nil {
		if isRepoConflict(err) {
			return Document{}, ErrCatalogDuplicateName
		}
		return Document{}, err
	}

	s.record(ctx, cmd.Actor, "catalog.document.update", "/documents/"+doc.ID, map[string]any{"name": name})
	return doc, nil
}

// AttachRule is idempotent: attaching an already-attached rule is a no-op.
func (s *catalogService) AttachRule(ctx context.Context, cmd AttachRuleCommand) (Document, error) {
	doc, rule, err := s.loadPair(ctx, cmd)
	if err != nil {
		return Document{}, err
	}
	if doc.HasRule(rule.ID) {
		return doc, nil
	}

	doc.RuleIDs = append(doc.RuleIDs, rule.ID)
	doc.UpdatedAt = s.clock()
	if err := s.documents.Update(ctx, doc); err != nil {
		return Document{}, err
	}

	s.record(ctx, cmd.Actor, "catalog.document.attach_rule", "/documents/"+doc.ID, map[string]any{"rule_id": rule.ID})
	return doc, nil
}

// DetachRule is symmetric to AttachRule; detaching an absent rule is a no-op.
func (s *catalogService) DetachRule(ctx context.Context, cmd AttachRuleCommand) (Document, error) {
	doc, rule, err := s.loadPair(ctx, cmd)
	if err != nil {
		return Document{}, err
	}
	if !doc.HasRule(rule.ID) {
		return doc, nil
	}

	kept := doc.RuleIDs[:0]
	for _, id := range doc.RuleIDs {
		if id != rule.ID {
			kept = append(kept, id)
		}
	}
	doc.RuleIDs = kept
	doc.UpdatedAt = s.clock()
	if err := s.documents.Update(ctx, doc); err != nil {
		return Document{}, err
	}

	s.record(ctx, cmd.Actor, "catalog.document.detach_rule", "/documents/"+doc.ID, map[string]any{"rule_id": rule.ID})
	return doc, nil
}

// RemoveDocument refuses while the document backs a matrix column with cells
// so compliance history is never orphaned.
func (s *catalogService) RemoveDocument(ctx context.Context, cmd DeleteDocumentCommand) error {
	documentID := strings.TrimSpace(cmd.DocumentID)
	if documentID == "" {
		return fmt.Errorf("%w: document id is required", ErrCatalogInvalidInput)
	}
	if !cmd.Actor.HasRole(domain.RoleTrainingDirector) {
		return ErrMatrixUnauthorized
	}

	if _, err := s.documents.FindByID(ctx, documentID); err != nil {
		if isRepoNotFound(err) {
			return ErrCatalogDocumentNotFound
		}
		return err
	}
	inUse, err := s.matrices.ColumnInUse(ctx, documentID)
	if err != nil {
		return err
	}
	if inUse {
		return ErrCatalogDocumentInUse
	}
	if err := s.documents.Delete(ctx, documentID); err != nil {
		if isRepoNotFound(err) {
			return ErrCatalogDocumentNotFound
		}
		return err
	}

	s.record(ctx, cmd.Actor, "catalog.document.delete", "/documents/"+documentID, nil)
	return nil
}

func (s *catalogService) GetDocument(ctx context.Context, documentID string) (Document, error) {
	documentID = strings.TrimSpace(documentID)
	if documentID == "" {
		return Document{}, fmt.Errorf("%w: document id is required", ErrCatalogInvalidInput)
	}
	doc, err := s.documents.FindByID(ctx, documentID)
	if err != nil {
		if isRepoNotFound(err) {
			return Document{}, ErrCatalogDocumentNotFound
		}
		return Document{}, err
	}
	return doc, nil
}

func (s *catalogService) ListDocuments(ctx context.Context, pager Pagination) (domain.CursorPage[Document], error) {
	return s.documents.List(ctx, pager)
}

func (s *catalogService) loadPair(ctx context.Context, cmd AttachRuleCommand) (Document, Rule, error) {
	documentID := strings.TrimSpace(cmd.DocumentID)
	ruleID := strings.TrimSpace(cmd.RuleID)
	if documentID == "" || ruleID == "" {
		return Document{}, Rule{}, fmt.Errorf("%w: document id and rule id are required", ErrCatalogInvalidInput)
	}
	if !cmd.Actor.HasRole(domain.RoleTrainingDirector) {
		return Document{}, Rule{}, ErrMatrixUnauthorized
	}

	doc, err := s.documents.FindByID(ctx, documentID)
	if err != nil {
		if isRepoNotFound(err) {
			return Document{}, Rule{}, ErrCatalogDocumentNotFound
		}
		return Document{}, Rule{}, err
	}
	rule, err := s.rules.FindByID(ctx, ruleID)
	if err != nil {
		if isRepoNotFound(err) {
			return Document{}, Rule{}, ErrCatalogRuleNotFound
		}
		return Document{}, Rule{}, err
	}
	return doc, rule, nil
}

func (s *catalogService) resolveRuleIDs(ctx context.Context, ruleIDs []string) ([]string, error) {
	seen := make(map[string]struct{}, len(ruleIDs))
	resolved := make([]string, 0, len(ruleIDs))
	for _, raw := range ruleIDs {
		ruleID := strings.TrimSpace(raw)
		if ruleID == "" {
			continue
		}
		if _, dup := seen[ruleID]; dup {
			continue
		}
		if _, err := s.rules.FindByID(ctx, ruleID); err != nil {
			if isRepoNotFound(err) {
				return nil, fmt.Errorf("%w: %s", ErrCatalogRuleNotFound, ruleID)
			}
			return nil, err
		}
		seen[ruleID] = struct{}{}
		resolved = append(resolved, ruleID)
	}
	return resolved, nil
}

func (s *catalogService) ensureRuleNameFree(ctx context.Context, name, selfID string) error {
	existing, err := s.rules.FindByNameKey(ctx, textutil.NameKey(name))
	if err != nil {
		if isRepoNotFound(err) {
			return nil
		}
		return err
	}
	if existing.ID != selfID {
		return ErrCatalogDuplicateName
	}
	return nil
}

func (s *catalogService) ensureDocumentNameFree(ctx context.Context, name, selfID string) error {
	existing, err := s.documents.FindByNameKey(ctx, textutil.NameKey(name))
	if err != nil {
		if isRepoNotFound(err) {
			return nil
		}
		return err
	}
	if existing.ID != selfID {
		return ErrCatalogDuplicateName
	}
	return nil
}

func (s *catalogService) record(ctx context.Context, actor domain.Actor, action, targetRef string, metadata map[string]any) {
	if s.audit == nil {
		return
	}
	s.audit.Record(ctx, AuditLogRecord{
		Actor:      actor.ID,
		ActorType:  "staff",
		Action:     action,
		TargetRef:  targetRef,
		OccurredAt: s.clock(),
		Metadata:   metadata,
	})
}

func normalizeCatalogName(raw string) (string, error) {
	name := strings.TrimSpace(descriptionPolicy.Sanitize(raw))
	if name == "" {
		return "", fmt.Errorf("%w: name is required", ErrCatalogInvalidInput)
	}
	if len(name) > maxCatalogNameLength {
		return "", fmt.Errorf("%w: name exceeds %d characters", ErrCatalogInvalidInput, maxCatalogNameLength)
	}
	return name, nil
}

func normalizeCatalogDescription(raw string) string {
	description := strings.TrimSpace(descriptionPolicy.Sanitize(raw))
	if len(description) > maxCatalogDescriptionLength {
		description = description[:maxCatalogDescriptionLength]
	}
	return description
}

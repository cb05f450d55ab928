package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	domain "github.com/flightline-academy/api/internal/domain"
	pstorage "github.com/flightline-academy/api/internal/platform/storage"
	"github.com/flightline-academy/api/internal/repositories"
)

const (
	defaultEvidenceUploadExpiry   = 15 * time.Minute
	defaultEvidenceDownloadExpiry = 5 * time.Minute
	maxEvidenceUploadSize         = int64(25 * 1024 * 1024) // 25 MiB
)

// evidenceContentTypes lists the certificate formats the portal accepts.
var evidenceContentTypes = []string{
	"application/pdf",
	"image/png",
	"image/jpeg",
}

// EvidenceURLSigner is the subset of the storage client the evidence service needs.
type EvidenceURLSigner interface {
	SignedURL(ctx context.Context, bucket, object string, opts pstorage.SignedURLOptions) (pstorage.SignedURLResult, error)
}

// EvidenceServiceDeps wires dependencies for the evidence service implementation.
type EvidenceServiceDeps struct {
	Signer         EvidenceURLSigner
	Matrices       repositories.MatrixRepository
	Bucket         string
	Clock          func() time.Time
	UploadExpiry   time.Duration
	DownloadExpiry time.Duration
	Logger         func(ctx context.Context, event string, fields map[string]any)
}

type evidenceService struct {
	signer         EvidenceURLSigner
	matrices       repositories.MatrixRepository
	bucket         string
	clock          func() time.Time
	uploadExpiry   time.Duration
	downloadExpiry time.Duration
	logger         func(context.Context, string, map[string]any)
}

var _ EvidenceService = (*evidenceService)(nil)

// NewEvidenceService constructs the evidence service with the supplied dependencies.
func NewEvidenceService(deps EvidenceServiceDeps) (EvidenceService, error) {
	if deps.Signer == nil {
		return nil, errors.New("evidence service: url signer is required")
	}
	if deps.Matrices == nil {
		return nil, errors.New("evidence service: matrix repository is required")
	}
	if strings.TrimSpace(deps.Bucket) == "" {
		return nil, errors.New("evidence service: bucket is required")
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	uploadExpiry := deps.UploadExpiry
	if uploadExpiry <= 0 {
		uploadExpiry = defaultEvidenceUploadExpiry
	}
	downloadExpiry := deps.DownloadExpiry
	if downloadExpiry <= 0 {
		downloadExpiry = defaultEvidenceDownloadExpiry
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	return &evidenceService{
		signer:         deps.Signer,
		matrices:       deps.Matrices,
		bucket:         strings.TrimSpace(deps.Bucket),
		clock:          func() time.Time { return clock().UTC() },
		uploadExpiry:   uploadExpiry,
		downloadExpiry: downloadExpiry,
		logger:         logger,
	}, nil
}

// UploadURL issues a signed PUT URL for a cell's evidence object. Uploading is
// content work: it requires the head of department role and an editable cell.
func (s *evidenceService) UploadURL(ctx context.Context, cmd EvidenceURLCommand) (SignedEvidenceResponse, error) {
	if !cmd.Actor.HasRole(domain.RoleHeadOfDepartment) {
		return SignedEvidenceResponse{}, ErrMatrixUnauthorized
	}
	cell, err := s.resolveCell(ctx, cmd)
	if err != nil {
		return SignedEvidenceResponse{}, err
	}
	if cell.Status != domain.CellStatusInProgress && cell.Status != domain.CellStatusDrafted {
		return SignedEvidenceResponse{}, ErrMatrixCellLocked
	}

	object, err := s.objectPath(cmd, cmd.Filename)
	if err != nil {
		return SignedEvidenceResponse{}, err
	}
	contentType := strings.TrimSpace(cmd.ContentType)
	if contentType == "" {
		return SignedEvidenceResponse{}, fmt.Errorf("%w: content type is required", ErrEvidenceInvalidInput)
	}

	result, err := s.signer.SignedURL(ctx, s.bucket, object, pstorage.SignedURLOptions{
		Upload: &pstorage.UploadOptions{
			Method:              "PUT",
			ContentType:         contentType,
			AllowedContentTypes: evidenceContentTypes,
			MaxSize:             maxEvidenceUploadSize,
			ExpiresIn:           s.uploadExpiry,
		},
	})
	if err != nil {
		return SignedEvidenceResponse{}, fmt.Errorf("evidence service: sign upload url: %w", err)
	}

	s.logger(ctx, "evidence.upload.issued", map[string]any{
		"matrix_id": cmd.MatrixID,
		"object":    object,
	})
	return SignedEvidenceResponse{
		URL:         result.URL,
		Method:      result.Method,
		Headers:     result.Headers,
		EvidenceRef: object,
		ExpiresAt:   result.ExpiresAt,
	}, nil
}

// DownloadURL issues a signed GET URL for the evidence object already
// referenced by the cell. Any portal role with read access may fetch it.
func (s *evidenceService) DownloadURL(ctx context.Context, cmd EvidenceURLCommand) (SignedEvidenceResponse, error) {
	cell, err := s.resolveCell(ctx, cmd)
	if err != nil {
		return SignedEvidenceResponse{}, err
	}
	if strings.TrimSpace(cell.EvidenceRef) == "" {
		return SignedEvidenceResponse{}, fmt.Errorf("%w: cell has no evidence", ErrEvidenceInvalidInput)
	}

	result, err := s.signer.SignedURL(ctx, s.bucket, cell.EvidenceRef, pstorage.SignedURLOptions{
		Download: &pstorage.DownloadOptions{
			Method:         "GET",
			ExpiresIn:      s.downloadExpiry,
			AllowAnonymous: true,
		},
	})
	if err != nil {
		return SignedEvidenceResponse{}, fmt.Errorf("evidence service: sign download url: %w", err)
	}

	s.logger(ctx, "evidence.download.issued", map[string]any{
		"matrix_id": cmd.MatrixID,
		"object":    cell.EvidenceRef,
	})
	return SignedEvidenceResponse{
		URL:         result.URL,
		Method:      result.Method,
		Headers:     result.Headers,
		EvidenceRef: cell.EvidenceRef,
		ExpiresAt:   result.ExpiresAt,
	}, nil
}

func (s *evidenceService) resolveCell(ctx context.Context, cmd EvidenceURLCommand) (domain.Cell, error) {
	matrixID := strings.TrimSpace(cmd.MatrixID)
	if matrixID == "" {
		return domain.Cell{}, fmt.Errorf("%w: matrix id is required", ErrEvidenceInvalidInput)
	}
	matrix, err := s.matrices.FindByID(ctx, matrixID)
	if err != nil {
		if isRepoNotFound(err) {
			return domain.Cell{}, ErrMatrixNotFound
		}
		return domain.Cell{}, err
	}
	if hod := cmd.Actor.HasRole(domain.RoleHeadOfDepartment); hod &&
		!cmd.Actor.HasRole(domain.RoleAdmin) && !cmd.Actor.HasRole(domain.RoleTrainingDirector) &&
		cmd.Actor.DepartmentID != "" && cmd.Actor.DepartmentID != matrix.DepartmentID {
		return domain.Cell{}, ErrMatrixUnauthorized
	}
	cell, ok := matrix.CellAt(cmd.Key)
	if !ok {
		return domain.Cell{}, ErrMatrixCellNotFound
	}
	return cell, nil
}

func (s *evidenceService) objectPath(cmd EvidenceURLCommand, fileName string) (string, error) {
	object, err := pstorage.BuildObjectPath(pstorage.PurposeEvidence, pstorage.PathParams{
		MatrixID:   strings.TrimSpace(cmd.MatrixID),
		PositionID: strings.TrimSpace(cmd.Key.PositionID),
		DocumentID: strings.TrimSpace(cmd.Key.DocumentID),
		FileName:   strings.TrimSpace(fileName),
	})
	if err != nil {
		return "", fmt.Errorf("%w: %s", ErrEvidenceInvalidInput, err)
	}
	return object, nil
}

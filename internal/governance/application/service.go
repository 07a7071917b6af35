package application

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	shared "github.com/ramxx/tminus/internal/shared/domain"
	"github.com/ramxx/tminus/internal/shared/infrastructure/security"
	storeapp "github.com/ramxx/tminus/internal/store/application"
	"github.com/ramxx/tminus/internal/store/domain"
	"github.com/ramxx/tminus/pkg/observability"

	"github.com/ramxx/tminus/internal/governance/infrastructure"
)

// proofKeyPrefix is the first segment of every proof storage key.
const proofKeyPrefix = "proofs"

// Store is the slice of the canonical store the governance engine reads.
type Store interface {
	GetCommitment(ctx context.Context, userID, id shared.ID) (*domain.Commitment, error)
	ListBillableEvents(ctx context.Context, userID shared.ID, clientID string) ([]storeapp.AllocatedEvent, error)
}

// Service computes commitment status and produces proof documents.
type Service struct {
	store   Store
	blobs   infrastructure.BlobStore
	metrics *observability.Metrics
	logger  *slog.Logger
}

// NewService creates the governance service.
func NewService(store Store, blobs infrastructure.BlobStore, metrics *observability.Metrics, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		store:   store,
		blobs:   blobs,
		metrics: metrics,
		logger:  logger,
	}
}

// GetCommitmentStatus computes the rolling-window status now.
func (s *Service) GetCommitmentStatus(ctx context.Context, userID, commitmentID shared.ID, now time.Time) (*CommitmentStatus, error) {
	commitment, billable, err := s.load(ctx, userID, commitmentID)
	if err != nil {
		return nil, err
	}
	status := ComputeStatus(commitment, billable, now)
	return &status, nil
}

// GetCommitmentProofData assembles the canonical proof structure.
func (s *Service) GetCommitmentProofData(ctx context.Context, userID, commitmentID shared.ID, now time.Time) (*ProofData, error) {
	commitment, billable, err := s.load(ctx, userID, commitmentID)
	if err != nil {
		return nil, err
	}
	proof := AssembleProof(commitment, billable, now)
	return &proof, nil
}

// ExportResult describes a stored proof document.
type ExportResult struct {
	Key       string `json:"key"`
	ProofHash string `json:"proof_hash"`
	Format    string `json:"format"`
	Size      int    `json:"size"`
}

// ExportProof renders the proof in the requested format and writes it to
// content-addressed storage under
// proofs/{user_id}/{commitment_id}/{rendered_at}.{ext} with the hash in
// the object metadata.
func (s *Service) ExportProof(ctx context.Context, userID, commitmentID shared.ID, format ProofFormat, now time.Time) (*ExportResult, error) {
	if !format.IsValid() {
		return nil, shared.E(shared.KindInvalidArgument, "invalid_format", "format must be pdf or csv")
	}

	proof, err := s.GetCommitmentProofData(ctx, userID, commitmentID, now)
	if err != nil {
		return nil, err
	}

	hash, err := ProofHash(*proof)
	if err != nil {
		return nil, shared.Wrap(shared.KindInternal, "proof_hash_failed", err)
	}

	var rendered []byte
	switch format {
	case FormatPDF:
		rendered, err = RenderPDF(*proof, hash)
	default:
		rendered, err = RenderCSV(*proof, hash)
	}
	if err != nil {
		return nil, shared.Wrap(shared.KindInternal, "proof_render_failed", err)
	}

	key := strings.Join([]string{
		proofKeyPrefix,
		userID.String(),
		commitmentID.String(),
		now.UTC().Format("2006-01-02T15-04-05Z") + "." + string(format),
	}, "/")

	if err := s.blobs.Put(ctx, key, rendered, map[string]string{"proof_hash": hash}); err != nil {
		return nil, shared.Wrap(shared.KindInternal, "proof_store_failed", err)
	}
	if s.metrics != nil {
		s.metrics.ProofDocuments.WithLabelValues(string(format)).Inc()
	}

	return &ExportResult{
		Key:       key,
		ProofHash: hash,
		Format:    string(format),
		Size:      len(rendered),
	}, nil
}

// Download is a stored proof document with its metadata.
type Download struct {
	Data        []byte
	ProofHash   string
	ContentType string
}

// DownloadProof fetches a stored document. The key must belong to the
// caller; a foreign or malformed key resolves to NotFound, never
// Forbidden, so key existence cannot be probed.
func (s *Service) DownloadProof(ctx context.Context, userID shared.ID, key string) (*Download, error) {
	if err := security.ValidateKeyOwnership(key, proofKeyPrefix, userID.String()); err != nil {
		return nil, shared.E(shared.KindNotFound, "proof_not_found", "proof document not found")
	}

	data, metadata, err := s.blobs.Get(ctx, key)
	if err != nil {
		if errors.Is(err, infrastructure.ErrBlobNotFound) {
			return nil, shared.E(shared.KindNotFound, "proof_not_found", "proof document not found")
		}
		return nil, shared.Wrap(shared.KindInternal, "proof_read_failed", err)
	}

	contentType := "application/octet-stream"
	if strings.HasSuffix(key, ".pdf") {
		contentType = "application/pdf"
	} else if strings.HasSuffix(key, ".csv") {
		contentType = "text/csv"
	}

	return &Download{
		Data:        data,
		ProofHash:   metadata["proof_hash"],
		ContentType: contentType,
	}, nil
}

func (s *Service) load(ctx context.Context, userID, commitmentID shared.ID) (*domain.Commitment, []storeapp.AllocatedEvent, error) {
	commitment, err := s.store.GetCommitment(ctx, userID, commitmentID)
	if err != nil {
		return nil, nil, err
	}
	if commitment == nil {
		return nil, nil, shared.E(shared.KindNotFound, "commitment_not_found", "commitment not found")
	}
	billable, err := s.store.ListBillableEvents(ctx, userID, commitment.ClientID)
	if err != nil {
		return nil, nil, err
	}
	return commitment, billable, nil
}

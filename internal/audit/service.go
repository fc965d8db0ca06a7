package audit

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// RepositoryPort abstracts persistence for the audit trail.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, Sink) error) error
	Timeline(ctx context.Context, filters TimelineFilters) ([]Record, error)
	Get(ctx context.Context, id uuid.UUID) (Record, error)
}

// TimelineFilters narrows the audit timeline query. OffsetRows and
// LimitRows are computed by the service; callers set Page and PageSize.
type TimelineFilters struct {
	From         time.Time
	To           time.Time
	Actor        string
	Action       string
	ResourceType string
	Page         int
	PageSize     int

	OffsetRows int
	LimitRows  int
}

// PagingInfo carries forward/backward paging hints.
type PagingInfo struct {
	Page     int
	PageSize int
	HasNext  bool
	PrevPage int
	NextPage int
}

// Result wraps timeline rows with paging information.
type Result struct {
	Records []Record
	Paging  PagingInfo
}

// Service coordinates audit trail reads and standalone emissions.
type Service struct {
	repo RepositoryPort
	now  func() time.Time
}

// NewService builds a Service.
func NewService(repo RepositoryPort) *Service {
	return &Service{repo: repo, now: func() time.Time { return time.Now().UTC() }}
}

// Emit writes a single record in its own transaction. Callers that
// already hold a transaction emit through their Sink instead.
func (s *Service) Emit(ctx context.Context, entry Entry) (Record, error) {
	if s.repo == nil {
		return Record{}, fmt.Errorf("audit: repository not configured")
	}
	var rec Record
	err := s.repo.WithTx(ctx, func(ctx context.Context, sink Sink) error {
		var err error
		rec, err = Emit(ctx, sink, entry, s.now())
		return err
	})
	if err != nil {
		return Record{}, err
	}
	return rec, nil
}

// Get fetches a single record by ID.
func (s *Service) Get(ctx context.Context, id uuid.UUID) (Record, error) {
	if s.repo == nil {
		return Record{}, fmt.Errorf("audit: repository not configured")
	}
	return s.repo.Get(ctx, id)
}

// Timeline fetches records with paging. One extra row is requested to
// detect whether a next page exists.
func (s *Service) Timeline(ctx context.Context, filters TimelineFilters) (Result, error) {
	if s.repo == nil {
		return Result{}, fmt.Errorf("audit: repository not configured")
	}
	pageSize := filters.PageSize
	if pageSize <= 0 {
		pageSize = 20
	}
	if pageSize > 50 {
		pageSize = 50
	}
	page := filters.Page
	if page <= 0 {
		page = 1
	}
	probe := filters
	probe.OffsetRows = (page - 1) * pageSize
	probe.LimitRows = pageSize + 1
	records, err := s.repo.Timeline(ctx, probe)
	if err != nil {
		return Result{}, err
	}
	hasNext := len(records) > pageSize
	if hasNext {
		records = records[:pageSize]
	}
	paging := PagingInfo{Page: page, PageSize: pageSize, HasNext: hasNext}
	if page > 1 {
		paging.PrevPage = page - 1
	}
	if hasNext {
		paging.NextPage = page + 1
	}
	return Result{Records: records, Paging: paging}, nil
}

// Chain walks a record's ancestry from the given record up to the root,
// reconstructing the cause-to-effect sequence.
func (s *Service) Chain(ctx context.Context, id uuid.UUID) ([]Record, error) {
	if s.repo == nil {
		return nil, fmt.Errorf("audit: repository not configured")
	}
	var chain []Record
	next := &id
	for next != nil {
		rec, err := s.repo.Get(ctx, *next)
		if err != nil {
			return nil, err
		}
		chain = append(chain, rec)
		next = rec.ParentID
		if len(chain) > 64 {
			return nil, fmt.Errorf("audit: chain depth exceeds limit at %s", id)
		}
	}
	return chain, nil
}

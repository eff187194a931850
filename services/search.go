package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"rentcomps/fieldmap"
	"rentcomps/models"
	"rentcomps/rets"
	"rentcomps/utils"
)

// ErrEmptySubject is returned when a subject carries nothing to search on.
var ErrEmptySubject = errors.New("subject has no address, city, coordinates, or layout")

// ListingSource runs RETS searches.
type ListingSource interface {
	Search(ctx context.Context, req rets.SearchRequest) (*rets.SearchResult, error)
}

// CompService finds and ranks rental comps for a subject property.
type CompService struct {
	source  ListingSource
	mapper  *fieldmap.Mapper
	scorer  *Scorer
	summary *SummaryService
	logger  *utils.Logger
	now     func() time.Time
}

// NewCompService wires a search source, a field mapper and a scorer.
func NewCompService(source ListingSource, mapper *fieldmap.Mapper, scorer *Scorer, logger *utils.Logger) *CompService {
	if logger == nil {
		logger = utils.NewNopLogger()
	}
	if scorer == nil {
		scorer = NewScorer(DefaultScoreConfig(), nil)
	}
	return &CompService{
		source:  source,
		mapper:  mapper,
		scorer:  scorer,
		summary: NewSummaryService(logger),
		logger:  logger,
		now:     scorer.now,
	}
}

// FetchListings runs one search for the subject and returns the canonical
// listings, with invalid rows and duplicates already dropped.
func (s *CompService) FetchListings(ctx context.Context, subject *models.Subject, criteria models.SearchCriteria) ([]*models.Listing, error) {
	listings, _, _, err := s.fetch(ctx, subject, withDefaults(criteria))
	return listings, err
}

// FindComps fetches candidates, ranks them against the subject and
// summarises the result.
func (s *CompService) FindComps(ctx context.Context, subject *models.Subject, criteria models.SearchCriteria) (*models.CompResult, error) {
	if isEmptySubject(subject) {
		return nil, ErrEmptySubject
	}
	criteria = withDefaults(criteria)

	listings, raw, query, err := s.fetch(ctx, subject, criteria)
	if err != nil {
		return nil, err
	}

	scorer := s.scorer
	if criteria.RadiusMiles > 0 && criteria.RadiusMiles != scorer.cfg.RadiusMiles {
		cfg := scorer.cfg
		cfg.RadiusMiles = criteria.RadiusMiles
		scorer = NewScorer(cfg, scorer.now)
	}
	comps := scorer.Rank(listings, subject, criteria.RadiusMiles, criteria.TopN)

	s.logger.Info("[comps] Returning %d rental comps (from %d candidates)", len(comps), len(listings))
	return &models.CompResult{
		Subject:    *subject,
		Criteria:   criteria,
		Query:      query,
		Fetched:    len(raw),
		Comps:      comps,
		Summary:    s.summary.Generate(comps),
		SearchedAt: s.now(),
		Raw:        raw,
	}, nil
}

func (s *CompService) fetch(ctx context.Context, subject *models.Subject, criteria models.SearchCriteria) ([]*models.Listing, []models.RawRecord, string, error) {
	schema := s.mapper.Schema()
	query := rets.BuildQuery(s.mapper.Conditions(subject, criteria, s.now()))
	s.logger.Info("[comps] Rental DMQL2 query: %s", query)

	req := rets.SearchRequest{
		SearchType:    schema.SearchType,
		Class:         schema.Class,
		Query:         query,
		Limit:         criteria.RowLimit,
		StandardNames: schema.StandardNames,
	}
	if schema.UseSelect {
		req.Select = s.mapper.SelectFields()
	}

	res, err := s.source.Search(ctx, req)
	if err != nil {
		return nil, nil, query, fmt.Errorf("comp search: %w", err)
	}

	listings := s.mapper.WithRequireSqft(criteria.RequireSqft).MapAll(res.Records)
	return listings, res.Records, query, nil
}

// withDefaults fills the row limit and result cap when unset.
func withDefaults(c models.SearchCriteria) models.SearchCriteria {
	def := models.DefaultCriteria()
	if c.RowLimit <= 0 {
		c.RowLimit = def.RowLimit
	}
	if c.TopN <= 0 {
		c.TopN = def.TopN
	}
	return c
}

func isEmptySubject(s *models.Subject) bool {
	return s == nil || (s.Address == "" && s.City == "" && s.Zip == "" &&
		!s.HasCoordinates() && s.Bedrooms == 0 && s.Bathrooms == 0 && s.Sqft == 0)
}

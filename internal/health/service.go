package health

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// CheckFunc probes one dependency. A nil error means healthy.
type CheckFunc func(ctx context.Context) error

// Probe is a registered health check.
type Probe struct {
	Category HealthCategory
	ID       string
	Name     string
	Check    CheckFunc
	// Warn reports failures as warnings instead of errors.
	Warn bool
}

type itemKey struct {
	category HealthCategory
	id       string
}

// Service manages the health state of all tracked items.
// All state is in-memory and resets on application restart.
type Service struct {
	items  map[itemKey]*HealthItem
	probes []Probe
	mu     sync.RWMutex
	logger zerolog.Logger
}

// NewService creates a new health service.
func NewService(logger zerolog.Logger) *Service {
	return &Service{
		items:  make(map[itemKey]*HealthItem),
		logger: logger.With().Str("component", "health").Logger(),
	}
}

// AddProbe registers a check and its item with OK status.
func (s *Service) AddProbe(p Probe) {
	s.mu.Lock()
	s.probes = append(s.probes, p)
	s.mu.Unlock()
	s.RegisterItem(p.Category, p.ID, p.Name)
}

// RegisterItem adds a new item to health tracking with OK status.
func (s *Service) RegisterItem(category HealthCategory, id, name string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.items[itemKey{category, id}] = &HealthItem{
		ID:       id,
		Category: category,
		Name:     name,
		Status:   StatusOK,
	}

	s.logger.Debug().
		Str("category", string(category)).
		Str("id", id).
		Str("name", name).
		Msg("Registered health item")
}

// SetError sets an item to Error status with a message.
func (s *Service) SetError(category HealthCategory, id, message string) {
	s.setStatus(category, id, StatusError, message)
}

// SetWarning sets an item to Warning status with a message.
func (s *Service) SetWarning(category HealthCategory, id, message string) {
	s.setStatus(category, id, StatusWarning, message)
}

// ClearStatus resets an item to OK status.
func (s *Service) ClearStatus(category HealthCategory, id string) {
	s.setStatus(category, id, StatusOK, "")
}

func (s *Service) setStatus(category HealthCategory, id string, status HealthStatus, message string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	item, exists := s.items[itemKey{category, id}]
	if !exists {
		s.logger.Warn().
			Str("category", string(category)).
			Str("id", id).
			Msg("Attempted to update status for unregistered item")
		return
	}

	if item.Status == status && item.Message == message {
		return
	}

	oldStatus := item.Status
	item.Status = status
	item.Message = message
	if status != StatusOK {
		now := time.Now()
		item.Timestamp = &now
	} else {
		item.Timestamp = nil
	}

	s.logger.Info().
		Str("category", string(category)).
		Str("id", id).
		Str("name", item.Name).
		Str("oldStatus", string(oldStatus)).
		Str("newStatus", string(status)).
		Str("message", message).
		Msg("Health status changed")
}

// RunProbes runs every registered probe and records the results.
func (s *Service) RunProbes(ctx context.Context) {
	s.mu.RLock()
	probes := append([]Probe(nil), s.probes...)
	s.mu.RUnlock()

	for _, p := range probes {
		err := p.Check(ctx)
		switch {
		case err == nil:
			s.ClearStatus(p.Category, p.ID)
		case p.Warn:
			s.SetWarning(p.Category, p.ID, err.Error())
		default:
			s.SetError(p.Category, p.ID, err.Error())
		}
	}
}

// GetAll returns all items ordered by category and id.
func (s *Service) GetAll() []HealthItem {
	s.mu.RLock()
	defer s.mu.RUnlock()

	items := make([]HealthItem, 0, len(s.items))
	for _, item := range s.items {
		items = append(items, *item)
	}
	sort.Slice(items, func(i, j int) bool {
		if items[i].Category != items[j].Category {
			return items[i].Category < items[j].Category
		}
		return items[i].ID < items[j].ID
	})
	return items
}

// Report returns every item with the worst status as the overall status.
func (s *Service) Report() Report {
	items := s.GetAll()
	overall := StatusOK
	for _, item := range items {
		switch item.Status {
		case StatusError:
			overall = StatusError
		case StatusWarning:
			if overall == StatusOK {
				overall = StatusWarning
			}
		}
	}
	return Report{Status: overall, Checks: items}
}

// IsHealthy returns true if the specified item is OK.
func (s *Service) IsHealthy(category HealthCategory, id string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if item, exists := s.items[itemKey{category, id}]; exists {
		return item.Status == StatusOK
	}
	return false
}

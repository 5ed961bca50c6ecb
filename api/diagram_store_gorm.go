package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"gorm.io/gorm"

	"github.com/drawdock/drawdock/internal/slogging"
	"github.com/drawdock/drawdock/internal/uuidgen"
)

// diagramModel is the GORM row shape for persisted diagrams.
type diagramModel struct {
	ID           string    `gorm:"primaryKey;size:36"`
	Version      int64     `gorm:"not null"`
	Content      []byte    `gorm:"not null"`
	LastModified time.Time `gorm:"not null"`
}

func (diagramModel) TableName() string {
	return "diagrams"
}

// GormDiagramStore implements DiagramStore using GORM, with an optional
// Redis read-through cache.
//
// The mutex serializes the read-check-write sequence within this process,
// which closes the optimistic-concurrency race for a single-instance
// deployment. Across processes the race remains and is resolved by the
// version check alone: the second writer is rejected after the fact.
type GormDiagramStore struct {
	db    *gorm.DB
	cache *CacheService
	mutex sync.Mutex
}

// NewGormDiagramStore creates a GORM-backed diagram store with optional caching.
func NewGormDiagramStore(db *gorm.DB, cache *CacheService) *GormDiagramStore {
	return &GormDiagramStore{db: db, cache: cache}
}

// AutoMigrate creates or updates the diagrams table.
func (s *GormDiagramStore) AutoMigrate() error {
	return s.db.AutoMigrate(&diagramModel{})
}

// Get retrieves a diagram by id.
func (s *GormDiagramStore) Get(ctx context.Context, id string) (*DiagramRecord, error) {
	logger := slogging.Get()

	// Try cache first
	if s.cache != nil {
		record, err := s.cache.GetCachedDiagram(ctx, id)
		if err != nil {
			logger.Error("Cache error when getting diagram %s: %v", id, err)
		} else if record != nil {
			logger.Debug("Cache hit for diagram: %s", id)
			return record, nil
		}
	}

	var model diagramModel
	result := s.db.WithContext(ctx).First(&model, "id = ?", id)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		logger.Error("Failed to get diagram from database: %v", result.Error)
		return nil, fmt.Errorf("failed to get diagram: %w", result.Error)
	}

	record := modelToRecord(&model)

	if s.cache != nil {
		if cacheErr := s.cache.CacheDiagram(ctx, record); cacheErr != nil {
			logger.Error("Failed to cache diagram %s: %v", id, cacheErr)
		}
	}

	return record, nil
}

// Exists reports whether a diagram row exists.
func (s *GormDiagramStore) Exists(ctx context.Context, id string) (bool, error) {
	var count int64
	result := s.db.WithContext(ctx).Model(&diagramModel{}).Where("id = ?", id).Count(&count)
	if result.Error != nil {
		return false, fmt.Errorf("failed to check diagram existence: %w", result.Error)
	}
	return count > 0, nil
}

// Create allocates a fresh id, collision-checked against existing rows, and
// writes version 0.
func (s *GormDiagramStore) Create(ctx context.Context, content json.RawMessage) (*DiagramRecord, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	logger := slogging.Get()

	var id string
	for attempt := 0; attempt < 5; attempt++ {
		candidate := uuidgen.MustNewForEntity(uuidgen.EntityTypeDiagram).String()
		exists, err := s.Exists(ctx, candidate)
		if err != nil {
			return nil, err
		}
		if !exists {
			id = candidate
			break
		}
	}
	if id == "" {
		return nil, fmt.Errorf("failed to allocate diagram id: %w", ErrDiagramExists)
	}

	now := time.Now().UTC()
	model := diagramModel{
		ID:           id,
		Version:      0,
		Content:      cloneContent(content),
		LastModified: now,
	}

	if err := s.db.WithContext(ctx).Create(&model).Error; err != nil {
		logger.Error("Failed to create diagram in database: %v", err)
		return nil, fmt.Errorf("failed to create diagram: %w", err)
	}

	record := modelToRecord(&model)

	if s.cache != nil {
		if cacheErr := s.cache.CacheDiagram(ctx, record); cacheErr != nil {
			logger.Error("Failed to cache new diagram: %v", cacheErr)
		}
	}

	logger.Debug("Created diagram %s at version 0", id)
	return record, nil
}

// Update applies a version-checked write. The stored version must equal
// expectedVersion; otherwise the write is rejected with the authoritative
// version and the record is left untouched.
func (s *GormDiagramStore) Update(ctx context.Context, id string, content json.RawMessage, expectedVersion int64) (*DiagramRecord, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	logger := slogging.Get()

	var model diagramModel
	result := s.db.WithContext(ctx).First(&model, "id = ?", id)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to read diagram for update: %w", result.Error)
	}

	if model.Version != expectedVersion {
		logger.Debug("Rejecting stale write for diagram %s: expected %d, stored %d",
			id, expectedVersion, model.Version)
		return nil, &VersionConflictError{
			DiagramID: id,
			Expected:  expectedVersion,
			Current:   model.Version,
		}
	}

	model.Version = expectedVersion + 1
	model.Content = cloneContent(content)
	model.LastModified = time.Now().UTC()

	if err := s.db.WithContext(ctx).Save(&model).Error; err != nil {
		logger.Error("Failed to write diagram %s: %v", id, err)
		return nil, fmt.Errorf("failed to update diagram: %w", err)
	}

	record := modelToRecord(&model)

	// Write-through so readers never see a stale cached version
	if s.cache != nil {
		if cacheErr := s.cache.CacheDiagram(ctx, record); cacheErr != nil {
			logger.Error("Failed to refresh cache for diagram %s: %v", id, cacheErr)
		}
	}

	logger.Debug("Updated diagram %s to version %d", id, record.Version)
	return record, nil
}

func modelToRecord(m *diagramModel) *DiagramRecord {
	return &DiagramRecord{
		ID:           m.ID,
		Version:      m.Version,
		Content:      json.RawMessage(m.Content),
		LastModified: m.LastModified,
	}
}

func cloneContent(content json.RawMessage) []byte {
	if len(content) == 0 {
		return []byte("{}")
	}
	out := make([]byte, len(content))
	copy(out, content)
	return out
}

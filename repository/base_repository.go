package repository

import (
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// BaseRepository is the surface every review entity store shares. Writes
// beyond Create go through the typed repositories, which update guarded
// column sets (TransitionStatus, UpdateFields, atomic counters) instead of
// saving whole rows.
type BaseRepository[T any] interface {
	Create(entity *T) error
	GetByID(id uuid.UUID) (*T, error)
}

type BaseRepositoryImpl[T any] struct {
	db *gorm.DB
}

func NewBaseRepository[T any](db *gorm.DB) *BaseRepositoryImpl[T] {
	return &BaseRepositoryImpl[T]{db: db}
}

func (r *BaseRepositoryImpl[T]) Create(entity *T) error {
	return r.db.Create(entity).Error
}

func (r *BaseRepositoryImpl[T]) GetByID(id uuid.UUID) (*T, error) {
	var entity T
	if err := r.db.First(&entity, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &entity, nil
}

// paginate bounds the list queries of the typed repositories; non-positive
// limits fall back to one default page.
func paginate(db *gorm.DB, limit, offset int) *gorm.DB {
	if limit <= 0 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}
	return db.Limit(limit).Offset(offset)
}

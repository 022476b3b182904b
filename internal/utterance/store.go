package utterance

import (
	"context"
	"errors"

	"gorm.io/gorm"

	"github.com/igorvboas/medcall-ai-sub003/internal/shared"
)

type Store struct {
	db *gorm.DB
}

func NewStore(db *gorm.DB) *Store {
	return &Store{db: db}
}

func (s *Store) Migrate() error {
	return s.db.AutoMigrate(&Utterance{})
}

func (s *Store) Create(ctx context.Context, u *Utterance) error {
	if u.ID == "" {
		u.ID = shared.NewID("utt_")
	}
	return s.db.WithContext(ctx).Create(u).Error
}

func (s *Store) GetByID(ctx context.Context, id string) (*Utterance, error) {
	var u Utterance
	err := s.db.WithContext(ctx).Where("id = ?", id).First(&u).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, shared.ErrNotFound
	}
	return &u, err
}

// ListBySession returns the session transcript in spoken order.
func (s *Store) ListBySession(ctx context.Context, sessionID string, limit, offset int) ([]*Utterance, error) {
	var utterances []*Utterance
	q := s.db.WithContext(ctx).Where("session_id = ?", sessionID).Order("started_at ASC")
	if limit > 0 {
		q = q.Limit(limit).Offset(offset)
	}
	err := q.Find(&utterances).Error
	return utterances, err
}

func (s *Store) ListByConsultation(ctx context.Context, consultationID string, limit, offset int) ([]*Utterance, error) {
	var utterances []*Utterance
	q := s.db.WithContext(ctx).Where("consultation_id = ?", consultationID).Order("started_at ASC")
	if limit > 0 {
		q = q.Limit(limit).Offset(offset)
	}
	err := q.Find(&utterances).Error
	return utterances, err
}

func (s *Store) CountBySession(ctx context.Context, sessionID string) (int64, error) {
	var count int64
	err := s.db.WithContext(ctx).Model(&Utterance{}).Where("session_id = ?", sessionID).Count(&count).Error
	return count, err
}

func (s *Store) DeleteBySession(ctx context.Context, sessionID string) error {
	return s.db.WithContext(ctx).Delete(&Utterance{}, "session_id = ?", sessionID).Error
}

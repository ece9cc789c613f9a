// Package store persists conversations. The mesh core only reads and writes
// conversation identifiers; message bodies belong to the assistant layer.
package store

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// ErrConversationNotFound is returned when a conversation id is unknown.
var ErrConversationNotFound = errors.New("conversation not found")

// Conversation is one stored conversation.
type Conversation struct {
	ID        string    `gorm:"primaryKey" json:"id"`
	Title     string    `json:"title"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// ConversationStore is a sqlite-backed conversation catalog.
type ConversationStore struct {
	db     *gorm.DB
	logger *zap.Logger
}

// OpenConversationStore opens (or creates) the sqlite database under dataDir
// and migrates the schema. Pass ":memory:" as dataDir for an in-memory store.
func OpenConversationStore(dataDir string, log *zap.Logger) (*ConversationStore, error) {
	if log == nil {
		log = zap.NewNop()
	}

	dsn := ":memory:"
	if dataDir != ":memory:" {
		dsn = filepath.Join(dataDir, "agentmesh.db")
	}

	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}
	if err := db.AutoMigrate(&Conversation{}); err != nil {
		return nil, fmt.Errorf("migrate conversation schema: %w", err)
	}

	return &ConversationStore{
		db:     db,
		logger: log.With(zap.String("component", "conversation_store")),
	}, nil
}

// List returns all conversations, most recently updated first.
func (s *ConversationStore) List(ctx context.Context) ([]Conversation, error) {
	var out []Conversation
	if err := s.db.WithContext(ctx).Order("updated_at DESC").Find(&out).Error; err != nil {
		return nil, fmt.Errorf("list conversations: %w", err)
	}
	return out, nil
}

// Create stores a new conversation and returns it.
func (s *ConversationStore) Create(ctx context.Context, title string) (*Conversation, error) {
	now := time.Now().UTC()
	conv := &Conversation{
		ID:        uuid.NewString(),
		Title:     title,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.db.WithContext(ctx).Create(conv).Error; err != nil {
		return nil, fmt.Errorf("create conversation: %w", err)
	}
	s.logger.Debug("conversation created", zap.String("id", conv.ID))
	return conv, nil
}

// Get fetches one conversation by id.
func (s *ConversationStore) Get(ctx context.Context, id string) (*Conversation, error) {
	var conv Conversation
	err := s.db.WithContext(ctx).First(&conv, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrConversationNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get conversation: %w", err)
	}
	return &conv, nil
}

// Touch bumps a conversation's updated timestamp.
func (s *ConversationStore) Touch(ctx context.Context, id string) error {
	res := s.db.WithContext(ctx).Model(&Conversation{}).
		Where("id = ?", id).
		Update("updated_at", time.Now().UTC())
	if res.Error != nil {
		return fmt.Errorf("touch conversation: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrConversationNotFound
	}
	return nil
}

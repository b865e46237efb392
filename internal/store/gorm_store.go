package store

import (
	"errors"
	"fmt"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"bookswap/pkg/domain"
)

// GormStore implements Store using GORM + Postgres.
type GormStore struct {
	db *gorm.DB
}

// NewGormStore opens the DB, runs auto-migrations, and installs the partial
// unique index that guarantees at most one pending exchange per book even
// under concurrent requests.
func NewGormStore(dsn string) (*GormStore, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{TranslateError: true})
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if err := db.AutoMigrate(
		&UserModel{},
		&BookModel{},
		&ExchangeModel{},
		&HistoryEntryModel{},
		&ReviewModel{},
		&ChatMessageModel{},
	); err != nil {
		return nil, fmt.Errorf("auto migrate: %w", err)
	}
	if err := db.Exec(
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_exchanges_one_pending_per_book
		 ON exchange_models (requested_book_id) WHERE status = 'pending'`,
	).Error; err != nil {
		return nil, fmt.Errorf("create pending exchange index: %w", err)
	}
	return &GormStore{db: db}, nil
}

// users

// SaveUser creates or updates a user record.
func (s *GormStore) SaveUser(u domain.User) error {
	model := userToModel(u)
	err := s.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{"name", "email", "password_hash", "updated_at"}),
	}).Create(&model).Error
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return ErrDuplicate
	}
	return err
}

func (s *GormStore) HasUserEmail(email string) (bool, error) {
	var count int64
	if err := s.db.Model(&UserModel{}).Where("email = ?", email).Count(&count).Error; err != nil {
		return false, err
	}
	return count > 0, nil
}

func (s *GormStore) GetUserByEmail(email string) (domain.User, bool, error) {
	var model UserModel
	if err := s.db.Where("email = ?", email).First(&model).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.User{}, false, nil
		}
		return domain.User{}, false, err
	}
	return userFromModel(model), true, nil
}

func (s *GormStore) GetUserByID(id string) (domain.User, bool, error) {
	var model UserModel
	if err := s.db.First(&model, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.User{}, false, nil
		}
		return domain.User{}, false, err
	}
	return userFromModel(model), true, nil
}

func (s *GormStore) ListUsers() ([]domain.User, error) {
	var models []UserModel
	if err := s.db.Order("created_at ASC").Find(&models).Error; err != nil {
		return nil, err
	}
	res := make([]domain.User, 0, len(models))
	for _, m := range models {
		res = append(res, userFromModel(m))
	}
	return res, nil
}

func (s *GormStore) DeleteUser(id string) error {
	return s.db.Delete(&UserModel{}, "id = ?", id).Error
}

// books

func (s *GormStore) SaveBook(b domain.Book) error {
	model := bookToModel(b)
	return s.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{"owner_id", "title", "author", "genre", "publication_year", "cover_key", "updated_at"}),
	}).Create(&model).Error
}

func (s *GormStore) GetBook(id string) (domain.Book, bool, error) {
	var model BookModel
	if err := s.db.First(&model, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.Book{}, false, nil
		}
		return domain.Book{}, false, err
	}
	return bookFromModel(model), true, nil
}

func (s *GormStore) ListBooks() ([]domain.Book, error) {
	return s.listBooks()
}

func (s *GormStore) ListBooksByOwner(ownerID string) ([]domain.Book, error) {
	return s.listBooks("owner_id = ?", ownerID)
}

func (s *GormStore) listBooks(conds ...any) ([]domain.Book, error) {
	var models []BookModel
	tx := s.db.Order("created_at ASC")
	if len(conds) > 0 {
		tx = tx.Where(conds[0], conds[1:]...)
	}
	if err := tx.Find(&models).Error; err != nil {
		return nil, err
	}
	res := make([]domain.Book, 0, len(models))
	for _, m := range models {
		res = append(res, bookFromModel(m))
	}
	return res, nil
}

func (s *GormStore) DeleteBook(id string) error {
	return s.db.Delete(&BookModel{}, "id = ?", id).Error
}

// exchanges

// CreateExchange inserts a pending exchange. The existence check and the
// insert share one transaction; the partial unique index backs the same
// invariant at the storage level, so a concurrent duplicate surfaces as
// ErrDuplicate either way.
func (s *GormStore) CreateExchange(e domain.Exchange) error {
	model := exchangeToModel(e)
	err := s.db.Transaction(func(tx *gorm.DB) error {
		var count int64
		if err := tx.Model(&ExchangeModel{}).
			Where("requested_book_id = ? AND status = ?", e.RequestedBookID, string(domain.ExchangePending)).
			Count(&count).Error; err != nil {
			return err
		}
		if count > 0 {
			return ErrDuplicate
		}
		return tx.Create(&model).Error
	})
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return ErrDuplicate
	}
	return err
}

func (s *GormStore) GetExchange(id string) (domain.Exchange, bool, error) {
	var model ExchangeModel
	if err := s.db.First(&model, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.Exchange{}, false, nil
		}
		return domain.Exchange{}, false, err
	}
	return exchangeFromModel(model), true, nil
}

func (s *GormStore) ListExchanges() ([]domain.Exchange, error) {
	var models []ExchangeModel
	if err := s.db.Order("created_at ASC").Find(&models).Error; err != nil {
		return nil, err
	}
	return exchangesFromModels(models), nil
}

// ListExchangesForUser returns exchanges where the user is the requester or
// owns the requested book.
func (s *GormStore) ListExchangesForUser(userID string) ([]domain.Exchange, error) {
	var models []ExchangeModel
	err := s.db.Model(&ExchangeModel{}).
		Select("exchange_models.*").
		Joins("LEFT JOIN book_models ON book_models.id = exchange_models.requested_book_id").
		Where("exchange_models.requester_id = ? OR book_models.owner_id = ?", userID, userID).
		Order("exchange_models.created_at ASC").
		Find(&models).Error
	if err != nil {
		return nil, err
	}
	return exchangesFromModels(models), nil
}

func (s *GormStore) ListTerminalExchanges() ([]domain.Exchange, error) {
	var models []ExchangeModel
	err := s.db.
		Where("status IN ?", []string{string(domain.ExchangeApproved), string(domain.ExchangeRejected)}).
		Order("created_at ASC").
		Find(&models).Error
	if err != nil {
		return nil, err
	}
	return exchangesFromModels(models), nil
}

// SetExchangeStatus moves a pending exchange to a terminal status. The write
// is conditional on the row still being pending so two concurrent deciders
// cannot both land; the loser sees ErrNotPending.
func (s *GormStore) SetExchangeStatus(id string, status domain.ExchangeStatus) error {
	res := s.db.Model(&ExchangeModel{}).
		Where("id = ? AND status = ?", id, string(domain.ExchangePending)).
		Updates(map[string]any{
			"status":     string(status),
			"updated_at": time.Now().UTC(),
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotPending
	}
	return nil
}

// DeleteExchange removes a pending exchange. Terminal rows survive so a
// cancellation racing an approval cannot erase the decided exchange.
func (s *GormStore) DeleteExchange(id string) error {
	res := s.db.
		Where("id = ? AND status = ?", id, string(domain.ExchangePending)).
		Delete(&ExchangeModel{})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotPending
	}
	return nil
}

// history

// AppendHistory inserts an entry unless one already exists for the
// (exchange, participant) pair. Entries are never updated or deleted.
func (s *GormStore) AppendHistory(entry domain.HistoryEntry) error {
	model := historyToModel(entry)
	return s.db.Clauses(clause.OnConflict{DoNothing: true}).Create(&model).Error
}

func (s *GormStore) HasHistory(exchangeID, participantID string) (bool, error) {
	var count int64
	err := s.db.Model(&HistoryEntryModel{}).
		Where("exchange_id = ? AND participant_id = ?", exchangeID, participantID).
		Count(&count).Error
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

func (s *GormStore) ListHistoryForUser(userID string) ([]domain.HistoryEntry, error) {
	return s.listHistory("participant_id = ?", userID)
}

func (s *GormStore) ListHistoryForExchange(exchangeID string) ([]domain.HistoryEntry, error) {
	return s.listHistory("exchange_id = ?", exchangeID)
}

func (s *GormStore) listHistory(cond string, arg any) ([]domain.HistoryEntry, error) {
	var models []HistoryEntryModel
	if err := s.db.Where(cond, arg).Order("created_at ASC").Find(&models).Error; err != nil {
		return nil, err
	}
	res := make([]domain.HistoryEntry, 0, len(models))
	for _, m := range models {
		res = append(res, historyFromModel(m))
	}
	return res, nil
}

// reviews

func (s *GormStore) SaveReview(r domain.Review) error {
	model := reviewToModel(r)
	err := s.db.Create(&model).Error
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return ErrDuplicate
	}
	return err
}

func (s *GormStore) HasReview(exchangeID, authorID string) (bool, error) {
	var count int64
	err := s.db.Model(&ReviewModel{}).
		Where("exchange_id = ? AND author_id = ?", exchangeID, authorID).
		Count(&count).Error
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

func (s *GormStore) ListReviewsForExchange(exchangeID string) ([]domain.Review, error) {
	var models []ReviewModel
	err := s.db.Where("exchange_id = ?", exchangeID).
		Order("created_at ASC").
		Find(&models).Error
	if err != nil {
		return nil, err
	}
	return reviewsFromModels(models), nil
}

// ListReviewsAboutUser returns reviews written by the counterparty on
// exchanges the user participated in; these are the ratings the user's
// reputation is computed from.
func (s *GormStore) ListReviewsAboutUser(userID string) ([]domain.Review, error) {
	var models []ReviewModel
	err := s.db.Model(&ReviewModel{}).
		Select("review_models.*").
		Joins("JOIN exchange_models ON exchange_models.id = review_models.exchange_id").
		Joins("JOIN book_models ON book_models.id = exchange_models.requested_book_id").
		Where("(exchange_models.requester_id = ? OR book_models.owner_id = ?) AND review_models.author_id <> ?",
			userID, userID, userID).
		Order("review_models.created_at ASC").
		Find(&models).Error
	if err != nil {
		return nil, err
	}
	return reviewsFromModels(models), nil
}

// chat

func (s *GormStore) AppendMessage(msg domain.ChatMessage) error {
	model := messageToModel(msg)
	return s.db.Create(&model).Error
}

func (s *GormStore) ListMessages(exchangeID string) ([]domain.ChatMessage, error) {
	var models []ChatMessageModel
	err := s.db.Where("exchange_id = ?", exchangeID).
		Order("created_at ASC").
		Find(&models).Error
	if err != nil {
		return nil, err
	}
	res := make([]domain.ChatMessage, 0, len(models))
	for _, m := range models {
		res = append(res, messageFromModel(m))
	}
	return res, nil
}

// model conversions

func userToModel(u domain.User) UserModel {
	return UserModel{
		ID:           u.ID,
		Name:         u.Name,
		Email:        u.Email,
		PasswordHash: u.PasswordHash,
		CreatedAt:    u.CreatedAt,
		UpdatedAt:    u.UpdatedAt,
	}
}

func userFromModel(m UserModel) domain.User {
	return domain.User{
		ID:           m.ID,
		Name:         m.Name,
		Email:        m.Email,
		PasswordHash: m.PasswordHash,
		CreatedAt:    m.CreatedAt,
		UpdatedAt:    m.UpdatedAt,
	}
}

func bookToModel(b domain.Book) BookModel {
	return BookModel{
		ID:              b.ID,
		OwnerID:         b.OwnerID,
		Title:           b.Title,
		Author:          b.Author,
		Genre:           b.Genre,
		PublicationYear: b.PublicationYear,
		CoverKey:        b.CoverKey,
		CreatedAt:       b.CreatedAt,
		UpdatedAt:       b.UpdatedAt,
	}
}

func bookFromModel(m BookModel) domain.Book {
	return domain.Book{
		ID:              m.ID,
		OwnerID:         m.OwnerID,
		Title:           m.Title,
		Author:          m.Author,
		Genre:           m.Genre,
		PublicationYear: m.PublicationYear,
		CoverKey:        m.CoverKey,
		CreatedAt:       m.CreatedAt,
		UpdatedAt:       m.UpdatedAt,
	}
}

func exchangeToModel(e domain.Exchange) ExchangeModel {
	return ExchangeModel{
		ID:              e.ID,
		RequestedBookID: e.RequestedBookID,
		RequesterID:     e.RequesterID,
		Status:          string(e.Status),
		CreatedAt:       e.CreatedAt,
		UpdatedAt:       e.UpdatedAt,
	}
}

func exchangeFromModel(m ExchangeModel) domain.Exchange {
	return domain.Exchange{
		ID:              m.ID,
		RequestedBookID: m.RequestedBookID,
		RequesterID:     m.RequesterID,
		Status:          domain.ExchangeStatus(m.Status),
		CreatedAt:       m.CreatedAt,
		UpdatedAt:       m.UpdatedAt,
	}
}

func exchangesFromModels(models []ExchangeModel) []domain.Exchange {
	res := make([]domain.Exchange, 0, len(models))
	for _, m := range models {
		res = append(res, exchangeFromModel(m))
	}
	return res
}

func historyToModel(h domain.HistoryEntry) HistoryEntryModel {
	return HistoryEntryModel{
		ID:            h.ID,
		ExchangeID:    h.ExchangeID,
		ParticipantID: h.ParticipantID,
		CreatedAt:     h.CreatedAt,
	}
}

func historyFromModel(m HistoryEntryModel) domain.HistoryEntry {
	return domain.HistoryEntry{
		ID:            m.ID,
		ExchangeID:    m.ExchangeID,
		ParticipantID: m.ParticipantID,
		CreatedAt:     m.CreatedAt,
	}
}

func reviewToModel(r domain.Review) ReviewModel {
	return ReviewModel{
		ID:         r.ID,
		ExchangeID: r.ExchangeID,
		AuthorID:   r.AuthorID,
		Rating:     r.Rating,
		Comment:    r.Comment,
		CreatedAt:  r.CreatedAt,
	}
}

func reviewsFromModels(models []ReviewModel) []domain.Review {
	res := make([]domain.Review, 0, len(models))
	for _, m := range models {
		res = append(res, domain.Review{
			ID:         m.ID,
			ExchangeID: m.ExchangeID,
			AuthorID:   m.AuthorID,
			Rating:     m.Rating,
			Comment:    m.Comment,
			CreatedAt:  m.CreatedAt,
		})
	}
	return res
}

func messageToModel(msg domain.ChatMessage) ChatMessageModel {
	return ChatMessageModel{
		ID:         msg.ID,
		ExchangeID: msg.ExchangeID,
		AuthorID:   msg.AuthorID,
		Body:       msg.Body,
		CreatedAt:  msg.CreatedAt,
	}
}

func messageFromModel(m ChatMessageModel) domain.ChatMessage {
	return domain.ChatMessage{
		ID:         m.ID,
		ExchangeID: m.ExchangeID,
		AuthorID:   m.AuthorID,
		Body:       m.Body,
		CreatedAt:  m.CreatedAt,
	}
}

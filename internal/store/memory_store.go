package store

import (
	"sort"
	"sync"

	"bookswap/pkg/domain"
)

// MemoryStore keeps all records in-process. It backs tests and local runs
// without Postgres; the mutex gives the same check-then-act atomicity the
// GormStore gets from transactions.
type MemoryStore struct {
	mu         sync.RWMutex
	users      map[string]domain.User
	email      map[string]string // email -> user ID
	userOrder  []string
	books      map[string]domain.Book
	bookOrder  []string
	exchanges  map[string]domain.Exchange
	exchOrder  []string
	history    []domain.HistoryEntry
	historyKey map[string]struct{} // exchangeID|participantID
	reviews    []domain.Review
	reviewKey  map[string]struct{} // exchangeID|authorID
	messages   []domain.ChatMessage
}

// NewMemoryStore initializes an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		users:      make(map[string]domain.User),
		email:      make(map[string]string),
		books:      make(map[string]domain.Book),
		exchanges:  make(map[string]domain.Exchange),
		historyKey: make(map[string]struct{}),
		reviewKey:  make(map[string]struct{}),
	}
}

// users

func (m *MemoryStore) SaveUser(u domain.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if existingID, ok := m.email[u.Email]; ok && existingID != u.ID {
		return ErrDuplicate
	}
	if prev, exists := m.users[u.ID]; exists {
		if prev.Email != u.Email {
			delete(m.email, prev.Email)
		}
	} else {
		m.userOrder = append(m.userOrder, u.ID)
	}
	m.users[u.ID] = u
	m.email[u.Email] = u.ID
	return nil
}

func (m *MemoryStore) HasUserEmail(email string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.email[email]
	return ok, nil
}

func (m *MemoryStore) GetUserByEmail(email string) (domain.User, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if id, ok := m.email[email]; ok {
		u, exists := m.users[id]
		return u, exists, nil
	}
	return domain.User{}, false, nil
}

func (m *MemoryStore) GetUserByID(id string) (domain.User, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	u, ok := m.users[id]
	return u, ok, nil
}

func (m *MemoryStore) ListUsers() ([]domain.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	res := make([]domain.User, 0, len(m.userOrder))
	for _, id := range m.userOrder {
		if u, ok := m.users[id]; ok {
			res = append(res, u)
		}
	}
	return res, nil
}

func (m *MemoryStore) DeleteUser(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if u, ok := m.users[id]; ok {
		delete(m.email, u.Email)
		delete(m.users, id)
		m.userOrder = removeID(m.userOrder, id)
	}
	return nil
}

// books

func (m *MemoryStore) SaveBook(b domain.Book) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.books[b.ID]; !exists {
		m.bookOrder = append(m.bookOrder, b.ID)
	}
	m.books[b.ID] = b
	return nil
}

func (m *MemoryStore) GetBook(id string) (domain.Book, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	b, ok := m.books[id]
	return b, ok, nil
}

func (m *MemoryStore) ListBooks() ([]domain.Book, error) {
	return m.listBooks(func(domain.Book) bool { return true })
}

func (m *MemoryStore) ListBooksByOwner(ownerID string) ([]domain.Book, error) {
	return m.listBooks(func(b domain.Book) bool { return b.OwnerID == ownerID })
}

func (m *MemoryStore) listBooks(keep func(domain.Book) bool) ([]domain.Book, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	res := make([]domain.Book, 0, len(m.bookOrder))
	for _, id := range m.bookOrder {
		if b, ok := m.books[id]; ok && keep(b) {
			res = append(res, b)
		}
	}
	return res, nil
}

func (m *MemoryStore) DeleteBook(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.books, id)
	m.bookOrder = removeID(m.bookOrder, id)
	return nil
}

// exchanges

func (m *MemoryStore) CreateExchange(e domain.Exchange) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.exchanges {
		if existing.RequestedBookID == e.RequestedBookID && existing.Status == domain.ExchangePending {
			return ErrDuplicate
		}
	}
	m.exchanges[e.ID] = e
	m.exchOrder = append(m.exchOrder, e.ID)
	return nil
}

func (m *MemoryStore) GetExchange(id string) (domain.Exchange, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.exchanges[id]
	return e, ok, nil
}

func (m *MemoryStore) ListExchanges() ([]domain.Exchange, error) {
	return m.listExchanges(func(domain.Exchange) bool { return true })
}

func (m *MemoryStore) ListExchangesForUser(userID string) ([]domain.Exchange, error) {
	m.mu.RLock()
	ownedBooks := make(map[string]struct{})
	for id, b := range m.books {
		if b.OwnerID == userID {
			ownedBooks[id] = struct{}{}
		}
	}
	m.mu.RUnlock()
	return m.listExchanges(func(e domain.Exchange) bool {
		if e.RequesterID == userID {
			return true
		}
		_, owned := ownedBooks[e.RequestedBookID]
		return owned
	})
}

func (m *MemoryStore) ListTerminalExchanges() ([]domain.Exchange, error) {
	return m.listExchanges(func(e domain.Exchange) bool { return e.Status.Terminal() })
}

func (m *MemoryStore) listExchanges(keep func(domain.Exchange) bool) ([]domain.Exchange, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	res := make([]domain.Exchange, 0, len(m.exchOrder))
	for _, id := range m.exchOrder {
		if e, ok := m.exchanges[id]; ok && keep(e) {
			res = append(res, e)
		}
	}
	return res, nil
}

// SetExchangeStatus is a compare-and-set under the mutex: only a pending row
// transitions, so concurrent deciders cannot overwrite a terminal status.
func (m *MemoryStore) SetExchangeStatus(id string, status domain.ExchangeStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.exchanges[id]
	if !ok || e.Status != domain.ExchangePending {
		return ErrNotPending
	}
	e.Status = status
	m.exchanges[id] = e
	return nil
}

func (m *MemoryStore) DeleteExchange(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.exchanges[id]
	if !ok || e.Status != domain.ExchangePending {
		return ErrNotPending
	}
	delete(m.exchanges, e.ID)
	m.exchOrder = removeID(m.exchOrder, e.ID)
	return nil
}

// history

func (m *MemoryStore) AppendHistory(entry domain.HistoryEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := entry.ExchangeID + "|" + entry.ParticipantID
	if _, exists := m.historyKey[key]; exists {
		return nil
	}
	m.historyKey[key] = struct{}{}
	m.history = append(m.history, entry)
	return nil
}

func (m *MemoryStore) HasHistory(exchangeID, participantID string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.historyKey[exchangeID+"|"+participantID]
	return ok, nil
}

func (m *MemoryStore) ListHistoryForUser(userID string) ([]domain.HistoryEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var res []domain.HistoryEntry
	for _, entry := range m.history {
		if entry.ParticipantID == userID {
			res = append(res, entry)
		}
	}
	return res, nil
}

func (m *MemoryStore) ListHistoryForExchange(exchangeID string) ([]domain.HistoryEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var res []domain.HistoryEntry
	for _, entry := range m.history {
		if entry.ExchangeID == exchangeID {
			res = append(res, entry)
		}
	}
	return res, nil
}

// reviews

func (m *MemoryStore) SaveReview(r domain.Review) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := r.ExchangeID + "|" + r.AuthorID
	if _, exists := m.reviewKey[key]; exists {
		return ErrDuplicate
	}
	m.reviewKey[key] = struct{}{}
	m.reviews = append(m.reviews, r)
	return nil
}

func (m *MemoryStore) HasReview(exchangeID, authorID string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.reviewKey[exchangeID+"|"+authorID]
	return ok, nil
}

func (m *MemoryStore) ListReviewsForExchange(exchangeID string) ([]domain.Review, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var res []domain.Review
	for _, r := range m.reviews {
		if r.ExchangeID == exchangeID {
			res = append(res, r)
		}
	}
	return res, nil
}

func (m *MemoryStore) ListReviewsAboutUser(userID string) ([]domain.Review, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var res []domain.Review
	for _, r := range m.reviews {
		if r.AuthorID == userID {
			continue
		}
		e, ok := m.exchanges[r.ExchangeID]
		if !ok {
			continue
		}
		if e.RequesterID == userID {
			res = append(res, r)
			continue
		}
		if b, ok := m.books[e.RequestedBookID]; ok && b.OwnerID == userID {
			res = append(res, r)
		}
	}
	return res, nil
}

// chat

func (m *MemoryStore) AppendMessage(msg domain.ChatMessage) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.messages = append(m.messages, msg)
	return nil
}

func (m *MemoryStore) ListMessages(exchangeID string) ([]domain.ChatMessage, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var res []domain.ChatMessage
	for _, msg := range m.messages {
		if msg.ExchangeID == exchangeID {
			res = append(res, msg)
		}
	}
	sort.SliceStable(res, func(i, j int) bool { return res[i].CreatedAt.Before(res[j].CreatedAt) })
	return res, nil
}

func removeID(ids []string, id string) []string {
	filtered := ids[:0]
	for _, item := range ids {
		if item != id {
			filtered = append(filtered, item)
		}
	}
	return filtered
}

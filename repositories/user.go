//go:generate go run go.uber.org/mock/mockgen -source=user.go -destination=../mocks/mock_user_repository.go -package=mocks
package repositories

import (
	"chat-hub/errors"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/dgraph-io/badger/v4"
)

type IUserRepository interface {
	CreateUser(user UserRecord) error
	GetUser(userID string) (UserRecord, error)
	SetPresence(userID, conn string, online bool) error
}

// UserRecord is the durable user document. Conn and Online track the
// connection currently carrying the identity, mirroring the session
// registry on disk so operators can see who is where.
type UserRecord struct {
	UserID       string    `json:"user_id"`
	Nickname     string    `json:"nickname"`
	PasswordHash string    `json:"password_hash"`
	Conn         string    `json:"conn,omitempty"`
	Online       bool      `json:"online"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

type UserRepository struct {
	db *badger.DB
}

func NewUserRepository(db *badger.DB) *UserRepository {
	return &UserRepository{db: db}
}

func userKey(userID string) []byte {
	return []byte("user:" + userID)
}

// nickKey is a uniqueness index: nickname (case folded) -> user id.
func nickKey(nickname string) []byte {
	return []byte("nick:" + strings.ToLower(nickname))
}

// CreateUser persists a new user. Both the user id and the nickname must
// be free; the check and the writes share one transaction.
func (r *UserRepository) CreateUser(user UserRecord) error {
	now := time.Now().UTC()
	user.CreatedAt = now
	user.UpdatedAt = now

	data, err := json.Marshal(user)
	if err != nil {
		return fmt.Errorf("marshal failed: %w", err)
	}

	return r.db.Update(func(txn *badger.Txn) error {
		if _, err := txn.Get(userKey(user.UserID)); err == nil {
			return errors.ErrUserAlreadyExists
		}
		if _, err := txn.Get(nickKey(user.Nickname)); err == nil {
			return errors.ErrNicknameTaken
		}
		if err := txn.Set(userKey(user.UserID), data); err != nil {
			return err
		}
		return txn.Set(nickKey(user.Nickname), []byte(user.UserID))
	})
}

func (r *UserRepository) GetUser(userID string) (UserRecord, error) {
	var user UserRecord
	err := r.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(userKey(userID))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &user)
		})
	})
	return user, err
}

// SetPresence updates the connection token and online flag of a user.
func (r *UserRepository) SetPresence(userID, conn string, online bool) error {
	return r.db.Update(func(txn *badger.Txn) error {
		item, err := txn.Get(userKey(userID))
		if err != nil {
			return err
		}

		var user UserRecord
		if err := item.Value(func(val []byte) error {
			return json.Unmarshal(val, &user)
		}); err != nil {
			return err
		}

		user.Conn = conn
		user.Online = online
		user.UpdatedAt = time.Now().UTC()

		data, err := json.Marshal(user)
		if err != nil {
			return err
		}
		return txn.Set(userKey(userID), data)
	})
}

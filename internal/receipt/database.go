package receipt

import (
	"encoding/json"
	"fmt"
	"time"

	"go.etcd.io/bbolt"

	"paragon/internal/category"
)

const (
	profileBucketName  = "profiles"
	categoryBucketName = "categories"
	expenseBucketName  = "expenses"
)

// BoltDB backs the profile, category and expense stores with a single bbolt
// file.
type BoltDB struct {
	db *bbolt.DB
}

// NewBoltDB opens the database and creates the buckets.
func NewBoltDB(path string) (*BoltDB, error) {
	db, err := bbolt.Open(path, 0600, &bbolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("opening boltdb: %w", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		for _, name := range []string{profileBucketName, categoryBucketName, expenseBucketName} {
			if _, err := tx.CreateBucketIfNotExists([]byte(name)); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("creating buckets: %w", err)
	}

	return &BoltDB{db: db}, nil
}

// GetConsent reports whether the user has consented to AI processing. A user
// without a stored profile has not consented.
func (b *BoltDB) GetConsent(userID string) (bool, error) {
	var consent bool
	err := b.db.View(func(tx *bbolt.Tx) error {
		data := tx.Bucket([]byte(profileBucketName)).Get([]byte(userID))
		if data == nil {
			return nil
		}
		var profile Profile
		if err := json.Unmarshal(data, &profile); err != nil {
			return fmt.Errorf("unmarshaling profile: %w", err)
		}
		consent = profile.AIConsent
		return nil
	})
	if err != nil {
		return false, err
	}
	return consent, nil
}

// SetConsent records the user's AI processing consent.
func (b *BoltDB) SetConsent(userID string, consent bool) error {
	return b.db.Update(func(tx *bbolt.Tx) error {
		profile := Profile{
			UserID:    userID,
			AIConsent: consent,
			UpdatedAt: time.Now().UTC(),
		}
		data, err := json.Marshal(&profile)
		if err != nil {
			return fmt.Errorf("marshaling profile: %w", err)
		}
		return tx.Bucket([]byte(profileBucketName)).Put([]byte(userID), data)
	})
}

// ListCategories returns the canonical categories in insertion order.
func (b *BoltDB) ListCategories() ([]category.Category, error) {
	categories := make([]category.Category, 0)
	err := b.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket([]byte(categoryBucketName)).ForEach(func(k, v []byte) error {
			var c category.Category
			if err := json.Unmarshal(v, &c); err != nil {
				return fmt.Errorf("unmarshaling category: %w", err)
			}
			categories = append(categories, c)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return categories, nil
}

// SeedCategories stores the given categories if the bucket is empty. The
// canonical list is externally owned; this only bootstraps a fresh database.
func (b *BoltDB) SeedCategories(categories []category.Category) error {
	return b.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(categoryBucketName))
		if bucket.Stats().KeyN > 0 {
			return nil
		}
		for i, c := range categories {
			data, err := json.Marshal(&c)
			if err != nil {
				return fmt.Errorf("marshaling category: %w", err)
			}
			// Zero-padded keys keep bbolt's byte order aligned with list
			// order.
			if err := bucket.Put([]byte(fmt.Sprintf("%04d_%s", i, c.ID)), data); err != nil {
				return err
			}
		}
		return nil
	})
}

// SaveExpenses persists a batch of expenses in one transaction.
func (b *BoltDB) SaveExpenses(expenses []*Expense) error {
	return b.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(expenseBucketName))
		for _, e := range expenses {
			data, err := json.Marshal(e)
			if err != nil {
				return fmt.Errorf("marshaling expense: %w", err)
			}
			if err := bucket.Put([]byte(e.ID), data); err != nil {
				return err
			}
		}
		return nil
	})
}

// ListExpenses returns all expenses for a user.
func (b *BoltDB) ListExpenses(userID string) ([]*Expense, error) {
	expenses := make([]*Expense, 0)
	err := b.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket([]byte(expenseBucketName)).ForEach(func(k, v []byte) error {
			var e Expense
			if err := json.Unmarshal(v, &e); err != nil {
				return fmt.Errorf("unmarshaling expense: %w", err)
			}
			if e.UserID == userID {
				expenses = append(expenses, &e)
			}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return expenses, nil
}

// Close closes the database.
func (b *BoltDB) Close() error {
	return b.db.Close()
}

// DefaultCategories is the bootstrap canonical category list for a fresh
// database.
var DefaultCategories = []category.Category{
	{ID: "zywnosc", Name: "Żywność"},
	{ID: "chemia", Name: "Chemia domowa"},
	{ID: "transport", Name: "Transport"},
	{ID: "zdrowie", Name: "Zdrowie"},
	{ID: "dom", Name: "Dom i ogród"},
	{ID: "rozrywka", Name: "Rozrywka"},
	{ID: "inne", Name: "Inne"},
}

package pg

import (
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/WGwuzhi/midjourney-proxy/internal/account"
	"github.com/WGwuzhi/midjourney-proxy/internal/store"
)

// AccountStore implements store.AccountStore backed by Postgres.
type AccountStore struct {
	db *sql.DB
}

func NewAccountStore(db *sql.DB) *AccountStore {
	return &AccountStore{db: db}
}

func (s *AccountStore) GetAccount(channelID string) (*account.Account, error) {
	var data []byte
	err := s.db.QueryRow(`SELECT data FROM accounts WHERE channel_id = $1`, channelID).Scan(&data)
	if err == sql.ErrNoRows {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get account %s: %w", channelID, err)
	}
	var a account.Account
	if err := json.Unmarshal(data, &a); err != nil {
		return nil, fmt.Errorf("decode account %s: %w", channelID, err)
	}
	return &a, nil
}

func (s *AccountStore) SaveAccount(a *account.Account) error {
	data, err := json.Marshal(a)
	if err != nil {
		return fmt.Errorf("encode account %s: %w", a.ChannelID, err)
	}
	_, err = s.db.Exec(
		`INSERT INTO accounts (channel_id, data) VALUES ($1, $2)
		 ON CONFLICT (channel_id) DO UPDATE SET data = EXCLUDED.data`,
		a.ChannelID, data,
	)
	if err != nil {
		return fmt.Errorf("save account %s: %w", a.ChannelID, err)
	}
	return nil
}

func (s *AccountStore) DeleteAccount(channelID string) error {
	if _, err := s.db.Exec(`DELETE FROM accounts WHERE channel_id = $1`, channelID); err != nil {
		return fmt.Errorf("delete account %s: %w", channelID, err)
	}
	return nil
}

func (s *AccountStore) ListAccounts() ([]*account.Account, error) {
	rows, err := s.db.Query(`SELECT data FROM accounts ORDER BY channel_id`)
	if err != nil {
		return nil, fmt.Errorf("list accounts: %w", err)
	}
	defer rows.Close()

	var out []*account.Account
	for rows.Next() {
		var data []byte
		if err := rows.Scan(&data); err != nil {
			return nil, err
		}
		var a account.Account
		if err := json.Unmarshal(data, &a); err != nil {
			return nil, fmt.Errorf("decode account row: %w", err)
		}
		out = append(out, &a)
	}
	return out, rows.Err()
}

package pg

import (
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/WGwuzhi/midjourney-proxy/internal/store"
)

// DictStore implements store.DictStore backed by Postgres.
type DictStore struct {
	db *sql.DB
}

func NewDictStore(db *sql.DB) *DictStore {
	return &DictStore{db: db}
}

func (s *DictStore) ListDomains() ([]*store.DomainKeywords, error) {
	rows, err := s.db.Query(`SELECT data FROM domain_keywords ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("list domains: %w", err)
	}
	defer rows.Close()

	var out []*store.DomainKeywords
	for rows.Next() {
		var data []byte
		if err := rows.Scan(&data); err != nil {
			return nil, err
		}
		var d store.DomainKeywords
		if err := json.Unmarshal(data, &d); err != nil {
			return nil, fmt.Errorf("decode domain row: %w", err)
		}
		out = append(out, &d)
	}
	return out, rows.Err()
}

func (s *DictStore) SaveDomain(d *store.DomainKeywords) error {
	data, err := json.Marshal(d)
	if err != nil {
		return fmt.Errorf("encode domain %s: %w", d.ID, err)
	}
	_, err = s.db.Exec(
		`INSERT INTO domain_keywords (id, data) VALUES ($1, $2)
		 ON CONFLICT (id) DO UPDATE SET data = EXCLUDED.data`,
		d.ID, data,
	)
	if err != nil {
		return fmt.Errorf("save domain %s: %w", d.ID, err)
	}
	return nil
}

func (s *DictStore) DeleteDomain(id string) error {
	if _, err := s.db.Exec(`DELETE FROM domain_keywords WHERE id = $1`, id); err != nil {
		return fmt.Errorf("delete domain %s: %w", id, err)
	}
	return nil
}

func (s *DictStore) ListBanned() ([]*store.BannedKeywords, error) {
	rows, err := s.db.Query(`SELECT data FROM banned_keywords ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("list banned: %w", err)
	}
	defer rows.Close()

	var out []*store.BannedKeywords
	for rows.Next() {
		var data []byte
		if err := rows.Scan(&data); err != nil {
			return nil, err
		}
		var b store.BannedKeywords
		if err := json.Unmarshal(data, &b); err != nil {
			return nil, fmt.Errorf("decode banned row: %w", err)
		}
		out = append(out, &b)
	}
	return out, rows.Err()
}

func (s *DictStore) SaveBanned(b *store.BannedKeywords) error {
	data, err := json.Marshal(b)
	if err != nil {
		return fmt.Errorf("encode banned %s: %w", b.ID, err)
	}
	_, err = s.db.Exec(
		`INSERT INTO banned_keywords (id, data) VALUES ($1, $2)
		 ON CONFLICT (id) DO UPDATE SET data = EXCLUDED.data`,
		b.ID, data,
	)
	if err != nil {
		return fmt.Errorf("save banned %s: %w", b.ID, err)
	}
	return nil
}

func (s *DictStore) DeleteBanned(id string) error {
	if _, err := s.db.Exec(`DELETE FROM banned_keywords WHERE id = $1`, id); err != nil {
		return fmt.Errorf("delete banned %s: %w", id, err)
	}
	return nil
}

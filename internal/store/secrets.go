package store

import (
	"database/sql"
	"fmt"
	"time"
)

// Secret is one vault-encrypted credential, typically a backend API key.
// Value and Nonce are ciphertext; decryption happens in the vault package.
type Secret struct {
	Name      string    `json:"name"`
	Value     []byte    `json:"-"`
	Nonce     []byte    `json:"-"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (s *Store) SaveSecret(sec *Secret) error {
	_, err := s.db.Exec(`
		INSERT INTO secrets (name, value, nonce)
		VALUES (?, ?, ?)
		ON CONFLICT(name) DO UPDATE SET
			value=excluded.value, nonce=excluded.nonce,
			updated_at=CURRENT_TIMESTAMP`,
		sec.Name, sec.Value, sec.Nonce)
	if err != nil {
		return fmt.Errorf("save secret: %w", err)
	}
	return nil
}

func (s *Store) GetSecret(name string) (*Secret, error) {
	row := s.db.QueryRow(`
		SELECT name, value, nonce, created_at, updated_at
		FROM secrets WHERE name = ?`, name)

	sec := &Secret{}
	err := row.Scan(&sec.Name, &sec.Value, &sec.Nonce, &sec.CreatedAt, &sec.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get secret: %w", err)
	}
	return sec, nil
}

// ListSecrets returns secret metadata only, never ciphertext.
func (s *Store) ListSecrets() ([]Secret, error) {
	rows, err := s.db.Query(`SELECT name, created_at, updated_at FROM secrets ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("list secrets: %w", err)
	}
	defer rows.Close()

	var secrets []Secret
	for rows.Next() {
		var sec Secret
		if err := rows.Scan(&sec.Name, &sec.CreatedAt, &sec.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan secret: %w", err)
		}
		secrets = append(secrets, sec)
	}
	return secrets, rows.Err()
}

func (s *Store) DeleteSecret(name string) error {
	_, err := s.db.Exec(`DELETE FROM secrets WHERE name = ?`, name)
	if err != nil {
		return fmt.Errorf("delete secret: %w", err)
	}
	return nil
}

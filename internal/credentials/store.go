package credentials

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cockroachdb/pebble"

	"github.com/openreel/publisher-be/internal/video"
)

// ErrNotFound is returned when no credential is stored for an owner and
// destination pair.
var ErrNotFound = errors.New("credential not found")

// Credential is one owner's stored authorization for a destination. Tokens
// are opaque to this package; Extra carries destination-specific fields such
// as channel or page ids.
type Credential struct {
	Owner        int64             `json:"owner"`
	Destination  video.Destination `json:"destination"`
	AccessToken  string            `json:"access_token"`
	RefreshToken string            `json:"refresh_token,omitempty"`
	ExpiresAt    time.Time         `json:"expires_at"`
	Extra        map[string]string `json:"extra,omitempty"`
	UpdatedAt    time.Time         `json:"updated_at"`
}

// Expired reports whether the access token's expiry has passed. Credentials
// without an expiry never expire.
func (c *Credential) Expired(now time.Time) bool {
	return !c.ExpiresAt.IsZero() && now.After(c.ExpiresAt)
}

// Refreshable reports whether the credential carries a refresh token.
func (c *Credential) Refreshable() bool {
	return c.RefreshToken != ""
}

// Usable reports whether the credential can authorize an upload right now:
// it has an access token that is either unexpired or refreshable.
func (c *Credential) Usable(now time.Time) bool {
	if c.AccessToken == "" {
		return false
	}
	return !c.Expired(now) || c.Refreshable()
}

// Store keeps credentials in a local pebble database, one JSON value per
// owner and destination.
type Store struct {
	db     *pebble.DB
	logger *slog.Logger
}

// Open opens (or creates) the pebble database at path.
func Open(path string, logger *slog.Logger) (*Store, error) {
	db, err := pebble.Open(path, &pebble.Options{})
	if err != nil {
		return nil, fmt.Errorf("failed to open credential store at %s: %w", path, err)
	}

	logger.Info("credential store opened", "path", path)

	return &Store{
		db:     db,
		logger: logger,
	}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

func storeKey(owner int64, dest video.Destination) []byte {
	return []byte(fmt.Sprintf("%d/%s", owner, dest))
}

// Get loads the credential for an owner and destination.
func (s *Store) Get(owner int64, dest video.Destination) (*Credential, error) {
	value, closer, err := s.db.Get(storeKey(owner, dest))
	if errors.Is(err, pebble.ErrNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read credential: %w", err)
	}
	defer closer.Close()

	var cred Credential
	if err := json.Unmarshal(value, &cred); err != nil {
		return nil, fmt.Errorf("failed to decode credential: %w", err)
	}

	return &cred, nil
}

// Save writes the credential, replacing any previous value for the pair.
func (s *Store) Save(cred *Credential) error {
	if cred.Owner == 0 || !cred.Destination.Valid() {
		return fmt.Errorf("credential requires an owner and a known destination")
	}

	cred.UpdatedAt = time.Now().UTC()

	encoded, err := json.Marshal(cred)
	if err != nil {
		return fmt.Errorf("failed to encode credential: %w", err)
	}

	if err := s.db.Set(storeKey(cred.Owner, cred.Destination), encoded, pebble.Sync); err != nil {
		return fmt.Errorf("failed to write credential: %w", err)
	}

	s.logger.Info("credential saved", "owner", cred.Owner, "destination", cred.Destination)
	return nil
}

// Delete removes the credential for the pair. Deleting a missing credential
// is not an error.
func (s *Store) Delete(owner int64, dest video.Destination) error {
	if err := s.db.Delete(storeKey(owner, dest), pebble.Sync); err != nil {
		return fmt.Errorf("failed to delete credential: %w", err)
	}

	s.logger.Info("credential deleted", "owner", owner, "destination", dest)
	return nil
}

// List returns all credentials stored for an owner.
func (s *Store) List(owner int64) ([]*Credential, error) {
	prefix := []byte(fmt.Sprintf("%d/", owner))
	upper := []byte(fmt.Sprintf("%d0", owner)) // '0' is the byte after '/'

	iter, err := s.db.NewIter(&pebble.IterOptions{
		LowerBound: prefix,
		UpperBound: upper,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to iterate credentials: %w", err)
	}
	defer iter.Close()

	var creds []*Credential
	for iter.First(); iter.Valid(); iter.Next() {
		var cred Credential
		if err := json.Unmarshal(iter.Value(), &cred); err != nil {
			return nil, fmt.Errorf("failed to decode credential %s: %w", iter.Key(), err)
		}
		creds = append(creds, &cred)
	}
	if err := iter.Error(); err != nil {
		return nil, fmt.Errorf("failed to iterate credentials: %w", err)
	}

	return creds, nil
}

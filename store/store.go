package store

import (
	"crypto/sha256"
	"crypto/subtle"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/alexedwards/argon2id"
	"github.com/apibillme/cache"
	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"
)

// Store keeps cached provider responses and API users in sqlite.
type Store struct {
	db        *sql.DB
	log       *zap.Logger
	userCache cache.Cache
}

const reqTable string = `
  CREATE TABLE IF NOT EXISTS reqdata (
      httpdata BLOB NOT NULL,
      hash TEXT NOT NULL PRIMARY KEY,
      expiry INT NOT NULL
  )
`

const userTable string = `
  CREATE TABLE IF NOT EXISTS users (
      user TEXT NOT NULL PRIMARY KEY,
      hash TEXT NOT NULL,
      level INT NOT NULL
  )
`

const DefaultFile string = "data/cache.db"

func New(filename string, log *zap.Logger) (*Store, error) {
	logger := log.Named("store")

	if filename == "" {
		filename = DefaultFile
	}
	if dir := filepath.Dir(filename); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("creating store directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite3", "file:"+filename+"?_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("opening store %s: %w", filename, err)
	}

	for _, stmt := range []string{reqTable, userTable} {
		if _, err := db.Exec(stmt); err != nil {
			db.Close()
			return nil, fmt.Errorf("creating tables: %w", err)
		}
	}

	return &Store{
		db:        db,
		log:       logger,
		userCache: cache.New(256, cache.WithTTL(1*time.Hour)),
	}, nil
}

func (store *Store) Close() error {
	return store.db.Close()
}

func (store *Store) DeleteBefore(expiry int64) {
	res, err := store.db.Exec("DELETE FROM reqdata WHERE expiry < ?", expiry)
	if err != nil {
		dbError(store.log, err)
		return
	}
	if n, err := res.RowsAffected(); err == nil && n > 0 {
		store.log.Debug("Purged expired responses", zap.Int64("rows", n))
	}
}

func (store *Store) GetResponse(hash string, now int64) ([]byte, bool) {
	row := store.db.QueryRow("SELECT httpdata FROM reqdata WHERE hash = ? AND expiry >= ?", hash, now)
	var data []byte
	err := row.Scan(&data)
	if err == nil {
		return data, true
	}
	if !errors.Is(err, sql.ErrNoRows) {
		dbError(store.log, err)
	}
	return nil, false
}

func (store *Store) StoreResponse(hash string, res []byte, expiry int64) {
	_, err := store.db.Exec("INSERT OR REPLACE INTO reqdata (httpdata, hash, expiry) VALUES (?,?,?)",
		res,
		hash,
		expiry,
	)
	if err != nil {
		dbError(store.log, err)
	}
}

// AddUser creates or replaces an API user with an argon2id password hash.
func (store *Store) AddUser(user string, pass string, level int) error {
	if user == "" || pass == "" {
		return errors.New("user and password must not be empty")
	}
	hash, err := argon2id.CreateHash(pass, argon2id.DefaultParams)
	if err != nil {
		return fmt.Errorf("hashing password: %w", err)
	}
	_, err = store.db.Exec("INSERT OR REPLACE INTO users (user, hash, level) VALUES (?,?,?)", user, hash, level)
	if err != nil {
		return fmt.Errorf("saving user %s: %w", user, err)
	}
	return nil
}

func (store *Store) TestUser(user string, pass string) bool {
	digest := sha256.Sum256([]byte(pass))
	cached, ok := store.userCache.Get(user)
	if ok {
		if known, isDigest := cached.([sha256.Size]byte); isDigest &&
			subtle.ConstantTimeCompare(known[:], digest[:]) == 1 {
			return true
		}
	}
	row := store.db.QueryRow("SELECT hash FROM users WHERE user = ?", user)
	var hash string
	err := row.Scan(&hash)
	if err == nil {
		match, err := argon2id.ComparePasswordAndHash(pass, hash)
		if err != nil {
			store.log.Warn("Error comparing password hashes", zap.Error(err))
			return false
		}
		if match {
			store.userCache.Set(user, digest)
			return true
		}
	} else if !errors.Is(err, sql.ErrNoRows) {
		dbError(store.log, err)
	}
	return false
}

func dbError(log *zap.Logger, err error) {
	if err != nil {
		log.Error("DB Error", zap.Error(err))
	}
}

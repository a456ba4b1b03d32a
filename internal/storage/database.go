package storage

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/matt0x6f/ircsync/internal/logger"
	_ "github.com/mattn/go-sqlite3"
)

// ErrClosed is returned by writes after Close
var ErrClosed = errors.New("storage is closed")

const insertMessage = `INSERT INTO messages (msgid, network_id, buffer, nick, body, message_type, type_extra, tags, timestamp)
          VALUES (:msgid, :network_id, :buffer, :nick, :body, :message_type, :type_extra, :tags, :timestamp)`

// Storage handles database operations. Message records are queued and
// inserted in batches; everything else is written immediately.
type Storage struct {
	db            *sqlx.DB
	writeBuffer   chan Message
	bufferSize    int
	flushInterval time.Duration
	mu            sync.Mutex
	stopCh        chan struct{}
	wg            sync.WaitGroup
	closed        bool
	closedMu      sync.RWMutex
}

// NewStorage opens the database at dbPath, runs migrations and starts the
// background flush loop
func NewStorage(dbPath string, bufferSize int, flushInterval time.Duration) (*Storage, error) {
	// Enable WAL mode for better concurrent writes
	db, err := sqlx.Connect("sqlite3", dbPath+"?_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// SQLite works best with a single connection in WAL mode
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(time.Hour)

	if err := Migrate(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("migration failed: %w", err)
	}

	s := &Storage{
		db:            db,
		writeBuffer:   make(chan Message, bufferSize),
		bufferSize:    bufferSize,
		flushInterval: flushInterval,
		stopCh:        make(chan struct{}),
	}

	s.wg.Add(1)
	go s.flushLoop()

	return s, nil
}

func (s *Storage) isClosed() bool {
	s.closedMu.RLock()
	defer s.closedMu.RUnlock()
	return s.closed
}

// Close flushes queued messages and closes the database
func (s *Storage) Close() error {
	s.closedMu.Lock()
	if s.closed {
		s.closedMu.Unlock()
		return nil
	}
	s.closed = true
	s.closedMu.Unlock()

	close(s.stopCh)
	s.wg.Wait()

	return s.db.Close()
}

// flushLoop periodically flushes the write buffer
func (s *Storage) flushLoop() {
	defer s.wg.Done()
	ticker := time.NewTicker(s.flushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopCh:
			s.flushBuffer()
			return
		case <-ticker.C:
			s.flushBuffer()
		}
	}
}

// flushBuffer inserts every queued message in one batch
func (s *Storage) flushBuffer() {
	s.mu.Lock()
	defer s.mu.Unlock()

	messages := make([]Message, 0, len(s.writeBuffer))
	for {
		select {
		case msg := <-s.writeBuffer:
			messages = append(messages, msg)
			continue
		default:
		}
		break
	}
	if len(messages) == 0 {
		return
	}

	if _, err := s.db.NamedExec(insertMessage, messages); err != nil {
		logger.Log.Error().Err(err).Int("count", len(messages)).Msg("Error flushing messages")
	}
}

// Flush writes queued messages now. Callers use it before statements that
// must see every message written so far.
func (s *Storage) Flush() {
	if s.isClosed() {
		return
	}
	s.flushBuffer()
}

// WriteMessage queues a message for batch insertion
func (s *Storage) WriteMessage(msg Message) error {
	if s.isClosed() {
		return ErrClosed
	}

	select {
	case s.writeBuffer <- msg:
		return nil
	default:
	}

	// Buffer full, flush immediately
	s.flushBuffer()
	select {
	case s.writeBuffer <- msg:
		return nil
	default:
		return fmt.Errorf("write buffer full and flush failed")
	}
}

// GetMessages returns the newest limit messages of a buffer in chronological order
func (s *Storage) GetMessages(networkID int64, buffer string, limit int) ([]Message, error) {
	var messages []Message
	err := s.db.Select(&messages,
		`SELECT * FROM messages
		 WHERE network_id = ? AND buffer = ?
		 ORDER BY timestamp DESC, id DESC
		 LIMIT ?`,
		networkID, buffer, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to get messages: %w", err)
	}

	// Reverse to get chronological order
	for i, j := 0, len(messages)-1; i < j; i, j = i+1, j-1 {
		messages[i], messages[j] = messages[j], messages[i]
	}

	return messages, nil
}

// LatestByType returns the newest message time of a buffer for each message
// type present
func (s *Storage) LatestByType(networkID int64, buffer string) (map[string]time.Time, error) {
	var rows []struct {
		MessageType string `db:"message_type"`
		Latest      int64  `db:"latest"`
	}
	err := s.db.Select(&rows,
		`SELECT message_type, MAX(timestamp) AS latest FROM messages
		 WHERE network_id = ? AND buffer = ?
		 GROUP BY message_type`,
		networkID, buffer)
	if err != nil {
		return nil, fmt.Errorf("failed to get latest messages: %w", err)
	}

	latest := make(map[string]time.Time, len(rows))
	for _, r := range rows {
		latest[r.MessageType] = time.UnixMilli(r.Latest)
	}
	return latest, nil
}

// UpsertNetwork records the name and current nick of a network
func (s *Storage) UpsertNetwork(network *Network) error {
	_, err := s.db.NamedExec(
		`INSERT INTO networks (id, name, nick) VALUES (:id, :name, :nick)
		 ON CONFLICT(id) DO UPDATE SET
		     name = excluded.name,
		     nick = CASE WHEN excluded.nick = '' THEN networks.nick ELSE excluded.nick END,
		     updated_at = CURRENT_TIMESTAMP`,
		network)
	if err != nil {
		return fmt.Errorf("failed to save network: %w", err)
	}
	return nil
}

// UpsertBuffer creates or updates a buffer row keyed by network and name
func (s *Storage) UpsertBuffer(buffer *Buffer) error {
	_, err := s.db.NamedExec(
		`INSERT INTO buffers (network_id, name, enabled, channel_key, topic)
		 VALUES (:network_id, :name, :enabled, :channel_key, :topic)
		 ON CONFLICT(network_id, name) DO UPDATE SET
		     name = excluded.name,
		     enabled = excluded.enabled,
		     channel_key = excluded.channel_key,
		     topic = excluded.topic,
		     updated_at = CURRENT_TIMESTAMP`,
		buffer)
	if err != nil {
		return fmt.Errorf("failed to save buffer %q: %w", buffer.Name, err)
	}
	return nil
}

// GetBuffers retrieves the buffers of a network in creation order
func (s *Storage) GetBuffers(networkID int64) ([]Buffer, error) {
	var buffers []Buffer
	err := s.db.Select(&buffers, "SELECT * FROM buffers WHERE network_id = ? ORDER BY id", networkID)
	if err != nil {
		return nil, fmt.Errorf("failed to get buffers: %w", err)
	}
	return buffers, nil
}

// RenameBuffer moves a buffer and its messages to a new name. A row already
// holding the new name is replaced.
func (s *Storage) RenameBuffer(networkID int64, oldName, newName string) error {
	s.flushBuffer()

	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.Beginx()
	if err != nil {
		return fmt.Errorf("failed to begin rename: %w", err)
	}
	defer tx.Rollback()

	// A case-only rename matches its own row
	if _, err := tx.Exec("DELETE FROM buffers WHERE network_id = ? AND name = ? AND name <> ?",
		networkID, newName, oldName); err != nil {
		return fmt.Errorf("failed to rename buffer %q: %w", oldName, err)
	}
	if _, err := tx.Exec("UPDATE buffers SET name = ?, updated_at = CURRENT_TIMESTAMP WHERE network_id = ? AND name = ?",
		newName, networkID, oldName); err != nil {
		return fmt.Errorf("failed to rename buffer %q: %w", oldName, err)
	}
	if _, err := tx.Exec("UPDATE messages SET buffer = ? WHERE network_id = ? AND buffer = ?",
		newName, networkID, oldName); err != nil {
		return fmt.Errorf("failed to move messages of %q: %w", oldName, err)
	}
	return tx.Commit()
}

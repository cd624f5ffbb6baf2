package sessions

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/agentmesh/gateway/internal/gatewayerr"
	"github.com/agentmesh/gateway/pkg/models"
)

// Store owns session lifecycle: creation, lookup, and persistence of
// session metadata and transcripts. State is a mapping sessionKey ->
// *models.Session; transcript files live under Root.
type Store struct {
	mu     sync.RWMutex
	byKey  map[string]*models.Session
	root   string
	locker *Locker
}

// NewStore builds a store rooted at root (transcripts live under
// root/sessions/*.jsonl).
func NewStore(root string, locker *Locker) *Store {
	return &Store{
		byKey:  make(map[string]*models.Session),
		root:   root,
		locker: locker,
	}
}

func (s *Store) transcriptPath(sessionKey string) string {
	return filepath.Join(s.root, "sessions", SafeFileName(sessionKey)+".jsonl")
}

// Get returns the in-memory session, if any, without touching disk.
func (s *Store) Get(sessionKey string) *models.Session {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.byKey[sessionKey]
}

// GetOrCreate returns the existing session for sessionKey, or creates one
// lazily from init, persisting nothing until the first appended message.
func (s *Store) GetOrCreate(sessionKey string, init *models.Session) *models.Session {
	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.byKey[sessionKey]; ok {
		return existing
	}

	sess := init
	if sess == nil {
		sess = &models.Session{}
	}
	sess.SessionKey = sessionKey
	if sess.SessionID == "" {
		sess.SessionID = sessionKey
	}
	sess.TranscriptPath = s.transcriptPath(sessionKey)
	sess.LockPath = sess.TranscriptPath + ".lock"
	now := time.Now()
	if sess.CreatedAt.IsZero() {
		sess.CreatedAt = now
	}
	sess.LastActivityAt = now

	s.byKey[sessionKey] = sess
	return sess
}

// AppendMessage appends msg to the session's transcript file. The caller
// MUST hold the session's write lock; AppendMessage does not acquire it
// itself so callers can batch several mutations under one hold. On I/O
// failure the error is gatewayerr.KindTranscriptWriteFailed and in-memory
// state is left untouched.
func (s *Store) AppendMessage(sessionKey string, msg models.Message) error {
	s.mu.Lock()
	sess, ok := s.byKey[sessionKey]
	s.mu.Unlock()
	if !ok {
		return gatewayerr.New(gatewayerr.KindTranscriptWriteFailed, "unknown session "+sessionKey)
	}

	if err := os.MkdirAll(filepath.Dir(sess.TranscriptPath), 0o755); err != nil {
		return gatewayerr.Wrap(gatewayerr.KindTranscriptWriteFailed, "mkdir transcript dir", err)
	}

	line, err := json.Marshal(msg)
	if err != nil {
		return gatewayerr.Wrap(gatewayerr.KindTranscriptWriteFailed, "marshal message", err)
	}

	f, err := os.OpenFile(sess.TranscriptPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return gatewayerr.Wrap(gatewayerr.KindTranscriptWriteFailed, "open transcript", err)
	}
	defer f.Close()

	if _, err := f.Write(append(line, '\n')); err != nil {
		return gatewayerr.Wrap(gatewayerr.KindTranscriptWriteFailed, "append transcript", err)
	}

	s.mu.Lock()
	sess.Touch(time.Now())
	s.mu.Unlock()
	return nil
}

// WithLock acquires the session's write lock, runs fn, then releases it.
func (s *Store) WithLock(ctx context.Context, sessionKey string, maxHold time.Duration, fn func() error) error {
	sess := s.Get(sessionKey)
	if sess == nil {
		return fmt.Errorf("sessions: unknown session %s", sessionKey)
	}
	release, err := s.locker.AcquireWithTimeout(ctx, sess.TranscriptPath, maxHold)
	if err != nil {
		return gatewayerr.Wrap(gatewayerr.KindLockTimeout, "acquire session write lock", err)
	}
	defer release()
	return fn()
}

// History reads the transcript file line by line and returns the decoded
// messages, optionally limited to the last `limit` entries. A partial
// trailing line (a writer crashed mid-append) is tolerated and ignored.
func (s *Store) History(sessionKey string, limit int) ([]models.Message, error) {
	sess := s.Get(sessionKey)
	if sess == nil {
		return nil, nil
	}

	f, err := os.Open(sess.TranscriptPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	defer f.Close()

	var out []models.Message
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var msg models.Message
		if err := json.Unmarshal(line, &msg); err != nil {
			// Partial or corrupt trailing line: stop here rather than fail
			// the whole read.
			break
		}
		out = append(out, msg)
	}

	if limit > 0 && len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out, nil
}

// Delete removes the in-memory session and its transcript file.
func (s *Store) Delete(sessionKey string) error {
	s.mu.Lock()
	sess, ok := s.byKey[sessionKey]
	delete(s.byKey, sessionKey)
	s.mu.Unlock()

	if !ok {
		return nil
	}
	if err := os.Remove(sess.TranscriptPath); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

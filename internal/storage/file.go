package storage

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	logx "gamebot/pkg/logx"
)

// fileStore is a dependency-free persistence backend.
//
// Files:
//   - <prefix>.snapshot.json (periodic snapshot)
//   - <prefix>.journal.jsonl (append-only journal of mutations)
//
// The journal is replayed on open and compacted into the snapshot every
// compactEvery writes and on Close. A torn last journal line is skipped.
type fileStore struct {
	log logx.Logger

	mu sync.Mutex

	snapshotPath string
	journal      *os.File
	state        fileState
	writes       int
}

const compactEvery = 200

type fileState struct {
	Sessions  map[string]json.RawMessage `json:"sessions"`
	Rotations map[string]json.RawMessage `json:"rotations"`
	Scores    map[string]int64           `json:"scores"`
	Grants    map[string]int64           `json:"grants"`
}

type journalOp struct {
	Op    string          `json:"op"`
	Key   string          `json:"key"`
	Data  json.RawMessage `json:"data,omitempty"`
	Value int64           `json:"value,omitempty"`
}

const (
	opPutSession  = "put_session"
	opDelSession  = "del_session"
	opPutRotation = "put_rotation"
	opSetScore    = "set_score"
	opPutGrant    = "put_grant"
)

func newFileState() fileState {
	return fileState{
		Sessions:  map[string]json.RawMessage{},
		Rotations: map[string]json.RawMessage{},
		Scores:    map[string]int64{},
		Grants:    map[string]int64{},
	}
}

func openFile(cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("storage.path is required for file driver")
	}
	dir := filepath.Dir(path)
	base := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	prefix := filepath.Join(dir, base)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}

	snapPath := prefix + ".snapshot.json"
	journalPath := prefix + ".journal.jsonl"

	st := newFileState()
	if err := loadSnapshot(snapPath, &st); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Warn("snapshot unreadable; starting from journal only", logx.String("path", snapPath), logx.Err(err))
	}
	skipped, err := replayJournal(journalPath, &st)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, err
	}
	if skipped > 0 {
		log.Warn("journal contained malformed lines", logx.String("path", journalPath), logx.Int("skipped", skipped))
	}

	jf, err := os.OpenFile(journalPath, os.O_CREATE|os.O_APPEND|os.O_RDWR, 0o600)
	if err != nil {
		return nil, err
	}
	if err := terminateTornLine(jf); err != nil {
		_ = jf.Close()
		return nil, err
	}
	return &fileStore{log: log, snapshotPath: snapPath, journal: jf, state: st}, nil
}

func (s *fileStore) SaveSession(ctx context.Context, k Key, rec SessionRecord) error {
	b, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	return s.apply(journalOp{Op: opPutSession, Key: k.String(), Data: b})
}

func (s *fileStore) LoadSession(ctx context.Context, k Key) (SessionRecord, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.journal == nil {
		return SessionRecord{}, false, ErrClosed
	}
	b, ok := s.state.Sessions[k.String()]
	if !ok {
		return SessionRecord{}, false, nil
	}
	rec, ok := decodeSession(b)
	if !ok {
		s.log.Warn("malformed session record ignored", logx.String("key", k.String()))
	}
	return rec, ok, nil
}

func (s *fileStore) DeleteSession(ctx context.Context, k Key) error {
	return s.apply(journalOp{Op: opDelSession, Key: k.String()})
}

func (s *fileStore) SaveRotation(ctx context.Context, k Key, rec RotationRecord) error {
	b, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	return s.apply(journalOp{Op: opPutRotation, Key: k.String(), Data: b})
}

func (s *fileStore) LoadRotation(ctx context.Context, k Key) (RotationRecord, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.journal == nil {
		return RotationRecord{}, false, ErrClosed
	}
	b, ok := s.state.Rotations[k.String()]
	if !ok {
		return RotationRecord{}, false, nil
	}
	rec, ok := decodeRotation(b)
	return rec, ok, nil
}

func (s *fileStore) IncrementScore(ctx context.Context, scope string, userID int64, delta int64) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := scoreKey(scope, userID)
	total := s.state.Scores[k] + delta
	if err := s.applyLocked(journalOp{Op: opSetScore, Key: k, Value: total}); err != nil {
		return 0, err
	}
	return total, nil
}

func (s *fileStore) Score(ctx context.Context, scope string, userID int64) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.journal == nil {
		return 0, ErrClosed
	}
	return s.state.Scores[scoreKey(scope, userID)], nil
}

func (s *fileStore) HasGrant(ctx context.Context, scope string, userID int64, grantID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.journal == nil {
		return false, ErrClosed
	}
	_, ok := s.state.Grants[grantKey(scope, userID, grantID)]
	return ok, nil
}

func (s *fileStore) PutGrant(ctx context.Context, scope string, userID int64, grantID string, at time.Time) error {
	return s.apply(journalOp{Op: opPutGrant, Key: grantKey(scope, userID, grantID), Value: at.UnixMilli()})
}

func (s *fileStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.journal == nil {
		return nil
	}
	cerr := s.compactLocked()
	err := s.journal.Close()
	s.journal = nil
	if cerr != nil {
		return cerr
	}
	return err
}

func (s *fileStore) apply(op journalOp) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.applyLocked(op)
}

// applyLocked journals op first, then mutates the in-memory state.
func (s *fileStore) applyLocked(op journalOp) error {
	if s.journal == nil {
		return ErrClosed
	}
	if err := json.NewEncoder(s.journal).Encode(op); err != nil {
		return err
	}
	s.state.apply(op)
	s.writes++
	if s.writes%compactEvery == 0 {
		if err := s.compactLocked(); err != nil {
			s.log.Debug("journal compact failed", logx.Err(err))
		}
	}
	return nil
}

func (st *fileState) apply(op journalOp) {
	switch op.Op {
	case opPutSession:
		st.Sessions[op.Key] = op.Data
	case opDelSession:
		delete(st.Sessions, op.Key)
	case opPutRotation:
		st.Rotations[op.Key] = op.Data
	case opSetScore:
		st.Scores[op.Key] = op.Value
	case opPutGrant:
		st.Grants[op.Key] = op.Value
	}
}

func (s *fileStore) compactLocked() error {
	tmp := s.snapshotPath + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		return err
	}
	if err := json.NewEncoder(f).Encode(s.state); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmp, s.snapshotPath); err != nil {
		return err
	}
	if err := s.journal.Truncate(0); err != nil {
		return err
	}
	_, err = s.journal.Seek(0, 2)
	return err
}

func loadSnapshot(path string, out *fileState) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	var st fileState
	if err := json.NewDecoder(f).Decode(&st); err != nil {
		return err
	}
	for k, v := range st.Sessions {
		out.Sessions[k] = v
	}
	for k, v := range st.Rotations {
		out.Rotations[k] = v
	}
	for k, v := range st.Scores {
		out.Scores[k] = v
	}
	for k, v := range st.Grants {
		out.Grants[k] = v
	}
	return nil
}

// replayJournal applies journal lines in order and returns how many lines were skipped.
func replayJournal(path string, out *fileState) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()
	skipped := 0
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for sc.Scan() {
		var op journalOp
		if err := json.Unmarshal(sc.Bytes(), &op); err != nil || op.Key == "" {
			skipped++
			continue
		}
		out.apply(op)
	}
	return skipped, sc.Err()
}

// terminateTornLine appends a newline if the journal ends mid-record, so the
// next append starts on a fresh line.
func terminateTornLine(f *os.File) error {
	fi, err := f.Stat()
	if err != nil || fi.Size() == 0 {
		return err
	}
	last := make([]byte, 1)
	if _, err := f.ReadAt(last, fi.Size()-1); err != nil {
		return err
	}
	if last[0] == '\n' {
		return nil
	}
	_, err = f.Write([]byte{'\n'})
	return err
}

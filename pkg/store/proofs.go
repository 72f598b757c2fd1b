package store

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ikamba/ikamba-agent/pkg/utils"
)

// ProofRecord describes one stored payment-proof image.
type ProofRecord struct {
	ID            string    `json:"id"`
	TransactionID string    `json:"transaction_id"`
	Channel       string    `json:"channel"`
	UserID        string    `json:"user_id"`
	Name          string    `json:"name"`
	StoredPath    string    `json:"stored_path"`
	MIMEType      string    `json:"mime_type,omitempty"`
	SizeBytes     int64     `json:"size_bytes"`
	SHA256        string    `json:"sha256"`
	CreatedAt     time.Time `json:"created_at"`
}

type proofStateFile struct {
	Version int           `json:"version"`
	Records []ProofRecord `json:"records"`
}

// ProofStore keeps payment-proof images on disk, one day tree per
// channel, with a JSON index alongside.
type ProofStore struct {
	mu        sync.RWMutex
	rootPath  string
	statePath string
	records   map[string]ProofRecord
}

func NewProofStore(root string) *ProofStore {
	statePath := filepath.Join(root, "proofs.json")
	_ = os.MkdirAll(root, 0755)

	s := &ProofStore{
		rootPath:  root,
		statePath: statePath,
		records:   map[string]ProofRecord{},
	}
	_ = s.load()
	return s
}

func (s *ProofStore) RootPath() string {
	return s.rootPath
}

// SaveImage writes proof bytes for a transaction and records them in
// the index. The stored filename carries a timestamp and a short uuid
// so repeated uploads never collide.
func (s *ProofStore) SaveImage(transactionID, channel, userID, originalName, mimeType string, data []byte) (ProofRecord, error) {
	if transactionID == "" {
		return ProofRecord{}, fmt.Errorf("transaction id is required")
	}
	if len(data) == 0 {
		return ProofRecord{}, fmt.Errorf("empty proof image")
	}

	now := time.Now().UTC()
	dayPath := filepath.Join(
		s.rootPath,
		strings.ToLower(strings.TrimSpace(channel)),
		now.Format("2006"),
		now.Format("01"),
		now.Format("02"),
	)
	if err := os.MkdirAll(dayPath, 0755); err != nil {
		return ProofRecord{}, fmt.Errorf("mkdir proof day path: %w", err)
	}

	baseName := utils.SanitizeFilename(originalName)
	if baseName == "" {
		baseName = "proof" + utils.ExtensionForMime(mimeType)
	}
	destName := fmt.Sprintf("%s_%s_%s", now.Format("150405"), uuid.NewString()[:8], baseName)
	destPath := filepath.Join(dayPath, destName)

	if err := os.WriteFile(destPath, data, 0644); err != nil {
		return ProofRecord{}, fmt.Errorf("write proof image: %w", err)
	}

	sum := sha256.Sum256(data)
	rec := ProofRecord{
		ID:            "proof_" + uuid.NewString(),
		TransactionID: transactionID,
		Channel:       channel,
		UserID:        userID,
		Name:          baseName,
		StoredPath:    destPath,
		MIMEType:      mimeType,
		SizeBytes:     int64(len(data)),
		SHA256:        hex.EncodeToString(sum[:]),
		CreatedAt:     now,
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[rec.ID] = rec
	if err := s.saveLocked(); err != nil {
		return ProofRecord{}, err
	}
	return rec, nil
}

// SaveFromLocalFile stores an already-downloaded file as proof for a
// transaction.
func (s *ProofStore) SaveFromLocalFile(transactionID, channel, userID, localPath, mimeType string) (ProofRecord, error) {
	data, err := os.ReadFile(localPath)
	if err != nil {
		return ProofRecord{}, fmt.Errorf("read proof file: %w", err)
	}
	return s.SaveImage(transactionID, channel, userID, filepath.Base(localPath), mimeType, data)
}

func (s *ProofStore) GetByID(id string) (ProofRecord, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.records[id]
	return r, ok
}

// ForTransaction returns all proofs recorded for a transaction, newest
// first.
func (s *ProofStore) ForTransaction(transactionID string) []ProofRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []ProofRecord
	for _, r := range s.records {
		if r.TransactionID == transactionID {
			out = append(out, r)
		}
	}
	for i := 0; i < len(out); i++ {
		for j := i + 1; j < len(out); j++ {
			if out[j].CreatedAt.After(out[i].CreatedAt) {
				out[i], out[j] = out[j], out[i]
			}
		}
	}
	return out
}

func (s *ProofStore) IsInRoot(path string) bool {
	abs, err := filepath.Abs(path)
	if err != nil {
		return false
	}
	root, err := filepath.Abs(s.rootPath)
	if err != nil {
		return false
	}
	return strings.HasPrefix(abs, root)
}

func (s *ProofStore) load() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, err := os.ReadFile(s.statePath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	var st proofStateFile
	if err := json.Unmarshal(data, &st); err != nil {
		s.records = map[string]ProofRecord{}
		return nil
	}
	out := make(map[string]ProofRecord, len(st.Records))
	for _, r := range st.Records {
		out[r.ID] = r
	}
	s.records = out
	return nil
}

func (s *ProofStore) saveLocked() error {
	records := make([]ProofRecord, 0, len(s.records))
	for _, r := range s.records {
		records = append(records, r)
	}

	st := proofStateFile{
		Version: 1,
		Records: records,
	}
	data, err := json.MarshalIndent(st, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal proof store: %w", err)
	}
	tmp := s.statePath + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("write proof state temp: %w", err)
	}
	if err := os.Rename(tmp, s.statePath); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("replace proof state: %w", err)
	}
	return nil
}

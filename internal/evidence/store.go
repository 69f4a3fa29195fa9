// Package evidence persiste imagens, clipes e metadata das violações no disco
// local e mantém o conjunto de marcadores "pending_sync".
//
// Layout:
//
//	<root>/images/YYYY/MM/DD/<camera>/<detection>_blurred.jpg
//	<root>/videos/YYYY/MM/DD/<camera>/<detection>.mp4
//	<root>/metadata/<detection>.json
//	<root>/pending_sync/<detection>.json
package evidence

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/sua-org/edge-agent/internal/core"
)

var (
	ErrEvidenceNotFound = errors.New("evidence not found")
	ErrInvalidID        = errors.New("invalid id")
)

const (
	dirImages   = "images"
	dirVideos   = "videos"
	dirMetadata = "metadata"
	dirPending  = "pending_sync"

	suffixBlurred  = "_blurred"
	suffixOriginal = "_original"
)

// Metadata é o que o chamador sabe sobre a violação no momento do save.
type Metadata struct {
	SiteID      string
	Timestamp   time.Time
	Violations  []core.Violation
	SafetyScore float64
}

type pendingMarker struct {
	DetectionID string    `json:"detection_id"`
	CameraID    string    `json:"camera_id"`
	ImagePath   string    `json:"image_path"`
	CreatedAt   time.Time `json:"created_at"`
}

type Store struct {
	root          string
	retentionDays int
	now           func() time.Time

	// mu serializa metadata + marcadores; escrita de imagem é por detection_id
	// e não precisa.
	mu sync.Mutex
}

func NewStore(root string, retentionDays int) (*Store, error) {
	if retentionDays <= 0 {
		return nil, fmt.Errorf("retention_days deve ser > 0 (recebido %d)", retentionDays)
	}
	for _, d := range []string{dirImages, dirVideos, dirMetadata, dirPending} {
		if err := os.MkdirAll(filepath.Join(root, d), 0o755); err != nil {
			return nil, fmt.Errorf("erro criando %s: %w", d, err)
		}
	}
	log.Printf("[evidence] store em %s (retention=%dd)", root, retentionDays)
	return &Store{root: root, retentionDays: retentionDays, now: time.Now}, nil
}

func (s *Store) Root() string { return s.root }

func (s *Store) RetentionDays() int { return s.retentionDays }

// Save grava a imagem, a metadata e o marcador pending_sync. Devolve o
// caminho da imagem.
func (s *Store) Save(image []byte, cameraID, detectionID string, meta Metadata, redacted bool) (string, error) {
	if err := checkID(cameraID); err != nil {
		return "", err
	}
	if err := checkID(detectionID); err != nil {
		return "", err
	}

	savedAt := s.now().UTC()
	suffix := suffixOriginal
	if redacted {
		suffix = suffixBlurred
	}
	dir := filepath.Join(s.root, dirImages, datePath(savedAt), cameraID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("erro criando %s: %w", dir, err)
	}
	imgPath := filepath.Join(dir, detectionID+suffix+".jpg")
	if err := writeFileAtomic(imgPath, image); err != nil {
		return "", err
	}

	ts := meta.Timestamp
	if ts.IsZero() {
		ts = savedAt
	}
	rec := core.EvidenceRecord{
		DetectionID: detectionID,
		CameraID:    cameraID,
		SiteID:      meta.SiteID,
		Timestamp:   ts.UTC(),
		Violations:  meta.Violations,
		SafetyScore: meta.SafetyScore,
		ImagePath:   imgPath,
		FileHash:    HashBytes(image),
		Redacted:    redacted,
		SavedAt:     savedAt,
		Synced:      false,
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	// marcador antes da metadata: registro sem marcador conta como synced
	marker := pendingMarker{DetectionID: detectionID, CameraID: cameraID, ImagePath: imgPath, CreatedAt: savedAt}
	if err := writeJSONAtomic(s.markerPath(detectionID), marker); err != nil {
		_ = os.Remove(imgPath)
		return "", fmt.Errorf("erro gravando marcador pending_sync: %w", err)
	}
	if err := s.writeMetadata(rec); err != nil {
		_ = os.Remove(s.markerPath(detectionID))
		_ = os.Remove(imgPath)
		return "", err
	}
	return imgPath, nil
}

// SaveVideoClip grava o clipe e atualiza video_path/video_duration na
// metadata existente (se houver).
func (s *Store) SaveVideoClip(video []byte, cameraID, detectionID string, duration int) (string, error) {
	if err := checkID(cameraID); err != nil {
		return "", err
	}
	if err := checkID(detectionID); err != nil {
		return "", err
	}
	dir := filepath.Join(s.root, dirVideos, datePath(s.now().UTC()), cameraID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("erro criando %s: %w", dir, err)
	}
	path := filepath.Join(dir, detectionID+".mp4")
	if err := writeFileAtomic(path, video); err != nil {
		return "", err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	rec, err := s.readMetadata(detectionID)
	if errors.Is(err, ErrEvidenceNotFound) {
		return path, nil
	}
	if err != nil {
		return "", err
	}
	rec.VideoPath = path
	rec.VideoDuration = duration
	if err := s.writeMetadata(rec); err != nil {
		return "", err
	}
	return path, nil
}

// GetEvidence lê a metadata. Synced reflete a ausência do marcador.
func (s *Store) GetEvidence(detectionID string) (core.EvidenceRecord, error) {
	if err := checkID(detectionID); err != nil {
		return core.EvidenceRecord{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.recordLocked(detectionID)
}

func (s *Store) recordLocked(detectionID string) (core.EvidenceRecord, error) {
	rec, err := s.readMetadata(detectionID)
	if err != nil {
		return rec, err
	}
	rec.Synced = !fileExists(s.markerPath(detectionID))
	return rec, nil
}

// ReadImage devolve os bytes da imagem e a metadata.
func (s *Store) ReadImage(detectionID string) ([]byte, core.EvidenceRecord, error) {
	rec, err := s.GetEvidence(detectionID)
	if err != nil {
		return nil, rec, err
	}
	data, err := os.ReadFile(rec.ImagePath)
	if errors.Is(err, os.ErrNotExist) {
		return nil, rec, fmt.Errorf("%w: imagem de %s", ErrEvidenceNotFound, detectionID)
	}
	if err != nil {
		return nil, rec, fmt.Errorf("erro lendo imagem %s: %w", rec.ImagePath, err)
	}
	return data, rec, nil
}

// MarkSynced remove o marcador; chamar de novo é no-op.
func (s *Store) MarkSynced(detectionID string) error {
	if err := checkID(detectionID); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, err := s.readMetadata(detectionID)
	if err != nil {
		return err
	}
	if err := os.Remove(s.markerPath(detectionID)); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("erro removendo marcador %s: %w", detectionID, err)
	}
	if !rec.Synced {
		rec.Synced = true
		if err := s.writeMetadata(rec); err != nil {
			// marcador já saiu, que é o que vale
			log.Printf("[evidence] aviso: metadata de %s não atualizada: %v", detectionID, err)
		}
	}
	return nil
}

// ListPending devolve os detection_id com marcador, em ordem.
func (s *Store) ListPending() ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries, err := os.ReadDir(filepath.Join(s.root, dirPending))
	if err != nil {
		return nil, fmt.Errorf("erro listando pending_sync: %w", err)
	}
	var out []string
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, ".json") {
			continue
		}
		out = append(out, strings.TrimSuffix(name, ".json"))
	}
	sort.Strings(out)
	return out, nil
}

type ListFilter struct {
	CameraID string
	Limit    int
	Offset   int
}

// List devolve registros do mais recente para o mais antigo e o total antes
// da paginação.
func (s *Store) List(f ListFilter) ([]core.EvidenceRecord, int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries, err := os.ReadDir(filepath.Join(s.root, dirMetadata))
	if err != nil {
		return nil, 0, fmt.Errorf("erro listando metadata: %w", err)
	}
	var all []core.EvidenceRecord
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, ".json") {
			continue
		}
		rec, err := s.recordLocked(strings.TrimSuffix(name, ".json"))
		if err != nil {
			log.Printf("[evidence] ignorando metadata %s: %v", name, err)
			continue
		}
		if f.CameraID != "" && rec.CameraID != f.CameraID {
			continue
		}
		all = append(all, rec)
	}
	sort.Slice(all, func(i, j int) bool {
		if all[i].Timestamp.Equal(all[j].Timestamp) {
			return all[i].DetectionID > all[j].DetectionID
		}
		return all[i].Timestamp.After(all[j].Timestamp)
	})

	total := len(all)
	if f.Offset > 0 {
		if f.Offset >= total {
			return []core.EvidenceRecord{}, total, nil
		}
		all = all[f.Offset:]
	}
	if f.Limit > 0 && len(all) > f.Limit {
		all = all[:f.Limit]
	}
	return all, total, nil
}

func (s *Store) metadataPath(id string) string {
	return filepath.Join(s.root, dirMetadata, id+".json")
}

func (s *Store) markerPath(id string) string {
	return filepath.Join(s.root, dirPending, id+".json")
}

func (s *Store) readMetadata(id string) (core.EvidenceRecord, error) {
	var rec core.EvidenceRecord
	data, err := os.ReadFile(s.metadataPath(id))
	if errors.Is(err, os.ErrNotExist) {
		return rec, fmt.Errorf("%w: %s", ErrEvidenceNotFound, id)
	}
	if err != nil {
		return rec, fmt.Errorf("erro lendo metadata %s: %w", id, err)
	}
	if err := json.Unmarshal(data, &rec); err != nil {
		return rec, fmt.Errorf("metadata %s corrompida: %w", id, err)
	}
	return rec, nil
}

func (s *Store) writeMetadata(rec core.EvidenceRecord) error {
	if err := writeJSONAtomic(s.metadataPath(rec.DetectionID), rec); err != nil {
		return fmt.Errorf("erro gravando metadata %s: %w", rec.DetectionID, err)
	}
	return nil
}

// HashBytes é o file_hash gravado na metadata (sha256 hex).
func HashBytes(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

func datePath(t time.Time) string {
	return filepath.Join(t.Format("2006"), t.Format("01"), t.Format("02"))
}

// checkID: ids viram nomes de arquivo/diretório.
func checkID(id string) error {
	if id == "" || id == "." || id == ".." || strings.ContainsAny(id, `/\`) || strings.ContainsRune(id, 0) {
		return fmt.Errorf("%w: %q", ErrInvalidID, id)
	}
	return nil
}

func writeJSONAtomic(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	return writeFileAtomic(path, data)
}

// writeFileAtomic escreve num temporário do mesmo diretório e faz rename.
func writeFileAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".tmp-*")
	if err != nil {
		return fmt.Errorf("erro criando temporário para %s: %w", path, err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("erro escrevendo %s: %w", path, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("erro fechando %s: %w", path, err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("erro renomeando %s: %w", path, err)
	}
	return nil
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

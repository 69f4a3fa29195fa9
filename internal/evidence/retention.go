package evidence

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/shirou/gopsutil/v3/disk"
)

// EnforceRetention remove as partições de data (images e videos) mais
// antigas que retention_days, junto com metadata e marcadores das evidências
// que elas continham. A partição exatamente no limite fica. Devolve quantas
// datas foram removidas.
func (s *Store) EnforceRetention() (int, error) {
	today := truncateDay(s.now().UTC())
	cutoff := today.AddDate(0, 0, -s.retentionDays)

	removed := make(map[string]struct{})
	var errs []error
	for _, kind := range []string{dirImages, dirVideos} {
		parts, err := s.partitions(kind)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		for _, p := range parts {
			if !p.date.Before(cutoff) {
				continue
			}
			ids := detectionIDsIn(p.path)
			if err := os.RemoveAll(p.path); err != nil {
				errs = append(errs, fmt.Errorf("erro removendo %s: %w", p.path, err))
				continue
			}
			s.forget(ids)
			removed[p.date.Format("2006-01-02")] = struct{}{}
			pruneEmptyParents(p.path, filepath.Join(s.root, kind))
		}
	}
	if len(removed) > 0 {
		log.Printf("[evidence] retenção: %d partições removidas (cutoff=%s)", len(removed), cutoff.Format("2006-01-02"))
	}
	return len(removed), errors.Join(errs...)
}

// RunRetentionLoop roda EnforceRetention a cada interval até ctx acabar.
func (s *Store) RunRetentionLoop(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Hour
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		if _, err := s.EnforceRetention(); err != nil {
			log.Printf("[evidence] erro na retenção: %v", err)
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (s *Store) forget(ids []string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range ids {
		_ = os.Remove(s.metadataPath(id))
		_ = os.Remove(s.markerPath(id))
	}
}

type partition struct {
	date time.Time
	path string
}

// partitions lista <kind>/YYYY/MM/DD válidos; o resto é ignorado.
func (s *Store) partitions(kind string) ([]partition, error) {
	base := filepath.Join(s.root, kind)
	years, err := os.ReadDir(base)
	if err != nil {
		return nil, fmt.Errorf("erro listando %s: %w", base, err)
	}
	var out []partition
	for _, y := range years {
		if !y.IsDir() {
			continue
		}
		months, _ := os.ReadDir(filepath.Join(base, y.Name()))
		for _, m := range months {
			if !m.IsDir() {
				continue
			}
			days, _ := os.ReadDir(filepath.Join(base, y.Name(), m.Name()))
			for _, d := range days {
				if !d.IsDir() {
					continue
				}
				date, ok := parseDate(y.Name(), m.Name(), d.Name())
				if !ok {
					continue
				}
				out = append(out, partition{date: date, path: filepath.Join(base, y.Name(), m.Name(), d.Name())})
			}
		}
	}
	return out, nil
}

func parseDate(y, m, d string) (time.Time, bool) {
	yi, err1 := strconv.Atoi(y)
	mi, err2 := strconv.Atoi(m)
	di, err3 := strconv.Atoi(d)
	if err1 != nil || err2 != nil || err3 != nil || len(y) != 4 || len(m) != 2 || len(d) != 2 {
		return time.Time{}, false
	}
	t := time.Date(yi, time.Month(mi), di, 0, 0, 0, 0, time.UTC)
	if t.Year() != yi || int(t.Month()) != mi || t.Day() != di {
		return time.Time{}, false
	}
	return t, true
}

// detectionIDsIn extrai os ids dos arquivos de uma partição.
func detectionIDsIn(dir string) []string {
	var ids []string
	_ = filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return nil
		}
		name := strings.TrimSuffix(d.Name(), filepath.Ext(d.Name()))
		name = strings.TrimSuffix(name, suffixBlurred)
		name = strings.TrimSuffix(name, suffixOriginal)
		if name != "" && !strings.HasPrefix(name, ".tmp-") {
			ids = append(ids, name)
		}
		return nil
	})
	return ids
}

// pruneEmptyParents sobe de dir até stop removendo diretórios vazios.
func pruneEmptyParents(dir, stop string) {
	for p := filepath.Dir(dir); p != stop && strings.HasPrefix(p, stop); p = filepath.Dir(p) {
		if err := os.Remove(p); err != nil {
			return
		}
	}
}

func truncateDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

type Stats struct {
	UsedBytes     int64 `json:"used_bytes"`
	FreeBytes     int64 `json:"free_bytes"`
	ImageCount    int   `json:"image_count"`
	VideoCount    int   `json:"video_count"`
	PendingSync   int   `json:"pending_sync"`
	RetentionDays int   `json:"retention_days"`
}

// Stats só informa; decidir o que fazer com disco cheio é do chamador.
func (s *Store) Stats() (Stats, error) {
	st := Stats{RetentionDays: s.retentionDays}
	err := filepath.WalkDir(s.root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if d.IsDir() {
			return nil
		}
		if info, err := d.Info(); err == nil {
			st.UsedBytes += info.Size()
		}
		rel, _ := filepath.Rel(s.root, path)
		switch strings.SplitN(filepath.ToSlash(rel), "/", 2)[0] {
		case dirImages:
			st.ImageCount++
		case dirVideos:
			st.VideoCount++
		case dirPending:
			st.PendingSync++
		}
		return nil
	})
	if err != nil {
		return st, fmt.Errorf("erro calculando uso: %w", err)
	}

	usage, err := disk.Usage(s.root)
	if err != nil {
		return st, fmt.Errorf("erro lendo espaço livre: %w", err)
	}
	st.FreeBytes = int64(usage.Free)
	return st, nil
}

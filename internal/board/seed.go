package board

import (
	"bytes"
	"context"
	"crypto/sha256"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"

	"github.com/kazz187/cardflow/pkg/cerr"
)

// SeedDebounceInterval lets bursts of editor writes settle before a reload.
const SeedDebounceInterval = 100 * time.Millisecond

type SeedFile struct {
	Boards []SeedBoard `yaml:"boards"`
}

type SeedBoard struct {
	Board   `yaml:",inline"`
	Columns []*Column `yaml:"columns"`
	Cards   []*Card   `yaml:"cards"`
}

type SeedStats struct {
	Boards  int
	Columns int
	Cards   int
}

// Seeder loads board definitions from YAML. Boards and columns are upserted;
// cards are created once and left alone afterwards since they move at runtime.
type Seeder struct {
	repo Repository
}

func NewSeeder(repo Repository) *Seeder {
	return &Seeder{repo: repo}
}

func ParseSeed(data []byte) (*SeedFile, error) {
	var f SeedFile
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&f); err != nil {
		return nil, fmt.Errorf("failed to parse seed file: %w", err)
	}
	for i, b := range f.Boards {
		if b.ID == "" {
			return nil, fmt.Errorf("board #%d has no id", i)
		}
		columnIDs := make(map[string]bool, len(b.Columns))
		for _, c := range b.Columns {
			if c.ID == "" {
				return nil, fmt.Errorf("board %s: column without id", b.ID)
			}
			columnIDs[c.ID] = true
		}
		for _, c := range b.Columns {
			for _, ref := range []string{c.Automation.OnSuccessColumnID, c.Automation.OnFailureColumnID} {
				if ref != "" && !columnIDs[ref] {
					return nil, fmt.Errorf("board %s: column %s routes to unknown column %s", b.ID, c.ID, ref)
				}
			}
		}
		for _, c := range b.Cards {
			if c.ID == "" || !columnIDs[c.ColumnID] {
				return nil, fmt.Errorf("board %s: card %q must have an id and a known column", b.ID, c.ID)
			}
		}
	}
	return &f, nil
}

func (s *Seeder) Apply(ctx context.Context, f *SeedFile) (SeedStats, error) {
	var stats SeedStats
	for _, sb := range f.Boards {
		b := sb.Board
		if err := s.repo.SaveBoard(ctx, &b); err != nil {
			return stats, err
		}
		stats.Boards++
		for i, c := range sb.Columns {
			c.BoardID = b.ID
			if c.Position == 0 {
				c.Position = i
			}
			if err := s.repo.SaveColumn(ctx, c); err != nil {
				return stats, err
			}
			stats.Columns++
		}
		for _, c := range sb.Cards {
			if _, err := s.repo.GetCard(ctx, c.ID); err == nil {
				continue
			} else if !cerr.IsCode(err, cerr.NotFound) {
				return stats, err
			}
			c.BoardID = b.ID
			c.CreatedBy = "seed"
			if err := s.repo.CreateCard(ctx, c); err != nil {
				return stats, err
			}
			stats.Cards++
		}
	}
	return stats, nil
}

func (s *Seeder) LoadFile(ctx context.Context, path string) (SeedStats, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return SeedStats{}, fmt.Errorf("failed to read seed file: %w", err)
	}
	f, err := ParseSeed(data)
	if err != nil {
		return SeedStats{}, err
	}
	return s.Apply(ctx, f)
}

// Watch reloads path whenever its content changes until ctx is done. The
// parent directory is watched so atomic replaces (write temp, rename) are
// picked up.
func (s *Seeder) Watch(ctx context.Context, path string) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	defer watcher.Close()

	watchDir := filepath.Dir(path)
	name := filepath.Base(path)
	if err := watcher.Add(watchDir); err != nil {
		return fmt.Errorf("failed to watch %s: %w", watchDir, err)
	}

	lastHash, _ := hashFile(path)
	reload := make(chan struct{}, 1)
	var debounce *time.Timer
	defer func() {
		if debounce != nil {
			debounce.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Base(event.Name) != name {
				continue
			}
			if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Rename) == 0 {
				continue
			}
			if debounce != nil {
				debounce.Stop()
			}
			debounce = time.AfterFunc(SeedDebounceInterval, func() {
				select {
				case reload <- struct{}{}:
				default:
				}
			})
		case <-reload:
			h, err := hashFile(path)
			if err != nil || h == lastHash {
				continue
			}
			lastHash = h
			stats, err := s.LoadFile(ctx, path)
			if err != nil {
				slog.ErrorContext(ctx, "failed to reload seed file", "path", path, "error", err)
				continue
			}
			slog.InfoContext(ctx, "seed file reloaded", "path", path,
				"boards", stats.Boards, "columns", stats.Columns, "cards", stats.Cards)
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			slog.WarnContext(ctx, "seed watcher error", "error", err)
		}
	}
}

func hashFile(path string) ([sha256.Size]byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return [sha256.Size]byte{}, err
	}
	return sha256.Sum256(data), nil
}

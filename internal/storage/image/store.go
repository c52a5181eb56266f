package image

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/yndnr/warmstart/internal/core/domain"
)

const (
	DefaultRetentionCount = 5
	DefaultRetentionDays  = 7
)

var (
	ErrNotFound         = errors.New("image: not found")
	ErrNoImages         = errors.New("image: no images available")
	ErrChecksumMismatch = errors.New("image: manifest checksum mismatch")
	ErrIncomplete       = errors.New("image: ids marker missing")
	ErrIDMismatch       = errors.New("image: ids marker does not match manifest")
	ErrAmbiguous        = errors.New("image: reference matches more than one image")
)

// Config configures the image store.
type Config struct {
	Dir string

	RetentionCount int
	RetentionDays  int
}

func DefaultConfig(dir string) Config {
	return Config{
		Dir:            dir,
		RetentionCount: DefaultRetentionCount,
		RetentionDays:  DefaultRetentionDays,
	}
}

// Image is a checkpoint image directory.
type Image struct {
	ID       string
	Dir      string
	Manifest *Manifest
	Checksum string
	// Complete is set when the ids marker matches the manifest.
	Complete bool
	Size     int64
}

// Path returns the path of a file inside the image directory.
func (i *Image) Path(name string) string {
	return filepath.Join(i.Dir, name)
}

// Store manages image directories under one root.
type Store struct {
	cfg Config
	now func() time.Time
}

func NewStore(cfg Config) (*Store, error) {
	if cfg.Dir == "" {
		return nil, fmt.Errorf("image: dir is required")
	}
	if err := os.MkdirAll(cfg.Dir, 0750); err != nil {
		return nil, fmt.Errorf("image: create dir: %w", err)
	}
	if cfg.RetentionCount == 0 {
		cfg.RetentionCount = DefaultRetentionCount
	}
	if cfg.RetentionDays == 0 {
		cfg.RetentionDays = DefaultRetentionDays
	}
	return &Store{cfg: cfg, now: time.Now}, nil
}

// Dir returns the store root.
func (s *Store) Dir() string { return s.cfg.Dir }

// Create makes the directory for a new image and writes its manifest. When
// m.ID is empty a new ID is generated. The image is incomplete until Commit.
func (s *Store) Create(m Manifest) (*Image, error) {
	if m.ID == "" {
		id, err := domain.NewImageID()
		if err != nil {
			return nil, fmt.Errorf("image: generate id: %w", err)
		}
		m.ID = id
	}
	if !domain.ValidImageID(m.ID) {
		return nil, fmt.Errorf("image: invalid id %q", m.ID)
	}
	m.Version = manifestVersion
	if m.CreatedAt.IsZero() {
		m.CreatedAt = s.now().UTC()
	}

	dir := filepath.Join(s.cfg.Dir, m.ID)
	if err := os.Mkdir(dir, 0750); err != nil {
		return nil, fmt.Errorf("image: create %s: %w", m.ID, err)
	}
	checksum, err := writeManifest(dir, &m)
	if err != nil {
		_ = os.RemoveAll(dir)
		return nil, err
	}

	return &Image{ID: m.ID, Dir: dir, Manifest: &m, Checksum: checksum}, nil
}

// Commit writes the ids marker, making the image restorable. Committing an
// already complete image is a no-op.
func (s *Store) Commit(img *Image) error {
	tmp := img.Path(IDsFile + ".tmp")
	if err := os.WriteFile(tmp, []byte(img.ID+"\n"), 0600); err != nil {
		return fmt.Errorf("image: write ids: %w", err)
	}
	if err := os.Rename(tmp, img.Path(IDsFile)); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("image: commit ids: %w", err)
	}
	img.Complete = true
	return nil
}

// Open loads an image by exact ID. The manifest checksum is verified; the
// ids marker is reported through Image.Complete.
func (s *Store) Open(id string) (*Image, error) {
	if !domain.ValidImageID(id) {
		return nil, fmt.Errorf("%w: %q", ErrNotFound, id)
	}
	dir := filepath.Join(s.cfg.Dir, id)
	if st, err := os.Stat(dir); err != nil || !st.IsDir() {
		return nil, fmt.Errorf("%w: %q", ErrNotFound, id)
	}

	m, checksum, err := readManifest(dir)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", id, err)
	}
	img := &Image{ID: id, Dir: dir, Manifest: m, Checksum: checksum, Size: dirSize(dir)}
	if ids, err := readIDs(dir); err == nil && ids == m.ID && m.ID == id {
		img.Complete = true
	}
	return img, nil
}

// Validate checks that an image can be restored.
func (s *Store) Validate(img *Image) error {
	ids, err := readIDs(img.Dir)
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("%s: %w", img.ID, ErrIncomplete)
		}
		return fmt.Errorf("%s: read ids: %w", img.ID, err)
	}
	if ids != img.Manifest.ID || ids != img.ID {
		return fmt.Errorf("%s: %w (ids %q)", img.ID, ErrIDMismatch, ids)
	}
	return nil
}

// Resolve finds an image by "latest", an exact ID or a unique ID prefix.
func (s *Store) Resolve(ref string) (*Image, error) {
	ref = strings.TrimSpace(ref)
	if ref == "" || ref == "latest" {
		return s.Latest()
	}
	if domain.ValidImageID(ref) {
		return s.Open(ref)
	}

	ids, err := s.ids()
	if err != nil {
		return nil, err
	}
	var match string
	for _, id := range ids {
		if strings.HasPrefix(id, ref) || strings.HasPrefix(strings.TrimPrefix(id, domain.ImageIDPrefix), ref) {
			if match != "" {
				return nil, fmt.Errorf("%w: %q", ErrAmbiguous, ref)
			}
			match = id
		}
	}
	if match == "" {
		return nil, fmt.Errorf("%w: %q", ErrNotFound, ref)
	}
	return s.Open(match)
}

// Latest returns the newest complete image. Corrupt or incomplete images are
// skipped in favour of older ones.
func (s *Store) Latest() (*Image, error) {
	ids, err := s.ids()
	if err != nil {
		return nil, err
	}
	for i := len(ids) - 1; i >= 0; i-- {
		img, err := s.Open(ids[i])
		if err != nil || !img.Complete {
			continue
		}
		return img, nil
	}
	return nil, ErrNoImages
}

// List returns every image, oldest first. Images whose manifest cannot be
// read are still listed with a nil Manifest.
func (s *Store) List() ([]*Image, error) {
	ids, err := s.ids()
	if err != nil {
		return nil, err
	}
	images := make([]*Image, 0, len(ids))
	for _, id := range ids {
		img, err := s.Open(id)
		if err != nil {
			dir := filepath.Join(s.cfg.Dir, id)
			img = &Image{ID: id, Dir: dir, Size: dirSize(dir)}
		}
		images = append(images, img)
	}
	return images, nil
}

// Discard removes an image directory.
func (s *Store) Discard(id string) error {
	if !domain.ValidImageID(id) {
		return fmt.Errorf("%w: %q", ErrNotFound, id)
	}
	if err := os.RemoveAll(filepath.Join(s.cfg.Dir, id)); err != nil {
		return fmt.Errorf("image: discard %s: %w", id, err)
	}
	return nil
}

// Prune applies the retention policy and returns the IDs it removed.
func (s *Store) Prune() ([]string, error) {
	ids, err := s.ids()
	if err != nil {
		return nil, err
	}
	if len(ids) <= 1 {
		return nil, nil
	}

	keep := make(map[string]struct{}, len(ids))

	if s.cfg.RetentionCount > 0 {
		start := len(ids) - s.cfg.RetentionCount
		if start < 0 {
			start = 0
		}
		for _, id := range ids[start:] {
			keep[id] = struct{}{}
		}
	}

	if s.cfg.RetentionDays > 0 {
		cutoff := s.now().Add(-time.Duration(s.cfg.RetentionDays) * 24 * time.Hour)
		for _, id := range ids {
			if created, ok := domain.IDTime(id); ok && created.After(cutoff) {
				keep[id] = struct{}{}
			}
		}
	}

	keep[ids[len(ids)-1]] = struct{}{}

	var removed []string
	for _, id := range ids {
		if _, ok := keep[id]; ok {
			continue
		}
		if err := s.Discard(id); err != nil {
			return removed, err
		}
		removed = append(removed, id)
	}
	return removed, nil
}

// MarkRestored increments and returns the restore generation of img. The
// launcher calls it before each restore; the restored process reads it with
// Generation.
func (s *Store) MarkRestored(img *Image) (int, error) {
	gen, err := Generation(img)
	if err != nil {
		return 0, err
	}
	gen++
	if err := os.WriteFile(img.Path(RestoredFile), []byte(strconv.Itoa(gen)+"\n"), 0600); err != nil {
		return 0, fmt.Errorf("image: write restore generation: %w", err)
	}
	return gen, nil
}

// Generation returns how many times img has been restored; 0 when never.
func Generation(img *Image) (int, error) {
	data, err := os.ReadFile(img.Path(RestoredFile))
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, fmt.Errorf("image: read restore generation: %w", err)
	}
	gen, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return 0, fmt.Errorf("image: parse restore generation: %w", err)
	}
	return gen, nil
}

func (s *Store) ids() ([]string, error) {
	entries, err := os.ReadDir(s.cfg.Dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var ids []string
	for _, e := range entries {
		if e.IsDir() && domain.ValidImageID(e.Name()) {
			ids = append(ids, e.Name())
		}
	}
	sort.Strings(ids)
	return ids, nil
}

func dirSize(dir string) int64 {
	var size int64
	_ = filepath.WalkDir(dir, func(_ string, d os.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return nil
		}
		if info, err := d.Info(); err == nil {
			size += info.Size()
		}
		return nil
	})
	return size
}

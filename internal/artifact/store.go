package artifact

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"chatd/internal/common/fsutil"
)

// Defaults applied when corresponding StoreConfig fields are unset.
const (
	defaultRetries   = 3
	defaultBaseDelay = 2 * time.Second
)

// StoreConfig encapsulates all tunables for Store construction.
type StoreConfig struct {
	// Dir is the local models directory. Supports '~' expansion.
	Dir string
	// Endpoint is the repository base URL, e.g. https://huggingface.co.
	Endpoint string
	// Retries bounds acquisition attempts per Ensure call.
	Retries int
	// BaseDelay is the first backoff delay; it doubles per attempt.
	BaseDelay time.Duration
	// RemoteFallback permits a degraded remote-backed artifact after retries.
	RemoteFallback bool
	// Client overrides the HTTP client (tests).
	Client *http.Client
}

// Store resolves artifacts and guards the local cache directory. Concurrent
// first-time resolutions of the same repo id share one download.
type Store struct {
	dir            string
	endpoint       string
	retries        int
	baseDelay      time.Duration
	remoteFallback bool
	client         *http.Client
	log            zerolog.Logger

	group singleflight.Group
	mu    sync.RWMutex
	cache map[string]*Artifact
}

// NewStore constructs a Store from StoreConfig.
func NewStore(cfg StoreConfig, log zerolog.Logger) (*Store, error) {
	dir, err := fsutil.ExpandHome(cfg.Dir)
	if err != nil {
		return nil, err
	}
	s := &Store{
		dir:            dir,
		endpoint:       strings.TrimRight(cfg.Endpoint, "/"),
		retries:        cfg.Retries,
		baseDelay:      cfg.BaseDelay,
		remoteFallback: cfg.RemoteFallback,
		client:         cfg.Client,
		log:            log,
		cache:          make(map[string]*Artifact),
	}
	if s.retries <= 0 {
		s.retries = defaultRetries
	}
	if s.baseDelay <= 0 {
		s.baseDelay = defaultBaseDelay
	}
	if s.client == nil {
		s.client = &http.Client{Timeout: 10 * time.Minute}
	}
	return s, nil
}

// LocalDir returns the deterministic cache directory for a repo id.
func (s *Store) LocalDir(repoID string) string {
	return filepath.Join(s.dir, strings.ReplaceAll(repoID, "/", "_"))
}

// Ensure resolves repoID to a Valid artifact, downloading it if absent.
// Re-ensuring an already-Valid artifact performs no network activity.
func (s *Store) Ensure(ctx context.Context, repoID string) (*Artifact, error) {
	if repoID == "" {
		return nil, fmt.Errorf("empty repo id")
	}
	s.mu.RLock()
	art, ok := s.cache[repoID]
	s.mu.RUnlock()
	if ok && art.Status == StatusValid {
		return art, nil
	}
	v, err, _ := s.group.Do(repoID, func() (any, error) {
		return s.ensure(ctx, repoID)
	})
	if err != nil {
		return nil, err
	}
	return v.(*Artifact), nil
}

func (s *Store) ensure(ctx context.Context, repoID string) (*Artifact, error) {
	// A concurrent caller may have finished while we waited on the group.
	s.mu.RLock()
	if art, ok := s.cache[repoID]; ok && art.Status == StatusValid {
		s.mu.RUnlock()
		return art, nil
	}
	s.mu.RUnlock()

	dir := s.LocalDir(repoID)
	if missing := missingFiles(dir); len(missing) == 0 {
		return s.commit(repoID, dir, false), nil
	}

	if err := fsutil.EnsureDir(dir); err != nil {
		return nil, fmt.Errorf("create model dir: %w", err)
	}
	delay := s.baseDelay
	for attempt := 1; attempt <= s.retries; attempt++ {
		err := s.fetch(ctx, repoID, dir)
		if err == nil {
			// Verify the full required set again; a partial download must
			// never be accepted as Valid.
			if missing := missingFiles(dir); len(missing) == 0 {
				return s.commit(repoID, dir, false), nil
			}
			err = fmt.Errorf("artifact corrupt after download: missing %v", missingFiles(dir))
			discard(dir)
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		s.log.Warn().Err(err).Str("repo_id", repoID).Int("attempt", attempt).
			Msg("artifact acquisition failed")
		if attempt == s.retries {
			break
		}
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
		delay *= 2
	}

	if s.remoteFallback {
		s.log.Warn().Str("repo_id", repoID).
			Msg("serving model remote-backed; local cache unavailable")
		return s.commit(repoID, repoID, true), nil
	}
	return nil, ErrUnavailable(repoID)
}

func (s *Store) commit(repoID, path string, remote bool) *Artifact {
	art := &Artifact{
		RepoID: repoID,
		Path:   path,
		Files:  append([]string(nil), RequiredFiles...),
		Status: StatusValid,
		Remote: remote,
	}
	s.mu.Lock()
	s.cache[repoID] = art
	s.mu.Unlock()
	return art
}

// fetch downloads every required file that is not already present.
func (s *Store) fetch(ctx context.Context, repoID, dir string) error {
	for _, name := range RequiredFiles {
		dst := filepath.Join(dir, name)
		if fsutil.FileNonEmpty(dst) {
			continue
		}
		if err := s.download(ctx, repoID, name, dst); err != nil {
			return fmt.Errorf("download %s: %w", name, err)
		}
	}
	return nil
}

// download streams one file to a temp path and renames it into place, so an
// interrupted transfer never leaves a plausible-looking partial file.
func (s *Store) download(ctx context.Context, repoID, name, dst string) error {
	url := fmt.Sprintf("%s/%s/resolve/main/%s", s.endpoint, repoID, name)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status %d from %s", resp.StatusCode, url)
	}
	tmp, err := os.CreateTemp(filepath.Dir(dst), "."+name+".tmp-*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())
	if _, err := io.Copy(tmp, resp.Body); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), dst)
}

// missingFiles returns the required files absent or empty under dir.
func missingFiles(dir string) []string {
	var missing []string
	for _, name := range RequiredFiles {
		if !fsutil.FileNonEmpty(filepath.Join(dir, name)) {
			missing = append(missing, name)
		}
	}
	return missing
}

// discard removes the required file set so a corrupt artifact is re-resolved
// from scratch, never patched in place.
func discard(dir string) {
	for _, name := range RequiredFiles {
		_ = os.Remove(filepath.Join(dir, name))
	}
}

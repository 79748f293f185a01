package preferences

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/sirupsen/logrus"
)

var ErrInvalid = errors.New("invalid preferences")

type Mode string

const (
	ModeInventory Mode = "inventory"
	ModeWatch     Mode = "watch"
)

type AuctionFilter string

const (
	AuctionAll        AuctionFilter = "all"
	AuctionOnly       AuctionFilter = "auction"
	AuctionNonAuction AuctionFilter = "non_auction"
)

// Preferences is the per-user view state: which listing mode is active and how
// appraisal lists are filtered by auction placement.
type Preferences struct {
	Mode          Mode          `json:"mode"`
	AuctionFilter AuctionFilter `json:"auction_filter"`
}

func Default() Preferences {
	return Preferences{Mode: ModeInventory, AuctionFilter: AuctionAll}
}

func (p Preferences) Validate() error {
	switch p.Mode {
	case ModeInventory, ModeWatch:
	default:
		return fmt.Errorf("%w: mode %q", ErrInvalid, p.Mode)
	}
	switch p.AuctionFilter {
	case AuctionAll, AuctionOnly, AuctionNonAuction:
	default:
		return fmt.Errorf("%w: auction_filter %q", ErrInvalid, p.AuctionFilter)
	}
	return nil
}

// Allows reports whether an item placed on an auction channel (or not) passes the filter.
func (p Preferences) Allows(auction bool) bool {
	switch p.AuctionFilter {
	case AuctionOnly:
		return auction
	case AuctionNonAuction:
		return !auction
	}
	return true
}

// Load reads preferences from path. A missing file yields the defaults; blank fields in
// an older file are filled from the defaults.
func Load(path string) (Preferences, error) {
	blob, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return Default(), nil
		}
		return Preferences{}, err
	}
	p := Default()
	if err := json.Unmarshal(blob, &p); err != nil {
		return Preferences{}, fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	def := Default()
	if p.Mode == "" {
		p.Mode = def.Mode
	}
	if p.AuctionFilter == "" {
		p.AuctionFilter = def.AuctionFilter
	}
	if err := p.Validate(); err != nil {
		return Preferences{}, err
	}
	return p, nil
}

// Save writes p atomically via a temp file and rename.
func Save(path string, p Preferences) error {
	if err := p.Validate(); err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	blob, err := json.MarshalIndent(p, "", "  ")
	if err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, blob, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

// Session holds the loaded preferences and is the only writer of the file. An empty path
// keeps preferences in memory.
type Session struct {
	mu      sync.RWMutex
	path    string
	current Preferences
	logger  *logrus.Entry
}

func Open(path string, logger *logrus.Entry) (*Session, error) {
	if logger == nil {
		logger = logrus.NewEntry(logrus.StandardLogger())
	}
	p := Default()
	if path != "" {
		loaded, err := Load(path)
		if err != nil {
			return nil, err
		}
		p = loaded
	}
	return &Session{path: path, current: p, logger: logger}, nil
}

func (s *Session) Get() Preferences {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current
}

// Update validates and persists p, then makes it current.
func (s *Session) Update(p Preferences) error {
	if err := p.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.path != "" {
		if err := Save(s.path, p); err != nil {
			return err
		}
	}
	s.current = p
	s.logger.WithFields(logrus.Fields{"mode": p.Mode, "auction_filter": p.AuctionFilter}).Info("preferences updated")
	return nil
}

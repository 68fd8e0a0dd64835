package provision

import (
	"bufio"
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/platinummonkey/fedgate/pkg/observability"
	"github.com/platinummonkey/fedgate/pkg/wsfed"
)

// CasingPolicy normalizes projected claim values.
type CasingPolicy string

const (
	// CasingNone leaves values untouched.
	CasingNone CasingPolicy = ""
	// CasingUpper upper-cases every projected value.
	CasingUpper CasingPolicy = "CAPITAL"
	// CasingTitle title-cases every projected value.
	CasingTitle CasingPolicy = "Title"
)

var titleCaser = cases.Title(language.Und)

func applyCasing(policy CasingPolicy, value string) string {
	switch policy {
	case CasingUpper:
		return strings.ToUpper(value)
	case CasingTitle:
		return titleCaser.String(value)
	}
	return value
}

// FieldMapping translates claim types to local field names. The zero value
// is unusable; build one with ParseMapping. Reads are safe for concurrent
// use; Reload swaps the table atomically.
type FieldMapping struct {
	mu      sync.RWMutex
	byClaim map[string]string // claim type -> local field
	casing  CasingPolicy
}

// ParseMapping builds a FieldMapping from configuration text, one
// "localField=claimType" assignment per line. Blank lines and lines starting
// with '#' are skipped.
func ParseMapping(text string, casing CasingPolicy) (*FieldMapping, error) {
	byClaim, err := parseMappingText(text)
	if err != nil {
		return nil, err
	}
	return &FieldMapping{byClaim: byClaim, casing: casing}, nil
}

func parseMappingText(text string) (map[string]string, error) {
	byClaim := make(map[string]string)
	scanner := bufio.NewScanner(strings.NewReader(text))
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		field, claimType, ok := strings.Cut(line, "=")
		field = strings.TrimSpace(field)
		claimType = strings.TrimSpace(claimType)
		if !ok || field == "" || claimType == "" {
			return nil, fmt.Errorf("invalid mapping on line %d: %q", lineNo, line)
		}
		if existing, dup := byClaim[claimType]; dup {
			return nil, fmt.Errorf("claim type %q mapped to both %q and %q", claimType, existing, field)
		}
		byClaim[claimType] = field
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read mapping text: %w", err)
	}
	return byClaim, nil
}

// LoadMappingFile reads and parses a mapping file.
func LoadMappingFile(path string, casing CasingPolicy) (*FieldMapping, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read mapping file: %w", err)
	}
	m, err := ParseMapping(string(data), casing)
	if err != nil {
		return nil, fmt.Errorf("failed to parse mapping file %s: %w", path, err)
	}
	return m, nil
}

// Reload replaces the mapping table from new text. On parse failure the
// previous table stays in effect.
func (m *FieldMapping) Reload(text string) error {
	byClaim, err := parseMappingText(text)
	if err != nil {
		return err
	}
	m.mu.Lock()
	m.byClaim = byClaim
	m.mu.Unlock()
	return nil
}

// Field returns the local field mapped to claimType, if any.
func (m *FieldMapping) Field(claimType string) (string, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	field, ok := m.byClaim[claimType]
	return field, ok
}

// Len reports the number of mapped claim types.
func (m *FieldMapping) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.byClaim)
}

// Project reduces claims to local fields. Claims without a mapping are
// dropped. When several claims share a mapped type the last one wins. The
// casing policy is applied to every projected value.
func (m *FieldMapping) Project(claims []wsfed.Claim) map[string]string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	fields := make(map[string]string)
	for _, claim := range claims {
		field, ok := m.byClaim[claim.Type]
		if !ok {
			continue
		}
		fields[field] = applyCasing(m.casing, claim.Value)
	}
	return fields
}

// WatchFile reloads the mapping whenever path is rewritten. It returns a
// stop function releasing the watcher. Reload failures keep the previous
// mapping and are logged.
func (m *FieldMapping) WatchFile(path string, logger *observability.Logger) (func() error, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create mapping watcher: %w", err)
	}
	if err := watcher.Add(path); err != nil {
		watcher.Close()
		return nil, fmt.Errorf("failed to watch mapping file %s: %w", path, err)
	}

	go func() {
		defer observability.RecoverPanic(logger, "mapping watcher")
		for {
			select {
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
					continue
				}
				data, err := os.ReadFile(path)
				if err != nil {
					logger.WithError(err).WithField("path", path).Warn("failed to re-read mapping file")
					continue
				}
				if err := m.Reload(string(data)); err != nil {
					logger.WithError(err).WithField("path", path).Warn("mapping file reload rejected, keeping previous mapping")
					continue
				}
				logger.WithField("path", path).WithField("mapped_claims", m.Len()).Info("mapping file reloaded")
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				logger.WithError(err).Warn("mapping watcher error")
			}
		}
	}()

	return watcher.Close, nil
}

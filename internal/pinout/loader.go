package pinout

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sync"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

var ErrNoSource = errors.New("no pinout path configured")

// FileSource loads a pinout from a YAML file and validates it against the
// embedded schema. The last good interpretation is kept so a broken edit of
// the file does not wipe names that were already applied.
type FileSource struct {
	path      string
	validator *Validator
	logger    *zap.Logger

	mu   sync.RWMutex
	last *Interpretation
}

func NewFileSource(path string, logger *zap.Logger) (*FileSource, error) {
	validator, err := NewValidator()
	if err != nil {
		return nil, fmt.Errorf("failed to create validator: %w", err)
	}

	return &FileSource{
		path:      path,
		validator: validator,
		logger:    logger,
	}, nil
}

func (s *FileSource) Path() string {
	return s.path
}

func (s *FileSource) Load(ctx context.Context) (*Interpretation, error) {
	if s.path == "" {
		return nil, ErrNoSource
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	data, err := os.ReadFile(s.path)
	if err != nil {
		return nil, fmt.Errorf("failed to read pinout %s: %w", s.path, err)
	}

	interp, err := s.Parse(data)
	if err != nil {
		return nil, fmt.Errorf("pinout %s: %w", s.path, err)
	}

	s.mu.Lock()
	s.last = interp
	s.mu.Unlock()

	s.logger.Info("Pinout loaded",
		zap.String("path", s.path),
		zap.Int("groups", len(interp.Groups)),
		zap.Int("expected_connections", len(interp.ExpectedConnections)))

	return interp, nil
}

// Last returns the most recent successfully loaded interpretation, or nil.
func (s *FileSource) Last() *Interpretation {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.last
}

// Parse validates a YAML pinout document and decodes it.
func (s *FileSource) Parse(data []byte) (*Interpretation, error) {
	var raw interface{}
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("invalid YAML: %w", err)
	}
	if raw == nil {
		return &Interpretation{}, nil
	}

	doc, err := json.Marshal(raw)
	if err != nil {
		return nil, fmt.Errorf("failed to convert pinout: %w", err)
	}

	if err := s.validator.Validate(doc); err != nil {
		return nil, err
	}

	var interp Interpretation
	if err := json.Unmarshal(doc, &interp); err != nil {
		return nil, fmt.Errorf("failed to unmarshal pinout: %w", err)
	}

	return &interp, nil
}

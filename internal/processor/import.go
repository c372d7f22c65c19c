package processor

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"immotech/server/config"
	"immotech/server/internal/models"
	"immotech/server/internal/queue"
)

// ImportResult summarises a bulk import.
type ImportResult struct {
	Read     int      `json:"read"`
	Imported int      `json:"imported"`
	Skipped  int      `json:"skipped"`
	Failed   int      `json:"failed"`
	Problems []string `json:"problems,omitempty"`
}

// Importer streams listings from a JSON array into the store in batches.
type Importer struct {
	writer BatchWriter
	config *config.Config
	logger *logrus.Logger
	now    func() time.Time
}

func NewImporter(writer BatchWriter, cfg *config.Config, logger *logrus.Logger) *Importer {
	if logger == nil {
		logger = logrus.New()
	}
	return &Importer{
		writer: writer,
		config: cfg,
		logger: logger,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// Import reads r and upserts every valid listing. Listings without an owner
// are attributed to ownerID. Invalid entries are skipped and reported.
func (im *Importer) Import(ctx context.Context, r io.Reader, ownerID string) (*ImportResult, error) {
	batchSize := im.config.BatchProcessing.MaxBatchSize
	if batchSize <= 0 {
		batchSize = 100
	}

	q := queue.NewPropertyQueue(im.config.BatchProcessing.ProcessorCount*2, im.logger)
	proc := NewBatchProcessor(im.writer, q, im.config, im.logger)
	proc.Start(ctx)

	result := &ImportResult{}
	readErr := im.read(ctx, r, ownerID, batchSize, q, result)
	q.Close()

	written, writeErr := proc.Wait()
	result.Imported = written
	result.Failed = result.Read - result.Skipped - written
	if writeErr != nil {
		result.Problems = append(result.Problems, writeErr.Error())
	}

	im.logger.WithFields(logrus.Fields{
		"read":     result.Read,
		"imported": result.Imported,
		"skipped":  result.Skipped,
		"failed":   result.Failed,
	}).Info("Property import finished")

	if readErr != nil {
		return result, readErr
	}
	return result, nil
}

func (im *Importer) read(ctx context.Context, r io.Reader, ownerID string, batchSize int, q *queue.PropertyQueue, result *ImportResult) error {
	dec := json.NewDecoder(r)
	tok, err := dec.Token()
	if err != nil {
		return fmt.Errorf("%w: reading import: %v", models.ErrInvalidInput, err)
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '[' {
		return fmt.Errorf("%w: import must be a JSON array of properties", models.ErrInvalidInput)
	}

	batch := make([]*models.Property, 0, batchSize)
	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		if err := q.PushWait(ctx, batch); err != nil {
			return fmt.Errorf("failed to queue batch: %w", err)
		}
		batch = make([]*models.Property, 0, batchSize)
		return nil
	}

	for dec.More() {
		var p models.Property
		if err := dec.Decode(&p); err != nil {
			return fmt.Errorf("%w: property %d: %v", models.ErrInvalidInput, result.Read+1, err)
		}
		result.Read++

		if err := im.normalize(&p, ownerID); err != nil {
			result.Skipped++
			result.Problems = append(result.Problems, fmt.Sprintf("property %d: %v", result.Read, err))
			continue
		}

		batch = append(batch, &p)
		if len(batch) >= batchSize {
			if err := flush(); err != nil {
				return err
			}
		}
	}
	return flush()
}

// normalize fills defaults and rejects listings that cannot be stored.
func (im *Importer) normalize(p *models.Property, ownerID string) error {
	if p.ID == "" {
		p.ID = models.NewID()
	} else {
		id, err := models.ParseID(p.ID)
		if err != nil {
			return err
		}
		p.ID = id
	}

	if p.CreatedBy == "" {
		p.CreatedBy = ownerID
	}
	if p.CreatedBy == "" {
		return fmt.Errorf("%w: no owner", models.ErrInvalidInput)
	}
	owner, err := models.ParseID(p.CreatedBy)
	if err != nil {
		return err
	}
	p.CreatedBy = owner

	p.Type = strings.ToLower(strings.TrimSpace(p.Type))
	p.Location.City = config.NormalizeCity(p.Location.City)

	switch p.TransactionType {
	case "":
		p.TransactionType = models.TypeSale
	case models.TypeSale, models.TypeRental:
	default:
		return fmt.Errorf("%w: unknown transaction type %q", models.ErrInvalidInput, p.TransactionType)
	}

	switch p.Status {
	case "":
		p.Status = models.StatusPending
	case models.StatusPending, models.StatusAvailable, models.StatusSold, models.StatusRented:
	default:
		return fmt.Errorf("%w: unknown status %q", models.ErrInvalidInput, p.Status)
	}

	if p.CreatedAt == nil {
		now := im.now()
		p.CreatedAt = &now
	}
	return p.Validate()
}

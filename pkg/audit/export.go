package audit

import (
	"archive/zip"
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

var (
	// ErrInvalidTimeRange rejects windows whose start is not before the end.
	ErrInvalidTimeRange = errors.New("audit: start_time must be before end_time")
	// ErrTrailNotConfigured is returned when export is invoked without a backing trail.
	ErrTrailNotConfigured = errors.New("audit: trail not configured (fail-closed)")
	// ErrArchiveNotConfigured is returned when archival is requested without a store.
	ErrArchiveNotConfigured = errors.New("audit: archive store not configured")
)

// ExportRequest bounds the window of events to pack.
type ExportRequest struct {
	StartTime time.Time `json:"start_time"`
	EndTime   time.Time `json:"end_time"`
}

// ArchiveRef points at an archived evidence pack.
type ArchiveRef struct {
	Hash     string `json:"hash"`
	Checksum string `json:"checksum"`
}

// packManifest describes the contents of an evidence pack.
type packManifest struct {
	GeneratedAt time.Time  `json:"generated_at"`
	EventCount  int        `json:"event_count"`
	Period      packPeriod `json:"period"`
}

type packPeriod struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// Exporter builds zip evidence packs from the trail and optionally
// pushes them to an archive store.
type Exporter struct {
	trail   *Trail
	archive ArchiveStore
}

func NewExporter(t *Trail) *Exporter {
	return &Exporter{trail: t}
}

// WithArchive attaches an archive store for Archive calls.
func (e *Exporter) WithArchive(a ArchiveStore) *Exporter {
	e.archive = a
	return e
}

// GeneratePack creates a zip containing the events in range plus a
// manifest, and returns the bytes with their sha256 checksum.
func (e *Exporter) GeneratePack(ctx context.Context, req ExportRequest) ([]byte, string, error) {
	_ = ctx
	if !req.StartTime.IsZero() && !req.EndTime.IsZero() && req.StartTime.After(req.EndTime) {
		return nil, "", ErrInvalidTimeRange
	}
	if e.trail == nil {
		return nil, "", ErrTrailNotConfigured
	}

	events := e.trail.Query(req.StartTime, req.EndTime)

	eventsJSON, err := json.MarshalIndent(events, "", "  ")
	if err != nil {
		return nil, "", err
	}
	manifestJSON, err := json.MarshalIndent(packManifest{
		GeneratedAt: time.Now().UTC(),
		EventCount:  len(events),
		Period:      packPeriod{Start: req.StartTime, End: req.EndTime},
	}, "", "  ")
	if err != nil {
		return nil, "", fmt.Errorf("audit: marshal manifest: %w", err)
	}
	readme := fmt.Sprintf("Sponsorship audit evidence pack\nGenerated at %s\n", time.Now().UTC())

	buf := new(bytes.Buffer)
	w := zip.NewWriter(buf)
	for _, entry := range []struct {
		name string
		data []byte
	}{
		{"events.json", eventsJSON},
		{"manifest.json", manifestJSON},
		{"README.txt", []byte(readme)},
	} {
		f, err := w.Create(entry.name)
		if err != nil {
			return nil, "", err
		}
		if _, err := f.Write(entry.data); err != nil {
			return nil, "", err
		}
	}
	if err := w.Close(); err != nil {
		return nil, "", err
	}

	pack := buf.Bytes()
	sum := sha256.Sum256(pack)
	return pack, hex.EncodeToString(sum[:]), nil
}

// Archive generates a pack and stores it in the archive, returning the
// content-addressed reference.
func (e *Exporter) Archive(ctx context.Context, req ExportRequest) (*ArchiveRef, error) {
	if e.archive == nil {
		return nil, ErrArchiveNotConfigured
	}

	pack, checksum, err := e.GeneratePack(ctx, req)
	if err != nil {
		return nil, err
	}

	hash, err := e.archive.Store(ctx, pack)
	if err != nil {
		return nil, fmt.Errorf("audit: archive store failed: %w", err)
	}
	return &ArchiveRef{Hash: hash, Checksum: checksum}, nil
}

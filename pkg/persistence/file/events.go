package file

import (
	"context"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/dukex/jobflow/pkg/models"
	"github.com/dukex/jobflow/pkg/persistence"
)

func (fp *Persistence) historyPath(instanceID string) string {
	return filepath.Join(fp.root, "histories", url.PathEscape(instanceID)+".json")
}

func (fp *Persistence) readHistory(instanceID string) ([]models.Event, error) {
	var events []models.Event

	_, err := readJSON(fp.historyPath(instanceID), &events)
	if err != nil {
		return nil, persistence.NewInstanceError("Read", instanceID, err)
	}

	return events, nil
}

// Append commits events to the instance history file when expectedVersion
// matches the number of events already stored.
func (fp *Persistence) Append(_ context.Context, instanceID string, expectedVersion int64, events ...models.Event) (int64, error) {
	if len(events) == 0 {
		return expectedVersion, nil
	}

	fp.mu.Lock()
	defer fp.mu.Unlock()

	history, err := fp.readHistory(instanceID)
	if err != nil {
		return 0, err
	}

	current := int64(len(history))
	if current != expectedVersion {
		return 0, persistence.NewConcurrentModificationError(instanceID, expectedVersion, current)
	}

	for i, event := range events {
		event.SequenceNumber = current + int64(i) + 1
		history = append(history, event)
	}

	err = writeJSON(fp.historyPath(instanceID), history)
	if err != nil {
		return 0, persistence.NewInstanceError("Append", instanceID, err)
	}

	return int64(len(history)), nil
}

// Read returns the full history of an instance.
func (fp *Persistence) Read(ctx context.Context, instanceID string) ([]models.Event, error) {
	return fp.ReadFrom(ctx, instanceID, 0)
}

// ReadFrom returns the events committed after afterSeq.
func (fp *Persistence) ReadFrom(_ context.Context, instanceID string, afterSeq int64) ([]models.Event, error) {
	fp.mu.Lock()
	defer fp.mu.Unlock()

	history, err := fp.readHistory(instanceID)
	if err != nil {
		return nil, err
	}

	if afterSeq >= int64(len(history)) {
		return []models.Event{}, nil
	}

	if afterSeq < 0 {
		afterSeq = 0
	}

	return history[afterSeq:], nil
}

// Instances lists every instance with a history file.
func (fp *Persistence) Instances(_ context.Context) ([]string, error) {
	fp.mu.Lock()
	defer fp.mu.Unlock()

	root := os.DirFS(filepath.Join(fp.root, "histories"))

	jsonFiles, err := fs.Glob(root, "*.json")
	if err != nil {
		return nil, fmt.Errorf("failed to list history files: %w", err)
	}

	ids := make([]string, 0, len(jsonFiles))

	for _, file := range jsonFiles {
		id, err := url.PathUnescape(strings.TrimSuffix(file, ".json"))
		if err != nil {
			return nil, fmt.Errorf("invalid history file name %s: %w", file, err)
		}

		ids = append(ids, id)
	}

	sort.Strings(ids)

	return ids, nil
}

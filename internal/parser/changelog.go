package parser

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/adloop/signage-agent-go/internal/models"
)

// ErrEmptyChangelog is returned when the changelog document carries no
// entries. The poller treats it as nothing published yet.
var ErrEmptyChangelog = errors.New("changelog has no entries")

type changelogEntry struct {
	ID          flexID    `json:"id"`
	DateCreated time.Time `json:"date_created"`
	DateUpdated time.Time `json:"date_updated"`
	Log         string    `json:"log"`
}

// ParseChangelog extracts the newest entry from a changelog document of the
// form {data:[{id, date_created, date_updated, log}]}. The remote API sorts
// entries newest-first, so only the head is consulted.
func ParseChangelog(data []byte) (models.ChangelogMarker, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return models.ChangelogMarker{}, &FormatError{Doc: "changelog"}
	}

	var envelope struct {
		Data []changelogEntry `json:"data"`
	}
	if err := json.Unmarshal(trimmed, &envelope); err != nil {
		return models.ChangelogMarker{}, &FormatError{Doc: "changelog", Err: err}
	}
	if envelope.Data == nil {
		return models.ChangelogMarker{}, &FormatError{Doc: "changelog", Err: fmt.Errorf("missing data array")}
	}
	if len(envelope.Data) == 0 {
		return models.ChangelogMarker{}, ErrEmptyChangelog
	}

	head := envelope.Data[0]
	if head.ID == "" {
		return models.ChangelogMarker{}, &FormatError{Doc: "changelog", Err: fmt.Errorf("entry missing id")}
	}

	return models.ChangelogMarker{
		ID:          string(head.ID),
		DateCreated: head.DateCreated,
	}, nil
}

package history

import (
	"fmt"
	"time"
)

// DocumentSchemaVersion is the version of the exported history document
// layout, matching docs/schema/history-v1.schema.json.
const DocumentSchemaVersion = 1

// Document is the serializable form of a tracked file's history, used by
// the export command. It carries no payload bytes or snapshots, only the
// commit graph and star set.
type Document struct {
	SchemaVersion int              `json:"schema_version"`
	FileKey       string           `json:"file_key"`
	ExportedAt    time.Time        `json:"exported_at"`
	Commits       []DocumentCommit `json:"commits"`
	StarredIDs    []string         `json:"starred_ids"`
}

// DocumentCommit is one commit in an exported history document.
type DocumentCommit struct {
	ID        string    `json:"id"`
	Message   string    `json:"message"`
	CreatedAt time.Time `json:"created_at"`
	ParentID  string    `json:"parent_id,omitempty"`
	Starred   bool      `json:"starred"`

	// Degraded marks a commit recorded without payload bytes.
	Degraded bool `json:"degraded"`

	// HasSnapshot reports whether a decoded scene is stored alongside the
	// commit, the fallback material for degraded restores.
	HasSnapshot bool `json:"has_snapshot"`

	BlobSize int64  `json:"blob_size,omitempty"`
	BlobSum  string `json:"blob_sum,omitempty"`

	RemoteObjectVersion string `json:"remote_object_version,omitempty"`
	RemoteCommitID      string `json:"remote_commit_id,omitempty"`
}

// Export builds the history document for a tracked file.
func (l *Log) Export(fileKey string) (*Document, error) {
	commits, err := l.Load(fileKey)
	if err != nil {
		return nil, fmt.Errorf("export history: %w", err)
	}
	starred, err := l.StarredIDs(fileKey)
	if err != nil {
		return nil, fmt.Errorf("export history: %w", err)
	}

	doc := &Document{
		SchemaVersion: DocumentSchemaVersion,
		FileKey:       fileKey,
		ExportedAt:    time.Now().UTC(),
		Commits:       make([]DocumentCommit, 0, len(commits)),
		StarredIDs:    starred,
	}
	if doc.StarredIDs == nil {
		doc.StarredIDs = []string{}
	}

	for _, c := range commits {
		dc := DocumentCommit{
			ID:          c.ID,
			Message:     c.Message,
			CreatedAt:   c.CreatedAt,
			ParentID:    c.ParentID,
			Starred:     c.Starred,
			Degraded:    c.Degraded(),
			HasSnapshot: c.HasSnapshot,
		}
		if c.Blob != nil {
			dc.BlobSize = c.Blob.Size
			dc.BlobSum = fmt.Sprintf("%016x", c.Blob.Sum)
		}
		if c.Remote != nil {
			dc.RemoteObjectVersion = c.Remote.ObjectVersion
			dc.RemoteCommitID = c.Remote.CommitID
		}
		doc.Commits = append(doc.Commits, dc)
	}

	return doc, nil
}

package storage

import (
	"encoding/json"
	"fmt"
)

// Folder is the logical record stored in the folders table. The JSON tags are
// the external API field names; the stored doc column is exactly this
// serialization, so decoding a row is a straight unmarshal.
type Folder struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Type      string `json:"type"`
	CreatedAt string `json:"createdAt"`
	UserID    string `json:"userId"`
	Email     string `json:"email"`
	Version   int64  `json:"version"`
}

// ChatThread is the logical record stored in the chat_threads table.
type ChatThread struct {
	ID          string  `json:"id"`
	Name        string  `json:"name"`
	Prompt      string  `json:"prompt"`
	Temperature float64 `json:"temperature"`
	FolderID    string  `json:"folderId"`
	IsShared    bool    `json:"isShared"`
	CreatedAt   string  `json:"createdAt"`
	SharedAt    *string `json:"sharedAt"`
	UserID      string  `json:"userId"`
	Email       string  `json:"email"`
	Version     int64   `json:"version"`
}

type FolderCreate struct {
	Name string
	Type string
}

// FolderUpdate is a field-presence patch: nil means "leave unchanged", a
// non-nil pointer overwrites even when it points at a zero value. Version,
// when set, is an optimistic precondition checked against the stored record.
type FolderUpdate struct {
	Name    *string
	Type    *string
	Version *int64
}

type ChatThreadCreate struct {
	Name        string
	Prompt      string
	Temperature float64
	FolderID    string
	IsShared    bool
	SharedAt    *string
}

type ChatThreadUpdate struct {
	Name        *string
	Prompt      *string
	Temperature *float64
	FolderID    *string
	IsShared    *bool
	SharedAt    *string
	Version     *int64
}

func (f Folder) applyPatch(dto FolderUpdate) Folder {
	if dto.Name != nil {
		f.Name = *dto.Name
	}
	if dto.Type != nil {
		f.Type = *dto.Type
	}
	return f
}

func (t ChatThread) applyPatch(dto ChatThreadUpdate) ChatThread {
	if dto.Name != nil {
		t.Name = *dto.Name
	}
	if dto.Prompt != nil {
		t.Prompt = *dto.Prompt
	}
	if dto.Temperature != nil {
		t.Temperature = *dto.Temperature
	}
	if dto.FolderID != nil {
		t.FolderID = *dto.FolderID
	}
	if dto.IsShared != nil {
		t.IsShared = *dto.IsShared
	}
	if dto.SharedAt != nil {
		t.SharedAt = dto.SharedAt
	}
	return t
}

func encodeDoc(record any) (string, error) {
	raw, err := json.Marshal(record)
	if err != nil {
		return "", fmt.Errorf("encode doc: %w", err)
	}
	return string(raw), nil
}

// decodeDoc fails with a plain wrapped error on malformed stored text; a
// corrupt doc is an unrecoverable storage fault, never ErrNotFound.
func decodeDoc(doc string, record any) error {
	if err := json.Unmarshal([]byte(doc), record); err != nil {
		return fmt.Errorf("decode doc: %w", err)
	}
	return nil
}

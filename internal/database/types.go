package database

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"time"
)

// scanJSON decodes a text/blob column into dst. SQLite hands back strings,
// Postgres hands back bytes.
func scanJSON(value interface{}, dst interface{}) error {
	switch v := value.(type) {
	case nil:
		return nil
	case []byte:
		if len(v) == 0 {
			return nil
		}
		return json.Unmarshal(v, dst)
	case string:
		if v == "" {
			return nil
		}
		return json.Unmarshal([]byte(v), dst)
	default:
		return errors.New("type assertion to []byte or string failed")
	}
}

func valueJSON(v interface{}) (driver.Value, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

// StringList is an ordered list of strings stored as a JSON array.
// Set-like helpers keep insertion order and drop repeats.
type StringList []string

// Scan implements the sql.Scanner interface
func (l *StringList) Scan(value interface{}) error {
	*l = StringList{}
	return scanJSON(value, (*[]string)(l))
}

// Value implements the driver.Valuer interface
func (l StringList) Value() (driver.Value, error) {
	if l == nil {
		return "[]", nil
	}
	return valueJSON([]string(l))
}

// Contains reports whether s is in the list.
func (l StringList) Contains(s string) bool {
	for _, v := range l {
		if v == s {
			return true
		}
	}
	return false
}

// Union returns l followed by every element of others not already present.
// Empty strings are dropped.
func (l StringList) Union(others ...[]string) StringList {
	seen := make(map[string]struct{}, len(l))
	out := make(StringList, 0, len(l))
	add := func(s string) {
		if s == "" {
			return
		}
		if _, ok := seen[s]; ok {
			return
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	for _, s := range l {
		add(s)
	}
	for _, other := range others {
		for _, s := range other {
			add(s)
		}
	}
	return out
}

// Without returns a copy of l with every element of drop removed.
func (l StringList) Without(drop ...string) StringList {
	out := make(StringList, 0, len(l))
	for _, s := range l {
		skip := false
		for _, d := range drop {
			if s == d {
				skip = true
				break
			}
		}
		if !skip {
			out = append(out, s)
		}
	}
	return out
}

// Comment is a single entry in an incident's discussion thread.
type Comment struct {
	ID        string    `json:"id"`
	AuthorID  string    `json:"author_id"`
	Text      string    `json:"text"`
	Internal  bool      `json:"internal"`
	CreatedAt time.Time `json:"created_at"`
}

// CommentList is stored as a JSON array
type CommentList []Comment

// Scan implements the sql.Scanner interface
func (l *CommentList) Scan(value interface{}) error {
	*l = CommentList{}
	return scanJSON(value, (*[]Comment)(l))
}

// Value implements the driver.Valuer interface
func (l CommentList) Value() (driver.Value, error) {
	if l == nil {
		return "[]", nil
	}
	return valueJSON([]Comment(l))
}

// Attachment is a file uploaded alongside an incident report.
type Attachment struct {
	FileName string `json:"file_name"`
	URL      string `json:"url"`
	Type     string `json:"type"`
}

// AttachmentList is stored as a JSON array
type AttachmentList []Attachment

// Scan implements the sql.Scanner interface
func (l *AttachmentList) Scan(value interface{}) error {
	*l = AttachmentList{}
	return scanJSON(value, (*[]Attachment)(l))
}

// Value implements the driver.Valuer interface
func (l AttachmentList) Value() (driver.Value, error) {
	if l == nil {
		return "[]", nil
	}
	return valueJSON([]Attachment(l))
}

// JSONB is a free-form JSON object column
type JSONB map[string]interface{}

// Scan implements the sql.Scanner interface
func (j *JSONB) Scan(value interface{}) error {
	*j = make(map[string]interface{})
	return scanJSON(value, (*map[string]interface{})(j))
}

// Value implements the driver.Valuer interface
func (j JSONB) Value() (driver.Value, error) {
	if j == nil {
		return nil, nil
	}
	return valueJSON(map[string]interface{}(j))
}

package vectordb

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"strings"

	"github.com/google/uuid"
)

// Kind selects one of the three training collections.
type Kind string

const (
	KindSQL           Kind = "sql"
	KindDDL           Kind = "ddl"
	KindDocumentation Kind = "documentation"
)

// Kinds lists every collection in assembly order.
var Kinds = []Kind{KindSQL, KindDDL, KindDocumentation}

// ParseKind accepts the collection names used by the CLI and HTTP API.
func ParseKind(s string) (Kind, bool) {
	switch Kind(strings.ToLower(strings.TrimSpace(s))) {
	case KindSQL:
		return KindSQL, true
	case KindDDL:
		return KindDDL, true
	case KindDocumentation:
		return KindDocumentation, true
	}
	return "", false
}

// Suffix is appended to the content hash to form an item id.
func (k Kind) Suffix() string {
	switch k {
	case KindSQL:
		return "-sql"
	case KindDDL:
		return "-ddl"
	case KindDocumentation:
		return "-doc"
	}
	return ""
}

// KindOfID recovers the collection an id belongs to from its suffix.
func KindOfID(id string) (Kind, bool) {
	for _, k := range Kinds {
		if strings.HasSuffix(id, k.Suffix()) {
			return k, true
		}
	}
	return "", false
}

// TrainingItem is one stored piece of training data. For SQL items Content
// holds the SQL and Question the question it answers.
type TrainingItem struct {
	ID       string `json:"id"`
	Kind     Kind   `json:"training_data_type"`
	Question string `json:"question,omitempty"`
	Content  string `json:"content"`
}

// QuestionSQL is the document stored in the SQL collection.
type QuestionSQL struct {
	Question string `json:"question"`
	SQL      string `json:"sql"`
}

// EncodeQuestionSQL renders a pair as the JSON document that gets embedded.
func EncodeQuestionSQL(question, sql string) string {
	b, _ := json.Marshal(QuestionSQL{Question: question, SQL: sql})
	return string(b)
}

// DecodeQuestionSQL parses a SQL collection document.
func DecodeQuestionSQL(content string) (QuestionSQL, error) {
	var qs QuestionSQL
	err := json.Unmarshal([]byte(content), &qs)
	return qs, err
}

// NewID derives the deterministic id for content stored under kind: a UUIDv5
// of the content's SHA-256 digest, plus the kind suffix.
func NewID(kind Kind, content string) string {
	sum := sha256.Sum256([]byte(content))
	return uuid.NewSHA1(uuid.Nil, []byte(hex.EncodeToString(sum[:]))).String() + kind.Suffix()
}

// RetrievalResult is one nearest-neighbour hit. Lower distance is closer.
type RetrievalResult struct {
	ID       string
	Content  string
	Distance float32
}

package rag

import (
	"fmt"
	"sort"
)

// Status marca se a notícia ainda vale para as respostas.
// Tipado p/ evitar string solta no código.
type Status string

const (
	StatusCurrent    Status = "vigente"
	StatusSuperseded Status = "superada"
)

func (s Status) Valid() bool {
	return s == StatusCurrent || s == StatusSuperseded
}

// Metadata keys stored next to every vector. Filters may only use these.
const (
	KeyDate        = "fecha"
	KeyCategory    = "categoria"
	KeySource      = "fuente"
	KeyCompetition = "competicion"
	KeyStatus      = "estado"
)

var metadataKeys = map[string]bool{
	KeyDate:        true,
	KeyCategory:    true,
	KeySource:      true,
	KeyCompetition: true,
	KeyStatus:      true,
}

// NewsDocument
// Uma notícia do feed do clube, antes de virar vetor.
type NewsDocument struct {
	ID          string `json:"id"`
	Title       string `json:"titulo"`
	Body        string `json:"contenido"`
	Date        string `json:"fecha"`
	Category    string `json:"categoria"`
	Source      string `json:"fuente"`
	Competition string `json:"competicion"`
}

// Text is the exact string that gets embedded and stored for the document.
func (d NewsDocument) Text() string {
	return d.Title + ". " + d.Body
}

// Metadata returns the stored metadata with the status assigned at insertion.
func (d NewsDocument) Metadata() Metadata {
	return Metadata{
		Date:        d.Date,
		Category:    d.Category,
		Source:      d.Source,
		Competition: d.Competition,
		Status:      StatusCurrent,
	}
}

type Metadata struct {
	Date        string `json:"fecha"`
	Category    string `json:"categoria"`
	Source      string `json:"fuente"`
	Competition string `json:"competicion"`
	Status      Status `json:"estado"`
}

// Get returns the value for one of the metadata keys.
func (m Metadata) Get(key string) (string, bool) {
	switch key {
	case KeyDate:
		return m.Date, true
	case KeyCategory:
		return m.Category, true
	case KeySource:
		return m.Source, true
	case KeyCompetition:
		return m.Competition, true
	case KeyStatus:
		return string(m.Status), true
	default:
		return "", false
	}
}

// SearchHit
// Um resultado da busca vetorial; não é persistido.
type SearchHit struct {
	ID       string   `json:"id"`
	Text     string   `json:"text"`
	Metadata Metadata `json:"metadata"`
	Distance float64  `json:"distance"`
}

// Filter is an equality expression over metadata keys; all conditions must hold.
type Filter map[string]string

// CurrentOnly is the filter the orchestrator applies to every query.
func CurrentOnly() Filter {
	return Filter{KeyStatus: string(StatusCurrent)}
}

// Validate rejects keys that are not stored metadata.
func (f Filter) Validate() error {
	for k := range f {
		if !metadataKeys[k] {
			return fmt.Errorf("%w: unknown key %q", ErrInvalidFilter, k)
		}
	}
	return nil
}

// Matches reports whether m satisfies every condition of the filter.
func (f Filter) Matches(m Metadata) bool {
	for k, want := range f {
		got, ok := m.Get(k)
		if !ok || got != want {
			return false
		}
	}
	return true
}

// Keys returns the filter keys in a stable order, used by SQL backends.
func (f Filter) Keys() []string {
	keys := make([]string, 0, len(f))
	for k := range f {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

type Stats struct {
	Count int    `json:"count"`
	Name  string `json:"name"`
}

// AskRequest
// Payload da API /ask.
type AskRequest struct {
	Question string `json:"question"`
	TopK     int    `json:"topK,omitempty"` // opcional; default interno
}

// SourceRef
// Metadados das notícias usadas para montar a resposta.
type SourceRef struct {
	ID          string  `json:"id"`
	Date        string  `json:"fecha"`
	Category    string  `json:"categoria"`
	Source      string  `json:"fuente"`
	Competition string  `json:"competicion"`
	Distance    float64 `json:"distance"`
	Snippet     string  `json:"snippet"`
}

// AskResponse
// Resposta da API: texto + fontes.
type AskResponse struct {
	Answer  string      `json:"answer"`
	Failed  bool        `json:"failed"`
	Lang    string      `json:"lang"`
	Sources []SourceRef `json:"sources"`
}

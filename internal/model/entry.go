package model

// Операции журнала файлового хранилища.
const (
	OpInsert = "insert"
	OpVisit  = "visit"
	OpDelete = "delete"
	OpSeq    = "seq"
)

// Entry представляет одну строку журнала в файле.
type Entry struct {
	Op    string       `json:"op"`
	Link  *ShortLink   `json:"link,omitempty"`
	Code  string       `json:"code,omitempty"`
	Visit *VisitDetail `json:"visit,omitempty"`
	Name  string       `json:"name,omitempty"`
	Seq   int64        `json:"seq,omitempty"`
}

package entity

import (
	"encoding/json"
	"time"
)

// HistoryEntry registro inmutable de una acción sobre la prefactura.
type HistoryEntry struct {
	Date    time.Time `json:"date"`
	Action  string    `json:"action"`
	Actor   string    `json:"actor"`
	Details string    `json:"details,omitempty"`
}

// History bitácora de solo-anexado, estrictamente ordenada en el tiempo.
// Las entradas existentes no se exponen por referencia y no se modifican.
type History struct {
	entries []HistoryEntry
}

// NewHistory reconstruye una bitácora persistida (lectura desde repositorio).
func NewHistory(entries []HistoryEntry) History {
	var h History
	for _, e := range entries {
		h.Append(e)
	}
	return h
}

// Append agrega una entrada. Si la fecha no es posterior a la última se
// desplaza un microsegundo para mantener el orden estricto (resolución de PostgreSQL).
func (h *History) Append(e HistoryEntry) HistoryEntry {
	if n := len(h.entries); n > 0 {
		last := h.entries[n-1].Date
		if !e.Date.After(last) {
			e.Date = last.Add(time.Microsecond)
		}
	}
	h.entries = append(h.entries, e)
	return e
}

// Entries devuelve una copia de las entradas.
func (h History) Entries() []HistoryEntry {
	return append([]HistoryEntry(nil), h.entries...)
}

func (h History) Len() int { return len(h.entries) }

// Last devuelve la última entrada y false si la bitácora está vacía.
func (h History) Last() (HistoryEntry, bool) {
	if len(h.entries) == 0 {
		return HistoryEntry{}, false
	}
	return h.entries[len(h.entries)-1], true
}

func (h History) clone() History {
	if h.entries == nil {
		return History{}
	}
	return History{entries: append(make([]HistoryEntry, 0, len(h.entries)), h.entries...)}
}

func (h History) MarshalJSON() ([]byte, error) {
	if h.entries == nil {
		return []byte("[]"), nil
	}
	return json.Marshal(h.entries)
}

func (h *History) UnmarshalJSON(data []byte) error {
	var entries []HistoryEntry
	if err := json.Unmarshal(data, &entries); err != nil {
		return err
	}
	*h = NewHistory(entries)
	return nil
}

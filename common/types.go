package common

import "time"

// ExportSink принимает значения для live view в фиксированном порядке
type ExportSink interface {
	Value(name string, value float64, unit string, precision int)
	Text(name, text string)
	Warning(name string, active bool)
	Alarm(name string, active bool)
}

// PublishSink принимает значения для шины сообщений (subtopic относительно базового топика)
type PublishSink interface {
	Publish(subtopic, payload string)
}

// EntryKind тип записи live view
type EntryKind string

const (
	EntryValue   EntryKind = "value"
	EntryText    EntryKind = "text"
	EntryWarning EntryKind = "warning"
	EntryAlarm   EntryKind = "alarm"
)

// LiveEntry одна запись live view
type LiveEntry struct {
	Kind      EntryKind `json:"kind"`
	Name      string    `json:"name"`
	Value     float64   `json:"v"`              // Числовое значение
	Unit      string    `json:"u,omitempty"`    // Единица измерения (например, "V")
	Precision int       `json:"d"`              // Количество знаков после запятой
	Text      string    `json:"text,omitempty"` // Текстовое значение
	Active    bool      `json:"active"`
}

// LiveView собирает записи в порядке поступления и реализует ExportSink
type LiveView struct {
	Kind      string      `json:"kind"`
	Valid     bool        `json:"valid"`
	Entries   []LiveEntry `json:"values"`
	Timestamp time.Time   `json:"timestamp"`
}

var _ ExportSink = (*LiveView)(nil)

func (l *LiveView) Value(name string, value float64, unit string, precision int) {
	l.Entries = append(l.Entries, LiveEntry{Kind: EntryValue, Name: name, Value: value, Unit: unit, Precision: precision})
}

func (l *LiveView) Text(name, text string) {
	l.Entries = append(l.Entries, LiveEntry{Kind: EntryText, Name: name, Text: text})
}

func (l *LiveView) Warning(name string, active bool) {
	l.Entries = append(l.Entries, LiveEntry{Kind: EntryWarning, Name: name, Active: active})
}

func (l *LiveView) Alarm(name string, active bool) {
	l.Entries = append(l.Entries, LiveEntry{Kind: EntryAlarm, Name: name, Active: active})
}

// Find возвращает запись по имени
func (l *LiveView) Find(name string) (LiveEntry, bool) {
	for _, e := range l.Entries {
		if e.Name == name {
			return e, true
		}
	}
	return LiveEntry{}, false
}

// Names возвращает имена записей в порядке экспорта
func (l *LiveView) Names() []string {
	names := make([]string, 0, len(l.Entries))
	for _, e := range l.Entries {
		names = append(names, e.Name)
	}
	return names
}

// Topics собирает публикации в памяти, реализует PublishSink
type Topics struct {
	Order  []string
	Values map[string]string
}

var _ PublishSink = (*Topics)(nil)

func (t *Topics) Publish(subtopic, payload string) {
	if t.Values == nil {
		t.Values = make(map[string]string)
	}
	t.Order = append(t.Order, subtopic)
	t.Values[subtopic] = payload
}

// Flush передает собранные публикации в sink в порядке поступления
func (t *Topics) Flush(sink PublishSink) {
	for _, subtopic := range t.Order {
		sink.Publish(subtopic, t.Values[subtopic])
	}
}

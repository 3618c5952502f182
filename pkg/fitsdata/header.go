package fitsdata

import (
	"strconv"
	"strings"
	"time"
)

// Card is a single header keyword. Value holds a string, bool, int or float64.
type Card struct {
	Key     string
	Value   interface{}
	Comment string
}

// Header is an ordered set of FITS header cards with case-insensitive lookup.
type Header struct {
	cards []Card
	index map[string]int
}

// NewHeader creates an empty Header.
func NewHeader() *Header {
	return &Header{index: make(map[string]int)}
}

// Set adds the card or replaces the value and comment of an existing one.
func (h *Header) Set(key string, value interface{}, comment string) {
	key = strings.ToUpper(strings.TrimSpace(key))
	if i, ok := h.index[key]; ok {
		h.cards[i].Value = value
		h.cards[i].Comment = comment
		return
	}
	h.index[key] = len(h.cards)
	h.cards = append(h.cards, Card{Key: key, Value: value, Comment: comment})
}

// Has reports whether key is present.
func (h *Header) Has(key string) bool {
	_, ok := h.index[strings.ToUpper(key)]
	return ok
}

// Get returns the raw card value.
func (h *Header) Get(key string) (interface{}, bool) {
	i, ok := h.index[strings.ToUpper(key)]
	if !ok {
		return nil, false
	}
	return h.cards[i].Value, true
}

// AddComment appends a COMMENT card. Commentary cards repeat and are not
// reachable through Get.
func (h *Header) AddComment(text string) { h.addCommentary("COMMENT", text) }

// AddHistory appends a HISTORY card.
func (h *Header) AddHistory(text string) { h.addCommentary("HISTORY", text) }

func (h *Header) addCommentary(key, text string) {
	h.cards = append(h.cards, Card{Key: key, Comment: text})
}

// Commentary returns the text of every COMMENT or HISTORY card named key.
func (h *Header) Commentary(key string) []string {
	key = strings.ToUpper(key)
	var out []string
	for _, c := range h.cards {
		if c.Key == key && isCommentary(c.Key) {
			out = append(out, c.Comment)
		}
	}
	return out
}

func isCommentary(key string) bool {
	return key == "COMMENT" || key == "HISTORY"
}

// Cards returns the cards in insertion order.
func (h *Header) Cards() []Card {
	out := make([]Card, len(h.cards))
	copy(out, h.cards)
	return out
}

func (h *Header) GetString(key string) string {
	v, ok := h.Get(key)
	if !ok {
		return ""
	}
	switch t := v.(type) {
	case string:
		return t
	case bool:
		if t {
			return "T"
		}
		return "F"
	case int:
		return strconv.Itoa(t)
	case float64:
		return strconv.FormatFloat(t, 'g', -1, 64)
	}
	return ""
}

func (h *Header) GetDouble(key string) (float64, bool) {
	v, ok := h.Get(key)
	if !ok {
		return 0, false
	}
	switch t := v.(type) {
	case float64:
		return t, true
	case int:
		return float64(t), true
	case string:
		d, err := strconv.ParseFloat(strings.TrimSpace(t), 64)
		if err != nil {
			return 0, false
		}
		return d, true
	}
	return 0, false
}

func (h *Header) GetInt(key string) (int, bool) {
	v, ok := h.Get(key)
	if !ok {
		return 0, false
	}
	switch t := v.(type) {
	case int:
		return t, true
	case float64:
		return int(t), true
	case string:
		i, err := strconv.Atoi(strings.TrimSpace(t))
		if err != nil {
			return 0, false
		}
		return i, true
	}
	return 0, false
}

func (h *Header) GetDateTime(key string) (time.Time, bool) {
	s := strings.TrimSpace(h.GetString(key))
	if s == "" {
		return time.Time{}, false
	}
	for _, layout := range []string{time.RFC3339, "2006-01-02T15:04:05.999999999", "2006-01-02"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// Convenience accessors for the keywords the pipeline steps read.
func (h *Header) ObjectName() string { return h.GetString("OBJECT") }
func (h *Header) Filter() string     { return h.GetString("FILTER") }

// Binning returns the XBIN keyword, defaulting to 1.
func (h *Header) Binning() int {
	if b, ok := h.GetInt("XBIN"); ok && b > 0 {
		return b
	}
	return 1
}

func (h *Header) ExposureTime() (float64, bool) {
	if v, ok := h.GetDouble("EXPTIME"); ok {
		return v, true
	}
	return h.GetDouble("EXPOSURE")
}

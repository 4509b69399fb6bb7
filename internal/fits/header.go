// Package fits implements the subset of the FITS container that PSRFITS
// archives need: keyword headers, a data-less primary HDU and binary table
// extensions whose rows are appended and flushed one at a time.
package fits

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
)

const (
	// BlockSize is the FITS logical record length
	BlockSize = 2880
	// CardSize is the length of one header keyword record
	CardSize = 80

	maxStringValue = 60
)

var (
	// ErrKeyNotFound is returned when a header lacks the requested keyword
	ErrKeyNotFound = errors.New("keyword not found")
	// ErrKeyType is returned when a keyword value has an unexpected type
	ErrKeyType = errors.New("keyword has wrong type")
)

// Card is a single header keyword record. Value is one of string, bool,
// int64, float64, or nil for commentary keywords.
type Card struct {
	Key     string
	Value   interface{}
	Comment string
}

// Header is an ordered list of cards, without the terminating END card
type Header struct {
	cards []Card
}

// NewHeader returns a header holding a copy of cards
func NewHeader(cards ...Card) *Header {
	h := &Header{cards: make([]Card, 0, len(cards))}
	for _, c := range cards {
		h.cards = append(h.cards, normalizeCard(c))
	}
	return h
}

// Cards returns the header cards in order
func (h *Header) Cards() []Card {
	return h.cards
}

// Len returns the number of cards
func (h *Header) Len() int {
	return len(h.cards)
}

// Get returns the first card with the given keyword
func (h *Header) Get(key string) (Card, bool) {
	if i := h.index(key); i >= 0 {
		return h.cards[i], true
	}
	return Card{}, false
}

// Has reports whether the keyword is present
func (h *Header) Has(key string) bool {
	return h.index(key) >= 0
}

// Set updates the value of an existing keyword, keeping its comment when
// comment is empty, or appends a new card.
func (h *Header) Set(key string, value interface{}, comment string) {
	c := normalizeCard(Card{Key: key, Value: value, Comment: comment})
	if i := h.index(c.Key); i >= 0 {
		if c.Comment == "" {
			c.Comment = h.cards[i].Comment
		}
		h.cards[i] = c
		return
	}
	h.cards = append(h.cards, c)
}

// Delete removes the first card with the given keyword
func (h *Header) Delete(key string) {
	if i := h.index(key); i >= 0 {
		h.cards = append(h.cards[:i], h.cards[i+1:]...)
	}
}

// String returns a string-valued keyword
func (h *Header) String(key string) (string, error) {
	c, ok := h.Get(key)
	if !ok {
		return "", fmt.Errorf("%s: %w", key, ErrKeyNotFound)
	}
	s, ok := c.Value.(string)
	if !ok {
		return "", fmt.Errorf("%s: %w (%T)", key, ErrKeyType, c.Value)
	}
	return s, nil
}

// Int returns an integer keyword. Floats with no fractional part are accepted.
func (h *Header) Int(key string) (int64, error) {
	c, ok := h.Get(key)
	if !ok {
		return 0, fmt.Errorf("%s: %w", key, ErrKeyNotFound)
	}
	switch v := c.Value.(type) {
	case int64:
		return v, nil
	case float64:
		if v == float64(int64(v)) {
			return int64(v), nil
		}
	}
	return 0, fmt.Errorf("%s: %w (%T)", key, ErrKeyType, c.Value)
}

// Float returns a numeric keyword as float64
func (h *Header) Float(key string) (float64, error) {
	c, ok := h.Get(key)
	if !ok {
		return 0, fmt.Errorf("%s: %w", key, ErrKeyNotFound)
	}
	switch v := c.Value.(type) {
	case float64:
		return v, nil
	case int64:
		return float64(v), nil
	}
	return 0, fmt.Errorf("%s: %w (%T)", key, ErrKeyType, c.Value)
}

// Bool returns a logical keyword
func (h *Header) Bool(key string) (bool, error) {
	c, ok := h.Get(key)
	if !ok {
		return false, fmt.Errorf("%s: %w", key, ErrKeyNotFound)
	}
	b, ok := c.Value.(bool)
	if !ok {
		return false, fmt.Errorf("%s: %w (%T)", key, ErrKeyType, c.Value)
	}
	return b, nil
}

func (h *Header) index(key string) int {
	key = strings.ToUpper(strings.TrimSpace(key))
	for i, c := range h.cards {
		if c.Key == key {
			return i
		}
	}
	return -1
}

func (h *Header) clone() *Header {
	return &Header{cards: append([]Card(nil), h.cards...)}
}

// normalizeCard upper-cases the keyword and widens Go numeric types to the
// two numeric representations the header keeps.
func normalizeCard(c Card) Card {
	c.Key = strings.ToUpper(strings.TrimSpace(c.Key))
	switch v := c.Value.(type) {
	case int:
		c.Value = int64(v)
	case int32:
		c.Value = int64(v)
	case uint32:
		c.Value = int64(v)
	case float32:
		c.Value = float64(v)
	}
	return c
}

// encodedSize returns the number of bytes the header occupies on disk
func (h *Header) encodedSize() int64 {
	return padded(int64(len(h.cards)+1) * CardSize)
}

// Encode renders the header, END card included, padded to a block boundary
func (h *Header) Encode() []byte {
	var buf bytes.Buffer
	for _, c := range h.cards {
		buf.WriteString(formatCard(c))
	}
	buf.WriteString(fmt.Sprintf("%-80s", "END"))
	for buf.Len()%BlockSize != 0 {
		buf.WriteByte(' ')
	}
	return buf.Bytes()
}

func formatCard(c Card) string {
	var s string
	switch v := c.Value.(type) {
	case nil:
		s = fmt.Sprintf("%-8s%s", c.Key, c.Comment)
		return fitCard(s)
	case string:
		if len(v) > maxStringValue {
			v = v[:maxStringValue]
		}
		quoted := "'" + strings.ReplaceAll(v, "'", "''")
		for len(quoted) < 9 {
			quoted += " "
		}
		quoted += "'"
		s = fmt.Sprintf("%-8s= %-20s", c.Key, quoted)
	case bool:
		t := "F"
		if v {
			t = "T"
		}
		s = fmt.Sprintf("%-8s= %20s", c.Key, t)
	case int64:
		s = fmt.Sprintf("%-8s= %20d", c.Key, v)
	case float64:
		s = fmt.Sprintf("%-8s= %20s", c.Key, formatFloat(v))
	default:
		s = fmt.Sprintf("%-8s= %20v", c.Key, v)
	}
	if c.Comment != "" {
		s += " / " + c.Comment
	}
	return fitCard(s)
}

func fitCard(s string) string {
	if len(s) > CardSize {
		return s[:CardSize]
	}
	return fmt.Sprintf("%-80s", s)
}

func formatFloat(v float64) string {
	s := strconv.FormatFloat(v, 'G', -1, 64)
	if !strings.ContainsAny(s, ".EN") {
		s += ".0"
	}
	return s
}

// readHeader consumes header blocks up to and including the one holding END
func readHeader(r io.Reader) (*Header, int64, error) {
	h := &Header{}
	block := make([]byte, BlockSize)
	var n int64
	for {
		if _, err := io.ReadFull(r, block); err != nil {
			if n == 0 && errors.Is(err, io.EOF) {
				return nil, 0, io.EOF
			}
			return nil, n, fmt.Errorf("read header block: %w", err)
		}
		n += BlockSize
		for i := 0; i < BlockSize; i += CardSize {
			card := string(block[i : i+CardSize])
			key := strings.TrimSpace(card[:8])
			if key == "END" {
				return h, n, nil
			}
			if key == "" && strings.TrimSpace(card) == "" {
				continue
			}
			c, err := parseCard(card)
			if err != nil {
				return nil, n, err
			}
			h.cards = append(h.cards, c)
		}
	}
}

func parseCard(card string) (Card, error) {
	c := Card{Key: strings.ToUpper(strings.TrimSpace(card[:8]))}
	if len(card) < 10 || card[8:10] != "= " {
		c.Comment = strings.TrimRight(card[8:], " ")
		return c, nil
	}
	rest := strings.TrimSpace(card[10:])
	if strings.HasPrefix(rest, "'") {
		var sb strings.Builder
		i := 1
		for i < len(rest) {
			if rest[i] == '\'' {
				if i+1 < len(rest) && rest[i+1] == '\'' {
					sb.WriteByte('\'')
					i += 2
					continue
				}
				break
			}
			sb.WriteByte(rest[i])
			i++
		}
		if i >= len(rest) {
			return c, fmt.Errorf("keyword %s: unterminated string", c.Key)
		}
		c.Value = strings.TrimRight(sb.String(), " ")
		c.Comment = commentOf(rest[i+1:])
		return c, nil
	}

	token := rest
	if slash := strings.IndexByte(rest, '/'); slash >= 0 {
		token = strings.TrimSpace(rest[:slash])
		c.Comment = strings.TrimSpace(rest[slash+1:])
	}
	switch {
	case token == "":
		c.Value = nil
	case token == "T":
		c.Value = true
	case token == "F":
		c.Value = false
	case strings.ContainsAny(token, ".EeDd"):
		f, err := strconv.ParseFloat(strings.NewReplacer("D", "E", "d", "e").Replace(token), 64)
		if err != nil {
			return c, fmt.Errorf("keyword %s: %w", c.Key, err)
		}
		c.Value = f
	default:
		i, err := strconv.ParseInt(token, 10, 64)
		if err != nil {
			return c, fmt.Errorf("keyword %s: %w", c.Key, err)
		}
		c.Value = i
	}
	return c, nil
}

func commentOf(s string) string {
	s = strings.TrimSpace(s)
	return strings.TrimSpace(strings.TrimPrefix(s, "/"))
}

func padded(n int64) int64 {
	if r := n % BlockSize; r != 0 {
		return n + BlockSize - r
	}
	return n
}

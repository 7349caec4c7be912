package audit

import (
	"bufio"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"
	"sync"
)

// KeySize is the HMAC key length in bytes.
const KeySize = 32

// ErrChainBroken is wrapped by every verification failure.
var ErrChainBroken = errors.New("audit chain broken")

// ChainError locates a verification failure.
type ChainError struct {
	Seq uint64
	Msg string
}

func (e *ChainError) Error() string {
	return fmt.Sprintf("audit chain broken at seq %d: %s", e.Seq, e.Msg)
}

func (e *ChainError) Is(target error) bool { return target == ErrChainBroken }

// Chainer assigns sequence numbers and HMAC links. Seal must be called in the
// order events are meant to appear in the chain.
type Chainer struct {
	mu   sync.Mutex
	key  []byte
	seq  uint64
	prev string
}

func NewChainer(key []byte) *Chainer {
	return &Chainer{key: append([]byte(nil), key...)}
}

// Seal sets ev.Chain to the next link.
func (c *Chainer) Seal(ev *Event) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	ev.Chain = Chain{Seq: c.seq + 1, PrevHash: c.prev}
	h, err := Sign(c.key, ev)
	if err != nil {
		return err
	}
	ev.Chain.Hash = h
	c.seq++
	c.prev = h
	return nil
}

// Seq is the sequence number of the last sealed event.
func (c *Chainer) Seq() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.seq
}

// Sign computes HMAC-SHA256 over prev_hash followed by the JSON encoding of ev
// with an empty chain hash.
func Sign(key []byte, ev *Event) (string, error) {
	cp := *ev
	cp.Chain.Hash = ""
	data, err := json.Marshal(&cp)
	if err != nil {
		return "", fmt.Errorf("encode event: %w", err)
	}
	mac := hmac.New(sha256.New, key)
	mac.Write([]byte(ev.Chain.PrevHash))
	mac.Write(data)
	return hex.EncodeToString(mac.Sum(nil)), nil
}

// Verify checks one chain segment. Events are ordered by seq; sequence numbers
// must be consecutive, each prev_hash must equal the previous hash, and every
// hash must match.
func Verify(events []*Event, key []byte) error {
	if len(events) == 0 {
		return nil
	}
	sorted := append([]*Event(nil), events...)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Chain.Seq < sorted[j].Chain.Seq })

	for i, ev := range sorted {
		seq := ev.Chain.Seq
		switch {
		case i == 0 && seq == 1 && ev.Chain.PrevHash != "":
			return &ChainError{Seq: seq, Msg: "first event has a previous hash"}
		case i > 0 && seq != sorted[i-1].Chain.Seq+1:
			return &ChainError{Seq: seq, Msg: fmt.Sprintf("expected seq %d", sorted[i-1].Chain.Seq+1)}
		case i > 0 && !hmac.Equal([]byte(ev.Chain.PrevHash), []byte(sorted[i-1].Chain.Hash)):
			return &ChainError{Seq: seq, Msg: "previous hash does not match"}
		}
		want, err := Sign(key, ev)
		if err != nil {
			return &ChainError{Seq: seq, Msg: err.Error()}
		}
		if !hmac.Equal([]byte(ev.Chain.Hash), []byte(want)) {
			return &ChainError{Seq: seq, Msg: "hash does not match"}
		}
	}
	return nil
}

// VerifySegments verifies events in their stored order. A seq of 1 starts a new
// segment (one per process run). It returns the number of events checked.
func VerifySegments(events []*Event, key []byte) (int, error) {
	n := 0
	start := 0
	for i := 1; i <= len(events); i++ {
		if i < len(events) && events[i].Chain.Seq != 1 {
			continue
		}
		if err := Verify(events[start:i], key); err != nil {
			return n, err
		}
		n += i - start
		start = i
	}
	return n, nil
}

// ReadFile decodes a JSONL audit file.
func ReadFile(path string) ([]*Event, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var out []*Event
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 64*1024), 16*1024*1024)
	line := 0
	for sc.Scan() {
		line++
		text := strings.TrimSpace(sc.Text())
		if text == "" {
			continue
		}
		var ev Event
		if err := json.Unmarshal([]byte(text), &ev); err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		out = append(out, &ev)
	}
	return out, sc.Err()
}

// VerifyFile verifies every segment of a JSONL audit file.
func VerifyFile(path string, key []byte) (int, error) {
	events, err := ReadFile(path)
	if err != nil {
		return 0, err
	}
	return VerifySegments(events, key)
}

// LoadKey reads a hex-encoded key from the environment variable env. When env is
// empty or unset a random key is generated and fromEnv is false.
func LoadKey(env string) (key []byte, fromEnv bool, err error) {
	if env != "" {
		if v := strings.TrimSpace(os.Getenv(env)); v != "" {
			key, err := ParseKey(v)
			if err != nil {
				return nil, false, fmt.Errorf("%s: %w", env, err)
			}
			return key, true, nil
		}
	}
	key = make([]byte, KeySize)
	if _, err := rand.Read(key); err != nil {
		return nil, false, fmt.Errorf("generate audit key: %w", err)
	}
	return key, false, nil
}

// ParseKey decodes a hex key of KeySize bytes.
func ParseKey(s string) ([]byte, error) {
	key, err := hex.DecodeString(strings.TrimSpace(s))
	if err != nil {
		return nil, fmt.Errorf("audit key is not hex: %w", err)
	}
	if len(key) != KeySize {
		return nil, fmt.Errorf("audit key must be %d bytes, got %d", KeySize, len(key))
	}
	return key, nil
}

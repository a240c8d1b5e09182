// Package id generates the sortable identifiers used for privacy requests,
// request tasks, sub-requests and execution log rows.
package id

import (
	"fmt"
	"math/rand"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

// Entity prefixes. Identifiers are "<prefix>_<ulid>" so they sort by creation time
// within one entity kind and are recognisable in logs.
const (
	PrivacyRequestPrefix = "pri"
	RequestTaskPrefix    = "rt"
	SubRequestPrefix     = "sr"
	ExecutionLogPrefix   = "log"
)

var (
	mutex   sync.Mutex
	entropy = ulid.Monotonic(rand.New(rand.NewSource(time.Now().UnixNano())), 0)
)

type ID struct {
	prefix string
	value  ulid.ULID
}

func NewFromTime(prefix string, t time.Time) (*ID, error) {
	mutex.Lock()
	defer mutex.Unlock()

	v, err := ulid.New(uint64(t.UnixMilli()), entropy)
	if err != nil {
		return nil, err
	}

	return &ID{prefix: prefix, value: v}, nil
}

func NewStringFromTime(prefix string, t time.Time) (string, error) {
	id, err := NewFromTime(prefix, t)
	if err != nil {
		return "", err
	}

	return id.String(), nil
}

func NewString(prefix string) (string, error) {
	return NewStringFromTime(prefix, time.Now())
}

// MustNewString is NewString that panics, for call sites where entropy exhaustion is fatal anyway.
func MustNewString(prefix string) string {
	s, err := NewString(prefix)
	if err != nil {
		panic(err)
	}
	return s
}

func Parse(s string) (*ID, error) {
	prefix, raw, ok := strings.Cut(s, "_")
	if !ok || prefix == "" {
		return nil, fmt.Errorf("id %q has no entity prefix", s)
	}

	v, err := ulid.ParseStrict(raw)
	if err != nil {
		return nil, err
	}

	return &ID{prefix: prefix, value: v}, nil
}

func IsValid(s string) bool {
	if _, err := Parse(s); err != nil {
		return false
	}
	return true
}

func (id *ID) Prefix() string {
	return id.prefix
}

func (id *ID) Time() time.Time {
	return ulid.Time(id.value.Time())
}

func (id *ID) String() string {
	return id.prefix + "_" + id.value.String()
}

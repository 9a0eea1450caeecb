package load

import (
	"fmt"

	"github.com/tidwall/gjson"
)

// SelectionPolicy decides which catalog item a VU inspects.
type SelectionPolicy string

const (
	// SelectRoundRobin picks index (vuID-1) mod N.
	SelectRoundRobin SelectionPolicy = "round-robin"
	// SelectRandom picks a uniformly random index.
	SelectRandom SelectionPolicy = "random"
)

// Validate checks the policy name.
func (p SelectionPolicy) Validate() error {
	switch p {
	case SelectRoundRobin, SelectRandom:
		return nil
	default:
		return fmt.Errorf("unknown selection policy %q", string(p))
	}
}

// Selector picks one id from a catalog page.
type Selector interface {
	Select(vuID int, ids []string) (string, bool)
}

// NewSelector returns the Selector for policy. rnd is only used by
// SelectRandom.
func NewSelector(policy SelectionPolicy, rnd Rand) Selector {
	if policy == SelectRandom {
		return randomSelector{rnd: rnd}
	}
	return roundRobinSelector{}
}

type roundRobinSelector struct{}

func (roundRobinSelector) Select(vuID int, ids []string) (string, bool) {
	if len(ids) == 0 {
		return "", false
	}
	idx := (vuID - 1) % len(ids)
	if idx < 0 {
		idx += len(ids)
	}
	id := ids[idx]
	return id, id != ""
}

type randomSelector struct {
	rnd Rand
}

func (s randomSelector) Select(_ int, ids []string) (string, bool) {
	if len(ids) == 0 {
		return "", false
	}
	id := ids[s.rnd.Intn(len(ids))]
	return id, id != ""
}

// itemIDKeys are tried in order on every catalog item.
var itemIDKeys = []string{"id", "uuid", "ulid", "slug", "code"}

// ExtractItemIDs returns the id of every item in a catalog body, keeping
// positions: an item without any id contributes "". The item list may be
// the body itself, its "data" field, or "data.data". Malformed bodies
// yield nil.
func ExtractItemIDs(body []byte) []string {
	if !gjson.ValidBytes(body) {
		return nil
	}

	root := gjson.ParseBytes(body)
	var list gjson.Result
	for _, candidate := range []gjson.Result{root, root.Get("data"), root.Get("data.data")} {
		if candidate.IsArray() {
			list = candidate
			break
		}
	}
	if !list.Exists() {
		return nil
	}

	items := list.Array()
	ids := make([]string, 0, len(items))
	for _, item := range items {
		ids = append(ids, itemID(item))
	}
	return ids
}

func itemID(item gjson.Result) string {
	if !item.IsObject() {
		return ""
	}
	for _, key := range itemIDKeys {
		v := item.Get(key)
		if !v.Exists() || v.Type == gjson.Null {
			continue
		}
		if s := v.String(); s != "" {
			return s
		}
	}
	return ""
}

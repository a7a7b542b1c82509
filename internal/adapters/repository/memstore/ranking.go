package memstore

import (
	"hash/fnv"

	"github.com/okian/pqa/internal/domain/model"
)

// Treap-based ranking of one organization's accounts.
//
// Ordering: score DESC, then accountID ASC (deterministic).
// "less" means ranks earlier, so in-order traversal yields the ranking
// from best to worst.

type node struct {
	id    string
	score int
	prio  uint64
	left  *node
	right *node
	size  int
}

func nsize(n *node) int {
	if n == nil {
		return 0
	}
	return n.size
}

func fix(n *node) {
	if n != nil {
		n.size = 1 + nsize(n.left) + nsize(n.right)
	}
}

// less returns true if (aScore, aID) ranks before (bScore, bID).
func less(aScore int, aID string, bScore int, bID string) bool {
	if aScore != bScore {
		return aScore > bScore
	}
	return aID < bID
}

// priority hashes the id so tree shape does not depend on insertion order.
func priority(id string) uint64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(id))
	return h.Sum64()
}

func rotateRight(y *node) *node {
	x := y.left
	y.left = x.right
	x.right = y
	fix(y)
	fix(x)
	return x
}

func rotateLeft(x *node) *node {
	y := x.right
	x.right = y.left
	y.left = x
	fix(x)
	fix(y)
	return y
}

func insert(n *node, id string, score int) *node {
	if n == nil {
		return &node{id: id, score: score, prio: priority(id), size: 1}
	}
	if less(score, id, n.score, n.id) {
		n.left = insert(n.left, id, score)
		if n.left.prio > n.prio {
			n = rotateRight(n)
		}
	} else {
		n.right = insert(n.right, id, score)
		if n.right.prio > n.prio {
			n = rotateLeft(n)
		}
	}
	fix(n)
	return n
}

func deleteNode(n *node, id string, score int) *node {
	if n == nil {
		return nil
	}
	switch {
	case score == n.score && id == n.id:
		if n.left == nil {
			return n.right
		}
		if n.right == nil {
			return n.left
		}
		if n.left.prio > n.right.prio {
			n = rotateRight(n)
			n.right = deleteNode(n.right, id, score)
		} else {
			n = rotateLeft(n)
			n.left = deleteNode(n.left, id, score)
		}
	case less(score, id, n.score, n.id):
		n.left = deleteNode(n.left, id, score)
	default:
		n.right = deleteNode(n.right, id, score)
	}
	fix(n)
	return n
}

// ranking orders account ids by score.
type ranking struct {
	root   *node
	scores map[string]int
}

func newRanking() *ranking {
	return &ranking{scores: make(map[string]int)}
}

// set places id at score, replacing any earlier position.
func (r *ranking) set(id string, score int) {
	if old, ok := r.scores[id]; ok {
		if old == score {
			return
		}
		r.root = deleteNode(r.root, id, old)
	}
	r.scores[id] = score
	r.root = insert(r.root, id, score)
}

func (r *ranking) len() int { return nsize(r.root) }

// top returns up to limit ids in rank order whose score falls in the tier,
// or all tiers when tier is nil.
func (r *ranking) top(limit int, tier *model.Tier, tierOf func(int) model.Tier) []string {
	out := make([]string, 0, min(limit, r.len()))
	var walk func(n *node)
	walk = func(n *node) {
		if n == nil || len(out) >= limit {
			return
		}
		walk(n.left)
		if len(out) < limit && (tier == nil || tierOf(n.score) == *tier) {
			out = append(out, n.id)
		}
		walk(n.right)
	}
	walk(r.root)
	return out
}

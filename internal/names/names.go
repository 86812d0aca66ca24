// Package names normalizes restaurant names across the mentions of one
// post. The extraction model routinely folds a dish name into the
// restaurant field ("Franklin Brisket" for restaurant "Franklin", dish
// "Brisket"); token-set comparison against the post's other mentions undoes
// that.
package names

import (
	"sort"
	"strings"

	"golang.org/x/text/cases"

	"morsel/internal/extraction"
)

var folder = cases.Fold()

// Tokenize lower-cases a name and splits it on runs of non-alphanumeric
// characters.
func Tokenize(name string) []string {
	folded := folder.String(name)
	return strings.FieldsFunc(folded, func(r rune) bool {
		return !isAlphanumeric(r)
	})
}

func isAlphanumeric(r rune) bool {
	return (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') || r > 127
}

// TokenSet returns the distinct tokens of a name.
func TokenSet(name string) map[string]struct{} {
	tokens := Tokenize(name)
	set := make(map[string]struct{}, len(tokens))
	for _, token := range tokens {
		set[token] = struct{}{}
	}
	return set
}

func setKey(set map[string]struct{}) string {
	tokens := make([]string, 0, len(set))
	for token := range set {
		tokens = append(tokens, token)
	}
	sort.Strings(tokens)
	return strings.Join(tokens, " ")
}

func isSubset(sub, super map[string]struct{}) bool {
	if len(sub) > len(super) {
		return false
	}
	for token := range sub {
		if _, ok := super[token]; !ok {
			return false
		}
	}
	return true
}

func isStrictSuperset(super, sub map[string]struct{}) bool {
	return len(super) > len(sub) && isSubset(sub, super)
}

// nameEntry aggregates one distinct restaurant token-set across a post's
// mentions.
type nameEntry struct {
	key     string
	display string
	tokens  map[string]struct{}
	count   int
	upvotes int
}

type nameTable struct {
	entries map[string]*nameEntry
}

func buildNameTable(mentions []extraction.Mention) *nameTable {
	table := &nameTable{entries: make(map[string]*nameEntry)}
	for i := range mentions {
		set := TokenSet(mentions[i].RestaurantName)
		if len(set) == 0 {
			continue
		}
		key := setKey(set)
		entry, ok := table.entries[key]
		if !ok {
			entry = &nameEntry{key: key, display: mentions[i].RestaurantName, tokens: set}
			table.entries[key] = entry
		}
		entry.count++
		entry.upvotes += mentions[i].AuthorUpvotes
	}
	return table
}

// bestSuperset returns the best entry whose tokens contain remainder,
// excluding the entry identified by excludeKey. Best means highest
// occurrence count, then highest cumulative upvotes, then the longest token
// set.
func (t *nameTable) bestSuperset(remainder map[string]struct{}, excludeKey string) *nameEntry {
	var best *nameEntry
	for _, entry := range t.entries {
		if entry.key == excludeKey {
			continue
		}
		if !isSubset(remainder, entry.tokens) {
			continue
		}
		if best == nil || betterEntry(entry, best) {
			best = entry
		}
	}
	return best
}

func betterEntry(a, b *nameEntry) bool {
	if a.count != b.count {
		return a.count > b.count
	}
	if a.upvotes != b.upvotes {
		return a.upvotes > b.upvotes
	}
	if len(a.tokens) != len(b.tokens) {
		return len(a.tokens) > len(b.tokens)
	}
	// Deterministic final order so repeated runs pick the same entry.
	return a.key < b.key
}

// Normalize rewrites restaurant names across one post's mentions. For each
// mention whose restaurant tokens overlap a dish's tokens, the dish tokens
// are stripped and the remainder matched against the post's other observed
// names; the mention's own dish is tried first, then every dish seen in
// sibling mentions. The pass is idempotent.
func Normalize(mentions []extraction.Mention) {
	if len(mentions) == 0 {
		return
	}
	table := buildNameTable(mentions)

	foodSets := make([]map[string]struct{}, 0, len(mentions))
	seenFood := make(map[string]struct{})
	for i := range mentions {
		set := TokenSet(mentions[i].FoodName)
		if len(set) == 0 {
			continue
		}
		key := setKey(set)
		if _, dup := seenFood[key]; dup {
			continue
		}
		seenFood[key] = struct{}{}
		foodSets = append(foodSets, set)
	}

	for i := range mentions {
		mention := &mentions[i]
		restSet := TokenSet(mention.RestaurantName)
		if len(restSet) == 0 {
			continue
		}
		restKey := setKey(restSet)

		if rewriteAgainst(mention, restSet, restKey, TokenSet(mention.FoodName), table) {
			continue
		}
		for _, foodSet := range foodSets {
			if rewriteAgainst(mention, restSet, restKey, foodSet, table) {
				break
			}
		}
	}
}

func rewriteAgainst(mention *extraction.Mention, restSet map[string]struct{}, restKey string, foodSet map[string]struct{}, table *nameTable) bool {
	if len(foodSet) == 0 {
		return false
	}
	shared := false
	remainder := make(map[string]struct{}, len(restSet))
	for token := range restSet {
		if _, ok := foodSet[token]; ok {
			shared = true
			continue
		}
		remainder[token] = struct{}{}
	}
	if !shared || len(remainder) == 0 {
		return false
	}
	best := table.bestSuperset(remainder, restKey)
	if best == nil {
		return false
	}
	mention.RestaurantName = best.display
	return true
}

// DropSelfReferential removes mentions whose restaurant name is nothing but
// their own dish tokens (the restaurant field collapsed into the food), as
// set-equality of restaurant tokens against dish plus category tokens. A
// mention survives when some other name in the post is a strict token
// superset of it, since a more specific name existing means the short form
// is a usable weak signal.
func DropSelfReferential(mentions []extraction.Mention) []extraction.Mention {
	if len(mentions) == 0 {
		return mentions
	}
	table := buildNameTable(mentions)

	kept := mentions[:0]
	for i := range mentions {
		mention := mentions[i]
		restSet := TokenSet(mention.RestaurantName)
		foodUnion := TokenSet(mention.FoodName)
		for _, category := range mention.FoodCategories {
			for _, token := range Tokenize(category) {
				foodUnion[token] = struct{}{}
			}
		}
		if len(restSet) == 0 || !sameSet(restSet, foodUnion) {
			kept = append(kept, mention)
			continue
		}
		supersetExists := false
		for _, entry := range table.entries {
			if isStrictSuperset(entry.tokens, restSet) {
				supersetExists = true
				break
			}
		}
		if supersetExists {
			kept = append(kept, mention)
		}
	}
	return kept
}

func sameSet(a, b map[string]struct{}) bool {
	if len(a) != len(b) {
		return false
	}
	for token := range a {
		if _, ok := b[token]; !ok {
			return false
		}
	}
	return true
}

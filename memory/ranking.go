package memory

import (
	"sort"
	"strings"
	"unicode"

	"github.com/BaSui01/taskmesh/types"
)

// rankedRecord pairs a candidate with its computed relevance signals.
type rankedRecord struct {
	record    *types.MemoryRecord
	tagHits   int
	tokenHits int
}

// rank orders candidates by relevance to the query and applies the limit.
// Ordering is fully deterministic: tag overlap desc, content token overlap
// desc, CreatedAt desc, id asc.
func rank(candidates []*types.MemoryRecord, query Query) []*types.MemoryRecord {
	queryTags := make(map[string]struct{}, len(query.Tags))
	for _, t := range query.Tags {
		queryTags[strings.ToLower(t)] = struct{}{}
	}
	queryTokens := tokenize(query.Text)

	ranked := make([]rankedRecord, 0, len(candidates))
	for _, r := range candidates {
		rr := rankedRecord{record: r}
		for _, tag := range r.Tags {
			if _, ok := queryTags[strings.ToLower(tag)]; ok {
				rr.tagHits++
			}
		}
		if len(queryTokens) > 0 {
			contentTokens := tokenize(r.Content)
			for tok := range queryTokens {
				if _, ok := contentTokens[tok]; ok {
					rr.tokenHits++
				}
			}
		}
		ranked = append(ranked, rr)
	}

	sort.Slice(ranked, func(i, j int) bool {
		a, b := ranked[i], ranked[j]
		if a.tagHits != b.tagHits {
			return a.tagHits > b.tagHits
		}
		if a.tokenHits != b.tokenHits {
			return a.tokenHits > b.tokenHits
		}
		if !a.record.CreatedAt.Equal(b.record.CreatedAt) {
			return a.record.CreatedAt.After(b.record.CreatedAt)
		}
		return a.record.ID < b.record.ID
	})

	out := make([]*types.MemoryRecord, 0, len(ranked))
	for _, rr := range ranked {
		out = append(out, rr.record)
	}
	if query.Limit > 0 && len(out) > query.Limit {
		out = out[:query.Limit]
	}
	return out
}

// tokenize lowercases text and splits it on non-alphanumeric runes,
// returning the set of distinct tokens.
func tokenize(text string) map[string]struct{} {
	if text == "" {
		return nil
	}
	fields := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	set := make(map[string]struct{}, len(fields))
	for _, f := range fields {
		set[f] = struct{}{}
	}
	return set
}

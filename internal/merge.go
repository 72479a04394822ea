package internal

import (
	"encoding/json"
	"sort"
	"strings"
)

// fieldReducer folds one field of src into dst. Reducers never touch
// fields other than their own, so the table below is the whole merge.
type fieldReducer func(dst, src *CanonicalRecord)

var mergeReducers = []struct {
	Name string
	Fn   fieldReducer
}{
	{"versions", reduceVersions},
	{"severity", reduceSeverity},
	{"aliases", reduceAliases},
	{"sources", reduceSources},
	{"behaviors", reduceBehaviors},
	{"source_details", reduceSourceDetails},
	{"cwes", reduceCWEs},
	{"references", reduceReferences},
	{"origins", reduceOrigins},
	{"description", reduceDescription},
	{"full_details", reduceFullDetails},
	{"first_seen", reduceFirstSeen},
	{"modified", reduceModified},
}

// unionStrings appends the members of src not already in dst, keeping
// first-seen order.
func unionStrings(dst, src []string) []string {
	seen := make(map[string]struct{}, len(dst))
	for _, v := range dst {
		seen[v] = struct{}{}
	}
	for _, v := range src {
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		dst = append(dst, v)
	}
	return dst
}

func reduceVersions(dst, src *CanonicalRecord) {
	dst.Versions = unionStrings(dst.Versions, src.Versions)
}

func reduceAliases(dst, src *CanonicalRecord) {
	dst.Aliases = unionStrings(dst.Aliases, src.Aliases)
}

func reduceSources(dst, src *CanonicalRecord) {
	dst.Sources = unionStrings(dst.Sources, src.Sources)
}

func reduceBehaviors(dst, src *CanonicalRecord) {
	dst.DetectedBehaviors = unionStrings(dst.DetectedBehaviors, src.DetectedBehaviors)
}

// reduceSeverity keeps the higher-ranked level. Equal rank keeps what is
// already there, so severity never decreases across a fold.
func reduceSeverity(dst, src *CanonicalRecord) {
	if SeverityRank(src.Severity) > SeverityRank(dst.Severity) {
		dst.Severity = src.Severity
	}
}

// reduceSourceDetails is last writer wins per source key.
func reduceSourceDetails(dst, src *CanonicalRecord) {
	if len(src.SourceDetails) == 0 {
		return
	}
	if dst.SourceDetails == nil {
		dst.SourceDetails = make(map[string]json.RawMessage, len(src.SourceDetails))
	}
	for k, v := range src.SourceDetails {
		dst.SourceDetails[k] = v
	}
}

// reduceCWEs keys on CWE id, last writer wins on a conflicting name.
func reduceCWEs(dst, src *CanonicalRecord) {
	idx := make(map[string]int, len(dst.CWEs))
	for i, c := range dst.CWEs {
		idx[c.ID] = i
	}
	for _, c := range src.CWEs {
		if i, ok := idx[c.ID]; ok {
			dst.CWEs[i] = c
			continue
		}
		idx[c.ID] = len(dst.CWEs)
		dst.CWEs = append(dst.CWEs, c)
	}
}

// reduceReferences keys on URL, last writer wins on the ref type.
func reduceReferences(dst, src *CanonicalRecord) {
	idx := make(map[string]int, len(dst.References))
	for i, r := range dst.References {
		idx[r.URL] = i
	}
	for _, r := range src.References {
		if i, ok := idx[r.URL]; ok {
			dst.References[i] = r
			continue
		}
		idx[r.URL] = len(dst.References)
		dst.References = append(dst.References, r)
	}
}

// reduceOrigins appends everything. Origins are the audit trail, so even
// repeated contributions from the same feed stay.
func reduceOrigins(dst, src *CanonicalRecord) {
	dst.Origins = append(dst.Origins, src.Origins...)
}

func reduceDescription(dst, src *CanonicalRecord) {
	if dst.Description == "" {
		dst.Description = src.Description
	}
}

func reduceFullDetails(dst, src *CanonicalRecord) {
	if len(src.FullDetails) > len(dst.FullDetails) {
		dst.FullDetails = src.FullDetails
	}
}

func reduceFirstSeen(dst, src *CanonicalRecord) {
	if dst.FirstSeen == "" {
		dst.FirstSeen = src.FirstSeen
	}
}

// reduceModified keeps the lexicographically greater timestamp. Feed
// timestamps are ISO-8601, so byte order is time order.
func reduceModified(dst, src *CanonicalRecord) {
	if src.Modified > dst.Modified {
		dst.Modified = src.Modified
	}
}

// cloneRecord copies the fold base so reducers never mutate slices the
// caller still owns.
func cloneRecord(r *CanonicalRecord) CanonicalRecord {
	out := *r
	out.Versions = append([]string(nil), r.Versions...)
	out.Aliases = append([]string(nil), r.Aliases...)
	out.Sources = append([]string(nil), r.Sources...)
	out.DetectedBehaviors = append([]string(nil), r.DetectedBehaviors...)
	out.CWEs = append([]CWE(nil), r.CWEs...)
	out.References = append([]Reference(nil), r.References...)
	out.Origins = append([]Origin(nil), r.Origins...)
	if r.SourceDetails != nil {
		out.SourceDetails = make(map[string]json.RawMessage, len(r.SourceDetails))
		for k, v := range r.SourceDetails {
			out.SourceDetails[k] = v
		}
	}
	return out
}

func mergePair(dst, src *CanonicalRecord) {
	for _, r := range mergeReducers {
		r.Fn(dst, src)
	}
}

// MergeEcosystem folds records that share a normalized name into one
// canonical record each and returns the results sorted by lower(name).
// Groups of one pass through untouched.
func MergeEcosystem(records []CanonicalRecord) []CanonicalRecord {
	groups := make(map[string][]*CanonicalRecord)
	var order []string
	for i := range records {
		key := records[i].NormalizedName()
		if key == "" {
			continue
		}
		if _, ok := groups[key]; !ok {
			order = append(order, key)
		}
		groups[key] = append(groups[key], &records[i])
	}

	out := make([]CanonicalRecord, 0, len(order))
	for _, key := range order {
		group := groups[key]
		if len(group) == 1 {
			out = append(out, *group[0])
			continue
		}
		merged := cloneRecord(group[0])
		for _, src := range group[1:] {
			mergePair(&merged, src)
		}
		out = append(out, merged)
	}

	sort.Slice(out, func(i, j int) bool {
		return strings.ToLower(out[i].Name) < strings.ToLower(out[j].Name)
	})
	return out
}

// MergeAll buckets records by canonical ecosystem, dropping anything
// that does not normalize, then merges each bucket. Every known
// ecosystem appears in the result even when its bucket is empty, so the
// store builder emits an index file for all of them.
func MergeAll(records []CanonicalRecord) map[string][]CanonicalRecord {
	buckets := make(map[string][]CanonicalRecord, len(Ecosystems))
	for _, e := range Ecosystems {
		buckets[e] = nil
	}
	for _, r := range records {
		eco, ok := NormalizeEcosystem(r.Ecosystem)
		if !ok {
			continue
		}
		r.Ecosystem = eco
		buckets[eco] = append(buckets[eco], r)
	}
	for eco, recs := range buckets {
		buckets[eco] = MergeEcosystem(recs)
	}
	return buckets
}

package rag

import (
	"math"
	"sort"
	"strings"
	"unicode"
)

// SparseVector is a TF-IDF vector stored as parallel index/value slices,
// ordered by ascending index.
type SparseVector struct {
	Indices []int
	Values  []float64
}

// Norm returns the vector's L2 norm.
func (v SparseVector) Norm() float64 {
	var sum float64
	for _, x := range v.Values {
		sum += x * x
	}
	return math.Sqrt(sum)
}

// Dot computes the inner product of two index-ordered sparse vectors.
func Dot(a, b SparseVector) float64 {
	var sum float64
	i, j := 0, 0
	for i < len(a.Indices) && j < len(b.Indices) {
		switch {
		case a.Indices[i] == b.Indices[j]:
			sum += a.Values[i] * b.Values[j]
			i++
			j++
		case a.Indices[i] < b.Indices[j]:
			i++
		default:
			j++
		}
	}
	return sum
}

// Vectorizer learns a TF-IDF vocabulary over unigrams and bigrams with
// sublinear term-frequency scaling and a capped vocabulary.
type Vectorizer struct {
	maxFeatures int
	vocabulary  map[string]int
	idf         []float64
	fitted      bool
}

// NewVectorizer returns an unfitted vectorizer with the given vocabulary cap.
func NewVectorizer(maxFeatures int) *Vectorizer {
	return &Vectorizer{maxFeatures: maxFeatures}
}

// MaxFeatures returns the configured vocabulary cap.
func (v *Vectorizer) MaxFeatures() int { return v.maxFeatures }

// Fitted reports whether Fit has been called with a non-empty corpus.
func (v *Vectorizer) Fitted() bool { return v.fitted }

// Fit learns the vocabulary and IDF weights from the corpus. Terms are kept
// by descending corpus frequency (ties broken lexicographically) up to the
// vocabulary cap; IDF uses smoothed document frequencies.
func (v *Vectorizer) Fit(texts []string) {
	totalCounts := make(map[string]int)
	docFreq := make(map[string]int)

	for _, text := range texts {
		terms := analyze(text)
		seen := make(map[string]struct{}, len(terms))
		for _, term := range terms {
			totalCounts[term]++
			if _, ok := seen[term]; !ok {
				seen[term] = struct{}{}
				docFreq[term]++
			}
		}
	}

	type termCount struct {
		term  string
		count int
	}
	ranked := make([]termCount, 0, len(totalCounts))
	for term, count := range totalCounts {
		ranked = append(ranked, termCount{term, count})
	}
	sort.Slice(ranked, func(i, j int) bool {
		if ranked[i].count != ranked[j].count {
			return ranked[i].count > ranked[j].count
		}
		return ranked[i].term < ranked[j].term
	})
	if v.maxFeatures > 0 && len(ranked) > v.maxFeatures {
		ranked = ranked[:v.maxFeatures]
	}

	// Columns are assigned in lexicographic term order.
	kept := make([]string, len(ranked))
	for i, tc := range ranked {
		kept[i] = tc.term
	}
	sort.Strings(kept)

	v.vocabulary = make(map[string]int, len(kept))
	v.idf = make([]float64, len(kept))
	n := float64(len(texts))
	for col, term := range kept {
		v.vocabulary[term] = col
		v.idf[col] = math.Log((1+n)/(1+float64(docFreq[term]))) + 1
	}
	v.fitted = len(kept) > 0
}

// Transform maps text into an L2-normalized TF-IDF vector over the fitted
// vocabulary. Text with no in-vocabulary terms yields a zero vector.
func (v *Vectorizer) Transform(text string) SparseVector {
	if !v.fitted {
		return SparseVector{}
	}

	counts := make(map[int]int)
	for _, term := range analyze(text) {
		if col, ok := v.vocabulary[term]; ok {
			counts[col]++
		}
	}
	if len(counts) == 0 {
		return SparseVector{}
	}

	vec := SparseVector{
		Indices: make([]int, 0, len(counts)),
		Values:  make([]float64, 0, len(counts)),
	}
	for col := range counts {
		vec.Indices = append(vec.Indices, col)
	}
	sort.Ints(vec.Indices)
	for _, col := range vec.Indices {
		tf := 1 + math.Log(float64(counts[col]))
		vec.Values = append(vec.Values, tf*v.idf[col])
	}

	if norm := vec.Norm(); norm > 0 {
		for i := range vec.Values {
			vec.Values[i] /= norm
		}
	}
	return vec
}

// analyze tokenizes text into lowercased word tokens of two or more
// characters, drops stop words, and appends bigrams of adjacent kept tokens.
func analyze(text string) []string {
	tokens := tokenize(text)

	kept := tokens[:0]
	for _, tok := range tokens {
		if _, stop := englishStopWords[tok]; !stop {
			kept = append(kept, tok)
		}
	}

	terms := make([]string, 0, len(kept)*2)
	terms = append(terms, kept...)
	for i := 0; i+1 < len(kept); i++ {
		terms = append(terms, kept[i]+" "+kept[i+1])
	}
	return terms
}

func tokenize(text string) []string {
	var tokens []string
	var sb strings.Builder
	flush := func() {
		if sb.Len() >= 2 {
			tokens = append(tokens, sb.String())
		}
		sb.Reset()
	}
	for _, r := range strings.ToLower(text) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) || r == '_' {
			sb.WriteRune(r)
		} else {
			flush()
		}
	}
	flush()
	return tokens
}

package rag

import "sort"

// DocumentType distinguishes curated knowledge from uploaded reports.
type DocumentType string

const (
	TypeKnowledgeBase DocumentType = "knowledge_base"
	TypeUserReport    DocumentType = "user_report"
)

// Document is the retrieval unit.
type Document struct {
	ID      string       `json:"id"`
	Topic   string       `json:"topic"`
	Source  string       `json:"source"`
	Content string       `json:"content"`
	Type    DocumentType `json:"type"`
}

// Hit is one retrieval result. Hits are ordered by descending score, ties
// broken by document insertion order.
type Hit struct {
	DocID   string       `json:"id"`
	Topic   string       `json:"topic"`
	Source  string       `json:"source"`
	Content string       `json:"content"`
	Score   float64      `json:"score"`
	Type    DocumentType `json:"type"`
}

// Index is an immutable snapshot: documents, the fitted vectorizer, and one
// unit-norm row per document. Rebuilds construct a fresh Index and swap it
// in; readers keep using the snapshot they hold.
type Index struct {
	docs       []Document
	vectorizer *Vectorizer
	rows       []SparseVector
	built      bool
}

// BuildIndex fits a vectorizer over the documents and vectorizes each one.
// Document text is the topic and content joined as "topic. content".
func BuildIndex(docs []Document, maxFeatures int) *Index {
	ix := &Index{docs: docs, vectorizer: NewVectorizer(maxFeatures)}
	if len(docs) == 0 {
		return ix
	}

	texts := make([]string, len(docs))
	for i, d := range docs {
		texts[i] = d.Topic + ". " + d.Content
	}
	ix.vectorizer.Fit(texts)
	if !ix.vectorizer.Fitted() {
		return ix
	}

	ix.rows = make([]SparseVector, len(texts))
	for i, text := range texts {
		ix.rows[i] = ix.vectorizer.Transform(text)
	}
	ix.built = true
	return ix
}

// Built reports whether the index holds a searchable matrix.
func (ix *Index) Built() bool { return ix.built }

// Len returns the number of indexed documents.
func (ix *Index) Len() int { return len(ix.docs) }

// Search returns the top-k documents by cosine similarity to the query.
// A query with no in-vocabulary terms matches nothing.
func (ix *Index) Search(query string, topK int) []Hit {
	if !ix.built || topK <= 0 {
		return nil
	}

	qvec := ix.vectorizer.Transform(query)
	if len(qvec.Indices) == 0 {
		return nil
	}

	type scored struct {
		idx   int
		score float64
	}
	scores := make([]scored, len(ix.rows))
	for i, row := range ix.rows {
		scores[i] = scored{idx: i, score: Dot(qvec, row)}
	}
	sort.SliceStable(scores, func(i, j int) bool {
		if scores[i].score != scores[j].score {
			return scores[i].score > scores[j].score
		}
		return scores[i].idx < scores[j].idx
	})

	if topK > len(scores) {
		topK = len(scores)
	}
	hits := make([]Hit, 0, topK)
	for _, s := range scores[:topK] {
		doc := ix.docs[s.idx]
		hits = append(hits, Hit{
			DocID:   doc.ID,
			Topic:   doc.Topic,
			Source:  doc.Source,
			Content: doc.Content,
			Score:   s.score,
			Type:    doc.Type,
		})
	}
	return hits
}

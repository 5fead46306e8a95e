// Package classifier provides the on-device symptom triage model: TF-IDF
// features over the shared vectorizer and a multinomial logistic regression
// trained at construction on a bundled symptom corpus. Runs entirely locally.
package classifier

import (
	"math"
	"sort"

	"github.com/rs/zerolog/log"

	"github.com/medorby/medorby/internal/rag"
)

// maxFeatures caps the classifier vocabulary. Smaller than the retrieval
// vocabulary; the corpus is tiny.
const maxFeatures = 2048

const (
	trainEpochs = 800
	learnRate   = 0.5
)

// ClassProbability pairs a human-readable category label with its predicted
// probability.
type ClassProbability struct {
	Label       string  `json:"label"`
	Probability float64 `json:"probability"`
}

// Classification is the structured prediction for a symptom description.
// Probabilities cover every category in descending order.
type Classification struct {
	Category      string             `json:"category"`
	Label         string             `json:"label"`
	Severity      string             `json:"severity"`
	Confidence    float64            `json:"confidence"`
	Description   string             `json:"description"`
	Action        string             `json:"action"`
	Probabilities []ClassProbability `json:"probabilities"`
}

// Classifier is a trained multinomial logistic regression over TF-IDF
// features. Immutable after New; safe for concurrent use.
type Classifier struct {
	vectorizer *rag.Vectorizer
	classes    []string
	weights    [][]float64
	biases     []float64
}

// New fits the vectorizer and trains the model on the bundled corpus.
// Training is deterministic: fixed example order, full-batch gradient
// descent, no random initialization.
func New() *Classifier {
	texts := make([]string, len(trainingCorpus))
	labels := make([]string, len(trainingCorpus))
	for i, ex := range trainingCorpus {
		texts[i] = ex.text
		labels[i] = ex.label
	}

	v := rag.NewVectorizer(maxFeatures)
	v.Fit(texts)

	samples := make([]rag.SparseVector, len(texts))
	for i, t := range texts {
		samples[i] = v.Transform(t)
	}

	classes := uniqueSorted(labels)
	classIndex := make(map[string]int, len(classes))
	for i, c := range classes {
		classIndex[c] = i
	}
	targets := make([]int, len(labels))
	for i, l := range labels {
		targets[i] = classIndex[l]
	}

	c := &Classifier{
		vectorizer: v,
		classes:    classes,
		weights:    make([][]float64, len(classes)),
		biases:     make([]float64, len(classes)),
	}
	dim := featureDim(samples)
	for k := range c.weights {
		c.weights[k] = make([]float64, dim)
	}
	c.train(samples, targets)

	log.Info().
		Str("component", "classifier").
		Int("examples", len(texts)).
		Int("categories", len(classes)).
		Msg("Trained symptom classifier")
	return c
}

// train runs full-batch gradient descent on the weighted multinomial
// cross-entropy with L2 regularization. Class weights are balanced:
// n / (k * count_c), so minority classes are not drowned out.
func (c *Classifier) train(samples []rag.SparseVector, targets []int) {
	n := len(samples)
	k := len(c.classes)
	if n == 0 || k == 0 {
		return
	}

	counts := make([]int, k)
	for _, t := range targets {
		counts[t]++
	}
	sampleWeight := make([]float64, n)
	var totalWeight float64
	for i, t := range targets {
		sampleWeight[i] = float64(n) / (float64(k) * float64(counts[t]))
		totalWeight += sampleWeight[i]
	}
	l2 := 1.0 / float64(n)

	dim := len(c.weights[0])
	gradW := make([][]float64, k)
	for j := range gradW {
		gradW[j] = make([]float64, dim)
	}
	gradB := make([]float64, k)

	for epoch := 0; epoch < trainEpochs; epoch++ {
		for j := range gradW {
			clear(gradW[j])
		}
		clear(gradB)

		for i, x := range samples {
			probs := c.softmax(c.logits(x))
			for cls := 0; cls < k; cls++ {
				err := probs[cls]
				if cls == targets[i] {
					err -= 1
				}
				err *= sampleWeight[i]
				gradB[cls] += err
				for p, col := range x.Indices {
					gradW[cls][col] += err * x.Values[p]
				}
			}
		}

		step := learnRate / totalWeight
		for cls := 0; cls < k; cls++ {
			c.biases[cls] -= step * gradB[cls]
			w := c.weights[cls]
			for col := range w {
				w[col] -= step*gradW[cls][col] + learnRate*l2*w[col]
			}
		}
	}
}

func (c *Classifier) logits(x rag.SparseVector) []float64 {
	out := make([]float64, len(c.classes))
	for cls := range c.classes {
		z := c.biases[cls]
		w := c.weights[cls]
		for p, col := range x.Indices {
			if col < len(w) {
				z += w[col] * x.Values[p]
			}
		}
		out[cls] = z
	}
	return out
}

func (c *Classifier) softmax(logits []float64) []float64 {
	maxZ := logits[0]
	for _, z := range logits[1:] {
		if z > maxZ {
			maxZ = z
		}
	}
	out := make([]float64, len(logits))
	var sum float64
	for i, z := range logits {
		out[i] = math.Exp(z - maxZ)
		sum += out[i]
	}
	for i := range out {
		out[i] /= sum
	}
	return out
}

// Predict classifies a symptom description. It never fails: text with no
// recognized terms falls back to the bias-only distribution.
func (c *Classifier) Predict(text string) Classification {
	probs := c.softmax(c.logits(c.vectorizer.Transform(text)))

	order := make([]int, len(c.classes))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool {
		if probs[order[a]] != probs[order[b]] {
			return probs[order[a]] > probs[order[b]]
		}
		return c.classes[order[a]] < c.classes[order[b]]
	})

	top := order[0]
	category := c.classes[top]
	info := categoryInfo[category]

	ranked := make([]ClassProbability, len(order))
	for i, cls := range order {
		label := c.classes[cls]
		if ci, ok := categoryInfo[label]; ok {
			label = ci.Label
		}
		ranked[i] = ClassProbability{Label: label, Probability: probs[cls]}
	}

	return Classification{
		Category:      category,
		Label:         info.Label,
		Severity:      info.Severity,
		Confidence:    math.Round(probs[top]*1000) / 1000,
		Description:   info.Description,
		Action:        info.Action,
		Probabilities: ranked,
	}
}

// Categories returns the trained category names in model order.
func (c *Classifier) Categories() []string {
	out := make([]string, len(c.classes))
	copy(out, c.classes)
	return out
}

func uniqueSorted(labels []string) []string {
	seen := make(map[string]struct{}, len(labels))
	var out []string
	for _, l := range labels {
		if _, ok := seen[l]; !ok {
			seen[l] = struct{}{}
			out = append(out, l)
		}
	}
	sort.Strings(out)
	return out
}

func featureDim(samples []rag.SparseVector) int {
	dim := 0
	for _, s := range samples {
		if n := len(s.Indices); n > 0 && s.Indices[n-1]+1 > dim {
			dim = s.Indices[n-1] + 1
		}
	}
	return dim
}

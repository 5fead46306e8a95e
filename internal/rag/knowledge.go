package rag

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// knowledgeEntry is the on-disk shape of one curated document. Operator
// files under the knowledge directory hold JSON arrays of these.
type knowledgeEntry struct {
	ID      string `json:"id"`
	Topic   string `json:"topic"`
	Source  string `json:"source"`
	Content string `json:"content"`
}

// loadKnowledge reads every *.json file in the knowledge directory. Files
// that fail to parse are logged and skipped. When the directory yields no
// documents at all, the embedded default corpus is used instead so retrieval
// works out of the box.
func (e *Engine) loadKnowledge() []Document {
	var docs []Document

	files, err := filepath.Glob(filepath.Join(e.knowledgeDir, "*.json"))
	if err == nil {
		// Glob output is sorted, which keeps document order stable
		// across rebuilds.
		for _, file := range files {
			entries, err := readKnowledgeFile(file)
			if err != nil {
				e.logger.Warn().Err(err).Str("file", file).Msg("Skipping unreadable knowledge file")
				continue
			}
			stem := strings.TrimSuffix(filepath.Base(file), filepath.Ext(file))
			for _, entry := range entries {
				doc := Document{
					ID:      entry.ID,
					Topic:   entry.Topic,
					Source:  entry.Source,
					Content: entry.Content,
					Type:    TypeKnowledgeBase,
				}
				if doc.ID == "" {
					doc.ID = fmt.Sprintf("kb_%d", len(docs))
				}
				if doc.Source == "" {
					doc.Source = stem
				}
				docs = append(docs, doc)
			}
		}
	}

	if len(docs) == 0 {
		return defaultKnowledge()
	}
	return docs
}

func readKnowledgeFile(path string) ([]knowledgeEntry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var entries []knowledgeEntry
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("parse %s: %w", filepath.Base(path), err)
	}
	return entries, nil
}

// defaultKnowledge is the embedded cardiac-focused corpus used when no
// operator knowledge files are present.
func defaultKnowledge() []Document {
	return []Document{
		{
			ID:     "kb_default_0",
			Topic:  "Acute coronary syndrome warning signs",
			Source: "embedded",
			Content: "Crushing or squeezing chest pain lasting more than a few minutes, " +
				"pain radiating to the left arm, jaw, or back, shortness of breath, " +
				"diaphoresis, and nausea together suggest acute coronary syndrome. " +
				"Time to reperfusion determines outcome; emergency evaluation with ECG " +
				"and troponin is indicated immediately.",
			Type: TypeKnowledgeBase,
		},
		{
			ID:     "kb_default_1",
			Topic:  "Stable angina versus unstable angina",
			Source: "embedded",
			Content: "Stable angina is exertional chest discomfort relieved by rest or " +
				"nitroglycerin within minutes, with a predictable pattern. Unstable angina " +
				"is new-onset pain, pain at rest, or an accelerating pattern, and is " +
				"treated as an emergency because it often precedes myocardial infarction.",
			Type: TypeKnowledgeBase,
		},
		{
			ID:     "kb_default_2",
			Topic:  "Heart failure symptoms and monitoring",
			Source: "embedded",
			Content: "Progressive exertional dyspnea, orthopnea, paroxysmal nocturnal " +
				"dyspnea, ankle edema, and rapid weight gain point to decompensating heart " +
				"failure. Daily weights, sodium restriction, and early medication review " +
				"reduce hospitalization risk.",
			Type: TypeKnowledgeBase,
		},
		{
			ID:     "kb_default_3",
			Topic:  "Atrial fibrillation and palpitations",
			Source: "embedded",
			Content: "An irregularly irregular pulse with palpitations, lightheadedness, or " +
				"reduced exercise tolerance suggests atrial fibrillation. Stroke risk " +
				"assessment with CHA2DS2-VASc scoring and rate or rhythm control are the " +
				"mainstays of management; syncope or chest pain warrants urgent review.",
			Type: TypeKnowledgeBase,
		},
		{
			ID:     "kb_default_4",
			Topic:  "Hypertension thresholds and follow-up",
			Source: "embedded",
			Content: "Repeated readings at or above 140/90 mmHg define stage 2 hypertension. " +
				"Readings above 180/120 mmHg with headache, visual change, chest pain, or " +
				"breathlessness indicate hypertensive emergency and require immediate care. " +
				"Home monitoring and lifestyle modification precede drug escalation.",
			Type: TypeKnowledgeBase,
		},
		{
			ID:     "kb_default_5",
			Topic:  "Cardiovascular risk factors",
			Source: "embedded",
			Content: "Smoking, diabetes, elevated LDL cholesterol, hypertension, obesity, " +
				"sedentary lifestyle, and a family history of premature coronary disease " +
				"compound multiplicatively. Risk calculators guide statin and aspirin " +
				"decisions; smoking cessation yields the largest single reduction.",
			Type: TypeKnowledgeBase,
		},
		{
			ID:     "kb_default_6",
			Topic:  "Pericarditis and pleuritic chest pain",
			Source: "embedded",
			Content: "Sharp chest pain that worsens when lying flat and improves when " +
				"leaning forward, often with a friction rub, suggests pericarditis rather " +
				"than ischemia. Pain that varies with breathing or chest-wall palpation " +
				"points away from coronary causes but still merits ECG evaluation.",
			Type: TypeKnowledgeBase,
		},
		{
			ID:     "kb_default_7",
			Topic:  "Non-cardiac mimics of chest pain",
			Source: "embedded",
			Content: "Gastroesophageal reflux, costochondritis, panic attacks, and " +
				"musculoskeletal strain commonly mimic cardiac pain. Burning pain after " +
				"meals relieved by antacids, reproducible chest-wall tenderness, or pain " +
				"tied to specific movements favor these diagnoses, but risk factors and " +
				"atypical presentations justify a low threshold for cardiac workup.",
			Type: TypeKnowledgeBase,
		},
	}
}
